package pcmio

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Timer wraps a monotonic, close-on-exec, non-blocking timerfd armed for
// absolute expiry (spec.md §4.1 Open: "allocates a monotonic,
// close-on-exec, non-blocking timer FD").
type Timer struct {
	fd int
}

// NewTimer creates an unarmed timerfd.
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("pcmio: timerfd_create: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// Fd returns the underlying timerfd, for epoll registration.
func (t *Timer) Fd() int { return t.fd }

// Close releases the timerfd.
func (t *Timer) Close() error { return unix.Close(t.fd) }

// ArmAbsolute schedules the next expiry at the given absolute monotonic
// nanosecond timestamp (spec.md §4.2 step 6: "arm the timer for absolute
// expiry at next_time").
func (t *Timer) ArmAbsolute(nsec int64) error {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(nsec),
	}
	return unix.TimerfdSettime(t.fd, unix.TFD_TIMER_ABSTIME, &spec, nil)
}

// Disarm cancels any pending expiry. timerfd_settime disarms the timer
// when it_value is all-zero, so an empty ItimerSpec is sufficient.
func (t *Timer) Disarm() error {
	return unix.TimerfdSettime(t.fd, unix.TFD_TIMER_ABSTIME, &unix.ItimerSpec{}, nil)
}

// Drain reads and discards the timerfd's expiration counter (spec.md
// §4.2 step 1: "drain the timerfd expiration counter"). Returns the
// number of expirations since the last drain; 0 with ok=false means the
// read would have blocked (EAGAIN) and the caller should treat it as a
// spurious wakeup.
func (t *Timer) Drain() (uint64, bool, error) {
	var buf [8]byte
	n, err := unix.Read(t.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, false, nil
		}
		return 0, false, err
	}
	if n != 8 {
		return 0, false, fmt.Errorf("pcmio: short timerfd read: %d bytes", n)
	}
	// The kernel writes the expiration count as a native-endian uint64; on
	// every Linux target this daemon runs on that's little-endian.
	count := binary.LittleEndian.Uint64(buf[:])
	return count, true, nil
}

// nowMonotonicNsec samples CLOCK_MONOTONIC (spec.md §4.2 step 2).
func nowMonotonicNsec() int64 {
	var ts unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Nano()
}
