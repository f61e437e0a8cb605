package pcmio

import (
	"syscall"
	"time"

	"github.com/kg-audio/huskyd/internal/buffer"
	"github.com/kg-audio/huskyd/internal/dll"
)

// Safety and Extra are the small fixed-point latency fudge factors
// spec.md §4.4 step 2/4 names without pinning down a value (original
// pipewire derives them from quantum/graph latency, which sits outside
// this daemon's scope per SPEC_FULL.md §5 Non-goals). Zero is a
// conservative default: no extra slack is added or subtracted, which
// degrades gracefully to "schedule exactly on the observed phase error."
var (
	DefaultSafetySeconds = 0.0
	DefaultExtraSeconds  = 0.0
)

// Loop drives one device direction's timer-triggered transfer cycle:
// playback-timeout or capture-timeout, sharing the six-step pattern of
// spec.md §4.2.
type Loop struct {
	dev   *Device
	timer *Timer
	pool  *buffer.Pool
	clock dll.DLL

	playback  bool
	threshold int // frames; spec.md §4.2 early-wakeup / transfer sizing

	sampleCount int64 // spec.md §4.1 Open: sample_count, monotonically increasing
	lastTickNs  int64

	Slaved   bool
	SlaveRef SlaveRef

	Safety, Extra float64

	// OnConsumed fires when a playback ready-queue buffer is fully
	// drained (spec.md §4.2 Playback transfer: "notify the consumer
	// callback to reuse it").
	OnConsumed func(id uint64)
	// OnReady fires when a capture buffer has been filled and queued
	// (spec.md §4.2 Capture transfer: "invoke the ready callback").
	OnReady func()
	// OnXrun fires after a successful xrun recovery (spec.md §7), for
	// diagnostic dumping (internal/diag) from the owning loop's goroutine.
	OnXrun func()

	paused bool

	Published Clock
}

// NewLoop constructs a Loop over an already SetFormat-configured Device
// and its buffer Pool. threshold is the period-sized transfer quantum
// (frames).
func NewLoop(dev *Device, pool *buffer.Pool, playback bool, threshold int) (*Loop, error) {
	t, err := NewTimer()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		dev:       dev,
		timer:     t,
		pool:      pool,
		playback:  playback,
		threshold: threshold,
		Safety:    DefaultSafetySeconds,
		Extra:     DefaultExtraSeconds,
	}
	l.clock = *dll.New(dll.BWMax)
	return l, nil
}

// TimerFd exposes the underlying timerfd for epoll registration.
func (l *Loop) TimerFd() int { return l.timer.Fd() }

// Close releases the loop's timer (the Device and Pool are owned by the
// caller).
func (l *Loop) Close() error { return l.timer.Close() }

// ArmInitial arms the timer for an immediate first wakeup, kicking off
// the priming cycle.
func (l *Loop) ArmInitial() error { return l.timer.ArmAbsolute(nowMonotonicNsec()) }

// Clock exposes the loop's DLL for diagnostic snapshotting (internal/diag).
// Only the owning loop's goroutine may call Update/MaybeLowerBandwidth/
// Reset on it; a diag dump only reads the accessor methods, which is safe
// from the loop's own HandleTimeout call chain (internal/loopctl.Invoke
// routes any cross-goroutine access through the owning loop instead).
func (l *Loop) Clock() *dll.DLL { return &l.clock }

// Pause disarms the timer, suspending transfer ticks until Resume (spec.md
// §5: "used by the main loop to stop/start the data loop's timer watch").
// Must only be called from the loop's own goroutine, e.g. via
// internal/loopctl.Invoke.
func (l *Loop) Pause() error {
	l.paused = true
	return l.timer.Disarm()
}

// Resume re-arms the timer for an immediate wakeup, undoing Pause. Must
// only be called from the loop's own goroutine.
func (l *Loop) Resume() error {
	l.paused = false
	return l.timer.ArmAbsolute(nowMonotonicNsec())
}

// Paused reports whether the loop's timer is currently disarmed.
func (l *Loop) Paused() bool { return l.paused }

// HandleTimeout implements spec.md §4.2's shared six-step pattern for
// whichever direction this Loop was constructed for.
func (l *Loop) HandleTimeout() error {
	if _, ok, err := l.timer.Drain(); err != nil {
		return err
	} else if !ok {
		return nil // spurious wakeup (EAGAIN); nothing expired
	}

	now := nowMonotonicNsec()

	avail, err := l.dev.Avail()
	if err != nil {
		if rerr := l.recoverFromXrun(err); rerr != nil {
			return rerr
		}
		return l.timer.ArmAbsolute(now)
	}

	if early, rescheduleAt := l.earlyWakeup(now, avail); early {
		return l.timer.ArmAbsolute(rescheduleAt)
	}

	nextTime := l.tickDLL(now, avail)

	if l.playback {
		if err := l.playbackTransfer(now); err != nil {
			return err
		}
	} else {
		if err := l.captureTransfer(now, avail); err != nil {
			return err
		}
	}

	if l.Slaved {
		return nil // an external owner reschedules a slaved loop's timer
	}
	return l.timer.ArmAbsolute(nextTime)
}

func (l *Loop) recoverFromXrun(err error) error {
	// The negative ALSA return code isn't threaded through Avail's error
	// today; treat every Avail failure as xrun-class, matching spec.md §7
	// "always recover via ALSA recover" regardless of the specific errno.
	if rerr := l.dev.Recover(-int(syscall.EPIPE)); rerr != nil {
		return rerr
	}
	l.clock = *dll.New(dll.BWMax)
	if err := l.reprime(); err != nil {
		return err
	}
	if l.OnXrun != nil {
		l.OnXrun()
	}
	return nil
}

// reprime re-fills the ring after a recovery: capture restarts from
// empty, playback re-fills with 2*threshold frames including silence
// (spec.md §7).
func (l *Loop) reprime() error {
	if err := l.dev.Drop(); err != nil {
		return err
	}
	if err := l.dev.Prepare(); err != nil {
		return err
	}
	if l.playback {
		area, err := l.dev.MmapBegin(2 * l.threshold)
		if err != nil {
			return err
		}
		for i := range area.Data {
			area.Data[i] = 0
		}
		if _, err := l.dev.MmapCommit(len(area.Data) / l.dev.FrameBytes); err != nil {
			return err
		}
	}
	return l.dev.Start()
}

// earlyWakeup implements spec.md §4.2 Early wakeup rule.
func (l *Loop) earlyWakeup(now int64, avail int) (bool, int64) {
	rate := int64(l.dev.Rate)
	if rate == 0 {
		return false, now
	}
	if l.playback {
		buffered := l.dev.BufferFrames - avail
		if buffered >= 2*l.threshold {
			delayFrames := int64(l.threshold / 2)
			return true, now + delayFrames*1_000_000_000/rate
		}
		return false, now
	}
	if avail < l.threshold {
		needed := int64(l.threshold - avail)
		return true, now + needed*1_000_000_000/rate
	}
	return false, now
}

// tickDLL implements spec.md §4.4's per-tick DLL update and returns the
// absolute next_time_nsec the timer should be armed for.
func (l *Loop) tickDLL(now int64, avail int) int64 {
	rate := float64(l.dev.Rate)
	if rate == 0 {
		rate = DefaultRate
	}

	delay := int64(l.dev.BufferFrames - avail)
	var sdelay int64
	if l.playback {
		// Slaved playback alignment (spec.md §4.2): once the device has
		// accumulated more than 2*threshold frames of queued latency,
		// shed it by rewinding the hardware pointer back threshold
		// frames rather than letting the backlog grow unbounded.
		if l.Slaved && delay > int64(2*l.threshold) {
			if n, err := l.dev.Rewind(l.threshold); err == nil {
				delay -= int64(n)
			}
		}
		sdelay = -delay
	} else {
		elapsed := now - l.lastTickNs
		elapsedFrames := int64(float64(elapsed) * rate / 1e9)
		sdelay = delay - elapsedFrames
	}

	if l.Slaved {
		now = l.SlaveRef.Master() * 1_000_000_000 / int64(rate)
	}

	tw := float64(now)*1e-9 - float64(sdelay)/rate - l.Safety

	windowSec := float64(l.threshold) / rate
	if l.lastTickNs != 0 {
		windowSec = float64(now-l.lastTickNs) * 1e-9
		if windowSec <= 0 {
			windowSec = float64(l.threshold) / rate
		}
	}

	twPrime := l.clock.Update(tw, windowSec)
	nextTimeNsec := int64((twPrime + l.Extra - l.Safety) * 1e9)

	// Settle measurement uses the raw observed tw, not the just-updated
	// twPrime: twPrime is pinned to tw by construction on a stable input,
	// so comparing it against the filter's own smoothed base would never
	// cross the settle threshold (internal/dll.DLL.MaybeLowerBandwidth
	// compares against a fixed settle origin instead of the moving base
	// for exactly this reason).
	l.clock.MaybeLowerBandwidth(tw)

	l.lastTickNs = now
	l.Published = Clock{
		Nsec:     now,
		Rate:     l.dev.Rate,
		Position: l.sampleCount,
		Delay:    delay,
		RateDiff: l.clock.Dt(),
	}

	return nextTimeNsec
}

// playbackTransfer implements spec.md §4.2 Playback transfer.
func (l *Loop) playbackTransfer(now int64) error {
	for {
		area, err := l.dev.MmapBegin(l.dev.BufferFrames)
		if err != nil {
			return err
		}
		remainingFrames := len(area.Data) / l.dev.FrameBytes
		writeOffsetFrames := 0
		progressed := false

		for remainingFrames > 0 && !l.pool.Ready.Empty() {
			b := l.pool.Ready.Front()
			availInBuffer := b.Desc.Size
			n := availInBuffer
			if n > remainingFrames {
				n = remainingFrames
			}
			if n <= 0 {
				break
			}

			split := buffer.ComputeSplit(b.Desc.Offset, n, b.Desc.MaxSize)
			dstOff := writeOffsetFrames * l.dev.FrameBytes
			copy(area.Data[dstOff:], b.Data[split.Offs0*b.Desc.Stride:(split.Offs0+split.Len0)*b.Desc.Stride])
			if split.Len1 > 0 {
				copy(area.Data[dstOff+split.Len0*l.dev.FrameBytes:], b.Data[split.Offs1*b.Desc.Stride:(split.Offs1+split.Len1)*b.Desc.Stride])
			}

			b.Desc.Offset = (b.Desc.Offset + n) % b.Desc.MaxSize
			b.Desc.Size -= n
			writeOffsetFrames += n
			remainingFrames -= n
			progressed = true

			if b.Desc.Size == 0 {
				b.Outbound = true
				drained := l.pool.Ready.PopFront()
				l.pool.CheckIn(drained)
				l.pool.Free.PushBack(drained)
				if l.OnConsumed != nil {
					l.OnConsumed(drained.ID)
				}
				if l.pool.Ready.Empty() {
					l.pool.Inbox.RequestBuffer()
				}
			}
		}

		if remainingFrames > 0 {
			silOff := writeOffsetFrames * l.dev.FrameBytes
			for i := silOff; i < len(area.Data); i++ {
				area.Data[i] = 0
			}
		}

		if _, err := l.dev.MmapCommit(len(area.Data) / l.dev.FrameBytes); err != nil {
			return err
		}
		l.sampleCount += int64(writeOffsetFrames)

		if err := l.dev.Start(); err != nil {
			return err
		}

		if !progressed || l.pool.Ready.Empty() {
			break
		}
	}
	return nil
}

// captureTransfer implements spec.md §4.2 Capture transfer.
func (l *Loop) captureTransfer(now int64, avail int) error {
	toRead := avail
	if toRead > l.threshold {
		toRead = l.threshold
	}

	for toRead > 0 {
		area, err := l.dev.MmapBegin(toRead)
		if err != nil {
			return err
		}
		frames := len(area.Data) / l.dev.FrameBytes

		b := l.pool.Free.PopFront()
		if b == nil {
			if _, err := l.dev.MmapCommit(frames); err != nil {
				return err
			}
			break
		}

		b.Header.SeqNum = uint64(l.sampleCount)
		b.Header.PTS = time.Unix(0, now) // now is CLOCK_MONOTONIC nsec, per spec.md §4.2 step 2
		b.Desc.Offset = 0
		b.Desc.Size = frames
		copy(b.Data, area.Data[:frames*b.Desc.Stride])

		if l.pool.Inbox.State() == buffer.StateOK {
			if !l.pool.Inbox.Publish(b.ID) {
				l.pool.Ready.PushBack(b)
			} else {
				l.pool.CheckOut(b)
			}
		} else {
			l.pool.Ready.PushBack(b)
		}

		if l.OnReady != nil {
			l.OnReady()
		}

		if _, err := l.dev.MmapCommit(frames); err != nil {
			return err
		}
		l.sampleCount += int64(frames)
		toRead -= frames
		if frames == 0 {
			break
		}
	}
	return nil
}
