// Package loopctl implements loop_invoke: the one cross-domain messaging
// primitive spec.md §5 allows between the main loop and a data loop,
// posting a function onto the target's queue and optionally blocking
// until it has run.
package loopctl

import (
	"golang.org/x/sys/unix"
)

// call is one queued cross-domain invocation.
type call struct {
	fn   func(data any) any
	data any
	done chan any // nil for async calls
}

// Queue is the per-loop inbox loop_invoke posts onto. The owning loop
// must Drain it every time its wakeup fd becomes readable (spec.md §5
// Suspension points: "the data loop suspends only on timerfd read" — the
// wakeup fd is an additional, always-present suspension point alongside
// the timerfd, the same pattern internal/busserver uses for its own
// internal wakeup fd).
type Queue struct {
	calls  chan call
	wakeFd int
}

// NewQueue creates a Queue backed by a non-blocking eventfd the owning
// loop can add to its poll/epoll set.
func NewQueue() (*Queue, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &Queue{calls: make(chan call, 64), wakeFd: fd}, nil
}

// WakeFd returns the eventfd to register for readability.
func (q *Queue) WakeFd() int { return q.wakeFd }

// Close releases the wakeup eventfd.
func (q *Queue) Close() error { return unix.Close(q.wakeFd) }

func (q *Queue) post(c call) {
	q.calls <- c
	var one [8]byte
	one[7] = 1
	unix.Write(q.wakeFd, one[:])
}

// Drain reads and discards the eventfd counter, then runs every queued
// call in FIFO order. Must only be called from the owning loop's
// goroutine (spec.md §5: "neither loop suspends inside a message
// dispatch" — Drain runs calls to completion one at a time, synchronously).
func (q *Queue) Drain() {
	var buf [8]byte
	unix.Read(q.wakeFd, buf[:])

	for {
		select {
		case c := <-q.calls:
			result := c.fn(c.data)
			if c.done != nil {
				c.done <- result
			}
		default:
			return
		}
	}
}

// Invoke implements loop_invoke(target_loop, fn, data, async): posts fn
// onto target's queue. If async is false, Invoke blocks until fn has run
// on target's loop and returns its result; if true, it returns
// immediately with a nil result.
func Invoke(target *Queue, fn func(data any) any, data any, async bool) any {
	if async {
		target.post(call{fn: fn, data: data})
		return nil
	}

	done := make(chan any, 1)
	target.post(call{fn: fn, data: data, done: done})
	return <-done
}
