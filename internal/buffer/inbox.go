package buffer

import "sync"

// InboxState is the single-slot consumer inbox's state, per spec.md §4.3:
// the data loop and its consumer rendezvous through exactly one of OK (idle),
// HaveBuffer (a produced buffer is waiting to be claimed) or NeedBuffer
// (the consumer is starved and must supply one).
type InboxState int

const (
	StateOK InboxState = iota
	StateHaveBuffer
	StateNeedBuffer
)

// Inbox is the single-slot rendezvous between the timer-driven I/O loop
// and its producer/consumer, guarded by a mutex since the two sides run
// in different execution domains (spec.md §5).
type Inbox struct {
	mu    sync.Mutex
	state InboxState
	id    uint64 // valid iff state == StateHaveBuffer
}

// State returns the current inbox state.
func (b *Inbox) State() InboxState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Publish transitions an empty inbox to HaveBuffer carrying id. Returns
// false if the inbox was not empty (spec.md §4.3: "else the buffer goes
// on the ready list" — the caller must fall back to enqueueing).
func (b *Inbox) Publish(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOK {
		return false
	}
	b.state = StateHaveBuffer
	b.id = id
	return true
}

// Claim consumes a HaveBuffer inbox, returning its id and resetting the
// inbox to OK. Returns false if nothing was waiting.
func (b *Inbox) Claim() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateHaveBuffer {
		return 0, false
	}
	b.state = StateOK
	return b.id, true
}

// RequestBuffer transitions the inbox to NeedBuffer — playback signalling
// that its ready queue just emptied (spec.md §4.3).
func (b *Inbox) RequestBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateNeedBuffer
}

// ClearNeed resets a NeedBuffer inbox back to OK once the producer has
// supplied more data.
func (b *Inbox) ClearNeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateNeedBuffer {
		b.state = StateOK
	}
}
