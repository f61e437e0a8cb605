package buffer

import "fmt"

// Direction distinguishes playback (device consumes buffers) from capture
// (device produces them), spec.md §3 Device state.
type Direction int

const (
	Playback Direction = iota
	Capture
)

// Pool owns the full set of buffers for one device direction and the two
// queues they circulate through. It enforces spec.md Invariant 1: every
// buffer is on exactly one of Free/Ready or checked out to the device
// (tracked via checkedOut), never both, never neither.
type Pool struct {
	dir        Direction
	all        []*Buffer
	byID       map[uint64]*Buffer
	Free       List
	Ready      List
	Inbox      Inbox
	checkedOut map[*Buffer]bool
}

// NewPool allocates n buffers of maxSize frames at stride bytes/frame and
// returns an (unstarted) pool. Call Start to populate the queues.
func NewPool(dir Direction, n, maxSize, stride int) *Pool {
	p := &Pool{dir: dir, checkedOut: make(map[*Buffer]bool), byID: make(map[uint64]*Buffer, n)}
	for i := 0; i < n; i++ {
		b := NewBuffer(maxSize, stride)
		b.ID = uint64(i)
		p.all = append(p.all, b)
		p.byID[b.ID] = b
	}
	return p
}

// ByID resolves a buffer previously published through the Inbox back to
// its *Buffer, for the consumer side of the single-slot rendezvous.
func (p *Pool) ByID(id uint64) (*Buffer, bool) {
	b, ok := p.byID[id]
	return b, ok
}

// Start (re)initialises the free/ready lists for a fresh start…pause
// epoch, per spec.md §4.3: for playback every buffer starts marked
// outbound (the consumer fills them via Free), for capture every buffer
// starts on Free (the device fills them). Start is idempotent and must
// only be called outside of active transfer — calling it mid-transfer is
// undefined per spec.md §4.3.
func (p *Pool) Start() {
	p.Free = List{}
	p.Ready = List{}
	p.checkedOut = make(map[*Buffer]bool)
	for _, b := range p.all {
		b.Outbound = p.dir == Playback
		p.Free.PushBack(b)
	}
}

// CheckOut marks b as held by the device, so invariant bookkeeping can
// tell the difference between "on a list" and "in flight". It does not
// unlink b from a queue: the caller must already have popped it.
func (p *Pool) CheckOut(b *Buffer) {
	p.checkedOut[b] = true
}

// CheckIn releases a previously checked-out buffer back to the caller's
// choice of queue (Free or Ready) via one of their PushBack methods; this
// just clears the checked-out bookkeeping.
func (p *Pool) CheckIn(b *Buffer) {
	delete(p.checkedOut, b)
}

// CheckInvariant verifies spec.md Invariant 1 and the §8 testable property
// |free| + |ready| + |in-flight| == n_buffers. Intended for tests and
// debug assertions, not the hot path.
func (p *Pool) CheckInvariant() error {
	total := p.Free.Len() + p.Ready.Len() + len(p.checkedOut)
	if total != len(p.all) {
		return fmt.Errorf("buffer: invariant violated: free=%d ready=%d inflight=%d want total=%d",
			p.Free.Len(), p.Ready.Len(), len(p.checkedOut), len(p.all))
	}
	seen := make(map[*Buffer]int, len(p.all))
	p.Free.Each(func(b *Buffer) { seen[b]++ })
	p.Ready.Each(func(b *Buffer) { seen[b]++ })
	for b := range p.checkedOut {
		seen[b]++
	}
	for _, b := range p.all {
		if seen[b] != 1 {
			return fmt.Errorf("buffer: invariant violated: buffer seen %d times, want 1", seen[b])
		}
	}
	return nil
}

// NumBuffers returns the total number of buffers owned by the pool.
func (p *Pool) NumBuffers() int { return len(p.all) }

// Occupancy reports the same free/ready/in-flight triple CheckInvariant
// checks against NumBuffers, for diagnostic snapshotting (internal/diag).
func (p *Pool) Occupancy() (free, ready, inFlight int) {
	return p.Free.Len(), p.Ready.Len(), len(p.checkedOut)
}
