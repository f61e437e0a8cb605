// Package buffer implements the frame-container lifecycle shared between
// the producer/consumer side of the graph and the timer-driven I/O loop:
// a fixed-size memory region with a header and data descriptor, living on
// exactly one of two intrusive queues (free, ready) or checked out to the
// device. See spec.md §3 Buffer, §4.3 Buffer lifecycle.
package buffer

import "time"

// Header carries per-buffer timing metadata, stamped by whichever side
// produces the buffer (spec.md §3 Buffer).
type Header struct {
	SeqNum    uint64
	PTS       time.Time
	DTSOffset time.Duration
}

// Descriptor locates the valid region of a Buffer's backing storage, in
// frames: Offset is the index of the first valid frame, Size is how many
// frames are valid, MaxSize is the capacity of the backing storage (used
// for circular-wrap arithmetic), Stride is the byte width of one frame.
type Descriptor struct {
	Offset  int
	Size    int
	MaxSize int
	Stride  int
}

// Buffer is one fixed-size frame container. Data holds MaxSize*Stride
// bytes of backing storage; Desc locates the currently valid region
// within it. Outbound marks a playback buffer that has been (or is being)
// consumed by the device, per spec.md Invariant 1 — a buffer must be on
// exactly one list or checked out, never both, never neither.
type Buffer struct {
	Header
	ID       uint64 // stable within the owning Pool, used to address the single-slot Inbox
	Desc     Descriptor
	Data     []byte
	Outbound bool

	next *Buffer // intrusive queue link; nil when not enqueued.
}

// NewBuffer allocates a Buffer with a MaxSize-frame, Stride-byte-per-frame
// backing region.
func NewBuffer(maxSize, stride int) *Buffer {
	return &Buffer{
		Desc: Descriptor{MaxSize: maxSize, Stride: stride},
		Data: make([]byte, maxSize*stride),
	}
}

// Split computes the two contiguous byte ranges ("l0", then wrapped "l1")
// needed to copy `frames` frames starting at circular index `index` within
// a MaxSize-frame ring, per spec.md §4.2 "honouring the chunk's circular
// wrap via offs = index % maxsize and the two-copy split (l0, l1)".
type Split struct {
	Offs0, Len0 int // first run: frame offset and frame count
	Offs1, Len1 int // wrapped remainder (frame offset and frame count), Len1 may be 0
}

func ComputeSplit(index, frames, maxSize int) Split {
	offs := index % maxSize
	if offs+frames <= maxSize {
		return Split{Offs0: offs, Len0: frames}
	}
	first := maxSize - offs
	return Split{Offs0: offs, Len0: first, Offs1: 0, Len1: frames - first}
}

// List is an intrusive FIFO queue of Buffers (spec.md §3 Buffer lifecycle:
// free, ready). It is not safe for concurrent use without an external
// lock — the data loop and the main loop never touch the same List
// without going through the cross-domain messaging of internal/loopctl.
type List struct {
	head, tail *Buffer
	length     int
}

// Len returns the number of buffers currently enqueued.
func (l *List) Len() int { return l.length }

// Empty reports whether the list has no buffers.
func (l *List) Empty() bool { return l.head == nil }

// PushBack appends b to the tail of the list. b must not already be
// enqueued on any list.
func (l *List) PushBack(b *Buffer) {
	b.next = nil
	if l.tail == nil {
		l.head, l.tail = b, b
	} else {
		l.tail.next = b
		l.tail = b
	}
	l.length++
}

// PopFront removes and returns the head of the list, or nil if empty.
func (l *List) PopFront() *Buffer {
	b := l.head
	if b == nil {
		return nil
	}
	l.head = b.next
	if l.head == nil {
		l.tail = nil
	}
	b.next = nil
	l.length--
	return b
}

// Front returns the head of the list without removing it, or nil if empty.
func (l *List) Front() *Buffer {
	return l.head
}

// Each calls fn for every buffer in the list, head to tail. fn must not
// mutate the list.
func (l *List) Each(fn func(*Buffer)) {
	for b := l.head; b != nil; b = b.next {
		fn(b)
	}
}
