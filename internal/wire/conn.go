package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrAgain signals a flush that would block — the caller must arm
// IO_OUT-style write readiness and retry later (spec.md §4.5 Write path).
var ErrAgain = errors.New("wire: write would block")

// maxFdsPerFrame bounds the ancillary SCM_RIGHTS space reserved per recv,
// matching the teacher's fixed-size buffer allocation style.
const maxFdsPerFrame = 28

// Conn is one framed, buffered, fd-passing connection over a UNIX domain
// stream socket. It is not safe for concurrent use from more than one
// reader and one writer goroutine simultaneously (mirrors the single main
// loop owning all client sockets, spec.md §5).
type Conn struct {
	fd int

	readBuf    []byte // raw bytes received but not yet decoded into a frame
	pendingFds []int  // fds received via SCM_RIGHTS, FIFO against readBuf

	writeBuf  bytes.Buffer // encoded, not-yet-flushed frames
	writeFds  []int        // fds queued to ride out with writeBuf
	nextSeq   uint32
	needFlush bool
}

// NewConn wraps an already-connected, already-accepted socket fd. The Conn
// takes ownership of fd and will close it in Close.
func NewConn(fd int) *Conn {
	return &Conn{fd: fd}
}

// Fd returns the underlying socket file descriptor, for registering with
// a poll/epoll set.
func (c *Conn) Fd() int { return c.fd }

// Close releases the connection's socket. Any fds still queued for write
// (added but never flushed) are closed here too, so ownership never leaks
// (spec.md §4.5 FD passing, §9 FD ownership).
func (c *Conn) Close() error {
	for _, fd := range c.writeFds {
		unix.Close(fd)
	}
	c.writeFds = nil
	return unix.Close(c.fd)
}

// --- Read path --------------------------------------------------------

// Next returns the next complete frame buffered from previous reads, or
// (nil, nil) if none is buffered and the caller should call FillFromSocket
// first. The returned Frame (and its Payload/Fds slices) is only valid
// until the next call to Next (spec.md §4.5: "must not retain the yielded
// frame past the next call").
func (c *Conn) Next() (*Frame, error) {
	if len(c.readBuf) < HeaderSize {
		return nil, nil
	}
	h := decodeHeader(c.readBuf)
	total := HeaderSize + int(h.Size)
	if len(c.readBuf) < total {
		return nil, nil
	}
	raw := c.readBuf[HeaderSize:total]
	c.readBuf = c.readBuf[total:]

	if len(raw) < 4 {
		return nil, fmt.Errorf("wire: frame payload too short for fd-count prefix")
	}
	nfds := int(binary.LittleEndian.Uint32(raw[0:4]))
	payload := raw[4:]

	if nfds > len(c.pendingFds) {
		return nil, fmt.Errorf("wire: frame references %d fds but only %d available", nfds, len(c.pendingFds))
	}
	var fds []int
	if nfds > 0 {
		fds = c.pendingFds[:nfds]
		c.pendingFds = c.pendingFds[nfds:]
	}

	return &Frame{Header: h, Payload: payload, Fds: fds}, nil
}

// GetFd retrieves the fd at `index` within a frame's ancillary set,
// transferring ownership to the caller, who must close it (spec.md §4.5
// FD passing: "received fds are owned by the recipient").
func (f *Frame) GetFd(index int) (int, error) {
	if index < 0 || index >= len(f.Fds) {
		return -1, fmt.Errorf("wire: fd index %d out of range (have %d)", index, len(f.Fds))
	}
	return f.Fds[index], nil
}

// FillFromSocket performs one Recvmsg (blocking only if the socket is in
// blocking mode; on a non-blocking socket with nothing to read it returns
// EAGAIN), appending any bytes and fds received to the connection's
// internal buffers. Returns the number
// of bytes received; 0 with a nil error means an orderly peer shutdown.
func (c *Conn) FillFromSocket() (int, error) {
	buf := make([]byte, 64*1024)
	oob := make([]byte, unix.CmsgSpace(maxFdsPerFrame*4))

	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, 0)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.readBuf = append(c.readBuf, buf[:n]...)
	}
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, scm := range scms {
				rights, err := unix.ParseUnixRights(&scm)
				if err == nil {
					c.pendingFds = append(c.pendingFds, rights...)
				}
			}
		}
	}
	return n, nil
}

// --- Write path --------------------------------------------------------

// Builder accumulates one outgoing frame's payload before it is finalised
// by Conn.End (spec.md §4.5 Write path: begin/end).
type Builder struct {
	id, opcode uint32
	payload    bytes.Buffer
	fds        []int
}

// Begin opens a builder for a frame targeting resource id, method/event
// opcode.
func (c *Conn) Begin(id, opcode uint32) *Builder {
	return &Builder{id: id, opcode: opcode}
}

// Write appends raw payload bytes (implements io.Writer so struct encoders
// can write straight into the builder).
func (b *Builder) Write(p []byte) (int, error) {
	return b.payload.Write(p)
}

// PutUint32 appends one little-endian uint32 field, the common case for
// the self-describing structured payloads named in spec.md §4.5.
func (b *Builder) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.payload.Write(tmp[:])
}

// AddFd inserts fd into the frame's ancillary set and returns its index
// for the receiver's GetFd (spec.md §4.5 FD passing). Ownership of fd
// passes to the connection until flushed, or to Close on teardown.
func (b *Builder) AddFd(fd int) int {
	b.fds = append(b.fds, fd)
	return len(b.fds) - 1
}

// End closes the builder, assigning it the connection's next sequence
// number, queuing its bytes for Flush, and returning the assigned seq
// (spec.md §4.5). Queuing sets NeedFlush.
func (c *Conn) End(b *Builder) uint32 {
	seq := c.nextSeq
	c.nextSeq++

	var nfds [4]byte
	binary.LittleEndian.PutUint32(nfds[:], uint32(len(b.fds)))

	h := Header{ID: b.id, Opcode: b.opcode, Size: uint32(4 + b.payload.Len()), Seq: seq}
	var hdr [HeaderSize]byte
	h.encode(hdr[:])
	c.writeBuf.Write(hdr[:])
	c.writeBuf.Write(nfds[:])
	c.writeBuf.Write(b.payload.Bytes())
	c.writeFds = append(c.writeFds, b.fds...)
	c.needFlush = true
	return seq
}

// NeedFlush reports whether queued-but-unflushed bytes are pending; the
// loop integration uses this to arm IO_OUT-style write readiness on the
// socket (spec.md §4.5).
func (c *Conn) NeedFlush() bool { return c.needFlush }

// Flush attempts a single non-blocking write of everything queued since
// the last successful flush. On a full drain it clears NeedFlush and
// returns nil. On a partial write it keeps the remainder queued and
// returns ErrAgain — the loop integration should keep IO_OUT armed and
// retry. Any other error is a hard I/O failure.
func (c *Conn) Flush() error {
	if c.writeBuf.Len() == 0 {
		c.needFlush = false
		return nil
	}

	data := c.writeBuf.Bytes()
	var oob []byte
	if len(c.writeFds) > 0 {
		oob = unix.UnixRights(c.writeFds...)
	}

	n, err := unix.SendmsgN(c.fd, data, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return ErrAgain
		}
		return err
	}

	// The whole ancillary message (and the fds it carried) rides with the
	// first successful send; once any bytes land, ownership of the fds
	// has transferred to the peer.
	c.writeFds = nil

	rem := data[n:]
	c.writeBuf.Reset()
	if len(rem) > 0 {
		c.writeBuf.Write(rem)
		return ErrAgain
	}
	c.needFlush = false
	return nil
}
