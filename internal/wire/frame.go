// Package wire implements the framed, length-prefixed stream codec used by
// the protocol server to talk to local clients over a UNIX domain socket,
// including ancillary file-descriptor passing. See spec.md §4.5, §6.
package wire

import "encoding/binary"

// HeaderSize is the on-wire size of a frame header: id, opcode, size, seq,
// each a little-endian uint32 (spec.md §6 Wire record).
const HeaderSize = 16

// Header is one frame's routing metadata: which resource it targets, which
// method/event index within that resource's interface, how many payload
// bytes follow, and the sender's monotonically increasing sequence number.
type Header struct {
	ID     uint32
	Opcode uint32
	Size   uint32
	Seq    uint32
}

func (h Header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.ID)
	binary.LittleEndian.PutUint32(buf[4:8], h.Opcode)
	binary.LittleEndian.PutUint32(buf[8:12], h.Size)
	binary.LittleEndian.PutUint32(buf[12:16], h.Seq)
}

func decodeHeader(buf []byte) Header {
	return Header{
		ID:     binary.LittleEndian.Uint32(buf[0:4]),
		Opcode: binary.LittleEndian.Uint32(buf[4:8]),
		Size:   binary.LittleEndian.Uint32(buf[8:12]),
		Seq:    binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// Frame is one decoded wire record: its header, payload bytes, and the fds
// that rode alongside it in ancillary data. The payload and Fds slices are
// only valid until the next call to Conn.Next — a consumer that needs to
// retain them must copy (spec.md §4.5 Read path).
type Frame struct {
	Header
	Payload []byte
	Fds     []int
}
