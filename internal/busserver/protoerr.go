package busserver

import (
	"encoding/binary"
	"syscall"

	"github.com/kg-audio/huskyd/internal/wire"
)

// protoError carries the typed (errno, message) pair spec.md §7 requires
// every protocol-layer error be surfaced as.
type protoError struct {
	Errno   syscall.Errno
	Message string
}

func (e protoError) Error() string { return e.Message }

// errorOpcode is the reserved event opcode every interface's vtable
// allocates for the typed error reply (spec.md §7 Propagation: "the
// protocol layer surfaces every error to the affected resource as a typed
// reply containing (errno, message)").
const errorOpcode = 0

// sendError builds and queues an error reply frame addressed to id,
// encoding (errno, message) as a self-describing payload: a little-endian
// int32 errno followed by the UTF-8 message bytes.
func sendError(conn *wire.Conn, id uint32, perr protoError) {
	b := conn.Begin(id, errorOpcode)
	var errnoBuf [4]byte
	binary.LittleEndian.PutUint32(errnoBuf[:], uint32(int32(perr.Errno)))
	b.Write(errnoBuf[:])
	b.Write([]byte(perr.Message))
	conn.End(b)
}
