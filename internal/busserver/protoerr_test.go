package busserver

import (
	"encoding/binary"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kg-audio/huskyd/internal/wire"
)

func TestSendErrorEncodesErrnoAndMessage(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := wire.NewConn(fds[0]), wire.NewConn(fds[1])
	defer a.Close()
	defer b.Close()

	sendError(a, 9, protoError{Errno: syscall.EACCES, Message: "permission denied"})
	require.NoError(t, a.Flush())

	_, err = b.FillFromSocket()
	require.NoError(t, err)

	f, err := b.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, uint32(9), f.ID)
	require.Equal(t, uint32(errorOpcode), f.Opcode)

	gotErrno := int32(binary.LittleEndian.Uint32(f.Payload[0:4]))
	require.Equal(t, int32(syscall.EACCES), gotErrno)
	require.Equal(t, "permission denied", string(f.Payload[4:]))
}
