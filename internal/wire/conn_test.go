package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return NewConn(fds[0]), NewConn(fds[1])
}

func TestRoundTripFrameAndFds(t *testing.T) {
	a, b := socketpair(t)
	defer a.Close()
	defer b.Close()

	pr, pw, err := unix.Pipe2(0)
	require.NoError(t, err)
	defer unix.Close(pr)

	bld := a.Begin(7, 3)
	bld.PutUint32(0xdeadbeef)
	idx := bld.AddFd(pw)
	require.Equal(t, 0, idx)
	seq := a.End(bld)
	require.Equal(t, uint32(0), seq)

	require.NoError(t, a.Flush())

	_, err = b.FillFromSocket()
	require.NoError(t, err)

	f, err := b.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, uint32(7), f.ID)
	require.Equal(t, uint32(3), f.Opcode)
	require.Equal(t, uint32(0), f.Seq)
	require.Len(t, f.Fds, 1)

	fd, err := f.GetFd(0)
	require.NoError(t, err)
	require.NotEqual(t, -1, fd)
	unix.Close(fd)
}

func TestSeqIncrementsPerFrame(t *testing.T) {
	a, b := socketpair(t)
	defer a.Close()
	defer b.Close()

	for i := 0; i < 3; i++ {
		bld := a.Begin(1, 2)
		seq := a.End(bld)
		require.Equal(t, uint32(i), seq)
	}
	require.NoError(t, a.Flush())

	_, err := b.FillFromSocket()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f, err := b.Next()
		require.NoError(t, err)
		require.NotNil(t, f)
		require.Equal(t, uint32(i), f.Seq)
	}
}

func TestNextReturnsNilWhenFrameIncomplete(t *testing.T) {
	a, b := socketpair(t)
	defer a.Close()
	defer b.Close()

	bld := a.Begin(1, 2)
	bld.PutUint32(42)
	a.End(bld)
	require.NoError(t, a.Flush())

	_, err := b.FillFromSocket()
	require.NoError(t, err)

	f, err := b.Next()
	require.NoError(t, err)
	require.NotNil(t, f)

	f2, err := b.Next()
	require.NoError(t, err)
	require.Nil(t, f2)
}
