package busserver

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kg-audio/huskyd/internal/registry"
	"github.com/kg-audio/huskyd/internal/wire"
)

// newTestServer builds a Server that owns its own epoll set but skips the
// runtime-dir lock file and listening socket machinery New sets up — tests
// drive dispatch directly against a registry.Client pinned to one end of a
// socketpair, the same way internal/wire's own tests exercise Conn.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(epfd) })

	return &Server{
		reg:      registry.New(),
		log:      log.New(io.Discard),
		listenFd: -1,
		epfd:     epfd,
		clients:  make(map[int]*clientConn),
	}
}

// attachClient wires one end of a real socketpair into s's client table and
// epoll set the way acceptOne does, without going through accept(2) and
// without copying the credentials onto the registry.Client.
func attachClient(t *testing.T, s *Server) (fd int, peer *wire.Conn, client *registry.Client) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)

	creds, err := readPeerCredentials(fds[0])
	require.NoError(t, err)

	cc := newClientConn(fds[0], registry.NewClient(), creds)
	require.NoError(t, unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fds[0], &unix.EpollEvent{Events: cc.epollEvents(), Fd: int32(fds[0])}))
	s.clients[fds[0]] = cc

	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], wire.NewConn(fds[1]), cc.client
}

func echoInterface() *registry.Interface {
	return &registry.Interface{
		Name:    "test:echo",
		Version: 1,
		Methods: []registry.MethodDef{
			{
				RequiredPermissions: registry.PermRead,
				Demarshal: func(res *registry.Resource, payload []byte, fds []int) error {
					return nil
				},
			},
		},
	}
}

func TestReadAndDispatchRunsPermittedMethod(t *testing.T) {
	s := newTestServer(t)
	fd, peer, client := attachClient(t, s)
	defer peer.Close()

	iface := echoInterface()
	called := false
	iface.Methods[0].Demarshal = func(res *registry.Resource, payload []byte, fds []int) error {
		called = true
		return nil
	}
	res := client.NewResource(iface, registry.PermRead|registry.PermExecute, 1)

	b := peer.Begin(res.ID, 0)
	peer.End(b)
	require.NoError(t, peer.Flush())

	require.NoError(t, s.RunOnce(200))
	require.True(t, called)
	require.Equal(t, 1, s.NumClients())
	_, stillThere := s.clients[fd]
	require.True(t, stillThere)
}

func TestReadAndDispatchSendsEaccesOnMissingPermission(t *testing.T) {
	s := newTestServer(t)
	_, peer, client := attachClient(t, s)
	defer peer.Close()

	iface := echoInterface()
	called := false
	iface.Methods[0].Demarshal = func(res *registry.Resource, payload []byte, fds []int) error {
		called = true
		return nil
	}
	// Execute bit withheld: CheckPermission must reject before Demarshal runs.
	res := client.NewResource(iface, registry.PermRead, 1)

	b := peer.Begin(res.ID, 0)
	peer.End(b)
	require.NoError(t, peer.Flush())

	require.NoError(t, s.RunOnce(200))
	require.False(t, called)
	require.Equal(t, 1, s.NumClients(), "permission failure is protocol-non-fatal")

	_, err := peer.FillFromSocket()
	require.NoError(t, err)
	f, err := peer.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, uint32(errorOpcode), f.Opcode)
	require.Equal(t, uint32(res.ID), f.ID)
}

func TestReadAndDispatchSendsInvalOnUnknownResource(t *testing.T) {
	s := newTestServer(t)
	_, peer, _ := attachClient(t, s)
	defer peer.Close()

	b := peer.Begin(999, 0)
	peer.End(b)
	require.NoError(t, peer.Flush())

	require.NoError(t, s.RunOnce(200))
	require.Equal(t, 1, s.NumClients())

	_, err := peer.FillFromSocket()
	require.NoError(t, err)
	f, err := peer.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, uint32(errorOpcode), f.Opcode)
}

func TestReadAndDispatchDestroysClientOnOutOfRangeOpcode(t *testing.T) {
	s := newTestServer(t)
	fd, peer, client := attachClient(t, s)
	defer peer.Close()

	iface := echoInterface()
	res := client.NewResource(iface, registry.PermRead|registry.PermExecute, 1)

	// Interface only has opcode 0; this is out of range and protocol-fatal.
	b := peer.Begin(res.ID, 7)
	peer.End(b)
	require.NoError(t, peer.Flush())

	require.NoError(t, s.RunOnce(200))
	_, stillThere := s.clients[fd]
	require.False(t, stillThere, "out-of-range opcode must destroy the client")
}

func TestReadAndDispatchDestroysClientOnOrderlyShutdown(t *testing.T) {
	s := newTestServer(t)
	fd, peer, _ := attachClient(t, s)

	peer.Close() // orderly shutdown: peer's FillFromSocket will see n==0

	require.NoError(t, s.RunOnce(200))
	_, stillThere := s.clients[fd]
	require.False(t, stillThere)
}

func TestSetBusyDefersDispatchUntilCleared(t *testing.T) {
	s := newTestServer(t)
	fd, peer, client := attachClient(t, s)
	defer peer.Close()

	iface := echoInterface()
	calls := 0
	iface.Methods[0].Demarshal = func(res *registry.Resource, payload []byte, fds []int) error {
		calls++
		return nil
	}
	res := client.NewResource(iface, registry.PermRead|registry.PermExecute, 1)

	s.SetBusy(fd, true)

	b := peer.Begin(res.ID, 0)
	peer.End(b)
	require.NoError(t, peer.Flush())

	require.NoError(t, s.RunOnce(50))
	require.Equal(t, 0, calls, "busy client must not be dispatched to")

	s.SetBusy(fd, false)
	require.Equal(t, 1, calls, "clearing busy drains the queued frame")
}

func TestCheckPermissionRequiresExecuteEvenWhenNotDeclared(t *testing.T) {
	iface := echoInterface()
	res := &registry.Resource{ID: 1, Iface: iface, Permissions: registry.PermRead}
	err := registry.CheckPermission(res, iface.Methods[0])
	require.Error(t, err)

	res.Permissions = registry.PermRead | registry.PermExecute
	require.NoError(t, registry.CheckPermission(res, iface.Methods[0]))
}
