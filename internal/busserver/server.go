package busserver

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/kg-audio/huskyd/internal/registry"
	"github.com/kg-audio/huskyd/internal/wire"
)

// Config names everything needed to stand up a Server (spec.md §6
// External interfaces).
type Config struct {
	RuntimeDir string
	Name       string // no default here; config.Default supplies "pipewire-0", or $PIPEWIRE_CORE when set
}

// Server owns the accept socket, every client socket, and dispatches
// incoming frames against a Registry — the main loop of spec.md §5. It is
// not safe for concurrent use: only the goroutine calling RunOnce may touch it, matching
// "the main loop... single-threaded cooperative."
type Server struct {
	reg *registry.Registry
	log *log.Logger

	sockPath, lockPath string
	lockFd             int
	listenFd           int
	adopted            bool // true if listenFd came from external activation; skip unlink on teardown

	epfd    int
	wakeFd  int // eventfd in the epoll set; a write to it interrupts a blocked epoll_wait
	clients map[int]*clientConn
}

// New acquires the name lock, binds (or adopts an externally activated)
// listening socket, and prepares the epoll set. It does not start serving
// until RunOnce is called.
func New(cfg Config, reg *registry.Registry, logger *log.Logger) (*Server, error) {
	sockPath, lockPath, err := SocketPaths(cfg.RuntimeDir, cfg.Name)
	if err != nil {
		return nil, err
	}

	lockFd, err := acquireLock(lockPath)
	if err != nil {
		return nil, err
	}

	listenFd, adopted := adoptActivatedSocket(sockPath)
	if !adopted {
		listenFd, err = bindListener(sockPath)
		if err != nil {
			releaseLock(lockFd, lockPath)
			return nil, err
		}
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(listenFd)
		releaseLock(lockFd, lockPath)
		return nil, fmt.Errorf("busserver: epoll_create1: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFd)}); err != nil {
		unix.Close(epfd)
		unix.Close(listenFd)
		releaseLock(lockFd, lockPath)
		return nil, fmt.Errorf("busserver: epoll_ctl listen fd: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		unix.Close(listenFd)
		releaseLock(lockFd, lockPath)
		return nil, fmt.Errorf("busserver: eventfd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		unix.Close(listenFd)
		releaseLock(lockFd, lockPath)
		return nil, fmt.Errorf("busserver: epoll_ctl wake fd: %w", err)
	}

	return &Server{
		reg:      reg,
		log:      logger,
		sockPath: sockPath,
		lockPath: lockPath,
		lockFd:   lockFd,
		listenFd: listenFd,
		adopted:  adopted,
		epfd:     epfd,
		wakeFd:   wakeFd,
		clients:  make(map[int]*clientConn),
	}, nil
}

// WakeFd exposes the internal eventfd: writing to it interrupts a blocked
// epoll_wait in RunOnce, which drains it. internal/loopctl does not use
// it; a loopctl.Queue has its own eventfd.
func (s *Server) WakeFd() int { return s.wakeFd }

// Close tears down every client, the listening socket (unlinking it unless
// it was externally activated, spec.md §4.6), and the name lock.
func (s *Server) Close() {
	for fd, cc := range s.clients {
		cc.conn.Close()
		delete(s.clients, fd)
	}
	unix.Close(s.wakeFd)
	unix.Close(s.epfd)
	unix.Close(s.listenFd)
	if !s.adopted {
		syscall.Unlink(s.sockPath)
	}
	releaseLock(s.lockFd, s.lockPath)
}

// RunOnce blocks in epoll_wait (or returns immediately if events are
// already pending) and processes exactly one round of readiness, then
// performs the outgoing drain hook before returning — letting callers
// drive the loop explicitly (e.g. from tests, or interleaved with other
// loop sources). timeoutMs follows epoll_wait's convention (-1 = block).
func (s *Server) RunOnce(timeoutMs int) error {
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(s.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("busserver: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Fd)
		switch {
		case fd == s.listenFd:
			s.acceptLoop()
		case fd == s.wakeFd:
			drainEventfd(s.wakeFd)
		default:
			s.handleClientEvent(fd, ev.Events)
		}
	}

	s.drainOutgoing()
	return nil
}

func drainEventfd(fd int) {
	var buf [8]byte
	unix.Read(fd, buf[:])
}

func (s *Server) acceptLoop() {
	for {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			s.log.Error("accept failed", "err", err)
			return
		}
		s.acceptOne(fd)
	}
}

func (s *Server) acceptOne(fd int) {
	creds, err := readPeerCredentials(fd)
	if err != nil {
		s.log.Warn("could not read peer credentials, closing connection", "err", err)
		unix.Close(fd)
		return
	}

	cc := newClientConn(fd, registry.NewClient(), creds)
	cc.client.Pid, cc.client.Uid, cc.client.Gid = creds.Pid, creds.Uid, creds.Gid
	cc.client.SecurityLabel = creds.SecurityLabel

	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: cc.epollEvents(), Fd: int32(fd)}); err != nil {
		s.log.Error("epoll_ctl add client failed", "err", err)
		unix.Close(fd)
		return
	}
	s.clients[fd] = cc
	s.log.Info("client connected", "fd", fd, "pid", creds.Pid, "uid", creds.Uid, "gid", creds.Gid)
}

func (s *Server) handleClientEvent(fd int, events uint32) {
	cc, ok := s.clients[fd]
	if !ok {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.destroyClient(fd, cc)
		return
	}

	if events&unix.EPOLLOUT != 0 {
		s.flushOne(fd, cc)
		if fd2, stillThere := s.clients[fd]; !stillThere || fd2 == nil {
			return
		}
	}

	if events&unix.EPOLLIN != 0 {
		s.readAndDispatch(fd, cc)
	}
}

// readAndDispatch implements spec.md §4.6 Dispatch: fill buffered bytes
// from the socket, then, while not busy and frames remain, process each
// one. A missing resource is protocol-non-fatal; an out-of-range opcode or
// a demarshal failure destroys the client.
func (s *Server) readAndDispatch(fd int, cc *clientConn) {
	n, err := cc.conn.FillFromSocket()
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		s.destroyClient(fd, cc)
		return
	}
	if n == 0 {
		s.destroyClient(fd, cc)
		return
	}

	for !cc.client.Busy {
		frame, err := cc.conn.Next()
		if err != nil {
			s.log.Warn("frame decode error, destroying client", "fd", fd, "err", err)
			s.destroyClient(fd, cc)
			return
		}
		if frame == nil {
			break
		}

		cc.client.RecvSeq = frame.Seq

		res, ok := cc.client.Lookup(frame.ID)
		if !ok {
			sendError(cc.conn, frame.ID, protoError{Errno: syscall.EINVAL, Message: "unknown resource"})
			continue
		}

		method, err := res.Iface.Method(frame.Opcode)
		if err != nil {
			sendError(cc.conn, frame.ID, protoError{Errno: syscall.EINVAL, Message: err.Error()})
			cc.conn.Flush()
			s.destroyClient(fd, cc)
			return
		}

		if permErr := registry.CheckPermission(res, method); permErr != nil {
			sendError(cc.conn, frame.ID, protoError{Errno: syscall.EACCES, Message: permErr.Error()})
			continue
		}

		if err := method.Demarshal(res, frame.Payload, frame.Fds); err != nil {
			s.log.Warn("method demarshal failed, destroying client", "fd", fd, "err", err)
			s.destroyClient(fd, cc)
			return
		}
	}

	s.rearm(fd, cc)
}

// SetBusy marks a client busy (a resource method started a long-running
// async action) or clears it, draining any frames that queued up while
// busy (spec.md §4.6 Back-pressure via busy). Resource handlers call this
// through the Client they were invoked on.
func (s *Server) SetBusy(fd int, busy bool) {
	cc, ok := s.clients[fd]
	if !ok {
		return
	}
	cc.client.Busy = busy
	s.rearm(fd, cc)
	if !busy {
		s.readAndDispatch(fd, cc)
	}
}

func (s *Server) rearm(fd int, cc *clientConn) {
	cc.wantIn = !cc.client.Busy
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: cc.epollEvents(), Fd: int32(fd)})
}

func (s *Server) flushOne(fd int, cc *clientConn) {
	err := cc.conn.Flush()
	switch {
	case err == nil:
		cc.armOut = false
		s.rearm(fd, cc)
	case errors.Is(err, wire.ErrAgain):
		cc.armOut = true
		s.rearm(fd, cc)
	default:
		s.log.Warn("flush failed, destroying client", "fd", fd, "err", err)
		s.destroyClient(fd, cc)
	}
}

// drainOutgoing implements spec.md §4.6's outgoing drain hook: before the
// loop blocks again, attempt to flush every client connection.
func (s *Server) drainOutgoing() {
	for fd, cc := range s.clients {
		if cc.conn.NeedFlush() {
			s.flushOne(fd, cc)
		}
	}
}

func (s *Server) destroyClient(fd int, cc *clientConn) {
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	cc.conn.Close()
	cc.client.Free()
	delete(s.clients, fd)
	s.log.Info("client disconnected", "fd", fd)
}

// NumClients reports the number of currently connected clients.
func (s *Server) NumClients() int { return len(s.clients) }

// ClientByFd exposes a connected client's registry.Client for bind/method
// wiring done outside this package (e.g. core.bind handling).
func (s *Server) ClientByFd(fd int) (*registry.Client, bool) {
	cc, ok := s.clients[fd]
	if !ok {
		return nil, false
	}
	return cc.client, true
}
