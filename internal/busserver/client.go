package busserver

import (
	"github.com/kg-audio/huskyd/internal/registry"
	"github.com/kg-audio/huskyd/internal/wire"
)

// clientConn pairs one accepted socket's wire codec with its registry
// Client state and epoll watch mask (spec.md §3 Client, §4.6).
type clientConn struct {
	conn   *wire.Conn
	client *registry.Client
	creds  Credentials

	wantIn bool // false while busy (spec.md §4.6 Back-pressure via busy)
	armOut bool // true while a Flush has returned ErrAgain
}

func newClientConn(fd int, client *registry.Client, creds Credentials) *clientConn {
	return &clientConn{
		conn:   wire.NewConn(fd),
		client: client,
		creds:  creds,
		wantIn: true,
	}
}

// epollEvents computes the mask this connection's socket should be
// watched with: HUP|ERR always, IN when not busy, OUT while a flush is
// still draining (spec.md §4.6 Per-connection setup / Back-pressure /
// Outgoing drain hook).
func (c *clientConn) epollEvents() uint32 {
	mask := epollinHupErr()
	if !c.wantIn {
		mask &^= epollIN()
	}
	if c.armOut {
		mask |= epollOUT()
	}
	return mask
}
