package busserver

import "golang.org/x/sys/unix"

func epollIN() uint32  { return unix.EPOLLIN }
func epollOUT() uint32 { return unix.EPOLLOUT }

// epollinHupErr is the "at rest" watch mask spec.md §4.6 installs on every
// new connection: IN|HUP|ERR, with IN cleared while the client is busy.
func epollinHupErr() uint32 {
	return uint32(unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLERR)
}
