package busserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// maxSunPathName is spec.md §6's limit on the socket name component (the
// sockaddr_un path buffer is 108 bytes including the NUL terminator).
const maxSunPathName = 107

// listenBacklog is spec.md §6's fixed accept backlog.
const listenBacklog = 128

// SocketPaths returns the bind path and sidecar lock path for a bus name
// under XDG_RUNTIME_DIR (spec.md §6 Socket path / Lock file).
func SocketPaths(runtimeDir, name string) (sockPath, lockPath string, err error) {
	if len(name) > maxSunPathName {
		return "", "", fmt.Errorf("busserver: socket name %q exceeds %d bytes", name, maxSunPathName)
	}
	sockPath = runtimeDir + "/" + name
	return sockPath, sockPath + ".lock", nil
}

// adoptActivatedSocket looks for a listening fd handed in by the host via
// the systemd LISTEN_FDS activation protocol (SPEC_FULL.md §4 Supplemented
// features): the first fd whose LISTEN_FDNAMES entry equals sockPath's
// base name, or whose entry is empty or missing. The fd's bound address
// is not checked against sockPath. Returns (fd, true) on a match, (-1,
// false) if activation isn't in play or nothing matches — the caller then
// binds fresh.
func adoptActivatedSocket(sockPath string) (int, bool) {
	nfdsStr := os.Getenv("LISTEN_FDS")
	pidStr := os.Getenv("LISTEN_PID")
	if nfdsStr == "" || pidStr == "" {
		return -1, false
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid != os.Getpid() {
		return -1, false
	}
	nfds, err := strconv.Atoi(nfdsStr)
	if err != nil || nfds <= 0 {
		return -1, false
	}

	names := strings.Split(os.Getenv("LISTEN_FDNAMES"), ":")
	const firstActivatedFd = 3 // systemd convention: fds start at SD_LISTEN_FDS_START
	for i := 0; i < nfds; i++ {
		fd := firstActivatedFd + i
		if i < len(names) && names[i] != "" && names[i] != baseName(sockPath) {
			continue
		}
		unix.CloseOnExec(fd)
		return fd, true
	}
	return -1, false
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// bindListener creates, binds and listens on a fresh UNIX domain stream
// socket at sockPath, with SOCK_CLOEXEC set at accept time (spec.md §4.6,
// §6). Any stale socket inode at sockPath is removed first, since the
// lock acquired in acquireLock is what actually arbitrates ownership.
func bindListener(sockPath string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("busserver: socket: %w", err)
	}
	os.Remove(sockPath)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: sockPath}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("busserver: bind %s: %w", sockPath, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("busserver: listen %s: %w", sockPath, err)
	}
	return fd, nil
}
