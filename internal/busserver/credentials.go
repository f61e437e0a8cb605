package busserver

import "golang.org/x/sys/unix"

// Credentials is a snapshot of a peer's process identity and security
// label, read once at accept time and then immutable (spec.md §6
// Credentials).
type Credentials struct {
	Pid           int
	Uid           int
	Gid           int
	SecurityLabel string
}

// readPeerCredentials reads SO_PEERCRED and SO_PEERSEC for a newly
// accepted connection fd (spec.md §4.6 Per-connection setup, §6
// Credentials). A missing SO_PEERSEC (e.g. no LSM loaded) is tolerated —
// SecurityLabel is left empty rather than failing accept.
func readPeerCredentials(fd int) (Credentials, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return Credentials{}, err
	}
	label, _ := unix.GetsockoptString(fd, unix.SOL_SOCKET, unix.SO_PEERSEC)
	return Credentials{
		Pid:           int(ucred.Pid),
		Uid:           int(ucred.Uid),
		Gid:           int(ucred.Gid),
		SecurityLabel: label,
	}, nil
}
