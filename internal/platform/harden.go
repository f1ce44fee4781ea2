//go:build linux || darwin

package platform

import "golang.org/x/sys/unix"

// Harden applies process-level protections against key material leaking out
// of the process: core dumps are disabled so a crash never writes cached
// keys to disk.
func Harden() error {
	rlim := unix.Rlimit{Cur: 0, Max: 0}
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
