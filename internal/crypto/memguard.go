//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins the byte slice so the master key cannot be swapped to disk.
func LockMemory(b []byte) error { return unix.Mlock(b) }

// UnlockMemory releases a previous LockMemory pin.
func UnlockMemory(b []byte) error { return unix.Munlock(b) }
