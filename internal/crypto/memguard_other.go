//go:build !linux && !darwin

package crypto

// Page locking is best effort; platforms without mlock run unpinned.

func LockMemory(b []byte) error   { return nil }
func UnlockMemory(b []byte) error { return nil }
