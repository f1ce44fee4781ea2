//go:build !linux && !darwin

package platform

func Harden() error { return nil }
