//go:build !linux && !darwin && !windows

package utils

func tuneSocket(uintptr) error { return nil }
