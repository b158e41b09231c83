//go:build linux || darwin

package utils

import (
	"syscall"
)

// tuneSocket widens the kernel buffers of a transfer connection.
func tuneSocket(fd uintptr) error {
	if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, DefaultBufferSize); err != nil {
		return err
	}
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, DefaultBufferSize/4)
}
