package ioctl

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ioctl retries on EINTR like libv4l2 does.
func Ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		}
		return errno
	}
}
