package audiodev

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDeviceBusy        = errors.New("device busy")
	ErrPermission        = errors.New("permission denied")
	ErrAlreadyOpen       = errors.New("already open by another user")
	ErrDeviceGone        = errors.New("device gone")
	ErrInterrupted       = errors.New("interrupted")
	ErrNoDevice          = errors.New("no such device")
	ErrIO                = errors.New("input/output error")
	ErrBadDescriptor     = errors.New("bad file descriptor")
	ErrWouldBlock        = errors.New("operation would block")
	ErrNotTTY            = errors.New("inappropriate ioctl for device")

	errTimeout = errors.New("timeout")
)

var errnos = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrInvalidParameter, unix.EINVAL},
	{ErrUnsupportedFormat, unix.EINVAL},
	{ErrDeviceBusy, unix.EBUSY},
	{ErrPermission, unix.EPERM},
	{ErrAlreadyOpen, unix.EPERM},
	{ErrDeviceGone, unix.ENXIO},
	{ErrInterrupted, unix.EINTR},
	{ErrNoDevice, unix.ENODEV},
	{ErrIO, unix.EIO},
	{ErrBadDescriptor, unix.EBADF},
	{ErrWouldBlock, unix.EAGAIN},
	{ErrNotTTY, unix.ENOTTY},
}

// Errno maps an error returned by this package to the errno a character device would return.
// Errors that already carry an errno are returned as is; anything else maps to EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return unix.EIO
}
