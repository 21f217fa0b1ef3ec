package control

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Error kinds visible to callers. Every component error wraps exactly one.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAccessFault     = errors.New("argument block unreadable")
	ErrNotFound        = errors.New("no such device")
	ErrIO              = errors.New("helper i/o failure")
)

// Status codes returned by the dispatcher. Zero and positive values are
// command results.
const (
	StatusInvalidArgument = -int32(unix.EINVAL)
	StatusAccessFault     = -int32(unix.EFAULT)
	StatusNotFound        = -int32(unix.ENODEV)
	StatusIO              = -int32(unix.EIO)
	StatusPermission      = -int32(unix.EPERM)
)

// Status translates err into a negative status code. Errors that wrap none
// of the known kinds are reported as i/o failures.
func Status(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidArgument
	case errors.Is(err, ErrAccessFault):
		return StatusAccessFault
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	default:
		return StatusIO
	}
}

// StatusText names a status code the way perror would.
func StatusText(status int32) string {
	if status >= 0 {
		return "success"
	}
	return unix.Errno(-status).Error()
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func accessFault(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccessFault, fmt.Sprintf(format, args...))
}
