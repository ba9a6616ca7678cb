package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Device error taxonomy. Every error returned by Session.Acquire wraps
// exactly one of these sentinels so callers can branch with errors.Is.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoDevice         = errors.New("no camera device found")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrUnsupported      = errors.New("camera not supported on this system")
	ErrConstraint       = errors.New("camera cannot satisfy requested format")
	ErrDeviceFailed     = errors.New("camera device failure")
)

// ErrFrameNotReady indicates the device had no decodable frame at capture
// time. Auto-capture retries once on the next ready tick; the liveness final
// capture surfaces it to the user.
var ErrFrameNotReady = errors.New("frame not ready")

// classifyDeviceError maps a raw open/start error onto the taxonomy.
func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	case errors.Is(err, syscall.EINVAL):
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	case errors.Is(err, syscall.ENOTTY), errors.Is(err, syscall.ENOSYS):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceFailed, err)
	}
}

// UserMessage maps a device error to the message shown to the person at the
// camera. All are recoverable via "try again" except an unsupported system.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access was denied. Allow camera access and try again."
	case errors.Is(err, ErrNoDevice):
		return "No camera was found on this device."
	case errors.Is(err, ErrDeviceBusy):
		return "The camera is in use by another application. Close it and try again."
	case errors.Is(err, ErrUnsupported):
		return "This device does not support camera capture. Please use a different device."
	case errors.Is(err, ErrConstraint):
		return "The camera could not be configured. Try again."
	default:
		return "The camera stopped working. Try again."
	}
}
