package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrHookFailed) {
//	    // the write was aborted by a hook
//	}
//
// Register map access errors (registermap.ErrParameterUnknown,
// ErrNotReadable, ErrNotWritable) pass through unchanged.
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a device ID twice.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device definition is incomplete.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrHookFailed is returned when a pre- or post-write hook aborts a write.
	ErrHookFailed = errors.New("device: write hook failed")

	// ErrDeviceOffline is returned for I/O on a device marked fatal.
	ErrDeviceOffline = errors.New("device: offline")
)
