package alert

import "errors"

// Sentinel errors for alert rule loading and state handling.
var (
	// ErrInvalidRule is returned when an alert rule definition is malformed.
	ErrInvalidRule = errors.New("alert: invalid rule")

	// ErrDuplicateCode is returned when one scope defines the same alert code twice.
	ErrDuplicateCode = errors.New("alert: duplicate code")

	// ErrUnknownDevice is returned when a state is requested for a device with no rules.
	ErrUnknownDevice = errors.New("alert: unknown device")
)
