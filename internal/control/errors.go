package control

import "errors"

// Sentinel errors for control rule loading and execution.
var (
	// ErrInvalidRule is returned when a control or schedule rule is malformed.
	ErrInvalidRule = errors.New("control: invalid rule")

	// ErrDuplicateCode is returned when two rules of one device share a code.
	ErrDuplicateCode = errors.New("control: duplicate rule code")

	// ErrLocked is returned when a priority lock blocks a write.
	ErrLocked = errors.New("control: blocked by priority lock")

	// ErrInvalidInput is returned when a policy input cannot be computed.
	ErrInvalidInput = errors.New("control: policy input unavailable")
)
