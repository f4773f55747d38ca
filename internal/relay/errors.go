package relay

import "errors"

var (
	// ErrInvalidCommand indicates a malformed maintenance command payload.
	ErrInvalidCommand = errors.New("relay: invalid maintenance command")
)
