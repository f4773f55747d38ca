package virtual

import "errors"

// ErrInvalidSpec is returned at load time for a malformed virtual device.
var ErrInvalidSpec = errors.New("virtual: invalid virtual device")
