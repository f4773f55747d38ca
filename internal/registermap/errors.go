package registermap

import "errors"

// Sentinel errors for register map operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrParameterUnknown is returned when a parameter name is absent from the map.
	ErrParameterUnknown = errors.New("registermap: parameter unknown")

	// ErrNotReadable is returned when reading a write-only parameter.
	ErrNotReadable = errors.New("registermap: parameter not readable")

	// ErrNotWritable is returned when writing a read-only or computed parameter.
	ErrNotWritable = errors.New("registermap: parameter not writable")

	// ErrCycle is returned at load time when computed fields depend on each other.
	ErrCycle = errors.New("registermap: computed field cycle")

	// ErrInvalidParameter is returned at load time for a malformed parameter definition.
	ErrInvalidParameter = errors.New("registermap: invalid parameter")

	// ErrShortRead is returned when a transport returned fewer words than the format needs.
	ErrShortRead = errors.New("registermap: short read")

	// ErrNotEncodable is returned when a value cannot be represented in the
	// parameter's raw format (out of range, or absent from a lookup table).
	ErrNotEncodable = errors.New("registermap: value not encodable")
)
