package condition

import "errors"

// Sentinel errors for condition compilation and evaluation.
var (
	// ErrInvalidTree is returned by Compile for a malformed condition tree.
	ErrInvalidTree = errors.New("condition: invalid tree")

	// ErrMissingSource is returned when a leaf's source parameter is absent
	// from the snapshot.
	ErrMissingSource = errors.New("condition: source parameter missing")

	// ErrSourceUnavailable is returned when a leaf's source parameter holds
	// the sentinel value.
	ErrSourceUnavailable = errors.New("condition: source parameter unavailable")
)
