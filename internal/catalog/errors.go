package catalog

import "errors"

// ErrConfiguration wraps every site model problem found at load time.
// Underlying causes such as registermap.ErrCycle or condition.ErrInvalidTree
// remain reachable with errors.Is.
var ErrConfiguration = errors.New("catalog: configuration error")
