package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Components return these
// (optionally wrapped) so callers and the HTTP layer can branch with errors.Is.
//
// - ErrInvalidState: component is in the wrong lifecycle state for the call
//   (scheduler already started, audit subsystem inactive)
// - ErrUnavailable: a backing service (blob storage) cannot be reached
var (
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
