package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into coded domain errors:
//   - ErrNotFound: row does not exist
//   - ErrConflict: concurrent transaction conflict that survived retries
//   - ErrInvalidState: entity is in the wrong state for the requested transition
//   - ErrUnavailable: backend temporarily unavailable
//
// Input and policy failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
