package models

import "errors"

// Sentinel errors for the host's failure taxonomy. Services return these
// wrapped with context (fmt.Errorf("%w: ...")) so the HTTP layer can map
// them to a status in one place while the original reason stays intact.
var (
	// ErrPrecondition marks caller input the registry or ledger refuses to
	// act on (empty identifier batch, sentinel misuse, missing module code).
	ErrPrecondition = errors.New("precondition failed")

	// ErrConflict marks a stale or racing caller: an identifier bound when
	// it must not be, or unbound when it must be.
	ErrConflict = errors.New("conflict")

	// ErrAuthorization marks a caller that is not allowed to perform the
	// operation at all. Never retried.
	ErrAuthorization = errors.New("not authorized")

	// ErrUnknownIdentifier marks a dispatch miss, distinct from a module's
	// own failure so callers can tell "no such capability" from
	// "capability failed".
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrHistoricalQuery marks a weight query for a sequence point that is
	// not strictly in the past.
	ErrHistoricalQuery = errors.New("sequence point not in the past")

	// ErrReentrantCall marks a module calling back into an identifier that
	// is already in flight within the same call.
	ErrReentrantCall = errors.New("re-entrant call")
)
