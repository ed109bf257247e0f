package domain

import "errors"

// Sentinel errors for the engine's failure taxonomy. Services wrap these in
// apperr so callers can branch with errors.Is while the HTTP layer maps the
// outer kind to a status code.
var (
	// ErrStaleVersion means a concurrent writer advanced the stage first.
	// Recoverable: re-read the stage and retry with the fresh version.
	ErrStaleVersion = errors.New("stale stage version")

	// ErrDuplicatePending means an action of the same type is already
	// pending for the entity. Recoverable: act on the existing action.
	ErrDuplicatePending = errors.New("pending action of this type already exists")

	// ErrAlreadyResolved means the action left pending status earlier and
	// the repeated call carries a different decision.
	ErrAlreadyResolved = errors.New("action already resolved")

	// ErrNotesRequired means a rejection was submitted without a
	// justification.
	ErrNotesRequired = errors.New("notes are required when rejecting an action")

	// ErrActorNotEligible means the daily quota / incomplete-opportunity
	// gate refused the actor.
	ErrActorNotEligible = errors.New("actor is not eligible for new opportunities today")

	// ErrAnalysisPrecondition means request_pili_analysis was requested with
	// zero calls logged.
	ErrAnalysisPrecondition = errors.New("analysis requires at least one logged call")
)
