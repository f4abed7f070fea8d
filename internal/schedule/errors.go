package schedule

import "errors"

// Validation and authorization failures return one of these sentinels.
// Anything else out of an Engine method is a dependency failure (store or
// collaborator) and comes back wrapped.
var (
	ErrInvalidInterval   = errors.New("start time must be before end time")
	ErrBusinessNotFound  = errors.New("business not found")
	ErrSlotUnavailable   = errors.New("time slot not available")
	ErrNotFound          = errors.New("appointment not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidTransition = errors.New("status transition not allowed")
)
