package shared

import "errors"

// Error kinds. Domain packages wrap one of these so transports can map them
// without knowing every sentinel.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrActorMissing occurs when a mutating call carries no acting user.
	ErrActorMissing = errors.New("acting user required")
)

// UserSafeMessage returns a message safe to show to API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrActorMissing):
		return err.Error()
	default:
		return "internal error"
	}
}
