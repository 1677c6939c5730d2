package consult

import "errors"

var (
	// ErrNotAuthorized means the caller is neither the booking's user nor
	// its expert. Never retried.
	ErrNotAuthorized = errors.New("caller is not a party of this booking")

	// ErrBookingNotFound means the booking id does not exist at all.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSessionNotFound means no session exists for the booking yet and the
	// operation is not allowed to create one.
	ErrSessionNotFound = errors.New("consultation session not found")

	// ErrAlreadyEnded is returned by End when the session is already
	// terminal. The session keeps its original ended_at/ended_by; callers
	// racing a double end-of-session should treat this as success.
	ErrAlreadyEnded = errors.New("consultation session already ended")

	// ErrSessionEnded rejects appends against a terminal session.
	ErrSessionEnded = errors.New("consultation session has ended")

	// ErrEmptyMessage rejects blank sends before they reach storage.
	ErrEmptyMessage = errors.New("message text cannot be empty")
)
