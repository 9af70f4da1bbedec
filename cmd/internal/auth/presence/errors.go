package presence

import "errors"

// Outcome kinds. Handlers map these to responses.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("account not found")
	ErrDisabled      = errors.New("account disabled")
	ErrAlreadyActive = errors.New("account already has an active session")
	ErrBadCredential = errors.New("bad credential")
	ErrMismatch      = errors.New("session is not authoritative")
	ErrNoAccount     = errors.New("session account no longer exists")
	ErrExists        = errors.New("account already exists")
)

// loginResult is the metrics label for a login outcome.
func loginResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrBadCredential):
		return "bad_credential"
	default:
		return "error"
	}
}
