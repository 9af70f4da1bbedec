package partner

import (
	"errors"
	"fmt"
)

// Sync failure kinds.
var (
	ErrTimeout        = errors.New("partner timeout")
	ErrUnreachable    = errors.New("partner unreachable")
	ErrRemoteRejected = errors.New("partner rejected logout")
)

// SyncError wraps one of the kinds with detail from the attempt.
type SyncError struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%v: http %d: %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%v: http %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	default:
		return e.Kind.Error()
	}
}

func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// outcome maps an error to a metrics/log label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrRemoteRejected):
		return "rejected"
	default:
		return "error"
	}
}
