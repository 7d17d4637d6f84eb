package alerts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("alert instance not found")
	ErrDuplicateOpen = errors.New("an open alert instance already exists for this dedupe key")
	ErrConflict      = errors.New("alert instance was modified concurrently")
	ErrInvalidSnooze = errors.New("snooze duration must be between 1 and 10080 minutes")
	ErrInvalidActor  = errors.New("actor id is required")
)

// TransitionError rejects a command that the current status does not allow.
type TransitionError struct {
	Current   Status
	Attempted Status
	Allowed   []Status
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("cannot move alert from %s to %s (allowed: %s)", e.Current, e.Attempted, strings.Join(allowed, ", "))
}
