package workflow

import "errors"

var (
	// ErrUnauthenticated means no valid caller identity was supplied.
	ErrUnauthenticated = errors.New("workflow: unauthenticated")
	// ErrForbidden means the caller is identified but lacks permission.
	// Handlers surface it without detail so a denied caller learns nothing
	// about assignments or rules.
	ErrForbidden = errors.New("workflow: forbidden")
	// ErrNotFound means the audit or record does not exist.
	ErrNotFound = errors.New("workflow: not found")
	// ErrInvalidTransition means the action is not defined for the record's
	// current state, or an unlock target parameter is invalid.
	ErrInvalidTransition = errors.New("workflow: invalid transition")
	// ErrTransitionConflict means the optimistic precondition failed:
	// another transition won the race. Callers may retry only by
	// re-fetching state and re-deciding.
	ErrTransitionConflict = errors.New("workflow: transition conflict")
	// ErrInvalidAssignment means a reviewer parameter does not reference a
	// reviewer team member of the audit.
	ErrInvalidAssignment = errors.New("workflow: invalid reviewer assignment")
	// ErrInvalidInput covers malformed arguments outside the taxonomy above.
	ErrInvalidInput = errors.New("workflow: invalid input")
	// ErrAlreadyExists reports duplicate rows on create paths, e.g. adding
	// a membership triple twice.
	ErrAlreadyExists = errors.New("workflow: already exists")
)
