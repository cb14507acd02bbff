package workflow

import (
	"fmt"
	"strings"
)

// Action is a named workflow transition. The set is closed; both the
// permission table and the executor switch over it exhaustively, so a new
// action is a compile-time concern rather than a silently false branch.
type Action string

const (
	ActionSubmitForReview    Action = "submit_for_review"
	ActionReturnToAuditor    Action = "return_to_auditor"
	ActionSignOff            Action = "sign_off"
	ActionAdminLock          Action = "admin_lock"
	ActionAdminUnlock        Action = "admin_unlock"
	ActionAdminUnlockSignoff Action = "admin_unlock_signoff"
)

// Actions lists every defined action in table order.
func Actions() []Action {
	return []Action{
		ActionSubmitForReview,
		ActionReturnToAuditor,
		ActionSignOff,
		ActionAdminLock,
		ActionAdminUnlock,
		ActionAdminUnlockSignoff,
	}
}

// ParseAction maps a wire name onto the closed action set.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionSubmitForReview, ActionReturnToAuditor, ActionSignOff,
		ActionAdminLock, ActionAdminUnlock, ActionAdminUnlockSignoff:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, s)
	}
}

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	_, err := ParseAction(string(a))
	return err == nil
}

// TransitionParams carries the caller-supplied parameters of a transition
// request. Which fields matter depends on the action.
type TransitionParams struct {
	// ReviewerID optionally assigns a reviewer on submit_for_review. The
	// referenced user must hold the reviewer team role on the audit.
	ReviewerID string
	// ReturnTo is the explicit target state for the unlock actions; it is
	// never inferred. Must be draft or in_review.
	ReturnTo RecordStatus
	// Reason accompanies admin lock/unlock actions.
	Reason string
	// Notes is free text recorded in the history entry.
	Notes string
}

// historyNotes picks the text recorded alongside a transition.
func (p TransitionParams) historyNotes() string {
	if strings.TrimSpace(p.Notes) != "" {
		return strings.TrimSpace(p.Notes)
	}
	return strings.TrimSpace(p.Reason)
}
