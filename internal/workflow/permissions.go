package workflow

import (
	"context"
	"errors"
)

// MembershipDirectory answers point-in-time team membership questions.
// Implementations must not cache across a transition's transaction
// boundary: the executor re-asks inside the transaction that mutates the
// record.
type MembershipDirectory interface {
	HasAuditorRole(ctx context.Context, userID, auditID string) (bool, error)
	HasReviewerRole(ctx context.Context, userID, auditID string) (bool, error)
	HasViewerGrant(ctx context.Context, userID, auditID string) (bool, error)
}

// Engine computes view/edit/transition eligibility. It performs no writes;
// its only I/O is read-only membership lookups. A "no" answer is a plain
// false, never an error — errors are reserved for lookup failure.
type Engine struct {
	members MembershipDirectory
}

// NewEngine constructs a permission engine over the given directory.
func NewEngine(members MembershipDirectory) (*Engine, error) {
	if members == nil {
		return nil, errors.New("workflow: membership directory is required")
	}
	return &Engine{members: members}, nil
}

// RoleOf resolves a caller's effective global role. The admin flag takes
// precedence; the stored role is already normalized by ParseRole, so the
// legacy reviewer alias never reaches here.
func RoleOf(c Caller) Role {
	if c.Admin {
		return RoleAdmin
	}
	return c.Role
}

// usable filters out absent or deactivated callers before any rule runs.
func usable(c Caller) bool {
	return c.ID != "" && c.Active
}

// CanView reports whether the caller may see the audit and its records.
// Admins and global auditors have full cross-audit visibility; global
// viewers see only audits they hold an explicit viewer grant on.
func (e *Engine) CanView(ctx context.Context, c Caller, audit *Audit) (bool, error) {
	if audit == nil || !usable(c) {
		return false, nil
	}
	switch RoleOf(c) {
	case RoleAdmin, RoleAuditor:
		return true, nil
	case RoleViewer:
		return e.members.HasViewerGrant(ctx, c.ID, audit.ID)
	default:
		return false, nil
	}
}

// CanEdit reports whether the caller may edit the record's content.
// Nobody edits signed_off or admin_hold records; admins never edit content
// directly (they act only through the lock/unlock actions, keeping every
// change inside the review trail). A stale reviewer assignment does not
// grant edit: the reviewer team role is re-validated on every call.
func (e *Engine) CanEdit(ctx context.Context, c Caller, audit *Audit, rec *Record) (bool, error) {
	if audit == nil || rec == nil || !usable(c) {
		return false, nil
	}
	if RoleOf(c) == RoleAdmin {
		return false, nil
	}
	switch rec.Status {
	case StatusDraft:
		return e.members.HasAuditorRole(ctx, c.ID, rec.AuditID)
	case StatusInReview:
		if rec.AssignedReviewerID == "" || rec.AssignedReviewerID != c.ID {
			return false, nil
		}
		return e.members.HasReviewerRole(ctx, c.ID, rec.AuditID)
	default:
		return false, nil
	}
}

// statePermits reports whether the state machine defines the action for a
// record in the given status, independent of who is asking. The executor
// checks it separately from authorization so a lost race surfaces as a
// conflict, not a permission denial.
func statePermits(action Action, status RecordStatus) bool {
	switch action {
	case ActionSubmitForReview:
		return status == StatusDraft
	case ActionReturnToAuditor, ActionSignOff:
		return status == StatusInReview
	case ActionAdminLock:
		return status != StatusAdminHold
	case ActionAdminUnlock:
		return status == StatusAdminHold
	case ActionAdminUnlockSignoff:
		return status == StatusSignedOff
	default:
		return false
	}
}

// CanTransition evaluates the transition table for one action. Unknown
// actions and missing arguments yield false.
func (e *Engine) CanTransition(ctx context.Context, c Caller, audit *Audit, rec *Record, action Action) (bool, error) {
	if audit == nil || rec == nil || !usable(c) {
		return false, nil
	}
	if !statePermits(action, rec.Status) {
		return false, nil
	}
	switch action {
	case ActionSubmitForReview:
		return e.members.HasAuditorRole(ctx, c.ID, rec.AuditID)
	case ActionReturnToAuditor, ActionSignOff:
		if rec.AssignedReviewerID == "" || rec.AssignedReviewerID != c.ID {
			return false, nil
		}
		return e.members.HasReviewerRole(ctx, c.ID, rec.AuditID)
	case ActionAdminLock, ActionAdminUnlock, ActionAdminUnlockSignoff:
		return RoleOf(c) == RoleAdmin, nil
	default:
		return false, nil
	}
}

// Snapshot is the aggregate permission projection handed to presentation
// layers. Purely derived from the predicates above.
type Snapshot struct {
	CanView               bool `json:"can_view"`
	CanEdit               bool `json:"can_edit"`
	CanSubmitForReview    bool `json:"can_submit_for_review"`
	CanReturnToAuditor    bool `json:"can_return_to_auditor"`
	CanSignOff            bool `json:"can_sign_off"`
	CanAdminLock          bool `json:"can_admin_lock"`
	CanAdminUnlock        bool `json:"can_admin_unlock"`
	CanAdminUnlockSignoff bool `json:"can_admin_unlock_signoff"`
}

// PermissionsFor combines every predicate for one (caller, audit, record).
// A caller who cannot view the audit gets an all-false snapshot.
func (e *Engine) PermissionsFor(ctx context.Context, c Caller, audit *Audit, rec *Record) (Snapshot, error) {
	var snap Snapshot
	view, err := e.CanView(ctx, c, audit)
	if err != nil {
		return Snapshot{}, err
	}
	if !view {
		return snap, nil
	}
	snap.CanView = true

	if snap.CanEdit, err = e.CanEdit(ctx, c, audit, rec); err != nil {
		return Snapshot{}, err
	}
	for _, action := range Actions() {
		ok, err := e.CanTransition(ctx, c, audit, rec, action)
		if err != nil {
			return Snapshot{}, err
		}
		switch action {
		case ActionSubmitForReview:
			snap.CanSubmitForReview = ok
		case ActionReturnToAuditor:
			snap.CanReturnToAuditor = ok
		case ActionSignOff:
			snap.CanSignOff = ok
		case ActionAdminLock:
			snap.CanAdminLock = ok
		case ActionAdminUnlock:
			snap.CanAdminUnlock = ok
		case ActionAdminUnlockSignoff:
			snap.CanAdminUnlockSignoff = ok
		}
	}
	return snap, nil
}
