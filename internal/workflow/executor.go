package workflow

import (
	"context"
	"fmt"
	"time"

	"workpapers.org/internal/ids"
)

// Executor validates and applies workflow transitions. The permission
// check runs again inside the transaction that mutates the record, so a
// check performed earlier in the request is never trusted across the
// time-of-check/time-of-use gap.
type Executor struct {
	audits AuditStore
	tx     TransitionStore
	now    func() time.Time
	newID  func() string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock overrides the timestamp source. Test use.
func WithClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) {
		if now != nil {
			x.now = now
		}
	}
}

// WithIDGenerator overrides history id generation. Test use.
func WithIDGenerator(gen func() string) ExecutorOption {
	return func(x *Executor) {
		if gen != nil {
			x.newID = gen
		}
	}
}

// NewExecutor constructs a transition executor.
func NewExecutor(audits AuditStore, tx TransitionStore, opts ...ExecutorOption) (*Executor, error) {
	if audits == nil || tx == nil {
		return nil, fmt.Errorf("workflow: audit store and transition store are required")
	}
	x := &Executor{
		audits: audits,
		tx:     tx,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  ids.New,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Apply moves a record through one named transition. On success the
// updated record is returned and exactly one history entry has been
// appended; on any failure nothing has changed.
func (x *Executor) Apply(ctx context.Context, c Caller, auditID string, kind RecordKind, recordID string, action Action, params TransitionParams) (Record, error) {
	if !action.Valid() {
		return Record{}, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if auditID == "" || recordID == "" {
		return Record{}, ErrNotFound
	}
	audit, err := x.audits.Find(ctx, auditID)
	if err != nil {
		return Record{}, err
	}

	var updated Record
	err = x.tx.Transition(ctx, kind, recordID, func(ctx context.Context, view TransitionView) error {
		rec := view.Record()
		if rec.AuditID != audit.ID {
			return ErrNotFound
		}

		// The row is locked at this point; a status that no longer
		// satisfies the action means a competing transition already won.
		if !statePermits(action, rec.Status) {
			return fmt.Errorf("%w: %s is not possible from %s", ErrTransitionConflict, action, rec.Status)
		}

		// Re-validate authorization against the row and memberships as
		// the transaction sees them, not as the request saw them.
		engine := Engine{members: view}
		allowed, err := engine.CanTransition(ctx, c, &audit, &rec, action)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrForbidden
		}

		from := rec.Status
		next := rec
		now := x.now()

		switch action {
		case ActionSubmitForReview:
			next.Status = StatusInReview
			if params.ReviewerID != "" {
				ok, err := view.HasReviewerRole(ctx, params.ReviewerID, rec.AuditID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: user %s holds no reviewer role on audit %s", ErrInvalidAssignment, params.ReviewerID, rec.AuditID)
				}
				next.AssignedReviewerID = params.ReviewerID
			}
		case ActionReturnToAuditor:
			next.Status = StatusDraft
			next.AssignedReviewerID = ""
		case ActionSignOff:
			next.Status = StatusSignedOff
			next.SignedOffBy = c.ID
			next.SignedOffAt = &now
		case ActionAdminLock:
			next.Status = StatusAdminHold
			next.LockReason = params.Reason
			next.LockedBy = c.ID
			next.LockedAt = &now
		case ActionAdminUnlock, ActionAdminUnlockSignoff:
			target, err := x.unlockTarget(ctx, view, rec, params)
			if err != nil {
				return err
			}
			next.Status = target
			next.LockReason = ""
			next.LockedBy = ""
			next.LockedAt = nil
			// Sign-off metadata only belongs to signed_off rows; a record
			// leaving that state through an unlock sheds it.
			next.SignedOffBy = ""
			next.SignedOffAt = nil
			if target == StatusDraft {
				next.AssignedReviewerID = ""
			}
		}
		next.UpdatedAt = now

		if err := view.UpdateRecord(ctx, next, from); err != nil {
			return err
		}
		entry := HistoryEntry{
			ID:          x.newID(),
			AuditID:     rec.AuditID,
			RecordKind:  rec.Kind,
			RecordID:    rec.ID,
			FromStatus:  from,
			ToStatus:    next.Status,
			Action:      action,
			PerformedBy: c.ID,
			Notes:       params.historyNotes(),
			OccurredAt:  now,
		}
		if err := view.AppendHistory(ctx, entry); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return updated, nil
}

// unlockTarget validates the explicit target state of an unlock action.
// Returning a record to in_review requires the stored reviewer assignment
// to still be a reviewer team member; otherwise the admin must unlock to
// draft and let the team re-submit.
func (x *Executor) unlockTarget(ctx context.Context, view TransitionView, rec Record, params TransitionParams) (RecordStatus, error) {
	switch params.ReturnTo {
	case StatusDraft:
		return StatusDraft, nil
	case StatusInReview:
		if rec.AssignedReviewerID == "" {
			return "", fmt.Errorf("%w: cannot return to in_review without an assigned reviewer", ErrInvalidTransition)
		}
		ok, err := view.HasReviewerRole(ctx, rec.AssignedReviewerID, rec.AuditID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: assigned reviewer no longer holds the reviewer role", ErrInvalidTransition)
		}
		return StatusInReview, nil
	default:
		return "", fmt.Errorf("%w: unlock target must be draft or in_review", ErrInvalidTransition)
	}
}
