package pg

import (
	"context"
	"database/sql"
	"errors"

	"workpapers.org/internal/workflow"
)

type recordStore Store

var _ workflow.RecordStore = (*recordStore)(nil)

const recordColumns = `id, audit_id, kind, ref, title, details, record_status,
	assigned_reviewer_id, lock_reason, locked_by, locked_at,
	signed_off_by, signed_off_at, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(row rowScanner) (workflow.Record, error) {
	var (
		rec      workflow.Record
		ref      sql.NullString
		details  sql.NullString
		reviewer sql.NullString
		lockRsn  sql.NullString
		lockedBy sql.NullString
		lockedAt sql.NullTime
		signedBy sql.NullString
		signedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.AuditID, &rec.Kind, &ref, &rec.Title, &details, &rec.Status,
		&reviewer, &lockRsn, &lockedBy, &lockedAt,
		&signedBy, &signedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Record{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Record{}, err
	}
	rec.Ref = ref.String
	rec.Details = details.String
	rec.AssignedReviewerID = reviewer.String
	rec.LockReason = lockRsn.String
	rec.LockedBy = lockedBy.String
	rec.SignedOffBy = signedBy.String
	if lockedAt.Valid {
		t := lockedAt.Time
		rec.LockedAt = &t
	}
	if signedAt.Valid {
		t := signedAt.Time
		rec.SignedOffAt = &t
	}
	return rec, nil
}

func (s *recordStore) Create(ctx context.Context, rec *workflow.Record) error {
	row := s.db.QueryRowContext(ctx, `
		insert into records (id, audit_id, kind, ref, title, details, record_status)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, rec.ID, rec.AuditID, rec.Kind, nullIfEmpty(rec.Ref), rec.Title, nullIfEmpty(rec.Details), rec.Status)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return workflow.ErrAlreadyExists
			case pgErrForeignKeyViolation:
				return workflow.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *recordStore) Find(ctx context.Context, kind workflow.RecordKind, id string) (workflow.Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from records where kind = $1 and id = $2`, kind, id))
}

func (s *recordStore) ListByAudit(ctx context.Context, auditID string) ([]workflow.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+recordColumns+` from records where audit_id = $1 order by created_at asc`, auditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []workflow.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *recordStore) UpdateContent(ctx context.Context, kind workflow.RecordKind, id, title, details string, expected workflow.RecordStatus) (workflow.Record, error) {
	res, err := s.db.ExecContext(ctx, `
		update records
		set title = $1, details = $2, updated_at = now()
		where kind = $3 and id = $4 and record_status = $5
	`, title, nullIfEmpty(details), kind, id, expected)
	if err != nil {
		return workflow.Record{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return workflow.Record{}, err
	}
	if aff == 0 {
		// Either the row vanished or its status moved since the caller
		// loaded it; disambiguate so a lost edit race reads as a conflict.
		if _, findErr := s.Find(ctx, kind, id); errors.Is(findErr, workflow.ErrNotFound) {
			return workflow.Record{}, workflow.ErrNotFound
		}
		return workflow.Record{}, workflow.ErrTransitionConflict
	}
	return s.Find(ctx, kind, id)
}

// --- transition transaction ---

// txView implements workflow.TransitionView over one open transaction.
// Membership checks run against the transaction, so the executor's
// re-validation sees point-in-time truth, not a cached answer.
type txView struct {
	tx  *sql.Tx
	rec workflow.Record
}

var _ workflow.TransitionView = (*txView)(nil)

func (v *txView) Record() workflow.Record { return v.rec }

func (v *txView) UpdateRecord(ctx context.Context, next workflow.Record, expected workflow.RecordStatus) error {
	res, err := v.tx.ExecContext(ctx, `
		update records
		set record_status = $1,
		    assigned_reviewer_id = $2,
		    lock_reason = $3,
		    locked_by = $4,
		    locked_at = $5,
		    signed_off_by = $6,
		    signed_off_at = $7,
		    updated_at = $8
		where kind = $9 and id = $10 and record_status = $11
	`, next.Status, nullIfEmpty(next.AssignedReviewerID), nullIfEmpty(next.LockReason),
		nullIfEmpty(next.LockedBy), next.LockedAt, nullIfEmpty(next.SignedOffBy), next.SignedOffAt,
		next.UpdatedAt, next.Kind, next.ID, expected)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return workflow.ErrTransitionConflict
	}
	return nil
}

func (v *txView) AppendHistory(ctx context.Context, entry workflow.HistoryEntry) error {
	_, err := v.tx.ExecContext(ctx, `
		insert into record_state_history
			(id, audit_id, record_kind, record_id, from_status, to_status, action, performed_by, notes, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.AuditID, entry.RecordKind, entry.RecordID, entry.FromStatus, entry.ToStatus,
		entry.Action, entry.PerformedBy, nullIfEmpty(entry.Notes), entry.OccurredAt)
	return err
}

func (v *txView) hasMembership(ctx context.Context, userID, auditID string, role workflow.TeamRole) (bool, error) {
	var one int
	err := v.tx.QueryRowContext(ctx, `
		select 1 from audit_team
		where audit_id = $1 and user_id = $2 and team_role = $3
	`, auditID, userID, role).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (v *txView) HasAuditorRole(ctx context.Context, userID, auditID string) (bool, error) {
	return v.hasMembership(ctx, userID, auditID, workflow.TeamAuditor)
}

func (v *txView) HasReviewerRole(ctx context.Context, userID, auditID string) (bool, error) {
	return v.hasMembership(ctx, userID, auditID, workflow.TeamReviewer)
}

func (v *txView) HasViewerGrant(ctx context.Context, userID, auditID string) (bool, error) {
	return v.hasMembership(ctx, userID, auditID, workflow.TeamViewer)
}

// Transition runs fn inside one transaction with the record row locked.
// The row lock serializes concurrent attempts on the same record; the
// status precondition on the update catches anything the lock cannot,
// such as a competitor that committed before this transaction first read
// the row.
func (s *Store) Transition(ctx context.Context, kind workflow.RecordKind, recordID string, fn func(ctx context.Context, view workflow.TransitionView) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`select `+recordColumns+` from records where kind = $1 and id = $2 for update`, kind, recordID))
	if err != nil {
		return err
	}

	view := &txView{tx: tx, rec: rec}
	if err := fn(ctx, view); err != nil {
		return err
	}
	return tx.Commit()
}
