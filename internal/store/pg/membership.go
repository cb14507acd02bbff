package pg

import (
	"context"
	"database/sql"
	"errors"

	"workpapers.org/internal/workflow"
)

type membershipStore Store

var _ workflow.MembershipStore = (*membershipStore)(nil)

func (s *membershipStore) has(ctx context.Context, userID, auditID string, role workflow.TeamRole) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
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

func (s *membershipStore) HasAuditorRole(ctx context.Context, userID, auditID string) (bool, error) {
	return s.has(ctx, userID, auditID, workflow.TeamAuditor)
}

func (s *membershipStore) HasReviewerRole(ctx context.Context, userID, auditID string) (bool, error) {
	return s.has(ctx, userID, auditID, workflow.TeamReviewer)
}

func (s *membershipStore) HasViewerGrant(ctx context.Context, userID, auditID string) (bool, error) {
	return s.has(ctx, userID, auditID, workflow.TeamViewer)
}

func (s *membershipStore) Add(ctx context.Context, m workflow.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_team (audit_id, user_id, team_role)
		values ($1, $2, $3)
	`, m.AuditID, m.UserID, m.Role)
	if err != nil {
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

func (s *membershipStore) Remove(ctx context.Context, auditID, userID string, role workflow.TeamRole) error {
	res, err := s.db.ExecContext(ctx, `
		delete from audit_team
		where audit_id = $1 and user_id = $2 and team_role = $3
	`, auditID, userID, role)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

const membershipColumns = `audit_id, user_id, team_role, created_at`

func (s *membershipStore) list(ctx context.Context, query string, arg any) ([]workflow.Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []workflow.Membership
	for rows.Next() {
		var m workflow.Membership
		if err := rows.Scan(&m.AuditID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *membershipStore) ListByAudit(ctx context.Context, auditID string) ([]workflow.Membership, error) {
	return s.list(ctx,
		`select `+membershipColumns+` from audit_team where audit_id = $1 order by created_at asc`, auditID)
}

func (s *membershipStore) ListByUser(ctx context.Context, userID string) ([]workflow.Membership, error) {
	return s.list(ctx,
		`select `+membershipColumns+` from audit_team where user_id = $1 order by created_at asc`, userID)
}
