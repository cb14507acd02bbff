package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"workpapers.org/internal/workflow"
)

type auditStore Store

var _ workflow.AuditStore = (*auditStore)(nil)

const auditColumns = "id, title, status, risk_rating, start_date, end_date, created_at, updated_at"

func scanAudit(row interface{ Scan(dest ...any) error }) (workflow.Audit, error) {
	var (
		a      workflow.Audit
		rating sql.NullString
	)
	err := row.Scan(&a.ID, &a.Title, &a.Status, &rating, &a.StartDate, &a.EndDate, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Audit{}, workflow.ErrNotFound
	}
	if err != nil {
		return workflow.Audit{}, err
	}
	if rating.Valid {
		a.RiskRating = rating.String
	}
	return a, nil
}

func (s *auditStore) Create(ctx context.Context, a *workflow.Audit) error {
	row := s.db.QueryRowContext(ctx, `
		insert into audits (id, title, status, risk_rating, start_date, end_date)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, a.ID, a.Title, a.Status, nullIfEmpty(a.RiskRating), a.StartDate, a.EndDate)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return workflow.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *auditStore) Find(ctx context.Context, id string) (workflow.Audit, error) {
	return scanAudit(s.db.QueryRowContext(ctx,
		`select `+auditColumns+` from audits where id = $1`, id))
}

func (s *auditStore) List(ctx context.Context) ([]workflow.Audit, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+auditColumns+` from audits order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []workflow.Audit
	for rows.Next() {
		var (
			a      workflow.Audit
			rating sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Status, &rating, &a.StartDate, &a.EndDate, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			a.RiskRating = rating.String
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return audits, nil
}

func (s *auditStore) Update(ctx context.Context, id string, upd workflow.AuditUpdate) (workflow.Audit, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.RiskRating != nil {
		add("risk_rating", nullIfEmpty(*upd.RiskRating))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update audits set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return workflow.Audit{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return workflow.Audit{}, err
		}
		if aff == 0 {
			return workflow.Audit{}, workflow.ErrNotFound
		}
	}
	return s.Find(ctx, id)
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
