package pg

import (
	"context"
	"database/sql"

	"workpapers.org/internal/workflow"
)

type historyStore Store

var _ workflow.HistoryStore = (*historyStore)(nil)

const historyColumns = `id, audit_id, record_kind, record_id, from_status, to_status,
	action, performed_by, notes, occurred_at`

func (s *historyStore) ListByRecord(ctx context.Context, kind workflow.RecordKind, recordID string) ([]workflow.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+historyColumns+`
		from record_state_history
		where record_kind = $1 and record_id = $2
		order by occurred_at asc, id asc
	`, kind, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []workflow.HistoryEntry
	for rows.Next() {
		var (
			e     workflow.HistoryEntry
			notes sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AuditID, &e.RecordKind, &e.RecordID, &e.FromStatus, &e.ToStatus,
			&e.Action, &e.PerformedBy, &notes, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Notes = notes.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
