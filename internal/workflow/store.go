package workflow

import "context"

// AuditStore manages engagements.
type AuditStore interface {
	Create(ctx context.Context, a *Audit) error
	Find(ctx context.Context, id string) (Audit, error)
	List(ctx context.Context) ([]Audit, error)
	Update(ctx context.Context, id string, upd AuditUpdate) (Audit, error)
}

// AuditUpdate carries optional audit field changes; nil means leave as-is.
type AuditUpdate struct {
	Title      *string
	Status     *string
	RiskRating *string
}

// RecordStore manages risk and issue rows outside the transition path.
type RecordStore interface {
	Create(ctx context.Context, rec *Record) error
	Find(ctx context.Context, kind RecordKind, id string) (Record, error)
	ListByAudit(ctx context.Context, auditID string) ([]Record, error)
	// UpdateContent rewrites the free-text fields only if the record is
	// still in the expected status; zero rows affected surfaces as
	// ErrTransitionConflict so an edit cannot land after a racing
	// transition froze the record.
	UpdateContent(ctx context.Context, kind RecordKind, id, title, details string, expected RecordStatus) (Record, error)
}

// MembershipStore manages per-audit team assignments. Checks are
// point-in-time truth; see MembershipDirectory.
type MembershipStore interface {
	MembershipDirectory
	Add(ctx context.Context, m Membership) error
	Remove(ctx context.Context, auditID, userID string, role TeamRole) error
	ListByAudit(ctx context.Context, auditID string) ([]Membership, error)
	ListByUser(ctx context.Context, userID string) ([]Membership, error)
}

// HistoryStore reads the append-only transition trail. Appending happens
// only through TransitionView inside the executor's transaction.
type HistoryStore interface {
	ListByRecord(ctx context.Context, kind RecordKind, recordID string) ([]HistoryEntry, error)
}

// TransitionView is the transactional window the executor works through.
// Everything it offers reads and writes inside one atomic unit: the locked
// record row, fresh membership truth, the guarded status update, and the
// history append.
type TransitionView interface {
	MembershipDirectory
	// Record returns the row as read under the transaction's lock.
	Record() Record
	// UpdateRecord writes the workflow columns of next, guarded by a
	// status-equality precondition on expected. Zero rows affected means
	// another transition won the race: ErrTransitionConflict.
	UpdateRecord(ctx context.Context, next Record, expected RecordStatus) error
	// AppendHistory inserts one trail entry in the same transaction.
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// TransitionStore opens the atomic unit a transition runs in. If fn
// returns an error the whole unit rolls back; no partial effect survives.
type TransitionStore interface {
	Transition(ctx context.Context, kind RecordKind, recordID string, fn func(ctx context.Context, view TransitionView) error) error
}

// Store is the full persistence surface the workflow service composes.
type Store interface {
	Audits() AuditStore
	Records() RecordStore
	Memberships() MembershipStore
	History() HistoryStore
	TransitionStore
}
