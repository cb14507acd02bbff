package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// the core's tests and local development; durable deployments use the pg
// store.
type InMemory struct {
	mu      sync.Mutex
	audits  map[string]Audit
	records map[string]Record // keyed by kind+"/"+id
	members map[Membership]time.Time
	history []HistoryEntry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		audits:  make(map[string]Audit),
		records: make(map[string]Record),
		members: make(map[Membership]time.Time),
	}
}

func recordKey(kind RecordKind, id string) string { return string(kind) + "/" + id }

func memberKey(m Membership) Membership {
	return Membership{AuditID: m.AuditID, UserID: m.UserID, Role: m.Role}
}

func (s *InMemory) Audits() AuditStore           { return (*memAudits)(s) }
func (s *InMemory) Records() RecordStore         { return (*memRecords)(s) }
func (s *InMemory) Memberships() MembershipStore { return (*memMembers)(s) }
func (s *InMemory) History() HistoryStore        { return (*memHistory)(s) }

// --- audits ---

type memAudits InMemory

func (s *memAudits) Create(ctx context.Context, a *Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	s.audits[a.ID] = *a
	return nil
}

func (s *memAudits) Find(ctx context.Context, id string) (Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return Audit{}, ErrNotFound
	}
	return a, nil
}

func (s *memAudits) List(ctx context.Context) ([]Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Audit, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memAudits) Update(ctx context.Context, id string, upd AuditUpdate) (Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[id]
	if !ok {
		return Audit{}, ErrNotFound
	}
	if upd.Title != nil {
		a.Title = *upd.Title
	}
	if upd.Status != nil {
		a.Status = *upd.Status
	}
	if upd.RiskRating != nil {
		a.RiskRating = *upd.RiskRating
	}
	a.UpdatedAt = time.Now().UTC()
	s.audits[id] = a
	return a, nil
}

// --- records ---

type memRecords InMemory

func (s *memRecords) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[rec.AuditID]; !ok {
		return ErrNotFound
	}
	s.records[recordKey(rec.Kind, rec.ID)] = *rec
	return nil
}

func (s *memRecords) Find(ctx context.Context, kind RecordKind, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(kind, id)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *memRecords) ListByAudit(ctx context.Context, auditID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.AuditID == auditID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memRecords) UpdateContent(ctx context.Context, kind RecordKind, id, title, details string, expected RecordStatus) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(kind, id)
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status != expected {
		return Record{}, ErrTransitionConflict
	}
	rec.Title = title
	rec.Details = details
	rec.UpdatedAt = time.Now().UTC()
	s.records[key] = rec
	return rec, nil
}

// --- memberships ---

type memMembers InMemory

func (s *memMembers) Add(ctx context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[m.AuditID]; !ok {
		return ErrNotFound
	}
	key := memberKey(m)
	if _, ok := s.members[key]; ok {
		return ErrAlreadyExists
	}
	when := m.CreatedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	s.members[key] = when
	return nil
}

func (s *memMembers) Remove(ctx context.Context, auditID, userID string, role TeamRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Membership{AuditID: auditID, UserID: userID, Role: role}
	if _, ok := s.members[key]; !ok {
		return ErrNotFound
	}
	delete(s.members, key)
	return nil
}

func (s *memMembers) ListByAudit(ctx context.Context, auditID string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Membership
	for key, when := range s.members {
		if key.AuditID == auditID {
			key.CreatedAt = when
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (s *memMembers) ListByUser(ctx context.Context, userID string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Membership
	for key, when := range s.members {
		if key.UserID == userID {
			key.CreatedAt = when
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AuditID != out[j].AuditID {
			return out[i].AuditID < out[j].AuditID
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (s *memMembers) has(auditID, userID string, role TeamRole) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[Membership{AuditID: auditID, UserID: userID, Role: role}]
	return ok
}

func (s *memMembers) HasAuditorRole(ctx context.Context, userID, auditID string) (bool, error) {
	return s.has(auditID, userID, TeamAuditor), nil
}

func (s *memMembers) HasReviewerRole(ctx context.Context, userID, auditID string) (bool, error) {
	return s.has(auditID, userID, TeamReviewer), nil
}

func (s *memMembers) HasViewerGrant(ctx context.Context, userID, auditID string) (bool, error) {
	return s.has(auditID, userID, TeamViewer), nil
}

// --- history ---

type memHistory InMemory

func (s *memHistory) ListByRecord(ctx context.Context, kind RecordKind, recordID string) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEntry
	for _, e := range s.history {
		if e.RecordKind == kind && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- transitions ---

// memView serves one transition while the store mutex is held, so the
// check-then-write sequence is serialized per store.
type memView struct {
	store *InMemory
	rec   Record
}

func (v *memView) Record() Record { return v.rec }

func (v *memView) UpdateRecord(ctx context.Context, next Record, expected RecordStatus) error {
	key := recordKey(v.rec.Kind, v.rec.ID)
	current, ok := v.store.records[key]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrTransitionConflict
	}
	v.store.records[key] = next
	return nil
}

func (v *memView) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	v.store.history = append(v.store.history, entry)
	return nil
}

func (v *memView) hasMember(auditID, userID string, role TeamRole) bool {
	_, ok := v.store.members[Membership{AuditID: auditID, UserID: userID, Role: role}]
	return ok
}

func (v *memView) HasAuditorRole(ctx context.Context, userID, auditID string) (bool, error) {
	return v.hasMember(auditID, userID, TeamAuditor), nil
}

func (v *memView) HasReviewerRole(ctx context.Context, userID, auditID string) (bool, error) {
	return v.hasMember(auditID, userID, TeamReviewer), nil
}

func (v *memView) HasViewerGrant(ctx context.Context, userID, auditID string) (bool, error) {
	return v.hasMember(auditID, userID, TeamViewer), nil
}

// Transition runs fn under the store mutex. A failed fn rolls back by
// discarding: record and history writes happen against snapshots that are
// only reachable through the view's guarded methods.
func (s *InMemory) Transition(ctx context.Context, kind RecordKind, recordID string, fn func(ctx context.Context, view TransitionView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(kind, recordID)]
	if !ok {
		return ErrNotFound
	}
	before := s.records[recordKey(kind, recordID)]
	histLen := len(s.history)
	view := &memView{store: s, rec: rec}
	if err := fn(ctx, view); err != nil {
		// roll back
		s.records[recordKey(kind, recordID)] = before
		s.history = s.history[:histLen]
		return err
	}
	return nil
}
