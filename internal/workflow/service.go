package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workpapers.org/internal/ids"
)

// Service is the high level workpaper workflow API consumed by the HTTP
// layer: audits, team membership, records, permission snapshots and
// transitions. Every operation takes an explicit Caller.
type Service struct {
	store  Store
	engine *Engine
	exec   *Executor
	now    func() time.Time
}

// NewService wires the permission engine and transition executor over one
// store.
func NewService(store Store, opts ...ExecutorOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("workflow: store is required")
	}
	engine, err := NewEngine(store.Memberships())
	if err != nil {
		return nil, err
	}
	exec, err := NewExecutor(store.Audits(), store, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  store,
		engine: engine,
		exec:   exec,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Engine exposes the permission engine for read-only checks.
func (s *Service) Engine() *Engine { return s.engine }

// --- audits ---

// CreateAudit opens a new engagement. Admins and global auditors may
// create audits; viewers may not.
func (s *Service) CreateAudit(ctx context.Context, c Caller, title, status, riskRating string, start, end *time.Time) (Audit, error) {
	if !usable(c) {
		return Audit{}, ErrUnauthenticated
	}
	if RoleOf(c) == RoleViewer {
		return Audit{}, ErrForbidden
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Audit{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "planning"
	}
	audit := Audit{
		ID:         ids.New(),
		Title:      title,
		Status:     status,
		RiskRating: strings.TrimSpace(riskRating),
		StartDate:  start,
		EndDate:    end,
	}
	if err := s.store.Audits().Create(ctx, &audit); err != nil {
		return Audit{}, err
	}
	return audit, nil
}

// Audit fetches one engagement, gated by view eligibility. A caller who
// may not view it gets ErrForbidden, not the audit's existence.
func (s *Service) Audit(ctx context.Context, c Caller, auditID string) (Audit, error) {
	audit, err := s.store.Audits().Find(ctx, auditID)
	if err != nil {
		return Audit{}, err
	}
	ok, err := s.engine.CanView(ctx, c, &audit)
	if err != nil {
		return Audit{}, err
	}
	if !ok {
		return Audit{}, ErrForbidden
	}
	return audit, nil
}

// Audits lists the engagements visible to the caller.
func (s *Service) Audits(ctx context.Context, c Caller) ([]Audit, error) {
	all, err := s.store.Audits().List(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]Audit, 0, len(all))
	for i := range all {
		ok, err := s.engine.CanView(ctx, c, &all[i])
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, all[i])
		}
	}
	return visible, nil
}

// UpdateAudit changes engagement attributes (not record workflow state).
func (s *Service) UpdateAudit(ctx context.Context, c Caller, auditID string, upd AuditUpdate) (Audit, error) {
	if _, err := s.Audit(ctx, c, auditID); err != nil {
		return Audit{}, err
	}
	if RoleOf(c) == RoleViewer {
		return Audit{}, ErrForbidden
	}
	if upd.Title != nil {
		trimmed := strings.TrimSpace(*upd.Title)
		if trimmed == "" {
			return Audit{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		upd.Title = &trimmed
	}
	return s.store.Audits().Update(ctx, auditID, upd)
}

// --- membership ---

// canManageTeam: admins anywhere, or auditors already on the audit's team.
func (s *Service) canManageTeam(ctx context.Context, c Caller, auditID string) (bool, error) {
	if !usable(c) {
		return false, nil
	}
	if RoleOf(c) == RoleAdmin {
		return true, nil
	}
	return s.store.Memberships().HasAuditorRole(ctx, c.ID, auditID)
}

// AddMembership assigns a team role on one audit.
func (s *Service) AddMembership(ctx context.Context, c Caller, auditID, userID string, role TeamRole) (Membership, error) {
	auditID = strings.TrimSpace(auditID)
	userID = strings.TrimSpace(userID)
	if auditID == "" || userID == "" {
		return Membership{}, fmt.Errorf("%w: audit_id and user_id are required", ErrInvalidInput)
	}
	if _, err := ParseTeamRole(string(role)); err != nil {
		return Membership{}, fmt.Errorf("%w: unsupported team role %q", ErrInvalidInput, role)
	}
	if _, err := s.store.Audits().Find(ctx, auditID); err != nil {
		return Membership{}, err
	}
	ok, err := s.canManageTeam(ctx, c, auditID)
	if err != nil {
		return Membership{}, err
	}
	if !ok {
		return Membership{}, ErrForbidden
	}
	m := Membership{AuditID: auditID, UserID: userID, Role: role, CreatedAt: s.now()}
	if err := s.store.Memberships().Add(ctx, m); err != nil {
		return Membership{}, err
	}
	return m, nil
}

// RemoveMembership deletes one (audit, user, role) row. The change takes
// effect for the next permission check, never retroactively.
func (s *Service) RemoveMembership(ctx context.Context, c Caller, auditID, userID string, role TeamRole) error {
	ok, err := s.canManageTeam(ctx, c, auditID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return s.store.Memberships().Remove(ctx, auditID, userID, role)
}

// Team lists an audit's memberships, gated by view eligibility.
func (s *Service) Team(ctx context.Context, c Caller, auditID string) ([]Membership, error) {
	if _, err := s.Audit(ctx, c, auditID); err != nil {
		return nil, err
	}
	return s.store.Memberships().ListByAudit(ctx, auditID)
}

// --- records ---

// CreateRecord opens a new risk or issue in draft. Only auditor team
// members of the audit may create records.
func (s *Service) CreateRecord(ctx context.Context, c Caller, auditID string, kind RecordKind, ref, title, details string) (Record, error) {
	if !usable(c) {
		return Record{}, ErrUnauthenticated
	}
	if _, err := ParseRecordKind(string(kind)); err != nil {
		return Record{}, fmt.Errorf("%w: unsupported record kind %q", ErrInvalidInput, kind)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Record{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	audit, err := s.store.Audits().Find(ctx, auditID)
	if err != nil {
		return Record{}, err
	}
	ok, err := s.store.Memberships().HasAuditorRole(ctx, c.ID, audit.ID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrForbidden
	}
	now := s.now()
	rec := Record{
		ID:        ids.New(),
		AuditID:   audit.ID,
		Kind:      kind,
		Ref:       strings.TrimSpace(ref),
		Title:     title,
		Details:   details,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Records().Create(ctx, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Record fetches one record together with the caller's permission
// snapshot. View denial is ErrForbidden; the record's existence is not
// revealed beyond that.
func (s *Service) Record(ctx context.Context, c Caller, auditID string, kind RecordKind, recordID string) (Record, Snapshot, error) {
	audit, rec, err := s.load(ctx, auditID, kind, recordID)
	if err != nil {
		return Record{}, Snapshot{}, err
	}
	ok, err := s.engine.CanView(ctx, c, &audit)
	if err != nil {
		return Record{}, Snapshot{}, err
	}
	if !ok {
		return Record{}, Snapshot{}, ErrForbidden
	}
	snap, err := s.engine.PermissionsFor(ctx, c, &audit, &rec)
	if err != nil {
		return Record{}, Snapshot{}, err
	}
	return rec, snap, nil
}

// Records lists an audit's records, gated by view eligibility.
func (s *Service) Records(ctx context.Context, c Caller, auditID string) ([]Record, error) {
	if _, err := s.Audit(ctx, c, auditID); err != nil {
		return nil, err
	}
	return s.store.Records().ListByAudit(ctx, auditID)
}

// EditRecord rewrites a record's content fields, gated by edit
// eligibility. The write carries the loaded status as a precondition so an
// edit cannot land after a racing transition changed the lifecycle stage.
func (s *Service) EditRecord(ctx context.Context, c Caller, auditID string, kind RecordKind, recordID, title, details string) (Record, error) {
	audit, rec, err := s.load(ctx, auditID, kind, recordID)
	if err != nil {
		return Record{}, err
	}
	ok, err := s.engine.CanEdit(ctx, c, &audit, &rec)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrForbidden
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Record{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return s.store.Records().UpdateContent(ctx, kind, recordID, title, details, rec.Status)
}

// PermissionsFor returns the caller's aggregate snapshot for one record.
func (s *Service) PermissionsFor(ctx context.Context, c Caller, auditID string, kind RecordKind, recordID string) (Snapshot, error) {
	audit, rec, err := s.load(ctx, auditID, kind, recordID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.engine.PermissionsFor(ctx, c, &audit, &rec)
}

// History returns the transition trail, gated by view eligibility.
func (s *Service) History(ctx context.Context, c Caller, auditID string, kind RecordKind, recordID string) ([]HistoryEntry, error) {
	if _, _, err := s.Record(ctx, c, auditID, kind, recordID); err != nil {
		return nil, err
	}
	return s.store.History().ListByRecord(ctx, kind, recordID)
}

// Transition applies one named action through the executor.
func (s *Service) Transition(ctx context.Context, c Caller, auditID string, kind RecordKind, recordID string, action Action, params TransitionParams) (Record, error) {
	if !usable(c) {
		return Record{}, ErrUnauthenticated
	}
	return s.exec.Apply(ctx, c, auditID, kind, recordID, action, params)
}

func (s *Service) load(ctx context.Context, auditID string, kind RecordKind, recordID string) (Audit, Record, error) {
	audit, err := s.store.Audits().Find(ctx, auditID)
	if err != nil {
		return Audit{}, Record{}, err
	}
	rec, err := s.store.Records().Find(ctx, kind, recordID)
	if err != nil {
		return Audit{}, Record{}, err
	}
	if rec.AuditID != audit.ID {
		return Audit{}, Record{}, ErrNotFound
	}
	return audit, rec, nil
}
