package workflow

import (
	"context"
	"testing"
	"time"
)

func seedStore(t *testing.T) (*InMemory, Audit) {
	t.Helper()
	store := NewInMemory()
	audit := Audit{ID: "aud-1", Title: "FY26 Treasury Review", Status: "fieldwork"}
	if err := store.Audits().Create(context.Background(), &audit); err != nil {
		t.Fatalf("create audit: %v", err)
	}
	return store, audit
}

func addMember(t *testing.T, store *InMemory, auditID, userID string, role TeamRole) {
	t.Helper()
	err := store.Memberships().Add(context.Background(), Membership{AuditID: auditID, UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("add membership %s/%s/%s: %v", auditID, userID, role, err)
	}
}

func seedRecord(t *testing.T, store *InMemory, audit Audit, status RecordStatus, reviewer string) Record {
	t.Helper()
	rec := Record{
		ID:                 "rec-1",
		AuditID:            audit.ID,
		Kind:               KindRisk,
		Title:              "Unreconciled suspense balances",
		Status:             status,
		AssignedReviewerID: reviewer,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	if err := store.Records().Create(context.Background(), &rec); err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec
}

func mustEngine(t *testing.T, store *InMemory) *Engine {
	t.Helper()
	eng, err := NewEngine(store.Memberships())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func TestParseRoleFoldsLegacyReviewer(t *testing.T) {
	if got := ParseRole("reviewer"); got != RoleAuditor {
		t.Fatalf("legacy reviewer should map to auditor, got %s", got)
	}
	if got := ParseRole(" Admin "); got != RoleAdmin {
		t.Fatalf("expected admin, got %s", got)
	}
	if got := ParseRole("something-else"); got != RoleViewer {
		t.Fatalf("unknown roles should degrade to viewer, got %s", got)
	}
}

func TestRoleOfAdminFlagPrecedence(t *testing.T) {
	c := Caller{ID: "u1", Active: true, Admin: true, Role: RoleViewer}
	if RoleOf(c) != RoleAdmin {
		t.Fatalf("admin flag must take precedence over stored role")
	}
}

func TestCanView(t *testing.T) {
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()

	addMember(t, store, audit.ID, "granted-viewer", TeamViewer)

	cases := []struct {
		name   string
		caller Caller
		want   bool
	}{
		{"admin sees everything", Caller{ID: "adm", Active: true, Admin: true, Role: RoleViewer}, true},
		{"global auditor sees everything", Caller{ID: "aud", Active: true, Role: RoleAuditor}, true},
		{"viewer with grant", Caller{ID: "granted-viewer", Active: true, Role: RoleViewer}, true},
		{"viewer without grant", Caller{ID: "other-viewer", Active: true, Role: RoleViewer}, false},
		{"inactive auditor", Caller{ID: "aud", Active: false, Role: RoleAuditor}, false},
		{"anonymous", Caller{}, false},
	}
	for _, tc := range cases {
		got, err := eng.CanView(ctx, tc.caller, &audit)
		if err != nil {
			t.Fatalf("%s: CanView: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: CanView = %v, want %v", tc.name, got, tc.want)
		}
	}

	if ok, _ := eng.CanView(ctx, Caller{ID: "adm", Active: true, Admin: true}, nil); ok {
		t.Fatalf("missing audit must yield false, not true")
	}
}

func TestCanEditDraft(t *testing.T) {
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()
	rec := seedRecord(t, store, audit, StatusDraft, "")

	addMember(t, store, audit.ID, "team-auditor", TeamAuditor)
	addMember(t, store, audit.ID, "team-reviewer", TeamReviewer)

	if ok, _ := eng.CanEdit(ctx, Caller{ID: "team-auditor", Active: true, Role: RoleAuditor}, &audit, &rec); !ok {
		t.Fatalf("any auditor team member may edit a draft")
	}
	if ok, _ := eng.CanEdit(ctx, Caller{ID: "team-reviewer", Active: true, Role: RoleAuditor}, &audit, &rec); ok {
		t.Fatalf("reviewer-only team member must not edit a draft")
	}
	if ok, _ := eng.CanEdit(ctx, Caller{ID: "outsider", Active: true, Role: RoleAuditor}, &audit, &rec); ok {
		t.Fatalf("global auditor without a team row must not edit")
	}
	if ok, _ := eng.CanEdit(ctx, Caller{ID: "adm", Active: true, Admin: true}, &audit, &rec); ok {
		t.Fatalf("admins are excluded from direct edit")
	}
}

func TestCanEditInReviewRequiresLiveAssignment(t *testing.T) {
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()
	rec := seedRecord(t, store, audit, StatusInReview, "rev-1")

	addMember(t, store, audit.ID, "rev-1", TeamReviewer)
	addMember(t, store, audit.ID, "rev-2", TeamReviewer)

	reviewer := Caller{ID: "rev-1", Active: true, Role: RoleAuditor}
	if ok, _ := eng.CanEdit(ctx, reviewer, &audit, &rec); !ok {
		t.Fatalf("assigned reviewer with live team role may edit in_review")
	}
	if ok, _ := eng.CanEdit(ctx, Caller{ID: "rev-2", Active: true, Role: RoleAuditor}, &audit, &rec); ok {
		t.Fatalf("a different reviewer on the same audit must not edit")
	}

	// The stored assignment alone is not trusted: revoking the team role
	// revokes edit immediately.
	if err := store.Memberships().Remove(ctx, audit.ID, "rev-1", TeamReviewer); err != nil {
		t.Fatalf("remove membership: %v", err)
	}
	if ok, _ := eng.CanEdit(ctx, reviewer, &audit, &rec); ok {
		t.Fatalf("stale assignment must not grant edit after role removal")
	}
}

func TestCanEditFrozenStates(t *testing.T) {
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()

	addMember(t, store, audit.ID, "team-auditor", TeamAuditor)
	addMember(t, store, audit.ID, "rev-1", TeamReviewer)

	for _, status := range []RecordStatus{StatusSignedOff, StatusAdminHold} {
		rec := Record{ID: "rec-" + string(status), AuditID: audit.ID, Kind: KindIssue, Title: "x", Status: status, AssignedReviewerID: "rev-1"}
		if err := store.Records().Create(ctx, &rec); err != nil {
			t.Fatalf("create: %v", err)
		}
		for _, c := range []Caller{
			{ID: "team-auditor", Active: true, Role: RoleAuditor},
			{ID: "rev-1", Active: true, Role: RoleAuditor},
			{ID: "adm", Active: true, Admin: true},
		} {
			if ok, _ := eng.CanEdit(ctx, c, &audit, &rec); ok {
				t.Fatalf("nobody edits a %s record, but %s could", status, c.ID)
			}
		}
	}
}

func TestCanTransitionTable(t *testing.T) {
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()

	addMember(t, store, audit.ID, "team-auditor", TeamAuditor)
	addMember(t, store, audit.ID, "rev-1", TeamReviewer)

	auditor := Caller{ID: "team-auditor", Active: true, Role: RoleAuditor}
	reviewer := Caller{ID: "rev-1", Active: true, Role: RoleAuditor}
	admin := Caller{ID: "adm", Active: true, Admin: true}

	draft := Record{ID: "r1", AuditID: audit.ID, Kind: KindRisk, Status: StatusDraft}
	inReview := Record{ID: "r2", AuditID: audit.ID, Kind: KindRisk, Status: StatusInReview, AssignedReviewerID: "rev-1"}
	held := Record{ID: "r3", AuditID: audit.ID, Kind: KindRisk, Status: StatusAdminHold}
	signed := Record{ID: "r4", AuditID: audit.ID, Kind: KindRisk, Status: StatusSignedOff}

	cases := []struct {
		name   string
		caller Caller
		rec    *Record
		action Action
		want   bool
	}{
		{"auditor submits draft", auditor, &draft, ActionSubmitForReview, true},
		{"reviewer cannot submit", reviewer, &draft, ActionSubmitForReview, false},
		{"submit requires draft", auditor, &inReview, ActionSubmitForReview, false},
		{"assigned reviewer signs off", reviewer, &inReview, ActionSignOff, true},
		{"assigned reviewer returns", reviewer, &inReview, ActionReturnToAuditor, true},
		{"auditor cannot sign off", auditor, &inReview, ActionSignOff, false},
		{"admin cannot sign off", admin, &inReview, ActionSignOff, false},
		{"admin locks draft", admin, &draft, ActionAdminLock, true},
		{"admin locks signed_off", admin, &signed, ActionAdminLock, true},
		{"admin cannot re-lock held", admin, &held, ActionAdminLock, false},
		{"non-admin cannot lock", auditor, &draft, ActionAdminLock, false},
		{"admin unlocks held", admin, &held, ActionAdminUnlock, true},
		{"unlock requires admin_hold", admin, &draft, ActionAdminUnlock, false},
		{"admin reopens signed_off", admin, &signed, ActionAdminUnlockSignoff, true},
		{"reopen requires signed_off", admin, &held, ActionAdminUnlockSignoff, false},
		{"unknown action", admin, &draft, Action("approve"), false},
	}
	for _, tc := range cases {
		got, err := eng.CanTransition(ctx, tc.caller, &audit, tc.rec, tc.action)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: CanTransition = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestReviewerWithoutAuditorRowScenario(t *testing.T) {
	// Global auditor holding only the reviewer team role: may sign off and
	// edit the record assigned to them, but may not submit for review.
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()

	addMember(t, store, audit.ID, "u-rev", TeamReviewer)
	rec := seedRecord(t, store, audit, StatusInReview, "u-rev")
	c := Caller{ID: "u-rev", Active: true, Role: RoleAuditor}

	snap, err := eng.PermissionsFor(ctx, c, &audit, &rec)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	if !snap.CanSignOff {
		t.Fatalf("expected CanSignOff true")
	}
	if !snap.CanEdit {
		t.Fatalf("expected CanEdit true")
	}
	if snap.CanSubmitForReview {
		t.Fatalf("submit requires the auditor team role, which the caller lacks")
	}
}

func TestPermissionsForViewerWithoutGrantAllFalse(t *testing.T) {
	store, audit := seedStore(t)
	eng := mustEngine(t, store)
	ctx := context.Background()
	rec := seedRecord(t, store, audit, StatusDraft, "")

	snap, err := eng.PermissionsFor(ctx, Caller{ID: "v", Active: true, Role: RoleViewer}, &audit, &rec)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	if snap != (Snapshot{}) {
		t.Fatalf("viewer without grant must get an all-false snapshot, got %+v", snap)
	}
}
