package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"workpapers.org/internal/auth"
	"workpapers.org/internal/workflow"
)

type testEnv struct {
	api   *API
	h     http.Handler
	users *auth.UserService
	flow  *workflow.Service
	store *workflow.InMemory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("WORKPAPERS_AUTH_SECRET", "test-secret-for-handlers")
	auth.ResetSecretForTests()

	users, err := auth.NewUserService(auth.NewInMemoryUsers())
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	store := workflow.NewInMemory()
	flow, err := workflow.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(ReadyProbe{}, "test", users, flow)
	return &testEnv{api: api, h: api.Handler(), users: users, flow: flow, store: store}
}

func (e *testEnv) register(t *testing.T, email, role string, admin bool) auth.User {
	t.Helper()
	user, err := e.users.Register(t.Context(), email, "Test User", "s3cret-pass", role, admin)
	if err != nil {
		t.Fatalf("Register %s: %v", email, err)
	}
	return user
}

func (e *testEnv) token(t *testing.T, user auth.User) string {
	t.Helper()
	token, _, err := e.users.IssueToken(user, auth.DefaultTokenTTL)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status: %d", rec.Code)
	}
}

func TestLoginAndAuthenticatedRequest(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "lead@example.com", "auditor", false)

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "lead@example.com", "password": "s3cret-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status: %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]any](t, rec)
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("expected token in login response")
	}

	rec = env.do(t, http.MethodGet, "/v1/audits", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list audits status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "lead@example.com", "auditor", false)

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "lead@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/audits", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDeactivatedUserTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "gone@example.com", "auditor", false)
	token := env.token(t, user)

	if _, err := env.users.Deactivate(t.Context(), user.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/audits", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deactivated user, got %d", rec.Code)
	}
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin", true)
	lead := env.register(t, "lead@example.com", "auditor", false)
	reviewer := env.register(t, "reviewer@example.com", "auditor", false)
	adminTok := env.token(t, admin)
	leadTok := env.token(t, lead)
	reviewerTok := env.token(t, reviewer)

	// Admin opens an engagement.
	rec := env.do(t, http.MethodPost, "/v1/audits", adminTok, map[string]any{
		"title": "Vendor management review", "risk_rating": "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create audit: %d body=%s", rec.Code, rec.Body.String())
	}
	aud := decodeBody[workflow.Audit](t, rec)

	// Team assignment.
	for _, m := range []map[string]string{
		{"user_id": lead.ID, "team_role": "auditor"},
		{"user_id": reviewer.ID, "team_role": "reviewer"},
	} {
		rec = env.do(t, http.MethodPost, "/v1/audits/"+aud.ID+"/team", adminTok, m)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add membership: %d body=%s", rec.Code, rec.Body.String())
		}
	}

	// Lead drafts a risk.
	rec = env.do(t, http.MethodPost, "/v1/audits/"+aud.ID+"/records", leadTok, map[string]string{
		"kind": "risk", "ref": "R-01", "title": "Unvetted subprocessors",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create record: %d body=%s", rec.Code, rec.Body.String())
	}
	risk := decodeBody[workflow.Record](t, rec)
	base := fmt.Sprintf("/v1/audits/%s/records/risk/%s", aud.ID, risk.ID)

	// Submit for review with an assigned reviewer.
	rec = env.do(t, http.MethodPost, base+"/transitions", leadTok, map[string]string{
		"action": "submit_for_review", "reviewer_id": reviewer.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d body=%s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[recordResponse](t, rec)
	if updated.Record.Status != workflow.StatusInReview {
		t.Fatalf("status after submit: %s", updated.Record.Status)
	}
	if updated.Permissions.CanEdit {
		t.Fatal("submitting auditor must lose edit on in_review")
	}

	// The submitting auditor may no longer edit.
	rec = env.do(t, http.MethodPatch, base, leadTok, map[string]string{
		"title": "Changed while in review",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 editing in_review as auditor, got %d", rec.Code)
	}

	// Sign-off without the confirmation flag is rejected up front.
	rec = env.do(t, http.MethodPost, base+"/transitions", reviewerTok, map[string]string{
		"action": "sign_off",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unconfirmed sign_off, got %d", rec.Code)
	}

	// Reviewer signs off.
	rec = env.do(t, http.MethodPost, base+"/transitions", reviewerTok, map[string]any{
		"action": "sign_off", "confirmation": true, "notes": "reviewed against workpapers",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign off: %d body=%s", rec.Code, rec.Body.String())
	}
	updated = decodeBody[recordResponse](t, rec)
	if updated.Record.Status != workflow.StatusSignedOff {
		t.Fatalf("status after sign off: %s", updated.Record.Status)
	}

	// Permission snapshot shows the frozen state.
	rec = env.do(t, http.MethodGet, base+"/permissions", leadTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("permissions: %d", rec.Code)
	}
	snap := decodeBody[workflow.Snapshot](t, rec)
	if snap.CanEdit {
		t.Fatal("signed-off record must not be editable")
	}

	// History shows both transitions in order.
	rec = env.do(t, http.MethodGet, base+"/history", leadTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	hist := decodeBody[struct {
		Items []workflow.HistoryEntry `json:"items"`
	}](t, rec)
	if len(hist.Items) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist.Items))
	}
	if hist.Items[0].Action != workflow.ActionSubmitForReview || hist.Items[1].Action != workflow.ActionSignOff {
		t.Fatalf("unexpected history order: %v, %v", hist.Items[0].Action, hist.Items[1].Action)
	}
}

func TestTransitionDenialsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin", true)
	lead := env.register(t, "lead@example.com", "auditor", false)
	outsider := env.register(t, "outsider@example.com", "auditor", false)
	adminTok := env.token(t, admin)
	leadTok := env.token(t, lead)
	outsiderTok := env.token(t, outsider)

	rec := env.do(t, http.MethodPost, "/v1/audits", adminTok, map[string]any{"title": "Payroll audit"})
	aud := decodeBody[workflow.Audit](t, rec)
	env.do(t, http.MethodPost, "/v1/audits/"+aud.ID+"/team", adminTok, map[string]string{
		"user_id": lead.ID, "team_role": "auditor",
	})
	rec = env.do(t, http.MethodPost, "/v1/audits/"+aud.ID+"/records", leadTok, map[string]string{
		"kind": "issue", "title": "Ghost employees in payroll extract",
	})
	issue := decodeBody[workflow.Record](t, rec)
	base := fmt.Sprintf("/v1/audits/%s/records/issue/%s", aud.ID, issue.ID)

	// An auditor not on the team cannot see the audit at all.
	rec = env.do(t, http.MethodGet, base, outsiderTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}

	// Admins are excluded from content transitions like sign_off.
	env.do(t, http.MethodPost, base+"/transitions", leadTok, map[string]string{"action": "submit_for_review"})
	rec = env.do(t, http.MethodPost, base+"/transitions", adminTok, map[string]any{"action": "sign_off", "confirmation": true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin sign_off, got %d body=%s", rec.Code, rec.Body.String())
	}

	// Unknown action is rejected before touching the record.
	rec = env.do(t, http.MethodPost, base+"/transitions", leadTok, map[string]string{"action": "approve"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}

func TestAdminLockOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin", true)
	lead := env.register(t, "lead@example.com", "auditor", false)
	adminTok := env.token(t, admin)
	leadTok := env.token(t, lead)

	rec := env.do(t, http.MethodPost, "/v1/audits", adminTok, map[string]any{"title": "Access review"})
	aud := decodeBody[workflow.Audit](t, rec)
	env.do(t, http.MethodPost, "/v1/audits/"+aud.ID+"/team", adminTok, map[string]string{
		"user_id": lead.ID, "team_role": "auditor",
	})
	rec = env.do(t, http.MethodPost, "/v1/audits/"+aud.ID+"/records", leadTok, map[string]string{
		"kind": "risk", "title": "Orphaned privileged accounts",
	})
	risk := decodeBody[workflow.Record](t, rec)
	base := fmt.Sprintf("/v1/audits/%s/records/risk/%s", aud.ID, risk.ID)

	rec = env.do(t, http.MethodPost, base+"/transitions", adminTok, map[string]string{
		"action": "admin_lock", "reason": "litigation hold",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin_lock: %d body=%s", rec.Code, rec.Body.String())
	}
	locked := decodeBody[recordResponse](t, rec).Record
	if locked.Status != workflow.StatusAdminHold || locked.LockReason != "litigation hold" {
		t.Fatalf("unexpected locked record: %+v", locked)
	}

	// Nobody edits a held record, not even its auditor.
	rec = env.do(t, http.MethodPatch, base, leadTok, map[string]string{"title": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 editing held record, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, base+"/transitions", adminTok, map[string]string{
		"action": "admin_unlock", "return_to": "draft", "reason": "hold released",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin_unlock: %d body=%s", rec.Code, rec.Body.String())
	}
	unlocked := decodeBody[recordResponse](t, rec).Record
	if unlocked.Status != workflow.StatusDraft || unlocked.LockReason != "" {
		t.Fatalf("unexpected unlocked record: %+v", unlocked)
	}
}

func TestUserAdministration(t *testing.T) {
	env := newTestEnv(t)
	admin := env.register(t, "admin@example.com", "admin", true)
	plain := env.register(t, "plain@example.com", "viewer", false)
	adminTok := env.token(t, admin)
	plainTok := env.token(t, plain)

	// Non-admin cannot create users.
	rec := env.do(t, http.MethodPost, "/v1/users", plainTok, map[string]any{
		"email": "new@example.com", "name": "New", "password": "longenough", "role": "auditor",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/users", adminTok, map[string]any{
		"email": "new@example.com", "name": "New", "password": "longenough", "role": "auditor",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d body=%s", rec.Code, rec.Body.String())
	}
	created := decodeBody[auth.User](t, rec)

	// Users can read their own profile, nobody else's.
	rec = env.do(t, http.MethodGet, "/v1/users/"+plain.ID, plainTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("self read: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/v1/users/"+created.ID, plainTok, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading other user, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/v1/users/"+created.ID, adminTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", rec.Code)
	}
	deactivated := decodeBody[auth.User](t, rec)
	if deactivated.Active {
		t.Fatal("expected user to be inactive")
	}
}

func TestRateLimitConcurrentClients(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(inner, 100, 100)

	// Many goroutines hit the limiter with distinct and shared addresses;
	// the bucket map must stay consistent throughout.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
				req.RemoteAddr = fmt.Sprintf("10.0.%d.%d:4000", i, j%3)
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				if rec.Code != http.StatusOK {
					t.Errorf("unexpected status %d for %s", rec.Code, req.RemoteAddr)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RateLimit(inner, 2, 0)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200,200,429, got %v", codes)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
	req.Header.Set("X-Request-Id", "req-xyz")
	rec := httptest.NewRecorder()
	env.h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-xyz" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	// Unauthenticated error payload carries the id too.
	body := decodeBody[map[string]any](t, rec)
	if body["request_id"] != "req-xyz" {
		t.Fatalf("expected request_id in error payload, got %v", body)
	}
}
