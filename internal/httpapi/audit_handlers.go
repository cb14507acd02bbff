package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"workpapers.org/internal/audit"
	"workpapers.org/internal/workflow"
)

type createAuditRequest struct {
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	RiskRating string     `json:"risk_rating"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
}

type updateAuditRequest struct {
	Title      *string `json:"title"`
	Status     *string `json:"status"`
	RiskRating *string `json:"risk_rating"`
}

type membershipRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"team_role"`
}

func (a *API) handleAuditsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAudit(w, r)
	case http.MethodGet:
		a.listAudits(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAuditScoped dispatches everything under /v1/audits/{id}/...
func (a *API) handleAuditScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/audits/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	auditID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleAuditResource(w, r, auditID)
	case len(parts) == 2 && parts[1] == "team":
		a.handleTeam(w, r, auditID)
	case len(parts) == 2 && parts[1] == "records":
		a.handleRecordsCollection(w, r, auditID)
	case len(parts) >= 4 && parts[1] == "records":
		kind, err := workflow.ParseRecordKind(parts[2])
		if err != nil {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleRecordScoped(w, r, auditID, kind, parts[3], parts[4:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createAudit(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req createAuditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	aud, err := a.flow.CreateAudit(r.Context(), caller, req.Title, req.Status, req.RiskRating, req.StartDate, req.EndDate)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "workflow.audit.create", map[string]any{
		"audit_id": aud.ID,
		"title":    aud.Title,
	})
	w.Header().Set("Location", "/v1/audits/"+aud.ID)
	writeJSON(w, http.StatusCreated, aud)
}

func (a *API) listAudits(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	audits, err := a.flow.Audits(r.Context(), caller)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": audits})
}

func (a *API) handleAuditResource(w http.ResponseWriter, r *http.Request, auditID string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		aud, err := a.flow.Audit(r.Context(), caller, auditID)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, aud)
	case http.MethodPatch:
		var req updateAuditRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		aud, err := a.flow.UpdateAudit(r.Context(), caller, auditID, workflow.AuditUpdate{
			Title:      req.Title,
			Status:     req.Status,
			RiskRating: req.RiskRating,
		})
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, aud)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleTeam(w http.ResponseWriter, r *http.Request, auditID string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		members, err := a.flow.Team(r.Context(), caller, auditID)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": members})
	case http.MethodPost:
		var req membershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		m, err := a.flow.AddMembership(r.Context(), caller, auditID, req.UserID, workflow.TeamRole(req.Role))
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.team.add", map[string]any{
			"audit_id":  auditID,
			"user_id":   m.UserID,
			"team_role": string(m.Role),
		})
		writeJSON(w, http.StatusCreated, m)
	case http.MethodDelete:
		var req membershipRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := workflow.ParseTeamRole(req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unsupported team role")
			return
		}
		if err := a.flow.RemoveMembership(r.Context(), caller, auditID, req.UserID, role); err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.team.remove", map[string]any{
			"audit_id":  auditID,
			"user_id":   req.UserID,
			"team_role": string(role),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// handleWorkflowError maps domain sentinels onto HTTP statuses. Denials
// stay generic so a response never confirms what the caller may not see.
func handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workflow.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, workflow.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, workflow.ErrTransitionConflict):
		writeErrorCode(w, r, http.StatusConflict, "transition_conflict", "record changed state concurrently, reload and retry")
	case errors.Is(err, workflow.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrInvalidAssignment),
		errors.Is(err, workflow.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
