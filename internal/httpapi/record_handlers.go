package httpapi

import (
	"errors"
	"net/http"

	"workpapers.org/internal/audit"
	"workpapers.org/internal/obs"
	"workpapers.org/internal/workflow"
)

type createRecordRequest struct {
	Kind    string `json:"kind"`
	Ref     string `json:"ref"`
	Title   string `json:"title"`
	Details string `json:"details"`
}

type editRecordRequest struct {
	Title   string `json:"title"`
	Details string `json:"details"`
}

type transitionRequest struct {
	Action     string `json:"action"`
	ReviewerID string `json:"reviewer_id"`
	ReturnTo   string `json:"return_to"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
	Confirm    bool   `json:"confirmation"`
}

type recordResponse struct {
	Record      workflow.Record   `json:"record"`
	Permissions workflow.Snapshot `json:"permissions"`
}

func (a *API) handleRecordsCollection(w http.ResponseWriter, r *http.Request, auditID string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		records, err := a.flow.Records(r.Context(), caller, auditID)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records})
	case http.MethodPost:
		var req createRecordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := a.flow.CreateRecord(r.Context(), caller, auditID, workflow.RecordKind(req.Kind), req.Ref, req.Title, req.Details)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.record.create", map[string]any{
			"audit_id":  auditID,
			"record_id": rec.ID,
			"kind":      string(rec.Kind),
		})
		w.Header().Set("Location", "/v1/audits/"+auditID+"/records/"+string(rec.Kind)+"/"+rec.ID)
		writeJSON(w, http.StatusCreated, rec)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRecordScoped dispatches /v1/audits/{id}/records/{kind}/{rid} and
// its subresources.
func (a *API) handleRecordScoped(w http.ResponseWriter, r *http.Request, auditID string, kind workflow.RecordKind, recordID string, rest []string) {
	switch {
	case len(rest) == 0:
		a.handleRecordResource(w, r, auditID, kind, recordID)
	case len(rest) == 1 && rest[0] == "transitions":
		a.handleTransitions(w, r, auditID, kind, recordID)
	case len(rest) == 1 && rest[0] == "permissions":
		a.handlePermissions(w, r, auditID, kind, recordID)
	case len(rest) == 1 && rest[0] == "history":
		a.handleHistory(w, r, auditID, kind, recordID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRecordResource(w http.ResponseWriter, r *http.Request, auditID string, kind workflow.RecordKind, recordID string) {
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, snap, err := a.flow.Record(r.Context(), caller, auditID, kind, recordID)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recordResponse{Record: rec, Permissions: snap})
	case http.MethodPatch:
		var req editRecordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := a.flow.EditRecord(r.Context(), caller, auditID, kind, recordID, req.Title, req.Details)
		if err != nil {
			handleWorkflowError(w, r, err)
			return
		}
		// The edit has already committed; the snapshot is advisory.
		snap, _ := a.flow.PermissionsFor(r.Context(), caller, auditID, kind, recordID)
		writeJSON(w, http.StatusOK, recordResponse{Record: rec, Permissions: snap})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleTransitions(w http.ResponseWriter, r *http.Request, auditID string, kind workflow.RecordKind, recordID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	action, err := workflow.ParseAction(req.Action)
	if err != nil {
		obs.ObserveTransition(req.Action, "invalid")
		writeError(w, r, http.StatusBadRequest, "unknown action")
		return
	}
	if action == workflow.ActionSignOff && !req.Confirm {
		obs.ObserveTransition(string(action), "invalid")
		writeError(w, r, http.StatusBadRequest, "sign_off requires confirmation")
		return
	}

	rec, err := a.flow.Transition(r.Context(), caller, auditID, kind, recordID, action, workflow.TransitionParams{
		ReviewerID: req.ReviewerID,
		ReturnTo:   workflow.RecordStatus(req.ReturnTo),
		Reason:     req.Reason,
		Notes:      req.Notes,
	})
	if err != nil {
		obs.ObserveTransition(string(action), transitionOutcome(err))
		handleWorkflowError(w, r, err)
		return
	}

	obs.ObserveTransition(string(action), "applied")
	_ = audit.LogEvent(r.Context(), "workflow.record.transition", map[string]any{
		"audit_id":  auditID,
		"record_id": recordID,
		"kind":      string(kind),
		"action":    string(action),
		"to_status": string(rec.Status),
	})
	// The transition has already committed; the snapshot is advisory.
	snap, _ := a.flow.PermissionsFor(r.Context(), caller, auditID, kind, recordID)
	writeJSON(w, http.StatusOK, recordResponse{Record: rec, Permissions: snap})
}

func transitionOutcome(err error) string {
	switch {
	case errors.Is(err, workflow.ErrForbidden), errors.Is(err, workflow.ErrUnauthenticated):
		return "denied"
	case errors.Is(err, workflow.ErrTransitionConflict):
		return "conflict"
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrInvalidAssignment):
		return "invalid"
	default:
		return "error"
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request, auditID string, kind workflow.RecordKind, recordID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	snap, err := a.flow.PermissionsFor(r.Context(), caller, auditID, kind, recordID)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request, auditID string, kind workflow.RecordKind, recordID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.requireCaller(w, r)
	if !ok {
		return
	}
	entries, err := a.flow.History(r.Context(), caller, auditID, kind, recordID)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
