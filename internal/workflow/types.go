package workflow

import (
	"strings"
	"time"
)

// Role is a user's system-wide role, independent of any specific audit.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
	RoleViewer  Role = "viewer"
)

// legacyRoleReviewer existed as a distinct global tier in older deployments.
// It is folded into auditor at read time; ParseRole is the single place the
// alias is resolved.
const legacyRoleReviewer = "reviewer"

// ParseRole normalizes a stored role string. Unknown values degrade to
// viewer, the least-privileged tier.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleAdmin):
		return RoleAdmin
	case string(RoleAuditor), legacyRoleReviewer:
		return RoleAuditor
	case string(RoleViewer):
		return RoleViewer
	default:
		return RoleViewer
	}
}

// TeamRole is a per-audit assignment granting scoped capabilities distinct
// from the global role.
type TeamRole string

const (
	TeamAuditor  TeamRole = "auditor"
	TeamReviewer TeamRole = "reviewer"
	TeamViewer   TeamRole = "viewer"
)

// ParseTeamRole validates a team role string.
func ParseTeamRole(s string) (TeamRole, error) {
	switch TeamRole(strings.ToLower(strings.TrimSpace(s))) {
	case TeamAuditor:
		return TeamAuditor, nil
	case TeamReviewer:
		return TeamReviewer, nil
	case TeamViewer:
		return TeamViewer, nil
	default:
		return "", ErrInvalidInput
	}
}

// RecordStatus is a record's lifecycle stage.
type RecordStatus string

const (
	StatusDraft     RecordStatus = "draft"
	StatusInReview  RecordStatus = "in_review"
	StatusAdminHold RecordStatus = "admin_hold"
	StatusSignedOff RecordStatus = "signed_off"
)

// RecordKind distinguishes the concrete record variants sharing the
// workflow lifecycle.
type RecordKind string

const (
	KindRisk  RecordKind = "risk"
	KindIssue RecordKind = "issue"
)

// ParseRecordKind validates a record kind string.
func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindRisk:
		return KindRisk, nil
	case KindIssue:
		return KindIssue, nil
	default:
		return "", ErrInvalidInput
	}
}

// Caller is the resolved identity a request acts as. The surrounding layer
// resolves it once and passes it into every permission and executor call;
// nothing in this package consults ambient state.
type Caller struct {
	ID     string
	Active bool
	Admin  bool
	Role   Role
}

// CallerFor builds a Caller from stored identity fields, applying the
// legacy role mapping.
func CallerFor(id string, active, admin bool, role string) Caller {
	return Caller{
		ID:     strings.TrimSpace(id),
		Active: active,
		Admin:  admin,
		Role:   ParseRole(role),
	}
}

// Audit is a bounded engagement owning records and team memberships. Its
// own status field is free-form and unrelated to the record workflow.
type Audit struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	RiskRating string     `json:"risk_rating,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Record is a risk or issue row subject to the workflow lifecycle.
// AssignedReviewerID is only meaningful while in_review; lock metadata is
// populated only in admin_hold; sign-off metadata only in signed_off.
type Record struct {
	ID                 string       `json:"id"`
	AuditID            string       `json:"audit_id"`
	Kind               RecordKind   `json:"kind"`
	Ref                string       `json:"ref"`
	Title              string       `json:"title"`
	Details            string       `json:"details,omitempty"`
	Status             RecordStatus `json:"record_status"`
	AssignedReviewerID string       `json:"assigned_reviewer_id,omitempty"`
	LockReason         string       `json:"lock_reason,omitempty"`
	LockedBy           string       `json:"locked_by,omitempty"`
	LockedAt           *time.Time   `json:"locked_at,omitempty"`
	SignedOffBy        string       `json:"signed_off_by,omitempty"`
	SignedOffAt        *time.Time   `json:"signed_off_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Membership is one (audit, user, team_role) row. A user may hold several
// roles on the same audit via separate rows.
type Membership struct {
	AuditID   string    `json:"audit_id"`
	UserID    string    `json:"user_id"`
	Role      TeamRole  `json:"team_role"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one append-only record of a successful transition.
type HistoryEntry struct {
	ID          string       `json:"id"`
	AuditID     string       `json:"audit_id"`
	RecordKind  RecordKind   `json:"record_kind"`
	RecordID    string       `json:"record_id"`
	FromStatus  RecordStatus `json:"from_status"`
	ToStatus    RecordStatus `json:"to_status"`
	Action      Action       `json:"action"`
	PerformedBy string       `json:"performed_by"`
	Notes       string       `json:"notes,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}
