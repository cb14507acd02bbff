package auth

import "time"

// User is a registered identity. GlobalRole is the system-wide role
// (admin/auditor/viewer, with the legacy "reviewer" value still possible
// in storage); per-audit capabilities come from team memberships, not from
// this record. Users are deactivated, never hard-deleted, so history rows
// always resolve to a real identity.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	Admin        bool      `json:"admin"`
	GlobalRole   string    `json:"global_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserUpdate carries optional field changes; nil means leave as-is.
type UserUpdate struct {
	Email      *string
	Name       *string
	Password   *string
	Active     *bool
	Admin      *bool
	GlobalRole *string
}
