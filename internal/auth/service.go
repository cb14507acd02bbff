package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workpapers.org/internal/ids"
)

const (
	globalRoleAdmin   = "admin"
	globalRoleAuditor = "auditor"
	globalRoleViewer  = "viewer"
	// Accepted on input for backwards compatibility; the workflow layer
	// folds it into auditor at read time.
	globalRoleLegacyReviewer = "reviewer"
)

// DefaultTokenTTL bounds session token lifetime.
const DefaultTokenTTL = 15 * time.Minute

// UserService provides registration, authentication and administration of
// identities with input validation over a UserStore.
type UserService struct {
	store UserStore
}

// NewUserService constructs a UserService.
func NewUserService(store UserStore) (*UserService, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	return &UserService{store: store}, nil
}

// Register creates an active user with the given global role.
func (s *UserService) Register(ctx context.Context, email, name, password, role string, admin bool) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	role, err = normalizeRole(role)
	if err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Active:       true,
		Admin:        admin,
		GlobalRole:   role,
	}
	if err := s.store.Create(ctx, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies credentials and returns the user. Deactivated
// users fail with ErrInactiveUser regardless of password correctness.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return User{}, ErrInactiveUser
	}
	return user, nil
}

// IssueToken signs a session token for an authenticated user.
func (s *UserService) IssueToken(user User, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	token, err := GenerateToken(user.ID, user.GlobalRole, user.Admin, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, time.Now().UTC().Add(ttl), nil
}

// Find returns one user by id.
func (s *UserService) Find(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, id)
}

// List returns all users.
func (s *UserService) List(ctx context.Context) ([]User, error) {
	return s.store.List(ctx)
}

// Update applies administrative changes to a user.
func (s *UserService) Update(ctx context.Context, id string, upd UserUpdate) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return User{}, err
		}
		upd.Email = &email
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.GlobalRole != nil {
		role, err := normalizeRole(*upd.GlobalRole)
		if err != nil {
			return User{}, err
		}
		upd.GlobalRole = &role
	}
	if upd.Password != nil {
		pw := strings.TrimSpace(*upd.Password)
		if pw == "" {
			return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := HashPassword(pw)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	return s.store.Update(ctx, id, upd)
}

// Deactivate disables a user. Workflow ownership records remain intact;
// permission checks fail from the next request on.
func (s *UserService) Deactivate(ctx context.Context, id string) (User, error) {
	inactive := false
	return s.Update(ctx, id, UserUpdate{Active: &inactive})
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func normalizeRole(role string) (string, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = globalRoleAuditor
	}
	switch role {
	case globalRoleAdmin, globalRoleAuditor, globalRoleViewer, globalRoleLegacyReviewer:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unsupported role %s", ErrInvalidInput, role)
	}
}
