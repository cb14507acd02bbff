package auth

import "context"

type userContextKey struct{}

// ContextWithUser attaches the authenticated user to the context. Only the
// HTTP layer reads it back; the workflow core receives an explicit caller
// value instead of consulting ambient state.
func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, &user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	v, ok := ctx.Value(userContextKey{}).(*User)
	if !ok || v == nil {
		return User{}, false
	}
	return *v, true
}
