package auth

import "context"

type ctxKey string

const (
	userKey        ctxKey = "auth_user"
	tempSessionKey ctxKey = "auth_temp_session"
)

// ContextWithUser stores the authenticated user in the context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext extracts the authenticated user from context.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey).(*User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}

// ContextWithTempSession marks the request as authenticated through a
// 2fa_pending temporary session rather than a full one.
func ContextWithTempSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, tempSessionKey, true)
}

// IsTempSession reports whether the request carries only a temporary session.
func IsTempSession(ctx context.Context) bool {
	v, ok := ctx.Value(tempSessionKey).(bool)
	return ok && v
}
