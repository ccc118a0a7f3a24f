package interceptors

import (
	"context"

	"flowcrm/backend/internal/security"
)

type identityKey struct{}

// WithIdentity returns a context carrying the caller's user, org and session.
// Handlers read them via GetUserID, GetOrgID, GetSessionID.
func WithIdentity(ctx context.Context, userID, orgID, sessionID string) context.Context {
	return context.WithValue(ctx, identityKey{}, security.Identity{UserID: userID, OrgID: orgID, SessionID: sessionID})
}

// IdentityFromContext returns the identity set by the auth interceptor.
func IdentityFromContext(ctx context.Context) (security.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(security.Identity)
	return id, ok
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}

// GetOrgID returns the org_id from context and true if set; otherwise "", false.
func GetOrgID(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.OrgID, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.SessionID, ok
}
