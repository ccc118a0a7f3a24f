package domain

import "time"

// Session is a signed-in user's refresh session. Access tokens carry its id.
type Session struct {
	ID               string
	UserID           string
	OrgID            string
	RefreshTokenHash string // SHA-256 hash of the current refresh token; empty when not issued
	ExpiresAt        time.Time
	RevokedAt        *time.Time // nil when not revoked
	CreatedAt        time.Time
}

// Live reports whether the session can still authenticate requests at now.
func (s *Session) Live(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
