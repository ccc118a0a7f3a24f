// Package security validates caller access tokens and seals webhook secrets at rest.
package security

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, or signed for someone else.
var ErrInvalidToken = errors.New("invalid token")

// Identity is who an access token speaks for.
type Identity struct {
	SessionID string
	UserID    string
	OrgID     string
	ExpiresAt time.Time
}

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	OrgID     string `json:"org_id"`
	SessionID string `json:"session_id"`
}

// TokenProvider validates access JWTs (RS256 or ES256). With a private key it can also issue them;
// the management server only verifies, cmd/seed issues.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider. privateKey may be nil for a verify-only provider.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	if publicKey == nil && privateKey != nil {
		publicKey = privateKey.Public()
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		now:        time.Now,
	}
}

// IssueAccess signs a short-lived access token for id. id.ExpiresAt is ignored and set from the TTL.
func (p *TokenProvider) IssueAccess(id Identity) (string, Identity, error) {
	if p.privateKey == nil {
		return "", Identity{}, errors.New("security: token provider has no signing key")
	}
	method := jwt.GetSigningMethod(KeyAlg(p.privateKey.Public()))
	if method == nil {
		return "", Identity{}, ErrInvalidKey
	}
	jti, err := randomHex(16)
	if err != nil {
		return "", Identity{}, err
	}
	now := p.now().UTC()
	id.ExpiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(id.ExpiresAt),
		},
		OrgID:     id.OrgID,
		SessionID: id.SessionID,
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
	if err != nil {
		return "", Identity{}, err
	}
	return token, id, nil
}

// ValidateAccess checks signature, expiry, issuer and audience and returns the token's identity.
// Every failure is reported as ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (Identity, error) {
	alg := KeyAlg(p.publicKey)
	if alg == "" {
		return Identity{}, ErrInvalidToken
	}
	var claims AccessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return p.publicKey, nil },
		jwt.WithValidMethods([]string{alg}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" || claims.OrgID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		SessionID: claims.SessionID,
		UserID:    claims.Subject,
		OrgID:     claims.OrgID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// HashToken returns the hex SHA-256 of an opaque token, the form stored on session rows.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// NewOpaqueToken returns a random URL-safe token of n bytes, hex encoded.
func NewOpaqueToken(n int) (string, error) {
	return randomHex(n)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
