// Package auth issues and verifies the JWT bearer tokens used by both the
// REST endpoints (Authorization header) and the WebSocket endpoint (token
// query parameter, since no header-based credential is available there).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/connecthub/chat-app/internal/apperr"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the verified content of a token.
type Claims struct {
	UserID    uuid.UUID
	TokenType string
	ExpiresAt time.Time
}

type tokenClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager creates a Manager with the given signing secret and lifetimes.
func NewManager(secret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssueAccess creates a signed access token for the user.
func (m *Manager) IssueAccess(userID uuid.UUID) (string, error) {
	return m.issue(userID, TypeAccess, m.accessTTL)
}

// IssueRefresh creates a signed refresh token for the user.
func (m *Manager) IssueRefresh(userID uuid.UUID) (string, error) {
	return m.issue(userID, TypeRefresh, m.refreshTTL)
}

func (m *Manager) issue(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of a token and returns its claims.
// Expired tokens map to TOKEN_EXPIRED; every other failure (bad signature,
// malformed token, missing subject) maps to INVALID_TOKEN.
func (m *Manager) Decode(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Authentication("TOKEN_EXPIRED", "token has expired")
		}
		return nil, apperr.Authentication("INVALID_TOKEN", "invalid token")
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, apperr.Authentication("INVALID_TOKEN", "invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.Authentication("INVALID_TOKEN", "invalid subject in token")
	}

	out := &Claims{UserID: userID, TokenType: claims.TokenType}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// VerifyAccess decodes the token and additionally requires it to be an access
// token. Refresh tokens are rejected on authenticated endpoints.
func (m *Manager) VerifyAccess(token string) (*Claims, error) {
	claims, err := m.Decode(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, apperr.Authentication("INVALID_TOKEN", "access token required")
	}
	return claims, nil
}
