// Package token issues and verifies the JWT credentials used on the gateway
// transport: long-lived gateway tokens presented in AUTH frames and
// short-lived passthrough tokens minted for proxied internal API calls.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/storfleet/gatelink/internal/domain"
)

const issuerName = "gatelink"

// Claims is the JWT claim set carried by gateway and passthrough tokens.
type Claims struct {
	UserID         string   `json:"userId"`
	Role           string   `json:"role"`
	FacilityScopes []string `json:"facilityScopes,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 tokens with a shared secret.
type Manager struct {
	secret []byte
}

// NewManager creates a Manager for the given signing secret.
func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

// Verify validates tok and returns the identity it carries.
// Any parse, signature, or expiry failure maps to [domain.ErrInvalidToken].
func (m *Manager) Verify(tok string) (domain.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tok, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if claims.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return domain.Identity{
		UserID:         claims.UserID,
		Role:           claims.Role,
		FacilityScopes: claims.FacilityScopes,
	}, nil
}

// Issue signs a token for the given identity with the given lifetime.
func (m *Manager) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("identity requires a user id")
	}
	now := time.Now()
	claims := &Claims{
		UserID:         id.UserID,
		Role:           id.Role,
		FacilityScopes: id.FacilityScopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuerName,
			Subject:   id.UserID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// IssuePassthrough derives a short-lived token scoped to exactly one
// facility from the identity bound to a connection. Proxied internal API
// calls carry this token, never the gateway's original credential.
func (m *Manager) IssuePassthrough(id domain.Identity, facilityID string, ttl time.Duration) (string, error) {
	narrowed := domain.Identity{
		UserID:         id.UserID,
		Role:           id.Role,
		FacilityScopes: []string{facilityID},
	}
	return m.Issue(narrowed, ttl)
}
