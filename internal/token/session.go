// Package token mints and validates the short-lived session tokens agents
// present on ordinary requests, and generates the opaque refresh tokens
// that rotate them.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "clawstak-platform"
	DefaultAudience = "clawstak-portal"
	DefaultTTL      = time.Hour
)

var ErrInvalidToken = errors.New("token: invalid session token")

// Claims is the validated content of a session token.
type Claims struct {
	AgentID string
	Scopes  []string
}

type sessionClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Minter signs and verifies session tokens with a server-held HS256 secret.
type Minter struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewMinter fails when the signing secret is empty: that is a fatal
// misconfiguration, not a per-request condition.
func NewMinter(secret, issuer, audience string, ttl time.Duration) (*Minter, error) {
	if secret == "" {
		return nil, errors.New("token: session signing secret is required")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if audience == "" {
		audience = DefaultAudience
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Minter{secret: []byte(secret), issuer: issuer, audience: audience, ttl: ttl}, nil
}

func (m *Minter) TTL() time.Duration { return m.ttl }

func (m *Minter) Mint(agentID string, scopes []string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, issuer, audience and expiry. Any single
// mismatch invalidates the whole token; callers get ErrInvalidToken with
// no further distinction.
func (m *Minter) Validate(raw string) (Claims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{AgentID: claims.Subject, Scopes: claims.Scopes}, nil
}
