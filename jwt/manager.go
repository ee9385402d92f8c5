// Package jwt issues and verifies the short-lived access tokens that pair
// with stored refresh tokens.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed, tampered, or wrongly signed tokens.
	ErrInvalidToken = errors.New("jwt: invalid token")

	// ErrExpiredToken indicates a structurally valid but expired token.
	ErrExpiredToken = errors.New("jwt: expired token")

	// ErrBadConfig indicates an unusable signer configuration.
	ErrBadConfig = errors.New("jwt: bad signer configuration")
)

// Algorithm selects the signing scheme.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	EdDSA Algorithm = "EdDSA"
)

// Claims carried by every access token.
type Claims struct {
	UserID   string `json:"uid"`
	TenantID string `json:"tid,omitempty"`
	FamilyID string `json:"fid,omitempty"`
	jwtlib.RegisteredClaims
}

// Manager signs and verifies access tokens with a single fixed algorithm.
// Verification rejects tokens signed with any other scheme, so an attacker
// cannot downgrade an asymmetric deployment to HMAC.
type Manager struct {
	alg    Algorithm
	secret []byte
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewHS256 builds a Manager over a shared HMAC secret.
func NewHS256(secret []byte, issuer string, ttl time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("%w: HS256 secret shorter than 32 bytes", ErrBadConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: non-positive ttl", ErrBadConfig)
	}
	return &Manager{
		alg:    HS256,
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewEd25519 builds a Manager over an Ed25519 key pair. The private key may
// be nil for verify-only deployments.
func NewEd25519(priv ed25519.PrivateKey, pub ed25519.PublicKey, issuer string, ttl time.Duration) (*Manager, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad Ed25519 public key size", ErrBadConfig)
	}
	if priv != nil && len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad Ed25519 private key size", ErrBadConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: non-positive ttl", ErrBadConfig)
	}
	return &Manager{
		alg:    EdDSA,
		priv:   priv,
		pub:    pub,
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// TTL returns the configured access-token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Sign mints an access token for the subject. familyID may be empty for
// tokens minted outside a refresh family.
func (m *Manager) Sign(userID, tenantID, familyID string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		FamilyID: familyID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}

	var (
		tok    *jwtlib.Token
		signed string
		err    error
	)
	switch m.alg {
	case HS256:
		tok = jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
		signed, err = tok.SignedString(m.secret)
	case EdDSA:
		if m.priv == nil {
			return "", time.Time{}, fmt.Errorf("%w: verify-only manager cannot sign", ErrBadConfig)
		}
		tok = jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, claims)
		signed, err = tok.SignedString(m.priv)
	default:
		return "", time.Time{}, fmt.Errorf("%w: unknown algorithm %q", ErrBadConfig, m.alg)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, returning its claims.
func (m *Manager) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{string(m.alg)}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(m.issuer))
	}

	_, err := jwtlib.ParseWithClaims(token, claims, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (m *Manager) keyFunc(*jwtlib.Token) (any, error) {
	switch m.alg {
	case HS256:
		return m.secret, nil
	case EdDSA:
		return m.pub, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrBadConfig, m.alg)
	}
}
