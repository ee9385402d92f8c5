package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	refreshTokenRawSize = 48
	apiKeyRandomRawSize = 24
)

// NewRefreshToken returns the opaque refresh secret handed to the caller.
// The plaintext is never persisted; only its digest is stored.
func NewRefreshToken() (string, error) {
	var raw [refreshTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewAPIKeyRandom returns the random portion of an API key secret.
func NewAPIKeyRandom() (string, error) {
	var raw [apiKeyRandomRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HashCredential is the one-way digest stored for both credential classes.
// Secrets are high entropy, so an unsalted SHA-256 keeps lookups indexable.
func HashCredential(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}

// DigestsEqual compares two hex digests without leaking match length.
func DigestsEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ErrMalformedToken is returned for secrets that cannot be a credential we issued.
var ErrMalformedToken = errors.New("malformed token")

// CheckRefreshTokenShape rejects garbage before the store is consulted.
func CheckRefreshTokenShape(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrMalformedToken
	}
	if len(raw) != refreshTokenRawSize {
		return ErrMalformedToken
	}
	return nil
}
