package apikey

import (
	"strings"

	"github.com/vizor-analytics/vauth/internal"
)

const (
	// Tag prefixes every issued key so a leaked credential is recognizable
	// in logs and scanners.
	Tag = "vz_"

	// Hex encoding of the 24 random bytes behind each key.
	randomPartLen = 48

	// How much of the random part lands in the stored, indexable prefix.
	prefixRandLen = 8
)

// Generate mints a new key. It returns the full plaintext (shown to the
// caller exactly once), the indexable prefix, and the digest to store.
func Generate() (plaintext, keyPrefix, digest string, err error) {
	random, err := internal.NewAPIKeyRandom()
	if err != nil {
		return "", "", "", err
	}
	plaintext = Tag + random
	keyPrefix = Tag + random[:prefixRandLen]
	digest = internal.HashCredential(plaintext)
	return plaintext, keyPrefix, digest, nil
}

// SplitPrefix derives the lookup prefix from a presented key, rejecting
// anything that does not have the issued shape.
func SplitPrefix(presented string) (string, error) {
	if !strings.HasPrefix(presented, Tag) || len(presented) != len(Tag)+randomPartLen {
		return "", ErrMalformedKey
	}
	return presented[:len(Tag)+prefixRandLen], nil
}

// Digest hashes a presented key for comparison against stored rows.
func Digest(presented string) string {
	return internal.HashCredential(presented)
}

// DigestsEqual compares a presented digest with a stored one in constant
// time.
func DigestsEqual(a, b string) bool {
	return internal.DigestsEqual(a, b)
}
