package token

import "time"

// RefreshToken is one member of a rotation family. Only the SHA-256 digest of
// the opaque secret is stored; the plaintext never touches the database.
//
// Revoked rows are kept until they expire so that a consumed token presented
// again is recognized as reuse rather than treated as unknown.
type RefreshToken struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;index"`
	TokenHash string    `gorm:"column:token_hash;uniqueIndex"`
	FamilyID  string    `gorm:"column:family_id;index"`
	IsRevoked bool      `gorm:"column:is_revoked"`
	ExpiresAt time.Time `gorm:"column:expires_at;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName implements the gorm table naming hook.
func (RefreshToken) TableName() string { return "refresh_tokens" }

// Expired reports whether the row is past its expiry at the given instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
