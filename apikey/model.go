package apikey

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Scopes is the set of permissions attached to a key, stored as a JSON array
// in a TEXT column.
type Scopes []string

// Has reports whether the exact scope is present. There is no wildcard
// matching; a key authorized for everything carries every scope explicitly.
func (s Scopes) Has(scope string) bool {
	for _, have := range s {
		if have == scope {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s Scopes) Value() (driver.Value, error) {
	if s == nil {
		s = Scopes{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (s *Scopes) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), s)
	case []byte:
		return json.Unmarshal(v, s)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("scopes: cannot scan %T", src)
	}
}

// Key is a stored API key. Only the SHA-256 digest of the secret is kept;
// KeyPrefix narrows candidate lookup without exposing the secret.
type Key struct {
	ID                 string     `gorm:"column:id;primaryKey"`
	UserID             string     `gorm:"column:user_id;index"`
	TenantID           string     `gorm:"column:tenant_id"`
	KeyName            string     `gorm:"column:key_name"`
	KeyPrefix          string     `gorm:"column:key_prefix;index"`
	KeyHash            string     `gorm:"column:key_hash;uniqueIndex"`
	IsActive           bool       `gorm:"column:is_active"`
	ExpiresAt          *time.Time `gorm:"column:expires_at"`
	LastUsedAt         *time.Time `gorm:"column:last_used_at"`
	RateLimitPerMinute int        `gorm:"column:rate_limit_per_minute"`
	Scopes             Scopes     `gorm:"column:scopes"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

// TableName implements the gorm table naming hook.
func (Key) TableName() string { return "api_keys" }

// Expired reports whether the key is past its optional expiry.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Usable reports whether the key may authenticate requests at the given
// instant.
func (k *Key) Usable(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

// ErrMalformedKey is returned for presented secrets that cannot be a key we
// issued.
var ErrMalformedKey = errors.New("apikey: malformed key")
