package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no row matched.
	ErrNotFound = errors.New("apikey: not found")

	// ErrNameExists indicates the user already has a key with that name.
	ErrNameExists = errors.New("apikey: name already in use")

	// ErrHashExists indicates a digest collision with an existing key.
	ErrHashExists = errors.New("apikey: hash already stored")

	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("apikey: store unavailable")
)

// Store persists API keys in SQLite via gorm.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by the given gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new key row. Key names are unique per user.
func (s *Store) Create(ctx context.Context, k *Key) error {
	if err := s.db.WithContext(ctx).Create(k).Error; err != nil {
		switch {
		case isUniqueViolation(err, "key_hash"):
			return ErrHashExists
		case isUniqueViolation(err, ""):
			return ErrNameExists
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// FindCandidatesByPrefix returns every row sharing the prefix, active or
// not. The caller settles which candidate, if any, matches by digest
// comparison.
func (s *Store) FindCandidatesByPrefix(ctx context.Context, keyPrefix string) ([]Key, error) {
	var keys []Key
	err := s.db.WithContext(ctx).
		Where("key_prefix = ?", keyPrefix).
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

// FindForUser returns the key only when it belongs to the given user.
func (s *Store) FindForUser(ctx context.Context, id, userID string) (*Key, error) {
	var k Key
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&k).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &k, nil
}

// ListForUser returns all keys of the user, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Key, error) {
	var keys []Key
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

// Update persists the mutable fields of the key. The secret, prefix, and
// ownership columns never change after creation.
func (s *Store) Update(ctx context.Context, k *Key) error {
	res := s.db.WithContext(ctx).Model(&Key{}).
		Where("id = ? AND user_id = ?", k.ID, k.UserID).
		Select("key_name", "scopes", "is_active", "rate_limit_per_minute", "expires_at", "updated_at").
		Updates(k)
	if res.Error != nil {
		if isUniqueViolation(res.Error, "") {
			return ErrNameExists
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the key when it belongs to the given user.
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&Key{})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed records a successful validation. Failures here never affect
// the request that triggered the touch.
func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Key{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// The modernc driver names the violated column in the error text, which is
// the only way to tell a digest collision from a name conflict.
func isUniqueViolation(err error, column string) bool {
	if err == nil || !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return false
	}
	return column == "" || strings.Contains(err.Error(), column)
}
