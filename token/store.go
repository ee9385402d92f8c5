package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no live row matches the given digest. Expired
	// rows are reported as not found.
	ErrNotFound = errors.New("token: not found")

	// ErrHashExists indicates a row with the same digest is already stored.
	ErrHashExists = errors.New("token: hash already stored")

	// ErrConsumeRace indicates the conditional consume lost: the row was
	// already revoked when the update ran.
	ErrConsumeRace = errors.New("token: already consumed")

	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("token: store unavailable")
)

// Store persists refresh tokens in SQLite via gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore returns a Store backed by the given gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Save inserts a new token row. A digest collision with an existing row is
// rejected with ErrHashExists.
func (s *Store) Save(ctx context.Context, t *RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrHashExists
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// FindByHash returns the row matching the given digest, revoked or not.
// Expired rows are excluded so an expired token behaves exactly like an
// unknown one.
func (s *Store) FindByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	var t RefreshToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", hash, s.now()).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &t, nil
}

// Rotate atomically consumes the current row and inserts its successor in one
// transaction. The consume is conditional on the row still being live; if it
// was already revoked the transaction aborts with ErrConsumeRace and no
// successor is written. Exactly one of two concurrent calls for the same row
// can succeed.
func (s *Store) Rotate(ctx context.Context, currentID string, successor *RefreshToken) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RefreshToken{}).
			Where("id = ? AND is_revoked = ?", currentID, false).
			Update("is_revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConsumeRace
		}
		return tx.Create(successor).Error
	})
	if err != nil {
		if errors.Is(err, ErrConsumeRace) {
			return ErrConsumeRace
		}
		if isUniqueViolation(err) {
			return ErrHashExists
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeFamily marks every row of the family revoked and returns how many
// rows were still live. Rows are kept so later presentations of family
// members keep surfacing as reuse.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("family_id = ? AND is_revoked = ?", familyID, false).
		Update("is_revoked", true)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// RevokeByHash marks the single row matching the digest revoked. It returns
// false when no live row matched.
func (s *Store) RevokeByHash(ctx context.Context, hash string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("token_hash = ? AND is_revoked = ?", hash, false).
		Update("is_revoked", true)
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RevokeAllForUser marks every live row of the user revoked, across all
// families and devices, and returns the count.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Update("is_revoked", true)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired removes rows past their expiry and returns the count.
// Revoked rows that have not yet expired are left in place for reuse
// detection.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// CountLiveForFamily returns how many unrevoked, unexpired rows the family
// still has.
func (s *Store) CountLiveForFamily(ctx context.Context, familyID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("family_id = ? AND is_revoked = ? AND expires_at > ?", familyID, false, s.now()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// The modernc driver reports constraint violations as plain strings, so the
// gorm error translator cannot classify them.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
