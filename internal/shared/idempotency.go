package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-transit/internal/platform/db"
)

// ErrIdempotencyConflict indicates the key was already claimed.
var ErrIdempotencyConflict = fmt.Errorf("idempotent request already processed: %w", ErrConflict)

// ErrIdempotencyKeyInvalid indicates a claim without key or module.
var ErrIdempotencyKeyInvalid = fmt.Errorf("idempotency key and module required: %w", ErrValidation)

// IdempotencyStore claims client-supplied request keys in idempotency_keys.
type IdempotencyStore struct {
	q   db.Querier
	now func() time.Time
}

// NewIdempotencyStore constructs the store. q is usually the pool.
func NewIdempotencyStore(q db.Querier) *IdempotencyStore {
	return &IdempotencyStore{q: q, now: time.Now}
}

// CheckAndInsert claims key for module. A key claimed earlier, by any module, is a conflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.q == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return ErrIdempotencyKeyInvalid
	}
	tag, err := s.q.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at)
		VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`, key, module, s.now().UTC())
	if err != nil {
		return fmt.Errorf("idempotency: claim %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases a key so a failed request can be retried with it.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.q.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}
