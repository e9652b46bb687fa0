// Package resolutiontest provides an in-memory store covering resolutions,
// transactions and stock for tests.
package resolutiontest

import (
	"context"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/resolution"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer/transfertest"
)

// Tx implements resolution.TxRepository.
type Tx struct {
	transfertest.Tx
	resolutions *[]resolution.Resolution
}

// InsertResolution implements resolution.TxRepository.
func (t Tx) InsertResolution(_ context.Context, res resolution.Resolution) error {
	*t.resolutions = append(*t.resolutions, res)
	return nil
}

// Store implements resolution.RepositoryPort on top of a transfertest store. The
// resolution list is guarded by the same lock and committed with the same callback.
type Store struct {
	base        *transfertest.Store
	resolutions []resolution.Resolution
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{base: transfertest.NewStore()}
}

// Transfers exposes the store through transfer.RepositoryPort.
func (s *Store) Transfers() *transfertest.Store { return s.base }

// Stock exposes the store through inventory.RepositoryPort.
func (s *Store) Stock() inventory.RepositoryPort { return s.base.Stock() }

// WithTx implements resolution.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, resolution.TxRepository) error) error {
	return s.base.Update(func(st *transfertest.State) error {
		work := append([]resolution.Resolution(nil), s.resolutions...)
		if err := fn(ctx, Tx{Tx: transfertest.NewTx(st), resolutions: &work}); err != nil {
			return err
		}
		s.resolutions = work
		return nil
	})
}

// GetStock implements resolution.RepositoryPort.
func (s *Store) GetStock(ctx context.Context, id uuid.UUID) (inventory.StockRecord, error) {
	return s.base.Stock().GetStock(ctx, id)
}

// ListByStock implements resolution.RepositoryPort.
func (s *Store) ListByStock(_ context.Context, stockRecordID uuid.UUID) ([]resolution.Resolution, error) {
	return s.filter(func(r resolution.Resolution) bool { return r.StockRecordID == stockRecordID }), nil
}

// ListByTransaction implements resolution.RepositoryPort.
func (s *Store) ListByTransaction(_ context.Context, transactionID uuid.UUID) ([]resolution.Resolution, error) {
	return s.filter(func(r resolution.Resolution) bool { return r.TransactionID == transactionID }), nil
}

// Resolutions returns every committed resolution.
func (s *Store) Resolutions() []resolution.Resolution {
	return s.filter(func(resolution.Resolution) bool { return true })
}

func (s *Store) filter(keep func(resolution.Resolution) bool) []resolution.Resolution {
	var out []resolution.Resolution
	s.base.View(func(*transfertest.State) {
		for _, r := range s.resolutions {
			if keep(r) {
				out = append(out, r)
			}
		}
	})
	return out
}
