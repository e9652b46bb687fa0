// Package inventorytest provides an in-memory stock store for tests.
package inventorytest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/party"
)

// State holds stock records and the ledger. It is not safe for concurrent use; Store
// serialises access.
type State struct {
	Records   map[uuid.UUID]inventory.StockRecord
	Order     []uuid.UUID
	Movements []inventory.MovementEntry
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Records: make(map[uuid.UUID]inventory.StockRecord)}
}

// Clone returns a deep enough copy for snapshot commits.
func (s *State) Clone() *State {
	c := &State{
		Records:   make(map[uuid.UUID]inventory.StockRecord, len(s.Records)),
		Order:     append([]uuid.UUID(nil), s.Order...),
		Movements: append([]inventory.MovementEntry(nil), s.Movements...),
	}
	for id, rec := range s.Records {
		c.Records[id] = rec
	}
	return c
}

// Get loads one record.
func (s *State) Get(id uuid.UUID) (inventory.StockRecord, error) {
	rec, ok := s.Records[id]
	if !ok {
		return inventory.StockRecord{}, inventory.ErrStockNotFound
	}
	return rec, nil
}

// List returns records matching filter in insertion order.
func (s *State) List(filter inventory.StockFilter) []inventory.StockRecord {
	var out []inventory.StockRecord
	for _, id := range s.Order {
		rec := s.Records[id]
		if !filter.Holder.IsZero() && rec.Holder != filter.Holder {
			continue
		}
		if filter.ItemTypeID != uuid.Nil && rec.ItemTypeID != filter.ItemTypeID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.TransactionID != uuid.Nil && rec.TransactionID != filter.TransactionID {
			continue
		}
		if filter.OnlyFlagged && (!rec.Status.Flagged() || rec.Resolved) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// ListMovements returns ledger rows matching filter in recording order.
func (s *State) ListMovements(filter inventory.MovementFilter) []inventory.MovementEntry {
	var out []inventory.MovementEntry
	for _, m := range s.Movements {
		if filter.TransactionID != uuid.Nil && m.TransactionID != filter.TransactionID {
			continue
		}
		if filter.StockRecordID != uuid.Nil && m.StockRecordID != filter.StockRecordID {
			continue
		}
		if !filter.Holder.IsZero() && m.Source != filter.Holder && m.Destination != filter.Holder {
			continue
		}
		if filter.ItemTypeID != uuid.Nil && m.ItemTypeID != filter.ItemTypeID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.OnlyDiscrepancies && !m.IsDiscrepancy {
			continue
		}
		if !filter.From.IsZero() && m.MovementDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.MovementDate.After(filter.To) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// TouchedSince returns the distinct (holder, item type) pairs named by rows recorded
// at or after since, in order of first touch.
func (s *State) TouchedSince(since time.Time) []inventory.HolderItem {
	seen := make(map[inventory.HolderItem]bool)
	var out []inventory.HolderItem
	for _, m := range s.Movements {
		if m.MovementDate.Before(since) {
			continue
		}
		for _, holder := range []party.Party{m.Source, m.Destination} {
			hi := inventory.HolderItem{Holder: holder, ItemTypeID: m.ItemTypeID}
			if holder.IsZero() || seen[hi] {
				continue
			}
			seen[hi] = true
			out = append(out, hi)
		}
	}
	return out
}

// Tx implements inventory.TxRepository directly on a State.
type Tx struct {
	S *State
}

// GetStockForUpdate implements inventory.TxRepository.
func (t Tx) GetStockForUpdate(_ context.Context, id uuid.UUID) (inventory.StockRecord, error) {
	return t.S.Get(id)
}

// ListAvailableForUpdate implements inventory.TxRepository.
func (t Tx) ListAvailableForUpdate(_ context.Context, holder party.Party, itemTypeID uuid.UUID) ([]inventory.StockRecord, error) {
	var out []inventory.StockRecord
	for _, rec := range t.S.List(inventory.StockFilter{Holder: holder, ItemTypeID: itemTypeID}) {
		if rec.Status.Available() && rec.Quantity.IsPositive() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetDeliveringForUpdate implements inventory.TxRepository.
func (t Tx) GetDeliveringForUpdate(_ context.Context, transactionItemID uuid.UUID) (inventory.StockRecord, error) {
	for _, id := range t.S.Order {
		rec := t.S.Records[id]
		if rec.TransactionItemID == transactionItemID && rec.Status == inventory.StatusDelivering {
			return rec, nil
		}
	}
	return inventory.StockRecord{}, inventory.ErrStockNotFound
}

// ListByTransaction implements inventory.TxRepository.
func (t Tx) ListByTransaction(_ context.Context, transactionID uuid.UUID) ([]inventory.StockRecord, error) {
	return t.S.List(inventory.StockFilter{TransactionID: transactionID}), nil
}

// InsertStock implements inventory.TxRepository.
func (t Tx) InsertStock(_ context.Context, rec inventory.StockRecord) error {
	t.S.Records[rec.ID] = rec
	t.S.Order = append(t.S.Order, rec.ID)
	return nil
}

// UpdateStock implements inventory.TxRepository.
func (t Tx) UpdateStock(_ context.Context, rec inventory.StockRecord) error {
	if _, ok := t.S.Records[rec.ID]; !ok {
		return inventory.ErrStockNotFound
	}
	t.S.Records[rec.ID] = rec
	return nil
}

// AppendMovement implements inventory.TxRepository.
func (t Tx) AppendMovement(_ context.Context, m inventory.MovementEntry) error {
	t.S.Movements = append(t.S.Movements, m)
	return nil
}

// Store implements inventory.RepositoryPort. WithTx runs on a copy of the state and
// swaps it in only when the callback succeeds.
type Store struct {
	mu    sync.Mutex
	state *State
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: NewState()}
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.Clone()
	if err := fn(ctx, Tx{S: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// GetStock implements inventory.RepositoryPort.
func (s *Store) GetStock(_ context.Context, id uuid.UUID) (inventory.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Get(id)
}

// ListStock implements inventory.RepositoryPort.
func (s *Store) ListStock(_ context.Context, filter inventory.StockFilter) ([]inventory.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.List(filter), nil
}

// ListMovements implements inventory.RepositoryPort.
func (s *Store) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.MovementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListMovements(filter), nil
}

// TouchedSince implements inventory.RepositoryPort.
func (s *Store) TouchedSince(_ context.Context, since time.Time) ([]inventory.HolderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TouchedSince(since), nil
}

// Snapshot returns a copy of the committed state.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}
