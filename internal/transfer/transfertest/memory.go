// Package transfertest provides an in-memory transaction and stock store for tests.
package transfertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
)

// State holds transactions next to the stock state.
type State struct {
	Stock        *inventorytest.State
	Transactions map[uuid.UUID]transfer.Transaction
	Order        []uuid.UUID
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Stock:        inventorytest.NewState(),
		Transactions: make(map[uuid.UUID]transfer.Transaction),
	}
}

// Clone copies the state including item slices.
func (s *State) Clone() *State {
	c := &State{
		Stock:        s.Stock.Clone(),
		Transactions: make(map[uuid.UUID]transfer.Transaction, len(s.Transactions)),
		Order:        append([]uuid.UUID(nil), s.Order...),
	}
	for id, t := range s.Transactions {
		t.Items = append([]transfer.TransactionItem(nil), t.Items...)
		c.Transactions[id] = t
	}
	return c
}

// Get returns a copy of one transaction.
func (s *State) Get(id uuid.UUID) (transfer.Transaction, error) {
	t, ok := s.Transactions[id]
	if !ok {
		return transfer.Transaction{}, transfer.ErrTransactionNotFound
	}
	t.Items = append([]transfer.TransactionItem(nil), t.Items...)
	return t, nil
}

// Tx implements transfer.TxRepository on a State.
type Tx struct {
	inventorytest.Tx
	State *State
}

// NewTx wraps state.
func NewTx(state *State) Tx {
	return Tx{Tx: inventorytest.Tx{S: state.Stock}, State: state}
}

// BatchExists implements transfer.TxRepository.
func (t Tx) BatchExists(_ context.Context, batchNumber int64) (bool, error) {
	for _, tr := range t.State.Transactions {
		if tr.BatchNumber != nil && *tr.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

// InsertTransaction implements transfer.TxRepository. It enforces batch uniqueness
// like the database constraint does.
func (t Tx) InsertTransaction(ctx context.Context, tr transfer.Transaction) error {
	if tr.BatchNumber != nil {
		exists, _ := t.BatchExists(ctx, *tr.BatchNumber)
		if exists {
			return transfer.ErrDuplicateBatchNumber
		}
	}
	tr.Items = append([]transfer.TransactionItem(nil), tr.Items...)
	t.State.Transactions[tr.ID] = tr
	t.State.Order = append(t.State.Order, tr.ID)
	return nil
}

// GetForUpdate implements transfer.TxRepository.
func (t Tx) GetForUpdate(_ context.Context, id uuid.UUID) (transfer.Transaction, error) {
	return t.State.Get(id)
}

// UpdateTransaction implements transfer.TxRepository.
func (t Tx) UpdateTransaction(_ context.Context, tr transfer.Transaction) error {
	if _, ok := t.State.Transactions[tr.ID]; !ok {
		return transfer.ErrTransactionNotFound
	}
	tr.Items = append([]transfer.TransactionItem(nil), tr.Items...)
	t.State.Transactions[tr.ID] = tr
	return nil
}

var _ transfer.RepositoryPort = (*Store)(nil)

// Store implements transfer.RepositoryPort. Writes run on a copy of the state that
// replaces the committed one only when the callback succeeds.
type Store struct {
	mu    sync.Mutex
	state *State
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: NewState()}
}

// Update runs fn on a working copy and commits it when fn succeeds.
func (s *Store) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View runs fn on the committed state under the store lock.
func (s *Store) View(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// WithTx implements transfer.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, transfer.TxRepository) error) error {
	return s.Update(func(st *State) error {
		return fn(ctx, NewTx(st))
	})
}

// Get implements transfer.RepositoryPort.
func (s *Store) Get(_ context.Context, id uuid.UUID) (tr transfer.Transaction, err error) {
	s.View(func(st *State) { tr, err = st.Get(id) })
	return tr, err
}

// GetByBatch implements transfer.RepositoryPort.
func (s *Store) GetByBatch(_ context.Context, batchNumber int64) (tr transfer.Transaction, err error) {
	err = transfer.ErrTransactionNotFound
	s.View(func(st *State) {
		for _, id := range st.Order {
			candidate := st.Transactions[id]
			if candidate.BatchNumber != nil && *candidate.BatchNumber == batchNumber {
				tr, err = st.Get(id)
				return
			}
		}
	})
	return tr, err
}

// List implements transfer.RepositoryPort.
func (s *Store) List(_ context.Context, filter transfer.ListFilter) ([]transfer.Transaction, error) {
	var out []transfer.Transaction
	s.View(func(st *State) {
		for _, id := range st.Order {
			tr, _ := st.Get(id)
			if !filter.Party.IsZero() && tr.Sender != filter.Party && tr.Receiver != filter.Party {
				continue
			}
			if filter.Status != "" && tr.Status != filter.Status {
				continue
			}
			if !filter.From.IsZero() && tr.TransactionDate.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && tr.TransactionDate.After(filter.To) {
				continue
			}
			out = append(out, tr)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Snapshot returns a copy of the committed state.
func (s *Store) Snapshot() *State {
	var c *State
	s.View(func(st *State) { c = st.Clone() })
	return c
}

// Stock exposes the same state through inventory.RepositoryPort.
func (s *Store) Stock() inventory.RepositoryPort {
	return stockView{s}
}

type stockView struct {
	s *Store
}

func (v stockView) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return v.s.Update(func(st *State) error {
		return fn(ctx, inventorytest.Tx{S: st.Stock})
	})
}

func (v stockView) GetStock(_ context.Context, id uuid.UUID) (rec inventory.StockRecord, err error) {
	v.s.View(func(st *State) { rec, err = st.Stock.Get(id) })
	return rec, err
}

func (v stockView) ListStock(_ context.Context, filter inventory.StockFilter) (recs []inventory.StockRecord, err error) {
	v.s.View(func(st *State) { recs = st.Stock.List(filter) })
	return recs, nil
}

func (v stockView) ListMovements(_ context.Context, filter inventory.MovementFilter) (rows []inventory.MovementEntry, err error) {
	v.s.View(func(st *State) { rows = st.Stock.ListMovements(filter) })
	return rows, nil
}

func (v stockView) TouchedSince(_ context.Context, since time.Time) (pairs []inventory.HolderItem, err error) {
	v.s.View(func(st *State) { pairs = st.Stock.TouchedSince(since) })
	return pairs, nil
}
