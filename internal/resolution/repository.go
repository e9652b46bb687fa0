package resolution

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/db"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
)

// Repository persists resolutions in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	stock *inventory.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, stock: inventory.NewRepository(pool)}
}

// WithTx executes the callback inside one database transaction covering
// resolutions, transactions, stock records and the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &TxStore{TxStore: transfer.NewTxStore(tx), q: tx})
	})
}

// GetStock loads a stock record without locking it.
func (r *Repository) GetStock(ctx context.Context, id uuid.UUID) (inventory.StockRecord, error) {
	return r.stock.GetStock(ctx, id)
}

// ListByStock lists resolutions of one record, oldest first.
func (r *Repository) ListByStock(ctx context.Context, stockRecordID uuid.UUID) ([]Resolution, error) {
	return r.query(ctx, `SELECT `+resolutionColumns+` FROM resolutions WHERE stock_record_id = $1 ORDER BY resolved_at, id`, stockRecordID)
}

// ListByTransaction lists resolutions of one transaction, oldest first.
func (r *Repository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]Resolution, error) {
	return r.query(ctx, `SELECT `+resolutionColumns+` FROM resolutions WHERE transaction_id = $1 ORDER BY resolved_at, id`, transactionID)
}

func (r *Repository) query(ctx context.Context, query string, arg any) ([]Resolution, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// TxStore implements TxRepository on a querier.
type TxStore struct {
	*transfer.TxStore
	q db.Querier
}

// InsertResolution writes one resolution row.
func (s *TxStore) InsertResolution(ctx context.Context, res Resolution) error {
	_, err := s.q.Exec(ctx, `INSERT INTO resolutions
		(id, stock_record_id, transaction_id, resolution_type, notes, resolved_by, resolved_at,
		 original_status, original_quantity, corrected_quantity, fully_resolved, follow_up,
		 return_transaction_id, movement_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.ID, res.StockRecordID, nullUUID(res.TransactionID), string(res.Type), res.Notes, res.ResolvedBy, res.ResolvedAt,
		string(res.OriginalStatus), res.OriginalQuantity, res.CorrectedQuantity, res.FullyResolved, res.FollowUp,
		res.ReturnTransactionID, res.MovementID)
	return err
}

const resolutionColumns = `id, stock_record_id, transaction_id, resolution_type, notes, resolved_by, resolved_at,
	original_status, original_quantity, corrected_quantity, fully_resolved, follow_up,
	return_transaction_id, movement_id`

func scanResolution(row pgx.Row) (Resolution, error) {
	var (
		res           Resolution
		transactionID *uuid.UUID
		returnID      *uuid.UUID
		resType       string
		status        string
		corrected     *decimal.Decimal
	)
	if err := row.Scan(&res.ID, &res.StockRecordID, &transactionID, &resType, &res.Notes, &res.ResolvedBy, &res.ResolvedAt,
		&status, &res.OriginalQuantity, &corrected, &res.FullyResolved, &res.FollowUp,
		&returnID, &res.MovementID); err != nil {
		return Resolution{}, err
	}
	res.Type = Type(resType)
	res.OriginalStatus = inventory.StockStatus(status)
	res.CorrectedQuantity = corrected
	if transactionID != nil {
		res.TransactionID = *transactionID
	}
	res.ReturnTransactionID = returnID
	return res, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
