package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/db"
)

// Repository persists stock records and the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// GetStock loads one record.
func (r *Repository) GetStock(ctx context.Context, id uuid.UUID) (StockRecord, error) {
	return getStock(ctx, r.pool, id, false)
}

// ListStock lists records matching the filter, oldest first. Limit 0 returns every match.
func (r *Repository) ListStock(ctx context.Context, filter StockFilter) ([]StockRecord, error) {
	var conditions []string
	var args []any
	argPos := 1

	if !filter.Holder.IsZero() {
		kind, id := filter.Holder.Columns()
		conditions = append(conditions, fmt.Sprintf("holder_kind = $%d AND holder_id = $%d", argPos, argPos+1))
		args = append(args, kind, id)
		argPos += 2
	}
	if filter.ItemTypeID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("item_type_id = $%d", argPos))
		args = append(args, filter.ItemTypeID)
		argPos++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}
	if filter.TransactionID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("transaction_id = $%d", argPos))
		args = append(args, filter.TransactionID)
		argPos++
	}
	if filter.OnlyFlagged {
		conditions = append(conditions, "status IN ('missing', 'over_received') AND NOT resolved")
	}

	query := `SELECT ` + stockColumns + ` FROM stock_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}
	return queryStock(ctx, r.pool, query, args...)
}

// ListMovements lists ledger rows matching the filter in recording order. Limit 0
// returns every match.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementEntry, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.TransactionID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("transaction_id = $%d", argPos))
		args = append(args, filter.TransactionID)
		argPos++
	}
	if filter.StockRecordID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("stock_record_id = $%d", argPos))
		args = append(args, filter.StockRecordID)
		argPos++
	}
	if !filter.Holder.IsZero() {
		kind, id := filter.Holder.Columns()
		conditions = append(conditions, fmt.Sprintf(
			"((source_kind = $%d AND source_id = $%d) OR (destination_kind = $%d AND destination_id = $%d))",
			argPos, argPos+1, argPos, argPos+1,
		))
		args = append(args, kind, id)
		argPos += 2
	}
	if filter.ItemTypeID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("item_type_id = $%d", argPos))
		args = append(args, filter.ItemTypeID)
		argPos++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("movement_type = $%d", argPos))
		args = append(args, string(filter.Type))
		argPos++
	}
	if filter.OnlyDiscrepancies {
		conditions = append(conditions, "is_discrepancy")
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("movement_date >= $%d", argPos))
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("movement_date <= $%d", argPos))
		args = append(args, filter.To)
		argPos++
	}

	query := `SELECT ` + movementColumns + ` FROM movements`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []MovementEntry
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

// TouchedSince lists every (holder, item type) pair named as source or destination by
// a ledger row recorded at or after since, in order of first touch.
func (r *Repository) TouchedSince(ctx context.Context, since time.Time) ([]HolderItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT kind, id, item_type_id FROM (
			SELECT source_kind AS kind, source_id AS id, item_type_id, seq
			FROM movements WHERE movement_date >= $1 AND source_id IS NOT NULL
			UNION ALL
			SELECT destination_kind, destination_id, item_type_id, seq
			FROM movements WHERE movement_date >= $1 AND destination_id IS NOT NULL
		) touched
		GROUP BY kind, id, item_type_id
		ORDER BY min(seq)`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HolderItem
	for rows.Next() {
		var (
			kind string
			id   uuid.UUID
			hi   HolderItem
		)
		if err := rows.Scan(&kind, &id, &hi.ItemTypeID); err != nil {
			return nil, err
		}
		if hi.Holder, err = party.FromColumns(&kind, &id); err != nil {
			return nil, err
		}
		out = append(out, hi)
	}
	return out, rows.Err()
}

// TxStore implements TxRepository on any querier, usually a pgx.Tx. Other modules
// embed it so their writes share the stock store's transaction.
type TxStore struct {
	q db.Querier
}

// NewTxStore wraps q.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{q: q}
}

// GetStockForUpdate locks and loads one record.
func (s *TxStore) GetStockForUpdate(ctx context.Context, id uuid.UUID) (StockRecord, error) {
	return getStock(ctx, s.q, id, true)
}

// ListAvailableForUpdate locks the holder's available records of one item type, oldest first.
func (s *TxStore) ListAvailableForUpdate(ctx context.Context, holder party.Party, itemTypeID uuid.UUID) ([]StockRecord, error) {
	kind, id := holder.Columns()
	return queryStock(ctx, s.q, `SELECT `+stockColumns+` FROM stock_records
		WHERE holder_kind = $1 AND holder_id = $2 AND item_type_id = $3
		  AND status IN ('in_stock', 'resolved') AND quantity > 0
		ORDER BY created_at, id
		FOR UPDATE`, kind, id, itemTypeID)
}

// GetDeliveringForUpdate locks the in-flight record reserved for a transaction item.
func (s *TxStore) GetDeliveringForUpdate(ctx context.Context, transactionItemID uuid.UUID) (StockRecord, error) {
	recs, err := queryStock(ctx, s.q, `SELECT `+stockColumns+` FROM stock_records
		WHERE transaction_item_id = $1 AND status = 'delivering'
		FOR UPDATE`, transactionItemID)
	if err != nil {
		return StockRecord{}, err
	}
	if len(recs) == 0 {
		return StockRecord{}, ErrStockNotFound
	}
	return recs[0], nil
}

// ListByTransaction loads every record created for a transaction.
func (s *TxStore) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]StockRecord, error) {
	return queryStock(ctx, s.q, `SELECT `+stockColumns+` FROM stock_records
		WHERE transaction_id = $1 ORDER BY created_at, id`, transactionID)
}

// InsertStock writes a new record.
func (s *TxStore) InsertStock(ctx context.Context, rec StockRecord) error {
	kind, id := rec.Holder.Columns()
	_, err := s.q.Exec(ctx, `INSERT INTO stock_records
		(id, item_type_id, holder_kind, holder_id, quantity, expected_quantity, status, resolved,
		 transaction_id, transaction_item_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.ItemTypeID, kind, id, rec.Quantity, rec.ExpectedQuantity, string(rec.Status), rec.Resolved,
		nullUUID(rec.TransactionID), nullUUID(rec.TransactionItemID), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// UpdateStock overwrites the mutable columns of a record.
func (s *TxStore) UpdateStock(ctx context.Context, rec StockRecord) error {
	kind, id := rec.Holder.Columns()
	tag, err := s.q.Exec(ctx, `UPDATE stock_records
		SET holder_kind = $2, holder_id = $3, quantity = $4, expected_quantity = $5,
		    status = $6, resolved = $7, updated_at = $8
		WHERE id = $1`,
		rec.ID, kind, id, rec.Quantity, rec.ExpectedQuantity, string(rec.Status), rec.Resolved, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockNotFound
	}
	return nil
}

// AppendMovement inserts a ledger row. The table rejects UPDATE and DELETE.
func (s *TxStore) AppendMovement(ctx context.Context, m MovementEntry) error {
	srcKind, srcID := m.Source.Columns()
	dstKind, dstID := m.Destination.Columns()
	_, err := s.q.Exec(ctx, `INSERT INTO movements
		(id, transaction_id, transaction_item_id, stock_record_id, item_type_id,
		 source_kind, source_id, destination_kind, destination_id,
		 quantity, expected_quantity, movement_type, status, is_discrepancy,
		 movement_date, recorded_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		m.ID, nullUUID(m.TransactionID), nullUUID(m.TransactionItemID), m.StockRecordID, m.ItemTypeID,
		srcKind, srcID, dstKind, dstID,
		m.Quantity, m.ExpectedQuantity, string(m.Type), string(m.Status), m.IsDiscrepancy,
		m.MovementDate, m.RecordedBy, m.Notes)
	return err
}

const stockColumns = `id, item_type_id, holder_kind, holder_id, quantity, expected_quantity, status, resolved,
	transaction_id, transaction_item_id, created_at, updated_at`

const movementColumns = `id, transaction_id, transaction_item_id, stock_record_id, item_type_id,
	source_kind, source_id, destination_kind, destination_id,
	quantity, expected_quantity, movement_type, status, is_discrepancy,
	movement_date, recorded_by, notes`

func getStock(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (StockRecord, error) {
	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rec, err := scanStock(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrStockNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func queryStock(ctx context.Context, q db.Querier, query string, args ...any) ([]StockRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StockRecord
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanStock(row pgx.Row) (StockRecord, error) {
	var (
		rec        StockRecord
		holderKind string
		holderID   uuid.UUID
		status     string
		txID       *uuid.UUID
		itemID     *uuid.UUID
	)
	err := row.Scan(&rec.ID, &rec.ItemTypeID, &holderKind, &holderID, &rec.Quantity, &rec.ExpectedQuantity,
		&status, &rec.Resolved, &txID, &itemID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return StockRecord{}, err
	}
	rec.Holder, err = party.FromColumns(&holderKind, &holderID)
	if err != nil {
		return StockRecord{}, err
	}
	rec.Status = StockStatus(status)
	rec.TransactionID = derefUUID(txID)
	rec.TransactionItemID = derefUUID(itemID)
	return rec, nil
}

func scanMovement(row pgx.Row) (MovementEntry, error) {
	var (
		m       MovementEntry
		txID    *uuid.UUID
		itemID  *uuid.UUID
		srcKind *string
		srcID   *uuid.UUID
		dstKind *string
		dstID   *uuid.UUID
		mType   string
		status  string
	)
	err := row.Scan(&m.ID, &txID, &itemID, &m.StockRecordID, &m.ItemTypeID,
		&srcKind, &srcID, &dstKind, &dstID,
		&m.Quantity, &m.ExpectedQuantity, &mType, &status, &m.IsDiscrepancy,
		&m.MovementDate, &m.RecordedBy, &m.Notes)
	if err != nil {
		return MovementEntry{}, err
	}
	if m.Source, err = party.FromColumns(srcKind, srcID); err != nil {
		return MovementEntry{}, err
	}
	if m.Destination, err = party.FromColumns(dstKind, dstID); err != nil {
		return MovementEntry{}, err
	}
	m.TransactionID = derefUUID(txID)
	m.TransactionItemID = derefUUID(itemID)
	m.Type = MovementType(mType)
	m.Status = StockStatus(status)
	return m, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
