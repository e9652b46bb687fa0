package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/db"
)

// batchNumberConstraint is the unique constraint guarding transactions.batch_number.
const batchNumberConstraint = "transactions_batch_number_key"

// Repository persists transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a read-committed transaction spanning
// transactions, stock records and the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// Get loads a transaction with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return getTransaction(ctx, r.pool, `WHERE id = $1`, id)
}

// GetByBatch loads a transaction by batch number.
func (r *Repository) GetByBatch(ctx context.Context, batchNumber int64) (Transaction, error) {
	return getTransaction(ctx, r.pool, `WHERE batch_number = $1`, batchNumber)
}

// List lists transactions newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transaction, error) {
	var conditions []string
	var args []any
	argPos := 1

	if !filter.Party.IsZero() {
		kind, id := filter.Party.Columns()
		conditions = append(conditions, fmt.Sprintf(
			"((sender_kind = $%d AND sender_id = $%d) OR (receiver_kind = $%d AND receiver_id = $%d))",
			argPos, argPos+1, argPos, argPos+1,
		))
		args = append(args, kind, id)
		argPos += 2
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("transaction_date >= $%d", argPos))
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("transaction_date <= $%d", argPos))
		args = append(args, filter.To)
		argPos++
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", argPos)
	args = append(args, filter.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		txs = append(txs, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range txs {
		items, err := listItems(ctx, r.pool, txs[i].ID, false)
		if err != nil {
			return nil, err
		}
		txs[i].Items = items
	}
	return txs, nil
}

// TxStore implements TxRepository on a querier. It embeds the stock store so one
// database transaction covers every table.
type TxStore struct {
	*inventory.TxStore
	q db.Querier
}

// NewTxStore wraps q.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{TxStore: inventory.NewTxStore(q), q: q}
}

// BatchExists reports whether a transaction already uses the batch number.
func (s *TxStore) BatchExists(ctx context.Context, batchNumber int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE batch_number = $1)`, batchNumber).Scan(&exists)
	return exists, err
}

// InsertTransaction writes a transaction and its items. A batch-number collision
// surfaces as ErrDuplicateBatchNumber.
func (s *TxStore) InsertTransaction(ctx context.Context, t Transaction) error {
	senderKind, senderID := t.Sender.Columns()
	receiverKind, receiverID := t.Receiver.Columns()
	_, err := s.q.Exec(ctx, `INSERT INTO transactions
		(id, batch_number, status, sender_kind, sender_id, receiver_kind, receiver_id, sent_first,
		 purpose, rejection_reason, acceptance_comment, parent_transaction_id, created_by,
		 transaction_date, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.BatchNumber, string(t.Status), senderKind, senderID, receiverKind, receiverID, t.SentFirst,
		t.Purpose, t.RejectionReason, t.AcceptanceComment, t.ParentTransactionID, t.CreatedBy,
		t.TransactionDate, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		if db.IsUniqueViolation(err, batchNumberConstraint) {
			return ErrDuplicateBatchNumber
		}
		return err
	}
	for _, item := range t.Items {
		_, err := s.q.Exec(ctx, `INSERT INTO transaction_items
			(id, transaction_id, line_no, item_type_id, requested_quantity, received_quantity, status, rejection_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, t.ID, item.LineNo, item.ItemTypeID, item.RequestedQuantity, item.ReceivedQuantity,
			string(item.Status), item.RejectionReason)
		if err != nil {
			return fmt.Errorf("transfer: insert item %d: %w", item.LineNo, err)
		}
	}
	return nil
}

// GetForUpdate locks the transaction row and loads it with its items.
func (s *TxStore) GetForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	t, err := scanTransaction(s.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Items, err = listItems(ctx, s.q, id, true)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// UpdateTransaction writes the mutable columns of a transaction and its items.
func (s *TxStore) UpdateTransaction(ctx context.Context, t Transaction) error {
	tag, err := s.q.Exec(ctx, `UPDATE transactions
		SET status = $2, rejection_reason = $3, acceptance_comment = $4, updated_at = $5, completed_at = $6
		WHERE id = $1`,
		t.ID, string(t.Status), t.RejectionReason, t.AcceptanceComment, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	for _, item := range t.Items {
		_, err := s.q.Exec(ctx, `UPDATE transaction_items
			SET received_quantity = $2, status = $3, rejection_reason = $4
			WHERE id = $1`,
			item.ID, item.ReceivedQuantity, string(item.Status), item.RejectionReason)
		if err != nil {
			return fmt.Errorf("transfer: update item %d: %w", item.LineNo, err)
		}
	}
	return nil
}

const transactionColumns = `id, batch_number, status, sender_kind, sender_id, receiver_kind, receiver_id, sent_first,
	purpose, rejection_reason, acceptance_comment, parent_transaction_id, created_by,
	transaction_date, created_at, updated_at, completed_at`

func getTransaction(ctx context.Context, q db.Querier, where string, arg any) (Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Items, err = listItems(ctx, q, t.ID, false)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t            Transaction
		status       string
		senderKind   string
		senderID     uuid.UUID
		receiverKind string
		receiverID   uuid.UUID
		parentID     *uuid.UUID
		completedAt  *time.Time
	)
	err := row.Scan(&t.ID, &t.BatchNumber, &status, &senderKind, &senderID, &receiverKind, &receiverID, &t.SentFirst,
		&t.Purpose, &t.RejectionReason, &t.AcceptanceComment, &parentID, &t.CreatedBy,
		&t.TransactionDate, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return Transaction{}, err
	}
	if t.Sender, err = party.FromColumns(&senderKind, &senderID); err != nil {
		return Transaction{}, err
	}
	if t.Receiver, err = party.FromColumns(&receiverKind, &receiverID); err != nil {
		return Transaction{}, err
	}
	t.Status = Status(status)
	t.ParentTransactionID = parentID
	t.CompletedAt = completedAt
	return t, nil
}

func listItems(ctx context.Context, q db.Querier, transactionID uuid.UUID, forUpdate bool) ([]TransactionItem, error) {
	query := `SELECT id, transaction_id, line_no, item_type_id, requested_quantity, received_quantity, status, rejection_reason
		FROM transaction_items WHERE transaction_id = $1 ORDER BY line_no`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransactionItem
	for rows.Next() {
		var (
			item     TransactionItem
			received *decimal.Decimal
			status   string
		)
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.LineNo, &item.ItemTypeID, &item.RequestedQuantity,
			&received, &status, &item.RejectionReason); err != nil {
			return nil, err
		}
		item.ReceivedQuantity = received
		item.Status = ItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}
