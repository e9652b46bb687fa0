package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/catalog"
	"github.com/odyssey-erp/odyssey-transit/internal/followup"
	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/observability"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// TxRepository exposes transaction and stock writes inside one database transaction.
type TxRepository interface {
	inventory.TxRepository
	BatchExists(ctx context.Context, batchNumber int64) (bool, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error)
	UpdateTransaction(ctx context.Context, t Transaction) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
	GetByBatch(ctx context.Context, batchNumber int64) (Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]Transaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed create requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// FollowUpPort receives discrepancy reports after acceptance commits.
type FollowUpPort interface {
	DiscrepancyDetected(ctx context.Context, payload followup.DiscrepancyPayload) error
}

// Options groups optional collaborators.
type Options struct {
	Idempotency IdempotencyPort
	FollowUp    FollowUpPort
	Metrics     *observability.Engine
	Logger      *slog.Logger
}

// Service coordinates the transaction lifecycle.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	catalog     catalog.Reader
	idempotency IdempotencyPort
	followUp    FollowUpPort
	metrics     *observability.Engine
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, items catalog.Reader, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		catalog:     items,
		idempotency: opts.Idempotency,
		followUp:    opts.FollowUp,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a pending transaction.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transaction, error) {
	tracker := s.metrics.Track("create")
	t, err := s.create(ctx, input)
	return t, tracker.End(err)
}

func (s *Service) create(ctx context.Context, input CreateInput) (Transaction, error) {
	if input.Actor == "" {
		return Transaction{}, shared.ErrActorMissing
	}
	t, err := NewPending(input, s.now())
	if err != nil {
		return Transaction{}, err
	}
	for _, item := range t.Items {
		if _, err := s.catalog.ItemType(ctx, item.ItemTypeID); err != nil {
			return Transaction{}, fmt.Errorf("line %d: %w", item.LineNo, err)
		}
	}

	key := input.IdempotencyKey
	insertedKey := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfer"); err != nil {
			return Transaction{}, err
		}
		insertedKey = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if t.BatchNumber != nil {
			exists, err := tx.BatchExists(ctx, *t.BatchNumber)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateBatchNumber
			}
		}
		return tx.InsertTransaction(ctx, t)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		if errors.Is(err, ErrDuplicateBatchNumber) {
			s.metrics.Conflict("duplicate_batch")
		}
		return Transaction{}, err
	}
	s.record(ctx, input.Actor, "transfer:create", t, map[string]any{
		"sender":   t.Sender.String(),
		"receiver": t.Receiver.String(),
		"items":    len(t.Items),
		"batch":    t.BatchNumber,
	})
	return t, nil
}

// ValidateBatch classifies a batch number for the requesting party.
func (s *Service) ValidateBatch(ctx context.Context, batchNumber int64, requestingPartyID uuid.UUID) (BatchValidation, error) {
	if batchNumber <= 0 {
		return BatchValidation{}, ErrInvalidBatchNumber
	}
	if requestingPartyID == uuid.Nil {
		return BatchValidation{}, ErrPartyRequired
	}
	t, err := s.repo.GetByBatch(ctx, batchNumber)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Classify(nil, requestingPartyID), nil
		}
		return BatchValidation{}, err
	}
	return Classify(&t, requestingPartyID), nil
}

// Dispatch sets the sender's stock aside and moves the transaction to delivering.
func (s *Service) Dispatch(ctx context.Context, id uuid.UUID, actor string) (Transaction, error) {
	tracker := s.metrics.Track("dispatch")
	if actor == "" {
		return Transaction{}, tracker.End(shared.ErrActorMissing)
	}
	var t Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.dispatch(ctx, tx, &t, actor); err != nil {
			return err
		}
		return tx.UpdateTransaction(ctx, t)
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			s.metrics.Conflict("insufficient_stock")
		}
		return Transaction{}, tracker.End(err)
	}
	s.record(ctx, actor, "transfer:dispatch", t, nil)
	return t, tracker.End(nil)
}

func (s *Service) dispatch(ctx context.Context, tx TxRepository, t *Transaction, actor string) error {
	now := s.now()
	if err := t.Transition(StatusDelivering, now); err != nil {
		return err
	}
	for i := range t.Items {
		item := &t.Items[i]
		_, _, err := inventory.Reserve(ctx, tx, inventory.Reservation{
			Sender:            t.Sender,
			Receiver:          t.Receiver,
			ItemTypeID:        item.ItemTypeID,
			Quantity:          item.RequestedQuantity,
			TransactionID:     t.ID,
			TransactionItemID: item.ID,
			Actor:             actor,
			At:                now,
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", item.LineNo, err)
		}
		item.Status = ItemDelivering
	}
	return nil
}

// Accept applies the receiver's counted quantities. A pending transaction is
// dispatched first inside the same database transaction.
func (s *Service) Accept(ctx context.Context, input AcceptInput) (Transaction, error) {
	tracker := s.metrics.Track("accept")
	t, flagged, err := s.accept(ctx, input)
	if err != nil {
		return Transaction{}, tracker.End(err)
	}
	s.metrics.TransactionCompleted(string(t.Status))
	for _, line := range flagged {
		s.metrics.Discrepancy(line.Flag)
	}
	if len(flagged) > 0 && s.followUp != nil {
		payload := followup.DiscrepancyPayload{
			TransactionID: t.ID,
			BatchNumber:   t.BatchNumber,
			Sender:        t.Sender.String(),
			Receiver:      t.Receiver.String(),
			AcceptedBy:    input.Actor,
			Lines:         flagged,
		}
		if err := s.followUp.DiscrepancyDetected(ctx, payload); err != nil {
			s.logger.Warn("enqueue discrepancy follow-up", slog.String("transaction_id", t.ID.String()), slog.Any("error", err))
		}
	}
	s.record(ctx, input.Actor, "transfer:accept", t, map[string]any{
		"status":  t.Status,
		"flagged": len(flagged),
		"comment": input.Comment,
	})
	return t, tracker.End(nil)
}

func (s *Service) accept(ctx context.Context, input AcceptInput) (Transaction, []followup.DiscrepancyLine, error) {
	if input.Actor == "" {
		return Transaction{}, nil, shared.ErrActorMissing
	}
	var (
		t       Transaction
		flagged []followup.DiscrepancyLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, err = tx.GetForUpdate(ctx, input.TransactionID)
		if err != nil {
			return err
		}
		if !t.Status.Open() {
			return fmt.Errorf("%w: cannot accept %s transaction", ErrInvalidTransition, t.Status)
		}
		received, err := receipt(&t, input.Items)
		if err != nil {
			return err
		}
		if t.Status == StatusPending {
			if err := s.dispatch(ctx, tx, &t, input.Actor); err != nil {
				return err
			}
		}

		now := s.now()
		mismatch := false
		for i := range t.Items {
			item := &t.Items[i]
			qty := received[item.ID]
			rec, err := tx.GetDeliveringForUpdate(ctx, item.ID)
			if err != nil {
				return fmt.Errorf("line %d: %w", item.LineNo, err)
			}
			rec, _, outcome, err := inventory.Deliver(ctx, tx, rec, inventory.Delivery{
				Receiver: t.Receiver,
				Received: qty,
				Actor:    input.Actor,
				Notes:    input.Comment,
				At:       now,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", item.LineNo, err)
			}
			item.ReceivedQuantity = &qty
			switch outcome {
			case inventory.OutcomeMatched:
				item.Status = ItemAccepted
				continue
			case inventory.OutcomeShort:
				item.Status = ItemMissing
			case inventory.OutcomeOver:
				item.Status = ItemOverReceived
			}
			mismatch = true
			flagged = append(flagged, followup.DiscrepancyLine{
				TransactionItemID: item.ID,
				StockRecordID:     rec.ID,
				ItemTypeID:        item.ItemTypeID,
				Flag:              string(rec.Status),
				Expected:          item.RequestedQuantity.String(),
				Received:          qty.String(),
			})
		}

		next := StatusAccepted
		if mismatch {
			next = StatusPartiallyAccepted
		}
		if err := t.Transition(next, now); err != nil {
			return err
		}
		t.AcceptanceComment = input.Comment
		return tx.UpdateTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, nil, err
	}
	return t, flagged, nil
}

// receipt checks that every line is reported exactly once with a non-negative quantity.
func receipt(t *Transaction, items []ReceivedItem) (map[uuid.UUID]decimal.Decimal, error) {
	received := make(map[uuid.UUID]decimal.Decimal, len(items))
	for _, r := range items {
		if _, ok := t.Item(r.TransactionItemID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, r.TransactionItemID)
		}
		if _, dup := received[r.TransactionItemID]; dup {
			return nil, fmt.Errorf("%w: %s reported twice", ErrIncompleteReceipt, r.TransactionItemID)
		}
		if r.ReceivedQuantity.IsNegative() {
			return nil, fmt.Errorf("%w: received quantity for %s is negative", ErrInvalidQuantity, r.TransactionItemID)
		}
		if !inventory.Representable(r.ReceivedQuantity) {
			return nil, fmt.Errorf("%w: received quantity for %s exceeds %d decimals", ErrInvalidQuantity, r.TransactionItemID, inventory.QuantityScale)
		}
		received[r.TransactionItemID] = r.ReceivedQuantity
	}
	if len(received) != len(t.Items) {
		return nil, fmt.Errorf("%w: %d of %d reported", ErrIncompleteReceipt, len(received), len(t.Items))
	}
	return received, nil
}

// Reject refuses a pending or delivering transaction. Reserved sender stock is
// released unchanged; receiver stock is never touched.
func (s *Service) Reject(ctx context.Context, input RejectInput) (Transaction, error) {
	tracker := s.metrics.Track("reject")
	if input.Actor == "" {
		return Transaction{}, tracker.End(shared.ErrActorMissing)
	}
	if input.Reason == "" {
		return Transaction{}, tracker.End(ErrReasonRequired)
	}
	var t Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		t, err = tx.GetForUpdate(ctx, input.TransactionID)
		if err != nil {
			return err
		}
		wasDelivering := t.Status == StatusDelivering
		now := s.now()
		if err := t.Transition(StatusRejected, now); err != nil {
			return err
		}
		for i := range t.Items {
			item := &t.Items[i]
			if wasDelivering {
				rec, err := tx.GetDeliveringForUpdate(ctx, item.ID)
				if err != nil {
					return fmt.Errorf("line %d: %w", item.LineNo, err)
				}
				if _, _, err := inventory.Release(ctx, tx, rec, t.Receiver, input.Actor, input.Reason, now); err != nil {
					return fmt.Errorf("line %d: %w", item.LineNo, err)
				}
			}
			item.Status = ItemRejected
			item.RejectionReason = input.Reason
		}
		t.RejectionReason = input.Reason
		return tx.UpdateTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, tracker.End(err)
	}
	s.metrics.TransactionCompleted(string(t.Status))
	s.record(ctx, input.Actor, "transfer:reject", t, map[string]any{"reason": input.Reason})
	return t, tracker.End(nil)
}

// Get loads a transaction by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// GetByBatch loads a transaction by batch number.
func (s *Service) GetByBatch(ctx context.Context, batchNumber int64) (Transaction, error) {
	return s.repo.GetByBatch(ctx, batchNumber)
}

// List lists transactions, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transaction, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("transfer: unknown status %q: %w", filter.Status, shared.ErrValidation)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.List(ctx, filter)
}

func (s *Service) record(ctx context.Context, actor, action string, t Transaction, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "transaction",
		EntityID: t.ID.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
