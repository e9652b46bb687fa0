package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-transit/internal/followup"
	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/observability"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
)

// TxRepository exposes resolution, transaction and stock writes inside one database
// transaction.
type TxRepository interface {
	transfer.TxRepository
	InsertResolution(ctx context.Context, r Resolution) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, id uuid.UUID) (inventory.StockRecord, error)
	ListByStock(ctx context.Context, stockRecordID uuid.UUID) ([]Resolution, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]Resolution, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FollowUpPort receives theft reports after the resolution commits.
type FollowUpPort interface {
	TheftReported(ctx context.Context, payload followup.TheftPayload) error
}

// Options groups optional collaborators.
type Options struct {
	FollowUp FollowUpPort
	Metrics  *observability.Engine
	Logger   *slog.Logger
}

// Service applies resolutions.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	followUp FollowUpPort
	metrics  *observability.Engine
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		followUp: opts.FollowUp,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve applies one corrective action to a flagged stock record.
func (s *Service) Resolve(ctx context.Context, input ResolveInput) (Outcome, error) {
	tracker := s.metrics.Track("resolve")
	out, err := s.resolve(ctx, input)
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			s.metrics.Conflict("already_resolved")
		}
		return Outcome{}, tracker.End(err)
	}
	res := out.Resolution
	s.metrics.Resolution(string(res.Type), res.FullyResolved)
	if out.Transaction != nil && out.Transaction.Status == transfer.StatusResolved {
		s.metrics.TransactionCompleted(string(out.Transaction.Status))
	}
	if res.FollowUp && s.followUp != nil {
		payload := followup.TheftPayload{
			ResolutionID:  res.ID,
			StockRecordID: res.StockRecordID,
			TransactionID: res.TransactionID,
			ItemTypeID:    out.StockRecord.ItemTypeID,
			Holder:        out.StockRecord.Holder.String(),
			Quantity:      out.StockRecord.ExpectedQuantity.Sub(res.OriginalQuantity).String(),
			ReportedBy:    res.ResolvedBy,
			Notes:         res.Notes,
			ReportedAt:    res.ResolvedAt,
		}
		if err := s.followUp.TheftReported(ctx, payload); err != nil {
			s.logger.Warn("enqueue theft follow-up", slog.String("resolution_id", res.ID.String()), slog.Any("error", err))
		}
	}
	meta := map[string]any{
		"type":            res.Type,
		"stock_record_id": res.StockRecordID,
		"fully_resolved":  res.FullyResolved,
	}
	if out.Return != nil {
		meta["return_transaction_id"] = out.Return.ID
	}
	s.record(ctx, input.Actor, "resolution:"+string(res.Type), res.ID, meta)
	return out, tracker.End(nil)
}

func (s *Service) resolve(ctx context.Context, input ResolveInput) (Outcome, error) {
	if input.Actor == "" {
		return Outcome{}, shared.ErrActorMissing
	}
	if !input.Type.IsValid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownType, input.Type)
	}
	if input.CorrectedQuantity != nil && (input.CorrectedQuantity.IsNegative() || !inventory.Representable(*input.CorrectedQuantity)) {
		return Outcome{}, ErrInvalidQuantity
	}
	pre, err := s.repo.GetStock(ctx, input.StockRecordID)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock order: owning transaction, then the record.
		owned := pre.TransactionID != uuid.Nil
		var t transfer.Transaction
		if owned {
			var err error
			if t, err = tx.GetForUpdate(ctx, pre.TransactionID); err != nil {
				return err
			}
		}
		rec, err := tx.GetStockForUpdate(ctx, input.StockRecordID)
		if err != nil {
			return err
		}
		if rec.Resolved || rec.Status == inventory.StatusResolved {
			return ErrAlreadyResolved
		}
		if !rec.Status.Flagged() {
			return fmt.Errorf("%w: status %s", ErrNotFlagged, rec.Status)
		}
		if !input.Type.AppliesTo(rec.Status) || (input.Type == ReturnToSender && !owned) {
			return fmt.Errorf("%w: %s on %s record", ErrNotApplicable, input.Type, rec.Status)
		}
		if owned && !t.Status.AwaitingResolution() {
			return fmt.Errorf("%w: transaction is %s", transfer.ErrInvalidTransition, t.Status)
		}

		now := s.now()
		next, m, full, err := plan(rec, input, now)
		if err != nil {
			return err
		}
		res := Resolution{
			ID:               uuid.New(),
			StockRecordID:    rec.ID,
			TransactionID:    rec.TransactionID,
			Type:             input.Type,
			Notes:            input.Notes,
			ResolvedBy:       input.Actor,
			ResolvedAt:       now,
			OriginalStatus:   rec.Status,
			OriginalQuantity: rec.Quantity,
			FullyResolved:    full,
			FollowUp:         input.Type == ReportTheft,
		}
		switch input.Type {
		case CountingError:
			res.CorrectedQuantity = input.CorrectedQuantity
		case FoundItems:
			found := m.Quantity
			res.CorrectedQuantity = &found
		case ReturnToSender:
			m.Destination = t.Sender
			ret, err := transfer.NewPending(transfer.CreateInput{
				Sender:    rec.Holder,
				Receiver:  t.Sender,
				Initiator: rec.Holder,
				Purpose:   "return of surplus from transaction " + t.ID.String(),
				Items:     []transfer.ItemInput{{ItemTypeID: rec.ItemTypeID, Quantity: rec.Surplus()}},
				ParentID:  t.ID,
				Actor:     input.Actor,
			}, now)
			if err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, ret); err != nil {
				return err
			}
			res.ReturnTransactionID = &ret.ID
			out.Return = &ret
		}

		if m, err = inventory.Apply(ctx, tx, next, m); err != nil {
			return err
		}
		res.MovementID = m.ID
		if err := tx.InsertResolution(ctx, res); err != nil {
			return err
		}
		out.Resolution = res
		out.StockRecord = next

		if !owned {
			return nil
		}
		if t.Status != transfer.StatusResolving {
			if err := t.Transition(transfer.StatusResolving, now); err != nil {
				return err
			}
		}
		open, err := openFlags(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if open == 0 {
			if err := t.Transition(transfer.StatusResolved, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		out.Transaction = &t
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func openFlags(ctx context.Context, tx TxRepository, transactionID uuid.UUID) (int, error) {
	recs, err := tx.ListByTransaction(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	open := 0
	for _, rec := range recs {
		if rec.Status.Flagged() && !rec.Resolved {
			open++
		}
	}
	return open, nil
}

// ListForStock lists the resolutions of one stock record, oldest first.
func (s *Service) ListForStock(ctx context.Context, stockRecordID uuid.UUID) ([]Resolution, error) {
	if _, err := s.repo.GetStock(ctx, stockRecordID); err != nil {
		return nil, err
	}
	return s.repo.ListByStock(ctx, stockRecordID)
}

// ListForTransaction lists the resolutions of every record of one transaction.
func (s *Service) ListForTransaction(ctx context.Context, transactionID uuid.UUID) ([]Resolution, error) {
	if transactionID == uuid.Nil {
		return nil, fmt.Errorf("resolution: transaction id required: %w", shared.ErrValidation)
	}
	return s.repo.ListByTransaction(ctx, transactionID)
}

func (s *Service) record(ctx context.Context, actor, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "resolution",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
