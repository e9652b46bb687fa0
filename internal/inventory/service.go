package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/catalog"
	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, id uuid.UUID) (StockRecord, error)
	ListStock(ctx context.Context, filter StockFilter) ([]StockRecord, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]MovementEntry, error)
	TouchedSince(ctx context.Context, since time.Time) ([]HolderItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock queries and the mutations that happen outside transactions.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	catalog catalog.Reader
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. audit may be nil; a nil logger falls back to slog.Default.
func NewService(repo RepositoryPort, audit AuditPort, items catalog.Reader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, catalog: items, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ReceiveInbound books stock arriving from outside the tracked parties.
func (s *Service) ReceiveInbound(ctx context.Context, input InboundInput) (StockRecord, error) {
	if input.Actor == "" {
		return StockRecord{}, shared.ErrActorMissing
	}
	if _, err := s.catalog.ItemType(ctx, input.ItemTypeID); err != nil {
		return StockRecord{}, err
	}
	var rec StockRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, _, err = Receive(ctx, tx, input, s.now())
		return err
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.record(ctx, input.Actor, "inventory:inbound", rec.ID, map[string]any{
		"holder":       rec.Holder.String(),
		"item_type_id": rec.ItemTypeID,
		"qty":          rec.Quantity.String(),
		"note":         input.Notes,
	})
	return rec, nil
}

// Consume debits equipment consumables.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) ([]MovementEntry, error) {
	if input.Actor == "" {
		return nil, shared.ErrActorMissing
	}
	var entries []MovementEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = Consume(ctx, tx, input, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, input.Actor, "inventory:consume", input.Holder.ID(), map[string]any{
		"holder":       input.Holder.String(),
		"item_type_id": input.ItemTypeID,
		"qty":          input.Quantity.String(),
		"records":      len(entries),
	})
	return entries, nil
}

// GetStock loads one record.
func (s *Service) GetStock(ctx context.Context, id uuid.UUID) (StockRecord, error) {
	return s.repo.GetStock(ctx, id)
}

// ListStock lists records.
func (s *Service) ListStock(ctx context.Context, filter StockFilter) ([]StockRecord, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("inventory: unknown status %q: %w", filter.Status, shared.ErrValidation)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListStock(ctx, filter)
}

// History lists ledger rows in recording order.
func (s *Service) History(ctx context.Context, filter MovementFilter) ([]MovementEntry, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("inventory: range end before start: %w", shared.ErrValidation)
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListMovements(ctx, filter)
}

// Discrepancies lists ledger rows whose actual quantity differed from the expected one.
func (s *Service) Discrepancies(ctx context.Context, filter MovementFilter) ([]MovementEntry, error) {
	filter.OnlyDiscrepancies = true
	return s.History(ctx, filter)
}

// Reconcile rebuilds a holder's balance from the ledger and compares it with live records.
func (s *Service) Reconcile(ctx context.Context, holder party.Party, itemTypeID uuid.UUID) (Reconciliation, error) {
	if holder.IsZero() || itemTypeID == uuid.Nil {
		return Reconciliation{}, ErrHolderRequired
	}
	entries, err := s.repo.ListMovements(ctx, MovementFilter{Holder: holder, ItemTypeID: itemTypeID})
	if err != nil {
		return Reconciliation{}, err
	}
	records, err := s.repo.ListStock(ctx, StockFilter{Holder: holder, ItemTypeID: itemTypeID})
	if err != nil {
		return Reconciliation{}, err
	}
	ledger := Reconstruct(entries, holder, itemTypeID)
	stock := Balance(records, holder, itemTypeID)
	return Reconciliation{
		Holder:        holder,
		ItemTypeID:    itemTypeID,
		LedgerBalance: ledger,
		StockBalance:  stock,
		Movements:     len(entries),
		Balanced:      ledger.Equal(stock),
	}, nil
}

// ReconcileSince reconciles every (holder, item type) pair touched by a ledger row
// recorded at or after since. Results keep first-touch order.
func (s *Service) ReconcileSince(ctx context.Context, since time.Time) ([]Reconciliation, error) {
	pairs, err := s.repo.TouchedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	out := make([]Reconciliation, 0, len(pairs))
	for _, p := range pairs {
		rc, err := s.Reconcile(ctx, p.Holder, p.ItemTypeID)
		if err != nil {
			return nil, fmt.Errorf("inventory: reconcile %s: %w", p.Holder, err)
		}
		out = append(out, rc)
	}
	return out, nil
}

// Summary reports per item type totals for a holder, with catalog minimums.
func (s *Service) Summary(ctx context.Context, holder party.Party) ([]SummaryLine, error) {
	if holder.IsZero() {
		return nil, ErrHolderRequired
	}
	records, err := s.repo.ListStock(ctx, StockFilter{Holder: holder})
	if err != nil {
		return nil, err
	}
	lines := Summarise(records)
	for i := range lines {
		it, err := s.catalog.ItemType(ctx, lines[i].ItemTypeID)
		if err != nil {
			if errors.Is(err, catalog.ErrItemTypeNotFound) {
				continue
			}
			return nil, err
		}
		lines[i].ItemTypeName = it.Name
		lines[i].MeasuringUnit = it.MeasuringUnit
		lines[i].MinQuantity = it.MinQuantity
		lines[i].BelowMinimum = it.MinQuantity.GreaterThan(decimal.Zero) && lines[i].OnHand.LessThan(it.MinQuantity)
	}
	return lines, nil
}

func (s *Service) record(ctx context.Context, actor, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "stock_record",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
