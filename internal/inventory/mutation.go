package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
)

// TxRepository exposes the stock store and ledger inside one database transaction.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, id uuid.UUID) (StockRecord, error)
	ListAvailableForUpdate(ctx context.Context, holder party.Party, itemTypeID uuid.UUID) ([]StockRecord, error)
	GetDeliveringForUpdate(ctx context.Context, transactionItemID uuid.UUID) (StockRecord, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]StockRecord, error)
	InsertStock(ctx context.Context, rec StockRecord) error
	UpdateStock(ctx context.Context, rec StockRecord) error
	AppendMovement(ctx context.Context, m MovementEntry) error
}

// Insert writes a new stock record together with the ledger row describing it.
func Insert(ctx context.Context, tx TxRepository, rec StockRecord, m MovementEntry) (MovementEntry, error) {
	m, err := pair(rec, m)
	if err != nil {
		return MovementEntry{}, err
	}
	if err := tx.InsertStock(ctx, rec); err != nil {
		return MovementEntry{}, fmt.Errorf("inventory: insert stock: %w", err)
	}
	if err := tx.AppendMovement(ctx, m); err != nil {
		return MovementEntry{}, fmt.Errorf("inventory: append movement: %w", err)
	}
	return m, nil
}

// Apply updates an existing stock record together with the ledger row describing the
// change. Every status change of a record goes through here or Insert.
func Apply(ctx context.Context, tx TxRepository, rec StockRecord, m MovementEntry) (MovementEntry, error) {
	m, err := pair(rec, m)
	if err != nil {
		return MovementEntry{}, err
	}
	if err := tx.UpdateStock(ctx, rec); err != nil {
		return MovementEntry{}, fmt.Errorf("inventory: update stock: %w", err)
	}
	if err := tx.AppendMovement(ctx, m); err != nil {
		return MovementEntry{}, fmt.Errorf("inventory: append movement: %w", err)
	}
	return m, nil
}

func pair(rec StockRecord, m MovementEntry) (MovementEntry, error) {
	if m.StockRecordID == uuid.Nil {
		m.StockRecordID = rec.ID
	}
	if m.ItemTypeID == uuid.Nil {
		m.ItemTypeID = rec.ItemTypeID
	}
	if m.StockRecordID != rec.ID || m.ItemTypeID != rec.ItemTypeID {
		return MovementEntry{}, ErrUnpairedMutation
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.TransactionID == uuid.Nil {
		m.TransactionID = rec.TransactionID
	}
	if m.TransactionItemID == uuid.Nil {
		m.TransactionItemID = rec.TransactionItemID
	}
	if m.Status == "" {
		m.Status = rec.Status
	}
	if m.MovementDate.IsZero() {
		m.MovementDate = rec.UpdatedAt
	}
	return m, nil
}

// Reservation sets part of the sender's available stock aside for one transaction item.
type Reservation struct {
	Sender            party.Party
	Receiver          party.Party
	ItemTypeID        uuid.UUID
	Quantity          decimal.Decimal
	TransactionID     uuid.UUID
	TransactionItemID uuid.UUID
	Actor             string
	Notes             string
	At                time.Time
}

// Reserve draws the quantity from the sender's available records, oldest first, and
// parks it in one delivering record. Every debited record and the delivering record
// get their own reserve row; the sender's balance does not change.
func Reserve(ctx context.Context, tx TxRepository, in Reservation) (StockRecord, MovementEntry, error) {
	if !in.Quantity.IsPositive() || !Representable(in.Quantity) {
		return StockRecord{}, MovementEntry{}, ErrInvalidQuantity
	}
	available, err := tx.ListAvailableForUpdate(ctx, in.Sender, in.ItemTypeID)
	if err != nil {
		return StockRecord{}, MovementEntry{}, err
	}
	total := decimal.Zero
	for _, rec := range available {
		total = total.Add(rec.Quantity)
	}
	if total.LessThan(in.Quantity) {
		return StockRecord{}, MovementEntry{}, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientStock, in.Sender, total, in.Quantity)
	}
	remaining := in.Quantity
	for _, rec := range available {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(rec.Quantity, remaining)
		if !take.IsPositive() {
			continue
		}
		rec.Quantity = rec.Quantity.Sub(take)
		rec.UpdatedAt = in.At
		if _, err := Apply(ctx, tx, rec, MovementEntry{
			TransactionID:     in.TransactionID,
			TransactionItemID: in.TransactionItemID,
			Source:            in.Sender,
			Destination:       in.Receiver,
			Quantity:          take,
			ExpectedQuantity:  take,
			Type:              MovementReserve,
			RecordedBy:        in.Actor,
			Notes:             in.Notes,
		}); err != nil {
			return StockRecord{}, MovementEntry{}, fmt.Errorf("inventory: debit stock: %w", err)
		}
		remaining = remaining.Sub(take)
	}

	reserved := StockRecord{
		ID:                uuid.New(),
		ItemTypeID:        in.ItemTypeID,
		Holder:            in.Sender,
		Quantity:          in.Quantity,
		ExpectedQuantity:  in.Quantity,
		Status:            StatusDelivering,
		TransactionID:     in.TransactionID,
		TransactionItemID: in.TransactionItemID,
		CreatedAt:         in.At,
		UpdatedAt:         in.At,
	}
	m, err := Insert(ctx, tx, reserved, MovementEntry{
		Source:           in.Sender,
		Destination:      in.Receiver,
		Quantity:         in.Quantity,
		ExpectedQuantity: in.Quantity,
		Type:             MovementReserve,
		RecordedBy:       in.Actor,
		Notes:            in.Notes,
	})
	if err != nil {
		return StockRecord{}, MovementEntry{}, err
	}
	return reserved, m, nil
}

// Release returns a delivering record to the sender's available stock unchanged.
func Release(ctx context.Context, tx TxRepository, rec StockRecord, receiver party.Party, actor, notes string, at time.Time) (StockRecord, MovementEntry, error) {
	if rec.Status != StatusDelivering {
		return StockRecord{}, MovementEntry{}, fmt.Errorf("inventory: release %s record: %w", rec.Status, ErrUnpairedMutation)
	}
	rec.Status = StatusInStock
	rec.UpdatedAt = at
	m, err := Apply(ctx, tx, rec, MovementEntry{
		Source:           receiver,
		Destination:      rec.Holder,
		Quantity:         rec.Quantity,
		ExpectedQuantity: rec.Quantity,
		Type:             MovementRelease,
		RecordedBy:       actor,
		Notes:            notes,
	})
	if err != nil {
		return StockRecord{}, MovementEntry{}, err
	}
	return rec, m, nil
}

// Delivery hands a delivering record over to the receiver with the counted quantity.
type Delivery struct {
	Receiver party.Party
	Received decimal.Decimal
	Actor    string
	Notes    string
	At       time.Time
}

// Outcome classifies a received quantity against the requested one.
type Outcome string

const (
	// OutcomeMatched means received == requested.
	OutcomeMatched Outcome = "matched"
	// OutcomeShort means received < requested.
	OutcomeShort Outcome = "short"
	// OutcomeOver means received > requested.
	OutcomeOver Outcome = "over"
)

// Classify compares received against expected.
func Classify(expected, received decimal.Decimal) Outcome {
	switch received.Cmp(expected) {
	case 0:
		return OutcomeMatched
	case -1:
		return OutcomeShort
	default:
		return OutcomeOver
	}
}

// Deliver moves the record to the receiver. A mismatch flags the record (missing or
// over_received) and leaves it unresolved; the received quantity is credited as is.
func Deliver(ctx context.Context, tx TxRepository, rec StockRecord, in Delivery) (StockRecord, MovementEntry, Outcome, error) {
	if rec.Status != StatusDelivering {
		return StockRecord{}, MovementEntry{}, "", fmt.Errorf("inventory: deliver %s record: %w", rec.Status, ErrUnpairedMutation)
	}
	if in.Received.IsNegative() || !Representable(in.Received) {
		return StockRecord{}, MovementEntry{}, "", ErrInvalidQuantity
	}
	sender := rec.Holder
	expected := rec.Quantity
	outcome := Classify(expected, in.Received)

	rec.Holder = in.Receiver
	rec.Quantity = in.Received
	rec.ExpectedQuantity = expected
	rec.Resolved = false
	rec.UpdatedAt = in.At
	switch outcome {
	case OutcomeMatched:
		rec.Status = StatusInStock
	case OutcomeShort:
		rec.Status = StatusMissing
	case OutcomeOver:
		rec.Status = StatusOverReceived
	}
	m, err := Apply(ctx, tx, rec, MovementEntry{
		Source:           sender,
		Destination:      in.Receiver,
		Quantity:         in.Received,
		ExpectedQuantity: expected,
		Type:             MovementTransfer,
		IsDiscrepancy:    outcome != OutcomeMatched,
		RecordedBy:       in.Actor,
		Notes:            in.Notes,
	})
	if err != nil {
		return StockRecord{}, MovementEntry{}, "", err
	}
	return rec, m, outcome, nil
}

// Receive books stock arriving from outside the tracked parties.
func Receive(ctx context.Context, tx TxRepository, in InboundInput, at time.Time) (StockRecord, MovementEntry, error) {
	if in.Holder.IsZero() || in.ItemTypeID == uuid.Nil {
		return StockRecord{}, MovementEntry{}, ErrHolderRequired
	}
	if !in.Quantity.IsPositive() || !Representable(in.Quantity) {
		return StockRecord{}, MovementEntry{}, ErrInvalidQuantity
	}
	rec := StockRecord{
		ID:         uuid.New(),
		ItemTypeID: in.ItemTypeID,
		Holder:     in.Holder,
		Quantity:   in.Quantity,
		Status:     StatusInStock,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	m, err := Insert(ctx, tx, rec, MovementEntry{
		Destination:      in.Holder,
		Quantity:         in.Quantity,
		ExpectedQuantity: in.Quantity,
		Type:             MovementIn,
		RecordedBy:       in.Actor,
		Notes:            in.Notes,
	})
	if err != nil {
		return StockRecord{}, MovementEntry{}, err
	}
	return rec, m, nil
}

// Consume debits equipment stock oldest first. Each touched record gets its own
// consumed row; exhausted records become consumed.
func Consume(ctx context.Context, tx TxRepository, in ConsumeInput, at time.Time) ([]MovementEntry, error) {
	if in.Holder.IsZero() || in.ItemTypeID == uuid.Nil {
		return nil, ErrHolderRequired
	}
	if !in.Holder.IsEquipment() {
		return nil, ErrNotEquipment
	}
	if !in.Quantity.IsPositive() || !Representable(in.Quantity) {
		return nil, ErrInvalidQuantity
	}
	available, err := tx.ListAvailableForUpdate(ctx, in.Holder, in.ItemTypeID)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, rec := range available {
		total = total.Add(rec.Quantity)
	}
	if total.LessThan(in.Quantity) {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientStock, in.Holder, total, in.Quantity)
	}

	var entries []MovementEntry
	remaining := in.Quantity
	for _, rec := range available {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(rec.Quantity, remaining)
		if !take.IsPositive() {
			continue
		}
		rec.Quantity = rec.Quantity.Sub(take)
		rec.UpdatedAt = at
		if rec.Quantity.IsZero() {
			rec.Status = StatusConsumed
		}
		m, err := Apply(ctx, tx, rec, MovementEntry{
			Source:           in.Holder,
			Quantity:         take,
			ExpectedQuantity: take,
			Type:             MovementConsumed,
			RecordedBy:       in.Actor,
			Notes:            in.Notes,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
		remaining = remaining.Sub(take)
	}
	return entries, nil
}
