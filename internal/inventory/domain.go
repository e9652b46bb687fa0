package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// StockStatus tags a stock record.
type StockStatus string

const (
	// StatusInStock is ordinary available stock.
	StatusInStock StockStatus = "in_stock"
	// StatusPending is stock announced but not yet set aside.
	StatusPending StockStatus = "pending"
	// StatusDelivering is stock set aside by the sender for a transaction in flight.
	StatusDelivering StockStatus = "delivering"
	// StatusMissing flags a receipt short of the requested quantity.
	StatusMissing StockStatus = "missing"
	// StatusOverReceived flags a receipt above the requested quantity.
	StatusOverReceived StockStatus = "over_received"
	// StatusConsumed marks stock fully used up by equipment.
	StatusConsumed StockStatus = "consumed"
	// StatusResolved marks a flagged record closed by the resolution workflow.
	StatusResolved StockStatus = "resolved"
)

// IsValid checks if the status is valid.
func (s StockStatus) IsValid() bool {
	switch s {
	case StatusInStock, StatusPending, StatusDelivering, StatusMissing, StatusOverReceived, StatusConsumed, StatusResolved:
		return true
	default:
		return false
	}
}

// Flagged reports whether the record carries an unresolved discrepancy status.
func (s StockStatus) Flagged() bool {
	return s == StatusMissing || s == StatusOverReceived
}

// Available reports whether the record can be drawn from.
func (s StockStatus) Available() bool {
	return s == StatusInStock || s == StatusResolved
}

// StockRecord is one parcel of stock held by a warehouse (an item) or an
// equipment unit (a consumable).
type StockRecord struct {
	ID                uuid.UUID       `json:"id"`
	ItemTypeID        uuid.UUID       `json:"itemTypeId"`
	Holder            party.Party     `json:"holder"`
	Quantity          decimal.Decimal `json:"quantity"`
	ExpectedQuantity  decimal.Decimal `json:"expectedQuantity"`
	Status            StockStatus     `json:"status"`
	Resolved          bool            `json:"resolved"`
	TransactionID     uuid.UUID       `json:"transactionId"`
	TransactionItemID uuid.UUID       `json:"transactionItemId"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Kind names the record the way the holder's domain does.
func (r StockRecord) Kind() string {
	if r.Holder.IsEquipment() {
		return "consumable"
	}
	return "item"
}

// Shortfall is the quantity still missing against the expected quantity.
func (r StockRecord) Shortfall() decimal.Decimal {
	d := r.ExpectedQuantity.Sub(r.Quantity)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Surplus is the quantity received above the expected quantity.
func (r StockRecord) Surplus() decimal.Decimal {
	d := r.Quantity.Sub(r.ExpectedQuantity)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MovementType enumerates ledger row kinds.
type MovementType string

const (
	// MovementIn is stock entering a holder from outside the tracked parties.
	MovementIn MovementType = "in"
	// MovementTransfer is an acceptance outcome: the expected quantity leaves the
	// source and the actual quantity arrives at the destination.
	MovementTransfer MovementType = "transfer"
	// MovementReserve sets stock aside within the sender.
	MovementReserve MovementType = "reserve"
	// MovementRelease returns reserved stock within the sender.
	MovementRelease MovementType = "release"
	// MovementConsumed is stock used up by equipment.
	MovementConsumed MovementType = "consumed"
	// MovementLoss writes stock off.
	MovementLoss MovementType = "loss"
	// MovementFound records recovered stock.
	MovementFound MovementType = "found"
	// MovementAdjustment corrects a counted quantity; quantity is signed.
	MovementAdjustment MovementType = "adjustment"
	// MovementSurplus records keeping an over-received quantity.
	MovementSurplus MovementType = "surplus"
	// MovementReturn records the decision to ship a surplus back.
	MovementReturn MovementType = "return"
)

// MovementEntry is one immutable ledger row.
type MovementEntry struct {
	ID                uuid.UUID       `json:"id"`
	TransactionID     uuid.UUID       `json:"transactionId"`
	TransactionItemID uuid.UUID       `json:"transactionItemId"`
	StockRecordID     uuid.UUID       `json:"stockRecordId"`
	ItemTypeID        uuid.UUID       `json:"itemTypeId"`
	Source            party.Party     `json:"source"`
	Destination       party.Party     `json:"destination"`
	Quantity          decimal.Decimal `json:"quantity"`
	ExpectedQuantity  decimal.Decimal `json:"expectedQuantity"`
	Type              MovementType    `json:"movementType"`
	Status            StockStatus     `json:"status"`
	IsDiscrepancy     bool            `json:"isDiscrepancy"`
	MovementDate      time.Time       `json:"movementDate"`
	RecordedBy        string          `json:"recordedBy"`
	Notes             string          `json:"notes"`
}

// Effect returns how this row changes holder's balance for its item type.
func (m MovementEntry) Effect(holder party.Party) decimal.Decimal {
	if holder.IsZero() {
		return decimal.Zero
	}
	effect := decimal.Zero
	switch m.Type {
	case MovementIn, MovementFound, MovementAdjustment:
		if m.Destination == holder {
			effect = effect.Add(m.Quantity)
		}
	case MovementTransfer:
		if m.Source == holder {
			effect = effect.Sub(m.ExpectedQuantity)
		}
		if m.Destination == holder {
			effect = effect.Add(m.Quantity)
		}
	case MovementConsumed, MovementLoss:
		if m.Source == holder {
			effect = effect.Sub(m.Quantity)
		}
	}
	return effect
}

// StockFilter narrows stock listings.
type StockFilter struct {
	Holder        party.Party
	ItemTypeID    uuid.UUID
	Status        StockStatus
	TransactionID uuid.UUID
	OnlyFlagged   bool
	Limit         int
}

// MovementFilter narrows ledger queries. Holder matches either side of a row.
type MovementFilter struct {
	TransactionID     uuid.UUID
	StockRecordID     uuid.UUID
	Holder            party.Party
	ItemTypeID        uuid.UUID
	Type              MovementType
	OnlyDiscrepancies bool
	From              time.Time
	To                time.Time
	Limit             int
}

// InboundInput describes stock entering from outside the tracked parties.
type InboundInput struct {
	Holder     party.Party
	ItemTypeID uuid.UUID
	Quantity   decimal.Decimal
	Notes      string
	Actor      string
}

// ConsumeInput describes equipment using up consumables.
type ConsumeInput struct {
	Holder     party.Party
	ItemTypeID uuid.UUID
	Quantity   decimal.Decimal
	Notes      string
	Actor      string
}

// HolderItem identifies one holder's balance of one item type.
type HolderItem struct {
	Holder     party.Party
	ItemTypeID uuid.UUID
}

// Reconciliation compares the ledger against live stock records.
type Reconciliation struct {
	Holder        party.Party     `json:"holder"`
	ItemTypeID    uuid.UUID       `json:"itemTypeId"`
	LedgerBalance decimal.Decimal `json:"ledgerBalance"`
	StockBalance  decimal.Decimal `json:"stockBalance"`
	Movements     int             `json:"movements"`
	Balanced      bool            `json:"balanced"`
}

// QuantityScale is the number of fractional digits stored for a quantity.
const QuantityScale = 4

// quantityLimit bounds the integer part of a stored NUMERIC(18,4) quantity.
var quantityLimit = decimal.New(1, 18-QuantityScale)

// Representable reports whether q is stored without rounding or overflow.
func Representable(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(QuantityScale)) && q.Abs().LessThan(quantityLimit)
}

// SummaryLine aggregates one item type for a holder.
type SummaryLine struct {
	ItemTypeID    uuid.UUID       `json:"itemTypeId"`
	ItemTypeName  string          `json:"itemTypeName"`
	MeasuringUnit string          `json:"measuringUnit"`
	OnHand        decimal.Decimal `json:"onHand"`
	InTransit     decimal.Decimal `json:"inTransit"`
	Flagged       decimal.Decimal `json:"flagged"`
	OpenFlags     int             `json:"openFlags"`
	MinQuantity   decimal.Decimal `json:"minQuantity"`
	BelowMinimum  bool            `json:"belowMinimum"`
}

var (
	// ErrStockNotFound indicates an unknown stock record.
	ErrStockNotFound = fmt.Errorf("inventory: stock record %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity or one with more than
	// QuantityScale fractional digits.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrHolderRequired indicates a missing holder reference.
	ErrHolderRequired = fmt.Errorf("inventory: holder and item type required: %w", shared.ErrValidation)
	// ErrNotEquipment indicates consumption requested for a non-equipment holder.
	ErrNotEquipment = fmt.Errorf("inventory: only equipment consumes stock: %w", shared.ErrValidation)
	// ErrInsufficientStock triggered when a debit exceeds available stock.
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient available stock: %w", shared.ErrConflict)
	// ErrUnpairedMutation indicates a ledger row that does not describe the record it accompanies.
	ErrUnpairedMutation = fmt.Errorf("inventory: ledger row does not match stock record: %w", shared.ErrValidation)
)
