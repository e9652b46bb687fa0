// Package transfer owns the stock transaction lifecycle: creation, dispatch,
// acceptance with discrepancy detection, rejection and batch-number lookup.
package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// Status represents transaction status.
type Status string

const (
	StatusPending           Status = "pending"
	StatusDelivering        Status = "delivering"
	StatusAccepted          Status = "accepted"
	StatusRejected          Status = "rejected"
	StatusPartiallyAccepted Status = "partially_accepted"
	StatusPartiallyRejected Status = "partially_rejected"
	StatusResolving         Status = "resolving"
	StatusResolved          Status = "resolved"
)

var transitions = map[Status][]Status{
	StatusPending:           {StatusDelivering, StatusRejected},
	StatusDelivering:        {StatusAccepted, StatusPartiallyAccepted, StatusRejected},
	StatusPartiallyAccepted: {StatusResolving},
	StatusPartiallyRejected: {StatusResolving},
	StatusResolving:         {StatusResolved},
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDelivering, StatusAccepted, StatusRejected,
		StatusPartiallyAccepted, StatusPartiallyRejected, StatusResolving, StatusResolved:
		return true
	default:
		return false
	}
}

// CanTransition reports whether to directly follows s.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusResolved
}

// Open reports whether the receiver may still accept or reject.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusDelivering
}

// AwaitingResolution reports whether flagged records of the transaction can be resolved.
func (s Status) AwaitingResolution() bool {
	return s == StatusPartiallyAccepted || s == StatusPartiallyRejected || s == StatusResolving
}

// ItemStatus represents the outcome of one transaction line.
type ItemStatus string

const (
	ItemPending      ItemStatus = "pending"
	ItemDelivering   ItemStatus = "delivering"
	ItemAccepted     ItemStatus = "accepted"
	ItemMissing      ItemStatus = "missing"
	ItemOverReceived ItemStatus = "over_received"
	ItemRejected     ItemStatus = "rejected"
)

// Transaction moves goods from a sender party to a receiver party.
type Transaction struct {
	ID                  uuid.UUID         `json:"id"`
	BatchNumber         *int64            `json:"batchNumber,omitempty"`
	Status              Status            `json:"status"`
	Sender              party.Party       `json:"sender"`
	Receiver            party.Party       `json:"receiver"`
	SentFirst           uuid.UUID         `json:"sentFirst"`
	Purpose             string            `json:"purpose,omitempty"`
	RejectionReason     string            `json:"rejectionReason,omitempty"`
	AcceptanceComment   string            `json:"acceptanceComment,omitempty"`
	ParentTransactionID *uuid.UUID        `json:"parentTransactionId,omitempty"`
	CreatedBy           string            `json:"createdBy"`
	TransactionDate     time.Time         `json:"transactionDate"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	Items               []TransactionItem `json:"items"`
}

// TransactionItem is one requested line of a transaction.
type TransactionItem struct {
	ID                uuid.UUID        `json:"id"`
	TransactionID     uuid.UUID        `json:"transactionId"`
	LineNo            int              `json:"lineNo"`
	ItemTypeID        uuid.UUID        `json:"itemTypeId"`
	RequestedQuantity decimal.Decimal  `json:"requestedQuantity"`
	ReceivedQuantity  *decimal.Decimal `json:"receivedQuantity"`
	Status            ItemStatus       `json:"status"`
	RejectionReason   string           `json:"rejectionReason,omitempty"`
}

// Item finds a line by id.
func (t *Transaction) Item(id uuid.UUID) (*TransactionItem, bool) {
	for i := range t.Items {
		if t.Items[i].ID == id {
			return &t.Items[i], true
		}
	}
	return nil, false
}

// Transition moves the transaction to next along the state machine.
func (t *Transaction) Transition(next Status, at time.Time) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = at
	switch next {
	case StatusAccepted, StatusRejected, StatusPartiallyAccepted, StatusPartiallyRejected, StatusResolved:
		completed := at
		t.CompletedAt = &completed
	}
	return nil
}

// ItemInput is one requested line.
type ItemInput struct {
	ItemTypeID uuid.UUID
	Quantity   decimal.Decimal
}

// CreateInput describes a new transaction. Initiator defaults to the sender.
type CreateInput struct {
	Sender          party.Party
	Receiver        party.Party
	Initiator       party.Party
	BatchNumber     *int64
	Purpose         string
	TransactionDate time.Time
	Items           []ItemInput
	ParentID        uuid.UUID
	IdempotencyKey  string
	Actor           string
}

// ReceivedItem reports the counted quantity of one line.
type ReceivedItem struct {
	TransactionItemID uuid.UUID
	ReceivedQuantity  decimal.Decimal
}

// AcceptInput reports the receipt of every line.
type AcceptInput struct {
	TransactionID uuid.UUID
	Items         []ReceivedItem
	Comment       string
	Actor         string
}

// RejectInput refuses a transaction.
type RejectInput struct {
	TransactionID uuid.UUID
	Reason        string
	Actor         string
}

// ListFilter narrows transaction listings. Party matches either side.
type ListFilter struct {
	Party  party.Party
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}

// NewPending validates input and builds a pending transaction with fresh ids.
func NewPending(in CreateInput, now time.Time) (Transaction, error) {
	if in.Sender.IsZero() || in.Receiver.IsZero() {
		return Transaction{}, ErrPartyRequired
	}
	if in.Sender == in.Receiver {
		return Transaction{}, ErrSameParty
	}
	initiator := in.Initiator
	if initiator.IsZero() {
		initiator = in.Sender
	}
	if initiator != in.Sender && initiator != in.Receiver {
		return Transaction{}, ErrInitiatorNotParty
	}
	if len(in.Items) == 0 {
		return Transaction{}, ErrNoItems
	}
	if in.BatchNumber != nil && *in.BatchNumber <= 0 {
		return Transaction{}, ErrInvalidBatchNumber
	}
	date := in.TransactionDate
	if date.IsZero() {
		date = now
	}
	t := Transaction{
		ID:                  uuid.New(),
		BatchNumber:         in.BatchNumber,
		Status:              StatusPending,
		Sender:              in.Sender,
		Receiver:            in.Receiver,
		SentFirst:           initiator.ID(),
		Purpose:             in.Purpose,
		CreatedBy:           in.Actor,
		TransactionDate:     date,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if in.ParentID != uuid.Nil {
		parent := in.ParentID
		t.ParentTransactionID = &parent
	}
	for i, line := range in.Items {
		if line.ItemTypeID == uuid.Nil {
			return Transaction{}, fmt.Errorf("line %d: %w", i+1, ErrItemTypeRequired)
		}
		if !line.Quantity.IsPositive() || !inventory.Representable(line.Quantity) {
			return Transaction{}, fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
		t.Items = append(t.Items, TransactionItem{
			ID:                uuid.New(),
			TransactionID:     t.ID,
			LineNo:            i + 1,
			ItemTypeID:        line.ItemTypeID,
			RequestedQuantity: line.Quantity,
			Status:            ItemPending,
		})
	}
	return t, nil
}

var (
	// ErrTransactionNotFound indicates an unknown transaction id or batch number.
	ErrTransactionNotFound = fmt.Errorf("transfer: transaction %w", shared.ErrNotFound)
	// ErrItemNotFound indicates a reported line that is not part of the transaction.
	ErrItemNotFound = fmt.Errorf("transfer: transaction item %w", shared.ErrNotFound)
	// ErrDuplicateBatchNumber indicates the batch number is already used.
	ErrDuplicateBatchNumber = fmt.Errorf("transfer: batch number already used: %w", shared.ErrConflict)
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = fmt.Errorf("transfer: %w", shared.ErrInvalidTransition)
	// ErrPartyRequired indicates a missing sender or receiver.
	ErrPartyRequired = fmt.Errorf("transfer: sender and receiver required: %w", shared.ErrValidation)
	// ErrSameParty indicates sender == receiver.
	ErrSameParty = fmt.Errorf("transfer: sender and receiver must differ: %w", shared.ErrValidation)
	// ErrInitiatorNotParty indicates an initiator that is neither sender nor receiver.
	ErrInitiatorNotParty = fmt.Errorf("transfer: initiator must be sender or receiver: %w", shared.ErrValidation)
	// ErrNoItems indicates an empty item list.
	ErrNoItems = fmt.Errorf("transfer: at least one item required: %w", shared.ErrValidation)
	// ErrItemTypeRequired indicates a line without item type.
	ErrItemTypeRequired = fmt.Errorf("transfer: item type required: %w", shared.ErrValidation)
	// ErrInvalidQuantity indicates a non-positive requested or negative received quantity,
	// or one finer than the stored scale.
	ErrInvalidQuantity = fmt.Errorf("transfer: invalid quantity: %w", shared.ErrValidation)
	// ErrInvalidBatchNumber indicates a non-positive batch number.
	ErrInvalidBatchNumber = fmt.Errorf("transfer: batch number must be positive: %w", shared.ErrValidation)
	// ErrIncompleteReceipt indicates an acceptance that does not report every line exactly once.
	ErrIncompleteReceipt = fmt.Errorf("transfer: every item must be reported exactly once: %w", shared.ErrValidation)
	// ErrReasonRequired indicates a rejection without reason.
	ErrReasonRequired = fmt.Errorf("transfer: rejection reason required: %w", shared.ErrValidation)
)
