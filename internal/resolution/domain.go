// Package resolution closes discrepancies flagged at acceptance. Every call writes one
// Resolution and one ledger row, and drives the owning transaction through resolving
// to resolved.
package resolution

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
)

// Type names a corrective action.
type Type string

const (
	// AcknowledgeLoss writes the missing quantity off.
	AcknowledgeLoss Type = "ACKNOWLEDGE_LOSS"
	// CountingError replaces the counted quantity with the corrected one.
	CountingError Type = "COUNTING_ERROR"
	// FoundItems credits recovered missing quantity.
	FoundItems Type = "FOUND_ITEMS"
	// ReportTheft writes the missing quantity off and raises an external follow-up.
	ReportTheft Type = "REPORT_THEFT"
	// AcceptSurplus keeps an over-received quantity.
	AcceptSurplus Type = "ACCEPT_SURPLUS"
	// ReturnToSender ships an over-received quantity back in a new transaction.
	ReturnToSender Type = "RETURN_TO_SENDER"
)

var applicable = map[inventory.StockStatus][]Type{
	inventory.StatusMissing:      {AcknowledgeLoss, CountingError, FoundItems, ReportTheft},
	inventory.StatusOverReceived: {AcceptSurplus, ReturnToSender, CountingError},
}

// IsValid checks if the type is known.
func (t Type) IsValid() bool {
	switch t {
	case AcknowledgeLoss, CountingError, FoundItems, ReportTheft, AcceptSurplus, ReturnToSender:
		return true
	default:
		return false
	}
}

// AppliesTo reports whether t can close a record flagged with status.
func (t Type) AppliesTo(status inventory.StockStatus) bool {
	for _, candidate := range applicable[status] {
		if candidate == t {
			return true
		}
	}
	return false
}

// Resolution is the immutable record of one corrective action.
type Resolution struct {
	ID                  uuid.UUID             `json:"id"`
	StockRecordID       uuid.UUID             `json:"stockRecordId"`
	TransactionID       uuid.UUID             `json:"transactionId"`
	Type                Type                  `json:"resolutionType"`
	Notes               string                `json:"notes,omitempty"`
	ResolvedBy          string                `json:"resolvedBy"`
	ResolvedAt          time.Time             `json:"resolvedAt"`
	OriginalStatus      inventory.StockStatus `json:"originalStatus"`
	OriginalQuantity    decimal.Decimal       `json:"originalQuantity"`
	CorrectedQuantity   *decimal.Decimal      `json:"correctedQuantity,omitempty"`
	FullyResolved       bool                  `json:"fullyResolved"`
	FollowUp            bool                  `json:"followUp"`
	ReturnTransactionID *uuid.UUID            `json:"returnTransactionId,omitempty"`
	MovementID          uuid.UUID             `json:"movementId"`
}

// ResolveInput requests one corrective action on a flagged record.
type ResolveInput struct {
	StockRecordID     uuid.UUID
	Type              Type
	Notes             string
	CorrectedQuantity *decimal.Decimal
	Actor             string
}

// Outcome is what a Resolve call committed.
type Outcome struct {
	Resolution  Resolution            `json:"resolution"`
	StockRecord inventory.StockRecord `json:"stockRecord"`
	Transaction *transfer.Transaction `json:"transaction,omitempty"`
	Return      *transfer.Transaction `json:"returnTransaction,omitempty"`
}

var (
	// ErrUnknownType indicates an unsupported resolution type.
	ErrUnknownType = fmt.Errorf("resolution: unknown type: %w", shared.ErrValidation)
	// ErrNotApplicable indicates a type that does not fit the record's flag.
	ErrNotApplicable = fmt.Errorf("resolution: type not applicable: %w", shared.ErrValidation)
	// ErrCorrectedQuantityRequired indicates COUNTING_ERROR without a corrected quantity.
	ErrCorrectedQuantityRequired = fmt.Errorf("resolution: corrected quantity required: %w", shared.ErrValidation)
	// ErrInvalidQuantity indicates a corrected quantity out of range.
	ErrInvalidQuantity = fmt.Errorf("resolution: invalid corrected quantity: %w", shared.ErrValidation)
	// ErrAlreadyResolved indicates a record already closed by a full resolution.
	ErrAlreadyResolved = fmt.Errorf("resolution: stock record already resolved: %w", shared.ErrInvalidTransition)
	// ErrNotFlagged indicates a record that carries no discrepancy.
	ErrNotFlagged = fmt.Errorf("resolution: stock record has no discrepancy: %w", shared.ErrInvalidTransition)
)
