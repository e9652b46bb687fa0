package resolution

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
)

// plan computes the record change and the ledger row of one resolution. The record
// is closed only when full is true; a partial FOUND_ITEMS leaves it flagged.
func plan(rec inventory.StockRecord, in ResolveInput, at time.Time) (next inventory.StockRecord, m inventory.MovementEntry, full bool, err error) {
	next = rec
	m = inventory.MovementEntry{
		Destination:  rec.Holder,
		RecordedBy:   in.Actor,
		Notes:        in.Notes,
		MovementDate: at,
	}
	switch in.Type {
	case AcknowledgeLoss, ReportTheft:
		m.Type = inventory.MovementLoss
		m.Quantity = rec.Shortfall()
		m.ExpectedQuantity = rec.Shortfall()
		full = true
	case CountingError:
		if in.CorrectedQuantity == nil {
			return rec, m, false, ErrCorrectedQuantityRequired
		}
		corrected := *in.CorrectedQuantity
		if corrected.IsNegative() || !inventory.Representable(corrected) {
			return rec, m, false, ErrInvalidQuantity
		}
		m.Type = inventory.MovementAdjustment
		m.Quantity = corrected.Sub(rec.Quantity)
		m.ExpectedQuantity = rec.ExpectedQuantity
		next.Quantity = corrected
		full = true
	case FoundItems:
		shortfall := rec.Shortfall()
		found := shortfall
		if in.CorrectedQuantity != nil {
			found = *in.CorrectedQuantity
		}
		if !found.IsPositive() || !inventory.Representable(found) || found.GreaterThan(shortfall) {
			return rec, m, false, fmt.Errorf("%w: found %s, missing %s", ErrInvalidQuantity, found, shortfall)
		}
		m.Type = inventory.MovementFound
		m.Quantity = found
		m.ExpectedQuantity = shortfall
		next.Quantity = rec.Quantity.Add(found)
		full = next.Quantity.GreaterThanOrEqual(rec.ExpectedQuantity)
	case AcceptSurplus:
		m.Type = inventory.MovementSurplus
		m.Quantity = rec.Surplus()
		m.ExpectedQuantity = rec.Surplus()
		full = true
	case ReturnToSender:
		m.Type = inventory.MovementReturn
		m.Source = rec.Holder
		m.Quantity = rec.Surplus()
		m.ExpectedQuantity = rec.Surplus()
		full = true
	default:
		return rec, m, false, ErrUnknownType
	}

	next.UpdatedAt = at
	if full {
		next.Status = inventory.StatusResolved
		next.Resolved = true
	}
	return next, m, full, nil
}
