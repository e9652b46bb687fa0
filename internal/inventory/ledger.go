package inventory

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
)

// Reconstruct sums the effect of every row for (holder, itemType). Rows for other
// item types are ignored so callers can pass a wider history.
func Reconstruct(entries []MovementEntry, holder party.Party, itemTypeID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, m := range entries {
		if m.ItemTypeID != itemTypeID {
			continue
		}
		total = total.Add(m.Effect(holder))
	}
	return total
}

// Balance sums live record quantities for (holder, itemType), whatever their status.
func Balance(records []StockRecord, holder party.Party, itemTypeID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range records {
		if rec.Holder != holder || rec.ItemTypeID != itemTypeID {
			continue
		}
		total = total.Add(rec.Quantity)
	}
	return total
}

// Summarise folds a holder's records into one line per item type, ordered by first appearance.
func Summarise(records []StockRecord) []SummaryLine {
	index := make(map[uuid.UUID]int)
	var lines []SummaryLine
	for _, rec := range records {
		i, ok := index[rec.ItemTypeID]
		if !ok {
			i = len(lines)
			index[rec.ItemTypeID] = i
			lines = append(lines, SummaryLine{
				ItemTypeID: rec.ItemTypeID,
				OnHand:     decimal.Zero,
				InTransit:  decimal.Zero,
				Flagged:    decimal.Zero,
			})
		}
		line := &lines[i]
		switch {
		case rec.Status.Available():
			line.OnHand = line.OnHand.Add(rec.Quantity)
		case rec.Status == StatusDelivering:
			line.InTransit = line.InTransit.Add(rec.Quantity)
		case rec.Status.Flagged():
			line.Flagged = line.Flagged.Add(rec.Quantity)
			if !rec.Resolved {
				line.OpenFlags++
			}
		}
	}
	return lines
}
