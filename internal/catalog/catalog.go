// Package catalog exposes the item-type taxonomy owned by the master-data collaborator.
// The engine only reads it: measuring unit for display and minimum quantity for
// low-stock flags.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// ItemType describes a stock item type.
type ItemType struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	MeasuringUnit string          `json:"measuringUnit"`
	MinQuantity   decimal.Decimal `json:"minQuantity"`
}

// ErrItemTypeNotFound is returned for unknown item type ids.
var ErrItemTypeNotFound = fmt.Errorf("catalog: item type %w", shared.ErrNotFound)

// Reader resolves item types.
type Reader interface {
	ItemType(ctx context.Context, id uuid.UUID) (ItemType, error)
}

// Repository reads item types from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ItemType loads one item type.
func (r *Repository) ItemType(ctx context.Context, id uuid.UUID) (ItemType, error) {
	var it ItemType
	err := r.pool.QueryRow(ctx, `SELECT id, name, measuring_unit, min_quantity FROM item_types WHERE id=$1`, id).
		Scan(&it.ID, &it.Name, &it.MeasuringUnit, &it.MinQuantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ItemType{}, ErrItemTypeNotFound
		}
		return ItemType{}, err
	}
	return it, nil
}

// Static is an in-memory Reader, handy for tests and fixtures.
type Static map[uuid.UUID]ItemType

// ItemType implements Reader.
func (s Static) ItemType(_ context.Context, id uuid.UUID) (ItemType, error) {
	it, ok := s[id]
	if !ok {
		return ItemType{}, ErrItemTypeNotFound
	}
	return it, nil
}
