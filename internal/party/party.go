// Package party models the two kinds of stock-holding entities goods move between.
package party

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind tags which collaborator owns the identifier.
type Kind string

const (
	// KindWarehouse marks a warehouse id.
	KindWarehouse Kind = "warehouse"
	// KindEquipment marks an equipment unit id.
	KindEquipment Kind = "equipment"
)

// ErrInvalidParty is returned when a kind/id combination cannot be parsed.
var ErrInvalidParty = errors.New("party: invalid reference")

// Party is either Warehouse(id) or Equipment(id). The zero value is "no party".
// Fields are unexported so only the constructors can produce a value.
type Party struct {
	kind Kind
	id   uuid.UUID
}

// Warehouse references a warehouse.
func Warehouse(id uuid.UUID) Party {
	return Party{kind: KindWarehouse, id: id}
}

// Equipment references an equipment unit.
func Equipment(id uuid.UUID) Party {
	return Party{kind: KindEquipment, id: id}
}

// New builds a party from its SQL/JSON pieces.
func New(kind Kind, id uuid.UUID) (Party, error) {
	if id == uuid.Nil {
		return Party{}, fmt.Errorf("%w: empty id", ErrInvalidParty)
	}
	switch kind {
	case KindWarehouse:
		return Warehouse(id), nil
	case KindEquipment:
		return Equipment(id), nil
	default:
		return Party{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidParty, kind)
	}
}

// Parse reads the "<kind>:<uuid>" form.
func Parse(s string) (Party, error) {
	kind, raw, ok := strings.Cut(s, ":")
	if !ok {
		return Party{}, fmt.Errorf("%w: %q", ErrInvalidParty, s)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Party{}, fmt.Errorf("%w: %v", ErrInvalidParty, err)
	}
	return New(Kind(kind), id)
}

// Kind returns the party kind.
func (p Party) Kind() Kind { return p.kind }

// ID returns the opaque collaborator id.
func (p Party) ID() uuid.UUID { return p.id }

// IsZero reports whether p references nothing.
func (p Party) IsZero() bool { return p.kind == "" }

// IsWarehouse reports whether p is a warehouse.
func (p Party) IsWarehouse() bool { return p.kind == KindWarehouse }

// IsEquipment reports whether p is an equipment unit.
func (p Party) IsEquipment() bool { return p.kind == KindEquipment }

func (p Party) String() string {
	if p.IsZero() {
		return ""
	}
	return string(p.kind) + ":" + p.id.String()
}

// MarshalJSON encodes the party as {"type": ..., "id": ...}.
func (p Party) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(wireParty{Type: p.kind, ID: p.id})
}

// UnmarshalJSON decodes {"type": ..., "id": ...}.
func (p *Party) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Party{}
		return nil
	}
	var w wireParty
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := New(w.Type, w.ID)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type wireParty struct {
	Type Kind      `json:"type"`
	ID   uuid.UUID `json:"id"`
}

// Columns returns nullable (kind, id) values for a pair of SQL columns.
func (p Party) Columns() (any, any) {
	if p.IsZero() {
		return nil, nil
	}
	return string(p.kind), p.id
}

// FromColumns rebuilds a party scanned from nullable (kind, id) columns.
func FromColumns(kind *string, id *uuid.UUID) (Party, error) {
	if kind == nil || id == nil {
		return Party{}, nil
	}
	return New(Kind(*kind), *id)
}
