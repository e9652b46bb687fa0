package httpx

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

// NewValidator returns a validator that understands decimal quantities and parties,
// so DTOs can use tags such as `validate:"required"` on a party and `gt=0` on a quantity.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		p, ok := field.Interface().(party.Party)
		if !ok {
			return nil
		}
		return p.String()
	}, party.Party{})
	return v
}

// QueryUUID parses an optional uuid query parameter.
func QueryUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %w", shared.ErrValidation, key, err)
	}
	return id, nil
}

// QueryParty parses an optional "<kind>:<uuid>" query parameter.
func QueryParty(r *http.Request, key string) (party.Party, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return party.Party{}, nil
	}
	p, err := party.Parse(raw)
	if err != nil {
		return party.Party{}, fmt.Errorf("%w: %s: %w", shared.ErrValidation, key, err)
	}
	return p, nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", shared.ErrValidation, key, err)
	}
	return n, nil
}

// QueryTime parses an optional RFC3339 timestamp or YYYY-MM-DD date query parameter.
// A bare date used as an upper bound covers the whole day.
func QueryTime(r *http.Request, key string, endOfDay bool) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", shared.ErrValidation, key, err)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// URLUUID parses a uuid chi-style path value already extracted by the caller.
func URLUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: id: %w", shared.ErrValidation, err)
	}
	return id, nil
}
