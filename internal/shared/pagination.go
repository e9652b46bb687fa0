package shared

// DefaultPageSize applies when a listing asks for no explicit limit.
const DefaultPageSize = 200

// MaxPageSize caps listing sizes.
const MaxPageSize = 1000

// ClampLimit normalises a requested listing limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
