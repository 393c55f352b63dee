package config

import "strconv"

// Coerce applies the value-typing rule from spec.md §6 to a raw environment
// string: try bool, then float64, then int64, falling back to the original
// string. Nothing else in this module calls it; Config itself is decoded
// through its env struct tags.
func Coerce(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	return raw
}
