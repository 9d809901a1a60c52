package adapter

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is a JSON field that exchanges send either as a string or as a
// bare number. Decoding never fails: values that cannot be interpreted are
// kept verbatim and rejected later by the parse helpers.
type Number struct {
	raw string
	set bool
}

// NumberOf builds a Number from its textual form. Empty means unset.
func NumberOf(s string) Number {
	s = strings.TrimSpace(s)
	return Number{raw: s, set: s != ""}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*n = Number{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = Number{raw: string(b), set: true}
			return nil
		}
		*n = NumberOf(s)
	default:
		*n = Number{raw: string(b), set: true}
	}
	return nil
}

// IsSet reports whether the field was present and non-empty.
func (n Number) IsSet() bool { return n.set }

func (n Number) String() string { return n.raw }

// Decimal parses the value as a finite decimal.
func (n Number) Decimal() (decimal.Decimal, bool) {
	if !n.set {
		return decimal.Decimal{}, false
	}
	f, err := strconv.ParseFloat(n.raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.raw)
	if err != nil {
		return decimal.NewFromFloat(f), true
	}
	return d, true
}

// Float64 parses the value as a finite float.
func (n Number) Float64() (float64, bool) {
	if !n.set {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int64 parses the value as an integer, truncating fractional input.
func (n Number) Int64() (int64, bool) {
	if !n.set {
		return 0, false
	}
	if i, err := strconv.ParseInt(n.raw, 10, 64); err == nil {
		return i, true
	}
	f, ok := n.Float64()
	if !ok {
		return 0, false
	}
	return int64(f), true
}
