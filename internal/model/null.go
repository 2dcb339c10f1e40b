package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// NullFloat is a float64 that may be undefined. It is used wherever a value
// depends on raster overlap, so that "no data" is never confused with zero.
type NullFloat struct {
	Value float64
	Valid bool
}

// Some returns a defined NullFloat. NaN and infinities are treated as undefined.
func Some(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NullFloat{}
	}
	return NullFloat{Value: v, Valid: true}
}

// None returns an undefined NullFloat.
func None() NullFloat { return NullFloat{} }

// Greater reports whether the value is defined and strictly greater than t.
func (n NullFloat) Greater(t float64) bool {
	return n.Valid && n.Value > t
}

// Ptr returns a pointer to the value, or nil when undefined.
func (n NullFloat) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Any returns the value as an interface, nil when undefined.
func (n NullFloat) Any() any {
	if !n.Valid {
		return nil
	}
	return n.Value
}

// Format renders the value with the given precision (-1 = shortest), or ""
// when undefined.
func (n NullFloat) Format(prec int) string {
	if !n.Valid {
		return ""
	}
	return strconv.FormatFloat(n.Value, 'f', prec, 64)
}

// MarshalJSON encodes an undefined value as null.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON decodes null as an undefined value.
func (n *NullFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}

// Ratio returns num/den as a defined value, or undefined when den is zero.
func Ratio(num, den float64) NullFloat {
	if den == 0 {
		return NullFloat{}
	}
	return Some(num / den)
}

// Percent returns part/whole*100, undefined when whole is zero.
func Percent(part, whole int) NullFloat {
	if whole == 0 {
		return NullFloat{}
	}
	return Some(float64(part) / float64(whole) * 100)
}
