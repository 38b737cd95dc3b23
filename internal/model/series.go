package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is an optional indicator reading. Valid is false while the
// indicator is still warming up.
type Value struct {
	Float float64
	Valid bool
}

// Some wraps a defined reading.
func Some(f float64) Value { return Value{Float: f, Valid: true} }

// None is the absent reading.
var None = Value{}

// Get returns the float and whether it is defined.
func (v Value) Get() (float64, bool) { return v.Float, v.Valid }

// Or returns the reading or fallback when absent.
func (v Value) Or(fallback float64) float64 {
	if !v.Valid {
		return fallback
	}
	return v.Float
}

func (v Value) String() string {
	if !v.Valid {
		return "None"
	}
	return strconv.FormatFloat(v.Float, 'g', -1, 64)
}

// MarshalJSON encodes an absent reading as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = None
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("indicator value: %w", err)
	}
	*v = Some(f)
	return nil
}

// Value implements driver.Valuer so a reading stores as a nullable REAL.
func (v Value) Value() (driver.Value, error) {
	if !v.Valid {
		return nil, nil
	}
	return v.Float, nil
}

// Scan implements sql.Scanner.
func (v *Value) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		*v = None
	case float64:
		*v = Some(x)
	case int64:
		*v = Some(float64(x))
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return fmt.Errorf("scan indicator value: %w", err)
		}
		*v = Some(f)
	default:
		return fmt.Errorf("scan indicator value: unsupported type %T", src)
	}
	return nil
}

// Series is an indicator output aligned index-for-index with its input.
type Series []Value

// NoneSeries returns n absent readings.
func NoneSeries(n int) Series { return make(Series, n) }

// Defined counts the readings that are present.
func (s Series) Defined() int {
	n := 0
	for _, v := range s {
		if v.Valid {
			n++
		}
	}
	return n
}

// Last returns the final defined reading, if any.
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Valid {
			return s[i].Float, true
		}
	}
	return 0, false
}
