package databroker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Path names a signal in the data broker tree, e.g.
// "Vehicle.Powertrain.TractionBattery.Temperature.Average".
type Path string

// Scalar is a single numeric or boolean signal value
type Scalar struct {
	isBool bool
	b      bool
	n      float64
}

// Bool creates a boolean scalar
func Bool(b bool) Scalar {
	return Scalar{isBool: true, b: b}
}

// Number creates a numeric scalar
func Number(n float64) Scalar {
	return Scalar{n: n}
}

// IsBool reports whether the scalar holds a boolean
func (s Scalar) IsBool() bool {
	return s.isBool
}

// AsBool returns the boolean value; false for numeric scalars
func (s Scalar) AsBool() bool {
	return s.isBool && s.b
}

// AsNumber returns the numeric value; booleans map to 0 and 1
func (s Scalar) AsNumber() float64 {
	if s.isBool {
		if s.b {
			return 1
		}
		return 0
	}
	return s.n
}

// Truthy is true for a true boolean or a non-zero number
func (s Scalar) Truthy() bool {
	if s.isBool {
		return s.b
	}
	return s.n != 0
}

func (s Scalar) String() string {
	if s.isBool {
		return strconv.FormatBool(s.b)
	}
	return strconv.FormatFloat(s.n, 'g', -1, 64)
}

// MarshalJSON encodes the scalar as a JSON bool or number
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.isBool {
		return json.Marshal(s.b)
	}
	return json.Marshal(s.n)
}

// UnmarshalJSON accepts a JSON bool or number
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseScalar(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value is either a single scalar or an indexed sequence of scalars.
// The zero Value holds nothing and is rejected by every catalog entry.
type Value struct {
	items   []Scalar
	indexed bool
}

// ScalarValue wraps a single scalar
func ScalarValue(s Scalar) Value {
	return Value{items: []Scalar{s}}
}

// Sequence creates an indexed value; index 0 is the first item
func Sequence(items ...Scalar) Value {
	cloned := make([]Scalar, len(items))
	copy(cloned, items)
	return Value{items: cloned, indexed: true}
}

// Indexed reports whether the value is a sequence
func (v Value) Indexed() bool {
	return v.indexed
}

// IsEmpty reports whether the value holds no scalar at all (the zero Value)
func (v Value) IsEmpty() bool {
	return !v.indexed && len(v.items) == 0
}

// Len returns the sequence length, or 1 for a scalar
func (v Value) Len() int {
	return len(v.items)
}

// Scalar returns the value of a non-indexed Value
func (v Value) Scalar() (Scalar, bool) {
	if v.indexed || len(v.items) != 1 {
		return Scalar{}, false
	}
	return v.items[0], true
}

// At returns the item at index. It fails with *IndexError unless
// 0 <= index < Len(), and with ErrNotIndexed for scalars.
func (v Value) At(index int) (Scalar, error) {
	if !v.indexed {
		return Scalar{}, ErrNotIndexed
	}
	if index < 0 || index >= len(v.items) {
		return Scalar{}, &IndexError{Index: index, Length: len(v.items)}
	}
	return v.items[index], nil
}

// Items returns a copy of the scalars held by the value
func (v Value) Items() []Scalar {
	cloned := make([]Scalar, len(v.items))
	copy(cloned, v.items)
	return cloned
}

// Truthy reports whether any held scalar is truthy
func (v Value) Truthy() bool {
	for _, item := range v.items {
		if item.Truthy() {
			return true
		}
	}
	return false
}

func (v Value) String() string {
	if !v.indexed {
		if s, ok := v.Scalar(); ok {
			return s.String()
		}
		return "<empty>"
	}
	parts := make([]string, len(v.items))
	for i, item := range v.items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON encodes scalars bare and sequences as JSON arrays
func (v Value) MarshalJSON() ([]byte, error) {
	if v.indexed {
		return json.Marshal(v.items)
	}
	if s, ok := v.Scalar(); ok {
		return s.MarshalJSON()
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a JSON bool, number or array of them
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []Scalar
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*v = Sequence(items...)
		return nil
	}
	var s Scalar
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return err
	}
	*v = ScalarValue(s)
	return nil
}

// ParseValue converts a decoded JSON or YAML value (bool, number or a list
// of them) into a Value.
func ParseValue(raw any) (Value, error) {
	if list, ok := raw.([]any); ok {
		items := make([]Scalar, 0, len(list))
		for i, elem := range list {
			s, err := parseScalar(elem)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, s)
		}
		return Sequence(items...), nil
	}
	s, err := parseScalar(raw)
	if err != nil {
		return Value{}, err
	}
	return ScalarValue(s), nil
}

func parseScalar(raw any) (Scalar, error) {
	switch v := raw.(type) {
	case bool:
		return Bool(v), nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	default:
		return Scalar{}, fmt.Errorf("unsupported signal value %v (%T)", raw, raw)
	}
}
