package payload

import (
	"bytes"
	"encoding/json"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	Number Kind = iota
	Bool
	Text
)

// Value is a tagged variant for metric values. A metric carries exactly one
// of number, boolean or text; anything else is rejected at parse time.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
}

func NumberValue(f float64) Value {
	return Value{kind: Number, num: f}
}

func BoolValue(b bool) Value {
	return Value{kind: Bool, b: b}
}

func TextValue(s string) Value {
	return Value{kind: Text, str: s}
}

func (v Value) Kind() Kind {
	return v.kind
}

// IsNumeric reports whether the value participates in min/max/sum
// aggregation.
func (v Value) IsNumeric() bool {
	return v.kind == Number
}

func (v Value) Number() (float64, bool) {
	return v.num, v.kind == Number
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == Bool
}

func (v Value) Text() (string, bool) {
	return v.str, v.kind == Text
}

// Native returns the value as the plain Go scalar it wraps.
func (v Value) Native() any {
	switch v.kind {
	case Bool:
		return v.b
	case Text:
		return v.str
	default:
		return v.num
	}
}

func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.num == o.num && v.b == o.b && v.str == o.str
}

// MarshalJSON encodes the value as the native JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON decodes a JSON scalar into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromJSON converts one raw JSON value into a Value. Objects, arrays and
// null are unsupported metric value types.
func FromJSON(data []byte) (Value, error) {
	errFactory := errors.New()

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, errFactory.Wrap(errors.ErrInvalidMetricValue, err)
	}

	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, errFactory.Wrap(errors.ErrInvalidMetricValue, err)
		}
		return NumberValue(f), nil
	case bool:
		return BoolValue(v), nil
	case string:
		return TextValue(v), nil
	default:
		return Value{}, errFactory.WithData(errors.ErrInvalidMetricValue, string(data))
	}
}
