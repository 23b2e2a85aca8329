package bus

import (
	"encoding/json"
	"fmt"
	"math"
)

// Value is a typed attribute payload. The concrete Go type held in Data
// is prescribed by the data type tag:
//
//	scalar/bool    bool              spectrum/bool    []bool
//	scalar/int     int64             spectrum/int     []int64
//	scalar/float   float64           spectrum/float   []float64
//	scalar/string  string            spectrum/string  []string
//	scalar/state   DeviceState
//	image/<kind>   [][]<element>
//
// Values are constructed through the typed constructors or FromWire,
// both of which guarantee the tag and payload agree. A zero Value is
// not valid.
type Value struct {
	Type DataType
	Data any
}

// Typed scalar constructors.

// Bool returns a scalar/bool value.
func Bool(b bool) Value { return Value{Type: DataType{FormatScalar, KindBool}, Data: b} }

// Int returns a scalar/int value.
func Int(i int64) Value { return Value{Type: DataType{FormatScalar, KindInt}, Data: i} }

// Float returns a scalar/float value.
func Float(f float64) Value { return Value{Type: DataType{FormatScalar, KindFloat}, Data: f} }

// String returns a scalar/string value.
func String(s string) Value { return Value{Type: DataType{FormatScalar, KindString}, Data: s} }

// State returns a scalar/state value.
func State(s DeviceState) Value { return Value{Type: DataType{FormatScalar, KindState}, Data: s} }

// Spectrum constructors.

// FloatSpectrum returns a spectrum/float value.
func FloatSpectrum(v []float64) Value {
	return Value{Type: DataType{FormatSpectrum, KindFloat}, Data: v}
}

// IntSpectrum returns a spectrum/int value.
func IntSpectrum(v []int64) Value { return Value{Type: DataType{FormatSpectrum, KindInt}, Data: v} }

// BoolSpectrum returns a spectrum/bool value.
func BoolSpectrum(v []bool) Value { return Value{Type: DataType{FormatSpectrum, KindBool}, Data: v} }

// StringSpectrum returns a spectrum/string value.
func StringSpectrum(v []string) Value {
	return Value{Type: DataType{FormatSpectrum, KindString}, Data: v}
}

// FloatImage returns an image/float value. Rows must be equal length;
// this is not enforced here, the bus guarantees rectangular images.
func FloatImage(v [][]float64) Value {
	return Value{Type: DataType{FormatImage, KindFloat}, Data: v}
}

// IntImage returns an image/int value.
func IntImage(v [][]int64) Value { return Value{Type: DataType{FormatImage, KindInt}, Data: v} }

// Matches reports whether the value's tag equals t.
func (v Value) Matches(t DataType) bool { return v.Type == t }

// AsBool returns the scalar bool payload.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.Data.(bool)
	return b, ok
}

// AsInt returns the scalar int payload.
func (v Value) AsInt() (int64, bool) {
	i, ok := v.Data.(int64)
	return i, ok
}

// AsFloat returns the scalar float payload.
func (v Value) AsFloat() (float64, bool) {
	f, ok := v.Data.(float64)
	return f, ok
}

// AsString returns the scalar string payload.
func (v Value) AsString() (string, bool) {
	s, ok := v.Data.(string)
	return s, ok
}

// AsState returns the scalar device-state payload.
func (v Value) AsState() (DeviceState, bool) {
	s, ok := v.Data.(DeviceState)
	return s, ok
}

// Numeric returns the payload as a float64 if the value is a numeric
// scalar (int, float, or bool encoded as 0/1). Used by the telemetry tap.
func (v Value) Numeric() (float64, bool) {
	switch d := v.Data.(type) {
	case float64:
		return d, true
	case int64:
		return float64(d), true
	case bool:
		if d {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// MarshalJSON encodes only the payload; the tag travels separately in
// AttributeValue. Non-finite floats are encoded as strings since JSON
// has no representation for them.
func (v Value) MarshalJSON() ([]byte, error) {
	if f, ok := v.Data.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return json.Marshal(fmt.Sprintf("%v", f))
	}
	return json.Marshal(v.Data)
}

// FromWire converts a decoded JSON payload into a Value of type t,
// returning ErrValueMismatch when the payload cannot represent t.
// JSON numbers arrive as float64; integer tags accept them only when
// they carry no fractional part.
func FromWire(t DataType, raw any) (Value, error) {
	if !t.Valid() {
		return Value{}, fmt.Errorf("%w: %s", ErrInvalidDataType, t)
	}
	switch t.Format {
	case FormatScalar:
		data, err := scalarFromWire(t.Kind, raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Data: data}, nil
	case FormatSpectrum:
		items, ok := raw.([]any)
		if !ok {
			return Value{}, mismatch(t, raw)
		}
		data, err := sliceFromWire(t, items)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Data: data}, nil
	case FormatImage:
		rows, ok := raw.([]any)
		if !ok {
			return Value{}, mismatch(t, raw)
		}
		data, err := imageFromWire(t, rows)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Data: data}, nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrInvalidDataType, t)
}

func scalarFromWire(kind AttrKind, raw any) (any, error) {
	switch kind {
	case KindBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case KindInt:
		switch n := raw.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		}
	case KindFloat:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case KindString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case KindState:
		if s, ok := raw.(string); ok {
			return DeviceState(s), nil
		}
		if s, ok := raw.(DeviceState); ok {
			return s, nil
		}
	}
	return nil, mismatch(DataType{FormatScalar, kind}, raw)
}

func sliceFromWire(t DataType, items []any) (any, error) {
	switch t.Kind {
	case KindBool:
		out := make([]bool, len(items))
		for i, item := range items {
			v, err := scalarFromWire(t.Kind, item)
			if err != nil {
				return nil, err
			}
			out[i] = v.(bool)
		}
		return out, nil
	case KindInt:
		out := make([]int64, len(items))
		for i, item := range items {
			v, err := scalarFromWire(t.Kind, item)
			if err != nil {
				return nil, err
			}
			out[i] = v.(int64)
		}
		return out, nil
	case KindFloat:
		out := make([]float64, len(items))
		for i, item := range items {
			v, err := scalarFromWire(t.Kind, item)
			if err != nil {
				return nil, err
			}
			out[i] = v.(float64)
		}
		return out, nil
	case KindString:
		out := make([]string, len(items))
		for i, item := range items {
			v, err := scalarFromWire(t.Kind, item)
			if err != nil {
				return nil, err
			}
			out[i] = v.(string)
		}
		return out, nil
	}
	return nil, mismatch(t, items)
}

func imageFromWire(t DataType, rows []any) (any, error) {
	switch t.Kind {
	case KindInt:
		out := make([][]int64, len(rows))
		for i, row := range rows {
			items, ok := row.([]any)
			if !ok {
				return nil, mismatch(t, row)
			}
			converted, err := sliceFromWire(DataType{FormatSpectrum, t.Kind}, items)
			if err != nil {
				return nil, err
			}
			out[i] = converted.([]int64)
		}
		return out, nil
	case KindFloat:
		out := make([][]float64, len(rows))
		for i, row := range rows {
			items, ok := row.([]any)
			if !ok {
				return nil, mismatch(t, row)
			}
			converted, err := sliceFromWire(DataType{FormatSpectrum, t.Kind}, items)
			if err != nil {
				return nil, err
			}
			out[i] = converted.([]float64)
		}
		return out, nil
	}
	return nil, mismatch(t, rows)
}

func mismatch(t DataType, raw any) error {
	return fmt.Errorf("%w: %T is not a %s payload", ErrValueMismatch, raw, t)
}
