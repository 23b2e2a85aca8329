package bus

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		input   string
		want    DataType
		wantErr bool
	}{
		{"scalar/float", DataType{FormatScalar, KindFloat}, false},
		{"spectrum/int", DataType{FormatSpectrum, KindInt}, false},
		{"image/float", DataType{FormatImage, KindFloat}, false},
		{"scalar/state", DataType{FormatScalar, KindState}, false},
		{"scalar", DataType{}, true},
		{"matrix/float", DataType{}, true},
		{"scalar/complex", DataType{}, true},
		{"", DataType{}, true},
	}

	for _, tt := range tests {
		got, err := ParseDataType(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDataType(%q): expected error, got %v", tt.input, got)
			}
			if err != nil && !errors.Is(err, ErrInvalidDataType) {
				t.Errorf("ParseDataType(%q): error is not ErrInvalidDataType: %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDataType(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDataType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDataTypeRoundTrip(t *testing.T) {
	orig := DataType{FormatSpectrum, KindFloat}
	parsed, err := ParseDataType(orig.String())
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if parsed != orig {
		t.Errorf("round trip: got %v, want %v", parsed, orig)
	}
}

func TestFromWireScalar(t *testing.T) {
	tests := []struct {
		name    string
		dt      DataType
		raw     any
		want    any
		wantErr bool
	}{
		{"float", DataType{FormatScalar, KindFloat}, 23.5, 23.5, false},
		{"float from int", DataType{FormatScalar, KindFloat}, int64(4), 4.0, false},
		{"int from whole float", DataType{FormatScalar, KindInt}, 42.0, int64(42), false},
		{"int rejects fraction", DataType{FormatScalar, KindInt}, 42.5, nil, true},
		{"bool", DataType{FormatScalar, KindBool}, true, true, false},
		{"bool rejects number", DataType{FormatScalar, KindBool}, 1.0, nil, true},
		{"string", DataType{FormatScalar, KindString}, "abc", "abc", false},
		{"state", DataType{FormatScalar, KindState}, "running", StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromWire(tt.dt, tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrValueMismatch) {
					t.Fatalf("expected ErrValueMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Data != tt.want {
				t.Errorf("payload = %v (%T), want %v (%T)", v.Data, v.Data, tt.want, tt.want)
			}
			if !v.Matches(tt.dt) {
				t.Errorf("value tag %v does not match %v", v.Type, tt.dt)
			}
		})
	}
}

func TestFromWireSpectrum(t *testing.T) {
	v, err := FromWire(DataType{FormatSpectrum, KindFloat}, []any{1.0, 2.5, 3.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := v.Data.([]float64)
	if !ok || len(got) != 3 || got[1] != 2.5 {
		t.Errorf("unexpected payload: %#v", v.Data)
	}

	if _, err := FromWire(DataType{FormatSpectrum, KindFloat}, 1.0); !errors.Is(err, ErrValueMismatch) {
		t.Errorf("scalar payload accepted for spectrum tag: %v", err)
	}
	if _, err := FromWire(DataType{FormatSpectrum, KindInt}, []any{1.0, "x"}); !errors.Is(err, ErrValueMismatch) {
		t.Errorf("mixed payload accepted: %v", err)
	}
}

func TestFromWireImage(t *testing.T) {
	v, err := FromWire(DataType{FormatImage, KindInt}, []any{
		[]any{1.0, 2.0},
		[]any{3.0, 4.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, ok := v.Data.([][]int64)
	if !ok || len(rows) != 2 || rows[1][0] != 3 {
		t.Errorf("unexpected payload: %#v", v.Data)
	}
}

func TestValueNumeric(t *testing.T) {
	if f, ok := Float(23.5).Numeric(); !ok || f != 23.5 {
		t.Errorf("Float Numeric = %v, %v", f, ok)
	}
	if f, ok := Int(7).Numeric(); !ok || f != 7 {
		t.Errorf("Int Numeric = %v, %v", f, ok)
	}
	if f, ok := Bool(true).Numeric(); !ok || f != 1 {
		t.Errorf("Bool Numeric = %v, %v", f, ok)
	}
	if _, ok := String("x").Numeric(); ok {
		t.Error("String reported as numeric")
	}
}

func TestValueMarshalNonFinite(t *testing.T) {
	data, err := json.Marshal(Float(math.Inf(1)))
	if err != nil {
		t.Fatalf("marshal +Inf: %v", err)
	}
	if string(data) != `"+Inf"` {
		t.Errorf("marshal +Inf = %s", data)
	}

	data, err = json.Marshal(Float(23.5))
	if err != nil {
		t.Fatalf("marshal float: %v", err)
	}
	if string(data) != "23.5" {
		t.Errorf("marshal float = %s", data)
	}
}
