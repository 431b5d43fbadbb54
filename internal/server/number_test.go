package server

import (
	"math"
	"testing"

	json "github.com/goccy/go-json"
)

func TestNumberMarshal(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.5, `1.5`},
		{0.1, `0.1`},
		{-0.0, `0`},
		{1e300, `1e+300`},
		{math.NaN(), `"NaN"`},
		{math.Inf(1), `"+Inf"`},
		{math.Inf(-1), `"-Inf"`},
	}

	for _, tt := range tests {
		got, err := Number(tt.in).MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%v): %v", tt.in, err)
		}

		if string(got) != tt.want {
			t.Errorf("MarshalJSON(%v) = %s; want %s", tt.in, got, tt.want)
		}
	}
}

func TestNumberUnmarshal(t *testing.T) {
	var xs []Number
	if err := json.Unmarshal([]byte(`[1, -2.5e-3, "NaN", "Infinity", "-Inf"]`), &xs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(xs) != 5 || xs[0] != 1 || xs[1] != -2.5e-3 {
		t.Fatalf("xs = %v", xs)
	}

	if !math.IsNaN(float64(xs[2])) || !math.IsInf(float64(xs[3]), 1) || !math.IsInf(float64(xs[4]), -1) {
		t.Errorf("special values = %v", xs[2:])
	}

	var n Number
	if err := json.Unmarshal([]byte(`"one"`), &n); err == nil {
		t.Error("Unmarshal accepted a non-numeric string")
	}
}
