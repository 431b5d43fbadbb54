package eft

import (
	"math"
	"math/big"
	"math/rand/v2"
	"testing"
)

func exactSum(vals ...float64) *big.Float {
	acc := new(big.Float).SetPrec(4096)
	for _, v := range vals {
		acc.Add(acc, new(big.Float).SetPrec(4096).SetFloat64(v))
	}
	return acc
}

func exactMul(a, b float64) *big.Float {
	x := new(big.Float).SetPrec(4096).SetFloat64(a)
	return x.Mul(x, new(big.Float).SetPrec(4096).SetFloat64(b))
}

func TestTwoSum(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
	}{
		{"zero", 0, 0},
		{"exact", 1, 2},
		{"cancel", 1e16, -1e16},
		{"tiny tail", 1e16, 1},
		{"swapped", 1, 1e16},
		{"subnormal", 5e-324, 1},
		{"mixed sign", -0.1, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := TwoSum(tt.a, tt.b)
			if s != tt.a+tt.b {
				t.Fatalf("TwoSum(%g, %g) s = %g; want fl(a+b) = %g", tt.a, tt.b, s, tt.a+tt.b)
			}
			if exactSum(tt.a, tt.b).Cmp(exactSum(s, e)) != 0 {
				t.Fatalf("TwoSum(%g, %g) = (%g, %g) is not exact", tt.a, tt.b, s, e)
			}
		})
	}
}

func TestFastTwoSum(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		a := rng.NormFloat64() * 1e8
		b := rng.NormFloat64()
		if math.Abs(a) < math.Abs(b) {
			a, b = b, a
		}
		s, e := FastTwoSum(a, b)
		if exactSum(a, b).Cmp(exactSum(s, e)) != 0 {
			t.Fatalf("FastTwoSum(%g, %g) = (%g, %g) is not exact", a, b, s, e)
		}
	}
}

func TestSplit(t *testing.T) {
	for _, a := range []float64{1, math.Pi, -1e300, 1.0 / 3, 0x1.fffffffffffffp-1} {
		hi, lo := Split(a)
		if hi+lo != a {
			t.Fatalf("Split(%g) = %g + %g; does not reconstruct", a, hi, lo)
		}
	}
}

func TestTwoProduct(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	impls := map[string]func(a, b float64) (float64, float64){
		"dispatch": TwoProduct,
		"fma":      twoProductFMA,
		"dekker":   twoProductDekker,
	}

	for name, fn := range impls {
		t.Run(name, func(t *testing.T) {
			for range 2000 {
				a := math.Ldexp(rng.Float64()+0.5, rng.IntN(200)-100)
				b := -math.Ldexp(rng.Float64()+0.5, rng.IntN(200)-100)
				p, e := fn(a, b)
				if !ExactProduct(p) {
					continue
				}
				if exactMul(a, b).Cmp(exactSum(p, e)) != 0 {
					t.Fatalf("%s(%g, %g) = (%g, %g) is not exact", name, a, b, p, e)
				}
			}
		})
	}
}

func TestExactProduct(t *testing.T) {
	tests := []struct {
		p    float64
		want bool
	}{
		{1, true},
		{-1e300, true},
		{0, false},
		{1e-300, false},
		{math.Inf(1), false},
		{math.NaN(), false},
	}

	for _, tt := range tests {
		if got := ExactProduct(tt.p); got != tt.want {
			t.Fatalf("ExactProduct(%g) = %v; want %v", tt.p, got, tt.want)
		}
	}
}

func BenchmarkTwoProduct(b *testing.B) {
	x, y := math.Pi, math.E
	var sink float64
	for b.Loop() {
		p, e := TwoProduct(x, y)
		sink += p + e
	}
	_ = sink
}
