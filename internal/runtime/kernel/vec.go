// Package kernel runs exact dot products over one execution context: a
// single goroutine, or a set of data-parallel lanes whose private
// superaccumulators are merged at the end.
package kernel

type vecKind uint8

const (
	kindF64 vecKind = iota
	kindF32
	kindScalar
)

// Vec is a read-only kernel operand: a float64 or float32 slice, or one
// scalar broadcast to every index without materialising a slice.
type Vec struct {
	kind   vecKind
	f64    []float64
	f32    []float32
	scalar float64
}

// Slice wraps x.
func Slice(x []float64) Vec { return Vec{kind: kindF64, f64: x} }

// Slice32 wraps x; elements widen to float64 exactly.
func Slice32(x []float32) Vec { return Vec{kind: kindF32, f32: x} }

// Broadcast returns v repeated at every index.
func Broadcast(v float64) Vec { return Vec{kind: kindScalar, scalar: v} }

// IsScalar reports whether v is a broadcast scalar.
func (v Vec) IsScalar() bool { return v.kind == kindScalar }

// Len returns the number of elements, or -1 for a broadcast scalar.
func (v Vec) Len() int {
	switch v.kind {
	case kindF64:
		return len(v.f64)
	case kindF32:
		return len(v.f32)
	default:
		return -1
	}
}

// At returns element i.
func (v Vec) At(i int) float64 {
	switch v.kind {
	case kindF64:
		return v.f64[i]
	case kindF32:
		return float64(v.f32[i])
	default:
		return v.scalar
	}
}

// Sub returns the elements [lo, hi). A scalar is returned unchanged.
func (v Vec) Sub(lo, hi int) Vec {
	switch v.kind {
	case kindF64:
		return Vec{kind: kindF64, f64: v.f64[lo:hi]}
	case kindF32:
		return Vec{kind: kindF32, f32: v.f32[lo:hi]}
	default:
		return v
	}
}
