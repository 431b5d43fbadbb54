// Package exdot is the entry point of the reproducible dot-product engine.
// Operands carry a capability tag; a Plan resolves the tags of one call into
// kernel invocations before anything is accumulated, and the Engine runs the
// plan, all-reduces distributed partial results, and rounds once.
package exdot

import (
	"fmt"

	"github.com/example/go-exdot/internal/comm"
)

// Layout describes how an operand's elements are stored. Layouts are ordered
// by dispatch precedence: when operands of one call differ, the highest
// layout decides how the call is split.
type Layout uint8

const (
	ScalarLayout Layout = iota
	SharedLayout
	RecursiveLayout
	DistributedLayout
)

func (l Layout) String() string {
	switch l {
	case ScalarLayout:
		return "scalar"
	case SharedLayout:
		return "shared"
	case RecursiveLayout:
		return "recursive"
	case DistributedLayout:
		return "distributed"
	default:
		return fmt.Sprintf("Layout(%d)", uint8(l))
	}
}

// Domain is the execution domain an operand is bound to.
type Domain uint8

const (
	// AnyDomain joins with every other domain.
	AnyDomain Domain = iota
	SerialDomain
	ParallelDomain
)

func (d Domain) String() string {
	switch d {
	case AnyDomain:
		return "any"
	case SerialDomain:
		return "serial"
	case ParallelDomain:
		return "parallel"
	default:
		return fmt.Sprintf("Domain(%d)", uint8(d))
	}
}

// join returns the domain two operands execute in, or false if they cannot
// share one.
func (d Domain) join(o Domain) (Domain, bool) {
	switch {
	case d == AnyDomain:
		return o, true
	case o == AnyDomain || o == d:
		return d, true
	default:
		return d, false
	}
}

// Precision is the element type of a container.
type Precision uint8

const (
	F64 Precision = iota
	F32
)

func (p Precision) String() string {
	if p == F32 {
		return "float32"
	}
	return "float64"
}

// Tag is the capability tag of an operand.
type Tag struct {
	Layout    Layout
	Domain    Domain
	Precision Precision
	// Group is set for distributed operands only.
	Group comm.Group
}

// Operand is one argument of a dot product. The set of implementations is
// closed: Scalar, Vector, Vector32, Parallel, Recursive and Distributed.
type Operand interface {
	Tag() Tag
	operand()
}

// Scalar is one value broadcast to every index.
type Scalar float64

// Vector is a contiguous float64 container evaluated on the calling
// goroutine.
type Vector []float64

// Vector32 is a contiguous float32 container evaluated on the calling
// goroutine. Its elements widen to float64 exactly.
type Vector32 []float32

// Parallel is a contiguous float64 container evaluated by data-parallel
// lanes. Lanes == 0 uses the engine default.
type Parallel struct {
	Data  []float64
	Lanes int
}

// Recursive is a container of containers. Element i of every recursive
// operand of a call is paired with element i of the others.
type Recursive []Operand

// Distributed is the local part of a container partitioned across the ranks
// of Group.
type Distributed struct {
	Local Operand
	Group comm.Group
}

func (Scalar) Tag() Tag   { return Tag{Layout: ScalarLayout} }
func (Vector) Tag() Tag   { return Tag{Layout: SharedLayout, Domain: SerialDomain} }
func (Vector32) Tag() Tag { return Tag{Layout: SharedLayout, Domain: SerialDomain, Precision: F32} }
func (Parallel) Tag() Tag { return Tag{Layout: SharedLayout, Domain: ParallelDomain} }

// Tag reports the domain and precision of the first non-scalar element.
// Disagreement between elements is reported when a plan is built.
func (r Recursive) Tag() Tag {
	t := Tag{Layout: RecursiveLayout}
	for _, op := range r {
		if op == nil {
			continue
		}
		if et := op.Tag(); et.Layout != ScalarLayout {
			t.Domain, t.Precision = et.Domain, et.Precision
			break
		}
	}
	return t
}

func (d Distributed) Tag() Tag {
	t := Tag{Layout: DistributedLayout, Group: d.Group}
	if d.Local != nil {
		lt := d.Local.Tag()
		t.Domain, t.Precision = lt.Domain, lt.Precision
	}
	return t
}

func (Scalar) operand()      {}
func (Vector) operand()      {}
func (Vector32) operand()    {}
func (Parallel) operand()    {}
func (Recursive) operand()   {}
func (Distributed) operand() {}
