package exdot

import (
	"fmt"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/runtime/kernel"
)

// Plan is the resolved form of one call: a tree whose leaves are kernel
// invocations over shared or scalar operands. Building a plan performs every
// compatibility check, so running it cannot fail except in the collective.
//
// Resolution precedence is Distributed > Recursive > Shared > Scalar. At
// each level the highest layout among the operands is chosen; every other
// non-scalar operand must have that same layout, and scalars are carried
// down unchanged.
type Plan struct {
	layout   Layout
	domain   Domain
	n        int
	lanes    int
	vecs     []kernel.Vec
	children []*Plan
	group    comm.Group
}

// NewPlan resolves one to three operands. One operand plans a sum, two a dot
// product, three a three-way dot product. Operands that are all scalars form
// a container of length one, so Dot(Scalar(2), Scalar(3)) is 6 and a
// row-wise call over them has a single row.
func NewPlan(ops ...Operand) (*Plan, error) {
	if len(ops) == 0 {
		return nil, ErrNoOperands
	}
	if len(ops) > 3 {
		return nil, fmt.Errorf("%w: %d", ErrArity, len(ops))
	}

	var r resolver
	p, err := r.resolve(ops)
	if err != nil {
		return nil, err
	}
	p.group = r.group
	return p, nil
}

// Group returns the process group the plan reduces over, or nil.
func (p *Plan) Group() comm.Group { return p.group }

// Layout returns the layout chosen at the top level.
func (p *Plan) Layout() Layout { return p.layout }

// Domain returns the execution domain chosen at the top level.
func (p *Plan) Domain() Domain { return p.domain }

// Len returns the element count of a shared plan, or the child count of a
// recursive plan.
func (p *Plan) Len() int { return p.n }

type resolver struct {
	group comm.Group
}

func (r *resolver) resolve(ops []Operand) (*Plan, error) {
	layout, domain := ScalarLayout, AnyDomain
	prec, hasPrec := F64, false

	for i, op := range ops {
		if op == nil {
			return nil, fmt.Errorf("%w: operand %d is nil", ErrNoOperands, i)
		}
		t := op.Tag()
		layout = max(layout, t.Layout)

		d, ok := domain.join(t.Domain)
		if !ok {
			return nil, fmt.Errorf("%w: %v and %v", ErrDomainMismatch, domain, t.Domain)
		}
		domain = d

		if t.Layout == ScalarLayout {
			continue
		}
		if hasPrec && t.Precision != prec {
			return nil, fmt.Errorf("%w: %v and %v", ErrPrecisionMismatch, prec, t.Precision)
		}
		prec, hasPrec = t.Precision, true
	}

	switch layout {
	case DistributedLayout:
		return r.distributed(ops)
	case RecursiveLayout:
		return r.recursive(ops, domain)
	case SharedLayout:
		return shared(ops, domain)
	default:
		vecs := make([]kernel.Vec, len(ops))
		for i, op := range ops {
			vecs[i] = kernel.Broadcast(float64(op.(Scalar)))
		}
		return &Plan{layout: ScalarLayout, domain: domain, n: 1, vecs: vecs}, nil
	}
}

func (r *resolver) distributed(ops []Operand) (*Plan, error) {
	locals := make([]Operand, len(ops))
	for i, op := range ops {
		switch v := op.(type) {
		case Scalar:
			locals[i] = v
		case Distributed:
			if v.Group == nil {
				return nil, fmt.Errorf("%w: operand %d has no group", ErrGroupMismatch, i)
			}
			if r.group == nil {
				r.group = v.Group
			} else if r.group.ID() != v.Group.ID() {
				return nil, fmt.Errorf("%w: %s and %s", ErrGroupMismatch, r.group.ID(), v.Group.ID())
			}
			if v.Local == nil {
				return nil, fmt.Errorf("%w: operand %d has no local part", ErrNoOperands, i)
			}
			locals[i] = v.Local
		default:
			return nil, fmt.Errorf("%w: operand %d is %v, want distributed", ErrLayoutMismatch, i, op.Tag().Layout)
		}
	}
	return r.resolve(locals)
}

func (r *resolver) recursive(ops []Operand, domain Domain) (*Plan, error) {
	n := -1
	for i, op := range ops {
		switch v := op.(type) {
		case Scalar:
		case Recursive:
			if n >= 0 && len(v) != n {
				return nil, fmt.Errorf("%w: %d and %d", ErrShapeMismatch, n, len(v))
			}
			n = len(v)
		default:
			return nil, fmt.Errorf("%w: operand %d is %v, want recursive", ErrLayoutMismatch, i, op.Tag().Layout)
		}
	}

	p := &Plan{layout: RecursiveLayout, domain: domain, n: n, children: make([]*Plan, n)}
	elems := make([]Operand, len(ops))
	for k := range n {
		for i, op := range ops {
			if v, ok := op.(Recursive); ok {
				elems[i] = v[k]
			} else {
				elems[i] = op
			}
		}
		child, err := r.resolve(elems)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", k, err)
		}
		p.children[k] = child
	}
	return p, nil
}

func shared(ops []Operand, domain Domain) (*Plan, error) {
	p := &Plan{layout: SharedLayout, domain: domain, n: -1, vecs: make([]kernel.Vec, len(ops))}
	for i, op := range ops {
		switch v := op.(type) {
		case Scalar:
			p.vecs[i] = kernel.Broadcast(float64(v))
			continue
		case Vector:
			p.vecs[i] = kernel.Slice(v)
		case Vector32:
			p.vecs[i] = kernel.Slice32(v)
		case Parallel:
			p.vecs[i] = kernel.Slice(v.Data)
			p.lanes = max(p.lanes, v.Lanes)
		default:
			return nil, fmt.Errorf("%w: operand %d is %v, want shared", ErrLayoutMismatch, i, op.Tag().Layout)
		}

		n := p.vecs[i].Len()
		if p.n >= 0 && n != p.n {
			return nil, fmt.Errorf("%w: %d and %d", ErrLengthMismatch, p.n, n)
		}
		p.n = n
	}
	return p, nil
}

// depth returns the nesting depth of recursive levels.
func (p *Plan) depth() int {
	d := 0
	for _, c := range p.children {
		d = max(d, c.depth()+1)
	}
	return d
}

// checkRows verifies that every leaf splits into rows equal, non-empty
// rows. A scalar-only leaf is a single row; a recursive plan without
// elements has no rows. The local part of a distributed plan may be empty,
// since a rank can own no columns at all. rows must be positive.
func (p *Plan) checkRows(rows int) error {
	return p.checkLeafRows(rows, p.group != nil)
}

func (p *Plan) checkLeafRows(rows int, allowEmpty bool) error {
	switch p.layout {
	case RecursiveLayout:
		if len(p.children) == 0 && !allowEmpty {
			return fmt.Errorf("%w: %d rows of an empty recursive operand", ErrRows, rows)
		}
		for k, c := range p.children {
			if err := c.checkLeafRows(rows, allowEmpty); err != nil {
				return fmt.Errorf("element %d: %w", k, err)
			}
		}
	case SharedLayout:
		if p.n%rows != 0 || (p.n == 0 && !allowEmpty) {
			return fmt.Errorf("%w: %d elements do not split into %d rows", ErrRows, p.n, rows)
		}
	default:
		if rows > 1 {
			return fmt.Errorf("%w: %d rows of scalar operands", ErrRows, rows)
		}
	}
	return nil
}

// cols returns the row width of a leaf. A scalar-only leaf is one column
// wide in every row.
func (p *Plan) cols(rows int) int {
	if p.layout == ScalarLayout {
		return 1
	}
	return p.n / rows
}
