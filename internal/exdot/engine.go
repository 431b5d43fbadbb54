package exdot

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/example/go-exdot/internal/comm"
	"github.com/example/go-exdot/internal/runtime/kernel"
	"github.com/example/go-exdot/internal/superacc"
)

// Options configures an Engine. The zero value is valid.
type Options struct {
	// Lanes is the lane count for Parallel operands that do not set their
	// own. 0 uses the kernel default (GOMAXPROCS).
	Lanes int
	// FPE is the floating-point expansion size in front of each
	// accumulator: 0 for the default, negative to disable.
	FPE int
	// Logger receives plan resolution at debug level and collective
	// failures at error level. nil uses slog.Default().
	Logger *slog.Logger
}

// Engine evaluates plans. It owns the scratch accumulators reused across
// calls and is not safe for concurrent use; use one Engine per goroutine.
type Engine struct {
	opts    Options
	log     *slog.Logger
	scratch superacc.Scratch
	tmp     []superacc.Superaccumulator
}

// New returns an Engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{opts: opts, log: log}
}

// Dot returns the correctly rounded value of Σ a[i]·b[i], or of
// Σ a[i]·b[i]·c[i] for three operands. Distributed operands must be passed
// by every rank of their group. If the operands of one rank are rejected,
// that rank aborts the collective and every rank returns the same error.
func (e *Engine) Dot(ops ...Operand) (float64, error) {
	if len(ops) != 2 && len(ops) != 3 {
		return 0, e.abort(fmt.Errorf("%w: Dot takes 2 or 3 operands, got %d", ErrArity, len(ops)), ops)
	}
	p, err := NewPlan(ops...)
	if err != nil {
		return 0, e.abort(err, ops)
	}
	return e.Run(p)
}

// Sum returns the correctly rounded sum of the elements of x.
func (e *Engine) Sum(x Operand) (float64, error) {
	p, err := NewPlan(x)
	if err != nil {
		return 0, e.abort(err, []Operand{x})
	}
	return e.Run(p)
}

// Norm returns the square root of the weighted self-product Σ w[i]·x[i]²,
// or of Σ x[i]² when w is nil. The self-product is rounded once before the
// square root, so the result is as reproducible as Dot.
func (e *Engine) Norm(x, w Operand) (float64, error) {
	var (
		v   float64
		err error
	)
	if w == nil {
		v, err = e.Dot(x, x)
	} else {
		v, err = e.Dot(x, w, x)
	}
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Run evaluates a plan built by NewPlan and rounds the result once.
func (e *Engine) Run(p *Plan) (float64, error) {
	e.log.Debug("exdot plan",
		"layout", p.layout.String(),
		"domain", p.domain.String(),
		"len", p.n,
		"distributed", p.group != nil,
	)

	if d := p.depth(); len(e.tmp) < d {
		e.tmp = make([]superacc.Superaccumulator, d)
	}
	accs := e.scratch.Rows(1)
	e.accumulate(&accs[0], p, 0)

	if err := e.reduce(p, accs); err != nil {
		return 0, err
	}
	return accs[0].Round(), nil
}

// DotRows returns one correctly rounded dot product per row. a and b are
// row-major; every shared container is split into rows equal rows of at
// least one element, and a scalar-only pair forms a single row.
func (e *Engine) DotRows(a, b Operand, rows int) ([]float64, error) {
	p, err := rowsPlan(a, b, rows)
	if err != nil {
		return nil, e.abort(err, []Operand{a, b})
	}
	if rows == 0 {
		return []float64{}, nil
	}

	e.log.Debug("exdot rows plan",
		"layout", p.layout.String(),
		"domain", p.domain.String(),
		"rows", rows,
		"distributed", p.group != nil,
	)

	out := make([]float64, rows)

	// A single local leaf rounds each row as soon as it is complete, reusing
	// one accumulator per lane.
	if p.group == nil && p.layout != RecursiveLayout {
		opts := e.kernelOptions(p)
		if p.domain == ParallelDomain {
			kernel.ParallelRoundRows(out, p.cols(rows), p.vecs[0], p.vecs[1], opts)
		} else {
			kernel.RoundRows(out, p.cols(rows), p.vecs[0], p.vecs[1], opts)
		}
		return out, nil
	}

	accs := e.scratch.Rows(rows)
	e.accumulateRows(accs, p)
	if err := e.reduce(p, accs); err != nil {
		return nil, err
	}
	for r := range accs {
		out[r] = accs[r].Round()
	}
	return out, nil
}

// rowsPlan resolves a and b and checks that every leaf splits into rows.
func rowsPlan(a, b Operand, rows int) (*Plan, error) {
	if rows < 0 {
		return nil, fmt.Errorf("%w: %d", ErrRows, rows)
	}
	p, err := NewPlan(a, b)
	if err != nil {
		return nil, err
	}
	if rows > 0 {
		if err := p.checkRows(rows); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// abort hands a rejected call to every group named by ops, so that peers
// already inside the collective fail with the same error instead of waiting
// for this rank. Without a group err is returned as is.
func (e *Engine) abort(err error, ops []Operand) error {
	groups := operandGroups(nil, ops)
	if len(groups) == 0 {
		return err
	}

	var first error
	for _, g := range groups {
		gerr := g.Abort(err)
		e.log.Error("exdot call rejected on a distributed operand",
			"group", g.ID(),
			"rank", g.Rank(),
			"size", g.Size(),
			"error", err,
		)
		if first == nil {
			first = gerr
		}
	}
	return first
}

// operandGroups appends the distinct groups of ops, in order of appearance.
func operandGroups(dst []comm.Group, ops []Operand) []comm.Group {
	for _, op := range ops {
		switch v := op.(type) {
		case Distributed:
			if v.Group != nil && !slices.ContainsFunc(dst, func(g comm.Group) bool { return g.ID() == v.Group.ID() }) {
				dst = append(dst, v.Group)
			}
			if v.Local != nil {
				dst = operandGroups(dst, []Operand{v.Local})
			}
		case Recursive:
			dst = operandGroups(dst, v)
		}
	}
	return dst
}

func (e *Engine) reduce(p *Plan, accs []superacc.Superaccumulator) error {
	if p.group == nil {
		return nil
	}
	if err := p.group.AllReduce(accs); err != nil {
		e.log.Error("exdot all-reduce failed",
			"group", p.group.ID(),
			"rank", p.group.Rank(),
			"size", p.group.Size(),
			"error", err,
		)
		return err
	}
	return nil
}

func (e *Engine) kernelOptions(p *Plan) kernel.Options {
	lanes := p.lanes
	if lanes == 0 {
		lanes = e.opts.Lanes
	}
	return kernel.Options{FPE: e.opts.FPE, Lanes: lanes}
}

// accumulate adds the exact value of p into acc. Each element of a
// recursive plan is accumulated into e.tmp[depth] and merged into the
// running total, so nothing is rounded before the top level. e.tmp must hold
// p.depth() accumulators.
func (e *Engine) accumulate(acc *superacc.Superaccumulator, p *Plan, depth int) {
	if p.layout == RecursiveLayout {
		for _, c := range p.children {
			e.tmp[depth].Reset()
			e.accumulate(&e.tmp[depth], c, depth+1)
			acc.Merge(&e.tmp[depth])
		}
		return
	}

	opts := e.kernelOptions(p)
	parallel := p.domain == ParallelDomain
	switch len(p.vecs) {
	case 1:
		if parallel {
			kernel.ParallelDot(acc, p.n, p.vecs[0], kernel.Broadcast(1), opts)
		} else {
			kernel.Sum(acc, p.n, p.vecs[0], opts)
		}
	case 2:
		if parallel {
			kernel.ParallelDot(acc, p.n, p.vecs[0], p.vecs[1], opts)
		} else {
			kernel.Dot(acc, p.n, p.vecs[0], p.vecs[1], opts)
		}
	case 3:
		if parallel {
			kernel.ParallelDot3(acc, p.n, p.vecs[0], p.vecs[1], p.vecs[2], opts)
		} else {
			kernel.Dot3(acc, p.n, p.vecs[0], p.vecs[1], p.vecs[2], opts)
		}
	}
}

// accumulateRows adds every row of p into the matching accumulator. The
// elements of a recursive plan deposit into the same row accumulators.
func (e *Engine) accumulateRows(accs []superacc.Superaccumulator, p *Plan) {
	if p.layout == RecursiveLayout {
		for _, c := range p.children {
			e.accumulateRows(accs, c)
		}
		return
	}

	rows := len(accs)
	opts := e.kernelOptions(p)
	if p.domain == ParallelDomain {
		kernel.ParallelRows(accs, p.cols(rows), p.vecs[0], p.vecs[1], opts)
		return
	}
	kernel.Rows(accs, p.cols(rows), p.vecs[0], p.vecs[1], opts)
}

// Dot evaluates a dot product with a default Engine.
func Dot(ops ...Operand) (float64, error) {
	return New(Options{}).Dot(ops...)
}

// DotRows evaluates a row-wise dot product with a default Engine.
func DotRows(a, b Operand, rows int) ([]float64, error) {
	return New(Options{}).DotRows(a, b, rows)
}
