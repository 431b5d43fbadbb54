// Package comm provides process groups and the blocking all-reduce that
// combines per-rank superaccumulators into one identical result on every
// rank. Reductions only ever merge exact bins; rounded values never travel.
package comm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-exdot/internal/superacc"
	"github.com/google/uuid"
)

// ErrCollective reports a failed collective call. Every rank of the group
// observes the same error.
var ErrCollective = errors.New("comm: collective failed")

// Group is a handle on one rank of a set of cooperating ranks.
type Group interface {
	// ID identifies the group. Handles of the same group share it.
	ID() string
	Rank() int
	Size() int
	// AllReduce replaces accs, on every rank, by their element-wise merge
	// across the group. Every rank must call it with the same number of
	// accumulators. It blocks until the whole group has finished; on failure
	// accs are left unchanged and the error wraps ErrCollective.
	AllReduce(accs []superacc.Superaccumulator) error
	// Abort takes part in the collective call the other ranks are making,
	// as a rank that failed with cause. Every rank of that call returns the
	// same error, which wraps ErrCollective and every rank's cause.
	Abort(cause error) error
}

// Topology selects the message pattern of an all-reduce. All topologies
// produce bit-identical results.
type Topology int

const (
	// Tree reduces along a binomial tree to rank 0 and broadcasts back.
	Tree Topology = iota
	// Linear reduces along the chain size-1 → 0 and broadcasts back.
	Linear
	// Ring runs a reduce-scatter and an allgather over the bin words.
	Ring
)

func (t Topology) String() string {
	switch t {
	case Tree:
		return "tree"
	case Linear:
		return "linear"
	case Ring:
		return "ring"
	default:
		return fmt.Sprintf("Topology(%d)", int(t))
	}
}

// ParseTopology maps a topology name to its value.
func ParseTopology(name string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tree":
		return Tree, nil
	case "linear":
		return Linear, nil
	case "ring":
		return Ring, nil
	default:
		return 0, fmt.Errorf("unknown topology %q (expected linear, tree, or ring)", name)
	}
}

type self struct {
	id string
}

// Self returns a single-rank group. Its AllReduce leaves accs unchanged.
func Self() Group {
	return self{id: uuid.NewString()}
}

func (s self) ID() string { return s.id }
func (self) Rank() int    { return 0 }
func (self) Size() int    { return 1 }

func (self) AllReduce([]superacc.Superaccumulator) error { return nil }

func (self) Abort(cause error) error {
	return fmt.Errorf("%w: rank 0: %w", ErrCollective, cause)
}
