package comm

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// agreement is a reusable barrier that closes every collective. Each rank
// reports its local outcome; once all ranks have arrived they all leave with
// the same error value, so no rank can complete a call another rank failed.
type agreement struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	arrived int
	gen     uint64
	causes  []error
	failed  bool
	result  error
}

func newAgreement(size int) *agreement {
	a := &agreement{size: size, causes: make([]error, size)}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *agreement) agree(rank int, cause error, failed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	gen := a.gen
	a.causes[rank] = cause
	a.failed = a.failed || failed || cause != nil
	a.arrived++

	if a.arrived == a.size {
		a.result = nil
		if a.failed {
			combined := multierr.Combine(a.causes...)
			if combined == nil {
				combined = errors.New("peer failed")
			}
			a.result = fmt.Errorf("%w: %w", ErrCollective, combined)
		}
		clear(a.causes)
		a.arrived = 0
		a.failed = false
		a.gen++
		a.cond.Broadcast()
		return a.result
	}

	for gen == a.gen {
		a.cond.Wait()
	}
	return a.result
}
