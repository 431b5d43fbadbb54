package superacc

// Scratch is a caller-owned arena of accumulators reused across calls. It
// grows to the largest batch requested and never shrinks. A Scratch must not
// be shared between goroutines, and the slice returned by Rows is only valid
// until the next call.
type Scratch struct {
	accs []Superaccumulator
}

// Rows returns n empty accumulators backed by the arena.
func (s *Scratch) Rows(n int) []Superaccumulator {
	if cap(s.accs) < n {
		s.accs = make([]Superaccumulator, n)
	}
	s.accs = s.accs[:n]
	for i := range s.accs {
		s.accs[i].Reset()
	}
	return s.accs
}

// Cap reports how many accumulators the arena holds without growing.
func (s *Scratch) Cap() int {
	return cap(s.accs)
}
