// Package bench provides benchmarking primitives for the exdot bench command:
// paired naive/exact timings, aggregate statistics and report formatters.
package bench

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timings of one naive and one exact evaluation of the
// same dot product.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run (cold caches)
	Naive    time.Duration
	Exact    time.Duration
	Slowdown float64
}

// Summary describes the benchmarked input and the values both methods
// produced.
type Summary struct {
	N          int
	Cond       float64
	Backend    string
	ExactValue float64
	NaiveValue float64
}

// ULPs returns the distance between the naive and exact values in units in
// the last place.
func (s Summary) ULPs() uint64 {
	return ULPDistance(s.NaiveValue, s.ExactValue)
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// ExactDurations extracts the exact-evaluation timings of runs.
func ExactDurations(runs []RunResult) []time.Duration {
	out := make([]time.Duration, len(runs))
	for i, r := range runs {
		out[i] = r.Exact
	}
	return out
}

// ---------------------------------------------------------------------------
// Accuracy helpers
// ---------------------------------------------------------------------------

// NaiveDot is the left-to-right float64 dot product the exact engine is
// measured against.
func NaiveDot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// CalcSlowdown returns exact / naive, or 0 if naive is zero.
func CalcSlowdown(naive, exact time.Duration) float64 {
	if naive <= 0 {
		return 0
	}
	return float64(exact) / float64(naive)
}

// ULPDistance returns how many doubles lie between a and b, counting b.
// Non-finite or sign-mismatched pairs that are not equal give MaxUint64.
func ULPDistance(a, b float64) uint64 {
	if a == b {
		return 0
	}
	if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return math.MaxUint64
	}
	ka, kb := orderedBits(a), orderedBits(b)
	if ka > kb {
		return uint64(ka - kb)
	}
	return uint64(kb - ka)
}

// orderedBits maps doubles onto integers so that adjacent doubles are
// adjacent integers, with -0 and +0 both at 0.
func orderedBits(x float64) int64 {
	b := int64(math.Float64bits(x))
	if b < 0 {
		return -(b & math.MaxInt64)
	}
	return b
}

// ---------------------------------------------------------------------------
// Slowdown threshold gate
// ---------------------------------------------------------------------------

// CheckSlowdownThreshold returns an error if meanSlowdown > threshold.
// A threshold of 0 disables the gate.
func CheckSlowdownThreshold(meanSlowdown, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanSlowdown > threshold {
		return fmt.Errorf("mean slowdown %.2fx exceeds threshold %.2fx", meanSlowdown, threshold)
	}
	return nil
}

// MeanSlowdown averages the per-run slowdown.
func MeanSlowdown(runs []RunResult) float64 {
	if len(runs) == 0 {
		return 0
	}
	var total float64
	for _, r := range runs {
		total += r.Slowdown
	}
	return total / float64(len(runs))
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(sum Summary, runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "n=%d  cond=%.3g  backend=%s\n", sum.N, sum.Cond, sum.Backend)
	fmt.Fprintf(sb, "exact=%.17g  naive=%.17g  ulps=%d\n\n", sum.ExactValue, sum.NaiveValue, sum.ULPs())

	fmt.Fprintf(sb, "%-5s  %-5s  %12s  %12s  %9s\n", "Run", "Cold", "Naive(ms)", "Exact(ms)", "Slowdown")
	fmt.Fprintln(sb, strings.Repeat("-", 51))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %12.3f  %12.3f  %8.2fx\n",
			r.Index+1,
			cold,
			ms(r.Naive),
			ms(r.Exact),
			r.Slowdown,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 51))
	fmt.Fprintf(sb, "%-5s  %-5s  %12s  %12.3f  %9s  (min)\n", "", "", "", ms(stats.Min), "")
	fmt.Fprintf(sb, "%-5s  %-5s  %12s  %12.3f  %9s  (mean)\n", "", "", "", ms(stats.Mean), "")
	fmt.Fprintf(sb, "%-5s  %-5s  %12s  %12.3f  %9s  (max)\n", "", "", "", ms(stats.Max), "")

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	N       int       `json:"n"`
	Cond    float64   `json:"cond"`
	Backend string    `json:"backend"`
	Exact   float64   `json:"exact"`
	Naive   float64   `json:"naive"`
	ULPs    uint64    `json:"ulps"`
	Runs    []jsonRun `json:"runs"`
	Stats   jsonStats `json:"stats"`
}

type jsonRun struct {
	Index    int     `json:"index"`
	Cold     bool    `json:"cold"`
	NaiveMS  float64 `json:"naive_ms"`
	ExactMS  float64 `json:"exact_ms"`
	Slowdown float64 `json:"slowdown"`
}

type jsonStats struct {
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(sum Summary, runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		N:       sum.N,
		Cond:    sum.Cond,
		Backend: sum.Backend,
		Exact:   sum.ExactValue,
		Naive:   sum.NaiveValue,
		ULPs:    sum.ULPs(),
		Runs:    make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:  ms(stats.Min),
			MeanMS: ms(stats.Mean),
			MaxMS:  ms(stats.Max),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:    r.Index,
			Cold:     r.Cold,
			NaiveMS:  ms(r.Naive),
			ExactMS:  ms(r.Exact),
			Slowdown: r.Slowdown,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
