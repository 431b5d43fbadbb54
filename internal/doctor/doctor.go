// Package doctor provides environment preflight checks for exdot: toolchain
// version, hardware FMA support, input files and numerical self-checks.
package doctor

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-exdot/internal/safetensors"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// minGoMinor is the oldest supported Go 1.x release.
const minGoMinor = 22

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Check is a named numerical self-check. Fn returns nil on success.
type Check struct {
	Name string
	Fn   func() error
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// GoVersion returns the runtime version string (e.g. "go1.25.0").
	GoVersion VersionFunc
	// HasFMA reports hardware fused multiply-add. nil skips the check.
	HasFMA func() bool
	// InputFiles are safetensors files that must open and parse.
	InputFiles []string
	// Checks are run in order after the environment checks.
	Checks []Check
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- Go runtime -------------------------------------------------------
	if cfg.GoVersion != nil {
		ver, err := cfg.GoVersion()
		if err != nil {
			res.fail(fmt.Sprintf("go version: %v", err))
			fmt.Fprintf(w, "%s go version: unavailable (%v)\n", FailMark, err)
		} else if verErr := checkGoVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("go version: %v", verErr))
			fmt.Fprintf(w, "%s go version %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s go version: %s\n", PassMark, ver)
		}
	}

	// ---- FMA --------------------------------------------------------------
	// Products stay exact without FMA; only throughput changes.
	if cfg.HasFMA != nil {
		if cfg.HasFMA() {
			fmt.Fprintf(w, "%s fused multiply-add: hardware\n", PassMark)
		} else {
			fmt.Fprintf(w, "%s fused multiply-add: software split\n", PassMark)
		}
	}

	// ---- input files ------------------------------------------------------
	for _, path := range cfg.InputFiles {
		st, err := safetensors.OpenStore(path)
		if err != nil {
			res.fail(fmt.Sprintf("input file %q: %v", path, err))
			fmt.Fprintf(w, "%s input file %s: %v\n", FailMark, path, err)
			continue
		}
		fmt.Fprintf(w, "%s input file: %s (%d tensors)\n", PassMark, path, len(st.Names()))
		st.Close()
	}

	// ---- self-checks ------------------------------------------------------
	for _, c := range cfg.Checks {
		if err := c.Fn(); err != nil {
			res.fail(fmt.Sprintf("%s: %v", c.Name, err))
			fmt.Fprintf(w, "%s %s: %v\n", FailMark, c.Name, err)
		} else {
			fmt.Fprintf(w, "%s %s\n", PassMark, c.Name)
		}
	}

	return res
}

// checkGoVersion returns an error if ver is older than go1.22. Development
// builds ("devel ...") are accepted.
func checkGoVersion(ver string) error {
	if strings.HasPrefix(ver, "devel") {
		return nil
	}
	major, minor, err := parseMajorMinor(strings.TrimPrefix(ver, "go"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires Go 1, got %d", major)
	}
	if minor < minGoMinor {
		return fmt.Errorf("requires Go >=1.%d, got 1.%d", minGoMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	// Release candidates carry a suffix: "1.25rc1".
	minorStr := parts[1]
	if i := strings.IndexFunc(minorStr, func(r rune) bool { return r < '0' || r > '9' }); i > 0 {
		minorStr = minorStr[:i]
	}
	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
