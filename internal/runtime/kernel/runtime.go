package kernel

import (
	"runtime"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
)

// minLaneLen is the smallest index range worth a lane of its own.
const minLaneLen = 4096

// workers is the default lane count for data-parallel kernels.
var workers atomic.Int32

func init() {
	workers.Store(int32(runtime.GOMAXPROCS(0)))
}

// SetWorkers sets the default number of lanes used by data-parallel kernels
// when Options.Lanes is zero. n <= 1 disables parallel execution.
func SetWorkers(n int) {
	const maxInt32 = int(^uint32(0) >> 1)

	if n < 1 {
		n = 1
	}

	if n > maxInt32 {
		n = maxInt32
	}

	workers.Store(int32(n))
}

func getWorkers() int {
	n := int(workers.Load())
	if n < 1 {
		return 1
	}

	return n
}

// LaneCount reports how many lanes the parallel kernels use for n indices
// when asked for lanes (0 = the default). Row kernels apply the same bound
// to rows×cols elements and never use more lanes than rows.
func LaneCount(n, lanes int) int { return laneCount(n, lanes) }

// laneCount returns how many lanes to use for n indices.
func laneCount(n, want int) int {
	if want <= 0 {
		want = getWorkers()
	}
	if limit := n / minLaneLen; want > limit {
		want = limit
	}
	return max(want, 1)
}

// parallelLanes splits [0, n) into at most lanes contiguous chunks and runs fn
// on each, one goroutine per chunk. The chunk index is passed as lane.
func parallelLanes(n, lanes int, fn func(lane, lo, hi int)) {
	if n <= 0 {
		return
	}

	if lanes <= 1 || n == 1 {
		fn(0, 0, n)
		return
	}

	if lanes > n {
		lanes = n
	}

	chunk := (n + lanes - 1) / lanes
	p := pool.New().WithMaxGoroutines(lanes)

	for lane, lo := 0, 0; lo < n; lane, lo = lane+1, lo+chunk {
		hi := min(lo+chunk, n)
		p.Go(func() { fn(lane, lo, hi) })
	}

	p.Wait()
}
