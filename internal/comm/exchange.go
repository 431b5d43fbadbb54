package comm

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/example/go-exdot/internal/superacc"
	"go.uber.org/multierr"
)

// exchange is one rank's view of a single all-reduce. Once the rank has
// failed, every later message it sends is poisoned, so each peer still sees
// the full message pattern and the collective always terminates.
type exchange struct {
	group  *Local
	rank   int
	cause  error
	failed bool
}

func (x *exchange) fail(err error) {
	x.cause = multierr.Append(x.cause, err)
	x.failed = true
}

func (x *exchange) send(to int, payload []byte) {
	if x.group.fault != nil {
		if err := x.group.fault(x.rank, to); err != nil {
			x.fail(fmt.Errorf("link %d->%d: %w", x.rank, to, err))
		}
	}

	m := message{payload: payload}
	if x.failed {
		m = message{poison: true}
	}
	x.group.links[x.rank][to] <- m
}

// recv takes the next message from a peer. A rank that has already failed
// drains the message without decoding it.
func (x *exchange) recv(from int) ([]byte, bool) {
	m := <-x.group.links[from][x.rank]
	if m.poison || x.failed {
		x.failed = true
		return nil, false
	}
	return m.payload, true
}

func (x *exchange) recvMerge(from int, out []superacc.Superaccumulator) {
	payload, ok := x.recv(from)
	if !ok {
		return
	}
	in := make([]superacc.Superaccumulator, len(out))
	if err := superacc.UnmarshalBatch(payload, in); err != nil {
		x.fail(fmt.Errorf("rank %d: message from %d: %w", x.rank, from, err))
		return
	}
	for i := range out {
		out[i].Merge(&in[i])
	}
}

func (x *exchange) recvReplace(from int, out []superacc.Superaccumulator) {
	payload, ok := x.recv(from)
	if !ok {
		return
	}
	if err := superacc.UnmarshalBatch(payload, out); err != nil {
		x.fail(fmt.Errorf("rank %d: message from %d: %w", x.rank, from, err))
	}
}

// run performs the group's topology. The message pattern depends only on
// the rank and the group size, never on accs.
func (x *exchange) run(accs []superacc.Superaccumulator) []superacc.Superaccumulator {
	switch x.group.topology {
	case Linear:
		return x.linear(accs)
	case Ring:
		return x.ring(accs)
	default:
		return x.tree(accs)
	}
}

// linear reduces along the chain size-1 → 0, then passes the total back up.
func (x *exchange) linear(accs []superacc.Superaccumulator) []superacc.Superaccumulator {
	out := slices.Clone(accs)
	r, last := x.rank, x.group.size-1

	if r < last {
		x.recvMerge(r+1, out)
	}
	if r > 0 {
		x.send(r-1, superacc.MarshalBatch(out))
		x.recvReplace(r-1, out)
	}
	if r < last {
		x.send(r+1, superacc.MarshalBatch(out))
	}

	return out
}

// tree is a binomial reduce to rank 0 followed by a binomial broadcast.
func (x *exchange) tree(accs []superacc.Superaccumulator) []superacc.Superaccumulator {
	out := slices.Clone(accs)
	r, size := x.rank, x.group.size

	for mask := 1; mask < size; mask <<= 1 {
		if r&mask != 0 {
			x.send(r&^mask, superacc.MarshalBatch(out))
			break
		}
		if src := r | mask; src < size {
			x.recvMerge(src, out)
		}
	}

	mask := 1
	for ; mask < size; mask <<= 1 {
		if r&mask != 0 {
			x.recvReplace(r-mask, out)
			break
		}
	}
	for mask >>= 1; mask > 0; mask >>= 1 {
		if r+mask < size {
			x.send(r+mask, superacc.MarshalBatch(out))
		}
	}

	return out
}

// ring splits the concatenated word forms of accs into size chunks. After
// the reduce-scatter rank r owns the complete chunk r+1; the allgather then
// circulates every complete chunk once around the ring.
func (x *exchange) ring(accs []superacc.Superaccumulator) []superacc.Superaccumulator {
	r, size := x.rank, x.group.size
	right, left := (r+1)%size, (r-1+size)%size

	words := make([]int64, 0, len(accs)*superacc.WordsPerAcc)
	for i := range accs {
		acc := accs[i]
		words = acc.AppendWords(words)
	}
	bounds := func(c int) (int, int) {
		return c * len(words) / size, (c + 1) * len(words) / size
	}

	for s := range size - 1 {
		send, recv := (r-s+size)%size, (r-s-1+size)%size
		lo, hi := bounds(send)
		x.send(right, encodeChunk(send, words[lo:hi]))

		lo, hi = bounds(recv)
		if chunk, ok := x.recvChunk(left, recv, hi-lo); ok {
			superacc.AddWords(words[lo:hi], chunk, lo)
		}
	}

	for s := range size - 1 {
		send, recv := (r+1-s+size)%size, (r-s+size)%size
		lo, hi := bounds(send)
		x.send(right, encodeChunk(send, words[lo:hi]))

		lo, hi = bounds(recv)
		if chunk, ok := x.recvChunk(left, recv, hi-lo); ok {
			copy(words[lo:hi], chunk)
		}
	}

	out := make([]superacc.Superaccumulator, len(accs))
	if x.failed {
		return out
	}
	for i := range out {
		w := words[i*superacc.WordsPerAcc : (i+1)*superacc.WordsPerAcc]
		if err := out[i].SetWords(w, size); err != nil {
			x.fail(fmt.Errorf("rank %d: accumulator %d: %w", x.rank, i, err))
			break
		}
	}
	return out
}

func encodeChunk(idx int, words []int64) []byte {
	b := make([]byte, 0, 8+8*len(words))
	b = binary.LittleEndian.AppendUint64(b, uint64(idx))
	for _, w := range words {
		b = binary.LittleEndian.AppendUint64(b, uint64(w))
	}
	return b
}

func (x *exchange) recvChunk(from, idx, n int) ([]int64, bool) {
	payload, ok := x.recv(from)
	if !ok {
		return nil, false
	}
	if len(payload) != 8+8*n || binary.LittleEndian.Uint64(payload) != uint64(idx) {
		x.fail(fmt.Errorf("rank %d: chunk from %d: want chunk %d of %d words, got %d bytes",
			x.rank, from, idx, n, len(payload)))
		return nil, false
	}

	words := make([]int64, n)
	for i := range words {
		words[i] = int64(binary.LittleEndian.Uint64(payload[8+8*i:]))
	}
	return words, true
}
