package comm

import (
	"fmt"

	"github.com/example/go-exdot/internal/superacc"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// message is one point-to-point transfer. A poisoned message carries no
// payload; it tells the receiver that an upstream link has failed.
type message struct {
	payload []byte
	poison  bool
}

// Local is an in-process group whose ranks are goroutines exchanging
// messages over channels. Create it with NewLocal and hand rank r its handle
// via Rank(r), or use Run.
type Local struct {
	id       string
	size     int
	topology Topology
	fault    func(from, to int) error
	links    [][]chan message
	agree    *agreement
}

// Option configures a Local group.
type Option func(*Local)

// WithTopology selects the all-reduce message pattern.
func WithTopology(t Topology) Option {
	return func(l *Local) { l.topology = t }
}

// WithFault installs a link fault injector. It is called before every
// message is sent; a non-nil error fails that link for the message.
func WithFault(fn func(from, to int) error) Option {
	return func(l *Local) { l.fault = fn }
}

// NewLocal returns a group of size ranks.
func NewLocal(size int, opts ...Option) (*Local, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size %d: must be at least 1", size)
	}

	l := &Local{
		id:    uuid.NewString(),
		size:  size,
		agree: newAgreement(size),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.topology < Tree || l.topology > Ring {
		return nil, fmt.Errorf("unsupported topology %v", l.topology)
	}

	l.links = make([][]chan message, size)
	for from := range l.links {
		l.links[from] = make([]chan message, size)
		for to := range l.links[from] {
			if from != to {
				l.links[from][to] = make(chan message, 1)
			}
		}
	}

	return l, nil
}

// ID returns the group identity shared by all rank handles.
func (l *Local) ID() string { return l.id }

// Size returns the number of ranks.
func (l *Local) Size() int { return l.size }

// Topology returns the configured message pattern.
func (l *Local) Topology() Topology { return l.topology }

// Rank returns the handle of rank r. It panics if r is out of range.
func (l *Local) Rank(r int) Group {
	if r < 0 || r >= l.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0, %d)", r, l.size))
	}
	return &rank{group: l, rank: r}
}

// Run calls fn once per rank, each on its own goroutine, and waits for all
// of them. It returns the first error.
func Run(l *Local, fn func(Group) error) error {
	var g errgroup.Group
	for r := range l.size {
		g.Go(func() error {
			if err := fn(l.Rank(r)); err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type rank struct {
	group *Local
	rank  int
}

func (r *rank) ID() string { return r.group.id }
func (r *rank) Rank() int  { return r.rank }
func (r *rank) Size() int  { return r.group.size }

func (r *rank) AllReduce(accs []superacc.Superaccumulator) error {
	if r.group.size == 1 {
		return nil
	}

	x := &exchange{group: r.group, rank: r.rank}
	out := x.run(accs)
	if err := r.group.agree.agree(r.rank, x.cause, x.failed); err != nil {
		return err
	}
	copy(accs, out)
	return nil
}

// Abort runs the message pattern of an all-reduce with every outgoing
// message poisoned, so peers never wait on this rank, then joins the
// agreement with cause.
func (r *rank) Abort(cause error) error {
	x := &exchange{group: r.group, rank: r.rank}
	x.fail(fmt.Errorf("rank %d: %w", r.rank, cause))
	x.run(nil)
	return r.group.agree.agree(r.rank, x.cause, x.failed)
}
