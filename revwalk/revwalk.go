// Package revwalk implements the revision traversal that walks the
// commit DAG exposed by an object database: push one or more starting
// points, hide ancestors that should be excluded, and pull commits out
// one at a time in committer-date or topological order.
package revwalk

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/Nivl/git-go/ginternals"
	"github.com/Nivl/git-go/ginternals/object"
)

// ErrWalkDone is returned by Next once every reachable, non-hidden
// commit has been emitted.
var ErrWalkDone = errors.New("revwalk: no more commits")

// CommitGetter is the minimal surface a Walker needs from an object
// store. *git.Repository satisfies it without revwalk importing the
// root package.
type CommitGetter interface {
	GetCommit(oid ginternals.Oid) (*object.Commit, error)
}

// SortMode controls the order commits are popped in when Topological
// isn't set.
type SortMode int

const (
	// SortTime orders commits by committer date, newest first. Ties
	// are broken by oid so the order is deterministic.
	SortTime SortMode = iota
	// SortNone requests no particular order. The heap still orders
	// by committer date, so commits come out in the same order as
	// with SortTime.
	SortNone
)

// node is a commit pending emission, along with the information the
// comparator and the topological buffer need.
type node struct {
	oid    ginternals.Oid
	commit *object.Commit
	indeg  int // topological mode: number of not-yet-released children
}

// commitHeap orders nodes by committer date descending, oid ascending
// on ties, so two runs over the same graph always emit in the same
// order.
type commitHeap []*node

func (h commitHeap) Len() int { return len(h) }

// byTime is the heap's comparator, used whatever SortMode is set.
func (h commitHeap) byTime(i, j int) bool {
	ti := h[i].commit.Committer().Time
	tj := h[j].commit.Committer().Time
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return h[i].oid.String() < h[j].oid.String()
}

func (h commitHeap) Less(i, j int) bool {
	return h.byTime(i, j)
}
func (h commitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *commitHeap) Push(x any)        { *h = append(*h, x.(*node)) }
func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Walker performs a single revision traversal. It isn't safe for
// concurrent use; callers wanting concurrent walks create one Walker
// per goroutine against the same CommitGetter.
type Walker struct {
	getter CommitGetter

	sort  SortMode
	topo  bool
	rev   bool

	pushed  []ginternals.Oid
	hidden  []ginternals.Oid

	visited      map[string]struct{}
	uninteresting map[string]struct{}

	ready   commitHeap
	nodes   map[string]*node
	started bool

	// reverse mode buffers every emitted commit and replays it
	// backwards once the underlying walk is exhausted.
	reverseBuf []*object.Commit
	reverseAt  int
}

// New returns a Walker that reads commits through getter.
func New(getter CommitGetter) *Walker {
	return &Walker{
		getter:        getter,
		visited:       map[string]struct{}{},
		uninteresting: map[string]struct{}{},
	}
}

// Sort records the requested SortMode. The heap orders commits with
// byTime in every mode, so the mode does not change the output.
func (w *Walker) Sort(mode SortMode) *Walker {
	w.sort = mode
	return w
}

// Topological enables topological ordering: a commit is only released
// once every one of its still-unreleased children has already been
// released.
func (w *Walker) Topological(enabled bool) *Walker {
	w.topo = enabled
	return w
}

// Reverse enables reverse mode: results are buffered and replayed in
// reverse order once the walk completes.
func (w *Walker) Reverse(enabled bool) *Walker {
	w.rev = enabled
	return w
}

// Push adds oid as an inclusive starting point of the walk.
func (w *Walker) Push(oid ginternals.Oid) error {
	if w.started {
		return errors.New("revwalk: cannot Push after the walk has started, call Reset first")
	}
	w.pushed = append(w.pushed, oid)
	return nil
}

// Hide excludes oid and all its ancestors from the walk.
func (w *Walker) Hide(oid ginternals.Oid) error {
	if w.started {
		return errors.New("revwalk: cannot Hide after the walk has started, call Reset first")
	}
	w.hidden = append(w.hidden, oid)
	return nil
}

// Reset discards all queued work so the Walker can be reused with a
// new set of push/hide oids.
func (w *Walker) Reset() {
	w.pushed = nil
	w.hidden = nil
	w.visited = map[string]struct{}{}
	w.uninteresting = map[string]struct{}{}
	w.ready = nil
	w.nodes = nil
	w.started = false
	w.reverseBuf = nil
	w.reverseAt = 0
}

// init expands the hide closure first (so an interesting commit whose
// ancestor is hidden never gets emitted), then seeds the ready queue
// from the push set, building the topological in-degree table if
// needed.
func (w *Walker) init() error {
	w.started = true
	w.nodes = map[string]*node{}

	// Expand the hide closure eagerly: every ancestor of a hidden
	// commit is marked uninteresting before any push commit is ever
	// looked at. This keeps the "interesting" BFS below simple: it
	// just has to consult the set, never chase hide edges itself.
	queue := append([]ginternals.Oid{}, w.hidden...)
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		key := oid.String()
		if _, seen := w.uninteresting[key]; seen {
			continue
		}
		w.uninteresting[key] = struct{}{}
		c, err := w.getter.GetCommit(oid)
		if err != nil {
			return fmt.Errorf("revwalk: could not load hidden commit %s: %w", key, err)
		}
		queue = append(queue, c.ParentIDs()...)
	}

	if w.topo {
		return w.initTopological()
	}

	heap.Init(&w.ready)
	for _, oid := range w.pushed {
		if err := w.enqueue(oid); err != nil {
			return err
		}
	}
	return nil
}

// enqueue loads oid and pushes it onto the ready heap unless it's
// already visited or part of the hide closure.
func (w *Walker) enqueue(oid ginternals.Oid) error {
	key := oid.String()
	if _, done := w.visited[key]; done {
		return nil
	}
	if _, hidden := w.uninteresting[key]; hidden {
		return nil
	}
	w.visited[key] = struct{}{}
	c, err := w.getter.GetCommit(oid)
	if err != nil {
		return fmt.Errorf("revwalk: could not load commit %s: %w", key, err)
	}
	heap.Push(&w.ready, &node{oid: oid, commit: c})
	return nil
}

// initTopological does a full BFS over the interesting subgraph to
// compute in-degree (number of not-yet-released children) for every
// node, then seeds the ready heap with the roots.
func (w *Walker) initTopological() error {
	indeg := map[string]int{}
	queue := append([]ginternals.Oid{}, w.pushed...)
	seen := map[string]struct{}{}
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]
		key := oid.String()
		if _, hidden := w.uninteresting[key]; hidden {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c, err := w.getter.GetCommit(oid)
		if err != nil {
			return fmt.Errorf("revwalk: could not load commit %s: %w", key, err)
		}
		w.nodes[key] = &node{oid: oid, commit: c}
		for _, p := range c.ParentIDs() {
			pkey := p.String()
			if _, hidden := w.uninteresting[pkey]; hidden {
				continue
			}
			indeg[pkey]++
			queue = append(queue, p)
		}
	}

	heap.Init(&w.ready)
	for key, n := range w.nodes {
		n.indeg = indeg[key]
		if n.indeg == 0 {
			heap.Push(&w.ready, n)
		}
	}
	return nil
}

// Next returns the next commit in the walk. ErrWalkDone is returned
// once every reachable commit has been emitted; the
// context's cancellation is checked between emissions and reported as
// ginternals.ErrCancelled.
func (w *Walker) Next(ctx context.Context) (*object.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("revwalk: %w", ginternals.ErrCancelled)
	}
	if !w.started {
		if err := w.init(); err != nil {
			return nil, err
		}
	}

	if w.rev {
		return w.nextReverse(ctx)
	}
	return w.next(ctx)
}

func (w *Walker) next(ctx context.Context) (*object.Commit, error) {
	if w.ready.Len() == 0 {
		return nil, ErrWalkDone
	}
	n := heap.Pop(&w.ready).(*node)

	if w.topo {
		for _, p := range n.commit.ParentIDs() {
			pkey := p.String()
			pn, ok := w.nodes[pkey]
			if !ok {
				continue
			}
			pn.indeg--
			if pn.indeg == 0 {
				heap.Push(&w.ready, pn)
			}
		}
		return n.commit, nil
	}

	for _, p := range n.commit.ParentIDs() {
		if err := w.enqueue(p); err != nil {
			return nil, err
		}
	}
	return n.commit, nil
}

// nextReverse drains the underlying walk into a buffer on first call,
// then serves commits back out last-emitted-first.
func (w *Walker) nextReverse(ctx context.Context) (*object.Commit, error) {
	if w.reverseBuf == nil {
		for {
			c, err := w.next(ctx)
			if err != nil {
				if errors.Is(err, ErrWalkDone) {
					break
				}
				return nil, err
			}
			w.reverseBuf = append(w.reverseBuf, c)
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("revwalk: %w", ginternals.ErrCancelled)
			}
		}
		w.reverseAt = len(w.reverseBuf)
	}
	if w.reverseAt == 0 {
		return nil, ErrWalkDone
	}
	w.reverseAt--
	return w.reverseBuf[w.reverseAt], nil
}
