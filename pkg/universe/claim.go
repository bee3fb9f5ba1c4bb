package universe

import (
	"fmt"
	"runtime"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/reach"
)

// creation identifies one top-level lookup together with every nested
// lookup it makes while constructing nodes. A lookup that finds a claim
// owned by its own creation would wait for itself.
type creation struct {
	// pending holds the published hooks of nodes built under this
	// creation. They run once the top-level lookup holds no claims.
	pending []func()
}

func (c *creation) flush() {
	for len(c.pending) > 0 {
		fns := c.pending
		c.pending = nil
		for _, fn := range fns {
			fn()
		}
	}
}

// slot is a map value: either a claim owned by a creation in progress or a
// published node.
type slot[N any] struct {
	owner *creation
	node  N
}

// table canonicalizes the nodes of one kind.
type table[K comparable, N any] struct {
	kind string
	m    *xsync.Map[K, *slot[N]]
	// published runs on the creating goroutine after a node becomes
	// visible to other lookups, once the outermost lookup has released
	// its claims.
	published func(N)
}

func newTable[K comparable, N any](kind string, published func(N)) *table[K, N] {
	return &table[K, N]{kind: kind, m: xsync.NewMap[K, *slot[N]](), published: published}
}

// lookup returns the node for key, creating it with build when absent.
// Concurrent lookups of the same key observe one build and one node.
func (t *table[K, N]) lookup(u *Universe, key K, c *creation, sealedOK bool, build func(*creation) (N, error)) (N, error) {
	if s, ok := t.m.Load(key); ok && s.owner == nil {
		return s.node, nil
	}
	if c == nil {
		// Outermost lookup. Hooks of the nodes it published run even if a
		// nested build panics.
		c = &creation{}
		defer c.flush()
	}
	var zero N
	waited := false
	for spins := 0; ; spins++ {
		s, ok := t.m.Load(key)
		switch {
		case !ok:
			if !sealedOK && u.IsSealed() {
				return zero, fmt.Errorf("create %s %v: %w", t.kind, key, ErrSealed)
			}
			claim := &slot[N]{owner: c}
			if _, loaded := t.m.LoadOrStore(key, claim); loaded {
				continue
			}
			return t.create(key, c, build)
		case s.owner == nil:
			return s.node, nil
		case s.owner == c:
			panic(&reach.DeadlockError{Op: "create " + t.kind, Holder: fmt.Sprint(key)})
		}
		if !waited {
			recordClaimWait(t.kind)
			waited = true
		}
		u.backoff(spins)
	}
}

// create runs build for a key this creation has claimed. The claim is
// removed if build fails or panics, so a later lookup may retry.
func (t *table[K, N]) create(key K, c *creation, build func(*creation) (N, error)) (N, error) {
	var zero N
	published := false
	defer func() {
		if !published {
			t.m.Delete(key)
		}
	}()
	n, err := build(c)
	if err != nil {
		return zero, err
	}
	t.m.Store(key, &slot[N]{node: n})
	published = true
	recordNodeCreated(t.kind)
	if t.published != nil {
		c.pending = append(c.pending, func() { t.published(n) })
	}
	return n, nil
}

// nodes returns every published node.
func (t *table[K, N]) nodes() []N {
	out := make([]N, 0, t.m.Size())
	t.m.Range(func(_ K, s *slot[N]) bool {
		if s.owner == nil {
			out = append(out, s.node)
		}
		return true
	})
	return out
}

// backoff yields for the first polls and then sleeps, doubling up to the
// configured cap.
func (u *Universe) backoff(spins int) {
	const yields = 32
	if spins < yields {
		runtime.Gosched()
		return
	}
	d := time.Microsecond << min(spins-yields, 20)
	time.Sleep(min(d, u.opts.ClaimBackoff))
}
