package universe

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/notify"
)

// Entity is the behaviour shared by types, methods and fields.
type Entity interface {
	ID() int
	IsReachable() bool
	Universe() *Universe
	String() string
	// OnReachable posts fn once the entity is reachable. fn runs exactly
	// once, on the universe's executor.
	OnReachable(fn func()) *Subscription
}

var (
	_ Entity = (*TypeNode)(nil)
	_ Entity = (*MethodNode)(nil)
	_ Entity = (*FieldNode)(nil)
)

// Subscription is a handle to a registered callback.
type Subscription struct {
	cancel func() bool
}

// Cancel unregisters the callback. It reports whether this call prevented
// a delivery that had not yet been posted.
func (s *Subscription) Cancel() bool {
	if s == nil || s.cancel == nil {
		return false
	}
	return s.cancel()
}

// onceSub is a callback posted at most once.
type onceSub struct {
	fn    func()
	fired atomic.Bool
}

// onceSubs delivers each subscriber exactly once after a condition holds.
// Subscribers that fired are pruned.
type onceSubs struct {
	set notify.Set[*onceSub]
}

func (l *onceSubs) subscribe(u *Universe, fn func(), ready func() bool) *Subscription {
	s := &onceSub{fn: fn}
	l.set.Add(s)
	// The condition is checked after publishing the subscriber, and fire
	// runs after the condition is set, so one of the two sees the other.
	if ready() {
		l.fire(u, s)
	}
	return &Subscription{cancel: func() bool {
		ok := s.fired.CompareAndSwap(false, true)
		l.set.Remove(s)
		return ok
	}}
}

func (l *onceSubs) fire(u *Universe, s *onceSub) {
	if s.fired.CompareAndSwap(false, true) {
		u.post(s.fn)
		l.set.Remove(s)
	}
}

func (l *onceSubs) fireAll(u *Universe) {
	l.set.ForEach(func(s *onceSub) {
		if s.fired.CompareAndSwap(false, true) {
			u.post(s.fn)
		}
	})
	l.set.RemoveIf(func(s *onceSub) bool { return s.fired.Load() })
}

// repeatSubs delivers each subscriber at least once after a condition
// holds. A subscriber racing with the transition may be posted twice.
type repeatSubs struct {
	set notify.Set[*onceSub]
}

func (l *repeatSubs) subscribe(u *Universe, fn func(), ready func() bool) *Subscription {
	s := &onceSub{fn: fn}
	l.set.Add(s)
	if ready() {
		u.post(fn)
		l.set.Remove(s)
	}
	return &Subscription{cancel: func() bool { return l.set.Remove(s) }}
}

func (l *repeatSubs) fireAll(u *Universe) {
	for _, s := range l.set.Snapshot() {
		u.post(s.fn)
		l.set.Remove(s)
	}
}

// seenSub is a callback posted exactly once per distinct key.
type seenSub[K comparable, V any] struct {
	fn   func(V)
	seen *xsync.Map[K, struct{}]
}

func newSeenSub[K comparable, V any](fn func(V)) *seenSub[K, V] {
	return &seenSub[K, V]{fn: fn, seen: xsync.NewMap[K, struct{}]()}
}

func (s *seenSub[K, V]) offer(u *Universe, key K, v V) {
	if _, loaded := s.seen.LoadOrStore(key, struct{}{}); !loaded {
		u.post(func() { s.fn(v) })
	}
}

func (u *Universe) post(task func()) {
	recordNotificationPosted()
	u.exec.Post(task)
}
