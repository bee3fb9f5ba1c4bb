// Package notify implements a lock-free multi-subscriber registry tuned for
// the overwhelmingly common case of zero or one subscriber per node.
package notify

import "sync/atomic"

// Set is a concurrent set of subscribers. Its state lives in a single
// atomic pointer that is nil when the set is empty, points at a lone
// element, or points at an immutable map. Mutations build a new state and
// publish it with CAS, so readers always iterate a consistent snapshot.
//
// The zero value is an empty set ready for use.
type Set[T comparable] struct {
	state atomic.Pointer[state[T]]
}

type state[T comparable] struct {
	one  T
	many map[T]struct{} // nil when the state holds exactly one element
}

func (s *state[T]) len() int {
	if s == nil {
		return 0
	}
	if s.many == nil {
		return 1
	}
	return len(s.many)
}

func (s *state[T]) contains(v T) bool {
	if s == nil {
		return false
	}
	if s.many == nil {
		return s.one == v
	}
	_, ok := s.many[v]
	return ok
}

// Add inserts v and reports whether it was not already present.
func (s *Set[T]) Add(v T) bool {
	for {
		cur := s.state.Load()
		if cur.contains(v) {
			return false
		}
		var next *state[T]
		switch cur.len() {
		case 0:
			next = &state[T]{one: v}
		case 1:
			next = &state[T]{many: map[T]struct{}{cur.one: {}, v: {}}}
		default:
			m := make(map[T]struct{}, len(cur.many)+1)
			for k := range cur.many {
				m[k] = struct{}{}
			}
			m[v] = struct{}{}
			next = &state[T]{many: m}
		}
		if s.state.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Remove deletes v and reports whether it was present.
func (s *Set[T]) Remove(v T) bool {
	return s.RemoveIf(func(x T) bool { return x == v }) > 0
}

// RemoveIf deletes every element for which pred returns true and returns
// how many were removed. pred may be called more than once per element
// when the set is mutated concurrently, so it must be side-effect free.
func (s *Set[T]) RemoveIf(pred func(T) bool) int {
	for {
		cur := s.state.Load()
		if cur == nil {
			return 0
		}
		var keep []T
		removed := 0
		cur.each(func(v T) {
			if pred(v) {
				removed++
			} else {
				keep = append(keep, v)
			}
		})
		if removed == 0 {
			return 0
		}
		var next *state[T]
		switch len(keep) {
		case 0:
		case 1:
			next = &state[T]{one: keep[0]}
		default:
			m := make(map[T]struct{}, len(keep))
			for _, v := range keep {
				m[v] = struct{}{}
			}
			next = &state[T]{many: m}
		}
		if s.state.CompareAndSwap(cur, next) {
			return removed
		}
	}
}

func (s *state[T]) each(fn func(T)) {
	if s == nil {
		return
	}
	if s.many == nil {
		fn(s.one)
		return
	}
	for v := range s.many {
		fn(v)
	}
}

// ForEach calls fn for every element of a snapshot taken when ForEach
// starts. Elements added concurrently may or may not be visited.
func (s *Set[T]) ForEach(fn func(T)) {
	s.state.Load().each(fn)
}

// Contains reports whether v is currently in the set.
func (s *Set[T]) Contains(v T) bool {
	return s.state.Load().contains(v)
}

// Len returns the number of elements in the current snapshot.
func (s *Set[T]) Len() int {
	return s.state.Load().len()
}

// Snapshot returns the current elements in unspecified order.
func (s *Set[T]) Snapshot() []T {
	cur := s.state.Load()
	out := make([]T, 0, cur.len())
	cur.each(func(v T) { out = append(out, v) })
	return out
}
