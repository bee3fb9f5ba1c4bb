package universe

import (
	"github.com/715d/reachable/pkg/reach"
)

// RegisterAsReachable marks t reachable. Every strict supertype is marked
// first, in ascending id order, so no goroutine observes a subtype
// reachable before its supertypes. It reports whether this call set t's
// flag.
func (t *TypeNode) RegisterAsReachable(r reach.Reason) bool {
	reach.Check(r)
	if t.reachable.IsSet() {
		return false
	}
	cause := reach.Because(t)
	for _, s := range t.supertypes {
		// The supertypes of s precede it in the slice, so no cascade is
		// needed here.
		s.markReachable(cause)
	}
	return t.markReachable(r)
}

func (t *TypeNode) markReachable(r reach.Reason) bool {
	return t.reachable.RunOnceAndSet(r, func() { t.onReachable(r) })
}

func (t *TypeNode) onReachable(r reach.Reason) {
	recordFlagSet("type", "reachable")
	t.reachableSubs.fireAll(t.u)
	for _, s := range t.supertypes {
		s.offerSubtypeReachable(t)
	}
	t.offerSubtypeReachable(t)
	if t.IsArray() {
		// Arrays add no methods, so reachable and instantiated coincide.
		t.registerAsInstantiated(r)
	}
	if l := t.u.listener; l != nil {
		t.u.post(func() { l.TypeReachable(t) })
	}
}

func (t *TypeNode) offerSubtypeReachable(sub *TypeNode) {
	t.subtypeReachableSubs.ForEach(func(s *seenSub[int, *TypeNode]) {
		s.offer(t.u, sub.id, sub)
	})
}

// RegisterAsAllocated records an allocation site of t. It reports whether
// this call set the allocated flag.
func (t *TypeNode) RegisterAsAllocated(r reach.Reason) bool {
	return t.registerInstanceKind(&t.allocated, "allocated", r)
}

// RegisterAsInHeap records that an instance of t exists in the initial
// heap. It reports whether this call set the in-heap flag.
func (t *TypeNode) RegisterAsInHeap(r reach.Reason) bool {
	return t.registerInstanceKind(&t.inHeap, "in-heap", r)
}

// RegisterAsUnsafeAllocated records an allocation that bypasses
// constructors. It reports whether this call set the flag.
func (t *TypeNode) RegisterAsUnsafeAllocated(r reach.Reason) bool {
	return t.registerInstanceKind(&t.unsafeAllocated, "unsafe-allocated", r)
}

func (t *TypeNode) registerInstanceKind(flag *reach.Flag, name string, r reach.Reason) bool {
	reach.Check(r)
	if !t.IsArray() && (t.IsAbstract() || t.IsPrimitive()) {
		reach.Contract("cannot register %s as %s: type is abstract or primitive", t, name)
	}
	t.RegisterAsReachable(r)
	changed := flag.TrySet(r)
	if changed {
		recordFlagSet("type", name)
	}
	t.registerAsInstantiated(r)
	return changed
}

func (t *TypeNode) registerAsInstantiated(r reach.Reason) bool {
	t.RegisterAsReachable(r)
	return t.instantiated.RunOnceAndSet(r, t.onInstantiated)
}

func (t *TypeNode) onInstantiated() {
	recordFlagSet("type", "instantiated")
	t.instantiatedSubs.fireAll(t.u)

	// Publish t in every ancestor's summary before looking at any
	// ancestor's override subscriptions: a method becoming reachable reads
	// the summaries after setting its own flag.
	cause := reach.Because(t)
	t.ForAllSupertypes(func(s *TypeNode) bool {
		s.anySubtypeInstantiated.TrySet(cause)
		s.assignable.Store(t.id, t)
		return true
	})
	t.ForAllSupertypes(func(s *TypeNode) bool {
		s.subtypeInstantiatedSubs.ForEach(func(sub *seenSub[int, *TypeNode]) {
			sub.offer(t.u, t.id, t)
		})
		s.overrideWatched.ForEach(func(m *MethodNode) {
			if impl := t.ResolveConcreteMethod(m); impl != nil && impl != m && impl.IsReachable() {
				m.offerOverride(impl)
			}
		})
		return true
	})

	if l := t.u.listener; l != nil {
		t.u.post(func() { l.TypeInstantiated(t) })
	}
}

// OnReachable posts fn once t is reachable.
func (t *TypeNode) OnReachable(fn func()) *Subscription {
	return t.reachableSubs.subscribe(t.u, fn, t.IsReachable)
}

// OnInstantiated posts fn once t is instantiated.
func (t *TypeNode) OnInstantiated(fn func()) *Subscription {
	return t.instantiatedSubs.subscribe(t.u, fn, t.IsInstantiated)
}

// OnSubtypeReachable posts fn once for every subtype of t, t included, that
// is or becomes reachable.
func (t *TypeNode) OnSubtypeReachable(fn func(*TypeNode)) *Subscription {
	s := newSeenSub[int](fn)
	t.subtypeReachableSubs.Add(s)
	for _, sub := range t.Subtypes() {
		if sub.IsReachable() {
			s.offer(t.u, sub.id, sub)
		}
	}
	return &Subscription{cancel: func() bool { return t.subtypeReachableSubs.Remove(s) }}
}

// OnSubtypeInstantiated posts fn once for every subtype of t, t included,
// that is or becomes instantiated.
func (t *TypeNode) OnSubtypeInstantiated(fn func(*TypeNode)) *Subscription {
	s := newSeenSub[int](fn)
	t.subtypeInstantiatedSubs.Add(s)
	for _, sub := range t.AssignableTypes() {
		s.offer(t.u, sub.id, sub)
	}
	return &Subscription{cancel: func() bool { return t.subtypeInstantiatedSubs.Remove(s) }}
}
