package universe

// OnOverrideReachable posts fn once for every override of m that becomes
// usable: an instantiated subtype of m's declaring type dispatches m to it
// and it is reachable. m itself is never reported.
func (m *MethodNode) OnOverrideReachable(fn func(*MethodNode)) *Subscription {
	s := newSeenSub[*MethodNode](fn)
	m.overrideSubs.Add(s)
	m.declaring.overrideWatched.Add(m)
	for _, t := range m.declaring.AssignableTypes() {
		if impl := t.ResolveConcreteMethod(m); impl != nil && impl != m && impl.IsReachable() {
			s.offer(m.u, impl, impl)
		}
	}
	return &Subscription{cancel: func() bool { return m.overrideSubs.Remove(s) }}
}

func (m *MethodNode) offerOverride(impl *MethodNode) {
	m.overrideSubs.ForEach(func(s *seenSub[*MethodNode, *MethodNode]) {
		s.offer(m.u, impl, impl)
	})
}

// notifyOverridden runs once m is reachable. It reports m to the
// subscribers of every method some instantiated subtype of m's declaring
// type dispatches to m. The overridden method may be declared by a
// supertype of that subtype rather than of m's declaring type, as when a
// subclass adds an interface its superclass already implements.
func (m *MethodNode) notifyOverridden() {
	for _, t := range m.declaring.AssignableTypes() {
		t.ForAllSupertypes(func(s *TypeNode) bool {
			s.overrideWatched.ForEach(func(o *MethodNode) {
				if o != m && o.ref.SameSignature(m.ref) && t.ResolveConcreteMethod(o) == m {
					o.offerOverride(m)
				}
			})
			return true
		})
	}
}
