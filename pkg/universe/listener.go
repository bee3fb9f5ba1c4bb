package universe

// Listener observes universe-wide events. Calls are posted to the executor
// like every other notification, so implementations must be safe for
// concurrent use.
type Listener interface {
	TypeReachable(t *TypeNode)
	TypeInstantiated(t *TypeNode)
	MethodReachable(m *MethodNode)
	FieldAccessed(f *FieldNode)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) TypeReachable(*TypeNode)     {}
func (NopListener) TypeInstantiated(*TypeNode)  {}
func (NopListener) MethodReachable(*MethodNode) {}
func (NopListener) FieldAccessed(*FieldNode)    {}
