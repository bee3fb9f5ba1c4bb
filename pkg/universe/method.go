package universe

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/graphcache"
	"github.com/715d/reachable/pkg/layer"
	"github.com/715d/reachable/pkg/notify"
	"github.com/715d/reachable/pkg/reach"
)

// VariantKey distinguishes alternate compiled forms of one method.
type VariantKey string

// DefaultVariant is the key of the canonical node returned by LookupMethod.
const DefaultVariant VariantKey = ""

// MethodNode is the node of one method variant.
type MethodNode struct {
	u         *Universe
	id        int
	ref       descriptor.MethodRef
	shape     *descriptor.MethodShape
	declaring *TypeNode
	params    []*TypeNode
	ret       *TypeNode

	variant  VariantKey
	base     *MethodNode
	variants *atomic.Pointer[xsync.Map[VariantKey, *MethodNode]] // shared by every variant

	invoked               reach.Flag
	implementationInvoked reach.Flag
	virtualRoot           reach.Flag
	directRoot            reach.Flag
	intrinsic             reach.Flag
	inlined               reach.Flag
	reachable             reach.Mark

	reachableSubs  onceSubs
	implementation repeatSubs
	overrideSubs   notify.Set[*seenSub[*MethodNode, *MethodNode]]

	graph      *graphcache.Cache[Graph]
	exceptions atomic.Pointer[[]*TypeNode]

	layerRec *layer.Record
}

func (u *Universe) buildMethod(ref descriptor.MethodRef, c *creation) (*MethodNode, error) {
	shape, err := u.provider.Method(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve method %s: %w", ref, err)
	}
	declaring, err := u.lookupType(ref.Owner, c)
	if err != nil {
		return nil, fmt.Errorf("declaring type of %s: %w", ref, err)
	}
	m := &MethodNode{
		u:         u,
		ref:       ref,
		shape:     shape,
		declaring: declaring,
		variants:  new(atomic.Pointer[xsync.Map[VariantKey, *MethodNode]]),
	}
	m.base = m
	for _, p := range shape.Params {
		m.params = append(m.params, u.typeOrObject(p, c, "parameter", ref))
	}
	m.ret = u.typeOrObject(shape.Return, c, "return", ref)

	m.layerRec = u.layerRecord(layer.KindMethod, ref.String())
	if m.layerRec != nil {
		m.id = m.layerRec.ID
	} else {
		m.id = int(u.nextMethodID.Add(1) - 1)
	}
	m.graph = u.newGraphCache(m)
	return m, nil
}

// newVariant builds a sibling of m for key. Variants share everything
// structural and have their own id, flags and graph.
func (m *MethodNode) newVariant(key VariantKey) *MethodNode {
	v := &MethodNode{
		u:         m.u,
		id:        int(m.u.nextMethodID.Add(1) - 1),
		ref:       m.ref,
		shape:     m.shape,
		declaring: m.declaring,
		params:    m.params,
		ret:       m.ret,
		variant:   key,
		base:      m.base,
		variants:  m.variants,
	}
	v.graph = m.u.newGraphCache(v)
	recordNodeCreated("method-variant")
	return v
}

func (m *MethodNode) ID() int                   { return m.id }
func (m *MethodNode) Hash() int                 { return m.id }
func (m *MethodNode) Universe() *Universe       { return m.u }
func (m *MethodNode) Ref() descriptor.MethodRef { return m.ref }

func (m *MethodNode) String() string {
	if m.variant == DefaultVariant {
		return m.ref.String()
	}
	return m.ref.String() + "#" + string(m.variant)
}

// DeclaringType returns the type that declares m.
func (m *MethodNode) DeclaringType() *TypeNode { return m.declaring }

// Params returns the parameter types. Unresolvable types are replaced by
// the root type.
func (m *MethodNode) Params() []*TypeNode { return slices.Clone(m.params) }

// Return returns the result type.
func (m *MethodNode) Return() *TypeNode { return m.ret }

func (m *MethodNode) Modifiers() descriptor.Modifiers { return m.shape.Modifiers }
func (m *MethodNode) IsStatic() bool                  { return m.shape.Modifiers.Has(descriptor.Static) }
func (m *MethodNode) IsAbstract() bool                { return m.shape.Modifiers.Has(descriptor.Abstract) }
func (m *MethodNode) IsNative() bool                  { return m.shape.Modifiers.Has(descriptor.Native) }

// IsClassInitializer reports whether m initializes its declaring type.
func (m *MethodNode) IsClassInitializer() bool {
	return m.shape.Modifiers.Has(descriptor.Initializer)
}

func (m *MethodNode) isConcrete() bool { return !m.IsAbstract() && !m.IsStatic() }

// ExceptionTypes returns the types caught by m's handlers. A handler type
// that cannot be resolved is replaced by the root type.
func (m *MethodNode) ExceptionTypes() []*TypeNode {
	if p := m.exceptions.Load(); p != nil {
		return *p
	}
	out := make([]*TypeNode, 0, len(m.shape.Catches))
	for _, ref := range m.shape.Catches {
		t, err := m.u.LookupType(ref)
		if err != nil {
			m.u.log.Warn("unresolved exception type, using root type", "method", m.String(), "type", ref, "error", err)
			t = m.u.object
		}
		out = append(out, t)
	}
	m.exceptions.CompareAndSwap(nil, &out)
	return *m.exceptions.Load()
}

// Variant returns m's variant key.
func (m *MethodNode) Variant() VariantKey { return m.variant }

// GetOrCreateVariant returns the sibling of m for key, creating it on first
// use. The map holding the siblings is allocated the first time a second
// variant is needed and is shared by all of them.
func (m *MethodNode) GetOrCreateVariant(key VariantKey) *MethodNode {
	if key == m.variant {
		return m
	}
	vm := m.variants.Load()
	if vm == nil {
		fresh := xsync.NewMap[VariantKey, *MethodNode]()
		fresh.Store(m.base.variant, m.base)
		if m.variants.CompareAndSwap(nil, fresh) {
			vm = fresh
		} else {
			vm = m.variants.Load()
		}
	}
	v, _ := vm.LoadOrCompute(key, func() (*MethodNode, bool) {
		return m.newVariant(key), false
	})
	return v
}

// Variants returns every variant of m's method, m included, sorted by id.
func (m *MethodNode) Variants() []*MethodNode {
	vm := m.variants.Load()
	if vm == nil {
		return []*MethodNode{m}
	}
	out := make([]*MethodNode, 0, vm.Size())
	vm.Range(func(_ VariantKey, v *MethodNode) bool {
		out = append(out, v)
		return true
	})
	slices.SortFunc(out, func(a, b *MethodNode) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (m *MethodNode) IsInvoked() bool               { return m.invoked.IsSet() }
func (m *MethodNode) IsImplementationInvoked() bool { return m.implementationInvoked.IsSet() }
func (m *MethodNode) IsVirtualRoot() bool           { return m.virtualRoot.IsSet() }
func (m *MethodNode) IsDirectRoot() bool            { return m.directRoot.IsSet() }
func (m *MethodNode) IsIntrinsic() bool             { return m.intrinsic.IsSet() }
func (m *MethodNode) IsInlined() bool               { return m.inlined.IsSet() }

// IsReachable reports whether m's code may run: it is invoked as an
// implementation, or handled as an intrinsic, or inlined somewhere.
func (m *MethodNode) IsReachable() bool {
	return m.IsImplementationInvoked() || m.IsIntrinsic() || m.IsInlined()
}

// ReachableReason returns the reason of the first implementation
// invocation, or nil.
func (m *MethodNode) ReachableReason() reach.Reason { return m.implementationInvoked.Reason() }

// RegisterAsInvoked records that m is the target of a call. For virtual
// calls this does not make m itself reachable.
func (m *MethodNode) RegisterAsInvoked(r reach.Reason) bool {
	return m.register(&m.invoked, "invoked", r, false)
}

// RegisterAsImplementationInvoked records that m's own code runs.
func (m *MethodNode) RegisterAsImplementationInvoked(r reach.Reason) bool {
	return m.register(&m.implementationInvoked, "implementation-invoked", r, true)
}

// RegisterAsVirtualRoot records m as an entry point dispatched virtually.
func (m *MethodNode) RegisterAsVirtualRoot(r reach.Reason) bool {
	return m.register(&m.virtualRoot, "virtual-root", r, false)
}

// RegisterAsDirectRoot records m as an entry point called directly.
func (m *MethodNode) RegisterAsDirectRoot(r reach.Reason) bool {
	return m.register(&m.directRoot, "direct-root", r, false)
}

// RegisterAsIntrinsic records that calls to m are replaced by the compiler.
func (m *MethodNode) RegisterAsIntrinsic(r reach.Reason) bool {
	return m.register(&m.intrinsic, "intrinsic", r, true)
}

// RegisterAsInlined records that m's body is inlined into a caller.
func (m *MethodNode) RegisterAsInlined(r reach.Reason) bool {
	return m.register(&m.inlined, "inlined", r, true)
}

func (m *MethodNode) register(flag *reach.Flag, name string, r reach.Reason, makesReachable bool) bool {
	reach.Check(r)
	m.declaring.RegisterAsReachable(reach.Because(m))
	return flag.RunOnceAndSet(r, func() {
		recordFlagSet("method", name)
		if flag == &m.implementationInvoked {
			m.implementation.fireAll(m.u)
		}
		if makesReachable && m.reachable.TrySet() {
			m.onReachable()
		}
	})
}

func (m *MethodNode) onReachable() {
	m.reachableSubs.fireAll(m.u)
	m.notifyOverridden()
	if l := m.u.listener; l != nil {
		m.u.post(func() { l.MethodReachable(m) })
	}
}

// OnReachable posts fn once m is reachable.
func (m *MethodNode) OnReachable(fn func()) *Subscription {
	return m.reachableSubs.subscribe(m.u, fn, m.IsReachable)
}

// OnImplementationInvoked posts fn after m is invoked as an
// implementation. Delivery is at least once: a subscription racing with
// the transition may be posted twice.
func (m *MethodNode) OnImplementationInvoked(fn func()) *Subscription {
	return m.implementation.subscribe(m.u, fn, m.IsImplementationInvoked)
}
