package universe

import (
	"cmp"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/layer"
	"github.com/715d/reachable/pkg/notify"
	"github.com/715d/reachable/pkg/reach"
)

// TypeNode is the canonical node of one type.
type TypeNode struct {
	u     *Universe
	id    int
	ref   descriptor.TypeRef
	kind  descriptor.Kind
	mods  descriptor.Modifiers
	shape *descriptor.TypeShape // nil for arrays

	component *TypeNode
	elemental *TypeNode
	dimension int
	arrayType atomic.Pointer[TypeNode]

	superclass *TypeNode
	interfaces []*TypeNode
	supertypes []*TypeNode // strict and transitive, ascending id

	subtypes   *xsync.Map[int, *TypeNode] // includes the type itself
	assignable *xsync.Map[int, *TypeNode] // instantiated subtypes

	reachable              reach.Flag
	instantiated           reach.Flag
	allocated              reach.Flag
	inHeap                 reach.Flag
	unsafeAllocated        reach.Flag
	anySubtypeInstantiated reach.Flag

	reachableSubs           onceSubs
	instantiatedSubs        onceSubs
	subtypeReachableSubs    notify.Set[*seenSub[int, *TypeNode]]
	subtypeInstantiatedSubs notify.Set[*seenSub[int, *TypeNode]]
	// overrideWatched holds the methods declared here that have override
	// subscribers.
	overrideWatched notify.Set[*MethodNode]

	resolved     *xsync.Map[*MethodNode, resolution]
	methods      atomic.Pointer[[]*MethodNode]
	fields       atomic.Pointer[[]*FieldNode]
	unsafeFields *xsync.Map[string, *notify.Set[*FieldNode]]

	layerRec *layer.Record
}

type resolution struct {
	m *MethodNode
}

func (u *Universe) buildType(ref descriptor.TypeRef, c *creation) (*TypeNode, error) {
	t := &TypeNode{
		u:            u,
		ref:          ref,
		subtypes:     xsync.NewMap[int, *TypeNode](),
		assignable:   xsync.NewMap[int, *TypeNode](),
		resolved:     xsync.NewMap[*MethodNode, resolution](),
		unsafeFields: xsync.NewMap[string, *notify.Set[*FieldNode]](),
	}
	if ref.IsArray() {
		if err := u.buildArray(t, c); err != nil {
			return nil, err
		}
	} else {
		shape, err := u.provider.Type(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve type %s: %w", ref, err)
		}
		t.shape, t.kind, t.mods, t.elemental = shape, shape.Kind, shape.Modifiers, t
		if shape.Super != "" {
			if t.superclass, err = u.lookupType(shape.Super, c); err != nil {
				return nil, fmt.Errorf("superclass of %s: %w", ref, err)
			}
		}
		for _, iref := range shape.Interfaces {
			iface, err := u.lookupType(iref, c)
			if err != nil {
				return nil, fmt.Errorf("interface of %s: %w", ref, err)
			}
			t.interfaces = append(t.interfaces, iface)
		}
	}
	t.supertypes = collectSupertypes(t)

	t.layerRec = u.layerRecord(layer.KindType, string(ref))
	if t.layerRec != nil {
		t.id = t.layerRec.ID
	} else {
		t.id = int(u.nextTypeID.Add(1) - 1)
	}
	u.insertType(t)
	t.subtypes.Store(t.id, t)
	for _, s := range t.supertypes {
		s.subtypes.Store(t.id, t)
	}
	if t.component != nil {
		t.component.arrayType.CompareAndSwap(nil, t)
	}
	return t, nil
}

// buildArray links an array type to its component and direct supertypes.
// For a component C the superclass is S[] where S is the superclass of C,
// and every interface I of C contributes I[]. Arrays of primitives and of
// the root type extend the root type directly.
func (u *Universe) buildArray(t *TypeNode, c *creation) error {
	comp, err := u.lookupType(t.ref.Elem(), c)
	if err != nil {
		return fmt.Errorf("component of %s: %w", t.ref, err)
	}
	t.component, t.elemental, t.dimension = comp, comp.elemental, comp.dimension+1
	t.kind, t.mods = descriptor.KindObject, descriptor.Final

	if comp.kind.IsPrimitive() || comp.ref == descriptor.ObjectRef {
		t.superclass = u.lookupRoot(c)
		return nil
	}
	sup := descriptor.ObjectRef
	if comp.superclass != nil {
		sup = comp.superclass.ref
	}
	if t.superclass, err = u.lookupType(descriptor.ArrayOf(sup), c); err != nil {
		return fmt.Errorf("superclass of %s: %w", t.ref, err)
	}
	for _, iface := range comp.interfaces {
		arr, err := u.lookupType(descriptor.ArrayOf(iface.ref), c)
		if err != nil {
			return fmt.Errorf("interface of %s: %w", t.ref, err)
		}
		t.interfaces = append(t.interfaces, arr)
	}
	return nil
}

func (t *TypeNode) directSupertypes() []*TypeNode {
	out := make([]*TypeNode, 0, len(t.interfaces)+1)
	if t.superclass != nil {
		out = append(out, t.superclass)
	}
	return append(out, t.interfaces...)
}

// collectSupertypes walks the hierarchy with an explicit worklist, since
// array and interface hierarchies can be deep.
func collectSupertypes(t *TypeNode) []*TypeNode {
	visited := make(map[int]bool)
	var out []*TypeNode
	work := t.directSupertypes()
	for len(work) > 0 {
		s := work[len(work)-1]
		work = work[:len(work)-1]
		if visited[s.id] {
			continue
		}
		visited[s.id] = true
		out = append(out, s)
		work = append(work, s.directSupertypes()...)
	}
	slices.SortFunc(out, func(a, b *TypeNode) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (t *TypeNode) ID() int                 { return t.id }
func (t *TypeNode) Hash() int               { return t.id }
func (t *TypeNode) Universe() *Universe     { return t.u }
func (t *TypeNode) Ref() descriptor.TypeRef { return t.ref }
func (t *TypeNode) String() string          { return string(t.ref) }

// Kind returns the storage kind: a primitive kind or KindObject.
func (t *TypeNode) Kind() descriptor.Kind { return t.kind }

func (t *TypeNode) Modifiers() descriptor.Modifiers { return t.mods }
func (t *TypeNode) IsInterface() bool               { return t.mods.Has(descriptor.Interface) }
func (t *TypeNode) IsAbstract() bool                { return t.mods.Has(descriptor.Abstract) }
func (t *TypeNode) IsArray() bool                   { return t.component != nil }
func (t *TypeNode) IsPrimitive() bool               { return t.kind.IsPrimitive() }

// ComponentType returns the component of an array type, or nil.
func (t *TypeNode) ComponentType() *TypeNode { return t.component }

// ElementalType returns the type with every array dimension stripped.
func (t *TypeNode) ElementalType() *TypeNode { return t.elemental }

// Dimension returns the number of array dimensions.
func (t *TypeNode) Dimension() int { return t.dimension }

// Superclass returns the superclass, or nil for the root type, primitives
// and interfaces.
func (t *TypeNode) Superclass() *TypeNode { return t.superclass }

// Interfaces returns the directly implemented interfaces.
func (t *TypeNode) Interfaces() []*TypeNode { return slices.Clone(t.interfaces) }

// ArrayType returns the one-dimensional array of t, creating it if needed.
func (t *TypeNode) ArrayType() (*TypeNode, error) {
	if a := t.arrayType.Load(); a != nil {
		return a, nil
	}
	return t.u.LookupType(descriptor.ArrayOf(t.ref))
}

// Supertypes returns every strict supertype, sorted by id.
func (t *TypeNode) Supertypes() []*TypeNode { return slices.Clone(t.supertypes) }

// ForAllSupertypes calls fn for every strict supertype in ascending id
// order and then for t itself, stopping early when fn returns false.
func (t *TypeNode) ForAllSupertypes(fn func(*TypeNode) bool) {
	for _, s := range t.supertypes {
		if !fn(s) {
			return
		}
	}
	fn(t)
}

// Subtypes returns every known subtype, t included, sorted by id.
func (t *TypeNode) Subtypes() []*TypeNode {
	return sortedMapValues(t.subtypes)
}

// IsSubtypeOf reports whether t is o or one of o's subtypes.
func (t *TypeNode) IsSubtypeOf(o *TypeNode) bool {
	s, ok := o.subtypes.Load(t.id)
	return ok && s == t
}

// IsAssignableFrom reports whether a value of type o can be stored in a
// location of type t.
func (t *TypeNode) IsAssignableFrom(o *TypeNode) bool {
	return o.IsSubtypeOf(t)
}

// AssignableTypes returns the instantiated subtypes of t, sorted by id.
func (t *TypeNode) AssignableTypes() []*TypeNode {
	return sortedMapValues(t.assignable)
}

func sortedMapValues(m *xsync.Map[int, *TypeNode]) []*TypeNode {
	out := make([]*TypeNode, 0, m.Size())
	m.Range(func(_ int, v *TypeNode) bool {
		out = append(out, v)
		return true
	})
	return sortedByID(out)
}

func (t *TypeNode) IsReachable() bool    { return t.reachable.IsSet() }
func (t *TypeNode) IsInstantiated() bool { return t.instantiated.IsSet() }
func (t *TypeNode) IsAllocated() bool    { return t.allocated.IsSet() }
func (t *TypeNode) IsInHeap() bool       { return t.inHeap.IsSet() }

func (t *TypeNode) IsUnsafeAllocated() bool { return t.unsafeAllocated.IsSet() }

// IsAnySubtypeInstantiated reports whether t or any subtype is instantiated.
func (t *TypeNode) IsAnySubtypeInstantiated() bool { return t.anySubtypeInstantiated.IsSet() }

// ReachableReason returns why t became reachable, or nil.
func (t *TypeNode) ReachableReason() reach.Reason { return t.reachable.Reason() }

// InstantiatedReason returns why t became instantiated, or nil.
func (t *TypeNode) InstantiatedReason() reach.Reason { return t.instantiated.Reason() }

// DeclaredMethods returns the methods t declares. Methods that cannot be
// resolved are logged and skipped.
func (t *TypeNode) DeclaredMethods() []*MethodNode {
	if p := t.methods.Load(); p != nil {
		return *p
	}
	var out []*MethodNode
	if t.shape != nil {
		for _, ref := range t.shape.Methods {
			m, err := t.u.LookupMethod(ref)
			if err != nil {
				t.u.log.Warn("unresolved declared method", "type", t.String(), "method", ref.String(), "error", err)
				continue
			}
			out = append(out, m)
		}
	}
	t.methods.CompareAndSwap(nil, &out)
	return *t.methods.Load()
}

// DeclaredFields returns the fields t declares. Fields that cannot be
// resolved are logged and skipped.
func (t *TypeNode) DeclaredFields() []*FieldNode {
	if p := t.fields.Load(); p != nil {
		return *p
	}
	var out []*FieldNode
	if t.shape != nil {
		for _, ref := range t.shape.Fields {
			f, err := t.u.LookupField(ref)
			if err != nil {
				t.u.log.Warn("unresolved declared field", "type", t.String(), "field", ref.String(), "error", err)
				continue
			}
			out = append(out, f)
		}
	}
	t.fields.CompareAndSwap(nil, &out)
	return *t.fields.Load()
}

// ResolveConcreteMethod returns the implementation of m that a receiver of
// dynamic type t dispatches to, or nil. The superclass chain is searched
// before interface default methods. Results are memoized.
func (t *TypeNode) ResolveConcreteMethod(m *MethodNode) *MethodNode {
	if m == nil {
		return nil
	}
	if r, ok := t.resolved.Load(m); ok {
		return r.m
	}
	r, _ := t.resolved.LoadOrStore(m, resolution{m: t.resolve(m.ref)})
	return r.m
}

func (t *TypeNode) resolve(ref descriptor.MethodRef) *MethodNode {
	for c := t; c != nil; c = c.superclass {
		if d := c.declared(ref); d != nil && d.isConcrete() {
			return d
		}
	}
	// Most specific interface first.
	for i := len(t.supertypes) - 1; i >= 0; i-- {
		s := t.supertypes[i]
		if !s.IsInterface() {
			continue
		}
		if d := s.declared(ref); d != nil && d.isConcrete() {
			return d
		}
	}
	return nil
}

func (t *TypeNode) declared(ref descriptor.MethodRef) *MethodNode {
	for _, m := range t.DeclaredMethods() {
		if m.ref.SameSignature(ref) {
			return m
		}
	}
	return nil
}

// UnsafeAccessedFields returns the unsafe-accessed fields of partition
// declared by t or its superclasses, sorted by id.
func (t *TypeNode) UnsafeAccessedFields(partition string) []*FieldNode {
	var out []*FieldNode
	for c := t; c != nil; c = c.superclass {
		if set, ok := c.unsafeFields.Load(partition); ok {
			out = append(out, set.Snapshot()...)
		}
	}
	return sortedByID(out)
}

func (t *TypeNode) addUnsafeField(partition string, f *FieldNode) {
	set, _ := t.unsafeFields.LoadOrStore(partition, &notify.Set[*FieldNode]{})
	set.Add(f)
}
