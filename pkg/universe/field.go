package universe

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/layer"
	"github.com/715d/reachable/pkg/reach"
)

// FieldNode is the canonical node of one field.
type FieldNode struct {
	u         *Universe
	id        int
	ref       descriptor.FieldRef
	shape     *descriptor.FieldShape
	declaring *TypeNode
	typ       *TypeNode

	accessed       reach.Flag
	read           reach.Flag
	written        reach.Flag
	folded         reach.Flag
	unsafeAccessed reach.Flag
	unsafeListed   reach.Mark

	reachableSubs onceSubs

	// Access chains, nil unless tracking is enabled and until Cleanup.
	readBy    atomic.Pointer[xsync.Map[string, reach.Reason]]
	writtenBy atomic.Pointer[xsync.Map[string, reach.Reason]]

	layerRec *layer.Record
}

func (u *Universe) buildField(ref descriptor.FieldRef, c *creation) (*FieldNode, error) {
	shape, err := u.provider.Field(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve field %s: %w", ref, err)
	}
	declaring, err := u.lookupType(ref.Owner, c)
	if err != nil {
		return nil, fmt.Errorf("declaring type of %s: %w", ref, err)
	}
	f := &FieldNode{u: u, ref: ref, shape: shape, declaring: declaring}
	f.typ = u.typeOrObject(shape.Type, c, "field type", ref)
	if u.opts.AccessTracking {
		f.readBy.Store(xsync.NewMap[string, reach.Reason]())
		f.writtenBy.Store(xsync.NewMap[string, reach.Reason]())
	}

	f.layerRec = u.layerRecord(layer.KindField, ref.String())
	if f.layerRec != nil {
		f.id = f.layerRec.ID
	} else {
		f.id = int(u.nextFieldID.Add(1) - 1)
	}
	return f, nil
}

func (f *FieldNode) ID() int                  { return f.id }
func (f *FieldNode) Hash() int                { return f.id }
func (f *FieldNode) Universe() *Universe      { return f.u }
func (f *FieldNode) Ref() descriptor.FieldRef { return f.ref }
func (f *FieldNode) String() string           { return f.ref.String() }

// DeclaringType returns the type that declares f.
func (f *FieldNode) DeclaringType() *TypeNode { return f.declaring }

// Type returns the declared type of f, or the root type when it cannot be
// resolved.
func (f *FieldNode) Type() *TypeNode { return f.typ }

func (f *FieldNode) Modifiers() descriptor.Modifiers { return f.shape.Modifiers }
func (f *FieldNode) IsStatic() bool                  { return f.shape.Modifiers.Has(descriptor.Static) }
func (f *FieldNode) IsVolatile() bool                { return f.shape.Modifiers.Has(descriptor.Volatile) }
func (f *FieldNode) IsFinal() bool                   { return f.shape.Modifiers.Has(descriptor.Final) }

// Partition returns the unsafe-access partition of f.
func (f *FieldNode) Partition() string { return f.shape.Partition }

func (f *FieldNode) IsRead() bool           { return f.read.IsSet() }
func (f *FieldNode) IsWritten() bool        { return f.written.IsSet() }
func (f *FieldNode) IsFolded() bool         { return f.folded.IsSet() }
func (f *FieldNode) IsUnsafeAccessed() bool { return f.unsafeAccessed.IsSet() }

// IsAccessed reports whether f must be kept. A write-only field may be
// dropped unless it is volatile or holds a reference: keeping the referent
// alive is observable.
func (f *FieldNode) IsAccessed() bool {
	return f.accessed.IsSet() || f.read.IsSet() ||
		(f.written.IsSet() && (f.IsVolatile() || !f.typ.IsPrimitive()))
}

// IsReachable reports whether f is accessed, folded or accessed unsafely.
func (f *FieldNode) IsReachable() bool {
	return f.IsAccessed() || f.IsFolded() || f.IsUnsafeAccessed()
}

// RegisterAsAccessed records an access that is neither a plain read nor a
// plain write, such as a reflective or atomic access.
func (f *FieldNode) RegisterAsAccessed(r reach.Reason) bool {
	return f.register(&f.accessed, "accessed", r)
}

// RegisterAsRead records a read of f.
func (f *FieldNode) RegisterAsRead(r reach.Reason) bool {
	reach.Check(r)
	track(f.readBy.Load(), r)
	return f.register(&f.read, "read", r)
}

// RegisterAsWritten records a write of f.
func (f *FieldNode) RegisterAsWritten(r reach.Reason) bool {
	reach.Check(r)
	track(f.writtenBy.Load(), r)
	return f.register(&f.written, "written", r)
}

// RegisterAsFolded records that reads of f were replaced by its constant
// value.
func (f *FieldNode) RegisterAsFolded(r reach.Reason) bool {
	return f.register(&f.folded, "folded", r)
}

// RegisterAsUnsafeAccessed records a raw-offset access of f and lists f in
// its declaring type's unsafe partition. Repeated calls are expected; the
// listing happens once.
func (f *FieldNode) RegisterAsUnsafeAccessed(r reach.Reason) bool {
	changed := f.register(&f.unsafeAccessed, "unsafe-accessed", r)
	if f.unsafeListed.TrySet() {
		f.declaring.addUnsafeField(f.shape.Partition, f)
	}
	return changed
}

func (f *FieldNode) register(flag *reach.Flag, name string, r reach.Reason) bool {
	reach.Check(r)
	f.declaring.RegisterAsReachable(reach.Because(f))
	return flag.RunOnceAndSet(r, func() {
		recordFlagSet("field", name)
		if f.IsReachable() {
			f.reachableSubs.fireAll(f.u)
		}
		if l := f.u.listener; l != nil {
			f.u.post(func() { l.FieldAccessed(f) })
		}
	})
}

func track(chain *xsync.Map[string, reach.Reason], r reach.Reason) {
	if chain != nil {
		chain.LoadOrStore(r.String(), r)
	}
}

// OnReachable posts fn once f is reachable.
func (f *FieldNode) OnReachable(fn func()) *Subscription {
	return f.reachableSubs.subscribe(f.u, fn, f.IsReachable)
}

// ReadBy returns the distinct reasons f was read for, sorted by text. It
// is empty unless access tracking is enabled, and after Cleanup.
func (f *FieldNode) ReadBy() []reach.Reason { return chainReasons(f.readBy.Load()) }

// WrittenBy is the write counterpart of ReadBy.
func (f *FieldNode) WrittenBy() []reach.Reason { return chainReasons(f.writtenBy.Load()) }

func chainReasons(chain *xsync.Map[string, reach.Reason]) []reach.Reason {
	if chain == nil {
		return nil
	}
	out := make([]reach.Reason, 0, chain.Size())
	chain.Range(func(_ string, r reach.Reason) bool {
		out = append(out, r)
		return true
	})
	slices.SortFunc(out, func(a, b reach.Reason) int { return strings.Compare(a.String(), b.String()) })
	return out
}
