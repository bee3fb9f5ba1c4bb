// Package universe is the shared registry of type, method and field nodes
// that analysis goroutines race on. It canonicalizes node creation, records
// monotonic reachability facts and posts callbacks when reachability
// conditions become true.
package universe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/layer"
)

var (
	// ErrSealed is returned when a sealed universe is asked to create a
	// node it does not already have.
	ErrSealed = errors.New("universe is sealed: not found")

	// ErrNoGraphProducer is returned when a graph is requested from a
	// universe without a GraphProducer.
	ErrNoGraphProducer = errors.New("no graph producer configured")

	// ErrNoExecutor is returned by New when no Executor is configured.
	ErrNoExecutor = errors.New("notification executor is required")
)

// Universe owns every node of one analysis.
type Universe struct {
	provider descriptor.Provider
	opts     Options
	log      *slog.Logger
	exec     Executor
	listener Listener

	types   *table[descriptor.TypeRef, *TypeNode]
	methods *table[descriptor.MethodRef, *MethodNode]
	fields  *table[descriptor.FieldRef, *FieldNode]

	nextTypeID, nextMethodID, nextFieldID atomic.Int64

	byIDMu sync.Mutex // guards growth of byID
	byID   atomic.Pointer[typeArray]

	sealed    atomic.Bool
	object    *TypeNode
	layerName string
}

type typeArray struct {
	slots []atomic.Pointer[TypeNode]
}

// New creates a universe over provider. The root type is created eagerly.
// An Executor must be supplied with WithExecutor; the universe starts no
// goroutines of its own.
func New(provider descriptor.Provider, opts ...Option) (*Universe, error) {
	if provider == nil {
		return nil, errors.New("descriptor provider is required")
	}
	o := Options{ClaimBackoff: defaultClaimBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Executor == nil {
		return nil, ErrNoExecutor
	}
	if o.Stage1Required == nil {
		o.Stage1Required = (*MethodNode).IsClassInitializer
	}

	u := &Universe{
		provider: provider,
		opts:     o,
		log:      o.Logger,
		exec:     o.Executor,
		listener: o.Listener,
	}
	u.types = newTable[descriptor.TypeRef]("type", u.replayType)
	u.methods = newTable[descriptor.MethodRef]("method", u.replayMethod)
	u.fields = newTable[descriptor.FieldRef]("field", u.replayField)
	u.byID.Store(&typeArray{})

	if o.Layer != nil {
		meta, err := o.Layer.Meta()
		switch {
		case errors.Is(err, layer.ErrNoMeta):
			u.log.Warn("base layer is empty, starting from scratch")
		case err != nil:
			return nil, fmt.Errorf("read base layer: %w", err)
		default:
			u.layerName = meta.Name
			o.StartTypeID = max(o.StartTypeID, meta.NextTypeID)
			o.StartMethodID = max(o.StartMethodID, meta.NextMethodID)
			o.StartFieldID = max(o.StartFieldID, meta.NextFieldID)
			u.log.Info("building on base layer", "name", meta.Name, "run", meta.RunID,
				"types", meta.NextTypeID, "methods", meta.NextMethodID, "fields", meta.NextFieldID)
		}
	}
	u.nextTypeID.Store(int64(o.StartTypeID))
	u.nextMethodID.Store(int64(o.StartMethodID))
	u.nextFieldID.Store(int64(o.StartFieldID))

	object, err := u.LookupType(descriptor.ObjectRef)
	if err != nil {
		return nil, fmt.Errorf("create root type: %w", err)
	}
	u.object = object
	return u, nil
}

// Object returns the root type.
func (u *Universe) Object() *TypeNode { return u.object }

// Provider returns the descriptor provider the universe mirrors.
func (u *Universe) Provider() descriptor.Provider { return u.provider }

// Logger returns the universe's logger.
func (u *Universe) Logger() *slog.Logger { return u.log }

// Seal stops creation of new non-array nodes. It cannot be undone.
func (u *Universe) Seal() {
	if u.sealed.CompareAndSwap(false, true) {
		u.log.Debug("universe sealed", "types", u.types.m.Size(), "methods", u.methods.m.Size(), "fields", u.fields.m.Size())
	}
}

// IsSealed reports whether Seal has been called.
func (u *Universe) IsSealed() bool { return u.sealed.Load() }

// Wait blocks until the executor has run every posted notification, if the
// executor supports it.
func (u *Universe) Wait(ctx context.Context) error {
	if w, ok := u.exec.(interface{ Wait(context.Context) error }); ok {
		return w.Wait(ctx)
	}
	return nil
}

// LookupType returns the canonical node for ref, creating it and its
// supertypes on first use. A sealed universe still creates array types
// whose element type can be resolved.
func (u *Universe) LookupType(ref descriptor.TypeRef) (*TypeNode, error) {
	return u.lookupType(ref, nil)
}

func (u *Universe) lookupType(ref descriptor.TypeRef, c *creation) (*TypeNode, error) {
	return u.types.lookup(u, ref, c, ref.IsArray(), func(c *creation) (*TypeNode, error) {
		return u.buildType(ref, c)
	})
}

// ArrayType returns the one-dimensional array type of t.
func (u *Universe) ArrayType(t *TypeNode) (*TypeNode, error) {
	return t.ArrayType()
}

// LookupMethod returns the canonical node for ref.
func (u *Universe) LookupMethod(ref descriptor.MethodRef) (*MethodNode, error) {
	return u.methods.lookup(u, ref, nil, false, func(c *creation) (*MethodNode, error) {
		return u.buildMethod(ref, c)
	})
}

// LookupField returns the canonical node for ref.
func (u *Universe) LookupField(ref descriptor.FieldRef) (*FieldNode, error) {
	return u.fields.lookup(u, ref, nil, false, func(c *creation) (*FieldNode, error) {
		return u.buildField(ref, c)
	})
}

// typeOrObject resolves ref, substituting the root type when it cannot be
// resolved.
func (u *Universe) typeOrObject(ref descriptor.TypeRef, c *creation, role string, owner fmt.Stringer) *TypeNode {
	t, err := u.lookupType(ref, c)
	if err != nil {
		u.log.Warn("unresolved type, using root type", "type", ref, "role", role, "owner", owner.String(), "error", err)
		return u.lookupRoot(c)
	}
	return t
}

func (u *Universe) lookupRoot(c *creation) *TypeNode {
	if u.object != nil {
		return u.object
	}
	t, err := u.lookupType(descriptor.ObjectRef, c)
	if err != nil {
		panic(fmt.Sprintf("universe: root type unavailable: %v", err))
	}
	return t
}

func (u *Universe) insertType(t *TypeNode) {
	u.byIDMu.Lock()
	defer u.byIDMu.Unlock()
	arr := u.byID.Load()
	if t.id >= len(arr.slots) {
		grown := &typeArray{slots: make([]atomic.Pointer[TypeNode], max(2*len(arr.slots), t.id+1, 64))}
		for i := range arr.slots {
			grown.slots[i].Store(arr.slots[i].Load())
		}
		u.byID.Store(grown)
		arr = grown
	}
	arr.slots[t.id].Store(t)
}

// TypeByID returns the type with the given id, or nil.
func (u *Universe) TypeByID(id int) *TypeNode {
	arr := u.byID.Load()
	if id < 0 || id >= len(arr.slots) {
		return nil
	}
	return arr.slots[id].Load()
}

// Types returns every published type, sorted by id.
func (u *Universe) Types() []*TypeNode {
	return sortedByID(u.types.nodes())
}

// Methods returns every published canonical method, sorted by id.
// Variants are reached through MethodNode.Variants.
func (u *Universe) Methods() []*MethodNode {
	return sortedByID(u.methods.nodes())
}

// Fields returns every published field, sorted by id.
func (u *Universe) Fields() []*FieldNode {
	return sortedByID(u.fields.nodes())
}

func sortedByID[N interface{ ID() int }](nodes []N) []N {
	slices.SortFunc(nodes, func(a, b N) int { return cmp.Compare(a.ID(), b.ID()) })
	return nodes
}

// Cleanup drops the large transient state of a finished analysis: parsed
// graphs and field access chains. Reachability flags stay valid.
func (u *Universe) Cleanup() {
	for _, m := range u.Methods() {
		for _, v := range m.Variants() {
			v.graph.Clear()
		}
	}
	for _, f := range u.Fields() {
		f.readBy.Store(nil)
		f.writtenBy.Store(nil)
	}
}

// Stats counts nodes by state.
type Stats struct {
	Types             int `json:"types"`
	ReachableTypes    int `json:"reachable_types"`
	InstantiatedTypes int `json:"instantiated_types"`
	Methods           int `json:"methods"`
	ReachableMethods  int `json:"reachable_methods"`
	InvokedMethods    int `json:"invoked_methods"`
	Fields            int `json:"fields"`
	AccessedFields    int `json:"accessed_fields"`
}

// Stats returns a snapshot of node counts.
func (u *Universe) Stats() Stats {
	var s Stats
	for _, t := range u.types.nodes() {
		s.Types++
		if t.IsReachable() {
			s.ReachableTypes++
		}
		if t.IsInstantiated() {
			s.InstantiatedTypes++
		}
	}
	for _, m := range u.methods.nodes() {
		s.Methods++
		if m.IsReachable() {
			s.ReachableMethods++
		}
		if m.IsInvoked() {
			s.InvokedMethods++
		}
	}
	for _, f := range u.fields.nodes() {
		s.Fields++
		if f.IsAccessed() {
			s.AccessedFields++
		}
	}
	return s
}
