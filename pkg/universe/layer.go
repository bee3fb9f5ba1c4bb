package universe

import (
	"context"
	"fmt"

	"github.com/715d/reachable/pkg/layer"
	"github.com/715d/reachable/pkg/reach"
)

// Persisted flag names.
const (
	flagReachable       = "reachable"
	flagInstantiated    = "instantiated"
	flagAllocated       = "allocated"
	flagInHeap          = "in-heap"
	flagUnsafeAllocated = "unsafe-allocated"

	flagInvoked               = "invoked"
	flagImplementationInvoked = "implementation-invoked"
	flagVirtualRoot           = "virtual-root"
	flagDirectRoot            = "direct-root"
	flagIntrinsic             = "intrinsic"
	flagInlined               = "inlined"

	flagAccessed       = "accessed"
	flagRead           = "read"
	flagWritten        = "written"
	flagFolded         = "folded"
	flagUnsafeAccessed = "unsafe-accessed"
)

type namedFlag struct {
	name string
	flag *reach.Flag
}

// layerRecord returns the base layer's record for key, or nil. Lookup
// failures are logged and treated as absent.
func (u *Universe) layerRecord(kind layer.Kind, key string) *layer.Record {
	if u.opts.Layer == nil || u.layerName == "" {
		return nil
	}
	rec, ok, err := u.opts.Layer.Lookup(kind, key)
	if err != nil {
		u.log.Warn("base layer lookup failed", "kind", kind, "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &rec
}

func (u *Universe) layerReason() reach.Reason { return reach.Layer(u.layerName) }

func (u *Universe) replayType(t *TypeNode) {
	rec := t.layerRec
	if rec == nil {
		return
	}
	r := u.layerReason()
	if rec.Has(flagReachable) {
		t.RegisterAsReachable(r)
	}
	for _, nf := range t.instanceFlags() {
		if rec.Has(nf.name) && nf.flag.TrySet(r) {
			recordFlagSet("type", nf.name)
		}
	}
	if rec.Has(flagInstantiated) {
		t.registerAsInstantiated(r)
	}
}

func (u *Universe) replayMethod(m *MethodNode) {
	rec := m.layerRec
	if rec == nil {
		return
	}
	r := u.layerReason()
	for _, nf := range []struct {
		name     string
		register func(reach.Reason) bool
	}{
		{flagInvoked, m.RegisterAsInvoked},
		{flagImplementationInvoked, m.RegisterAsImplementationInvoked},
		{flagVirtualRoot, m.RegisterAsVirtualRoot},
		{flagDirectRoot, m.RegisterAsDirectRoot},
		{flagIntrinsic, m.RegisterAsIntrinsic},
		{flagInlined, m.RegisterAsInlined},
	} {
		if rec.Has(nf.name) {
			nf.register(r)
		}
	}
}

func (u *Universe) replayField(f *FieldNode) {
	rec := f.layerRec
	if rec == nil {
		return
	}
	r := u.layerReason()
	for _, nf := range []struct {
		name     string
		register func(reach.Reason) bool
	}{
		{flagAccessed, f.RegisterAsAccessed},
		{flagRead, f.RegisterAsRead},
		{flagWritten, f.RegisterAsWritten},
		{flagFolded, f.RegisterAsFolded},
		{flagUnsafeAccessed, f.RegisterAsUnsafeAccessed},
	} {
		if rec.Has(nf.name) {
			nf.register(r)
		}
	}
}

func (t *TypeNode) instanceFlags() []namedFlag {
	return []namedFlag{
		{flagAllocated, &t.allocated},
		{flagInHeap, &t.inHeap},
		{flagUnsafeAllocated, &t.unsafeAllocated},
	}
}

func setFlags(flags []namedFlag) []string {
	var out []string
	for _, nf := range flags {
		if nf.flag.IsSet() {
			out = append(out, nf.name)
		}
	}
	return out
}

func (t *TypeNode) layerFlags() []string {
	return setFlags(append([]namedFlag{
		{flagReachable, &t.reachable},
		{flagInstantiated, &t.instantiated},
	}, t.instanceFlags()...))
}

func (m *MethodNode) layerFlags() []string {
	return setFlags([]namedFlag{
		{flagInvoked, &m.invoked},
		{flagImplementationInvoked, &m.implementationInvoked},
		{flagVirtualRoot, &m.virtualRoot},
		{flagDirectRoot, &m.directRoot},
		{flagIntrinsic, &m.intrinsic},
		{flagInlined, &m.inlined},
	})
}

func (f *FieldNode) layerFlags() []string {
	return setFlags([]namedFlag{
		{flagAccessed, &f.accessed},
		{flagRead, &f.read},
		{flagWritten, &f.written},
		{flagFolded, &f.folded},
		{flagUnsafeAccessed, &f.unsafeAccessed},
	})
}

// Persist writes every published node and its set flags to p as a new
// layer. Method variants other than the default are not persisted. The next
// ids of meta are filled in from the universe's counters. Persist should
// run after the analysis has quiesced; flags set concurrently may or may not
// be included.
func (u *Universe) Persist(ctx context.Context, p layer.Persister, meta layer.Meta) error {
	if meta.Name == "" {
		return fmt.Errorf("persist layer: name is required")
	}
	meta.NextTypeID = int(u.nextTypeID.Load())
	meta.NextMethodID = int(u.nextMethodID.Load())
	meta.NextFieldID = int(u.nextFieldID.Load())

	types, methods, fields := u.Types(), u.Methods(), u.Fields()
	records := make([]layer.Record, 0, len(types)+len(methods)+len(fields))
	for _, t := range types {
		records = append(records, layer.Record{Kind: layer.KindType, Key: string(t.ref), ID: t.id, Flags: t.layerFlags()})
	}
	for _, m := range methods {
		records = append(records, layer.Record{Kind: layer.KindMethod, Key: m.ref.String(), ID: m.id, Flags: m.layerFlags()})
	}
	for _, f := range fields {
		records = append(records, layer.Record{Kind: layer.KindField, Key: f.ref.String(), ID: f.id, Flags: f.layerFlags()})
	}
	if err := p.Persist(ctx, meta, records); err != nil {
		return fmt.Errorf("persist layer %s: %w", meta.Name, err)
	}
	u.log.Info("persisted layer", "name", meta.Name, "records", len(records))
	return nil
}
