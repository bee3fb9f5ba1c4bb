package universe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/executor"
	"github.com/715d/reachable/pkg/layer"
	"github.com/715d/reachable/pkg/reach"
)

func TestUniverse_LayerRoundTrip(t *testing.T) {
	store, err := layer.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	base, _ := newTestUniverse(t)
	mustType(t, base, "Puppy").RegisterAsAllocated(reach.Root("base"))
	mustMethod(t, base, "Dog.speak()").RegisterAsImplementationInvoked(reach.Root("base"))
	mustField(t, base, "Base.count").RegisterAsRead(reach.Root("base"))
	mustField(t, base, "Base.off").RegisterAsUnsafeAccessed(reach.Root("base"))
	mustType(t, base, "Cat")

	meta := layer.Meta{Name: "base", RunID: "run-1", Created: time.Now()}
	require.NoError(t, base.Persist(context.Background(), store, meta))

	stored, err := store.Meta()
	require.NoError(t, err)
	require.Equal(t, len(base.Types()), stored.NextTypeID)
	require.Equal(t, len(base.Methods()), stored.NextMethodID)
	require.Equal(t, len(base.Fields()), stored.NextFieldID)

	top, _ := newTestUniverse(t, WithLayer(store))
	require.Equal(t, base.Object().ID(), top.Object().ID())

	puppy := mustType(t, top, "Puppy")
	require.Equal(t, mustType(t, base, "Puppy").ID(), puppy.ID(), "persisted ids are reused")
	require.True(t, puppy.IsAllocated())
	require.True(t, puppy.IsInstantiated())
	require.Equal(t, reach.Layer("base"), puppy.InstantiatedReason())
	require.True(t, mustType(t, top, "Animal").IsAnySubtypeInstantiated())

	cat := mustType(t, top, "Cat")
	require.Equal(t, mustType(t, base, "Cat").ID(), cat.ID())
	require.False(t, cat.IsReachable())

	speak := mustMethod(t, top, "Dog.speak()")
	require.True(t, speak.IsReachable())
	require.Equal(t, reach.Layer("base"), speak.ReachableReason())
	require.True(t, mustField(t, top, "Base.count").IsRead())
	off := mustField(t, top, "Base.off")
	require.True(t, off.IsUnsafeAccessed())
	require.Equal(t, []*FieldNode{off}, mustType(t, top, "Base").UnsafeAccessedFields("raw"))

	// Nodes new to this layer get ids above the base layer's.
	init := mustType(t, top, "Init")
	require.GreaterOrEqual(t, init.ID(), stored.NextTypeID)
	clinit := mustMethod(t, top, "Init.clinit()")
	require.GreaterOrEqual(t, clinit.ID(), stored.NextMethodID)
	require.False(t, clinit.IsReachable())
}

func TestUniverse_EmptyLayer(t *testing.T) {
	store, err := layer.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	u, _ := newTestUniverse(t, WithLayer(store))
	require.Equal(t, 0, u.Object().ID())
	require.False(t, mustType(t, u, "Dog").IsReachable())
}

type failingPersister struct{ err error }

func (p failingPersister) Persist(context.Context, layer.Meta, []layer.Record) error { return p.err }

func TestUniverse_PersistErrors(t *testing.T) {
	u, _ := newTestUniverse(t)
	require.Error(t, u.Persist(context.Background(), failingPersister{}, layer.Meta{}), "name is required")

	boom := errors.New("disk full")
	err := u.Persist(context.Background(), failingPersister{err: boom}, layer.Meta{Name: "x"})
	require.ErrorIs(t, err, boom)
}

// panickingProvider fails hard when asked for one type.
type panickingProvider struct {
	descriptor.Provider
	on descriptor.TypeRef
}

func (p panickingProvider) Type(ref descriptor.TypeRef) (*descriptor.TypeShape, error) {
	if ref == p.on {
		panic("corrupt shape for " + string(ref))
	}
	return p.Provider.Type(ref)
}

func TestUniverse_LayerReplayAfterNestedPanic(t *testing.T) {
	store, err := layer.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	base, _ := newTestUniverse(t)
	mustType(t, base, "Base").RegisterAsReachable(reach.Root("base"))
	require.NoError(t, base.Persist(t.Context(), store, layer.Meta{Name: "base", RunID: "run-1"}))

	// Dog publishes its superclass Base, then fails on its interface Named.
	top, err := New(panickingProvider{Provider: zoo(t), on: "Named"},
		WithExecutor(&executor.Manual{}), WithLayer(store))
	require.NoError(t, err)
	require.NotNil(t, capturePanic(func() { _, _ = top.LookupType("Dog") }))

	_, ok := top.types.m.Load("Dog")
	require.False(t, ok, "claim on Dog rolled back")
	s, ok := top.types.m.Load("Base")
	require.True(t, ok)
	require.Nil(t, s.owner, "Base is published")
	require.True(t, s.node.IsReachable(), "base layer flags replayed")
	require.Equal(t, reach.Layer("base"), s.node.ReachableReason())
}
