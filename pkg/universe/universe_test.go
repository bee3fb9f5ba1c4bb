package universe

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/executor"
	"github.com/715d/reachable/pkg/graphcache"
	"github.com/715d/reachable/pkg/reach"
)

const zooModel = `
name: zoo
entry: [Main.main()]
types:
  - name: Main
    methods:
      - name: main
        static: true
        catches: [Missing, Base]
  - name: Animal
    interface: true
    methods:
      - name: speak
  - name: Named
    interface: true
    methods:
      - name: name
        return: Object
        body:
          - read: Base.label
  - name: Base
    abstract: true
    interfaces: [Animal]
    fields:
      - {name: count, type: int32}
      - {name: label, type: Object}
      - {name: flag, type: bool, volatile: true}
      - {name: off, type: int64, partition: raw}
      - {name: ghost, type: Missing}
    methods:
      - name: speak
        abstract: true
  - name: Dog
    super: Base
    interfaces: [Named]
    fields:
      - {name: tag, type: int32, partition: raw}
    methods:
      - name: speak
  - name: Cat
    super: Base
    methods:
      - name: speak
      - name: name
        return: Object
  - name: Puppy
    super: Dog
  - name: Init
    methods:
      - name: clinit
        init: true
`

func zoo(t *testing.T) *descriptor.Model {
	t.Helper()
	m, err := descriptor.ParseModel([]byte(zooModel))
	require.NoError(t, err)
	return m
}

// newTestUniverse returns a universe over the zoo model whose
// notifications wait in a manual executor.
func newTestUniverse(t *testing.T, opts ...Option) (*Universe, *executor.Manual) {
	t.Helper()
	exec := &executor.Manual{}
	u, err := New(zoo(t), append([]Option{WithExecutor(exec)}, opts...)...)
	require.NoError(t, err)
	return u, exec
}

func mustType(t *testing.T, u *Universe, ref string) *TypeNode {
	t.Helper()
	n, err := u.LookupType(descriptor.TypeRef(ref))
	require.NoError(t, err)
	return n
}

func mustMethod(t *testing.T, u *Universe, ref string) *MethodNode {
	t.Helper()
	mref, err := descriptor.ParseMethodRef(ref)
	require.NoError(t, err)
	n, err := u.LookupMethod(mref)
	require.NoError(t, err)
	return n
}

func mustField(t *testing.T, u *Universe, ref string) *FieldNode {
	t.Helper()
	fref, err := descriptor.ParseFieldRef(ref)
	require.NoError(t, err)
	n, err := u.LookupField(fref)
	require.NoError(t, err)
	return n
}

func capturePanic(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

// countingProvider counts shape requests per type.
type countingProvider struct {
	descriptor.Provider
	mu    sync.Mutex
	calls map[descriptor.TypeRef]int
}

func (p *countingProvider) Type(ref descriptor.TypeRef) (*descriptor.TypeShape, error) {
	p.mu.Lock()
	p.calls[ref]++
	p.mu.Unlock()
	return p.Provider.Type(ref)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	_, err = New(zoo(t))
	require.ErrorIs(t, err, ErrNoExecutor)

	u, _ := newTestUniverse(t)
	require.NotNil(t, u.Object())
	require.Equal(t, descriptor.ObjectRef, u.Object().Ref())
	require.Equal(t, 0, u.Object().ID())
	require.Same(t, u.Object(), u.TypeByID(0))
	require.Nil(t, u.TypeByID(-1))
	require.Nil(t, u.TypeByID(1 << 20))
	require.False(t, u.Object().IsReachable(), "creation does not imply reachability")
}

func TestUniverse_Canonicalization(t *testing.T) {
	const workers = 32
	p := &countingProvider{Provider: zoo(t), calls: make(map[descriptor.TypeRef]int)}
	u, err := New(p, WithExecutor(&executor.Manual{}))
	require.NoError(t, err)

	refs := []descriptor.TypeRef{"Puppy", "Dog", "Cat", "[][]Puppy"}
	got := make([][]*TypeNode, workers)
	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			for j := range refs {
				// Vary the order so goroutines contend on different claims.
				ref := refs[(i+j)%len(refs)]
				n, err := u.LookupType(ref)
				if assert.NoError(t, err) {
					got[i] = append(got[i], n)
				}
			}
		}()
	}
	start.Done()
	wg.Wait()

	byRef := make(map[descriptor.TypeRef]*TypeNode)
	for _, nodes := range got {
		require.Len(t, nodes, len(refs))
		for _, n := range nodes {
			if prev, ok := byRef[n.Ref()]; ok {
				require.Same(t, prev, n, "one node per descriptor")
			}
			byRef[n.Ref()] = n
		}
	}
	for ref, n := range p.calls {
		require.Equal(t, 1, n, "type %s constructed more than once", ref)
	}

	ids := make(map[int]bool)
	for _, n := range u.Types() {
		require.False(t, ids[n.ID()], "duplicate id %d", n.ID())
		ids[n.ID()] = true
		require.Same(t, n, u.TypeByID(n.ID()))
	}
}

func TestUniverse_SupertypesHaveSmallerIDs(t *testing.T) {
	u, _ := newTestUniverse(t)
	mustType(t, u, "[][]Puppy")
	for _, n := range u.Types() {
		for _, s := range n.Supertypes() {
			require.Less(t, s.ID(), n.ID(), "%s before %s", s, n)
		}
	}
}

func TestUniverse_StartIDs(t *testing.T) {
	u, _ := newTestUniverse(t, WithStartIDs(100, 200, 300))
	require.Equal(t, 100, u.Object().ID())
	require.Equal(t, 200, mustMethod(t, u, "Dog.speak()").ID())
	require.Equal(t, 300, mustField(t, u, "Base.count").ID())
}

func TestUniverse_Sealed(t *testing.T) {
	u, _ := newTestUniverse(t)
	dog := mustType(t, u, "Dog")
	u.Seal()
	u.Seal()
	require.True(t, u.IsSealed())

	_, err := u.LookupType("Cat")
	require.ErrorIs(t, err, ErrSealed)

	again, err := u.LookupType("Dog")
	require.NoError(t, err)
	require.Same(t, dog, again)

	arr, err := dog.ArrayType()
	require.NoError(t, err, "arrays of known types may still be created")
	require.Same(t, dog, arr.ComponentType())
	arr2, err := u.ArrayType(arr)
	require.NoError(t, err)
	require.Equal(t, 2, arr2.Dimension())

	_, err = u.LookupType("[]Cat")
	require.ErrorIs(t, err, ErrSealed, "the element type must already exist")

	_, err = u.LookupMethod(descriptor.MethodRef{Owner: "Dog", Name: "speak", Sig: "()"})
	require.ErrorIs(t, err, ErrSealed)
}

func TestUniverse_NotFound(t *testing.T) {
	u, _ := newTestUniverse(t)
	_, err := u.LookupType("Nope")
	require.ErrorIs(t, err, descriptor.ErrNotFound)
	_, err = u.LookupMethod(descriptor.MethodRef{Owner: "Dog", Name: "bark", Sig: "()"})
	require.ErrorIs(t, err, descriptor.ErrNotFound)
	_, err = u.LookupField(descriptor.FieldRef{Owner: "Nope", Name: "x"})
	require.ErrorIs(t, err, descriptor.ErrNotFound)

	// A failed creation leaves no claim behind.
	_, ok := u.types.m.Load("Nope")
	require.False(t, ok)
}

func TestUniverse_SelfDeadlockPanics(t *testing.T) {
	p := descriptor.NewStaticProvider()
	require.NoError(t, p.AddType(descriptor.TypeShape{Ref: "A", Super: "B"}))
	require.NoError(t, p.AddType(descriptor.TypeShape{Ref: "B", Super: "A"}))
	u, err := New(p, WithExecutor(&executor.Manual{}))
	require.NoError(t, err)

	v := capturePanic(func() { _, _ = u.LookupType("A") })
	var dl *reach.DeadlockError
	require.ErrorAs(t, v.(error), &dl)
	require.Equal(t, "create type", dl.Op)
	require.Equal(t, "A", dl.Holder)

	for _, ref := range []descriptor.TypeRef{"A", "B"} {
		_, ok := u.types.m.Load(ref)
		require.False(t, ok, "claim on %s rolled back", ref)
	}

	// The same lookup fails the same way instead of hanging.
	require.NotNil(t, capturePanic(func() { _, _ = u.LookupType("B") }))
}

func TestUniverse_Wait(t *testing.T) {
	pool := executor.NewPool(4, nil)
	u, err := New(zoo(t), WithExecutor(pool))
	require.NoError(t, err)

	var fired atomic.Int32
	dog := mustType(t, u, "Dog")
	for range 10 {
		dog.OnReachable(func() { fired.Add(1) })
	}
	dog.RegisterAsReachable(reach.Root("test"))
	require.NoError(t, u.Wait(t.Context()))
	require.Equal(t, int32(10), fired.Load())

	dog.OnInstantiated(func() { panic(errors.New("boom")) })
	dog.RegisterAsAllocated(reach.Root("test"))
	err = u.Wait(t.Context())
	var tp *executor.TaskPanicError
	require.ErrorAs(t, err, &tp)

	// Manual executors have nothing to wait for.
	m, _ := newTestUniverse(t)
	require.NoError(t, m.Wait(t.Context()))
}

func TestUniverse_Stats(t *testing.T) {
	u, _ := newTestUniverse(t)
	mustType(t, u, "Puppy").RegisterAsAllocated(reach.Root("test"))
	mustMethod(t, u, "Dog.speak()").RegisterAsImplementationInvoked(reach.Root("test"))
	mustField(t, u, "Base.count").RegisterAsRead(reach.Root("test"))

	s := u.Stats()
	// Object, Animal, Named, Base, Dog, Puppy, void for the method's
	// result and int32 for the field.
	require.Equal(t, 8, s.Types)
	require.Equal(t, 6, s.ReachableTypes)
	require.Equal(t, 1, s.InstantiatedTypes)
	require.Equal(t, 1, s.Methods)
	require.Equal(t, 1, s.ReachableMethods)
	require.Equal(t, 0, s.InvokedMethods)
	require.Equal(t, 1, s.Fields)
	require.Equal(t, 1, s.AccessedFields)
}

func TestUniverse_Cleanup(t *testing.T) {
	p := &stubProducer{}
	u, _ := newTestUniverse(t, WithGraphProducer(p), WithAccessTracking(true))
	m := mustMethod(t, u, "Dog.speak()")
	v := m.GetOrCreateVariant("fast")
	_, err := m.Graph(t.Context(), graphcache.Finalized)
	require.NoError(t, err)
	f := mustField(t, u, "Base.label")
	f.RegisterAsRead(reach.Root("test"))
	require.Len(t, f.ReadBy(), 1)

	u.Cleanup()

	for _, n := range []*MethodNode{m, v} {
		g, err := n.Graph(t.Context(), graphcache.Finalized)
		require.NoError(t, err)
		require.Nil(t, g)
	}
	require.Empty(t, f.ReadBy())
	require.True(t, f.IsRead(), "flags survive cleanup")
}
