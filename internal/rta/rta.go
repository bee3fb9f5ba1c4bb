// Package rta provides Rapid Type Analysis (RTA) over a reachability
// universe. The algorithm was first described in:
//
// David F. Bacon and Peter F. Sweeney. 1996.
// Fast static analysis of C++ virtual function calls. (OOPSLA '96)
// http://doi.acm.org/10.1145/236337.236371
//
// RTA tabulates the cross-product of the instantiated types with the known
// virtual call sites. As each new type is instantiated, its implementation
// of every known call target becomes reachable, and as each new call site
// is discovered, every instantiated type's implementation becomes
// reachable. Each method that becomes reachable has its body visited for
// more call sites, allocations and field accesses, until a fixed point is
// reached.
//
// The tables live in the universe. This package only registers facts and
// subscribes to their consequences, so any number of visits may run in
// parallel on the universe's executor.
package rta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/graphcache"
	"github.com/715d/reachable/pkg/reach"
	"github.com/715d/reachable/pkg/universe"
)

var (
	entryReason = reach.Root("entry point")
	heapReason  = reach.Root("allocated by the runtime")
)

// Config controls an analysis run.
type Config struct {
	// Workers bounds the goroutines seeding the roots. Zero means
	// runtime.NumCPU().
	Workers int

	// Seal seals the universe once the fixed point is reached.
	Seal bool

	Logger *slog.Logger
}

type rta struct {
	ctx   context.Context
	u     *universe.Universe
	model *descriptor.Model
	log   *slog.Logger

	// Each set holds node ids. Subscriptions deliver at least once in
	// places, so every action is claimed here first.
	visited     *xsync.Map[int, struct{}]
	dispatched  *xsync.Map[int, struct{}]
	initialized *xsync.Map[int, struct{}]

	// overrides maps a virtually called method to its reachable overrides.
	overrides *xsync.Map[string, *xsync.Map[string, struct{}]]

	mu   sync.Mutex
	errs []error
}

// Analyze computes the methods, types and fields reachable from model's
// entry points. The universe must be built over model with a
// ModelGraphs producer and an executor that supports waiting, such as
// executor.Pool.
func Analyze(ctx context.Context, u *universe.Universe, model *descriptor.Model, cfg Config) (*Result, error) {
	if cfg.Logger == nil {
		cfg.Logger = u.Logger()
	}
	if len(model.Entry) == 0 {
		return nil, fmt.Errorf("model %s has no entry points", model.Name)
	}
	r := &rta{
		ctx:         ctx,
		u:           u,
		model:       model,
		log:         cfg.Logger,
		visited:     xsync.NewMap[int, struct{}](),
		dispatched:  xsync.NewMap[int, struct{}](),
		initialized: xsync.NewMap[int, struct{}](),
		overrides:   xsync.NewMap[string, *xsync.Map[string, struct{}]](),
	}

	if err := r.preload(); err != nil {
		return nil, err
	}
	if err := r.seed(cfg.Workers); err != nil {
		return nil, err
	}
	if err := u.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analysis did not finish: %w", err)
	}
	if err := r.err(); err != nil {
		return nil, err
	}

	stats := u.Stats()
	if cfg.Seal {
		u.Seal()
	}
	res := r.result()
	res.Stats = stats
	r.log.Info("analysis finished",
		"model", model.Name,
		"reachable", len(res.Reachable),
		"dead", len(res.Dead),
		"instantiated", len(res.Instantiated))
	return res, nil
}

// preload creates every declared type before any worker runs, supertypes
// first, so type ids follow the hierarchy and do not depend on which
// worker reaches a type first.
func (r *rta) preload() error {
	order, err := r.model.SupertypeOrder()
	if err != nil {
		return err
	}
	for _, ref := range order {
		if _, err := r.u.LookupType(ref); err != nil {
			return fmt.Errorf("preload type %s: %w", ref, err)
		}
	}
	r.log.Debug("preloaded types", "model", r.model.Name, "num", len(order))
	return nil
}

// seed registers the entry points and the runtime-allocated types in
// parallel.
func (r *rta) seed(workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for _, ref := range r.model.Entry {
		g.Go(func() error {
			m, err := r.u.LookupMethod(ref)
			if err != nil {
				return fmt.Errorf("entry point %s: %w", ref, err)
			}
			m.RegisterAsDirectRoot(entryReason)
			m.RegisterAsInvoked(entryReason)
			r.addReachable(m, entryReason)
			r.initialize(m.DeclaringType())
			return nil
		})
	}
	for _, ref := range r.model.Allocated {
		g.Go(func() error {
			t, err := r.u.LookupType(ref)
			if err != nil {
				return fmt.Errorf("allocated type %s: %w", ref, err)
			}
			if t.IsAbstract() || t.IsPrimitive() {
				r.log.Warn("skipping runtime allocation of a type without instances", "type", t)
				return nil
			}
			t.RegisterAsInHeap(heapReason)
			r.initialize(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("seed roots: %w", err)
	}
	r.log.Debug("seeded roots", "entry", len(r.model.Entry), "allocated", len(r.model.Allocated))
	return nil
}

// addReachable marks m's implementation as invoked and schedules a visit
// of its body once the universe reports it reachable.
func (r *rta) addReachable(m *universe.MethodNode, why reach.Reason) {
	if m.IsAbstract() {
		return
	}
	m.RegisterAsImplementationInvoked(why)
	if _, loaded := r.visited.LoadOrStore(m.ID(), struct{}{}); loaded {
		return
	}
	m.OnReachable(func() { r.visitFunc(m) })
}

// visitFunc processes the finalized body of a reachable method.
func (r *rta) visitFunc(m *universe.MethodNode) {
	if m.IsNative() {
		return
	}
	g, err := m.Graph(r.ctx, graphcache.Finalized)
	if err != nil {
		r.fail(fmt.Errorf("visit %s: %w", m, err))
		return
	}
	body, ok := g.(*Body)
	if !ok {
		// Cleared by a concurrent Cleanup.
		return
	}
	for _, site := range body.Sites {
		why := reach.At(m, site.BCI)
		switch site.Op {
		case descriptor.OpCall:
			site.Method.RegisterAsInvoked(why)
			if site.Method.IsAbstract() {
				r.visitInvoke(site.Method)
				continue
			}
			r.addReachable(site.Method, why)
			if site.Method.IsStatic() {
				r.initialize(site.Method.DeclaringType())
			}
		case descriptor.OpVirtual:
			site.Method.RegisterAsInvoked(why)
			r.visitInvoke(site.Method)
		case descriptor.OpNew:
			if site.Type.IsAbstract() || site.Type.IsPrimitive() {
				r.fail(fmt.Errorf("visit %s: cannot allocate %s", m, site.Type))
				continue
			}
			site.Type.RegisterAsAllocated(why)
			r.initialize(site.Type)
		case descriptor.OpNewArray:
			arr, err := site.Type.ArrayType()
			if err != nil {
				r.fail(fmt.Errorf("visit %s: array of %s: %w", m, site.Type, err))
				continue
			}
			arr.RegisterAsAllocated(why)
		case descriptor.OpRead:
			site.Field.RegisterAsRead(why)
			r.initializeStatic(site.Field)
		case descriptor.OpWrite:
			site.Field.RegisterAsWritten(why)
			r.initializeStatic(site.Field)
		case descriptor.OpUnsafe:
			site.Field.RegisterAsUnsafeAccessed(why)
		case descriptor.OpFold:
			site.Field.RegisterAsFolded(why)
		}
	}
}

// visitInvoke dispatches a virtual call target to every instantiated
// subtype of its declaring type, now and in the future.
func (r *rta) visitInvoke(target *universe.MethodNode) {
	if _, loaded := r.dispatched.LoadOrStore(target.ID(), struct{}{}); loaded {
		return
	}
	why := reach.Because(target)
	target.DeclaringType().OnSubtypeInstantiated(func(sub *universe.TypeNode) {
		if impl := sub.ResolveConcreteMethod(target); impl != nil {
			r.addReachable(impl, why)
		}
	})
	target.OnOverrideReachable(func(impl *universe.MethodNode) {
		set, _ := r.overrides.LoadOrCompute(target.String(), func() (*xsync.Map[string, struct{}], bool) {
			return xsync.NewMap[string, struct{}](), false
		})
		set.Store(impl.String(), struct{}{})
	})
}

// initialize runs the type initializers of t and its superclasses.
func (r *rta) initialize(t *universe.TypeNode) {
	for c := t; c != nil; c = c.Superclass() {
		if _, loaded := r.initialized.LoadOrStore(c.ID(), struct{}{}); loaded {
			return
		}
		for _, m := range c.DeclaredMethods() {
			if m.IsClassInitializer() {
				why := reach.Because(c)
				m.RegisterAsInvoked(why)
				r.addReachable(m, why)
			}
		}
	}
}

func (r *rta) initializeStatic(f *universe.FieldNode) {
	if f.IsStatic() {
		r.initialize(f.DeclaringType())
	}
}

func (r *rta) fail(err error) {
	r.log.Warn("analysis error", "error", err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *rta) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
