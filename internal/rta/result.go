package rta

import (
	"errors"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/universe"
)

// Result is the outcome of an analysis. Every list is sorted by name.
type Result struct {
	Model        string
	Reachable    []descriptor.MethodRef
	Dead         []descriptor.MethodRef
	Instantiated []descriptor.TypeRef
	Accessed     []descriptor.FieldRef
	// Overrides maps each virtually called method to the overrides it
	// dispatched to.
	Overrides map[string][]string
	Stats     universe.Stats
}

func (r *rta) result() *Result {
	res := &Result{Model: r.model.Name, Overrides: make(map[string][]string)}

	for _, ref := range r.model.MethodRefs() {
		shape, err := r.model.Method(ref)
		if err != nil || shape.Modifiers.Has(descriptor.Abstract) {
			continue
		}
		m, err := r.u.LookupMethod(ref)
		switch {
		case errors.Is(err, universe.ErrSealed):
			res.Dead = append(res.Dead, ref)
		case err != nil:
			r.log.Warn("skipping method in result", "method", ref, "error", err)
		case m.IsReachable():
			res.Reachable = append(res.Reachable, ref)
		default:
			res.Dead = append(res.Dead, ref)
		}
	}
	for _, t := range r.u.Types() {
		if t.IsInstantiated() && !t.IsArray() {
			res.Instantiated = append(res.Instantiated, t.Ref())
		}
	}
	slices.Sort(res.Instantiated)
	for _, f := range r.u.Fields() {
		if f.IsAccessed() {
			res.Accessed = append(res.Accessed, f.Ref())
		}
	}
	slices.SortFunc(res.Accessed, func(a, b descriptor.FieldRef) int {
		return strings.Compare(a.String(), b.String())
	})

	r.overrides.Range(func(target string, set *xsync.Map[string, struct{}]) bool {
		var impls []string
		set.Range(func(impl string, _ struct{}) bool {
			impls = append(impls, impl)
			return true
		})
		slices.Sort(impls)
		res.Overrides[target] = impls
		return true
	})
	return res
}
