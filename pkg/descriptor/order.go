package descriptor

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/yourbasic/graph"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// hierarchy numbers the declared reference types by name order and records
// the direct supertypes of each.
type hierarchy struct {
	refs   []TypeRef
	supers [][]int
}

func (s *StaticProvider) hierarchy() (*hierarchy, error) {
	refs := s.TypeRefs()
	index := make(map[TypeRef]int, len(refs))
	for i, ref := range refs {
		index[ref] = i
	}
	h := &hierarchy{refs: refs, supers: make([][]int, len(refs))}
	for i, ref := range refs {
		t := s.types[ref]
		for _, sup := range t.Supertypes() {
			j, ok := index[sup]
			if !ok {
				return nil, fmt.Errorf("type %s: supertype %s: %w", ref, sup, ErrNotFound)
			}
			if i == j {
				return nil, fmt.Errorf("type %s extends itself: %w", ref, ErrCycle)
			}
			h.supers[i] = append(h.supers[i], j)
		}
	}
	return h, nil
}

// Validate checks that every supertype is declared, that superclasses are
// classes and interfaces are interfaces, and that the hierarchy is acyclic.
func (s *StaticProvider) Validate() error {
	h, err := s.hierarchy()
	if err != nil {
		return err
	}
	for _, ref := range h.refs {
		t := s.types[ref]
		if t.Super != "" && s.types[t.Super].IsInterface() {
			return fmt.Errorf("type %s: superclass %s is an interface", ref, t.Super)
		}
		if t.IsInterface() && t.Super != "" {
			return fmt.Errorf("interface %s declares superclass %s", ref, t.Super)
		}
		for _, iface := range t.Interfaces {
			if !s.types[iface].IsInterface() {
				return fmt.Errorf("type %s: %s is not an interface", ref, iface)
			}
		}
	}

	g := graph.New(len(h.refs))
	for sub, sups := range h.supers {
		for _, sup := range sups {
			g.Add(sup, sub)
		}
	}
	for _, comp := range graph.StrongComponents(g) {
		if len(comp) < 2 {
			continue
		}
		names := make([]string, len(comp))
		for i, v := range comp {
			names[i] = string(h.refs[v])
		}
		slices.Sort(names)
		return fmt.Errorf("%w among %s", ErrCycle, strings.Join(names, ", "))
	}
	return nil
}

// SupertypeOrder returns the declared reference types ordered so that every
// type follows all of its supertypes. Unrelated types keep name order, so
// the result is deterministic. Creating types in this order gives
// supertypes the smaller ids.
func (s *StaticProvider) SupertypeOrder() ([]TypeRef, error) {
	h, err := s.hierarchy()
	if err != nil {
		return nil, err
	}
	g := simple.NewDirectedGraph()
	for i := range h.refs {
		g.AddNode(simple.Node(i))
	}
	for sub, sups := range h.supers {
		for _, sup := range sups {
			g.SetEdge(g.NewEdge(simple.Node(sup), simple.Node(sub)))
		}
	}
	sorted, err := topo.SortStabilized(g, func(nodes []gonumgraph.Node) {
		slices.SortFunc(nodes, func(a, b gonumgraph.Node) int { return cmp.Compare(a.ID(), b.ID()) })
	})
	if err != nil {
		var unorderable topo.Unorderable
		if errors.As(err, &unorderable) {
			return nil, fmt.Errorf("order types: %w: %v", ErrCycle, err)
		}
		return nil, fmt.Errorf("order types: %w", err)
	}
	out := make([]TypeRef, len(sorted))
	for i, n := range sorted {
		out[i] = h.refs[n.ID()]
	}
	return out, nil
}
