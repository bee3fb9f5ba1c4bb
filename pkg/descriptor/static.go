package descriptor

import (
	"fmt"
	"slices"
	"strings"
)

// StaticProvider is an in-memory Provider. It is populated with the Add methods and
// must not be modified once handed to concurrent readers. The root type and
// the primitive types are always present.
type StaticProvider struct {
	types   map[TypeRef]*TypeShape
	methods map[MethodRef]*MethodShape
	fields  map[FieldRef]*FieldShape
}

// NewStaticProvider returns a provider that knows only the built-in types.
func NewStaticProvider() *StaticProvider {
	s := &StaticProvider{
		types:   make(map[TypeRef]*TypeShape),
		methods: make(map[MethodRef]*MethodShape),
		fields:  make(map[FieldRef]*FieldShape),
	}
	s.types[ObjectRef] = &TypeShape{Ref: ObjectRef, Kind: KindObject}
	for k, name := range kindNames {
		if Kind(k) == KindObject {
			continue
		}
		ref := TypeRef(name)
		s.types[ref] = &TypeShape{Ref: ref, Kind: Kind(k), Modifiers: Final}
	}
	return s
}

// AddType registers a type. Reference types that are not interfaces and
// declare no superclass extend ObjectRef.
func (s *StaticProvider) AddType(t TypeShape) error {
	if t.Ref == "" || t.Ref.IsArray() {
		return fmt.Errorf("add type %q: array and empty names are synthesized, not declared", t.Ref)
	}
	if _, dup := s.types[t.Ref]; dup {
		return fmt.Errorf("add type %s: already declared", t.Ref)
	}
	if t.Kind == KindObject && t.Super == "" && !t.IsInterface() {
		t.Super = ObjectRef
	}
	s.types[t.Ref] = &t
	return nil
}

// AddMethod registers a method and lists it on its owner.
func (s *StaticProvider) AddMethod(m MethodShape) error {
	owner, ok := s.types[m.Ref.Owner]
	if !ok {
		return fmt.Errorf("add method %s: owner: %w", m.Ref, ErrNotFound)
	}
	if _, dup := s.methods[m.Ref]; dup {
		return fmt.Errorf("add method %s: already declared", m.Ref)
	}
	if m.Return == "" {
		m.Return = "void"
	}
	s.methods[m.Ref] = &m
	owner.Methods = append(owner.Methods, m.Ref)
	return nil
}

// AddField registers a field and lists it on its owner.
func (s *StaticProvider) AddField(f FieldShape) error {
	owner, ok := s.types[f.Ref.Owner]
	if !ok {
		return fmt.Errorf("add field %s: owner: %w", f.Ref, ErrNotFound)
	}
	if _, dup := s.fields[f.Ref]; dup {
		return fmt.Errorf("add field %s: already declared", f.Ref)
	}
	if f.Type == "" {
		f.Type = ObjectRef
	}
	s.fields[f.Ref] = &f
	owner.Fields = append(owner.Fields, f.Ref)
	return nil
}

func (s *StaticProvider) Type(ref TypeRef) (*TypeShape, error) {
	if t, ok := s.types[ref]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("type %s: %w", ref, ErrNotFound)
}

func (s *StaticProvider) Method(ref MethodRef) (*MethodShape, error) {
	if m, ok := s.methods[ref]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("method %s: %w", ref, ErrNotFound)
}

func (s *StaticProvider) Field(ref FieldRef) (*FieldShape, error) {
	if f, ok := s.fields[ref]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("field %s: %w", ref, ErrNotFound)
}

// TypeRefs returns every declared reference type, sorted by name.
func (s *StaticProvider) TypeRefs() []TypeRef {
	out := make([]TypeRef, 0, len(s.types))
	for ref, t := range s.types {
		if t.Kind == KindObject {
			out = append(out, ref)
		}
	}
	slices.Sort(out)
	return out
}

// MethodRefs returns every declared method, sorted by name.
func (s *StaticProvider) MethodRefs() []MethodRef {
	out := make([]MethodRef, 0, len(s.methods))
	for ref := range s.methods {
		out = append(out, ref)
	}
	slices.SortFunc(out, func(a, b MethodRef) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}
