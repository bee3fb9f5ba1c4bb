package descriptor

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by providers for references they do not know.
	ErrNotFound = errors.New("descriptor not found")

	// ErrCycle is returned when a model's inheritance graph has a cycle.
	ErrCycle = errors.New("inheritance cycle")
)

// Kind is the storage kind of a type.
type Kind int

const (
	KindObject Kind = iota
	KindVoid
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
)

var kindNames = [...]string{
	KindObject:  "object",
	KindVoid:    "void",
	KindBool:    "bool",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindFloat32: "float32",
	KindFloat64: "float64",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(?)"
}

// IsPrimitive reports whether values of kind k are not references.
func (k Kind) IsPrimitive() bool {
	return k != KindObject
}

// PrimitiveKind returns the kind named by t, and false if t names a
// reference type.
func PrimitiveKind(t TypeRef) (Kind, bool) {
	for k, name := range kindNames {
		if Kind(k) != KindObject && string(t) == name {
			return Kind(k), true
		}
	}
	return KindObject, false
}

// Modifiers is a bit set of declaration modifiers.
type Modifiers uint32

const (
	Static Modifiers = 1 << iota
	Abstract
	Interface
	Final
	Volatile
	Native
	// Initializer marks a type initializer. Its graph needs the decoded
	// stage published on its own.
	Initializer
)

var modifierNames = []struct {
	m    Modifiers
	name string
}{
	{Static, "static"},
	{Abstract, "abstract"},
	{Interface, "interface"},
	{Final, "final"},
	{Volatile, "volatile"},
	{Native, "native"},
	{Initializer, "init"},
}

// Has reports whether every modifier in o is set.
func (m Modifiers) Has(o Modifiers) bool { return m&o == o }

func (m Modifiers) String() string {
	var parts []string
	for _, mn := range modifierNames {
		if m.Has(mn.m) {
			parts = append(parts, mn.name)
		}
	}
	return strings.Join(parts, " ")
}

// TypeShape is the structure of a non-array type.
type TypeShape struct {
	Ref        TypeRef
	Kind       Kind
	Super      TypeRef // empty for the root, primitives and interfaces
	Interfaces []TypeRef
	Modifiers  Modifiers
	Methods    []MethodRef
	Fields     []FieldRef
}

// IsInterface reports whether the shape declares an interface.
func (s *TypeShape) IsInterface() bool { return s.Modifiers.Has(Interface) }

// Supertypes returns the direct supertypes: the superclass, if any,
// followed by the interfaces.
func (s *TypeShape) Supertypes() []TypeRef {
	out := make([]TypeRef, 0, len(s.Interfaces)+1)
	if s.Super != "" {
		out = append(out, s.Super)
	}
	return append(out, s.Interfaces...)
}

// MethodShape is the structure of a method.
type MethodShape struct {
	Ref       MethodRef
	Params    []TypeRef
	Return    TypeRef
	Modifiers Modifiers
	// Catches lists the exception types of the method's handlers.
	Catches []TypeRef
}

// FieldShape is the structure of a field.
type FieldShape struct {
	Ref       FieldRef
	Type      TypeRef
	Modifiers Modifiers
	// Partition names the unsafe-access partition the field belongs to.
	Partition string
}

// Provider reports the shape of referenced entities. Implementations must
// be safe for concurrent use and must return errors wrapping ErrNotFound for
// unknown references. Array types are never asked for.
type Provider interface {
	Type(ref TypeRef) (*TypeShape, error)
	Method(ref MethodRef) (*MethodShape, error)
	Field(ref FieldRef) (*FieldShape, error)
}
