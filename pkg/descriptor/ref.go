// Package descriptor describes the external type system mirrored by the
// universe: opaque references to types, methods and fields, the structural
// shape a provider reports for each, and providers backed by in-memory
// program models.
package descriptor

import (
	"fmt"
	"strings"
)

// TypeRef names a type. Array types are spelled with a leading "[]" per
// dimension, so ArrayOf and ElemOf are pure string operations.
type TypeRef string

// ObjectRef is the root of the class hierarchy. Every reference type that
// declares no superclass extends it.
const ObjectRef TypeRef = "Object"

const arrayPrefix = "[]"

// ArrayOf returns the one-dimensional array type with component t.
func ArrayOf(t TypeRef) TypeRef {
	return arrayPrefix + t
}

// IsArray reports whether t is an array type.
func (t TypeRef) IsArray() bool {
	return strings.HasPrefix(string(t), arrayPrefix)
}

// Elem returns the component type of an array type, or "" for non-arrays.
func (t TypeRef) Elem() TypeRef {
	if !t.IsArray() {
		return ""
	}
	return t[len(arrayPrefix):]
}

// Elemental strips every array dimension.
func (t TypeRef) Elemental() TypeRef {
	for t.IsArray() {
		t = t.Elem()
	}
	return t
}

// Dimension returns the number of array dimensions of t.
func (t TypeRef) Dimension() int {
	n := 0
	for t.IsArray() {
		t = t.Elem()
		n++
	}
	return n
}

func (t TypeRef) String() string { return string(t) }

// MethodRef identifies a method by owner, name and signature. Sig is the
// parenthesised parameter list, e.g. "(int32,Object)".
type MethodRef struct {
	Owner TypeRef
	Name  string
	Sig   string
}

func (m MethodRef) String() string {
	return string(m.Owner) + "." + m.Name + m.Sig
}

// SameSignature reports whether m and o could override one another.
func (m MethodRef) SameSignature(o MethodRef) bool {
	return m.Name == o.Name && m.Sig == o.Sig
}

// Signature builds the Sig of a method taking params.
func Signature(params ...TypeRef) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = string(p)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseMethodRef parses "Owner.name(sig)". A missing signature means "()".
func ParseMethodRef(s string) (MethodRef, error) {
	head, sig := s, "()"
	if i := strings.IndexByte(s, '('); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return MethodRef{}, fmt.Errorf("malformed method reference %q: unbalanced signature", s)
		}
		head, sig = s[:i], s[i:]
	}
	dot := strings.LastIndexByte(head, '.')
	if dot <= 0 || dot == len(head)-1 {
		return MethodRef{}, fmt.Errorf("malformed method reference %q: want Owner.name(sig)", s)
	}
	return MethodRef{Owner: TypeRef(head[:dot]), Name: head[dot+1:], Sig: sig}, nil
}

// FieldRef identifies a field by owner and name.
type FieldRef struct {
	Owner TypeRef
	Name  string
}

func (f FieldRef) String() string {
	return string(f.Owner) + "." + f.Name
}

// ParseFieldRef parses "Owner.name".
func ParseFieldRef(s string) (FieldRef, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return FieldRef{}, fmt.Errorf("malformed field reference %q: want Owner.name", s)
	}
	return FieldRef{Owner: TypeRef(s[:dot]), Name: s[dot+1:]}, nil
}
