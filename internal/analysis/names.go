// Package analysis names Go declarations in the descriptor vocabulary.
package analysis

import (
	"go/types"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/reachable/pkg/descriptor"
)

// NameCache caches the descriptor names of Go types and signatures. The
// same types.Type is asked for many times while signatures are mapped, and
// the cache is shared by the goroutines translating packages.
type NameCache struct {
	typeCache *xsync.Map[types.Type, descriptor.TypeRef]
	sigCache  *xsync.Map[*types.Signature, string]
	declared  func(descriptor.TypeRef) bool
}

// NewNameCache returns a cache that maps named types for which declared
// returns false onto the root type. A nil declared accepts every name.
func NewNameCache(declared func(descriptor.TypeRef) bool) *NameCache {
	if declared == nil {
		declared = func(descriptor.TypeRef) bool { return true }
	}
	return &NameCache{
		typeCache: xsync.NewMap[types.Type, descriptor.TypeRef](),
		sigCache:  xsync.NewMap[*types.Signature, string](),
		declared:  declared,
	}
}

// QualifiedName returns the package-qualified name of a type declaration.
func QualifiedName(obj *types.TypeName) descriptor.TypeRef {
	if obj.Pkg() == nil {
		return descriptor.TypeRef(obj.Name())
	}
	var builder strings.Builder
	builder.Grow(len(obj.Pkg().Path()) + len(obj.Name()) + 1)
	builder.WriteString(obj.Pkg().Path())
	builder.WriteByte('.')
	builder.WriteString(obj.Name())
	return descriptor.TypeRef(builder.String())
}

// PackageRef names the synthetic type holding a package's functions and
// variables.
func PackageRef(pkg *types.Package) descriptor.TypeRef {
	return descriptor.TypeRef(pkg.Path())
}

// TypeRef maps a Go type onto a descriptor type.
// Named types keep their package-qualified name, pointers collapse onto
// their element, slices and arrays become array types and basic types map
// onto the nearest primitive kind. Interface literals and declared
// instances of generic types keep their spelling. Everything else,
// including generic and undeclared named types, is the root type.
func (c *NameCache) TypeRef(typ types.Type) descriptor.TypeRef {
	if typ == nil {
		return descriptor.ObjectRef
	}
	if ref, ok := c.typeCache.Load(typ); ok {
		return ref
	}
	ref := c.computeTypeRef(typ)
	c.typeCache.Store(typ, ref)
	return ref
}

func (c *NameCache) computeTypeRef(typ types.Type) descriptor.TypeRef {
	switch t := typ.(type) {
	case *types.Pointer:
		return c.TypeRef(t.Elem())
	case *types.Slice:
		return descriptor.ArrayOf(c.TypeRef(t.Elem()))
	case *types.Array:
		return descriptor.ArrayOf(c.TypeRef(t.Elem()))
	case *types.Basic:
		return basicRef(t)
	case *types.Alias:
		return c.TypeRef(types.Unalias(t))
	case *types.Named:
		if IsLocal(t.Obj()) {
			return descriptor.ObjectRef
		}
		if isGeneric(t) {
			if ref, ok := InstanceRef(t); ok && c.declared(ref) {
				return ref
			}
			return descriptor.ObjectRef
		}
		if ref := QualifiedName(t.Obj()); c.declared(ref) {
			return ref
		}
		return descriptor.ObjectRef
	case *types.Interface:
		if ref := InterfaceRef(t); c.declared(ref) {
			return ref
		}
		return descriptor.ObjectRef
	}
	return descriptor.ObjectRef
}

// IsLocal reports whether obj is declared inside a function. Local types
// can share a name with a package-level type, so they are never declared.
func IsLocal(obj *types.TypeName) bool {
	return obj.Pkg() != nil && obj.Parent() != nil && obj.Parent() != obj.Pkg().Scope()
}

// InstanceRef names an instance of a generic type by its spelling, such as
// "example.com/shop.Set[int64]". It reports false for generic types and for
// instances whose type arguments mention type parameters.
func InstanceRef(n *types.Named) (descriptor.TypeRef, bool) {
	args := n.TypeArgs()
	if args == nil || args.Len() == 0 {
		return "", false
	}
	for i := range args.Len() {
		if hasTypeParam(args.At(i), 0) {
			return "", false
		}
	}
	return descriptor.TypeRef(types.TypeString(n, pathQualifier)), true
}

func hasTypeParam(t types.Type, depth int) bool {
	if depth > 8 {
		return true
	}
	depth++
	switch t := t.(type) {
	case *types.TypeParam:
		return true
	case *types.Pointer:
		return hasTypeParam(t.Elem(), depth)
	case *types.Slice:
		return hasTypeParam(t.Elem(), depth)
	case *types.Array:
		return hasTypeParam(t.Elem(), depth)
	case *types.Map:
		return hasTypeParam(t.Key(), depth) || hasTypeParam(t.Elem(), depth)
	case *types.Chan:
		return hasTypeParam(t.Elem(), depth)
	case *types.Alias:
		return hasTypeParam(types.Unalias(t), depth)
	case *types.Named:
		if args := t.TypeArgs(); args != nil {
			for i := range args.Len() {
				if hasTypeParam(args.At(i), depth) {
					return true
				}
			}
		}
	case *types.Signature:
		for _, tup := range []*types.Tuple{t.Params(), t.Results()} {
			for i := range tup.Len() {
				if hasTypeParam(tup.At(i).Type(), depth) {
					return true
				}
			}
		}
	case *types.Struct:
		for i := range t.NumFields() {
			if hasTypeParam(t.Field(i).Type(), depth) {
				return true
			}
		}
	}
	return false
}

func pathQualifier(p *types.Package) string { return p.Path() }

// InterfaceRef names an interface literal by its spelling, with packages
// qualified by path.
func InterfaceRef(t *types.Interface) descriptor.TypeRef {
	return descriptor.TypeRef(types.TypeString(t, pathQualifier))
}

func basicRef(b *types.Basic) descriptor.TypeRef {
	switch b.Kind() {
	case types.Bool, types.UntypedBool:
		return "bool"
	case types.Int8, types.Uint8:
		return "int8"
	case types.Int16, types.Uint16:
		return "int16"
	case types.Int32, types.Uint32, types.UntypedRune:
		return "int32"
	case types.Int, types.Int64, types.Uint, types.Uint64, types.Uintptr, types.UntypedInt:
		return "int64"
	case types.Float32:
		return "float32"
	case types.Float64, types.UntypedFloat:
		return "float64"
	}
	// Strings, complex numbers and unsafe.Pointer are references here.
	return descriptor.ObjectRef
}

func isGeneric(n *types.Named) bool {
	return (n.TypeParams() != nil && n.TypeParams().Len() > 0) ||
		(n.TypeArgs() != nil && n.TypeArgs().Len() > 0)
}

// IsGeneric reports whether typ is a generic type or an instance of one.
func IsGeneric(typ types.Type) bool {
	if p, ok := typ.(*types.Pointer); ok {
		typ = p.Elem()
	}
	n, ok := types.Unalias(typ).(*types.Named)
	return ok && isGeneric(n)
}

// Params maps the parameters of sig, receiver excluded.
func (c *NameCache) Params(sig *types.Signature) []descriptor.TypeRef {
	out := make([]descriptor.TypeRef, sig.Params().Len())
	for i := range sig.Params().Len() {
		out[i] = c.TypeRef(sig.Params().At(i).Type())
	}
	return out
}

// Return maps the first result of sig, or void.
func (c *NameCache) Return(sig *types.Signature) descriptor.TypeRef {
	if sig.Results().Len() == 0 {
		return "void"
	}
	return c.TypeRef(sig.Results().At(0).Type())
}

// MethodRef names a function with signature sig as a member of owner.
// Methods that implement one another get equal signatures.
func (c *NameCache) MethodRef(owner descriptor.TypeRef, name string, sig *types.Signature) descriptor.MethodRef {
	s, ok := c.sigCache.Load(sig)
	if !ok {
		s = descriptor.Signature(c.Params(sig)...)
		c.sigCache.Store(sig, s)
	}
	return descriptor.MethodRef{Owner: owner, Name: name, Sig: s}
}
