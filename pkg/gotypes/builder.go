package gotypes

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"log/slog"
	"maps"
	goruntime "runtime"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/715d/reachable/internal/analysis"
	"github.com/715d/reachable/pkg/assembly"
	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/keep"
)

// Options controls model building.
type Options struct {
	// Name names the model. It defaults to the path of the first target
	// package.
	Name string

	// Strict drops the assumption that the exported API of library
	// packages is used by code outside the analyzed packages.
	Strict bool

	// SkipGenerated leaves functions declared in generated files out of
	// Program.Declared.
	SkipGenerated bool

	// Workers bounds the goroutines translating function bodies. Zero
	// means runtime.NumCPU().
	Workers int

	Logger *slog.Logger
}

// Source locates the Go declaration behind a model method.
type Source struct {
	// Name is the function's name within its package: "F", "T.M" or, for
	// closures, "F$1".
	Name     string
	Package  string
	Position token.Position

	// Synthetic marks methods with no declaration of their own: package
	// initializers, closures and promoted-method wrappers.
	Synthetic bool
	Generated bool

	// Root is why the function is an entry point, or empty.
	Root string
}

// Program is a model built from Go packages.
type Program struct {
	Model   *descriptor.Model
	Sources map[descriptor.MethodRef]Source
}

// Declared filters refs down to methods that are declared in Go source,
// dropping synthetic methods and, when requested, generated code.
func (p *Program) Declared(refs []descriptor.MethodRef) []descriptor.MethodRef {
	var out []descriptor.MethodRef
	for _, ref := range refs {
		src, ok := p.Sources[ref]
		if !ok || src.Synthetic || src.Generated {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// Source returns where ref is declared.
func (p *Program) Source(ref descriptor.MethodRef) (Source, bool) {
	src, ok := p.Sources[ref]
	return src, ok
}

// declaredType is a Go type the model declares.
type declaredType struct {
	ref   descriptor.TypeRef
	typ   types.Type
	iface *types.Interface // nil for classes
	// external is set for interfaces declared outside the target packages.
	// Code that is not analyzed may call their methods on any value it
	// receives.
	external bool
}

type builder struct {
	opts Options
	log  *slog.Logger

	prog    *ssa.Program
	all     map[*ssa.Function]bool
	targets map[*types.Package]*packages.Package
	model   *descriptor.Model
	names   *analysis.NameCache
	sources map[descriptor.MethodRef]Source

	types   map[descriptor.TypeRef]*declaredType
	ifaces  []*declaredType // sorted by ref
	classes []*declaredType // sorted by ref

	// funcs maps every translated function to its model method. Generic
	// functions map to themselves; their instances are found through
	// Origin.
	funcs     map[*ssa.Function]descriptor.MethodRef
	instances map[*ssa.Function][]*ssa.Function

	// escapes lists, per class, the virtual calls that unanalyzed code may
	// make on a value of the class once it is converted to an interface.
	escapes map[descriptor.TypeRef][]descriptor.MethodRef

	keep *keep.Set
	asm  map[*types.Package]*assembly.Info
}

// Build translates the target packages among pkgs into a program model.
// Dependencies, the standard library included, contribute only the
// interfaces that target code calls or implements.
func Build(ctx context.Context, pkgs []*packages.Package, opts Options) (*Program, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = goruntime.NumCPU()
	}
	b := &builder{
		opts:      opts,
		log:       opts.Logger,
		targets:   make(map[*types.Package]*packages.Package),
		sources:   make(map[descriptor.MethodRef]Source),
		types:     make(map[descriptor.TypeRef]*declaredType),
		funcs:     make(map[*ssa.Function]descriptor.MethodRef),
		instances: make(map[*ssa.Function][]*ssa.Function),
		escapes:   make(map[descriptor.TypeRef][]descriptor.MethodRef),
		keep:      keep.NewSet(),
		asm:       make(map[*types.Package]*assembly.Info),
	}

	var ordered []*packages.Package
	for _, p := range pkgs {
		if p.Types != nil && isTargetPackage(p) {
			b.targets[p.Types] = p
			ordered = append(ordered, p)
		}
	}
	if len(ordered) == 0 {
		return nil, errors.New("no target packages to build a model from")
	}
	slices.SortFunc(ordered, func(a, b *packages.Package) int { return cmp.Compare(a.PkgPath, b.PkgPath) })
	name := cmp.Or(opts.Name, ordered[0].PkgPath)
	b.model = descriptor.NewModel(name)

	b.prog, _ = ssautil.AllPackages(pkgs, ssa.InstantiateGenerics|ssa.BareInits)
	b.prog.Build()
	b.all = ssautil.AllFunctions(b.prog)
	b.log.Debug("built SSA program", "targets", len(ordered))

	if err := b.scanSources(ordered); err != nil {
		return nil, err
	}
	b.collectTypes(ordered, b.targetFunctions())
	b.names = analysis.NewNameCache(func(ref descriptor.TypeRef) bool {
		_, ok := b.types[ref]
		return ok
	})

	if err := b.declareTypes(ordered); err != nil {
		return nil, err
	}
	if err := b.declareMembers(ordered); err != nil {
		return nil, err
	}
	b.collectInstances()
	if err := b.translateBodies(ctx); err != nil {
		return nil, err
	}
	if err := b.markRoots(ordered); err != nil {
		return nil, err
	}
	if err := b.model.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}

	b.log.Info("built program model",
		"model", name,
		"packages", len(ordered),
		"types", len(b.types),
		"methods", len(b.sources),
		"entry", len(b.model.Entry))
	return &Program{Model: b.model, Sources: b.sources}, nil
}

// scanSources loads keep annotations and assembly symbols of the targets.
func (b *builder) scanSources(targets []*packages.Package) error {
	for _, p := range targets {
		if err := b.keep.Load(p.Fset, p.Syntax); err != nil {
			return fmt.Errorf("package %s: keep annotations: %w", p.PkgPath, err)
		}
		info, err := assembly.ScanPackage(p)
		if err != nil {
			// Assembly scanning is supplementary.
			b.log.Warn("scanning assembly files", "package", p.PkgPath, "error", err)
			continue
		}
		if !info.Empty() {
			b.asm[p.Types] = info
		}
	}
	return nil
}

// targetFunctions returns every function of the target packages the SSA
// program contains, instantiations and closures included.
func (b *builder) targetFunctions() []*ssa.Function {
	var out []*ssa.Function
	for fn := range b.all {
		if pkg := home(fn); pkg != nil {
			if _, ok := b.targets[pkg]; ok {
				out = append(out, fn)
			}
		}
	}
	return out
}

// home returns the package declaring fn, or the package of the generic
// function or enclosing function it derives from.
func home(fn *ssa.Function) *types.Package {
	for f := fn; f != nil; f = f.Parent() {
		if f.Pkg != nil {
			return f.Pkg.Pkg
		}
		if origin := f.Origin(); origin != nil && origin.Pkg != nil {
			return origin.Pkg.Pkg
		}
	}
	return nil
}

// collectTypes picks the Go types the model declares: the named types of
// the target packages, the interfaces target code calls methods on, and
// the exported interfaces of dependencies that some target type
// implements.
func (b *builder) collectTypes(targets []*packages.Package, fns []*ssa.Function) {
	for _, p := range targets {
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || tn.IsAlias() {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok || analysis.IsGeneric(named) {
				continue
			}
			ref := analysis.QualifiedName(tn)
			if iface, ok := named.Underlying().(*types.Interface); ok {
				if !iface.IsMethodSet() {
					// Constraint interfaces have no values.
					continue
				}
				b.types[ref] = &declaredType{ref: ref, typ: named, iface: iface}
				continue
			}
			b.types[ref] = &declaredType{ref: ref, typ: named}
		}
	}

	// Interfaces invoked by target code.
	for _, fn := range fns {
		for _, blk := range fn.Blocks {
			for _, instr := range blk.Instrs {
				call, ok := instr.(ssa.CallInstruction)
				if !ok || !call.Common().IsInvoke() {
					continue
				}
				b.addExternalInterface(call.Common().Value.Type())
			}
		}
	}

	// Interfaces of dependencies implemented by target types.
	var candidates []types.Type
	candidates = append(candidates, types.Universe.Lookup("error").Type())
	for _, sp := range b.prog.AllPackages() {
		if _, ok := b.targets[sp.Pkg]; ok {
			continue
		}
		scope := sp.Pkg.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || !tn.Exported() || tn.IsAlias() {
				continue
			}
			candidates = append(candidates, tn.Type())
		}
	}
	var classes []types.Type
	for _, dt := range b.types {
		if dt.iface == nil {
			classes = append(classes, dt.typ)
		}
	}
	for _, typ := range candidates {
		named, ok := typ.(*types.Named)
		if !ok || analysis.IsGeneric(named) {
			continue
		}
		iface, ok := named.Underlying().(*types.Interface)
		if !ok || !iface.IsMethodSet() || iface.NumMethods() == 0 {
			continue
		}
		if slices.ContainsFunc(classes, func(c types.Type) bool { return implements(c, iface) }) {
			b.addExternalInterface(named)
		}
	}

	for _, dt := range slices.SortedFunc(maps.Values(b.types), byRef) {
		if dt.iface != nil {
			b.ifaces = append(b.ifaces, dt)
		} else {
			b.classes = append(b.classes, dt)
		}
	}
}

// addExternalInterface declares the interface typ unless it is already
// declared, generic, local or empty. Instances of generic interfaces are
// declared by their spelling. Named interfaces of dependencies are marked
// external.
func (b *builder) addExternalInterface(typ types.Type) {
	var ref descriptor.TypeRef
	external := false
	switch t := types.Unalias(typ).(type) {
	case *types.Named:
		if analysis.IsLocal(t.Obj()) {
			return
		}
		ref = analysis.QualifiedName(t.Obj())
		if analysis.IsGeneric(t) {
			inst, ok := analysis.InstanceRef(t)
			if !ok {
				return
			}
			ref = inst
		}
		_, target := b.targets[t.Obj().Pkg()]
		external = !target
	case *types.Interface:
		ref = analysis.InterfaceRef(t)
	default:
		// Type parameters.
		return
	}
	iface, ok := typ.Underlying().(*types.Interface)
	if !ok || !iface.IsMethodSet() || iface.NumMethods() == 0 {
		return
	}
	if _, ok := b.types[ref]; ok {
		return
	}
	b.types[ref] = &declaredType{ref: ref, typ: typ, iface: iface, external: external}
}

func implements(t types.Type, iface *types.Interface) bool {
	return types.Implements(t, iface) || types.Implements(types.NewPointer(t), iface)
}

func byRef(a, b *declaredType) int { return cmp.Compare(a.ref, b.ref) }

// declareTypes adds the collected types and one final type per target
// package, which owns the package's functions and variables. A struct's
// first embedded value of a declared class becomes its superclass.
func (b *builder) declareTypes(targets []*packages.Package) error {
	for _, p := range targets {
		ref := analysis.PackageRef(p.Types)
		if _, dup := b.types[ref]; dup {
			return fmt.Errorf("package %s collides with a type of the same name", p.PkgPath)
		}
		if err := b.model.AddType(descriptor.TypeShape{Ref: ref, Modifiers: descriptor.Final}); err != nil {
			return err
		}
	}
	for _, dt := range b.ifaces {
		if err := b.model.AddType(descriptor.TypeShape{
			Ref:       dt.ref,
			Modifiers: descriptor.Interface | descriptor.Abstract,
		}); err != nil {
			return err
		}
	}
	for _, dt := range b.classes {
		shape := descriptor.TypeShape{Ref: dt.ref, Super: b.superclass(dt.typ)}
		for _, iface := range b.ifaces {
			if iface.iface.NumMethods() > 0 && implements(dt.typ, iface.iface) {
				shape.Interfaces = append(shape.Interfaces, iface.ref)
				if iface.external {
					b.escapes[dt.ref] = append(b.escapes[dt.ref], b.interfaceMethods(iface)...)
				}
			}
		}
		if err := b.model.AddType(shape); err != nil {
			return err
		}
	}
	return nil
}

// superclass returns the first value-embedded declared class of typ's
// struct, or "" for the root type.
func (b *builder) superclass(typ types.Type) descriptor.TypeRef {
	st, ok := typ.Underlying().(*types.Struct)
	if !ok {
		return ""
	}
	for i := range st.NumFields() {
		f := st.Field(i)
		if !f.Embedded() {
			continue
		}
		named, ok := types.Unalias(f.Type()).(*types.Named)
		if !ok || analysis.IsGeneric(named) || analysis.IsLocal(named.Obj()) {
			continue
		}
		dt, ok := b.types[analysis.QualifiedName(named.Obj())]
		if ok && dt.iface == nil {
			return dt.ref
		}
	}
	return ""
}

// interfaceMethods names the methods of a declared interface. They are
// only valid once the name cache exists.
func (b *builder) interfaceMethods(dt *declaredType) []descriptor.MethodRef {
	out := make([]descriptor.MethodRef, dt.iface.NumMethods())
	for i := range dt.iface.NumMethods() {
		m := dt.iface.Method(i)
		out[i] = b.names.MethodRef(dt.ref, m.Name(), m.Type().(*types.Signature))
	}
	return out
}

// declareMembers adds fields and methods: struct fields, interface
// methods, methods of named types, promoted-method wrappers, and the
// functions, closures and variables of each package.
func (b *builder) declareMembers(targets []*packages.Package) error {
	for _, dt := range b.ifaces {
		for i, ref := range b.interfaceMethods(dt) {
			sig := dt.iface.Method(i).Type().(*types.Signature)
			if err := b.model.AddMethod(descriptor.MethodShape{
				Ref:       ref,
				Params:    b.names.Params(sig),
				Return:    b.names.Return(sig),
				Modifiers: descriptor.Abstract,
			}); err != nil {
				return err
			}
		}
	}

	for _, dt := range b.classes {
		if st, ok := dt.typ.Underlying().(*types.Struct); ok {
			for i := range st.NumFields() {
				f := st.Field(i)
				if f.Name() == "_" {
					continue
				}
				if err := b.model.AddField(descriptor.FieldShape{
					Ref:  descriptor.FieldRef{Owner: dt.ref, Name: f.Name()},
					Type: b.names.TypeRef(f.Type()),
				}); err != nil {
					return err
				}
			}
		}
		named := dt.typ.(*types.Named)
		for i := range named.NumMethods() {
			obj := named.Method(i)
			fn := b.prog.FuncValue(obj)
			if fn == nil {
				continue
			}
			ref := b.names.MethodRef(dt.ref, obj.Name(), obj.Type().(*types.Signature))
			if err := b.declareFunc(fn, ref, 0, named.Obj().Name()+"."+obj.Name(), false); err != nil {
				return err
			}
		}
	}
	// Wrappers call methods of other classes, so they come last.
	for _, dt := range b.classes {
		if err := b.declarePromoted(dt); err != nil {
			return err
		}
	}

	for _, p := range targets {
		sp := b.prog.Package(p.Types)
		if sp == nil {
			continue
		}
		owner := analysis.PackageRef(p.Types)
		for _, name := range slices.Sorted(maps.Keys(sp.Members)) {
			switch mem := sp.Members[name].(type) {
			case *ssa.Global:
				if strings.Contains(name, "$") {
					continue
				}
				if err := b.model.AddField(descriptor.FieldShape{
					Ref:       descriptor.FieldRef{Owner: owner, Name: name},
					Type:      b.names.TypeRef(mem.Type()),
					Modifiers: descriptor.Static,
				}); err != nil {
					return err
				}
			case *ssa.Function:
				mods := descriptor.Static
				if name == "init" {
					mods |= descriptor.Initializer
				}
				ref := b.names.MethodRef(owner, name, mem.Signature)
				if err := b.declareFunc(mem, ref, mods, name, name == "init"); err != nil {
					return err
				}
			case *ssa.Type:
				named, ok := mem.Type().(*types.Named)
				if !ok || !analysis.IsGeneric(named) {
					continue
				}
				// Methods of generic types are static members of the
				// package: their receivers have no class.
				for i := range named.NumMethods() {
					obj := named.Method(i)
					fn := b.prog.FuncValue(obj)
					if fn == nil {
						continue
					}
					local := named.Obj().Name() + "." + obj.Name()
					ref := b.names.MethodRef(owner, local, obj.Type().(*types.Signature))
					if err := b.declareFunc(fn, ref, descriptor.Static, local, false); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// declareFunc adds the method ref for fn and, unless fn is generic, one
// static method per closure it contains.
func (b *builder) declareFunc(fn *ssa.Function, ref descriptor.MethodRef, mods descriptor.Modifiers, display string, synthetic bool) error {
	if len(fn.Blocks) == 0 && fn.TypeParams().Len() == 0 && !mods.Has(descriptor.Initializer) {
		mods |= descriptor.Native
	}
	if err := b.model.AddMethod(descriptor.MethodShape{
		Ref:       ref,
		Params:    b.names.Params(fn.Signature),
		Return:    b.names.Return(fn.Signature),
		Modifiers: mods,
	}); err != nil {
		return err
	}
	b.funcs[fn] = ref
	b.sources[ref] = b.source(fn, display, synthetic)
	if fn.TypeParams().Len() > 0 {
		// Closures of generic functions are translated into the body of
		// the function itself.
		return nil
	}

	owner := analysis.PackageRef(fn.Pkg.Pkg)
	var anon func(parent *ssa.Function, prefix string) error
	anon = func(parent *ssa.Function, prefix string) error {
		for _, c := range parent.AnonFuncs {
			name := prefix + c.Name()
			cref := b.names.MethodRef(owner, name, c.Signature)
			if err := b.model.AddMethod(descriptor.MethodShape{
				Ref:       cref,
				Params:    b.names.Params(c.Signature),
				Return:    b.names.Return(c.Signature),
				Modifiers: descriptor.Static,
			}); err != nil {
				return err
			}
			b.funcs[c] = cref
			b.sources[cref] = b.source(c, name, true)
			if err := anon(c, prefix); err != nil {
				return err
			}
		}
		return nil
	}
	prefix := ""
	if recv := fn.Signature.Recv(); recv != nil {
		if n, ok := deref(recv.Type()).(*types.Named); ok {
			prefix = n.Obj().Name() + "."
		}
	}
	return anon(fn, prefix)
}

func (b *builder) source(fn *ssa.Function, name string, synthetic bool) Source {
	src := Source{Name: name, Synthetic: synthetic || fn.Synthetic != ""}
	if fn.Pkg != nil {
		src.Package = fn.Pkg.Pkg.Path()
		if p, ok := b.targets[fn.Pkg.Pkg]; ok {
			src.Position = p.Fset.Position(fn.Pos())
			if b.opts.SkipGenerated {
				src.Generated = isGeneratedFile(p, fn.Pos())
			}
		}
	}
	return src
}

// declarePromoted adds a wrapper method for every method the class gains
// through an embedded field other than its superclass chain, so dispatch
// on the class finds it.
func (b *builder) declarePromoted(dt *declaredType) error {
	mset := types.NewMethodSet(types.NewPointer(dt.typ))
	for i := range mset.Len() {
		sel := mset.At(i)
		if len(sel.Index()) < 2 {
			continue
		}
		obj := sel.Obj().(*types.Func)
		if b.inheritsMethod(dt.ref, obj.Name()) {
			continue
		}
		sig := obj.Type().(*types.Signature)
		ref := b.names.MethodRef(dt.ref, obj.Name(), sig)
		shape := descriptor.MethodShape{Ref: ref, Params: b.names.Params(sig), Return: b.names.Return(sig)}

		var body []descriptor.Instr
		if in, ok := b.methodCall(obj); ok {
			body = []descriptor.Instr{in}
		} else {
			// Promoted from a type outside the model.
			shape.Modifiers |= descriptor.Native
		}
		if err := b.model.AddMethod(shape); err != nil {
			return err
		}
		if len(body) > 0 {
			if err := b.model.AddBody(ref, body); err != nil {
				return err
			}
		}
		named := dt.typ.(*types.Named)
		src := Source{
			Name:      named.Obj().Name() + "." + obj.Name(),
			Package:   named.Obj().Pkg().Path(),
			Synthetic: true,
		}
		b.sources[ref] = src
	}
	return nil
}

// inheritsMethod reports whether a superclass of ref declares a method
// named name.
func (b *builder) inheritsMethod(ref descriptor.TypeRef, name string) bool {
	shape, err := b.model.Type(ref)
	if err != nil {
		return false
	}
	for c := shape.Super; c != "" && c != descriptor.ObjectRef; {
		sup, ok := b.types[c]
		if !ok {
			return false
		}
		if named, ok := sup.typ.(*types.Named); ok {
			for i := range named.NumMethods() {
				if named.Method(i).Name() == name {
					return true
				}
			}
		}
		next, err := b.model.Type(c)
		if err != nil {
			return false
		}
		c = next.Super
	}
	return false
}

// methodCall returns the instruction calling the method obj: a virtual call
// for interface methods, a direct call otherwise.
func (b *builder) methodCall(obj *types.Func) (descriptor.Instr, bool) {
	sig := obj.Type().(*types.Signature)
	recv := sig.Recv()
	if recv == nil {
		return descriptor.Instr{}, false
	}
	owner := b.names.TypeRef(recv.Type())
	dt, ok := b.types[owner]
	if !ok {
		return descriptor.Instr{}, false
	}
	in := descriptor.Instr{Op: descriptor.OpCall, Method: b.names.MethodRef(owner, obj.Name(), sig)}
	if dt.iface != nil {
		in.Op = descriptor.OpVirtual
	}
	if _, err := b.model.Method(in.Method); err != nil {
		return descriptor.Instr{}, false
	}
	return in, true
}

// collectInstances groups the instantiations of declared generic
// functions by their origin.
func (b *builder) collectInstances() {
	for fn := range b.all {
		origin := fn.Origin()
		if origin == nil {
			continue
		}
		if _, ok := b.funcs[origin]; ok {
			b.instances[origin] = append(b.instances[origin], fn)
		}
	}
	for _, insts := range b.instances {
		slices.SortFunc(insts, func(a, b *ssa.Function) int { return cmp.Compare(a.String(), b.String()) })
	}
}

func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

// isGeneratedFile reports whether the file containing pos carries a
// generated code marker.
func isGeneratedFile(p *packages.Package, pos token.Pos) bool {
	tf := p.Fset.File(pos)
	if tf == nil {
		return false
	}
	for _, f := range p.Syntax {
		if p.Fset.File(f.Pos()) == tf {
			return ast.IsGenerated(f) || hasGeneratedMarker(f)
		}
	}
	return false
}

func hasGeneratedMarker(file *ast.File) bool {
	for _, group := range file.Comments {
		for _, comment := range group.List {
			text := comment.Text
			if strings.Contains(text, "Code generated") ||
				strings.Contains(text, "DO NOT EDIT") ||
				strings.Contains(text, "autogenerated") ||
				strings.Contains(text, "AUTO-GENERATED") {
				return true
			}
		}
	}
	return false
}
