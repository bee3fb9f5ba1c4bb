package gotypes

import (
	"cmp"
	"context"
	"fmt"
	"go/types"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ssa"

	"github.com/715d/reachable/internal/analysis"
	"github.com/715d/reachable/pkg/descriptor"
)

// translateBodies turns the SSA body of every declared function into model
// instructions. Bodies are translated in parallel; each goroutine writes
// only its own slot, and the model is only read until every goroutine is
// done.
func (b *builder) translateBodies(ctx context.Context) error {
	fns := make([]*ssa.Function, 0, len(b.funcs))
	for fn := range b.funcs {
		fns = append(fns, fn)
	}
	slices.SortFunc(fns, func(x, y *ssa.Function) int {
		return compareRefs(b.funcs[x], b.funcs[y])
	})

	bodies := make([][]descriptor.Instr, len(fns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, fn := range fns {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t := &translator{b: b, self: b.funcs[fn]}
			if fn.TypeParams().Len() > 0 {
				// One body for every instantiation, closures included.
				t.merge = true
				t.function(fn)
				for _, inst := range b.instances[fn] {
					t.function(inst)
				}
			} else {
				t.function(fn)
			}
			bodies[i] = t.out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("translate bodies: %w", err)
	}

	for i, fn := range fns {
		if len(bodies[i]) == 0 {
			continue
		}
		if err := b.model.AddBody(b.funcs[fn], bodies[i]); err != nil {
			return err
		}
	}
	return nil
}

func compareRefs(a, b descriptor.MethodRef) int {
	return cmp.Compare(a.String(), b.String())
}

// translator builds the instruction list of one model method.
type translator struct {
	b    *builder
	self descriptor.MethodRef
	// merge folds closures into the body instead of calling them.
	merge bool
	out   []descriptor.Instr
	seen  map[*ssa.Function]bool
}

func (t *translator) emit(in descriptor.Instr) {
	in.BCI = len(t.out)
	t.out = append(t.out, in)
}

func (t *translator) function(fn *ssa.Function) {
	if t.seen == nil {
		t.seen = make(map[*ssa.Function]bool)
	}
	if t.seen[fn] {
		return
	}
	t.seen[fn] = true
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			t.instruction(instr)
		}
	}
	if t.merge {
		for _, anon := range fn.AnonFuncs {
			t.function(anon)
		}
	}
}

func (t *translator) instruction(instr ssa.Instruction) {
	var callee ssa.Value
	switch in := instr.(type) {
	case ssa.CallInstruction:
		common := in.Common()
		if common.IsInvoke() {
			t.invoke(common.Value.Type(), common.Method)
			break
		}
		if fn := common.StaticCallee(); fn != nil {
			callee = common.Value
			t.call(fn)
		}
	case *ssa.Alloc:
		t.alloc(deref(in.Type()))
	case *ssa.MakeSlice:
		if s, ok := in.Type().Underlying().(*types.Slice); ok {
			t.newArray(s.Elem())
		}
	case *ssa.MakeInterface:
		t.escape(in.X.Type())
	case *ssa.FieldAddr:
		t.fieldAddr(in)
	case *ssa.Field:
		if ref, ok := t.field(in.X.Type(), in.Field); ok {
			t.emit(descriptor.Instr{Op: descriptor.OpRead, Field: ref})
		}
	}

	var store *ssa.Store
	if s, ok := instr.(*ssa.Store); ok {
		store = s
	}
	for _, op := range instr.Operands(nil) {
		if op == nil || *op == nil || *op == callee {
			continue
		}
		switch v := (*op).(type) {
		case *ssa.Function:
			// A function used as a value may be called by whoever receives it.
			t.call(v)
		case *ssa.Global:
			write := store != nil && store.Addr == v
			t.global(v, write)
		}
	}
}

// call emits a direct call to fn when fn is a declared function or a
// wrapper around a declared method.
func (t *translator) call(fn *ssa.Function) {
	if ref, ok := t.b.methodOf(fn); ok {
		if t.merge && ref == t.self {
			return
		}
		t.emit(descriptor.Instr{Op: descriptor.OpCall, Method: ref})
		return
	}
	if fn.Synthetic == "" {
		return
	}
	// Bound methods, thunks and promotion wrappers.
	if obj, ok := fn.Object().(*types.Func); ok {
		if in, ok := t.b.methodCall(obj); ok {
			t.emit(in)
		}
	}
}

// methodOf returns the model method of fn: its own declaration, its
// generic origin, or the function its closure belongs to.
func (b *builder) methodOf(fn *ssa.Function) (descriptor.MethodRef, bool) {
	for f := fn; f != nil; f = f.Parent() {
		if ref, ok := b.funcs[f]; ok {
			return ref, true
		}
		if origin := f.Origin(); origin != nil {
			if ref, ok := b.funcs[origin]; ok {
				return ref, true
			}
		}
	}
	return descriptor.MethodRef{}, false
}

func (t *translator) invoke(recv types.Type, method *types.Func) {
	if method == nil {
		return
	}
	owner := t.b.names.TypeRef(recv)
	dt, ok := t.b.types[owner]
	if !ok || dt.iface == nil {
		return
	}
	ref := t.b.names.MethodRef(owner, method.Name(), method.Type().(*types.Signature))
	if _, err := t.b.model.Method(ref); err != nil {
		return
	}
	t.emit(descriptor.Instr{Op: descriptor.OpVirtual, Method: ref})
}

// class returns the declared class typ maps onto.
func (t *translator) class(typ types.Type) (descriptor.TypeRef, bool) {
	ref := t.b.names.TypeRef(typ)
	dt, ok := t.b.types[ref]
	return ref, ok && dt.iface == nil
}

func (t *translator) alloc(typ types.Type) {
	if a, ok := typ.Underlying().(*types.Array); ok {
		t.newArray(a.Elem())
		return
	}
	if ref, ok := t.class(typ); ok {
		t.emit(descriptor.Instr{Op: descriptor.OpNew, Type: ref})
	}
}

func (t *translator) newArray(elem types.Type) {
	t.emit(descriptor.Instr{Op: descriptor.OpNewArray, Type: t.b.names.TypeRef(elem)})
}

// escape handles a conversion to an interface: the value's class is
// instantiated, and code outside the model may call the methods of the
// external interfaces it implements.
func (t *translator) escape(typ types.Type) {
	ref, ok := t.class(typ)
	if !ok {
		return
	}
	t.emit(descriptor.Instr{Op: descriptor.OpNew, Type: ref})
	for _, m := range t.b.escapes[ref] {
		t.emit(descriptor.Instr{Op: descriptor.OpVirtual, Method: m})
	}
}

// field names field index i of the struct that ptrOrStruct points to or
// is, when that struct is a declared class.
func (t *translator) field(ptrOrStruct types.Type, i int) (descriptor.FieldRef, bool) {
	typ := deref(ptrOrStruct)
	owner, ok := t.class(typ)
	if !ok {
		return descriptor.FieldRef{}, false
	}
	st, ok := typ.Underlying().(*types.Struct)
	if !ok || i >= st.NumFields() {
		return descriptor.FieldRef{}, false
	}
	ref := descriptor.FieldRef{Owner: owner, Name: st.Field(i).Name()}
	if _, err := t.b.model.Field(ref); err != nil {
		return descriptor.FieldRef{}, false
	}
	return ref, true
}

// fieldAddr classifies a field address by how it is used: stored through,
// converted to unsafe.Pointer, or read.
func (t *translator) fieldAddr(fa *ssa.FieldAddr) {
	ref, ok := t.field(fa.X.Type(), fa.Field)
	if !ok {
		return
	}
	ops := map[descriptor.Op]bool{}
	if refs := fa.Referrers(); refs != nil {
		for _, use := range *refs {
			switch u := use.(type) {
			case *ssa.Store:
				if u.Addr == fa {
					ops[descriptor.OpWrite] = true
				} else {
					ops[descriptor.OpRead] = true
				}
			case *ssa.Convert:
				if isUnsafePointer(u.Type()) {
					ops[descriptor.OpUnsafe] = true
				} else {
					ops[descriptor.OpRead] = true
				}
			default:
				ops[descriptor.OpRead] = true
			}
		}
	}
	if len(ops) == 0 {
		ops[descriptor.OpRead] = true
	}
	for _, op := range []descriptor.Op{descriptor.OpRead, descriptor.OpWrite, descriptor.OpUnsafe} {
		if ops[op] {
			t.emit(descriptor.Instr{Op: op, Field: ref})
		}
	}
}

func isUnsafePointer(typ types.Type) bool {
	b, ok := typ.Underlying().(*types.Basic)
	return ok && b.Kind() == types.UnsafePointer
}

// global emits the access of a package variable of a target package.
func (t *translator) global(g *ssa.Global, write bool) {
	if g.Pkg == nil {
		return
	}
	if _, ok := t.b.targets[g.Pkg.Pkg]; !ok {
		return
	}
	ref := descriptor.FieldRef{Owner: analysis.PackageRef(g.Pkg.Pkg), Name: g.Name()}
	if _, err := t.b.model.Field(ref); err != nil {
		return
	}
	op := descriptor.OpRead
	if write {
		op = descriptor.OpWrite
	}
	t.emit(descriptor.Instr{Op: op, Field: ref})
}
