package gotypes

import (
	"go/ast"
	"go/token"
	"go/types"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"

	"github.com/715d/reachable/internal/analysis"
	"github.com/715d/reachable/pkg/runtime"
)

var testPrefixes = []string{"Test", "Benchmark", "Example", "Fuzz"}

// markRoots makes entry points of the functions that run without a visible
// caller: main, package initializers, tests and the functions outside code
// can reach.
func (b *builder) markRoots(targets []*packages.Package) error {
	decls := make(map[token.Pos]*ast.FuncDecl)
	for _, p := range targets {
		for _, file := range p.Syntax {
			for _, decl := range file.Decls {
				if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name != nil {
					decls[fn.Name.Pos()] = fn
				}
			}
		}
	}

	// Map iteration order is random; entries are added in ref order so
	// models are identical across runs.
	fns := make([]*ssa.Function, 0, len(b.funcs))
	for fn := range b.funcs {
		fns = append(fns, fn)
	}
	slices.SortFunc(fns, func(x, y *ssa.Function) int {
		return compareRefs(b.funcs[x], b.funcs[y])
	})

	// Names of interface methods. A method of a generic type can only be
	// dispatched to through one of these.
	dispatchable := make(map[string]bool)
	for _, dt := range b.ifaces {
		for i := range dt.iface.NumMethods() {
			dispatchable[dt.iface.Method(i).Name()] = true
		}
	}

	for _, fn := range fns {
		if fn.Pkg == nil {
			continue
		}
		p := b.targets[fn.Pkg.Pkg]
		if p == nil {
			continue
		}
		ref := b.funcs[fn]
		reason, ok := b.rootReason(fn, p, decls, dispatchable)
		if !ok {
			continue
		}
		if err := b.model.AddEntry(ref); err != nil {
			return err
		}
		src := b.sources[ref]
		src.Root = reason
		b.sources[ref] = src
	}
	return nil
}

func (b *builder) rootReason(fn *ssa.Function, p *packages.Package, decls map[token.Pos]*ast.FuncDecl, dispatchable map[string]bool) (string, bool) {
	obj, _ := fn.Object().(*types.Func)
	if obj == nil {
		// The package initializer runs every init#N function and
		// initializes every variable.
		if fn.Name() == "init" && fn.Parent() == nil {
			return "package initializer", true
		}
		return "", false
	}
	sig := obj.Type().(*types.Signature)

	if sig.Recv() == nil {
		if obj.Name() == "init" {
			return "package initializer", true
		}
		if p.Name == "main" && obj.Name() == "main" {
			return "main", true
		}
		if isTestFunction(p, obj) {
			return "test", true
		}
	} else if n, ok := deref(sig.Recv().Type()).(*types.Named); ok && analysis.IsGeneric(n) && dispatchable[obj.Name()] {
		return "method of generic type", true
	}

	fi := analysis.NewFuncInfo(obj, b.funcs[fn], p)
	if sig.Recv() != nil {
		// A method is API only if its receiver type is.
		if n, ok := deref(sig.Recv().Type()).(*types.Named); ok {
			fi.IsExported = fi.IsExported && n.Obj().Exported()
		}
	}
	if decl := decls[obj.Pos()]; decl != nil {
		for _, d := range runtime.Directives(decl) {
			switch d.Type {
			case runtime.DirectiveLinkname:
				fi.HasLinkname = true
			case runtime.DirectiveCGoExport:
				fi.HasCGoExport = true
			default:
				fi.HasRuntimeDirective = true
			}
		}
		if a, ok := b.keep.Kept(decl.Name.Pos()); ok {
			fi.IsKept = true
			fi.KeepReason = a.Reason
		}
	}
	if runtime.IsRuntimeHookFunction(obj.Name()) {
		fi.HasRuntimeDirective = true
	}
	if info := b.asm[p.Types]; info != nil && sig.Recv() == nil {
		fi.HasAssemblyImplementation = info.Implements(obj.Name())
		fi.CalledFromAssembly = info.References(obj.Name())
	}
	return fi.RootReason(b.opts.Strict)
}

// isTestFunction reports whether obj is run by the test driver: a Test,
// Benchmark, Example or Fuzz function declared in a _test.go file.
func isTestFunction(p *packages.Package, obj *types.Func) bool {
	if !strings.HasSuffix(p.Fset.Position(obj.Pos()).Filename, "_test.go") {
		return false
	}
	name := obj.Name()
	for _, prefix := range testPrefixes {
		if name == prefix || strings.HasPrefix(name, prefix) && !isLower(name[len(prefix):]) {
			return true
		}
	}
	return false
}

func isLower(s string) bool {
	return s != "" && s[0] >= 'a' && s[0] <= 'z'
}
