package analysis

import (
	"go/types"
	"strings"

	"golang.org/x/tools/go/packages"

	"github.com/715d/reachable/pkg/descriptor"
)

// FuncInfo records what is known about a Go function before reachability
// runs: its descriptor name and the reasons it may be called from outside
// the analyzed code.
type FuncInfo struct {
	// Object is the types.Object representing this function. It is nil
	// for the synthetic package initializer.
	Object types.Object

	// Ref is the function's method reference in the model.
	Ref descriptor.MethodRef

	IsExported   bool
	IsInInternal bool

	// IsKept is set by a keep annotation; KeepReason is its text.
	IsKept     bool
	KeepReason string

	HasLinkname         bool
	HasRuntimeDirective bool
	HasCGoExport        bool

	HasAssemblyImplementation bool
	CalledFromAssembly        bool

	// Package is the package containing this function.
	Package *packages.Package
}

// NewFuncInfo creates a FuncInfo for obj, known in the model as ref.
func NewFuncInfo(obj types.Object, ref descriptor.MethodRef, pkg *packages.Package) *FuncInfo {
	fi := &FuncInfo{Object: obj, Ref: ref, Package: pkg}
	if obj != nil {
		fi.IsExported = obj.Exported()
	}
	fi.IsInInternal = fi.IsInInternalPackage()
	return fi
}

// IsInInternalPackage checks if this function is defined in an internal package.
func (fi *FuncInfo) IsInInternalPackage() bool {
	if fi.Package == nil {
		return false
	}
	return IsInternalPath(fi.Package.PkgPath)
}

// IsInternalPath reports whether pkgPath has "internal" as a complete path
// segment.
func IsInternalPath(pkgPath string) bool {
	return strings.Contains(pkgPath, "/internal/") ||
		strings.HasSuffix(pkgPath, "/internal") ||
		strings.HasPrefix(pkgPath, "internal/") ||
		pkgPath == "internal"
}

// RootReason returns why the function must be treated as an entry point,
// and false if nothing outside the analyzed code can call it. In strict
// mode the exported API of library packages is not assumed to be used.
func (fi *FuncInfo) RootReason(strict bool) (string, bool) {
	switch {
	case fi.IsKept:
		if fi.KeepReason != "" {
			return "kept: " + fi.KeepReason, true
		}
		return "kept", true
	case fi.HasLinkname:
		return "go:linkname", true
	case fi.HasCGoExport:
		return "cgo export", true
	case fi.HasRuntimeDirective:
		return "runtime directive", true
	case fi.CalledFromAssembly:
		return "called from assembly", true
	}

	if strict || !fi.IsExported || fi.IsInInternal {
		return "", false
	}
	// Only library packages have an API.
	if fi.Package != nil && fi.Package.Name == "main" {
		return "", false
	}
	if fi.HasAssemblyImplementation {
		return "exported assembly function", true
	}
	return "exported API", true
}
