// Package runtime detects Go compiler directives and runtime hooks that
// make a function callable from outside the Go code that declares it.
package runtime

import (
	"go/ast"
	"strings"
)

// DirectiveType represents different types of Go compiler directives.
type DirectiveType int

const (
	DirectiveNone DirectiveType = iota
	DirectiveNosplit
	DirectiveNoinline
	DirectiveNorace
	DirectiveNocheckptr
	DirectiveLinkname
	DirectiveCGoExport // CGo export directive
)

// DirectiveInfo describes one directive found on a function.
type DirectiveInfo struct {
	Type      DirectiveType
	Directive string
	// Args are the words after the directive, e.g. the local and remote
	// names of a go:linkname.
	Args []string
}

// ExposesFunction reports whether the directive lets code outside the
// package call the function: a linkname pull or push, or a cgo export.
func (d DirectiveInfo) ExposesFunction() bool {
	return d.Type == DirectiveLinkname || d.Type == DirectiveCGoExport
}

// runtimeDirectives maps directive strings to their types
var runtimeDirectives = map[string]DirectiveType{
	"go:nosplit":    DirectiveNosplit,
	"go:noinline":   DirectiveNoinline,
	"go:norace":     DirectiveNorace,
	"go:nocheckptr": DirectiveNocheckptr,
	"go:linkname":   DirectiveLinkname,
}

// runtimeHookFunctions contains function names that are known runtime hooks
// These functions may be called by the Go runtime even if not explicitly called in code.
var runtimeHookFunctions = map[string]bool{
	"mallocHook":      true,
	"freeHook":        true,
	"gcCallback":      true,
	"runGCCallbacks":  true,
	"panicHook":       true,
	"recoverHook":     true,
	"scheduleHook":    true,
	"preemptHook":     true,
	"sighandler":      true,
	"cpuProfilerHook": true,
	"memprofHook":     true,
	"uintptrEscapes":  true,
	"allocNotInHeap":  true,
}

// Directives returns every directive in fn's doc comment, in order.
func Directives(fn *ast.FuncDecl) []DirectiveInfo {
	if fn.Doc == nil {
		return nil
	}
	var out []DirectiveInfo
	for _, comment := range fn.Doc.List {
		if d, ok := parseDirective(comment.Text); ok {
			out = append(out, d)
		}
	}
	return out
}

// parseDirective parses a comment to check if it contains a valid directive.
func parseDirective(comment string) (DirectiveInfo, bool) {
	// A space after "//" makes it an ordinary comment.
	if !strings.HasPrefix(comment, "//") || strings.HasPrefix(comment, "// ") {
		return DirectiveInfo{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(comment, "//"))
	if len(fields) == 0 {
		return DirectiveInfo{}, false
	}

	// CGo export has no colon: "//export FuncName".
	if fields[0] == "export" && len(fields) > 1 {
		return DirectiveInfo{Type: DirectiveCGoExport, Directive: "export", Args: fields[1:]}, true
	}
	if typ, ok := runtimeDirectives[fields[0]]; ok {
		return DirectiveInfo{Type: typ, Directive: fields[0], Args: fields[1:]}, true
	}
	return DirectiveInfo{}, false
}

// IsRuntimeHookFunction checks if a function name is a known runtime hook.
func IsRuntimeHookFunction(name string) bool {
	return runtimeHookFunctions[name]
}
