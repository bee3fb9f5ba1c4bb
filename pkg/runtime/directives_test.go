package runtime

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		comment string
		want    DirectiveInfo
		ok      bool
	}{
		{"//go:linkname fastrand runtime.fastrand", DirectiveInfo{DirectiveLinkname, "go:linkname", []string{"fastrand", "runtime.fastrand"}}, true},
		{"//go:nosplit", DirectiveInfo{DirectiveNosplit, "go:nosplit", []string{}}, true},
		{"//export Hello", DirectiveInfo{DirectiveCGoExport, "export", []string{"Hello"}}, true},
		{"//export", DirectiveInfo{}, false},
		{"// go:linkname spaced out", DirectiveInfo{}, false},
		{"//go:generate stringer", DirectiveInfo{}, false},
		{"//go:linknamex", DirectiveInfo{}, false},
		{"/* go:noinline */", DirectiveInfo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.comment, func(t *testing.T) {
			got, ok := parseDirective(tt.comment)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDirectives(t *testing.T) {
	const src = `package p

import _ "unsafe"

//go:nosplit
//go:linkname now runtime.nanotime
func now() int64

// Hello is called from C.
//
//export Hello
func Hello() {}

func plain() {}
`
	file, err := parser.ParseFile(token.NewFileSet(), "p.go", src, parser.ParseComments)
	require.NoError(t, err)

	got := make(map[string][]DirectiveInfo)
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			got[fn.Name.Name] = Directives(fn)
		}
	}

	require.Len(t, got["now"], 2)
	require.False(t, got["now"][0].ExposesFunction())
	require.True(t, got["now"][1].ExposesFunction())
	require.Len(t, got["Hello"], 1)
	require.Equal(t, DirectiveCGoExport, got["Hello"][0].Type)
	require.Empty(t, got["plain"])
}

func TestIsRuntimeHookFunction(t *testing.T) {
	require.True(t, IsRuntimeHookFunction("mallocHook"))
	require.False(t, IsRuntimeHookFunction("main"))
}
