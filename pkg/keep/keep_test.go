package keep

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseComment(t *testing.T) {
	tests := []struct {
		name       string
		comment    string
		wantStyle  Style
		wantReason string
		wantParsed bool
	}{
		{"keep", "//reachable:keep", StyleKeep, "", true},
		{"keep with reason", "//reachable:keep called from templates", StyleKeep, "called from templates", true},
		{"nolint", "//nolint:reachable", StyleNolint, "", true},
		{"nolint with reason", "//nolint:reachable // plugin entry", StyleNolint, "plugin entry", true},
		{"nolint with several rules", "//nolint:unused,reachable", StyleNolint, "", true},
		{"lint ignore", "//lint:ignore reachable loaded by name", StyleLintIgnore, "loaded by name", true},
		{"bare nolint", "//nolint", 0, "", false},
		{"other linter", "//nolint:deadcode", 0, "", false},
		{"keep prefix only", "//reachable:keeper", 0, "", false},
		{"malformed lint ignore", "//lint:ignore", 0, "", false},
		{"regular comment", "// reachable:keep is explained below", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := parseComment(&ast.Comment{Text: tt.comment})
			require.Equal(t, tt.wantParsed, ok)
			if ok {
				require.Equal(t, tt.wantStyle, a.Style)
				require.Equal(t, tt.wantReason, a.Reason)
			}
		})
	}
}

func funcPositions(file *ast.File) map[string]token.Pos {
	out := make(map[string]token.Pos)
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			out[fn.Name.Name] = fn.Name.Pos()
		}
	}
	return out
}

func TestSet_Load(t *testing.T) {
	const src = `package test

type Handler struct{}

//reachable:keep invoked by the template engine
func (h *Handler) Render() {}

// Not kept: the annotation above belongs to Render.
func (h *Handler) helper() {}

//lint:ignore reachable plugin
func Plugin() {}

func Inline() {} //nolint:reachable

//nolint:unused
func Other() {}
`
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "test.go", src, parser.ParseComments)
	require.NoError(t, err)

	set := NewSet()
	require.NoError(t, set.Load(fset, []*ast.File{file}))
	require.Equal(t, 3, set.Len())

	pos := funcPositions(file)
	tests := []struct {
		fn         string
		wantKept   bool
		wantReason string
	}{
		{"Render", true, "invoked by the template engine"},
		{"helper", false, ""},
		{"Plugin", true, "plugin"},
		{"Inline", true, ""},
		{"Other", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			a, ok := set.Kept(pos[tt.fn])
			require.Equal(t, tt.wantKept, ok)
			require.Equal(t, tt.wantReason, a.Reason)
		})
	}

	_, ok := set.Kept(token.NoPos)
	require.False(t, ok)
}

func TestSet_LoadErrors(t *testing.T) {
	set := NewSet()
	require.Error(t, set.Load(nil, nil))
	require.NoError(t, set.Load(token.NewFileSet(), []*ast.File{nil}))
	require.Zero(t, set.Len())
}
