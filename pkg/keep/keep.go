// Package keep reads comment annotations that pin a function as reachable
// regardless of what the analysis finds, for code entered through
// reflection, templates or plugins.
package keep

import (
	"fmt"
	"go/ast"
	"go/token"
	"regexp"
	"strings"
)

// Style is the comment syntax an annotation was written in.
type Style int

const (
	// StyleKeep is //reachable:keep [reason].
	StyleKeep Style = iota

	// StyleNolint is //nolint:reachable [// reason].
	StyleNolint

	// StyleLintIgnore is //lint:ignore reachable [reason].
	StyleLintIgnore
)

// Annotation is one parsed keep comment.
type Annotation struct {
	Position token.Pos
	Reason   string
	Style    Style
}

var (
	keepPattern       = regexp.MustCompile(`^//reachable:keep(?:\s+(.+))?$`)
	nolintPattern     = regexp.MustCompile(`^//\s*nolint:([^/\s]+)(?:\s*//\s*(.+))?`)
	lintIgnorePattern = regexp.MustCompile(`^//\s*lint:ignore\s+reachable(?:\s+(.+))?`)
)

// Set maps function declarations to the annotation keeping them.
type Set struct {
	kept map[token.Pos]Annotation
}

func NewSet() *Set {
	return &Set{kept: make(map[token.Pos]Annotation)}
}

// Load records every function in files whose declaration carries a keep
// annotation on the line above it or on its own line. Functions are keyed
// by the position of their name, which is what types.Object.Pos returns.
func (s *Set) Load(fset *token.FileSet, files []*ast.File) error {
	if fset == nil {
		return fmt.Errorf("fset cannot be nil")
	}
	for _, file := range files {
		if file == nil {
			continue
		}
		byLine := make(map[int]Annotation)
		for _, group := range file.Comments {
			for _, comment := range group.List {
				if a, ok := parseComment(comment); ok {
					byLine[fset.Position(comment.Pos()).Line] = a
				}
			}
		}
		if len(byLine) == 0 {
			continue
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			line := fset.Position(fn.Name.Pos()).Line
			a, ok := byLine[line-1]
			if !ok {
				a, ok = byLine[line]
			}
			if ok {
				s.kept[fn.Name.Pos()] = a
			}
		}
	}
	return nil
}

func parseComment(comment *ast.Comment) (Annotation, bool) {
	text := strings.TrimSpace(comment.Text)
	a := Annotation{Position: comment.Pos()}

	if m := keepPattern.FindStringSubmatch(text); m != nil {
		a.Style, a.Reason = StyleKeep, strings.TrimSpace(m[1])
		return a, true
	}
	if m := lintIgnorePattern.FindStringSubmatch(text); m != nil {
		a.Style, a.Reason = StyleLintIgnore, strings.TrimSpace(m[1])
		return a, true
	}
	if m := nolintPattern.FindStringSubmatch(text); m != nil {
		for rule := range strings.SplitSeq(m[1], ",") {
			if strings.TrimSpace(rule) == "reachable" {
				a.Style, a.Reason = StyleNolint, strings.TrimSpace(m[2])
				return a, true
			}
		}
	}
	return Annotation{}, false
}

// Kept reports whether the function named at pos is kept, and why.
func (s *Set) Kept(pos token.Pos) (Annotation, bool) {
	a, ok := s.kept[pos]
	return a, ok
}

// Len returns the number of kept functions.
func (s *Set) Len() int { return len(s.kept) }
