// Package report formats the outcome of an analysis as text or JSON.
package report

import (
	"cmp"
	"encoding/json"
	"fmt"
	"go/token"
	"io"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/715d/reachable/internal/analysis"
	"github.com/715d/reachable/internal/rta"
	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/gotypes"
	"github.com/715d/reachable/pkg/universe"
)

// Entry is one dead function or method.
type Entry struct {
	Name     string
	Package  string
	Ref      descriptor.MethodRef
	Position token.Position
	Reason   string
}

// Stats summarizes a run.
type Stats struct {
	TotalMethods     int             `json:"total_methods"`
	ReachableMethods int             `json:"reachable_methods"`
	DeadMethods      int             `json:"dead_methods"`
	Instantiated     int             `json:"instantiated_types"`
	AccessedFields   int             `json:"accessed_fields"`
	Universe         universe.Stats  `json:"universe"`
	AnalysisDuration time.Duration   `json:"analysis_duration"`
}

// Report is the sorted outcome of one analysis.
type Report struct {
	Model string
	RunID string
	Dead  []Entry
	Stats Stats
}

// FromModel reports the dead methods of a model analysis by reference.
func FromModel(res *rta.Result, runID string, dur time.Duration) *Report {
	r := newReport(res, runID, dur)
	for _, ref := range res.Dead {
		r.Dead = append(r.Dead, Entry{
			Name:    ref.String(),
			Package: string(ref.Owner),
			Ref:     ref,
			Reason:  "unreachable",
		})
	}
	r.sort()
	return r
}

// FromProgram reports the dead functions of a Go program by their source
// names. Synthetic and generated functions are left out.
func FromProgram(res *rta.Result, prog *gotypes.Program, strict bool, runID string, dur time.Duration) *Report {
	r := newReport(res, runID, dur)
	for _, ref := range prog.Declared(res.Dead) {
		src, _ := prog.Source(ref)
		r.Dead = append(r.Dead, Entry{
			Name:     src.Name,
			Package:  src.Package,
			Ref:      ref,
			Position: src.Position,
			Reason:   deadReason(src, strict),
		})
	}
	r.Stats.DeadMethods = len(r.Dead)
	r.sort()
	return r
}

func newReport(res *rta.Result, runID string, dur time.Duration) *Report {
	return &Report{
		Model: res.Model,
		RunID: runID,
		Stats: Stats{
			TotalMethods:     len(res.Reachable) + len(res.Dead),
			ReachableMethods: len(res.Reachable),
			DeadMethods:      len(res.Dead),
			Instantiated:     len(res.Instantiated),
			AccessedFields:   len(res.Accessed),
			Universe:         res.Stats,
			AnalysisDuration: dur,
		},
	}
}

func (r *Report) sort() {
	slices.SortFunc(r.Dead, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(a.Package, b.Package),
			cmp.Compare(a.Position.Filename, b.Position.Filename),
			cmp.Compare(a.Position.Line, b.Position.Line),
			cmp.Compare(a.Name, b.Name),
		)
	})
}

func deadReason(src gotypes.Source, strict bool) string {
	name := src.Name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case name == "" || !unicode.IsUpper([]rune(name)[0]):
		return "unexported and unreachable"
	case analysis.IsInternalPath(src.Package):
		return "exported in internal and unreachable"
	case strict:
		return "exported and unreachable (strict mode)"
	}
	return "exported and unreachable"
}

// WriteText writes one line per dead function: "file:line:col name", with
// the reason appended and entries grouped by package when verbose.
func WriteText(w io.Writer, r *Report, verbose bool) error {
	var out strings.Builder
	multi := verbose && len(packages(r)) > 1
	pkg := ""
	for i, e := range r.Dead {
		if multi && (i == 0 || e.Package != pkg) {
			fmt.Fprintf(&out, "\n%s:\n", e.Package)
			pkg = e.Package
		}
		loc := e.Name
		if e.Position.IsValid() {
			loc = fmt.Sprintf("%s:%d:%d %s", e.Position.Filename, e.Position.Line, e.Position.Column, e.Name)
		}
		if verbose {
			fmt.Fprintf(&out, "  %s (%s)\n", loc, e.Reason)
		} else {
			fmt.Fprintf(&out, "%s\n", loc)
		}
	}
	_, err := io.WriteString(w, out.String())
	return err
}

func packages(r *Report) []string {
	var pkgs []string
	for _, e := range r.Dead {
		if !slices.Contains(pkgs, e.Package) {
			pkgs = append(pkgs, e.Package)
		}
	}
	return pkgs
}

type jOutput struct {
	Model     string  `json:"model"`
	RunID     string  `json:"run_id,omitempty"`
	Dead      []jFunc `json:"dead"`
	Stats     Stats   `json:"stats"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
}

type jFunc struct {
	Name    string `json:"name"`
	Ref     string `json:"ref"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Reason  string `json:"reason"`
	Package string `json:"package"`
}

// WriteJSON writes r as an indented JSON document stamped with version
// and the time now.
func WriteJSON(w io.Writer, r *Report, version string, now time.Time) error {
	funcs := make([]jFunc, 0, len(r.Dead))
	for _, e := range r.Dead {
		funcs = append(funcs, jFunc{
			Name:    e.Name,
			Ref:     e.Ref.String(),
			File:    e.Position.Filename,
			Line:    e.Position.Line,
			Column:  e.Position.Column,
			Reason:  e.Reason,
			Package: e.Package,
		})
	}
	data, err := json.MarshalIndent(jOutput{
		Model:     r.Model,
		RunID:     r.RunID,
		Dead:      funcs,
		Stats:     r.Stats,
		Version:   version,
		Timestamp: now.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
