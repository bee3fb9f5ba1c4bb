// Package gotypes builds program models from Go packages, so the
// reachability universe can analyze real Go code. Named types become
// classes, package-level functions and variables become static members of
// a synthetic type per package, and SSA function bodies become model
// instructions.
package gotypes

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

// loadMode asks for syntax and full type information of every package,
// dependencies included; SSA construction needs both.
const loadMode = packages.NeedDeps |
	packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo

// LoaderOptions selects the packages to load.
type LoaderOptions struct {
	// Packages are go list patterns; "./..." when empty.
	Packages  []string
	BuildTags []string
	// Dir is the working directory of the go command.
	Dir string
	// Env replaces the process environment when non-nil.
	Env []string
	// Tests also loads test files, so tests and the code they reach count
	// as used.
	Tests bool
}

// LoadPackages loads Go packages for model building. The result is sorted
// by package path, so models built from it number their nodes the same way
// on every run.
func LoadPackages(ctx context.Context, opts LoaderOptions) ([]*packages.Package, error) {
	patterns := opts.Packages
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	cfg := &packages.Config{
		Context: ctx,
		Mode:    loadMode,
		Dir:     opts.Dir,
		Env:     opts.Env,
		Tests:   opts.Tests,
	}
	if len(opts.BuildTags) > 0 {
		cfg.BuildFlags = []string{"-tags", strings.Join(opts.BuildTags, ",")}
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching patterns: %v", patterns)
	}

	var problems []string
	for _, pkg := range pkgs {
		for _, err := range pkg.Errors {
			problems = append(problems, fmt.Sprintf("package %s: %v", pkg.PkgPath, err))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("package errors:\n%s", strings.Join(problems, "\n"))
	}

	pkgs = uniquePackages(pkgs)
	slog.Info("loaded packages", "num", len(pkgs), "tests", opts.Tests)
	return pkgs, nil
}

// variant ranks the forms in which go list reports a package when tests
// are loaded. The test variant "p [p.test]" compiles the production files
// plus the in-package tests, so it replaces the plain package.
type variant int

const (
	testMain variant = iota // the generated "p.test" main package
	plain
	withTests
)

func variantOf(pkg *packages.Package) variant {
	switch {
	case strings.Contains(pkg.ID, "["):
		return withTests
	case strings.HasSuffix(pkg.ID, ".test"):
		return testMain
	}
	return plain
}

// uniquePackages keeps the highest ranked variant of each package path and
// drops generated test mains.
func uniquePackages(pkgs []*packages.Package) []*packages.Package {
	best := make(map[string]*packages.Package)
	for _, pkg := range pkgs {
		v := variantOf(pkg)
		if v == testMain {
			continue
		}
		if prev, ok := best[pkg.PkgPath]; !ok || v > variantOf(prev) {
			best[pkg.PkgPath] = pkg
		}
	}
	return slices.SortedFunc(maps.Values(best), func(a, b *packages.Package) int {
		return cmp.Compare(a.PkgPath, b.PkgPath)
	})
}
