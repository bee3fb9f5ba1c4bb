// Package harness runs the reachability analysis over the cases under
// testdata and compares the dead methods it finds with expected.yaml.
//
// A case is either a directory of Go packages or a directory holding a
// model.yaml program model.
package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"

	"github.com/715d/reachable/internal/rta"
	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/executor"
	"github.com/715d/reachable/pkg/gotypes"
	"github.com/715d/reachable/pkg/universe"
)

// ModelFile is the name of the program model of a model case.
const ModelFile = "model.yaml"

// BuildConfiguration is one way of analyzing a case, with the outcome it
// must produce.
type BuildConfiguration struct {
	Name      string   `yaml:"name"`
	BuildTags []string `yaml:"build_tags"`
	EnableCGo bool     `yaml:"enable_cgo"`
	GOOS      string   `yaml:"goos,omitempty"`
	GOARCH    string   `yaml:"goarch,omitempty"`

	// Strict drops the exported API of library packages from the roots.
	Strict bool `yaml:"strict,omitempty"`
	// Tests loads test files, so tests are roots.
	Tests bool `yaml:"tests,omitempty"`

	// ExpectedDead names Go functions as in source ("F", "T.M") and model
	// methods by their full reference ("T.m(I)V").
	ExpectedDead []ExpectedFunc `yaml:"expected_dead"`
	// ExpectedErrors passes the configuration when the analysis fails with
	// an error containing one of these substrings.
	ExpectedErrors []string `yaml:"expected_errors"`
}

// TestCase is the content of one expected.yaml.
type TestCase struct {
	Dir   string `yaml:"-"`
	Model bool   `yaml:"-"`

	// Repository, when set, analyzes a cloned repository instead of Dir.
	Repository          *RepoConfig          `yaml:"repository,omitempty"`
	BuildConfigurations []BuildConfiguration `yaml:"build_configurations"`
}

// ExpectedFunc is a function a configuration must report as dead.
type ExpectedFunc struct {
	FuncName string `yaml:"func"`
	Reason   string `yaml:"reason"`
	// File, when set, must be a suffix of the reported file.
	File string `yaml:"file,omitempty"`
}

// RepoConfig locates an external repository.
type RepoConfig struct {
	URL    string `yaml:"url"`
	Ref    string `yaml:"ref"`
	Subdir string `yaml:"subdir,omitempty"`
}

// DeadFunc is a function the analysis reported as dead.
type DeadFunc struct {
	Name    string
	Package string
	File    string
}

// ConfigurationResult is the outcome of one build configuration.
type ConfigurationResult struct {
	Configuration BuildConfiguration
	Dead          []DeadFunc
	Success       bool
	Message       string
	Details       []string
}

// TestResult is the outcome of every configuration of a case.
type TestResult struct {
	TestCase             *TestCase
	ConfigurationResults []ConfigurationResult
	Success              bool
	Message              string
}

// TestHarness runs cases found under root.
type TestHarness struct {
	root string
	// workers bounds the notification pool of each run.
	workers int
}

// NewHarness returns a harness for the cases under root.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root, workers: 4}
}

// Run analyzes tc once per build configuration.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.BuildConfigurations, "test case has no build configurations")

	res := &TestResult{TestCase: tc, Success: true}
	var failures []string
	for _, cfg := range tc.BuildConfigurations {
		cr := h.runConfiguration(t, tc, cfg)
		res.ConfigurationResults = append(res.ConfigurationResults, *cr)
		if !cr.Success {
			res.Success = false
			failures = append(failures, fmt.Sprintf("[%s] %s:\n  %s",
				cfg.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
		}
	}

	if res.Success {
		res.Message = fmt.Sprintf("All %d configurations passed", len(tc.BuildConfigurations))
	} else {
		res.Message = fmt.Sprintf("%d/%d configurations failed:\n%s",
			len(failures), len(tc.BuildConfigurations), strings.Join(failures, "\n"))
	}
	return res
}

func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg BuildConfiguration) *ConfigurationResult {
	t.Helper()

	dead, err := h.analyze(t, tc, cfg)
	if err != nil {
		i := slices.IndexFunc(cfg.ExpectedErrors, func(want string) bool {
			return strings.Contains(err.Error(), want)
		})
		require.GreaterOrEqual(t, i, 0, "unexpected error: %v", err)
		return &ConfigurationResult{
			Configuration: cfg,
			Success:       true,
			Message:       fmt.Sprintf("Got expected error: %v", err),
		}
	}

	cr := &ConfigurationResult{Configuration: cfg, Dead: dead}
	if err := validateExpectedFunctions(cfg.ExpectedDead); err != nil {
		cr.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
		cr.Details = []string{err.Error()}
		return cr
	}
	compare(cr, cfg.ExpectedDead, dead)
	return cr
}

// analyze runs the analysis of one configuration and returns the dead
// functions it reports.
func (h *TestHarness) analyze(t *testing.T, tc *TestCase, cfg BuildConfiguration) ([]DeadFunc, error) {
	t.Helper()
	ctx := t.Context()

	if tc.Model {
		model, err := descriptor.LoadModel(filepath.Join(h.root, tc.Dir, ModelFile))
		if err != nil {
			return nil, err
		}
		res, err := h.run(ctx, model)
		if err != nil {
			return nil, err
		}
		dead := make([]DeadFunc, len(res.Dead))
		for i, ref := range res.Dead {
			dead[i] = DeadFunc{Name: ref.String(), Package: model.Name}
		}
		return dead, nil
	}

	lc := &LoaderConfig{
		BuildTags: cfg.BuildTags,
		EnableCGo: cfg.EnableCGo,
		GOOS:      cfg.GOOS,
		GOARCH:    cfg.GOARCH,
		Tests:     cfg.Tests,
	}
	var pkgs []*packages.Package
	if tc.Repository != nil {
		pkgs = LoadRepositoryPackages(t, tc.Repository, lc)
	} else {
		lc.Dir = filepath.Join(h.root, tc.Dir)
		pkgs = LoadPackages(t, lc)
	}

	prog, err := gotypes.Build(ctx, pkgs, gotypes.Options{Strict: cfg.Strict, SkipGenerated: true})
	if err != nil {
		return nil, err
	}
	res, err := h.run(ctx, prog.Model)
	if err != nil {
		return nil, err
	}
	var dead []DeadFunc
	for _, ref := range prog.Declared(res.Dead) {
		src, _ := prog.Source(ref)
		dead = append(dead, DeadFunc{
			Name:    src.Name,
			Package: src.Package,
			File:    relativeFile(h.root, src.Position.Filename),
		})
	}
	return dead, nil
}

func (h *TestHarness) run(ctx context.Context, model *descriptor.Model) (*rta.Result, error) {
	u, err := universe.New(model,
		universe.WithExecutor(executor.NewPool(h.workers, nil)),
		universe.WithGraphProducer(rta.NewModelGraphs(model)))
	if err != nil {
		return nil, err
	}
	return rta.Analyze(ctx, u, model, rta.Config{Workers: h.workers})
}

func validateExpectedFunctions(expected []ExpectedFunc) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.FuncName) == "" {
			return fmt.Errorf("expected function at index %d has empty or missing 'func' field", i)
		}
	}
	return nil
}

// compare fills in the verdict of cr from the expected and the reported
// dead functions.
func compare(cr *ConfigurationResult, expected []ExpectedFunc, actual []DeadFunc) {
	reported := make(map[string]DeadFunc, len(actual))
	for _, a := range actual {
		reported[a.Name] = a
	}
	wanted := make(map[string]bool, len(expected))

	var missing, unexpected, details []string
	for _, exp := range expected {
		wanted[exp.FuncName] = true
		act, ok := reported[exp.FuncName]
		switch {
		case !ok:
			missing = append(missing, fmt.Sprintf("%s (%s)", exp.FuncName, exp.Reason))
		case exp.File != "" && !strings.HasSuffix(act.File, exp.File):
			details = append(details, fmt.Sprintf(
				"File mismatch for %s: expected file ending with %q, got %q",
				exp.FuncName, exp.File, act.File))
		}
	}
	for name := range reported {
		if !wanted[name] {
			unexpected = append(unexpected, name)
		}
	}
	slices.Sort(missing)
	slices.Sort(unexpected)
	for _, m := range missing {
		details = append(details, "Should have been marked dead: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should have been marked reachable: "+u)
	}

	cr.Details = details
	cr.Success = len(details) == 0
	if cr.Success {
		cr.Message = fmt.Sprintf("All %d expected dead functions found", len(expected))
	} else {
		cr.Message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}
}

// relativeFile returns filename relative to root, or its base name when
// it is not under root.
func relativeFile(root, filename string) string {
	if filename == "" {
		return ""
	}
	rel, err := filepath.Rel(root, filename)
	if err != nil {
		return filepath.Base(filename)
	}
	return rel
}
