package harness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
	yaml "gopkg.in/yaml.v3"

	"github.com/715d/reachable/pkg/gotypes"
)

// LoaderConfig selects the packages of a case and the build they are
// type-checked for.
type LoaderConfig struct {
	Dir       string
	BuildTags []string
	EnableCGo bool
	// GOOS and GOARCH override the host platform when set.
	GOOS   string
	GOARCH string
	// Tests includes _test.go files and test packages.
	Tests bool
}

// environ returns the process environment with the build overrides of c
// applied.
func (c *LoaderConfig) environ() []string {
	env := os.Environ()
	set := func(key, value string) {
		prefix := key + "="
		i := slices.IndexFunc(env, func(e string) bool { return strings.HasPrefix(e, prefix) })
		if i < 0 {
			env = append(env, prefix+value)
			return
		}
		env[i] = prefix + value
	}

	if c.EnableCGo {
		set("CGO_ENABLED", "1")
	} else {
		set("CGO_ENABLED", "0")
	}
	if c.GOOS != "" {
		set("GOOS", c.GOOS)
	}
	if c.GOARCH != "" {
		set("GOARCH", c.GOARCH)
	}
	return env
}

// LoadPackages loads every package under cfg.Dir.
func LoadPackages(t *testing.T, cfg *LoaderConfig) []*packages.Package {
	t.Helper()

	t.Logf("Loading packages from %q", cfg.Dir)
	pkgs, err := gotypes.LoadPackages(t.Context(), gotypes.LoaderOptions{
		Packages:  []string{"./..."},
		BuildTags: cfg.BuildTags,
		Dir:       cfg.Dir,
		Env:       cfg.environ(),
		Tests:     cfg.Tests,
	})
	require.NoError(t, err)
	return pkgs
}

// LoadTestCase reads dir/expected.yaml. The case is named by its path
// relative to root, or by its base name when root is empty.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, "expected.yaml"))
	require.NoError(t, err)
	tc := &TestCase{}
	require.NoError(t, yaml.Unmarshal(data, tc))

	_, err = os.Stat(filepath.Join(dir, ModelFile))
	tc.Model = err == nil

	tc.Dir = filepath.Base(dir)
	if root != "" {
		if rel, err := filepath.Rel(root, dir); err == nil {
			tc.Dir = rel
		}
	}
	return tc
}

// LoadRepositoryPackages clones repo into a temporary directory and loads
// its packages with cfg.
func LoadRepositoryPackages(t *testing.T, repo *RepoConfig, cfg *LoaderConfig) []*packages.Package {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, shallowClone(t.Context(), repo.URL, repo.Ref, dir))

	local := *cfg
	local.Dir = filepath.Join(dir, repo.Subdir)
	return LoadPackages(t, &local)
}

// shallowClone fetches only the tip of ref, or of the default branch when
// ref is empty.
func shallowClone(ctx context.Context, url, ref, dir string) error {
	args := []string{"clone", "--depth", "1", "--single-branch"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.String(), err, out)
	}
	return nil
}
