package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAll runs all integration tests.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	harnessDir := filepath.Dir(filename)
	testdataDir := filepath.Join(harnessDir, "..", "..", "testdata")

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			for _, config := range tc.BuildConfigurations {
				if len(config.BuildTags) > 0 {
					t.Logf("[%s] Build tags: %v", config.Name, config.BuildTags)
				}
				if config.EnableCGo {
					t.Logf("[%s] CGo enabled", config.Name)
				}
				if config.Strict {
					t.Logf("[%s] Strict mode", config.Name)
				}
			}

			result := NewHarness(testdataDir).Run(t, tc)
			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	// Read all directories in testdata.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Skip realworld tests when running in short mode.
		if strings.HasPrefix(entry.Name(), "realworld-") && testing.Short() {
			continue
		}

		dir := filepath.Join(root, entry.Name())

		// Go cases and model.yaml cases both carry an expected.yaml.
		if _, err := os.Stat(filepath.Join(dir, "expected.yaml")); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}

	return testCases
}

func TestCompare(t *testing.T) {
	expected := []ExpectedFunc{
		{FuncName: "unused", Reason: "never called"},
		{FuncName: "T.Close", Reason: "no interface call", File: "writer.go"},
		{FuncName: "gone", Reason: "never called"},
	}
	actual := []DeadFunc{
		{Name: "unused", File: "case/main.go"},
		{Name: "T.Close", File: "case/other.go"},
		{Name: "extra", File: "case/main.go"},
	}

	var cr ConfigurationResult
	compare(&cr, expected, actual)
	require.False(t, cr.Success)
	require.Equal(t, "Test failed: 1 missing, 1 unexpected", cr.Message)
	require.Equal(t, []string{
		`File mismatch for T.Close: expected file ending with "writer.go", got "case/other.go"`,
		"Should have been marked dead: gone (never called)",
		"Should have been marked reachable: extra",
	}, cr.Details)

	cr = ConfigurationResult{}
	compare(&cr, expected[:1], actual[:1])
	require.True(t, cr.Success)
	require.Empty(t, cr.Details)
}
