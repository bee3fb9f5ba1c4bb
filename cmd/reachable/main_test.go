package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/reachable/internal/config"
)

func TestIsModelFile(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"model.yaml"}, true},
		{[]string{"testdata/zoo.YML"}, true},
		{[]string{"./..."}, false},
		{[]string{"a.yaml", "b.yaml"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, isModelFile(tt.args), "%v", tt.args)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	saved := *cfg
	t.Cleanup(func() {
		*cfg = saved
		configPath = ""
	})

	path := filepath.Join(t.TempDir(), "reachable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
strict: false
build_tags: [fromfile]
layer:
  name: nightly
`), 0o600))

	root := newRootCommand()
	cmd, _, err := root.Find([]string{"analyze"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--strict", "--build-tags", "a,b"}))
	require.NoError(t, loadConfig(cmd))

	require.Equal(t, 3, cfg.Workers, "from file")
	require.Equal(t, "nightly", cfg.Layer.Name, "from file")
	require.True(t, cfg.Strict, "flag wins")
	require.Equal(t, []string{"a", "b"}, cfg.BuildTags, "flag wins")
	require.Equal(t, config.ExporterNone, cfg.Metrics.Exporter)
}
