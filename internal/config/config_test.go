package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, c *Config)
		wantErr string
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, c *Config) {
				require.Equal(t, Default(), c)
			},
		},
		{
			name: "full",
			yaml: `
packages: ["./..."]
workers: 8
build_tags: [integration]
strict: true
seal: true
layer:
  in: base.db
  out: next.db
  name: next
metrics:
  exporter: prometheus
  path: metrics.prom
`,
			check: func(t *testing.T, c *Config) {
				require.Equal(t, []string{"./..."}, c.Packages)
				require.Equal(t, 8, c.Workers)
				require.True(t, c.Strict)
				require.True(t, c.Seal)
				require.True(t, c.SkipGenerated, "defaults survive")
				require.Equal(t, Layer{In: "base.db", Out: "next.db", Name: "next"}, c.Layer)
				require.Equal(t, ExporterPrometheus, c.Metrics.Exporter)
			},
		},
		{
			name:    "negative workers",
			yaml:    "workers: -1",
			wantErr: "Workers",
		},
		{
			name:    "unknown exporter",
			yaml:    "metrics: {exporter: statsd}",
			wantErr: "oneof",
		},
		{
			name:    "prometheus needs a path",
			yaml:    "metrics: {exporter: prometheus}",
			wantErr: "required_if",
		},
		{
			name:    "layer out cannot overwrite layer in",
			yaml:    "layer: {in: a.db, out: a.db, name: x}",
			wantErr: "nefield",
		},
		{
			name:    "layer out needs a name",
			yaml:    "layer: {out: a.db, name: \"\"}",
			wantErr: "required_with",
		},
		{
			name:    "empty build tag",
			yaml:    `build_tags: [""]`,
			wantErr: "required",
		},
		{
			name:    "unknown key",
			yaml:    "wrokers: 2",
			wantErr: "parse config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reachable.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, c.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}
