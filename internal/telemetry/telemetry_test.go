package telemetry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/715d/reachable/internal/config"
)

func TestSetup_None(t *testing.T) {
	shutdown, err := Setup(t.Context(), config.Metrics{Exporter: config.ExporterNone}, "run", "dev", nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(t.Context()))
}

func TestSetup_Unknown(t *testing.T) {
	_, err := Setup(t.Context(), config.Metrics{Exporter: "statsd"}, "run", "dev", nil)
	require.ErrorIs(t, err, ErrUnknownExporter)
}

func TestSetup_Prometheus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")
	shutdown, err := Setup(t.Context(), config.Metrics{Exporter: config.ExporterPrometheus, Path: path}, "run", "dev", nil)
	require.NoError(t, err)

	counter, err := otel.Meter("reachable.test").Int64Counter("test_events_total")
	require.NoError(t, err)
	counter.Add(t.Context(), 3)

	require.NoError(t, shutdown(t.Context()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "test_events_total")
}

func TestSetup_Stdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(t.Context(), config.Metrics{Exporter: config.ExporterStdout}, "run", "dev", &buf)
	require.NoError(t, err)

	counter, err := otel.Meter("reachable.test").Int64Counter("stdout_events_total")
	require.NoError(t, err)
	counter.Add(t.Context(), 1)

	require.NoError(t, shutdown(t.Context()))
	require.Contains(t, buf.String(), "stdout_events_total")
}
