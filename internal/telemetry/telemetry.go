// Package telemetry installs the OpenTelemetry meter provider that the
// universe's instruments report to.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/715d/reachable/internal/config"
)

// ErrUnknownExporter is returned for an exporter name Setup does not know.
var ErrUnknownExporter = errors.New("unknown metric exporter")

// Shutdown flushes and stops the meter provider.
type Shutdown func(context.Context) error

// Setup installs a global meter provider for cfg and returns the function
// that flushes it. The stdout exporter writes to w; the Prometheus
// exporter writes cfg.Path in the text exposition format on shutdown.
func Setup(ctx context.Context, cfg config.Metrics, runID, version string, w io.Writer) (Shutdown, error) {
	if cfg.Exporter == "" || cfg.Exporter == config.ExporterNone {
		return func(context.Context) error { return nil }, nil
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "reachable"),
		attribute.String("service.version", version),
		attribute.String("run.id", runID),
	)

	switch cfg.Exporter {
	case config.ExporterPrometheus:
		reg := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(exporter))
		otel.SetMeterProvider(mp)
		return func(ctx context.Context) error {
			werr := prometheus.WriteToTextfile(cfg.Path, reg)
			if werr != nil {
				werr = fmt.Errorf("write metrics to %s: %w", cfg.Path, werr)
			}
			return errors.Join(werr, mp.Shutdown(ctx))
		}, nil

	case config.ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		)
		otel.SetMeterProvider(mp)
		return mp.Shutdown, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
}
