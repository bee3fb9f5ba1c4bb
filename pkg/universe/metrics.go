package universe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/715d/reachable/pkg/graphcache"
)

// Package-level tracer and meter for universe operations.
var (
	tracer = otel.Tracer("reachable.universe")
	meter  = otel.Meter("reachable.universe")
)

// Metrics for universe operations.
var (
	nodesCreated       metric.Int64Counter
	flagTransitions    metric.Int64Counter
	notificationsPost  metric.Int64Counter
	claimWaits         metric.Int64Counter
	graphParses        metric.Int64Counter
	graphParseWaits    metric.Int64Counter
	graphParseDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		nodesCreated, err = meter.Int64Counter(
			"universe_nodes_created_total",
			metric.WithDescription("Total number of canonical nodes created"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		flagTransitions, err = meter.Int64Counter(
			"universe_flag_transitions_total",
			metric.WithDescription("Total number of reachability flags set"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		notificationsPost, err = meter.Int64Counter(
			"universe_notifications_posted_total",
			metric.WithDescription("Total number of notification callbacks posted to the executor"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		claimWaits, err = meter.Int64Counter(
			"universe_claim_waits_total",
			metric.WithDescription("Total number of lookups that waited on another goroutine's creation claim"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphParses, err = meter.Int64Counter(
			"universe_graph_parses_total",
			metric.WithDescription("Total number of graph productions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphParseWaits, err = meter.Int64Counter(
			"universe_graph_parse_waits_total",
			metric.WithDescription("Total number of waits on another goroutine's graph parse"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		graphParseDuration, err = meter.Float64Histogram(
			"universe_graph_parse_duration_seconds",
			metric.WithDescription("Duration of graph productions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordNodeCreated(kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	nodesCreated.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordFlagSet(kind, flag string) {
	if err := initMetrics(); err != nil {
		return
	}
	flagTransitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind), attribute.String("flag", flag)),
	)
}

func recordNotificationPosted() {
	if err := initMetrics(); err != nil {
		return
	}
	notificationsPost.Add(context.Background(), 1)
}

func recordClaimWait(kind string) {
	if err := initMetrics(); err != nil {
		return
	}
	claimWaits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// graphObserver reports graph cache events as metrics.
type graphObserver struct{}

func (graphObserver) ParseStarted(stage graphcache.Stage) {
	if err := initMetrics(); err != nil {
		return
	}
	graphParses.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage.String())))
}

func (graphObserver) ParseFinished(stage graphcache.Stage, dur time.Duration, err error) {
	if initErr := initMetrics(); initErr != nil {
		return
	}
	graphParseDuration.Record(context.Background(), dur.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage.String()), attribute.Bool("failed", err != nil)),
	)
}

func (graphObserver) Waited(stage graphcache.Stage) {
	if err := initMetrics(); err != nil {
		return
	}
	graphParseWaits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", stage.String())))
}

// startGraphSpan creates a span around one graph production.
func startGraphSpan(ctx context.Context, m *MethodNode, stage graphcache.Stage) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Universe.ProduceGraph",
		trace.WithAttributes(
			attribute.String("method", m.String()),
			attribute.String("stage", stage.String()),
		),
	)
}
