package universe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/715d/reachable/pkg/graphcache"
)

func (u *Universe) newGraphCache(m *MethodNode) *graphcache.Cache[Graph] {
	return graphcache.New(graphcache.Config{
		Name:           m.String(),
		Stage1Required: func() bool { return u.opts.Stage1Required(m) },
		Observer:       graphObserver{},
	}, m.produceGraph)
}

func (m *MethodNode) produceGraph(ctx context.Context, stage graphcache.Stage) (Graph, error) {
	p := m.u.opts.GraphProducer
	if p == nil {
		return nil, fmt.Errorf("graph of %s: %w", m, ErrNoGraphProducer)
	}
	ctx, span := startGraphSpan(ctx, m, stage)
	defer span.End()

	g, err := p.Produce(ctx, m, stage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("produce %s graph of %s: %w", stage, m, err)
	}
	return g, nil
}

// Graph returns m's graph at stage, producing it at most once. Concurrent
// callers wait for the goroutine producing it. After Cleanup it returns a
// nil graph and a nil error.
func (m *MethodNode) Graph(ctx context.Context, stage graphcache.Stage) (Graph, error) {
	return m.graph.Parse(ctx, stage)
}

// ReparseGraph produces the finalized graph again from scratch and
// publishes it for both stages.
func (m *MethodNode) ReparseGraph(ctx context.Context) (Graph, error) {
	return m.graph.Reparse(ctx)
}

// GraphState returns the cache state of stage.
func (m *MethodNode) GraphState(stage graphcache.Stage) graphcache.Kind {
	return m.graph.State(stage)
}

// PeekGraph returns the graph at stage if it is already parsed.
func (m *MethodNode) PeekGraph(stage graphcache.Stage) (Graph, bool) {
	return m.graph.Peek(stage)
}
