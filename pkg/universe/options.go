package universe

import (
	"context"
	"log/slog"
	"time"

	"github.com/715d/reachable/pkg/graphcache"
	"github.com/715d/reachable/pkg/layer"
)

// Executor runs notification callbacks. Post must not run task on the
// calling goroutine.
type Executor interface {
	Post(task func())
}

// Graph is the parsed representation of a method body. Its shape belongs to
// the GraphProducer.
type Graph any

// GraphProducer builds the graph of a method for one stage. When asked for
// graphcache.Finalized it must not rely on an earlier Decoded result.
type GraphProducer interface {
	Produce(ctx context.Context, m *MethodNode, stage graphcache.Stage) (Graph, error)
}

// Options holds configuration options for a Universe.
type Options struct {
	Executor      Executor
	GraphProducer GraphProducer
	Logger        *slog.Logger
	Listener      Listener
	Layer         layer.Loader

	// Start ids for layered builds. Ids below these belong to a base layer.
	StartTypeID, StartMethodID, StartFieldID int

	// AccessTracking records every reason a field was read or written.
	AccessTracking bool

	// Stage1Required reports whether a method's decoded graph must be
	// published on its own. Defaults to type initializers only.
	Stage1Required func(*MethodNode) bool

	// ClaimBackoff caps the sleep between polls of another goroutine's
	// creation claim.
	ClaimBackoff time.Duration
}

// Option configures a Universe.
type Option func(*Options)

func WithExecutor(e Executor) Option { return func(o *Options) { o.Executor = e } }

func WithGraphProducer(p GraphProducer) Option { return func(o *Options) { o.GraphProducer = p } }

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithListener(l Listener) Option { return func(o *Options) { o.Listener = l } }

// WithLayer builds the universe on top of a persisted base layer. Its
// metadata raises the start ids and its records are replayed as nodes are
// created.
func WithLayer(l layer.Loader) Option { return func(o *Options) { o.Layer = l } }

// WithStartIDs sets the first id handed out per node kind.
func WithStartIDs(types, methods, fields int) Option {
	return func(o *Options) {
		o.StartTypeID, o.StartMethodID, o.StartFieldID = types, methods, fields
	}
}

func WithAccessTracking(on bool) Option { return func(o *Options) { o.AccessTracking = on } }

func WithStage1Required(fn func(*MethodNode) bool) Option {
	return func(o *Options) { o.Stage1Required = fn }
}

func WithClaimBackoff(max time.Duration) Option { return func(o *Options) { o.ClaimBackoff = max } }

const defaultClaimBackoff = time.Millisecond
