// Package graphcache caches an expensive, two-stage derived artifact (a
// parsed program graph) so that each stage is computed at most once while
// other goroutines wait for, or safely recurse into, the computation.
//
// Each stage slot holds a tagged state swapped by compare-and-swap:
//
//	Unparsed -> Parsing(lock) -> Parsed(artifact) | Failed(err)
//	any non-parsing state -> Cleared (terminal)
//
// The cache maintains the invariant that Finalized is never observed Parsed
// while Decoded is not Parsed.
package graphcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/715d/reachable/pkg/reach"
)

// Stage is one of the two ordered steps of producing an artifact.
type Stage int

const (
	// Decoded is the first stage: the raw decoded graph.
	Decoded Stage = iota
	// Finalized is the second stage: the graph after all analysis-time
	// transformations.
	Finalized
)

const numStages = 2

func (s Stage) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Kind is the tag of a stage slot.
type Kind int

const (
	Unparsed Kind = iota
	Parsing
	Parsed
	Failed
	Cleared
)

var kindNames = [...]string{"unparsed", "parsing", "parsed", "failed", "cleared"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ErrCleared is reported when a stage that another stage depends on was
// cleared before it could be used.
var ErrCleared = errors.New("graph cache cleared")

// ErrFailedElsewhere matches every *FailedElsewhereError with errors.Is.
var ErrFailedElsewhere = errors.New("parse failed elsewhere")

// FailedElsewhereError is returned to every caller that observes a stage
// whose computation failed in another call. The original cause is
// available through errors.Unwrap.
type FailedElsewhereError struct {
	Name  string
	Stage Stage
	Err   error
}

func (e *FailedElsewhereError) Error() string {
	return fmt.Sprintf("parsing %s (%s) previously failed in another goroutine: %v", e.Name, e.Stage, e.Err)
}

func (e *FailedElsewhereError) Unwrap() error { return e.Err }

func (e *FailedElsewhereError) Is(target error) bool { return target == ErrFailedElsewhere }

// Producer computes the artifact for a stage. When asked for Finalized with
// the Decoded slot also claimed, it must produce a Finalized artifact from
// scratch; that artifact is published for both stages.
type Producer[A any] func(ctx context.Context, stage Stage) (A, error)

// Observer receives cache events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ParseStarted(stage Stage)
	ParseFinished(stage Stage, dur time.Duration, err error)
	Waited(stage Stage)
}

// Config configures a Cache.
type Config struct {
	// Name identifies the cached entity in errors and diagnostics.
	Name string

	// Stage1Required reports whether the Decoded stage must be published
	// on its own before Finalized is computed. When nil or false, a request
	// for Finalized opportunistically claims an unparsed Decoded slot and
	// publishes one result to both.
	Stage1Required func() bool

	// Observer, if set, is notified of parses and waits.
	Observer Observer
}

type lock struct {
	done chan struct{}
}

type state[A any] struct {
	kind     Kind
	lock     *lock
	artifact A
	err      error
}

// Cache is a two-stage lockable artifact cache. The zero value is not
// usable; create one with New.
type Cache[A any] struct {
	cfg     Config
	produce Producer[A]
	slots   [numStages]atomic.Pointer[state[A]] // nil means Unparsed
}

// New returns an empty cache computing artifacts with produce.
func New[A any](cfg Config, produce Producer[A]) *Cache[A] {
	return &Cache[A]{cfg: cfg, produce: produce}
}

func kindOf[A any](s *state[A]) Kind {
	if s == nil {
		return Unparsed
	}
	return s.kind
}

func (c *Cache[A]) stage1Required() bool {
	return c.cfg.Stage1Required != nil && c.cfg.Stage1Required()
}

// State returns the current tag of stage.
func (c *Cache[A]) State(stage Stage) Kind {
	return kindOf(c.slots[stage].Load())
}

// Peek returns the artifact of stage if it is parsed, without blocking.
func (c *Cache[A]) Peek(stage Stage) (A, bool) {
	s := c.slots[stage].Load()
	if kindOf(s) == Parsed {
		return s.artifact, true
	}
	var zero A
	return zero, false
}

// Parse ensures stage is parsed and returns its artifact. It blocks while
// another goroutine is parsing the same stage. Once the cache is cleared,
// Parse returns the zero artifact and a nil error.
//
// Parse panics with a *reach.DeadlockError if ctx shows that the current
// call chain already holds the lock it would wait on.
func (c *Cache[A]) Parse(ctx context.Context, stage Stage) (A, error) {
	var zero A
	for {
		cur := c.slots[stage].Load()
		switch kindOf(cur) {
		case Unparsed:
			if stage == Finalized {
				s1 := c.slots[Decoded].Load()
				switch {
				case kindOf(s1) == Failed:
					return zero, c.failedElsewhere(Decoded, s1.err)
				case kindOf(s1) == Cleared:
					return zero, nil
				case c.stage1Required() && kindOf(s1) != Parsed:
					if _, err := c.Parse(ctx, Decoded); err != nil {
						return zero, err
					}
					continue
				}
			}
			l := &lock{done: make(chan struct{})}
			claim := &state[A]{kind: Parsing, lock: l}
			if !c.slots[stage].CompareAndSwap(cur, claim) {
				continue
			}
			both := false
			if stage == Finalized && !c.stage1Required() {
				s1 := c.slots[Decoded].Load()
				both = kindOf(s1) == Unparsed && c.slots[Decoded].CompareAndSwap(s1, claim)
			}
			return c.run(ctx, stage, claim, both)
		case Parsing:
			if err := c.wait(ctx, stage, cur.lock); err != nil {
				return zero, err
			}
		case Parsed:
			return cur.artifact, nil
		case Failed:
			return zero, c.failedElsewhere(stage, cur.err)
		case Cleared:
			return zero, nil
		}
	}
}

// Reparse recomputes the Finalized stage from scratch, without reusing any
// earlier Decoded artifact, and republishes both stages to the fresh
// result.
func (c *Cache[A]) Reparse(ctx context.Context) (A, error) {
	var zero A
	for {
		s2 := c.slots[Finalized].Load()
		switch kindOf(s2) {
		case Cleared:
			return zero, nil
		case Parsing:
			if err := c.wait(ctx, Finalized, s2.lock); err != nil {
				return zero, err
			}
			continue
		}
		l := &lock{done: make(chan struct{})}
		claim := &state[A]{kind: Parsing, lock: l}
		if !c.slots[Finalized].CompareAndSwap(s2, claim) {
			continue
		}
		// Finalized is ours; Decoded can only be parsing by a goroutine
		// that claimed it on its own.
		for {
			s1 := c.slots[Decoded].Load()
			if kindOf(s1) == Parsing {
				if err := c.wait(ctx, Decoded, s1.lock); err != nil {
					mustSwap(&c.slots[Finalized], claim, s2, c.cfg.Name)
					close(l.done)
					return zero, err
				}
				continue
			}
			if c.slots[Decoded].CompareAndSwap(s1, claim) {
				break
			}
		}
		return c.run(ctx, Finalized, claim, true)
	}
}

// Clear moves both stages to the terminal Cleared state, waiting for any
// parse in progress. Finalized is cleared first so the stage invariant
// holds throughout.
func (c *Cache[A]) Clear() {
	done := &state[A]{kind: Cleared}
	for _, stage := range []Stage{Finalized, Decoded} {
		for {
			cur := c.slots[stage].Load()
			switch kindOf(cur) {
			case Cleared:
			case Parsing:
				<-cur.lock.done
				continue
			default:
				if !c.slots[stage].CompareAndSwap(cur, done) {
					continue
				}
			}
			break
		}
	}
}

// run calls the producer for a claimed slot (or both slots) and publishes
// the outcome. The lock is released on every path, including a producer
// panic, which is recorded as the failed state and then re-raised.
func (c *Cache[A]) run(ctx context.Context, stage Stage, claim *state[A], both bool) (A, error) {
	var zero A
	published := false
	defer func() {
		if published {
			return
		}
		r := recover()
		err := fmt.Errorf("producer for %s (%s) panicked: %v", c.cfg.Name, stage, r)
		c.publish(stage, claim, both, &state[A]{kind: Failed, err: err})
		close(claim.lock.done)
		panic(r)
	}()

	if c.cfg.Observer != nil {
		c.cfg.Observer.ParseStarted(stage)
	}
	start := time.Now()
	cctx := withHeld(ctx, claim.lock)
	artifact, err := c.produce(cctx, stage)
	if err == nil && stage == Finalized && !both {
		err = c.awaitDecoded(cctx)
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.ParseFinished(stage, time.Since(start), err)
	}

	next := &state[A]{kind: Parsed, artifact: artifact}
	if err != nil {
		next = &state[A]{kind: Failed, err: err}
	}
	c.publish(stage, claim, both, next)
	published = true
	close(claim.lock.done)

	if err != nil {
		return zero, err
	}
	return artifact, nil
}

// awaitDecoded makes sure Decoded is parsed before Finalized is published
// on its own.
func (c *Cache[A]) awaitDecoded(ctx context.Context) error {
	if kindOf(c.slots[Decoded].Load()) == Parsed {
		return nil
	}
	if _, err := c.Parse(ctx, Decoded); err != nil {
		return err
	}
	if kindOf(c.slots[Decoded].Load()) != Parsed {
		return ErrCleared
	}
	return nil
}

// publish replaces the claim with next. Decoded is published before
// Finalized. The swaps cannot fail because the claim owns the slots.
func (c *Cache[A]) publish(stage Stage, claim *state[A], both bool, next *state[A]) {
	if both {
		mustSwap(&c.slots[Decoded], claim, next, c.cfg.Name)
	}
	mustSwap(&c.slots[stage], claim, next, c.cfg.Name)
}

func mustSwap[A any](slot *atomic.Pointer[state[A]], old, next *state[A], name string) {
	if !slot.CompareAndSwap(old, next) {
		panic(fmt.Sprintf("graphcache: %s: claimed slot was modified by another goroutine", name))
	}
}

func (c *Cache[A]) wait(ctx context.Context, stage Stage, l *lock) error {
	if isHeld(ctx, l) {
		panic(&reach.DeadlockError{Op: "parse " + stage.String() + " graph", Holder: c.cfg.Name})
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.Waited(stage)
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s (%s): %w", c.cfg.Name, stage, ctx.Err())
	}
}

func (c *Cache[A]) failedElsewhere(stage Stage, err error) error {
	return &FailedElsewhereError{Name: c.cfg.Name, Stage: stage, Err: err}
}

type heldKey struct{}

// held is the chain of parse locks owned by the current call chain.
type held struct {
	lock *lock
	next *held
}

func withHeld(ctx context.Context, l *lock) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*held)
	return context.WithValue(ctx, heldKey{}, &held{lock: l, next: parent})
}

func isHeld(ctx context.Context, l *lock) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.next {
		if h.lock == l {
			return true
		}
	}
	return false
}
