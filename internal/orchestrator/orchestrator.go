package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phone-agent/internal/agent"
	"phone-agent/internal/calls"
	"phone-agent/internal/events"
	"phone-agent/internal/guard"
	"phone-agent/internal/telephony"
	"phone-agent/pkg/logger"
)

var (
	// ErrResolution means a webhook could not be tied to a call record.
	ErrResolution     = errors.New("orchestrator: call could not be resolved")
	ErrInvalidRequest = errors.New("orchestrator: invalid request")
	ErrProvider       = errors.New("orchestrator: telephony provider failed")
)

var _ telephony.TurnProcessor = (*Orchestrator)(nil)

const (
	DefaultTurnTimeout    = 8 * time.Second
	DefaultSummaryTimeout = 20 * time.Second
	DefaultDedupeWindow   = 2 * time.Minute
)

type Config struct {
	TurnTimeout    time.Duration
	SummaryTimeout time.Duration
	DedupeWindow   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = DefaultSummaryTimeout
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = DefaultDedupeWindow
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Store, Generator and
// Summarizer are required; the rest fall back to in-process defaults.
type Deps struct {
	Store      calls.Store
	Generator  agent.Generator
	Summarizer agent.SummaryGenerator
	Locker     guard.Locker
	Replay     guard.ReplayCache
	Events     events.Publisher
	Logger     *slog.Logger
}

// Orchestrator drives the per-call state machine: it answers voice turns,
// applies provider status changes and runs finalization at most once.
//
// Every mutation for a call happens while holding that call's lock, so a
// turn and a status callback for the same call never interleave.
type Orchestrator struct {
	store  calls.Store
	gen    agent.Generator
	sum    agent.SummaryGenerator
	locker guard.Locker
	replay guard.ReplayCache
	events events.Publisher
	log    *slog.Logger
	cfg    Config
	now    func() time.Time

	wg sync.WaitGroup
}

func New(d Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case d.Generator == nil:
		return nil, errors.New("orchestrator: turn generator is required")
	case d.Summarizer == nil:
		return nil, errors.New("orchestrator: summarizer is required")
	}
	o := &Orchestrator{
		store:  d.Store,
		gen:    d.Generator,
		sum:    d.Summarizer,
		locker: d.Locker,
		replay: d.Replay,
		events: d.Events,
		log:    d.Logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	if o.locker == nil {
		o.locker = guard.NewMemoryLocker()
	}
	if o.replay == nil {
		o.replay = guard.NewMemoryReplayCache()
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o, nil
}

// WithClock overrides the time source for status and finalization stamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Wait blocks until background finalizations finish or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lockKey(callID string) string { return "call:" + callID }

// logFor prefers the request-scoped logger carried by ctx.
func (o *Orchestrator) logFor(ctx context.Context) *slog.Logger {
	if l := logger.From(ctx); l != slog.Default() {
		return l
	}
	return o.log
}

// applyStatus moves the call forward to next. Stale or duplicate updates are
// silent no-ops.
func (o *Orchestrator) applyStatus(ctx context.Context, callID string, next calls.Status) (calls.StatusChange, error) {
	ch, err := o.store.UpdateStatus(ctx, calls.StatusUpdate{CallID: callID, Status: next, At: o.now()})
	if err != nil {
		return ch, fmt.Errorf("update status: %w", err)
	}
	if ch.Found {
		observeTransition(next, ch.Applied)
	}
	return ch, nil
}
