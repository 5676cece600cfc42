// Package scheduler implements the adaptive commit control loop of the
// translation engine.
//
// The scheduler observes audio activity recorded by the capture callback,
// decides on each tick whether to flush buffered audio for translation, and
// tunes its own pacing from observed response latency. It is deliberately a
// self-rescheduling loop rather than a fixed-rate timer: each tick re-arms
// only after completing, so no two ticks ever run concurrently and interval
// changes take effect on the very next sleep.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/crcostac/lingostream/internal/observe"
)

// Committer is the subset of streaming-session operations the scheduler
// drives. All three calls are fire-and-forget sends on the session's outbound
// queue.
type Committer interface {
	// Commit finalises the currently buffered input server-side.
	Commit() error

	// CreateResponse requests a translation for the committed input.
	CreateResponse() error

	// ClearInput discards uncommitted input server-side.
	ClearInput() error
}

// Option is a functional option for configuring a [Scheduler].
type Option func(*Scheduler)

// WithMetrics attaches metric instruments. When not supplied, the scheduler
// records to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler runs the adaptive commit loop against one streaming session.
// State transitions live in [State]; the Scheduler translates decisions into
// session calls and logs/metrics, always after the state lock is released.
type Scheduler struct {
	state   *State
	session Committer
	metrics *observe.Metrics
}

// New creates a Scheduler driving session from state.
func New(state *State, session Committer, opts ...Option) *Scheduler {
	s := &Scheduler{
		state:   state,
		session: session,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run executes the commit loop until ctx is cancelled: sleep for the current
// commit interval, execute one tick, recompute the sleep from the possibly
// adjusted interval, repeat.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.state.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Tick(time.Now())
			timer.Reset(s.state.Interval())
		}
	}
}

// Tick evaluates one scheduling decision and performs the resulting session
// calls. Exported so tests can drive the loop with explicit timestamps.
func (s *Scheduler) Tick(now time.Time) {
	ctx := context.Background()

	switch s.state.BeginTick(now) {
	case DecisionClearOverload:
		slog.Warn("translation backlog at limit; clearing buffered input",
			"pending", s.state.Pending(),
		)
		if err := s.session.ClearInput(); err != nil {
			slog.Warn("clear input buffer failed", "err", err)
		}
		s.metrics.Overloads.Add(ctx, 1)
		s.metrics.RecordSkip(ctx, "overload")

	case DecisionCommit:
		ctx, span := observe.StartSpan(ctx, "scheduler.commit")
		defer span.End()
		if err := s.session.Commit(); err != nil {
			slog.Warn("commit failed", "err", err)
			// The pending count was incremented in BeginTick; undo it so a
			// dead session cannot wedge the overload guard.
			s.state.ResolveError()
			return
		}
		if err := s.session.CreateResponse(); err != nil {
			slog.Warn("response request failed", "err", err)
			s.state.ResolveError()
			return
		}
		s.metrics.RecordCommit(ctx)
		slog.Debug("committed buffered audio",
			"pending", s.state.Pending(),
			"interval", s.state.Interval(),
		)

	case DecisionSkipSilent:
		s.metrics.RecordSkip(ctx, "silent")

	case DecisionDefer:
		s.metrics.RecordSkip(ctx, "defer")
	}
}

// RecordAudio forwards captured-audio activity into the shared state and
// metrics. Called by the capture path on every delivered chunk.
func (s *Scheduler) RecordAudio(n int, now time.Time) {
	s.state.RecordAudio(n, now)
	s.metrics.AudioBytesSent.Add(context.Background(), int64(n))
}

// OnResponseDone records the completion of one outstanding translation
// request and applies latency feedback to the commit interval.
func (s *Scheduler) OnResponseDone(now time.Time) {
	latency, interval := s.state.ResolveResponse(now)
	s.metrics.RecordResponse(context.Background(), latency, interval)
	slog.Debug("translation response completed",
		"latency", latency,
		"interval", interval,
		"pending", s.state.Pending(),
	)
}

// OnResponseError resolves one outstanding request after a remote protocol
// error. The interval is left unchanged.
func (s *Scheduler) OnResponseError() {
	s.state.ResolveError()
	s.metrics.RecordProtocolError(context.Background())
}
