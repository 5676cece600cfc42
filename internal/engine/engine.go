// Package engine ties capture, streaming session, scheduler, and playback
// together behind a start/stop facade.
//
// The engine owns four moving parts: an audio source feeding captured PCM into
// the session, the streaming session itself, the adaptive commit scheduler
// pacing translation requests, and an audio sink playing synthesised output.
// Consumers observe results through three read-only channels: translated text
// deltas, synthesised audio, and errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crcostac/lingostream/internal/observe"
	"github.com/crcostac/lingostream/internal/scheduler"
	"github.com/crcostac/lingostream/pkg/audio"
	"github.com/crcostac/lingostream/pkg/realtime"
)

// Phase is the engine lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConfiguring
	PhaseActive
	PhaseStopping
	PhaseClosed
	PhaseFailed
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConfiguring:
		return "configuring"
	case PhaseActive:
		return "active"
	case PhaseStopping:
		return "stopping"
	case PhaseClosed:
		return "closed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Start when the engine has left the idle
// phase. An engine runs at most one session; create a new engine to start over.
var ErrAlreadyStarted = errors.New("engine: already started")

// ErrConnectionLost is the terminal error delivered on the error channel when
// the session ends while the engine is active. The engine does not reconnect.
var ErrConnectionLost = errors.New("engine: session connection lost")

// Session is the subset of streaming-session behaviour the engine drives.
// Satisfied by [*realtime.Session].
type Session interface {
	SendAudio(pcm []byte) error
	Commit() error
	CreateResponse() error
	ClearInput() error
	Events() <-chan realtime.Event
	Err() error
	Close() error
}

// Dialer establishes the streaming session during Start.
type Dialer func(ctx context.Context) (Session, error)

// SourceBuilder constructs the capture source with the engine's chunk and
// error callbacks wired in. Called once during Start. onError must accept
// calls from the capture goroutine; the engine forwards them to the error
// channel.
type SourceBuilder func(onChunk func(audio.Chunk), onError func(error)) (audio.Source, error)

// SinkBuilder constructs the playback sink with the engine's error callback
// wired in. Called once during Start.
type SinkBuilder func(onError func(error)) (audio.Sink, error)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTuning overrides the scheduler tuning. Zero-valued fields keep their
// defaults.
func WithTuning(t scheduler.Tuning) Option {
	return func(e *Engine) { e.tuning = t }
}

// WithMetrics attaches metric instruments. When not supplied, the engine
// records to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithChannelBuffer sets the capacity of the text, audio, and error channels.
// The default is 256.
func WithChannelBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chanBuf = n
		}
	}
}

// Engine is the translation engine facade.
type Engine struct {
	dial      Dialer
	newSource SourceBuilder
	newSink   SinkBuilder
	tuning    scheduler.Tuning
	metrics   *observe.Metrics
	chanBuf   int

	phase      atomic.Int32
	configured atomic.Bool

	mu     sync.Mutex
	sess   Session
	source audio.Source
	sink   audio.Sink
	sched  *scheduler.Scheduler
	state  *scheduler.State
	cancel context.CancelFunc

	pumpWg       sync.WaitGroup
	teardownOnce sync.Once
	teardownErr  error

	text   chan string
	audioC chan []byte
	errs   chan error
}

// New creates an Engine. dial establishes the session, newSource builds the
// capture source, and newSink builds the playback sink. None may be nil.
func New(dial Dialer, newSource SourceBuilder, newSink SinkBuilder, opts ...Option) (*Engine, error) {
	if dial == nil {
		return nil, errors.New("engine: dial is required")
	}
	if newSource == nil {
		return nil, errors.New("engine: newSource is required")
	}
	if newSink == nil {
		return nil, errors.New("engine: newSink is required")
	}

	e := &Engine{
		dial:      dial,
		newSource: newSource,
		newSink:   newSink,
		chanBuf:   256,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	e.text = make(chan string, e.chanBuf)
	e.audioC = make(chan []byte, e.chanBuf)
	e.errs = make(chan error, e.chanBuf)
	return e, nil
}

// Text streams translated text deltas in arrival order. Closed when the
// engine stops or fails.
func (e *Engine) Text() <-chan string { return e.text }

// Audio streams synthesised PCM audio. The playback sink receives every
// chunk; this channel is a best-effort tap and drops chunks when the consumer
// falls behind. Closed when the engine stops or fails.
func (e *Engine) Audio() <-chan []byte { return e.audioC }

// Errors streams non-fatal session and audio device errors and, on connection
// loss, one terminal error. Closed when the engine stops or fails.
func (e *Engine) Errors() <-chan error { return e.errs }

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// IsActive reports whether the engine is streaming.
func (e *Engine) IsActive() bool { return e.Phase() == PhaseActive }

// IsConfigured reports whether the session configuration has been sent to the
// remote service.
func (e *Engine) IsConfigured() bool { return e.configured.Load() }

// Start connects the session, opens the audio devices, and begins streaming.
// ctx governs connection establishment only; the running engine is stopped via
// [Engine.Stop]. Start can be called once; a failed start leaves the engine in
// the failed phase.
func (e *Engine) Start(ctx context.Context) error {
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseConnecting)) {
		return ErrAlreadyStarted
	}

	ctx, span := observe.StartSpan(ctx, "engine.start")
	defer span.End()

	sess, err := e.dial(ctx)
	if err != nil {
		e.phase.Store(int32(PhaseFailed))
		e.closeOutputs()
		return fmt.Errorf("engine: connect session: %w", err)
	}

	// The session configuration goes out as part of dialling; from here on the
	// remote knows what to do with committed audio.
	e.phase.Store(int32(PhaseConfiguring))
	e.configured.Store(true)

	sink, err := e.newSink(e.deviceError("playback"))
	if err == nil {
		err = sink.Start()
	}
	if err != nil {
		e.phase.Store(int32(PhaseFailed))
		_ = sess.Close()
		e.closeOutputs()
		return fmt.Errorf("engine: start playback: %w", err)
	}

	state := scheduler.NewState(e.tuning)
	sched := scheduler.New(state, sess, scheduler.WithMetrics(e.metrics))

	source, err := e.newSource(e.handleChunk, e.deviceError("capture"))
	if err == nil {
		err = source.Start()
	}
	if err != nil {
		e.phase.Store(int32(PhaseFailed))
		_ = sess.Close()
		_ = sink.Stop()
		e.closeOutputs()
		return fmt.Errorf("engine: start capture: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.sess = sess
	e.source = source
	e.sink = sink
	e.sched = sched
	e.state = state
	e.cancel = cancel
	e.mu.Unlock()

	go sched.Run(runCtx)
	e.pumpWg.Add(1)
	go e.pump(sess, sched, sink)

	e.phase.Store(int32(PhaseActive))
	slog.Info("engine started",
		"commit_interval", state.Interval(),
	)
	return nil
}

// Stop tears the engine down in order: scheduler, capture, session, playback.
// Each step is attempted even when an earlier one fails; the joined error is
// returned. Stop is idempotent.
func (e *Engine) Stop() error {
	switch e.Phase() {
	case PhaseIdle:
		e.phase.Store(int32(PhaseClosed))
		e.closeOutputs()
		return nil
	case PhaseClosed:
		return nil
	case PhaseActive, PhaseConfiguring, PhaseConnecting:
		e.phase.Store(int32(PhaseStopping))
	}

	err := e.teardown()
	e.pumpWg.Wait()

	if e.Phase() != PhaseFailed {
		e.phase.Store(int32(PhaseClosed))
	}
	slog.Info("engine stopped", "phase", e.Phase().String())
	return err
}

// teardown stops scheduler, capture, session, and playback exactly once,
// collecting all errors.
func (e *Engine) teardown() error {
	e.teardownOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		source := e.source
		sess := e.sess
		sink := e.sink
		e.mu.Unlock()

		var errs []error
		if cancel != nil {
			cancel()
		}
		if source != nil {
			if err := source.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop capture: %w", err))
			}
		}
		if sess != nil {
			if err := sess.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close session: %w", err))
			}
		}
		if sink != nil {
			if err := sink.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop playback: %w", err))
			}
		}
		e.teardownErr = errors.Join(errs...)
	})
	return e.teardownErr
}

// closeOutputs closes the three consumer channels. Safe to call once; callers
// coordinate via the lifecycle phase so only one path closes them.
func (e *Engine) closeOutputs() {
	close(e.text)
	close(e.audioC)
	close(e.errs)
}

// handleChunk is the capture callback: it forwards PCM to the session and
// records activity for the scheduler. It never blocks on the network beyond
// the session's outbound queue.
func (e *Engine) handleChunk(c audio.Chunk) {
	e.mu.Lock()
	sess := e.sess
	sched := e.sched
	e.mu.Unlock()
	if sess == nil || sched == nil {
		return
	}

	if err := sess.SendAudio(c.Data); err != nil {
		e.offerError(fmt.Errorf("engine: send audio: %w", err))
		return
	}
	sched.RecordAudio(len(c.Data), c.CapturedAt)
}

// deviceError builds the error callback handed to an audio device builder.
// Device failures after a successful start (a capture read error, a playback
// write error) are forwarded to the error channel so the caller learns the
// stream has degraded.
func (e *Engine) deviceError(stage string) func(error) {
	return func(err error) {
		e.offerError(fmt.Errorf("engine: %s: %w", stage, err))
	}
}

// pump drains session events into the sink, the scheduler, and the consumer
// channels until the session's event channel closes. It is the only closer of
// the consumer channels once the engine has started.
func (e *Engine) pump(sess Session, sched *scheduler.Scheduler, sink audio.Sink) {
	defer e.pumpWg.Done()
	defer e.closeOutputs()

	for ev := range sess.Events() {
		switch ev.Type {
		case realtime.EventTextDelta:
			select {
			case e.text <- ev.Text:
			default:
				slog.Warn("text consumer behind; dropping delta")
			}

		case realtime.EventAudioDelta:
			sink.Enqueue(audio.Chunk{Data: ev.Audio, CapturedAt: time.Now()})
			select {
			case e.audioC <- ev.Audio:
			default:
			}

		case realtime.EventInputTranscript:
			slog.Info("input transcript", "text", ev.Text)

		case realtime.EventResponseDone:
			sched.OnResponseDone(time.Now())

		case realtime.EventServerError:
			sched.OnResponseError()
			e.offerError(fmt.Errorf("engine: remote error %s: %s", ev.Code, ev.Message))

		case realtime.EventSessionUpdated:
			slog.Debug("session configuration acknowledged")
		}
	}

	// The event channel closed. During an orderly stop that is expected;
	// otherwise the connection is gone and the engine cannot continue.
	if e.Phase() == PhaseActive {
		e.phase.Store(int32(PhaseFailed))
		cause := sess.Err()
		if cause == nil {
			cause = ErrConnectionLost
		} else {
			cause = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
		}
		e.offerError(cause)
		slog.Error("session ended unexpectedly", "err", cause)
		_ = e.teardown()
	}
}

// offerError delivers err on the error channel without blocking.
func (e *Engine) offerError(err error) {
	select {
	case e.errs <- err:
	default:
		slog.Warn("error consumer behind; dropping", "err", err)
	}
}
