package scheduler

import (
	"sync"
	"time"
)

// Tuning holds the knobs of the adaptive commit scheduler. Zero-value fields
// are replaced with defaults by [NewState].
type Tuning struct {
	// MinCommitInterval and MaxCommitInterval bound the adaptive commit
	// interval. Defaults: 1s and 5s.
	MinCommitInterval time.Duration
	MaxCommitInterval time.Duration

	// InitialCommitInterval is the interval before any latency feedback has
	// been observed. Default: 2s.
	InitialCommitInterval time.Duration

	// IntervalAdjustment is the step applied per latency observation.
	// Default: 500ms.
	IntervalAdjustment time.Duration

	// MaxPendingResponses is the outstanding-request ceiling above which ticks
	// degrade to clearing the server-side input buffer. Default: 2.
	MaxPendingResponses int

	// MinCommitBytes is the minimum accumulated audio before a commit is worth
	// issuing. Callers typically derive it from the session format
	// (≈50ms of audio). Default: 2400 (50ms of 24kHz mono PCM16).
	MinCommitBytes int

	// SilenceThreshold is how long after the last captured audio a tick is
	// treated as silent. Default: 3s.
	SilenceThreshold time.Duration
}

// withDefaults returns t with zero fields replaced by defaults.
func (t Tuning) withDefaults() Tuning {
	if t.MinCommitInterval <= 0 {
		t.MinCommitInterval = time.Second
	}
	if t.MaxCommitInterval <= 0 {
		t.MaxCommitInterval = 5 * time.Second
	}
	if t.InitialCommitInterval <= 0 {
		t.InitialCommitInterval = 2 * time.Second
	}
	if t.IntervalAdjustment <= 0 {
		t.IntervalAdjustment = 500 * time.Millisecond
	}
	if t.MaxPendingResponses <= 0 {
		t.MaxPendingResponses = 2
	}
	if t.MinCommitBytes <= 0 {
		t.MinCommitBytes = 2400
	}
	if t.SilenceThreshold <= 0 {
		t.SilenceThreshold = 3 * time.Second
	}
	return t
}

// Decision is the outcome of one scheduler tick.
type Decision int

const (
	// DecisionDefer means new audio exists but has not yet reached the commit
	// threshold; the tick takes no action and lets audio accumulate.
	DecisionDefer Decision = iota

	// DecisionCommit means buffered audio should be committed and a response
	// requested.
	DecisionCommit

	// DecisionSkipSilent means no fresh audio activity exists; the tick makes
	// no network call.
	DecisionSkipSilent

	// DecisionClearOverload means the outstanding-response ceiling is reached;
	// the server-side input buffer should be cleared instead of committing.
	DecisionClearOverload
)

// String returns the human-readable name of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionDefer:
		return "defer"
	case DecisionCommit:
		return "commit"
	case DecisionSkipSilent:
		return "skip-silent"
	case DecisionClearOverload:
		return "clear-overload"
	default:
		return "unknown"
	}
}

// State is the commit state shared by the three concurrent actors of the
// engine: the capture callback ([State.RecordAudio]), the scheduler tick
// ([State.BeginTick]), and the response receiver ([State.ResolveResponse] /
// [State.ResolveError]).
//
// All fields are guarded by one mutex, held only for the duration of field
// updates — never across a network call — so the capture callback can never
// block on I/O. Raw fields are not exposed across component boundaries; each
// method is one atomic state transition.
type State struct {
	tuning Tuning

	mu             sync.Mutex
	hasNewAudio    bool
	audioBytes     int
	lastAudioAt    time.Time
	pending        int
	interval       time.Duration
	lastCommitAt   time.Time
	lastResponseAt time.Time
}

// NewState creates a State with t (zero fields defaulted) and the commit
// interval set to the initial value.
func NewState(t Tuning) *State {
	t = t.withDefaults()
	return &State{
		tuning:   t,
		interval: t.InitialCommitInterval,
	}
}

// Tuning returns the effective (defaulted) tuning values.
func (s *State) Tuning() Tuning { return s.tuning }

// RecordAudio notes the arrival of n bytes of captured audio at time now.
// Called from the capture callback on every delivered chunk.
func (s *State) RecordAudio(n int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasNewAudio = true
	s.audioBytes += n
	s.lastAudioAt = now
}

// BeginTick evaluates the per-tick decision tree and applies the state
// transition for the chosen decision. The caller performs the corresponding
// network calls after BeginTick returns, outside the lock.
//
// Decision order:
//  1. Outstanding responses at the ceiling → clear-overload; activity counters
//     are reset so stale audio is not committed later.
//  2. Fresh audio at or above the commit threshold → commit; the pending count
//     is incremented and the commit timestamp recorded here so the invariant
//     pending >= 0 holds regardless of network outcome.
//  3. No fresh audio, or the last audio is older than the silence threshold →
//     skip, no state change.
//  4. Otherwise → defer and let audio accumulate.
func (s *State) BeginTick(now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.pending >= s.tuning.MaxPendingResponses:
		s.hasNewAudio = false
		s.audioBytes = 0
		return DecisionClearOverload

	case s.hasNewAudio && s.audioBytes >= s.tuning.MinCommitBytes:
		s.pending++
		s.lastCommitAt = now
		s.hasNewAudio = false
		s.audioBytes = 0
		return DecisionCommit

	case !s.hasNewAudio || now.Sub(s.lastAudioAt) > s.tuning.SilenceThreshold:
		return DecisionSkipSilent

	default:
		return DecisionDefer
	}
}

// ResolveResponse records the completion of one outstanding response at time
// now. The pending count is decremented (floored at zero) and the commit
// interval is adjusted from the observed round-trip latency:
//
//   - latency > interval × 1.2 → back off by IntervalAdjustment (remote is
//     slower than our pacing).
//   - latency < interval × 0.8 → tighten by IntervalAdjustment (headroom
//     exists for lower end-to-end delay).
//   - otherwise → unchanged (hysteresis zone, prevents oscillation).
//
// The result is always clamped to [MinCommitInterval, MaxCommitInterval].
// It returns the observed latency and the interval now in effect.
func (s *State) ResolveResponse(now time.Time) (latency, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending > 0 {
		s.pending--
	}
	s.lastResponseAt = now

	if s.lastCommitAt.IsZero() {
		return 0, s.interval
	}
	latency = s.lastResponseAt.Sub(s.lastCommitAt)

	switch {
	case latency > s.interval*12/10:
		s.interval += s.tuning.IntervalAdjustment
		if s.interval > s.tuning.MaxCommitInterval {
			s.interval = s.tuning.MaxCommitInterval
		}
	case latency < s.interval*8/10:
		s.interval -= s.tuning.IntervalAdjustment
		if s.interval < s.tuning.MinCommitInterval {
			s.interval = s.tuning.MinCommitInterval
		}
	}
	return latency, s.interval
}

// ResolveError records a protocol error for an outstanding response. The
// pending count is decremented (floored at zero) so overload detection
// self-corrects after failures; the interval is left unchanged because no
// valid latency was observed.
func (s *State) ResolveError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
}

// Interval returns the commit interval currently in effect.
func (s *State) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Pending returns the number of outstanding responses.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
