package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/crcostac/lingostream/internal/engine"
	"github.com/crcostac/lingostream/internal/observe"
	"github.com/crcostac/lingostream/pkg/audio"
	"github.com/crcostac/lingostream/pkg/audio/mock"
	"github.com/crcostac/lingostream/pkg/realtime"
)

// ─── fakes ────────────────────────────────────────────────────────────────────

// fakeSession implements [engine.Session] with inspectable call records and a
// test-driven event channel.
type fakeSession struct {
	mu        sync.Mutex
	sent      [][]byte
	commits   int
	responses int
	clears    int
	closed    bool
	sendErr   error
	termErr   error

	events chan realtime.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan realtime.Event, 64)}
}

func (f *fakeSession) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeSession) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeSession) CreateResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeSession) ClearInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeSession) Events() <-chan realtime.Event { return f.events }

func (f *fakeSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.termErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) sentChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fixture wires an engine to a fake session and mock devices, capturing the
// chunk and device-error callbacks so tests can inject captured audio and
// device failures.
type fixture struct {
	eng         *engine.Engine
	sess        *fakeSession
	source      *mock.Source
	sink        *mock.Sink
	onChunk     func(audio.Chunk)
	onSourceErr func(error)
	onSinkErr   func(error)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fx := &fixture{
		sess:   newFakeSession(),
		source: &mock.Source{},
		sink:   &mock.Sink{},
	}
	fx.eng, err = engine.New(
		func(context.Context) (engine.Session, error) { return fx.sess, nil },
		func(onChunk func(audio.Chunk), onError func(error)) (audio.Source, error) {
			fx.onChunk = onChunk
			fx.onSourceErr = onError
			return fx.source, nil
		},
		func(onError func(error)) (audio.Sink, error) {
			fx.onSinkErr = onError
			return fx.sink, nil
		},
		engine.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fx
}

func (fx *fixture) start(t *testing.T) {
	t.Helper()
	if err := fx.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = fx.eng.Stop() })
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// ─── construction ─────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	dial := func(context.Context) (engine.Session, error) { return newFakeSession(), nil }
	src := func(func(audio.Chunk), func(error)) (audio.Source, error) { return &mock.Source{}, nil }
	snk := func(func(error)) (audio.Sink, error) { return &mock.Sink{}, nil }

	if _, err := engine.New(nil, src, snk); err == nil {
		t.Error("expected error for nil dialer")
	}
	if _, err := engine.New(dial, nil, snk); err == nil {
		t.Error("expected error for nil source builder")
	}
	if _, err := engine.New(dial, src, nil); err == nil {
		t.Error("expected error for nil sink builder")
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestStart_BringsEngineActive(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if fx.eng.IsActive() || fx.eng.IsConfigured() {
		t.Error("engine active or configured before Start")
	}
	if got := fx.eng.Phase(); got != engine.PhaseIdle {
		t.Errorf("phase = %v; want idle", got)
	}

	fx.start(t)

	if !fx.eng.IsActive() {
		t.Error("IsActive = false after Start")
	}
	if !fx.eng.IsConfigured() {
		t.Error("IsConfigured = false after Start")
	}
	if got := fx.eng.Phase(); got != engine.PhaseActive {
		t.Errorf("phase = %v; want active", got)
	}
	if fx.sink.CallCountStart != 1 {
		t.Errorf("sink starts = %d; want 1", fx.sink.CallCountStart)
	}
	if fx.source.CallCountStart != 1 {
		t.Errorf("source starts = %d; want 1", fx.source.CallCountStart)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	if err := fx.eng.Start(context.Background()); !errors.Is(err, engine.ErrAlreadyStarted) {
		t.Errorf("second Start error = %v; want ErrAlreadyStarted", err)
	}
}

func TestStart_DialFailure(t *testing.T) {
	t.Parallel()
	dialErr := errors.New("handshake refused")
	eng, err := engine.New(
		func(context.Context) (engine.Session, error) { return nil, dialErr },
		func(func(audio.Chunk), func(error)) (audio.Source, error) { return &mock.Source{}, nil },
		func(func(error)) (audio.Sink, error) { return &mock.Sink{}, nil },
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := eng.Start(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("Start error = %v; want wrapped dial error", err)
	}
	if got := eng.Phase(); got != engine.PhaseFailed {
		t.Errorf("phase = %v; want failed", got)
	}
	// Output channels are closed so consumers do not hang.
	if _, ok := <-eng.Text(); ok {
		t.Error("Text channel still open after failed start")
	}
}

func TestStart_CaptureFailureClosesSession(t *testing.T) {
	t.Parallel()
	sess := newFakeSession()
	sink := &mock.Sink{}
	eng, err := engine.New(
		func(context.Context) (engine.Session, error) { return sess, nil },
		func(func(audio.Chunk), func(error)) (audio.Source, error) {
			return &mock.Source{StartError: errors.New("device busy")}, nil
		},
		func(func(error)) (audio.Sink, error) { return sink, nil },
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := eng.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if !sess.isClosed() {
		t.Error("session left open after failed start")
	}
	if sink.CallCountStop != 1 {
		t.Errorf("sink stops = %d; want 1", sink.CallCountStop)
	}
}

func TestStop_TearsDownEverything(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	if err := fx.eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := fx.eng.Phase(); got != engine.PhaseClosed {
		t.Errorf("phase = %v; want closed", got)
	}
	if fx.source.CallCountStop != 1 {
		t.Errorf("source stops = %d; want 1", fx.source.CallCountStop)
	}
	if !fx.sess.isClosed() {
		t.Error("session not closed")
	}
	if fx.sink.CallCountStop != 1 {
		t.Errorf("sink stops = %d; want 1", fx.sink.CallCountStop)
	}
	if _, ok := <-fx.eng.Text(); ok {
		t.Error("Text channel still open after Stop")
	}
	if _, ok := <-fx.eng.Errors(); ok {
		t.Error("Errors channel still open after Stop")
	}
}

func TestStop_ContinuesPastFailures(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.source.StopError = errors.New("capture wedged")
	fx.sink.StopError = errors.New("device gone")
	fx.start(t)

	err := fx.eng.Stop()
	if err == nil {
		t.Fatal("expected joined teardown error")
	}
	// Both stops were attempted and the session still got closed.
	if fx.source.CallCountStop != 1 || fx.sink.CallCountStop != 1 {
		t.Errorf("stops: source=%d sink=%d; want 1 and 1", fx.source.CallCountStop, fx.sink.CallCountStop)
	}
	if !fx.sess.isClosed() {
		t.Error("session not closed despite device failures")
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	if err := fx.eng.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := fx.eng.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if fx.source.CallCountStop != 1 {
		t.Errorf("source stops = %d; want 1", fx.source.CallCountStop)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	if err := fx.eng.Stop(); err != nil {
		t.Fatalf("Stop on idle engine: %v", err)
	}
	if got := fx.eng.Phase(); got != engine.PhaseClosed {
		t.Errorf("phase = %v; want closed", got)
	}
}

// ─── data flow ────────────────────────────────────────────────────────────────

func TestCapturedAudioReachesSession(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	pcm := []byte{1, 2, 3, 4}
	fx.onChunk(audio.Chunk{Data: pcm, CapturedAt: time.Now()})

	if got := fx.sess.sentChunks(); got != 1 {
		t.Fatalf("session received %d chunks; want 1", got)
	}
}

func TestCaptureSendFailureSurfacesOnErrors(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	fx.sess.mu.Lock()
	fx.sess.sendErr = errors.New("socket closed")
	fx.sess.mu.Unlock()

	fx.onChunk(audio.Chunk{Data: []byte{1, 2}, CapturedAt: time.Now()})

	select {
	case err := <-fx.eng.Errors():
		if err == nil {
			t.Fatal("nil error delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("no error delivered for failed send")
	}
}

func TestCaptureDeviceErrorSurfacesOnErrors(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	// The capture device fails mid-session, e.g. a loopback endpoint that
	// vanished. The source reports it through the callback wired at build time.
	fx.onSourceErr(errors.New("input overflowed"))

	select {
	case err := <-fx.eng.Errors():
		if err == nil || !strings.Contains(err.Error(), "capture") {
			t.Errorf("error = %v; want a capture-stage error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("capture device error not delivered")
	}
	// Device errors are surfaced, not terminal; the consumer decides.
	if !fx.eng.IsActive() {
		t.Error("engine stopped on a capture device error")
	}
}

func TestPlaybackDeviceErrorSurfacesOnErrors(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	fx.onSinkErr(errors.New("output device lost"))

	select {
	case err := <-fx.eng.Errors():
		if err == nil || !strings.Contains(err.Error(), "playback") {
			t.Errorf("error = %v; want a playback-stage error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("playback device error not delivered")
	}
	if !fx.eng.IsActive() {
		t.Error("engine stopped on a playback device error")
	}
}

func TestTextDeltasFlowToConsumer(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	fx.sess.events <- realtime.Event{Type: realtime.EventTextDelta, Text: "Hallo "}
	fx.sess.events <- realtime.Event{Type: realtime.EventTextDelta, Text: "Welt"}

	var got string
	for i := 0; i < 2; i++ {
		select {
		case delta := <-fx.eng.Text():
			got += delta
		case <-time.After(time.Second):
			t.Fatalf("text delta %d not delivered", i)
		}
	}
	if got != "Hallo Welt" {
		t.Errorf("text = %q; want deltas in order", got)
	}
}

func TestAudioDeltasReachSinkAndTap(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	pcm := []byte{9, 8, 7, 6}
	fx.sess.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: pcm}

	waitFor(t, func() bool { return len(fx.sink.Chunks()) == 1 }, "sink never received the chunk")

	select {
	case tapped := <-fx.eng.Audio():
		if len(tapped) != len(pcm) {
			t.Errorf("tap delivered %d bytes; want %d", len(tapped), len(pcm))
		}
	case <-time.After(time.Second):
		t.Fatal("audio tap not delivered")
	}
}

func TestServerErrorFlowsToConsumer(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	fx.sess.events <- realtime.Event{
		Type:    realtime.EventServerError,
		Code:    "rate_limit",
		Message: "slow down",
	}

	select {
	case err := <-fx.eng.Errors():
		if err == nil {
			t.Fatal("nil error delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("server error not delivered")
	}
	// A remote error is not fatal; the engine keeps running.
	if !fx.eng.IsActive() {
		t.Error("engine stopped on a non-fatal remote error")
	}
}

// ─── connection loss ──────────────────────────────────────────────────────────

func TestConnectionLossIsTerminal(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.start(t)

	// The remote drops the connection: the session's event channel closes
	// without Stop having been called.
	fx.sess.mu.Lock()
	fx.sess.termErr = errors.New("read: connection reset")
	fx.sess.mu.Unlock()
	_ = fx.sess.Close()

	var got error
	select {
	case got = <-fx.eng.Errors():
	case <-time.After(2 * time.Second):
		t.Fatal("terminal error not delivered")
	}
	if !errors.Is(got, engine.ErrConnectionLost) {
		t.Errorf("error = %v; want ErrConnectionLost", got)
	}

	waitFor(t, func() bool { return fx.eng.Phase() == engine.PhaseFailed }, "phase never became failed")
	waitFor(t, func() bool { return fx.source.StopCalls() == 1 }, "capture never stopped after connection loss")
	if fx.eng.IsActive() {
		t.Error("IsActive = true after connection loss")
	}
}
