// Package realtime implements the streaming session to the remote translation
// service.
//
// It establishes a bidirectional WebSocket connection to a realtime endpoint
// and exchanges JSON events over it. Captured audio is transmitted as
// base64-encoded PCM16 chunks via input_audio_buffer.append; commit and
// response.create events drive translation turns; translated text and audio
// arrive as delta events on a single ordered [Session.Events] channel.
//
// Server-side turn detection is explicitly disabled in the session
// configuration: deciding when to commit buffered audio is the job of the
// engine's scheduler, not the remote service.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/crcostac/lingostream/pkg/audio"
)

const (
	defaultAPIVersion     = "2024-10-01-preview"
	defaultConnectTimeout = 30 * time.Second

	// realtimePath is appended to the configured endpoint to form the
	// WebSocket target.
	realtimePath = "/openai/realtime"
)

// ErrConnectTimeout is returned by [Client.Connect] when the connection and
// configuration handshake do not complete within the connect timeout.
var ErrConnectTimeout = errors.New("realtime: connect timed out")

// ErrSessionClosed is returned by send operations on a closed session.
var ErrSessionClosed = errors.New("realtime: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

// WithConnectTimeout overrides the default 30s connection handshake timeout.
// Primarily used in tests to keep suite execution fast.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client dials realtime sessions against one configured endpoint, deployment,
// and credential. A single Client may open sessions sequentially; each session
// owns its own connection.
type Client struct {
	endpoint       string
	apiKey         string
	deployment     string
	apiVersion     string
	connectTimeout time.Duration
}

// NewClient creates a Client for the given endpoint (ws:// or wss:// base URL),
// credential, and deployment identifier.
func NewClient(endpoint, apiKey, deployment string, opts ...Option) *Client {
	c := &Client{
		endpoint:       strings.TrimRight(endpoint, "/"),
		apiKey:         apiKey,
		deployment:     deployment,
		apiVersion:     defaultAPIVersion,
		connectTimeout: defaultConnectTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionConfig is the immutable configuration for a new streaming session.
// A language change requires a new session.
type SessionConfig struct {
	// Format is the PCM format for both input and output audio.
	Format audio.Format

	// SourceLanguage is the expected input language. Empty means auto-detect.
	SourceLanguage string

	// TargetLanguage is the language translations are produced in.
	TargetLanguage string

	// Voice selects the synthesised output voice.
	Voice string

	// MaxResponseTokens caps the length of each translation response.
	// Zero leaves the service default in place.
	MaxResponseTokens int

	// Temperature is the response randomness parameter. Zero leaves the
	// service default in place.
	Temperature float64

	// EventBuffer is the capacity of the Events channel. Defaults to 256.
	EventBuffer int
}

// instructions builds the natural-language task description sent in
// session.update.
func (cfg SessionConfig) instructions() string {
	if cfg.SourceLanguage == "" {
		return fmt.Sprintf(
			"You are a simultaneous interpreter. Detect the language being spoken "+
				"and translate everything you hear into %s. Reply only with the "+
				"translation, do not add commentary.", cfg.TargetLanguage)
	}
	return fmt.Sprintf(
		"You are a simultaneous interpreter. Translate everything you hear from "+
			"%s into %s. Reply only with the translation, do not add commentary.",
		cfg.SourceLanguage, cfg.TargetLanguage)
}

// sessionURL assembles the WebSocket target from endpoint, API version and
// deployment.
func (c *Client) sessionURL() string {
	q := url.Values{}
	q.Set("api-version", c.apiVersion)
	q.Set("deployment", c.deployment)
	return c.endpoint + realtimePath + "?" + q.Encode()
}

// Connect establishes the persistent connection, authenticates via the api-key
// header, and sends the session.update configuration message before returning.
// The handshake is bounded by the connect timeout; [ErrConnectTimeout] is
// returned when it elapses. The returned Session is ready to accept audio
// immediately.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.sessionURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"api-key": []string{c.apiKey},
		},
	})
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	// Raise the read limit: audio delta events routinely exceed the library's
	// 32 KiB default.
	conn.SetReadLimit(1 << 22)

	eventBuf := cfg.EventBuffer
	if eventBuf <= 0 {
		eventBuf = 256
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:   conn,
		events: make(chan Event, eventBuf),
		sendCh: make(chan []byte, 256),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(dialCtx, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go sess.sendLoop()
	go sess.receiveLoop()

	return sess, nil
}
