package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Session is an open streaming connection to the translation service.
//
// All send operations (SendAudio, Commit, CreateResponse, ClearInput) are
// fire-and-forget: they enqueue a pre-marshalled frame on the outbound queue
// and return without waiting for network I/O. A single writer goroutine drains
// the queue, so concurrent callers can never interleave message frames and
// enqueue order is transmission order.
//
// A dedicated receive loop runs for the lifetime of the connection. It decodes
// each complete inbound message into one [Event] and delivers it on the
// Events channel in receipt order. The channel is closed when the loop exits —
// on Close, on a server-initiated close, or on a connection error (check
// [Session.Err] after the channel closes to distinguish the last case).
//
// Session is safe for concurrent use.
type Session struct {
	conn   *websocket.Conn
	events chan Event
	sendCh chan []byte

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate writes the session.update configuration message directly,
// before the send loop starts. Called once from Connect.
func (s *Session) sendSessionUpdate(ctx context.Context, cfg SessionConfig) error {
	msg := sessionUpdateMessage{
		EventID: uuid.NewString(),
		Type:    "session.update",
		Session: sessionParams{
			Modalities:        []string{"text", "audio"},
			Instructions:      cfg.instructions(),
			Voice:             cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputTranscription: &transcriptionParams{
				Model: "whisper-1",
			},
			TurnDetection:           nil, // the scheduler decides turn boundaries
			MaxResponseOutputTokens: cfg.MaxResponseTokens,
			Temperature:             cfg.Temperature,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// enqueue marshals v and queues it for the writer goroutine.
func (s *Session) enqueue(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}

	select {
	case s.sendCh <- data:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// sendLoop is the single writer: it drains the outbound queue and writes each
// frame to the connection. A write failure records the error and terminates
// the loop; the receive loop observes the broken connection independently.
func (s *Session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sendCh:
			if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
				if s.ctx.Err() == nil {
					s.setErr(fmt.Errorf("realtime: write: %w", err))
				}
				return
			}
		}
	}
}

// receiveLoop reads inbound messages, decodes them, and delivers events.
// The websocket library reassembles fragmented messages, so each Read returns
// one complete JSON event. The loop owns the events channel and closes it on
// exit.
func (s *Session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("realtime: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// A malformed event must not kill the stream.
			continue
		}

		event, ok := s.translate(&evt)
		if !ok {
			continue
		}
		select {
		case s.events <- event:
		case <-s.ctx.Done():
			return
		}
	}
}

// translate maps one decoded wire event to a public [Event]. The second
// return value is false for event types the engine does not consume.
func (s *Session) translate(evt *serverEvent) (Event, bool) {
	switch evt.Type {
	case "response.text.delta":
		if evt.Delta == "" {
			return Event{}, false
		}
		return Event{Type: EventTextDelta, Text: evt.Delta}, true

	case "response.audio.delta":
		if evt.Delta == "" {
			return Event{}, false
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return Event{}, false
		}
		return Event{Type: EventAudioDelta, Audio: audioData}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return Event{}, false
		}
		return Event{Type: EventInputTranscript, Text: evt.Transcript}, true

	case "response.done":
		return Event{Type: EventResponseDone}, true

	case "session.created", "session.updated":
		return Event{Type: EventSessionUpdated}, true

	case "error":
		e := Event{Type: EventServerError, Message: "unknown error"}
		if evt.Error != nil {
			e.Code = evt.Error.Code
			if evt.Error.Message != "" {
				e.Message = evt.Error.Message
			}
		}
		return e, true
	}
	return Event{}, false
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// ── Session operations ─────────────────────────────────────────────────────────

// SendAudio transmits one captured PCM16 chunk as an input_audio_buffer.append
// event. Chunks are transmitted in the order SendAudio is called.
func (s *Session) SendAudio(chunk []byte) error {
	return s.enqueue(appendAudioMessage{
		EventID: uuid.NewString(),
		Type:    "input_audio_buffer.append",
		Audio:   base64.StdEncoding.EncodeToString(chunk),
	})
}

// Commit instructs the remote to finalise the currently buffered input.
func (s *Session) Commit() error {
	return s.enqueue(bufferControlMessage{
		EventID: uuid.NewString(),
		Type:    "input_audio_buffer.commit",
	})
}

// ClearInput discards any uncommitted input buffered server-side.
func (s *Session) ClearInput() error {
	return s.enqueue(bufferControlMessage{
		EventID: uuid.NewString(),
		Type:    "input_audio_buffer.clear",
	})
}

// CreateResponse asks the remote to produce a translation for the committed
// input.
func (s *Session) CreateResponse() error {
	return s.enqueue(createResponseMessage{
		EventID:  uuid.NewString(),
		Type:     "response.create",
		Response: responseParams{Modalities: []string{"text", "audio"}},
	})
}

// Events returns the ordered event stream. The channel is closed when the
// session ends; call [Session.Err] afterwards to check for an abnormal close.
func (s *Session) Events() <-chan Event { return s.events }

// Err returns the error that terminated the session, or nil if it was closed
// cleanly (by Close or a server-initiated normal closure).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close cancels the loops, sends a close frame if the connection is still
// open, and releases resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
