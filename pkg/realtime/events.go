package realtime

// EventType discriminates the events a [Session] delivers on its Events
// channel.
type EventType int

const (
	// EventTextDelta carries a fragment of translated text.
	EventTextDelta EventType = iota

	// EventAudioDelta carries a chunk of synthesised translated audio (raw PCM16).
	EventAudioDelta

	// EventInputTranscript carries the recognised source-language text for a
	// completed input segment. Informational.
	EventInputTranscript

	// EventResponseDone marks one outstanding translation request as resolved.
	EventResponseDone

	// EventServerError carries a protocol error reported by the remote service.
	// The session remains usable after a server error.
	EventServerError

	// EventSessionUpdated acknowledges the session configuration (session.created
	// or session.updated from the remote).
	EventSessionUpdated
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventTextDelta:
		return "text.delta"
	case EventAudioDelta:
		return "audio.delta"
	case EventInputTranscript:
		return "input.transcript"
	case EventResponseDone:
		return "response.done"
	case EventServerError:
		return "server.error"
	case EventSessionUpdated:
		return "session.updated"
	default:
		return "unknown"
	}
}

// Event is one decoded message from the remote translation service. Only the
// fields relevant to the Type are populated.
type Event struct {
	Type EventType

	// Text holds the fragment for EventTextDelta and the recognised source text
	// for EventInputTranscript.
	Text string

	// Audio holds decoded PCM16 bytes for EventAudioDelta.
	Audio []byte

	// Code and Message describe an EventServerError.
	Code    string
	Message string
}
