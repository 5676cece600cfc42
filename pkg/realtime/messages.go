package realtime

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string            `json:"modalities"`
	Instructions      string              `json:"instructions"`
	Voice             string              `json:"voice,omitempty"`
	InputAudioFormat  string              `json:"input_audio_format"`
	OutputAudioFormat string              `json:"output_audio_format"`
	InputTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`

	// TurnDetection is always marshalled, null when disabled: the engine
	// performs its own activity detection, so server-side VAD must be off.
	TurnDetection *turnDetectionParams `json:"turn_detection"`

	MaxResponseOutputTokens int     `json:"max_response_output_tokens,omitempty"`
	Temperature             float64 `json:"temperature,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
	Audio   string `json:"audio"` // base64-encoded PCM16
}

// bufferControlMessage covers input_audio_buffer.commit and
// input_audio_buffer.clear, which carry no payload beyond the type.
type bufferControlMessage struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

type createResponseMessage struct {
	EventID  string         `json:"event_id,omitempty"`
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Modalities []string `json:"modalities"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in a remote error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.text.delta / response.audio.delta (field name is shared).
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}
