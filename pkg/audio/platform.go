// Package audio defines the interfaces and types for audio capture and
// playback within lingostream.
//
// The two primary abstractions are:
//
//   - [Source] — continuously captures PCM chunks from an input and delivers
//     them to a callback registered at construction time.
//   - [Sink] — plays back PCM chunks in arrival order through an output device.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/portaudio). The interfaces are intentionally narrow to keep the engine
// decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Source] and [Sink].
package audio

// CaptureMode selects where a [Source] reads audio from. The mode is a
// construction-time choice — switching modes requires a new Source.
type CaptureMode int

const (
	// ModeDevice captures from a live input device (microphone).
	ModeDevice CaptureMode = iota

	// ModeLoopback captures the mixed playback of other running applications,
	// filtered to media/game audio. System and UI sounds are excluded.
	ModeLoopback
)

// String returns the human-readable name of the capture mode.
func (m CaptureMode) String() string {
	switch m {
	case ModeDevice:
		return "device"
	case ModeLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Source continuously captures audio and delivers each [Chunk] to the callback
// registered when the Source was constructed. A separate error callback
// receives capture failures that occur after a successful Start.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins continuous capture. It returns an error synchronously if the
	// device cannot be opened (unavailable, permission denied). Capture errors
	// after a successful Start are reported through the error callback, never
	// as a panic.
	Start() error

	// Stop halts capture and releases the device. It is safe to call Stop more
	// than once; subsequent calls are no-ops and return nil.
	Stop() error
}

// Sink consumes and plays back chunks in arrival order.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Start opens the output device and begins the playback loop.
	Start() error

	// Enqueue appends a chunk to the playback queue. It is non-blocking and safe
	// to call from any goroutine. Chunks enqueued before Start are dropped with
	// a warning.
	Enqueue(chunk Chunk)

	// Stop halts playback, discards pending queued chunks, and releases the
	// device. Safe to call more than once.
	Stop() error
}
