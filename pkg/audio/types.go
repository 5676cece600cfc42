package audio

import "time"

// Chunk represents a single fixed-duration buffer of raw linear PCM samples
// flowing through the pipeline. Chunks are the atomic unit of audio transport —
// captured from an input device, encoded for the streaming session, and played
// through the output device.
//
// A Chunk is immutable after creation: producers hand ownership of Data to the
// consumer and must not modify the slice afterwards.
type Chunk struct {
	// Data holds little-endian PCM16 samples. Sample rate and channel count are
	// determined by the session's [Format].
	Data []byte

	// CapturedAt marks when this chunk was captured.
	CapturedAt time.Time
}

// Format describes the PCM encoding negotiated at session start. The engine
// uses a single format end to end: capture, wire, and playback.
type Format struct {
	// SampleRate in Hz (e.g., 24000 for the realtime translation service).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo loopback mixes.
	Channels int
}

// bytesPerSample is fixed at 2 because the wire contract is pcm16.
const bytesPerSample = 2

// BytesPerSecond returns the raw byte rate of audio in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// BytesFor returns the number of PCM bytes covering d of audio in this format.
func (f Format) BytesFor(d time.Duration) int {
	return int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
}

// Duration returns the playback duration of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
