// Package portaudio provides [audio.Source] and [audio.Sink] implementations
// backed by PortAudio devices.
//
// Capture supports two modes: reading from a live input device (microphone),
// or reading a loopback/monitor device that carries the mixed playback of
// other applications. Loopback capture relies on the host exposing such a
// device (PulseAudio "monitor" sources, WASAPI loopback endpoints); media and
// game streams are routed there by the OS mixer while system notification
// sounds play on a separate, uncaptured endpoint.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/crcostac/lingostream/pkg/audio"
)

// Compile-time assertions that the implementations satisfy the audio interfaces.
var _ audio.Source = (*Source)(nil)
var _ audio.Sink = (*Sink)(nil)

// Initialize prepares the PortAudio host API. Call once from main before
// constructing sources or sinks; pair with [Terminate] on shutdown.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio host API.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// SourceConfig bundles the construction-time parameters of a [Source].
type SourceConfig struct {
	// Format is the PCM format to capture in.
	Format audio.Format

	// ChunkDuration is the fixed duration of each delivered chunk.
	// Defaults to 100ms when zero.
	ChunkDuration time.Duration

	// Mode selects microphone or loopback capture.
	Mode audio.CaptureMode

	// OnChunk receives each captured chunk. Must be non-nil. The callback is
	// invoked from the capture goroutine and must not block on I/O.
	OnChunk func(audio.Chunk)

	// OnError receives capture failures that occur after Start succeeded.
	// Optional; when nil, errors are logged and capture stops.
	OnError func(error)
}

// Source captures fixed-duration PCM chunks from a PortAudio device.
type Source struct {
	cfg SourceConfig

	mu      sync.Mutex
	stream  *portaudio.Stream
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewSource creates a Source with the given configuration. The device is not
// opened until [Source.Start].
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.OnChunk == nil {
		return nil, fmt.Errorf("portaudio: OnChunk callback is required")
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 100 * time.Millisecond
	}
	return &Source{cfg: cfg}, nil
}

// Start opens the capture device and begins delivering chunks. It returns an
// error synchronously if no suitable device exists or the device cannot be
// opened (e.g., the platform denies capture permission).
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("portaudio: source already started")
	}

	dev, err := s.captureDevice()
	if err != nil {
		return err
	}

	framesPerChunk := s.cfg.Format.BytesFor(s.cfg.ChunkDuration) / (2 * s.cfg.Format.Channels)
	buf := make([]int16, framesPerChunk*s.cfg.Format.Channels)

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = s.cfg.Format.Channels
	params.SampleRate = float64(s.cfg.Format.SampleRate)
	params.FramesPerBuffer = len(buf)

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open capture stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start capture stream: %w", err)
	}

	s.stream = stream
	s.done = make(chan struct{})
	s.started = true

	s.wg.Add(1)
	go s.captureLoop(stream, buf)

	slog.Info("audio capture started",
		"device", dev.Name,
		"mode", s.cfg.Mode,
		"sample_rate", s.cfg.Format.SampleRate,
		"chunk", s.cfg.ChunkDuration,
	)
	return nil
}

// captureDevice picks the PortAudio device matching the configured mode.
func (s *Source) captureDevice() (*portaudio.DeviceInfo, error) {
	if s.cfg.Mode == audio.ModeDevice {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: no default input device: %w", err)
		}
		return dev, nil
	}

	// Loopback mode: find a monitor/loopback input carrying application audio.
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	for _, dev := range devs {
		if dev.MaxInputChannels < s.cfg.Format.Channels {
			continue
		}
		name := strings.ToLower(dev.Name)
		if strings.Contains(name, "monitor") || strings.Contains(name, "loopback") {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no loopback capture device available")
}

// captureLoop reads from the stream until Stop is called. Each successful read
// is delivered as one chunk; read failures are reported through OnError and
// terminate the loop.
func (s *Source) captureLoop(stream *portaudio.Stream, buf []int16) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-s.done:
				// Read failures during teardown are expected.
				return
			default:
			}
			if s.cfg.OnError != nil {
				s.cfg.OnError(fmt.Errorf("portaudio: capture read: %w", err))
			} else {
				slog.Error("audio capture read failed", "err", err)
			}
			return
		}

		data := make([]byte, len(buf)*2)
		for i, sample := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
		}
		s.cfg.OnChunk(audio.Chunk{Data: data, CapturedAt: time.Now()})
	}
}

// Stop halts capture and releases the device. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	close(s.done)
	// Abort unblocks a capture read in progress.
	_ = s.stream.Abort()
	s.wg.Wait()
	err := s.stream.Close()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("portaudio: close capture stream: %w", err)
	}
	return nil
}
