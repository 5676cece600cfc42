package portaudio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/crcostac/lingostream/pkg/audio"
)

// Sink plays back PCM chunks through the default output device in arrival
// order. Chunks are queued without backpressure; the playback loop drains the
// queue and blocks on the device's own pacing.
type Sink struct {
	format  audio.Format
	onDepth func(delta int)
	onError func(error)

	mu      sync.Mutex
	queue   *audio.PlaybackQueue
	stream  *portaudio.Stream
	wg      sync.WaitGroup
	started bool
}

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithDepthObserver registers a callback invoked with +1 when a chunk is
// queued and -1 when one is dequeued for playback. Used to feed a queue-depth
// gauge. The callback must be safe for concurrent use.
func WithDepthObserver(fn func(delta int)) SinkOption {
	return func(s *Sink) { s.onDepth = fn }
}

// WithErrorObserver registers a callback for playback failures that occur
// after Start succeeded. A write failure terminates the playback loop; without
// an observer it is only logged. The callback is invoked from the playback
// goroutine.
func WithErrorObserver(fn func(error)) SinkOption {
	return func(s *Sink) { s.onError = fn }
}

// NewSink creates a Sink that plays audio in the given format. The device is
// not opened until [Sink.Start].
func NewSink(format audio.Format, opts ...SinkOption) *Sink {
	s := &Sink{format: format}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens the default output device and begins the playback loop.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("portaudio: sink already started")
	}

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("portaudio: no default output device: %w", err)
	}

	// One device write per queued chunk; the buffer is sized per write in the
	// playback loop, so the stream uses a modest fixed frame count.
	const framesPerWrite = 1024
	buf := make([]int16, framesPerWrite*s.format.Channels)

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = s.format.Channels
	params.SampleRate = float64(s.format.SampleRate)
	params.FramesPerBuffer = len(buf)

	stream, err := portaudio.OpenStream(params, &buf)
	if err != nil {
		return fmt.Errorf("portaudio: open playback stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start playback stream: %w", err)
	}

	s.stream = stream
	s.queue = audio.NewPlaybackQueue()
	s.started = true

	s.wg.Add(1)
	go s.playbackLoop(stream, buf)

	slog.Info("audio playback started", "device", dev.Name, "sample_rate", s.format.SampleRate)
	return nil
}

// Enqueue appends chunk to the playback queue. Non-blocking; a chunk enqueued
// before Start is dropped with a warning.
func (s *Sink) Enqueue(chunk audio.Chunk) {
	s.mu.Lock()
	queue := s.queue
	started := s.started
	s.mu.Unlock()

	if !started {
		slog.Warn("playback not started; dropping audio chunk", "bytes", len(chunk.Data))
		return
	}
	queue.Push(chunk)
	if s.onDepth != nil {
		s.onDepth(1)
	}
}

// framePacker accumulates decoded PCM16 samples and emits them in fixed-size
// device buffers.
type framePacker struct {
	buf     []int16
	pending []int16
}

func newFramePacker(buf []int16) *framePacker {
	return &framePacker{buf: buf}
}

// push decodes little-endian PCM16 bytes onto the pending sample queue.
func (p *framePacker) push(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		p.pending = append(p.pending, int16(binary.LittleEndian.Uint16(data[i:])))
	}
}

// emit fills the device buffer with full frames and calls write for each,
// carrying any remainder for the next push.
func (p *framePacker) emit(write func() error) error {
	for len(p.pending) >= len(p.buf) {
		copy(p.buf, p.pending[:len(p.buf)])
		p.pending = p.pending[len(p.buf):]
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

// flush pads the remaining samples with silence up to one device buffer and
// writes it, so the tail of the final utterance is played rather than dropped.
func (p *framePacker) flush(write func() error) error {
	if len(p.pending) == 0 {
		return nil
	}
	n := copy(p.buf, p.pending)
	for i := n; i < len(p.buf); i++ {
		p.buf[i] = 0
	}
	p.pending = p.pending[:0]
	return write()
}

// playbackLoop pops chunks and writes them to the device until the queue is
// closed. The queue's Pop blocks on a condition variable, so an empty queue
// costs no CPU.
func (s *Sink) playbackLoop(stream *portaudio.Stream, buf []int16) {
	defer s.wg.Done()

	packer := newFramePacker(buf)
	for {
		chunk, ok := s.queue.Pop()
		if !ok {
			if err := packer.flush(stream.Write); err != nil {
				slog.Debug("playback tail write failed", "err", err)
			}
			return
		}
		if s.onDepth != nil {
			s.onDepth(-1)
		}
		packer.push(chunk.Data)

		if err := packer.emit(stream.Write); err != nil {
			slog.Warn("playback write failed", "err", err)
			if s.onError != nil {
				s.onError(fmt.Errorf("portaudio: playback write: %w", err))
			}
			return
		}
	}
}

// Stop halts playback, discards queued chunks, flushes the partially filled
// device buffer, and releases the device. Idempotent.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	// Closing the queue discards the backlog and wakes the loop; it writes the
	// padded tail of the current utterance and exits, so waiting here is
	// bounded by one device buffer period.
	s.queue.Close()
	s.wg.Wait()
	_ = s.stream.Stop()
	err := s.stream.Close()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("portaudio: close playback stream: %w", err)
	}
	return nil
}
