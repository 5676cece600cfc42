package audio_test

import (
	"testing"
	"time"

	"github.com/crcostac/lingostream/pkg/audio"
)

func TestPlaybackQueue_FIFOOrder(t *testing.T) {
	t.Parallel()

	q := audio.NewPlaybackQueue()
	q.Push(audio.Chunk{Data: []byte{1}})
	q.Push(audio.Chunk{Data: []byte{2}})
	q.Push(audio.Chunk{Data: []byte{3}})

	for _, want := range []byte{1, 2, 3} {
		chunk, ok := q.Pop()
		if !ok {
			t.Fatal("Pop returned closed before queue was drained")
		}
		if chunk.Data[0] != want {
			t.Errorf("Pop order = %d; want %d", chunk.Data[0], want)
		}
	}
}

func TestPlaybackQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := audio.NewPlaybackQueue()
	got := make(chan audio.Chunk, 1)

	go func() {
		chunk, ok := q.Pop()
		if ok {
			got <- chunk
		}
	}()

	// Give the popper a moment to block, then push.
	time.Sleep(20 * time.Millisecond)
	q.Push(audio.Chunk{Data: []byte{42}})

	select {
	case chunk := <-got:
		if chunk.Data[0] != 42 {
			t.Errorf("popped chunk = %d; want 42", chunk.Data[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestPlaybackQueue_CloseDiscardsBacklogAndUnblocks(t *testing.T) {
	t.Parallel()

	q := audio.NewPlaybackQueue()
	q.Push(audio.Chunk{Data: []byte{1}})
	q.Push(audio.Chunk{Data: []byte{2}})

	q.Close()

	if _, ok := q.Pop(); ok {
		t.Error("Pop after Close returned a chunk; want closed")
	}
	if q.Len() != 0 {
		t.Errorf("Len after Close = %d; want 0", q.Len())
	}

	// Close is idempotent and Push after Close is a no-op.
	q.Close()
	q.Push(audio.Chunk{Data: []byte{3}})
	if q.Len() != 0 {
		t.Error("Push after Close stored a chunk")
	}
}

func TestFormat_ByteMath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format audio.Format
		dur    time.Duration
		bytes  int
	}{
		{"24kHz mono 50ms", audio.Format{SampleRate: 24000, Channels: 1}, 50 * time.Millisecond, 2400},
		{"24kHz mono 1s", audio.Format{SampleRate: 24000, Channels: 1}, time.Second, 48000},
		{"16kHz stereo 100ms", audio.Format{SampleRate: 16000, Channels: 2}, 100 * time.Millisecond, 6400},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.format.BytesFor(tt.dur); got != tt.bytes {
				t.Errorf("BytesFor(%v) = %d; want %d", tt.dur, got, tt.bytes)
			}
			if got := tt.format.Duration(tt.bytes); got != tt.dur {
				t.Errorf("Duration(%d) = %v; want %v", tt.bytes, got, tt.dur)
			}
		})
	}
}
