// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	sink := &mock.Sink{}
//	...
//	if src.CallCountStop != 1 { ... }
package mock

import (
	"sync"

	"github.com/crcostac/lingostream/pkg/audio"
)

// Compile-time assertions that the mocks satisfy the audio interfaces.
var _ audio.Source = (*Source)(nil)
var _ audio.Sink = (*Sink)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
// Set the exported Error fields before use; inspect the Call* fields after.
type Source struct {
	mu sync.Mutex

	// StartError is returned by [Source.Start].
	StartError error

	// StopError is returned by [Source.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start implements [audio.Source].
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopError
}

// StopCalls returns CallCountStop under the mock's lock. Use it when the
// component under test stops the source from another goroutine.
func (s *Source) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. It records every enqueued
// chunk so tests can assert on playback order.
type Sink struct {
	mu sync.Mutex

	// StartError is returned by [Sink.Start].
	StartError error

	// StopError is returned by [Sink.Stop].
	StopError error

	// Enqueued holds every chunk passed to Enqueue, in order.
	Enqueued []audio.Chunk

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start implements [audio.Sink].
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartError
}

// Enqueue implements [audio.Sink].
func (s *Sink) Enqueue(chunk audio.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enqueued = append(s.Enqueued, chunk)
}

// Chunks returns a copy of the enqueued chunks.
func (s *Sink) Chunks() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Chunk, len(s.Enqueued))
	copy(out, s.Enqueued)
	return out
}

// Stop implements [audio.Sink].
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return s.StopError
}
