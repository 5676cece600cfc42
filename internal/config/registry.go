package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/crcostac/lingostream/pkg/audio"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// SourceFactory constructs an [audio.Source] for the given audio settings.
// onChunk receives every captured chunk and must not block. onError receives
// capture failures that occur after a successful start.
type SourceFactory func(cfg AudioConfig, onChunk func(audio.Chunk), onError func(error)) (audio.Source, error)

// SinkFactory constructs an [audio.Sink] for the given audio settings.
// onError receives playback failures that occur after a successful start.
type SinkFactory func(cfg AudioConfig, onError func(error)) (audio.Sink, error)

// Registry maps audio backend names to their source and sink constructors.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
	}
}

// RegisterSource registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// RegisterSink registers a playback backend factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// CreateSource instantiates a capture source using the factory registered
// under cfg.Backend. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateSource(cfg AudioConfig, onChunk func(audio.Chunk), onError func(error)) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg, onChunk, onError)
}

// CreateSink instantiates a playback sink using the factory registered under
// cfg.Backend.
func (r *Registry) CreateSink(cfg AudioConfig, onError func(error)) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg, onError)
}
