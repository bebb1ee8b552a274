package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ErrBackendNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: capture backend not registered")

// SourceFactory builds an [audio.Source] from the capture section.
type SourceFactory func(CaptureConfig) (audio.Source, error)

// Registry maps capture backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[Backend]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{backends: make(map[Backend]SourceFactory)}
}

// Register registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name Backend, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Backend, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create instantiates the source registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(cfg CaptureConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	src, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create %s source: %w", cfg.Backend, err)
	}
	return src, nil
}
