package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/holdscribe/pkg/audio"
	"github.com/MrWong99/holdscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds a transcription backend. It receives the backend's own
// entry and the engine section, from which it derives the model to load.
type STTFactory func(entry ProviderEntry, engine EngineConfig) (stt.Provider, error)

// DeviceFactory builds a capture device.
type DeviceFactory func(cfg CaptureConfig) (audio.Device, error)

// Registry maps backend names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	stt     map[string]STTFactory
	devices map[string]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:     make(map[string]STTFactory),
		devices: make(map[string]DeviceFactory),
	}
}

// RegisterSTT registers a transcription backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterDevice registers a capture device factory under name.
func (r *Registry) RegisterDevice(name string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateSTT instantiates the backend registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateSTT(entry ProviderEntry, engine EngineConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, engine)
}

// CreateDevice instantiates the capture device registered under
// cfg.Backend.
func (r *Registry) CreateDevice(cfg CaptureConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// STTNames returns the registered transcription backend names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for n := range r.stt {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
