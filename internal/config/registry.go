package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// Registry maps configured names to constructor functions for live providers
// and audio devices. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]func(LiveConfig) (live.Provider, error)
	capture map[string]func(AudioConfig) (audio.CaptureDevice, error)
	output  map[string]func(AudioConfig) (audio.OutputDevice, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:    make(map[string]func(LiveConfig) (live.Provider, error)),
		capture: make(map[string]func(AudioConfig) (audio.CaptureDevice, error)),
		output:  make(map[string]func(AudioConfig) (audio.OutputDevice, error)),
	}
}

// RegisterLive registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(LiveConfig) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterCapture registers a capture device factory under name.
func (r *Registry) RegisterCapture(name string, factory func(AudioConfig) (audio.CaptureDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterOutput registers an output device factory under name.
func (r *Registry) RegisterOutput(name string, factory func(AudioConfig) (audio.OutputDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateLive instantiates the live provider registered under cfg.Provider.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(cfg LiveConfig) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateCapture instantiates the capture device registered under cfg.Capture.
func (r *Registry) CreateCapture(cfg AudioConfig) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Capture]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrNotRegistered, cfg.Capture)
	}
	return factory(cfg)
}

// CreateOutput instantiates the output device registered under cfg.Output.
func (r *Registry) CreateOutput(cfg AudioConfig) (audio.OutputDevice, error) {
	r.mu.RLock()
	factory, ok := r.output[cfg.Output]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrNotRegistered, cfg.Output)
	}
	return factory(cfg)
}

// Names returns the sorted registered names for kind ("live", "capture" or
// "output"). Unknown kinds return nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "live":
		for n := range r.live {
			names = append(names, n)
		}
	case "capture":
		for n := range r.capture {
			names = append(names, n)
		}
	case "output":
		for n := range r.output {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
