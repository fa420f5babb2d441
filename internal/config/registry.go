package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// InputSpec carries everything an input factory needs to open one capture
// stream.
type InputSpec struct {
	StreamID string

	// Device is the capture device name or index. Empty means the default.
	Device string

	// File is read by file-backed inputs.
	File string

	// ToneHz is used by the tone input.
	ToneHz float64

	// CaptureQueue bounds frames queued between a device callback and the
	// sender.
	CaptureQueue int

	// Pace makes file and synthetic inputs deliver frames in real time.
	Pace bool

	// OnDrop, if set, is called from the capture thread for every frame
	// lost to a full capture queue. It must not block.
	OnDrop func()
}

// OutputSpec carries everything an output factory needs to open the render
// sink.
type OutputSpec struct {
	Device string
	File   string
}

// Input is an opened capture stream. Close releases the device or file.
type Input interface {
	audio.Source
	Close() error
}

// Output is an opened render sink. Close flushes and releases it.
type Output interface {
	audio.Sink
	Close() error
}

// Registry maps backend names to their constructor functions for capture and
// render. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	inputs  map[string]func(InputSpec) (Input, error)
	outputs map[string]func(OutputSpec) (Output, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		inputs:  make(map[string]func(InputSpec) (Input, error)),
		outputs: make(map[string]func(OutputSpec) (Output, error)),
	}
}

// RegisterInput registers a capture factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterInput(name string, factory func(InputSpec) (Input, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[name] = factory
}

// RegisterOutput registers a render factory under name.
func (r *Registry) RegisterOutput(name string, factory func(OutputSpec) (Output, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = factory
}

// CreateInput opens a capture stream with the factory registered under name.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateInput(name string, spec InputSpec) (Input, error) {
	r.mu.RLock()
	factory, ok := r.inputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrBackendNotRegistered, name)
	}
	return factory(spec)
}

// CreateOutput opens a render sink with the factory registered under name.
func (r *Registry) CreateOutput(name string, spec OutputSpec) (Output, error) {
	r.mu.RLock()
	factory, ok := r.outputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrBackendNotRegistered, name)
	}
	return factory(spec)
}

// Inputs returns the registered input names, sorted.
func (r *Registry) Inputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.inputs)
}

// Outputs returns the registered output names, sorted.
func (r *Registry) Outputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.outputs)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
