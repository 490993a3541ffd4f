// Package audio opens audio files as looping output handles.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	// ErrUnsupportedFormat is returned when no decoder accepts a file
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrEmptyResource is returned when a file decodes to no samples
	ErrEmptyResource = errors.New("audio resource contains no samples")
)

// Handle is one opened audio resource bound to the output
type Handle interface {
	// SetLoopForever makes the resource restart from the beginning when it ends
	SetLoopForever()

	// SetVolume applies v (clamped to 0.0 - 1.0) immediately
	SetVolume(v float64)

	// Start begins or resumes output and reports whether output is running
	Start() bool

	// Pause suspends output, keeping the position
	Pause()

	// Stop suspends output and rewinds to the beginning
	Stop()

	// Close releases the resource
	Close() error
}

// Device opens resources for playback
type Device interface {
	Open(path string) (Handle, error)
}

const defaultDecodeTimeout = 30 * time.Second

// NullDevice decodes resources like a real device but produces no sound.
// It stands in when no output device can be opened, so playback state and
// load failures still behave the same.
type NullDevice struct {
	registry      *Registry
	decodeTimeout time.Duration
}

// NewNullDevice creates a silent device. A nil registry uses DefaultRegistry.
func NewNullDevice(registry *Registry) *NullDevice {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &NullDevice{registry: registry, decodeTimeout: defaultDecodeTimeout}
}

// Open decodes path and returns a silent handle
func (d *NullDevice) Open(path string) (Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.decodeTimeout)
	defer cancel()

	pcm, err := d.registry.Decode(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(pcm.Samples) == 0 {
		return nil, ErrEmptyResource
	}

	log.Printf("[AUDIO] Opened %s on null output", path)
	return &nullHandle{}, nil
}

type nullHandle struct {
	mu      sync.Mutex
	playing bool
	volume  float64
	loop    bool
}

func (h *nullHandle) SetLoopForever() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loop = true
}

func (h *nullHandle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = clampVolume(v)
}

func (h *nullHandle) Start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = true
	return true
}

func (h *nullHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

func (h *nullHandle) Stop() {
	h.Pause()
}

func (h *nullHandle) Close() error {
	h.Pause()
	return nil
}

func clampVolume(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
