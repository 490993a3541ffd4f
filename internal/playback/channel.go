package playback

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/alexlim7/Custom-Background-Sounds/internal/arbiter"
	"github.com/alexlim7/Custom-Background-Sounds/internal/audio"
	"github.com/alexlim7/Custom-Background-Sounds/internal/settings"
)

// ChannelState is what a channel last applied to the output
type ChannelState struct {
	Playing       bool    `json:"playing"`
	CurrentVolume float64 `json:"currentVolume"`
	Source        string  `json:"source,omitempty"`
}

// Channel wraps one looping audio handle. It is owned by the engine
// goroutine and is not safe for concurrent use.
type Channel struct {
	role    arbiter.Role
	device  audio.Device
	handle  audio.Handle
	source  string
	playing bool
	volume  float64
}

// NewChannel creates an empty channel
func NewChannel(role arbiter.Role, device audio.Device) *Channel {
	return &Channel{role: role, device: device}
}

// Load opens path and makes it the channel's resource. On failure the
// channel is left as it was.
func (c *Channel) Load(path string) error {
	h, err := c.device.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResourceLoad, err)
	}
	c.Attach(h, path)
	return nil
}

// Attach makes an already opened handle the channel's resource, replacing
// and closing any previous one
func (c *Channel) Attach(h audio.Handle, source string) {
	c.Release()

	h.SetLoopForever()
	h.SetVolume(c.volume)
	c.handle = h
	c.source = source
	log.Printf("[ENGINE] %s channel loaded %s", c.role, filepath.Base(source))
}

// Loaded reports whether a resource is attached
func (c *Channel) Loaded() bool {
	return c.handle != nil
}

// Play starts output and reports whether it is actually playing. Calling
// it while playing changes nothing.
func (c *Channel) Play() bool {
	if c.handle == nil {
		return false
	}
	if c.playing {
		return true
	}
	c.playing = c.handle.Start()
	return c.playing
}

// Pause suspends output, keeping the resource and position
func (c *Channel) Pause() {
	if c.handle == nil {
		return
	}
	c.handle.Pause()
	c.playing = false
}

// Stop suspends output and rewinds, keeping the resource
func (c *Channel) Stop() {
	if c.handle == nil {
		return
	}
	c.handle.Stop()
	c.playing = false
}

// Release stops and closes the resource
func (c *Channel) Release() {
	if c.handle == nil {
		return
	}
	c.handle.Stop()
	if err := c.handle.Close(); err != nil {
		log.Printf("[ENGINE] Failed to close %s channel resource: %v", c.role, err)
	}
	c.handle = nil
	c.source = ""
	c.playing = false
}

// SetVolume clamps v and applies it immediately. The value is remembered
// for resources attached later.
func (c *Channel) SetVolume(v float64) {
	c.volume = settings.Clamp(v)
	if c.handle != nil {
		c.handle.SetVolume(c.volume)
	}
}

// State returns a snapshot of the channel
func (c *Channel) State() ChannelState {
	st := ChannelState{Playing: c.playing, CurrentVolume: c.volume}
	if c.source != "" {
		st.Source = filepath.Base(c.source)
	}
	return st
}
