package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/hajimehoshi/oto/v2"
)

const (
	defaultSampleRate = 44100
	outputChannels    = 2
	bytesPerSample    = 2 // 16-bit signed little-endian
	frameBytes        = outputChannels * bytesPerSample
)

// OtoDevice plays resources through a single Oto context. Oto allows one
// context per process, so both channels share it and each handle owns its
// own oto.Player.
type OtoDevice struct {
	context       *oto.Context
	sampleRate    int
	registry      *Registry
	decodeTimeout time.Duration
	bufferBytes   int
}

// OtoOption configures an OtoDevice
type OtoOption func(*OtoDevice)

// WithRegistry sets the decoders used to open files
func WithRegistry(r *Registry) OtoOption {
	return func(d *OtoDevice) {
		d.registry = r
	}
}

// WithDecodeTimeout bounds how long opening a file may take
func WithDecodeTimeout(t time.Duration) OtoOption {
	return func(d *OtoDevice) {
		if t > 0 {
			d.decodeTimeout = t
		}
	}
}

// WithBufferSize sets each player's buffer. Zero keeps oto's default.
func WithBufferSize(d time.Duration) OtoOption {
	return func(o *OtoDevice) {
		if d <= 0 {
			return
		}
		frames := int(d.Seconds() * float64(o.sampleRate))
		o.bufferBytes = frames * frameBytes
	}
}

// NewOtoDevice creates the output device. sampleRate <= 0 uses 44100.
func NewOtoDevice(sampleRate int, opts ...OtoOption) (*OtoDevice, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	ctx, ready, err := oto.NewContext(sampleRate, outputChannels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-ready

	d := &OtoDevice{
		context:       ctx,
		sampleRate:    sampleRate,
		decodeTimeout: defaultDecodeTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = DefaultRegistry()
	}
	d.registry.preferRate(sampleRate)

	return d, nil
}

// Open decodes path fully into memory and binds it to a new player
func (d *OtoDevice) Open(path string) (Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.decodeTimeout)
	defer cancel()

	start := time.Now()
	pcm, err := d.registry.Decode(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	if pcm.Frames() == 0 {
		return nil, ErrEmptyResource
	}

	buf := pcm.Buffer()
	src := newStreamReader(buf.Streamer(0, buf.Len()), buf.Format().SampleRate, beep.SampleRate(d.sampleRate))
	player := d.context.NewPlayer(src)
	if d.bufferBytes > 0 {
		player.SetBufferSize(d.bufferBytes)
	}

	log.Printf("[AUDIO] Opened %s (%.1fs of audio at %d Hz, decoded in %v)",
		filepath.Base(path), pcm.Duration().Seconds(), pcm.SampleRate, time.Since(start).Round(time.Millisecond))

	return &otoHandle{player: player, src: src}, nil
}

// otoHandle drives one oto.Player over a streamReader
type otoHandle struct {
	mu     sync.Mutex
	player oto.Player // oto.Player is an interface, not a pointer
	src    *streamReader
	closed bool
}

func (h *otoHandle) SetLoopForever() {
	h.src.SetLoop(true)
}

func (h *otoHandle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.player.SetVolume(clampVolume(v))
}

func (h *otoHandle) Start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if !h.player.IsPlaying() {
		h.player.Play()
	}
	if err := h.player.Err(); err != nil {
		log.Printf("[AUDIO] Player error: %v", err)
		return false
	}
	return true
}

func (h *otoHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.player.IsPlaying() {
		h.player.Pause()
	}
}

func (h *otoHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.player.Pause()
	// Drop audio the player already pulled so a restart begins at the top
	h.player.Reset()
	h.src.Rewind()
}

func (h *otoHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.player.Close()
}

// resampleQuality is beep's interpolation window; 4 is its usual choice
const resampleQuality = 4

// streamReader feeds a buffered resource to oto as 16-bit little-endian
// stereo. The buffer is wrapped in beep.Loop once looping is on and in
// beep.Resample when its rate differs from the device.
type streamReader struct {
	mu     sync.Mutex
	src    beep.StreamSeeker
	from   beep.SampleRate
	to     beep.SampleRate
	loop   bool
	chain  beep.Streamer
	frames [][2]float64
}

func newStreamReader(src beep.StreamSeeker, from, to beep.SampleRate) *streamReader {
	r := &streamReader{src: src, from: from, to: to}
	r.rebuild()
	return r
}

// rebuild wraps src for the current loop setting. A fresh resampler holds
// no samples from before a seek.
func (r *streamReader) rebuild() {
	var s beep.Streamer = r.src
	if r.loop {
		s = beep.Loop(-1, r.src)
	}
	if r.from != r.to {
		s = beep.Resample(resampleQuality, r.from, r.to, s)
	}
	r.chain = s
}

// Read implements io.Reader for the player to read from
func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p) / frameBytes
	if n == 0 {
		return 0, nil
	}
	if cap(r.frames) < n {
		r.frames = make([][2]float64, n)
	}
	frames := r.frames[:n]

	got, ok := r.chain.Stream(frames)
	if got == 0 && !ok {
		if err := r.src.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	for i, f := range frames[:got] {
		binary.LittleEndian.PutUint16(p[i*frameBytes:], uint16(sampleToInt16(f[0])))
		binary.LittleEndian.PutUint16(p[i*frameBytes+bytesPerSample:], uint16(sampleToInt16(f[1])))
	}
	return got * frameBytes, nil
}

// SetLoop enables or disables restarting at the end
func (r *streamReader) SetLoop(loop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop == loop {
		return
	}
	r.loop = loop
	r.rebuild()
}

// Rewind moves back to the first sample
func (r *streamReader) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.src.Seek(0); err != nil {
		log.Printf("[AUDIO] Failed to rewind: %v", err)
	}
	r.rebuild()
}

// Ensure streamReader implements io.Reader
var _ io.Reader = (*streamReader)(nil)
