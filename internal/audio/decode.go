package audio

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Decoder turns a file into PCM
type Decoder interface {
	Decode(ctx context.Context, path string) (*PCM, error)
}

// DecoderFunc adapts a function to Decoder
type DecoderFunc func(ctx context.Context, path string) (*PCM, error)

// Decode calls f
func (f DecoderFunc) Decode(ctx context.Context, path string) (*PCM, error) {
	return f(ctx, path)
}

// Registry picks a decoder by file extension, with an optional fallback
// for extensions nothing is registered for
type Registry struct {
	mu       sync.Mutex
	codecs   map[string]Decoder
	fallback Decoder
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry registers the native decoders and, when ffmpeg is on
// PATH, uses it for everything else
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".mp3", DecoderFunc(decodeMP3))
	r.Register(".ogg", DecoderFunc(decodeVorbis))
	r.Register(".oga", DecoderFunc(decodeVorbis))
	r.Register(".wav", DecoderFunc(decodeWAV))
	r.Register(".aif", DecoderFunc(decodeAIFF))
	r.Register(".aiff", DecoderFunc(decodeAIFF))

	if ff, err := NewFFmpegDecoder(); err == nil {
		r.SetFallback(ff)
	} else {
		log.Printf("[AUDIO] %v; only mp3/ogg/wav/aiff can be played", err)
	}

	return r
}

// Register sets the decoder for an extension such as ".mp3"
func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

// SetFallback sets the decoder used for unregistered extensions
func (r *Registry) SetFallback(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = d
}

// Supports reports whether path has a decoder
func (r *Registry) Supports(path string) bool {
	_, ok := r.lookup(path)
	return ok
}

func (r *Registry) lookup(path string) (Decoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.codecs[strings.ToLower(filepath.Ext(path))]; ok {
		return d, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// preferRate asks decoders that can resample themselves to produce rate,
// so their output plays without another conversion
func (r *Registry) preferRate(rate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type rateSetter interface{ SetSampleRate(int) }
	if rs, ok := r.fallback.(rateSetter); ok {
		rs.SetSampleRate(rate)
	}
	for _, d := range r.codecs {
		if rs, ok := d.(rateSetter); ok {
			rs.SetSampleRate(rate)
		}
	}
}

// Decode decodes path with the matching decoder
func (r *Registry) Decode(ctx context.Context, path string) (*PCM, error) {
	d, ok := r.lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pcm, err := d.Decode(ctx, path)
	if err != nil {
		return nil, err
	}
	if pcm.Channels <= 0 || pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid stream layout", ErrUnsupportedFormat)
	}
	return pcm, nil
}

// ctxFile is a file whose reads fail once ctx is done, so decoders that
// consume a whole file stop as soon as the deadline passes
type ctxFile struct {
	*os.File
	ctx context.Context
}

func openFile(ctx context.Context, path string) (*ctxFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &ctxFile{File: f, ctx: ctx}, nil
}

func (f *ctxFile) Read(p []byte) (int, error) {
	if err := f.ctx.Err(); err != nil {
		return 0, err
	}
	return f.File.Read(p)
}

// decodeFailed reports an expired context instead of the decoder's error,
// which is only a symptom of the interrupted read
func decodeFailed(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func decodeMP3(ctx context.Context, path string) (*PCM, error) {
	f, err := openFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return nil, decodeFailed(ctx, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}

	// go-mp3 always produces 16-bit little-endian stereo
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, decodeFailed(ctx, fmt.Errorf("failed to decode mp3: %w", err))
	}

	return &PCM{
		Samples:    bytesToInt16(data),
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, ctx.Err()
}

func decodeVorbis(ctx context.Context, path string) (*PCM, error) {
	f, err := openFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, decodeFailed(ctx, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}

	return &PCM{
		Samples:    floatToInt16(samples),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}, ctx.Err()
}

func decodeWAV(ctx context.Context, path string) (*PCM, error) {
	f, err := openFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, decodeFailed(ctx, fmt.Errorf("%w: not a WAV file", ErrUnsupportedFormat))
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("%w: only PCM WAV is supported", ErrUnsupportedFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, decodeFailed(ctx, fmt.Errorf("failed to decode wav: %w", err))
	}

	bitDepth := int(dec.BitDepth)
	return &PCM{
		Samples:    intToInt16(buf.Data, bitDepth, true),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, ctx.Err()
}

func decodeAIFF(ctx context.Context, path string) (*PCM, error) {
	f, err := openFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := aiff.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, decodeFailed(ctx, fmt.Errorf("%w: not an AIFF file", ErrUnsupportedFormat))
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil {
		return nil, fmt.Errorf("%w: unsupported AIFF layout", ErrUnsupportedFormat)
	}

	bitDepth := int(dec.BitDepth)
	buf := &goaudio.IntBuffer{Data: make([]int, 4096), Format: format}
	var samples []int16

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dec.PCMBuffer(buf)
		if n > 0 {
			samples = append(samples, intToInt16(buf.Data[:n], bitDepth, false)...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, decodeFailed(ctx, fmt.Errorf("failed to decode aiff: %w", err))
		}
		if n == 0 {
			break
		}
	}

	return &PCM{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
	}, ctx.Err()
}
