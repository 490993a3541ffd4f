package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWAV(t *testing.T, path string, rate, channels int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func stereoBuffer(rate int, left ...int16) *beep.Buffer {
	samples := make([]int16, 0, len(left)*2)
	for _, v := range left {
		samples = append(samples, v, -v)
	}
	return (&PCM{Samples: samples, SampleRate: rate, Channels: 2}).Buffer()
}

// leftChannel decodes the left samples of 16-bit little-endian stereo
func leftChannel(data []byte) []int {
	out := make([]int, 0, len(data)/frameBytes)
	for i := 0; i+frameBytes <= len(data); i += frameBytes {
		out = append(out, int(int16(binary.LittleEndian.Uint16(data[i:]))))
	}
	return out
}

func assertSamples(t *testing.T, expected, actual []int) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], 3, "sample %d", i)
	}
}

func TestStreamReaderLoops(t *testing.T) {
	buf := stereoBuffer(44100, 1000, 2000, 3000)
	r := newStreamReader(buf.Streamer(0, buf.Len()), 44100, 44100)
	r.SetLoop(true)

	p := make([]byte, 7*frameBytes)
	n, err := r.Read(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	assertSamples(t, []int{1000, 2000, 3000, 1000, 2000, 3000, 1000}, leftChannel(p[:n]))

	right := int(int16(binary.LittleEndian.Uint16(p[bytesPerSample:])))
	assert.InDelta(t, -1000, right, 3)
}

func TestStreamReaderOneShotEOFAndRewind(t *testing.T) {
	buf := stereoBuffer(44100, 500, 600)
	r := newStreamReader(buf.Streamer(0, buf.Len()), 44100, 44100)
	p := make([]byte, 4*frameBytes)

	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 2*frameBytes, n)

	_, err = r.Read(p)
	assert.Equal(t, io.EOF, err)

	r.Rewind()
	n, err = r.Read(p)
	require.NoError(t, err)
	assertSamples(t, []int{500, 600}, leftChannel(p[:n]))
}

func TestStreamReaderLoopAfterEnd(t *testing.T) {
	buf := stereoBuffer(44100, 100, 200)
	r := newStreamReader(buf.Streamer(0, buf.Len()), 44100, 44100)
	p := make([]byte, 2*frameBytes)

	_, err := r.Read(p)
	require.NoError(t, err)

	// Turning looping on at the end starts over instead of ending
	r.SetLoop(true)
	n, err := r.Read(p)
	require.NoError(t, err)
	assertSamples(t, []int{100, 200}, leftChannel(p[:n]))
}

func TestStreamReaderResamples(t *testing.T) {
	const inFrames = 1000
	left := make([]int16, inFrames)
	buf := stereoBuffer(22050, left...)
	r := newStreamReader(buf.Streamer(0, buf.Len()), 22050, 44100)

	total := 0
	p := make([]byte, 256*frameBytes)
	for i := 0; i < 100; i++ {
		n, err := r.Read(p)
		total += n / frameBytes
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.InDelta(t, 2*inFrames, total, 40)
}

func TestStreamReaderShortBuffer(t *testing.T) {
	buf := stereoBuffer(44100, 1)
	r := newStreamReader(buf.Streamer(0, buf.Len()), 44100, 44100)

	n, err := r.Read(make([]byte, frameBytes-1))
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestPCMStreamerMonoToStereo(t *testing.T) {
	p := &PCM{Samples: []int16{16384, -16384}, SampleRate: 44100, Channels: 1}
	s := p.Streamer()

	frames := make([][2]float64, 4)
	n, ok := s.Stream(frames)
	require.True(t, ok)
	require.Equal(t, 2, n)
	assert.Equal(t, [2]float64{0.5, 0.5}, frames[0])
	assert.Equal(t, [2]float64{-0.5, -0.5}, frames[1])

	n, ok = s.Stream(frames)
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestPCMStreamerDropsExtraChannels(t *testing.T) {
	p := &PCM{Samples: []int16{16384, -16384, 32767}, SampleRate: 44100, Channels: 3}
	frames := make([][2]float64, 2)

	n, _ := p.Streamer().Stream(frames)
	require.Equal(t, 1, n)
	assert.Equal(t, [2]float64{0.5, -0.5}, frames[0])
}

func TestPCMBuffer(t *testing.T) {
	p := &PCM{Samples: make([]int16, 22050*2), SampleRate: 22050, Channels: 2}
	buf := p.Buffer()

	assert.Equal(t, 22050, buf.Len())
	assert.Equal(t, beep.SampleRate(22050), buf.Format().SampleRate)
	assert.Equal(t, time.Second, p.Duration())
}

func TestSampleToInt16Clips(t *testing.T) {
	assert.Equal(t, int16(32767), sampleToInt16(1.5))
	assert.Equal(t, int16(-32768), sampleToInt16(-1.5))
	assert.Equal(t, int16(0), sampleToInt16(0))
}

func TestRegistryPrefersDeviceRate(t *testing.T) {
	ff := &FFmpegDecoder{ffmpegPath: "ffmpeg", sampleRate: defaultSampleRate}
	r := NewRegistry()
	r.Register(".wav", DecoderFunc(decodeWAV))
	r.SetFallback(ff)

	r.preferRate(48000)
	assert.Equal(t, 48000, ff.sampleRate)

	r.preferRate(0)
	assert.Equal(t, 48000, ff.sampleRate)
}

func TestCtxFileStopsReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	f, err := openFile(ctx, path)
	require.NoError(t, err)
	defer f.Close()

	p := make([]byte, 16)
	n, err := f.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	cancel()
	n, err = f.Read(p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestDecodeReportsExpiredContext(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "rain.wav")
	writeTestWAV(t, good, 22050, 1, []int{1, 2, 3, 4})
	garbage := filepath.Join(dir, "noise.mp3")
	require.NoError(t, os.WriteFile(garbage, []byte("not an mp3 stream at all"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := decodeWAV(ctx, good)
	assert.ErrorIs(t, err, context.Canceled)

	// The interrupted read must not be reported as a bad file
	_, err = decodeMP3(ctx, garbage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIntToInt16(t *testing.T) {
	assert.Equal(t, []int16{0}, intToInt16([]int{128}, 8, true))
	assert.Equal(t, []int16{0x7FFF}, intToInt16([]int{0x7FFFFF}, 24, false))
	assert.Equal(t, []int16{-5}, intToInt16([]int{-5}, 16, false))
}

func TestClampVolume(t *testing.T) {
	assert.Equal(t, 0.0, clampVolume(-0.5))
	assert.Equal(t, 1.0, clampVolume(1.5))
	assert.Equal(t, 0.3, clampVolume(0.3))
	assert.Equal(t, 0.0, clampVolume(math.NaN()))
}

func TestRegistryDecodesWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rain.wav")
	writeTestWAV(t, path, 22050, 1, []int{1, 2, 3, 4})

	r := NewRegistry()
	r.Register(".wav", DecoderFunc(decodeWAV))

	pcm, err := r.Decode(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 22050, pcm.SampleRate)
	assert.Equal(t, 1, pcm.Channels)
	assert.Equal(t, []int16{1, 2, 3, 4}, pcm.Samples)
}

func TestRegistryRejectsUnknownExtension(t *testing.T) {
	r := NewRegistry()
	_, err := r.Decode(context.Background(), "/tmp/notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, r.Supports("/tmp/notes.txt"))
}

func TestRegistryFallback(t *testing.T) {
	r := NewRegistry()
	r.SetFallback(DecoderFunc(func(context.Context, string) (*PCM, error) {
		return &PCM{Samples: []int16{1, 1}, SampleRate: 8000, Channels: 2}, nil
	}))

	assert.True(t, r.Supports("song.flac"))
	pcm, err := r.Decode(context.Background(), "song.flac")
	require.NoError(t, err)
	assert.Equal(t, 8000, pcm.SampleRate)
}

func TestWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0644))

	_, err := decodeWAV(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNullDevice(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ok.wav")
	writeTestWAV(t, good, 44100, 2, []int{10, 10, 20, 20})

	r := NewRegistry()
	r.Register(".wav", DecoderFunc(decodeWAV))
	d := NewNullDevice(r)

	h, err := d.Open(good)
	require.NoError(t, err)
	h.SetLoopForever()
	h.SetVolume(2)
	assert.True(t, h.Start())
	h.Pause()
	require.NoError(t, h.Close())

	_, err = d.Open(filepath.Join(dir, "missing.wav"))
	require.Error(t, err)

	_, err = d.Open(filepath.Join(dir, "notes.txt"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestEnsurePreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "preview.wav")
	require.NoError(t, EnsurePreview(path, 22050))

	pcm, err := decodeWAV(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 22050, pcm.SampleRate)
	assert.Equal(t, 22050*previewSeconds, pcm.Frames())

	var peak, sum float64
	for _, v := range pcm.Samples {
		peak = math.Max(peak, math.Abs(float64(v)))
		sum += float64(v)
	}
	assert.InDelta(t, previewLevel*32767, peak, 1)
	// No DC offset, so looping never thumps
	assert.InDelta(t, 0, sum/float64(len(pcm.Samples)), 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	// Existing file is kept as is
	require.NoError(t, EnsurePreview(path, 48000))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}
