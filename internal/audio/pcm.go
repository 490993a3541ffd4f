package audio

import (
	"encoding/binary"
	"time"

	"github.com/faiface/beep"
)

// PCM is interleaved 16-bit audio held in memory
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playing time of the buffer
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Format is the beep format the samples are buffered in
func (p *PCM) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(p.SampleRate),
		NumChannels: outputChannels,
		Precision:   bytesPerSample,
	}
}

// Streamer plays the samples once as stereo frames. Mono is sent to both
// sides and channels past the second are dropped.
func (p *PCM) Streamer() beep.Streamer {
	frames := p.Frames()
	pos := 0
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= frames {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < frames {
			base := pos * p.Channels
			left := float64(p.Samples[base]) / 32768
			right := left
			if p.Channels > 1 {
				right = float64(p.Samples[base+1]) / 32768
			}
			samples[n] = [2]float64{left, right}
			n++
			pos++
		}
		return n, true
	})
}

// Buffer copies the samples into a seekable beep buffer
func (p *PCM) Buffer() *beep.Buffer {
	buf := beep.NewBuffer(p.Format())
	buf.Append(p.Streamer())
	return buf
}

// bytesToInt16 reads little-endian 16-bit samples
func bytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// floatToInt16 converts samples in [-1, 1], clipping anything outside
func floatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		out[i] = sampleToInt16(float64(f))
	}
	return out
}

// sampleToInt16 scales a sample in [-1, 1] to 16 bits, clipping
func sampleToInt16(v float64) int16 {
	v *= 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// intToInt16 rescales go-audio integer samples of the given bit depth.
// Unsigned 8-bit WAV data is recentred first.
func intToInt16(samples []int, bitDepth int, unsigned8 bool) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		switch {
		case bitDepth == 8 && unsigned8:
			out[i] = int16((v - 128) << 8)
		case bitDepth == 8:
			out[i] = int16(v << 8)
		case bitDepth > 16:
			out[i] = int16(v >> (bitDepth - 16))
		default:
			out[i] = int16(v)
		}
	}
	return out
}
