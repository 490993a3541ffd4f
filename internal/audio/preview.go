package audio

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	previewSeconds = 3
	previewLevel   = 0.35

	// Spectrum of the generated noise, in Hz
	previewLowCut  = 40.0
	previewHighCut = 6000.0
)

// EnsurePreview writes the sample preview clip to path unless it already
// exists. The clip is a few seconds of soft noise shaped in the frequency
// domain, which makes it periodic: it loops without a seam.
func EnsurePreview(path string, sampleRate int) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".preview-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create preview file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	enc := wav.NewEncoder(tmp, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           shapedNoise(sampleRate*previewSeconds, sampleRate),
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finalize preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close preview file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to install preview: %w", err)
	}
	return nil
}

// shapedNoise filters white noise with a 1/f^0.75 slope between the cut
// frequencies and scales the result to previewLevel of full scale
func shapedNoise(n, sampleRate int) []int {
	rng := rand.New(rand.NewSource(1))
	white := make([]float64, n)
	for i := range white {
		white[i] = rng.Float64()*2 - 1
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, white)
	for k := range coeff {
		f := fft.Freq(k) * float64(sampleRate)
		if f < previewLowCut {
			coeff[k] = 0
			continue
		}
		gain := math.Pow(previewLowCut/f, 0.75)
		if f > previewHighCut {
			gain *= previewHighCut / f
		}
		coeff[k] *= complex(gain, 0)
	}
	shaped := fft.Sequence(nil, coeff)

	var peak float64
	for _, v := range shaped {
		peak = math.Max(peak, math.Abs(v))
	}

	out := make([]int, n)
	if peak == 0 {
		return out
	}
	scale := previewLevel * 32767 / peak
	for i, v := range shaped {
		out[i] = int(math.Round(v * scale))
	}
	return out
}
