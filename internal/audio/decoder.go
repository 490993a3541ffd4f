package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegDecoder decodes anything ffmpeg understands. It is the fallback for
// formats without a native decoder (m4a, flac, aac, ...).
type FFmpegDecoder struct {
	ffmpegPath string
	sampleRate int
}

// NewFFmpegDecoder finds ffmpeg in PATH
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	return &FFmpegDecoder{
		ffmpegPath: ffmpegPath,
		sampleRate: defaultSampleRate,
	}, nil
}

// SetSampleRate sets the rate ffmpeg resamples to. The output device sets it
// to its own rate so ffmpeg output needs no further resampling.
func (d *FFmpegDecoder) SetSampleRate(rate int) {
	if rate > 0 {
		d.sampleRate = rate
	}
}

// Decode runs ffmpeg and collects signed 16-bit little-endian stereo output
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (*PCM, error) {
	args := []string{
		"-v", "error",
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(outputChannels),
		"-ar", strconv.Itoa(d.sampleRate),
		"-",
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	data, readErr := io.ReadAll(stdout)
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read ffmpeg output: %w", readErr)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %s", ErrUnsupportedFormat, msg)
	}

	return &PCM{
		Samples:    bytesToInt16(data),
		SampleRate: d.sampleRate,
		Channels:   outputChannels,
	}, nil
}
