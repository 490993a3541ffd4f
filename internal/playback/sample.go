package playback

import (
	"context"
	"log"
)

// PlaySample starts the preview loop at the main volume. The preview
// resource is loaded on first use and kept. Starting the preview ducks the
// background channel.
func (e *Engine) PlaySample(ctx context.Context) error {
	return e.command(ctx, e.playSample)
}

// StopSample stops the preview and restores the background volume
func (e *Engine) StopSample(ctx context.Context) error {
	return e.command(ctx, func() error {
		e.stopSample("requested")
		return nil
	})
}

func (e *Engine) playSample() error {
	if e.sampleState == SamplePreviewing {
		return nil
	}

	if !e.sample.Loaded() {
		if err := e.sample.Load(e.previewPath); err != nil {
			return e.fail(ErrResourceLoad, err)
		}
	}

	e.applySample()
	if !e.sample.Play() {
		return e.fail(ErrResourceLoad, errOutputNotStarted)
	}

	e.sampleState = SamplePreviewing
	e.applyBackground()
	log.Printf("[ENGINE] Sample preview started, background at %.2f", e.background.State().CurrentVolume)
	return nil
}

func (e *Engine) stopSample(reason string) {
	if e.sampleState != SamplePreviewing {
		return
	}

	e.sample.Stop()
	e.sampleState = SampleIdle
	e.applyBackground()
	log.Printf("[ENGINE] Sample preview stopped (%s), background at %.2f",
		reason, e.background.State().CurrentVolume)
}
