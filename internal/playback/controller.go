package playback

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/alexlim7/Custom-Background-Sounds/internal/audio"
	"github.com/alexlim7/Custom-Background-Sounds/internal/library"
	"github.com/alexlim7/Custom-Background-Sounds/internal/settings"
)

var (
	errOutputUnavailable = errors.New("no audio output device, playing silently")
	errOutputNotStarted  = errors.New("audio output did not start")
)

// Play starts the background channel. From Stopped it loads the last
// imported file first and returns once that load has finished. Calling it
// while playing changes nothing.
func (e *Engine) Play(ctx context.Context) error {
	var wait chan error
	err := e.command(ctx, func() error {
		var err error
		wait, err = e.play()
		return err
	})
	return awaitLoad(ctx, wait, err)
}

// awaitLoad waits for the load a play command started or joined
func awaitLoad(ctx context.Context, wait chan error, err error) error {
	if err != nil || wait == nil {
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause pauses the background channel, keeping the loaded file
func (e *Engine) Pause(ctx context.Context) error {
	return e.command(ctx, func() error {
		e.pause()
		return nil
	})
}

// Stop stops the background channel and releases the loaded file
func (e *Engine) Stop(ctx context.Context) error {
	return e.command(ctx, func() error {
		e.stop("requested")
		return nil
	})
}

// Toggle pauses when playing and plays otherwise. The decision is made on
// the engine goroutine together with the action.
func (e *Engine) Toggle(ctx context.Context) error {
	var wait chan error
	err := e.command(ctx, func() error {
		if e.state == StatePlaying {
			e.pause()
			return nil
		}
		var err error
		wait, err = e.play()
		return err
	})
	return awaitLoad(ctx, wait, err)
}

// SetVolume sets the main volume, clamped to [0, 1]
func (e *Engine) SetVolume(ctx context.Context, v float64) error {
	return e.updateSettings(ctx, func(s *settings.Settings) {
		s.MainVolume = settings.Clamp(v)
	})
}

// SetMediaVolume sets the volume used while ducked, clamped to [0, 1]
func (e *Engine) SetMediaVolume(ctx context.Context, v float64) error {
	return e.updateSettings(ctx, func(s *settings.Settings) {
		s.MediaVolume = settings.Clamp(v)
	})
}

// ToggleUseWhenMediaPlaying switches between ducking and silencing while
// other media plays
func (e *Engine) ToggleUseWhenMediaPlaying(ctx context.Context) error {
	return e.updateSettings(ctx, func(s *settings.Settings) {
		s.DuckInsteadOfSilence = !s.DuckInsteadOfSilence
	})
}

// ToggleStopWhenLocked switches whether a session lock stops playback
func (e *Engine) ToggleStopWhenLocked(ctx context.Context) error {
	return e.updateSettings(ctx, func(s *settings.Settings) {
		s.StopOnLock = !s.StopOnLock
	})
}

// ToggleAutostart switches whether the daemon plays on launch
func (e *Engine) ToggleAutostart(ctx context.Context) error {
	return e.updateSettings(ctx, func(s *settings.Settings) {
		s.Autostart = !s.Autostart
	})
}

// updateSettings applies a change in memory, re-arbitrates both channels,
// then persists
func (e *Engine) updateSettings(ctx context.Context, change func(*settings.Settings)) error {
	return e.command(ctx, func() error {
		prev := e.settings
		next := prev
		change(&next)
		e.settings = next.Normalized()

		e.applyBackground()
		e.applySample()
		e.persist(prev)
		return e.lastErr
	})
}

// Autostart plays the last file when autostart is on and the file is still
// in the library
func (e *Engine) Autostart(ctx context.Context) error {
	var start bool
	if err := e.call(ctx, func() {
		switch {
		case !e.settings.Autostart:
			log.Printf("[ENGINE] Autostart is off")
		case e.settings.LastFile == "":
			log.Printf("[ENGINE] Autostart skipped: no file imported")
		case !e.lib.Exists(e.settings.LastFile):
			log.Printf("[ENGINE] Autostart skipped: %s is missing", e.settings.LastFile)
		default:
			start = true
		}
	}); err != nil || !start {
		return err
	}

	log.Printf("[ENGINE] Autostarting")
	return e.Play(ctx)
}

// Import copies src into the library and plays it. The copy and decode run
// on the caller's goroutine; only the final swap runs on the engine. Any
// failure leaves the previous file and playback untouched.
func (e *Engine) Import(ctx context.Context, src library.Source) error {
	st, err := e.lib.Stage(ctx, src)
	if err != nil {
		return e.report(ctx, ErrImport, err)
	}

	h, err := e.device.Open(st.Path)
	if err != nil {
		e.lib.Discard(st)
		return e.report(ctx, ErrResourceLoad, fmt.Errorf("%s: %w", st.Name, err))
	}

	var result error
	if err := e.command(ctx, func() error {
		result = e.commitImport(st, h)
		return result
	}); err != nil {
		if result == nil {
			// Never reached the engine
			h.Close()
			e.lib.Discard(st)
		}
		return err
	}
	return nil
}

// report records a failure that happened off the engine goroutine
func (e *Engine) report(ctx context.Context, kind, err error) error {
	var recorded error
	if cerr := e.command(ctx, func() error {
		recorded = e.fail(kind, err)
		return recorded
	}); cerr != nil && recorded == nil {
		return kindError(kind, err)
	}
	return recorded
}

func (e *Engine) commitImport(st *library.Staged, h audio.Handle) error {
	dst, err := e.lib.Commit(st)
	if err != nil {
		h.Close()
		return e.fail(ErrImport, err)
	}

	prev := e.settings

	e.leavePlaying()
	e.cancelLoad(nil)
	e.background.Attach(h, dst)
	e.state = StatePaused

	e.settings.LastFile = st.Name
	if prev.LastFile != "" && prev.LastFile != st.Name {
		if err := e.lib.Remove(prev.LastFile); err != nil {
			log.Printf("[LIBRARY] %v", err)
		}
	}
	e.persist(prev)

	log.Printf("[ENGINE] Imported %s", st.Name)
	return e.enterPlaying()
}

// play runs on the engine goroutine. A non-nil channel means a load was
// started or joined and will deliver the outcome.
func (e *Engine) play() (chan error, error) {
	switch e.state {
	case StatePlaying:
		return nil, nil

	case StateLoading:
		e.pendingPlay = true
		return e.addWaiter(), nil

	case StatePaused:
		return nil, e.enterPlaying()
	}

	if e.background.Loaded() {
		return nil, e.enterPlaying()
	}

	name := e.settings.LastFile
	if name == "" {
		return nil, e.fail(ErrNoFileSelected, nil)
	}
	if !e.lib.Exists(name) {
		return nil, e.fail(ErrResourceLoad, fmt.Errorf("%s is missing from the library", name))
	}

	e.state = StateLoading
	e.pendingPlay = true
	e.loadGen++
	gen := e.loadGen
	wait := e.addWaiter()
	path := e.lib.Path(name)

	log.Printf("[ENGINE] Loading %s", name)
	go func() {
		h, err := e.device.Open(path)
		if !e.post(context.Background(), func() { e.finishLoad(gen, path, h, err) }) && h != nil {
			h.Close()
		}
	}()

	return wait, nil
}

func (e *Engine) addWaiter() chan error {
	ch := make(chan error, 1)
	e.waiters = append(e.waiters, ch)
	return ch
}

func (e *Engine) resolveWaiters(err error) {
	for _, ch := range e.waiters {
		ch <- err
	}
	e.waiters = nil
}

// cancelLoad abandons an in-flight load. Its handle is closed on arrival.
func (e *Engine) cancelLoad(err error) {
	if e.state != StateLoading {
		return
	}
	e.loadGen++
	e.state = StateStopped
	e.resolveWaiters(err)
}

func (e *Engine) finishLoad(gen uint64, path string, h audio.Handle, err error) {
	if gen != e.loadGen || e.state != StateLoading {
		if h != nil {
			h.Close()
		}
		return
	}

	if err != nil {
		e.state = StateStopped
		e.interrupted = false
		err = e.fail(ErrResourceLoad, err)
		e.resolveWaiters(err)
		e.notify()
		return
	}

	e.background.Attach(h, path)
	if e.pendingPlay {
		err = e.enterPlaying()
	} else {
		e.state = StatePaused
		log.Printf("[ENGINE] Loaded and held paused")
	}
	e.resolveWaiters(err)
	e.notify()
}

// enterPlaying starts output with a fresh external media reading and
// starts the monitor
func (e *Engine) enterPlaying() error {
	e.externalMedia = e.mon.Probe()
	e.applyBackground()

	if !e.background.Play() {
		e.background.Release()
		e.state = StateStopped
		return e.fail(ErrResourceLoad, errOutputNotStarted)
	}

	e.state = StatePlaying
	e.interrupted = false
	e.startMonitor()

	if e.mon.Degraded() {
		e.fail(ErrCapabilityUnavailable, e.mon.LastError())
	}

	log.Printf("[ENGINE] Playing at %.2f (external media=%v, preview=%v)",
		e.background.State().CurrentVolume, e.externalMedia, e.sampleState == SamplePreviewing)
	return nil
}

// leavePlaying stops the monitor. Safe to call in any state.
func (e *Engine) leavePlaying() {
	e.monitorGen++
	e.mon.Stop()
}

func (e *Engine) startMonitor() {
	e.monitorGen++
	gen := e.monitorGen

	e.mon.Start(e.externalMedia, func(ctx context.Context, active bool) {
		e.post(ctx, func() {
			// A monitor that was stopped after posting is ignored
			if gen != e.monitorGen || e.state != StatePlaying {
				return
			}
			e.externalMedia = active
			e.applyBackground()
			log.Printf("[ENGINE] External media active=%v, background volume %.2f",
				active, e.background.State().CurrentVolume)
			e.notify()
		})
	})
}

func (e *Engine) pause() {
	switch e.state {
	case StatePlaying:
		e.background.Pause()
		e.leavePlaying()
		e.state = StatePaused
		log.Printf("[ENGINE] Paused")
	case StateLoading:
		e.pendingPlay = false
	}
}

func (e *Engine) stop(reason string) {
	if e.state == StateStopped {
		log.Printf("[ENGINE] Stop (%s): already stopped", reason)
		return
	}

	e.leavePlaying()
	e.cancelLoad(nil)
	e.background.Release()
	e.state = StateStopped
	e.interrupted = false
	log.Printf("[ENGINE] Stopped (%s)", reason)
}
