// Package playback owns the two audio channels and every piece of mutable
// playback state. All of it lives on one goroutine (Engine.Run); commands,
// monitor edges and lifecycle events are closures queued to that goroutine.
package playback

import (
	"context"
	"log"

	"github.com/alexlim7/Custom-Background-Sounds/internal/arbiter"
	"github.com/alexlim7/Custom-Background-Sounds/internal/audio"
	"github.com/alexlim7/Custom-Background-Sounds/internal/library"
	"github.com/alexlim7/Custom-Background-Sounds/internal/monitor"
	"github.com/alexlim7/Custom-Background-Sounds/internal/settings"
)

// Options wires the engine to its collaborators
type Options struct {
	Device     audio.Device
	Repository *settings.Repository
	Library    *library.Library
	Monitor    *monitor.Monitor

	// PreviewPath is the bundled sample resource
	PreviewPath string

	// OutputDegraded marks Device as a silent stand-in for a real output
	OutputDegraded bool
}

// Engine is the single coordinating context for playback
type Engine struct {
	inbox chan func()
	done  chan struct{}

	device      audio.Device
	repo        *settings.Repository
	lib         *library.Library
	mon         *monitor.Monitor
	previewPath string

	// Everything below is owned by the Run goroutine
	settings       settings.Settings
	state          State
	sampleState    SampleState
	background     *Channel
	sample         *Channel
	externalMedia  bool
	interrupted    bool
	outputDegraded bool
	lastErr        error

	monitorGen uint64

	loadGen     uint64
	pendingPlay bool
	waiters     []chan error

	subscribers map[int]func(Status)
	nextSubID   int
}

// NewEngine loads persisted settings and returns a stopped engine. Run must
// be started before any other method is called.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		inbox:          make(chan func()),
		done:           make(chan struct{}),
		device:         opts.Device,
		repo:           opts.Repository,
		lib:            opts.Library,
		mon:            opts.Monitor,
		previewPath:    opts.PreviewPath,
		state:          StateStopped,
		sampleState:    SampleIdle,
		outputDegraded: opts.OutputDegraded,
		subscribers:    make(map[int]func(Status)),
	}
	if e.mon == nil {
		e.mon = monitor.New(nil)
	}
	if e.repo == nil {
		e.repo = settings.NewRepository(settings.NewMemoryStore())
	}

	e.background = NewChannel(arbiter.RoleBackground, e.device)
	e.sample = NewChannel(arbiter.RoleSample, e.device)

	s, err := e.repo.Load()
	if err != nil {
		e.fail(ErrPersistence, err)
	}
	e.settings = s
	log.Printf("[ENGINE] Settings loaded: volume=%.2f mediaVolume=%.2f duck=%v stopOnLock=%v autostart=%v file=%q",
		s.MainVolume, s.MediaVolume, s.DuckInsteadOfSilence, s.StopOnLock, s.Autostart, s.LastFile)

	if e.outputDegraded {
		e.fail(ErrCapabilityUnavailable, errOutputUnavailable)
	}

	return e
}

// Run processes queued work until ctx is done, then tears playback down
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	log.Printf("[ENGINE] Running")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case fn := <-e.inbox:
			fn()
		}
	}
}

// Done is closed once Run has returned
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) shutdown() {
	e.leavePlaying()
	e.cancelLoad(ErrClosed)
	e.background.Release()
	e.sample.Release()
	log.Printf("[ENGINE] Stopped")
}

// call runs fn on the engine goroutine and waits for it
func (e *Engine) call(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	wrapped := func() {
		defer close(reply)
		fn()
	}

	select {
	case e.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}

	// The inbox is unbuffered, so a received fn always runs to completion
	<-reply
	return nil
}

// post queues fn without waiting. It gives up if ctx ends or the engine
// stops first, and reports whether fn was queued.
func (e *Engine) post(ctx context.Context, fn func()) bool {
	select {
	case e.inbox <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

// command runs a user-initiated change. The previous error is cleared so
// the status reflects this command's outcome.
func (e *Engine) command(ctx context.Context, fn func() error) error {
	var err error
	if cerr := e.call(ctx, func() {
		e.lastErr = nil
		err = fn()
		e.notify()
	}); cerr != nil {
		return cerr
	}
	return err
}

// fail records err as the observable last error, wrapped in kind
func (e *Engine) fail(kind, err error) error {
	err = kindError(kind, err)
	e.lastErr = err
	log.Printf("[ENGINE] %s: %v", ErrorKind(err), err)
	return err
}

func (e *Engine) input() arbiter.Input {
	return arbiter.Input{
		ExternalMediaActive: e.externalMedia,
		SamplePreviewActive: e.sampleState == SamplePreviewing,
		Settings:            e.settings,
	}
}

// applyBackground re-evaluates and applies the background volume
func (e *Engine) applyBackground() {
	e.background.SetVolume(arbiter.Arbitrate(e.input(), arbiter.RoleBackground))
}

func (e *Engine) applySample() {
	e.sample.SetVolume(arbiter.Arbitrate(e.input(), arbiter.RoleSample))
}

// persist writes the fields that differ from prev. It runs after the change
// has been applied in memory; a failure leaves memory authoritative.
func (e *Engine) persist(prev settings.Settings) {
	if err := e.repo.Save(prev, e.settings); err != nil {
		e.fail(ErrPersistence, err)
	}
}

// Subscribe registers fn to receive a status snapshot after every change.
// fn runs on the engine goroutine: it must not block or call the engine.
func (e *Engine) Subscribe(ctx context.Context, fn func(Status)) (func(), error) {
	var id int
	err := e.call(ctx, func() {
		id = e.nextSubID
		e.nextSubID++
		e.subscribers[id] = fn
		fn(e.snapshot())
	})
	if err != nil {
		return nil, err
	}

	return func() {
		e.post(context.Background(), func() {
			delete(e.subscribers, id)
		})
	}, nil
}

func (e *Engine) notify() {
	if len(e.subscribers) == 0 {
		return
	}
	st := e.snapshot()
	for _, fn := range e.subscribers {
		fn(st)
	}
}

// Status returns the current snapshot
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.call(ctx, func() {
		st = e.snapshot()
	})
	return st, err
}

// Settings returns the current settings
func (e *Engine) Settings(ctx context.Context) (settings.Settings, error) {
	var s settings.Settings
	err := e.call(ctx, func() {
		s = e.settings
	})
	return s, err
}

func (e *Engine) snapshot() Status {
	st := Status{
		State:               e.state,
		IsPlaying:           e.state == StatePlaying,
		SelectedFileName:    e.settings.LastFile,
		Volume:              e.settings.MainVolume,
		MediaVolume:         e.settings.MediaVolume,
		UseWhenMediaPlaying: e.settings.DuckInsteadOfSilence,
		StopWhenLocked:      e.settings.StopOnLock,
		Autostart:           e.settings.Autostart,
		SampleState:         e.sampleState,
		IsSamplePlaying:     e.sampleState == SamplePreviewing,
		Background:          e.background.State(),
		Sample:              e.sample.State(),
		ExternalMediaActive: e.externalMedia,
		MonitorRunning:      e.mon.Running(),
		MonitorDegraded:     e.mon.Degraded(),
		OutputDegraded:      e.outputDegraded,
		Interrupted:         e.interrupted,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
		st.LastErrorKind = ErrorKind(e.lastErr)
	}
	return st
}
