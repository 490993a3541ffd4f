package playback

import (
	"context"
	"log"

	"github.com/alexlim7/Custom-Background-Sounds/internal/lifecycle"
)

// Reactor feeds lifecycle events to the engine. Reactions override the
// normal state machine and do not go through arbitration.
type Reactor struct {
	engine *Engine
}

// NewReactor creates a reactor for engine
func NewReactor(engine *Engine) *Reactor {
	return &Reactor{engine: engine}
}

// Run handles events until the channel closes or ctx is done
func (r *Reactor) Run(ctx context.Context, events <-chan lifecycle.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.engine.HandleLifecycle(ctx, ev); err != nil {
				log.Printf("[LIFECYCLE] Dropped %s: %v", ev, err)
			}
		}
	}
}

// HandleLifecycle applies one lifecycle event
func (e *Engine) HandleLifecycle(ctx context.Context, ev lifecycle.Event) error {
	return e.call(ctx, func() {
		e.react(ev)
		e.notify()
	})
}

func (e *Engine) react(ev lifecycle.Event) {
	switch ev.Kind {
	case lifecycle.InterruptionBegan:
		switch e.state {
		case StatePlaying:
			e.background.Pause()
			e.leavePlaying()
			e.state = StatePaused
			e.interrupted = true
			log.Printf("[LIFECYCLE] %s: background paused", ev)
		case StateLoading:
			e.pendingPlay = false
			e.interrupted = true
			log.Printf("[LIFECYCLE] %s: load will finish paused", ev)
		default:
			log.Printf("[LIFECYCLE] %s: nothing playing, no action", ev)
		}

	case lifecycle.InterruptionEnded:
		if !e.interrupted {
			log.Printf("[LIFECYCLE] %s: playback was not interrupted, no action", ev)
			return
		}
		e.interrupted = false
		if !ev.ShouldResume {
			log.Printf("[LIFECYCLE] %s: staying paused until resumed by the user", ev)
			return
		}
		if e.state != StatePaused {
			log.Printf("[LIFECYCLE] %s: background is %s, not resuming", ev, e.state)
			return
		}
		if err := e.enterPlaying(); err != nil {
			log.Printf("[LIFECYCLE] %s: resume failed: %v", ev, err)
			return
		}
		log.Printf("[LIFECYCLE] %s: background resumed", ev)

	case lifecycle.DeviceLocked:
		if !e.settings.StopOnLock {
			log.Printf("[LIFECYCLE] %s: stop on lock is off, no action", ev)
			return
		}
		if e.state == StateStopped {
			log.Printf("[LIFECYCLE] %s: already stopped, no action", ev)
			return
		}
		e.stop("device locked")
		log.Printf("[LIFECYCLE] %s: background stopped", ev)

	case lifecycle.AppBackgrounded:
		if e.sampleState != SamplePreviewing {
			log.Printf("[LIFECYCLE] %s: no preview running, no action", ev)
			return
		}
		e.stopSample("app backgrounded")
		log.Printf("[LIFECYCLE] %s: sample preview stopped", ev)

	default:
		log.Printf("[LIFECYCLE] Ignoring unknown event %s", ev)
	}
}
