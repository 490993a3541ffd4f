package lifecycle

import (
	"context"
	"log"
	"sync"
)

// Source produces events until ctx is done or it fails
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Event) error
}

// Merge runs every source and fans their events into one channel. The
// channel is closed once all sources have returned. A source that fails is
// logged and the others keep running.
func Merge(ctx context.Context, sources ...Source) <-chan Event {
	out := make(chan Event, 8)

	var wg sync.WaitGroup
	for _, src := range sources {
		if src == nil {
			continue
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			if err := src.Run(ctx, out); err != nil && ctx.Err() == nil {
				log.Printf("[LIFECYCLE] Source %s stopped: %v", src.Name(), err)
			}
		}(src)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// ManualSource delivers events handed to it by Deliver, for example from
// IPC clients reporting that they went to the background
type ManualSource struct {
	name string
	ch   chan Event
}

// NewManualSource creates a source named name
func NewManualSource(name string) *ManualSource {
	return &ManualSource{name: name, ch: make(chan Event)}
}

func (s *ManualSource) Name() string {
	return s.name
}

// Deliver blocks until the event is taken or ctx is done
func (s *ManualSource) Deliver(ctx context.Context, ev Event) error {
	if ev.Source == "" {
		ev.Source = s.name
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run forwards delivered events until ctx is done
func (s *ManualSource) Run(ctx context.Context, out chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.ch:
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
