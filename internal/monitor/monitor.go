// Package monitor watches whether audio from other applications is audible
// and reports only the changes.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the prober is queried while running
const DefaultInterval = 250 * time.Millisecond

// ErrUnavailable is returned by probers that cannot query media state at all
var ErrUnavailable = errors.New("media state query unavailable")

// Prober answers "is audio outside this process currently audible".
// Implementations must return quickly.
type Prober interface {
	OtherAudioPlaying(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) (bool, error)

// OtherAudioPlaying calls f
func (f ProberFunc) OtherAudioPlaying(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Notify receives edges. ctx is cancelled when the monitor is stopped, so
// implementations that hand the value to another goroutine must give up
// when it is done.
type Notify func(ctx context.Context, active bool)

// Monitor polls a Prober on a fixed interval while started.
//
// Start and Stop are called from the owning goroutine only.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	verbose  bool

	cancel context.CancelFunc
	done   chan struct{}

	degraded atomic.Bool
	mu       sync.Mutex
	lastErr  error
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval overrides the polling interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each prober query
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithVerbose logs every tick
func WithVerbose(v bool) Option {
	return func(m *Monitor) {
		m.verbose = v
	}
}

// New creates a stopped monitor. A nil prober puts the monitor in degraded
// mode from the start.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: DefaultInterval,
		timeout:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Probe queries the prober once. Any failure is treated as "no external
// media" and flips the monitor into degraded mode, logged once.
func (m *Monitor) Probe() bool {
	if m.prober == nil {
		m.degrade(ErrUnavailable)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	active, err := m.prober.OtherAudioPlaying(ctx)
	if err != nil {
		m.degrade(err)
		return false
	}

	if m.degraded.CompareAndSwap(true, false) {
		log.Printf("[MONITOR] Media state query recovered")
	}
	return active
}

func (m *Monitor) degrade(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()

	if m.degraded.CompareAndSwap(false, true) {
		log.Printf("[MONITOR] Degraded mode, assuming no external media: %v", err)
	}
}

// Degraded reports whether the last query failed
func (m *Monitor) Degraded() bool {
	return m.degraded.Load()
}

// LastError returns the error that caused degraded mode, if any
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.degraded.Load() {
		return nil
	}
	return m.lastErr
}

// Running reports whether the polling goroutine is active
func (m *Monitor) Running() bool {
	return m.cancel != nil
}

// Start begins polling. seed is the value the caller already acted on, so the
// first notification is the first change away from it. Starting a running
// monitor restarts it.
func (m *Monitor) Start(seed bool, notify Notify) {
	m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.loop(ctx, seed, notify)
	}()
}

func (m *Monitor) loop(ctx context.Context, seed bool, notify Notify) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	edges := NewEdgeDetector(seed)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := m.Probe()
			if m.verbose {
				log.Printf("[MONITOR] Tick: external media active=%v", active)
			}
			if edges.Observe(active) {
				log.Printf("[MONITOR] External media changed: active=%v", active)
				notify(ctx, active)
			}
		}
	}
}

// Stop cancels polling and waits for the goroutine to exit. Safe to call
// when not running.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// EdgeDetector turns a stream of observations into change events
type EdgeDetector struct {
	last bool
}

// NewEdgeDetector starts from an already-observed value
func NewEdgeDetector(initial bool) *EdgeDetector {
	return &EdgeDetector{last: initial}
}

// Observe records v and reports whether it differs from the previous value
func (e *EdgeDetector) Observe(v bool) bool {
	if v == e.last {
		return false
	}
	e.last = v
	return true
}
