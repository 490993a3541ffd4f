package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexlim7/Custom-Background-Sounds/internal/audio"
	"github.com/alexlim7/Custom-Background-Sounds/internal/library"
	"github.com/alexlim7/Custom-Background-Sounds/internal/lifecycle"
	"github.com/alexlim7/Custom-Background-Sounds/internal/media"
	"github.com/alexlim7/Custom-Background-Sounds/internal/monitor"
	"github.com/alexlim7/Custom-Background-Sounds/internal/settings"
)

type fakeHandle struct {
	mu      sync.Mutex
	content string
	loop    bool
	volume  float64
	playing bool
	starts  int
	closed  bool
}

func (h *fakeHandle) SetLoopForever() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loop = true
}

func (h *fakeHandle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = v
}

func (h *fakeHandle) Start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if !h.playing {
		h.starts++
	}
	h.playing = true
	return true
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

func (h *fakeHandle) Stop() {
	h.Pause()
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.playing = false
	return nil
}

type handleState struct {
	loop    bool
	volume  float64
	playing bool
	starts  int
	closed  bool
}

func (h *fakeHandle) snapshot() handleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return handleState{loop: h.loop, volume: h.volume, playing: h.playing, starts: h.starts, closed: h.closed}
}

// fakeDevice opens any file whose content does not start with "bad".
// When gate is set, Open blocks until it is closed.
type fakeDevice struct {
	mu      sync.Mutex
	handles []*fakeHandle
	gate    chan struct{}
}

func (d *fakeDevice) Open(path string) (audio.Handle, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(data), "bad") {
		return nil, audio.ErrUnsupportedFormat
	}

	h := &fakeHandle{content: string(data)}
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

func (d *fakeDevice) opened() []*fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeHandle(nil), d.handles...)
}

// handleFor returns the most recent handle opened with content
func (d *fakeDevice) handleFor(t *testing.T, content string) *fakeHandle {
	t.Helper()
	hs := d.opened()
	for i := len(hs) - 1; i >= 0; i-- {
		if hs[i].content == content {
			return hs[i]
		}
	}
	t.Fatalf("no handle opened for %q", content)
	return nil
}

type fakeProber struct {
	active atomic.Bool
	fail   atomic.Bool
}

func (p *fakeProber) OtherAudioPlaying(context.Context) (bool, error) {
	if p.fail.Load() {
		return false, errors.New("no session bus")
	}
	return p.active.Load(), nil
}

type harness struct {
	t      *testing.T
	engine *Engine
	device *fakeDevice
	prober *fakeProber
	lib    *library.Library
	store  settings.Store
	srcDir string
}

func newHarness(t *testing.T, store settings.Store) *harness {
	t.Helper()

	if store == nil {
		store = settings.NewMemoryStore()
	}

	lib, err := library.New(filepath.Join(t.TempDir(), "library"))
	require.NoError(t, err)

	srcDir := t.TempDir()
	preview := filepath.Join(srcDir, "preview.wav")
	require.NoError(t, os.WriteFile(preview, []byte("preview"), 0644))

	h := &harness{
		t:      t,
		device: &fakeDevice{},
		prober: &fakeProber{},
		lib:    lib,
		store:  store,
		srcDir: srcDir,
	}

	h.engine = NewEngine(Options{
		Device:      h.device,
		Repository:  settings.NewRepository(store),
		Library:     lib,
		Monitor:     monitor.New(h.prober, monitor.WithInterval(2*time.Millisecond)),
		PreviewPath: preview,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go h.engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.engine.Done()
	})

	return h
}

func (h *harness) source(name, content string) library.Source {
	h.t.Helper()
	p := filepath.Join(h.srcDir, name)
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0644))
	return library.FileSource{Path: p}
}

func (h *harness) status() Status {
	h.t.Helper()
	st, err := h.engine.Status(context.Background())
	require.NoError(h.t, err)
	return st
}

func (h *harness) importFile(name, content string) {
	h.t.Helper()
	require.NoError(h.t, h.engine.Import(context.Background(), h.source(name, content)))
}

// gatedLoad stops playback, holds the next device open, and runs start in
// the background until the engine reports Loading. Closing the returned
// gate lets the load finish; start's result arrives on the channel.
func (h *harness) gatedLoad(start func(context.Context) error) (chan struct{}, <-chan error) {
	h.t.Helper()
	ctx := context.Background()
	require.NoError(h.t, h.engine.Stop(ctx))

	gate := make(chan struct{})
	h.device.mu.Lock()
	h.device.gate = gate
	h.device.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		result <- start(ctx)
	}()

	require.Eventually(h.t, func() bool {
		return h.status().State == StateLoading
	}, 2*time.Second, time.Millisecond)
	return gate, result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("load did not finish")
		return nil
	}
}

func (h *harness) lifecycle(ev lifecycle.Event) {
	h.t.Helper()
	require.NoError(h.t, h.engine.HandleLifecycle(context.Background(), ev))
}

func TestPlayWithoutFile(t *testing.T) {
	h := newHarness(t, nil)

	err := h.engine.Play(context.Background())
	assert.ErrorIs(t, err, ErrNoFileSelected)

	st := h.status()
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, "NoFileSelected", st.LastErrorKind)
}

func TestPlayIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")

	before := h.status()
	require.NoError(t, h.engine.Play(ctx))
	require.NoError(t, h.engine.Play(ctx))
	after := h.status()

	assert.Equal(t, before, after)
	assert.True(t, after.IsPlaying)
	assert.Len(t, h.device.opened(), 1)
	assert.Equal(t, 1, h.device.handleFor(t, "A").snapshot().starts)
}

func TestPauseResumeKeepsResource(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")

	require.NoError(t, h.engine.Pause(ctx))
	st := h.status()
	assert.Equal(t, StatePaused, st.State)
	assert.False(t, st.MonitorRunning)
	assert.Equal(t, "rain.mp3", st.Background.Source)

	require.NoError(t, h.engine.Toggle(ctx))
	assert.Equal(t, StatePlaying, h.status().State)
	assert.Len(t, h.device.opened(), 1)
}

func TestStopReleasesAndPlayReloads(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")
	first := h.device.handleFor(t, "A")

	require.NoError(t, h.engine.Stop(ctx))
	st := h.status()
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.MonitorRunning)
	assert.True(t, first.snapshot().closed)
	assert.Equal(t, "rain.mp3", st.SelectedFileName)

	require.NoError(t, h.engine.Play(ctx))
	st = h.status()
	assert.Equal(t, StatePlaying, st.State)
	assert.True(t, st.MonitorRunning)
	assert.Len(t, h.device.opened(), 2)
	assert.True(t, h.device.handleFor(t, "A").snapshot().loop)
}

func TestLockStop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.ToggleStopWhenLocked(ctx))
	h.importFile("rain.mp3", "A")
	require.True(t, h.status().MonitorRunning)

	h.lifecycle(lifecycle.Event{Kind: lifecycle.DeviceLocked})
	st := h.status()
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.MonitorRunning)
	assert.True(t, h.device.handleFor(t, "A").snapshot().closed)

	// Further locks while stopped change nothing
	h.lifecycle(lifecycle.Event{Kind: lifecycle.DeviceLocked})
	assert.Equal(t, st, h.status())
}

func TestLockIgnoredWhenStopOnLockOff(t *testing.T) {
	h := newHarness(t, nil)
	h.importFile("rain.mp3", "A")

	h.lifecycle(lifecycle.Event{Kind: lifecycle.DeviceLocked})
	assert.Equal(t, StatePlaying, h.status().State)
}

func TestImportReplace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("a.mp3", "A")
	require.NoError(t, h.engine.SetVolume(ctx, 0.6))

	h.importFile("b.mp3", "B")

	st := h.status()
	assert.Equal(t, "b.mp3", st.SelectedFileName)
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, 0.6, st.Volume)
	assert.Equal(t, 0.6, st.Background.CurrentVolume)
	assert.True(t, h.device.handleFor(t, "B").snapshot().playing)
	assert.True(t, h.device.handleFor(t, "A").snapshot().closed)

	assert.False(t, h.lib.Exists("a.mp3"))
	assert.True(t, h.lib.Exists("b.mp3"))

	v, ok, err := h.store.Get(settings.KeyLastFile)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b.mp3", v)
}

func TestImportSameNameReplacesContent(t *testing.T) {
	h := newHarness(t, nil)
	h.importFile("a.mp3", "first")
	h.importFile("a.mp3", "second")

	data, err := os.ReadFile(h.lib.Path("a.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, "a.mp3", h.status().SelectedFileName)
}

func TestImportFailureKeepsPrevious(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("a.mp3", "A")

	err := h.engine.Import(ctx, h.source("corrupt.mp3", "bad data"))
	assert.ErrorIs(t, err, ErrResourceLoad)

	err = h.engine.Import(ctx, library.FileSource{Path: filepath.Join(h.srcDir, "missing.mp3")})
	assert.ErrorIs(t, err, ErrImport)

	st := h.status()
	assert.Equal(t, "a.mp3", st.SelectedFileName)
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, "ImportFailure", st.LastErrorKind)
	assert.True(t, h.device.handleFor(t, "A").snapshot().playing)

	entries, err := os.ReadDir(h.lib.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.mp3", entries[0].Name())
}

func TestPlayMissingFileFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("a.mp3", "A")
	require.NoError(t, h.engine.Stop(ctx))
	require.NoError(t, h.lib.Remove("a.mp3"))

	err := h.engine.Play(ctx)
	assert.ErrorIs(t, err, ErrResourceLoad)
	assert.Equal(t, StateStopped, h.status().State)
}

func TestInterruptionResume(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.SetVolume(ctx, 0.8))
	require.NoError(t, h.engine.SetMediaVolume(ctx, 0.3))
	h.importFile("rain.mp3", "A")
	require.Equal(t, 0.8, h.status().Background.CurrentVolume)

	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionBegan})
	st := h.status()
	assert.False(t, st.IsPlaying)
	assert.True(t, st.Interrupted)
	assert.False(t, st.MonitorRunning)

	// Other media started while we were interrupted
	h.prober.active.Store(true)

	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionEnded, ShouldResume: true})
	st = h.status()
	assert.True(t, st.IsPlaying)
	assert.False(t, st.Interrupted)
	assert.True(t, st.ExternalMediaActive)
	assert.Equal(t, 0.3, st.Background.CurrentVolume)
	assert.True(t, st.MonitorRunning)
}

func TestInterruptionEndedWithoutResume(t *testing.T) {
	h := newHarness(t, nil)
	h.importFile("rain.mp3", "A")

	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionBegan})
	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionEnded, ShouldResume: false})

	st := h.status()
	assert.False(t, st.IsPlaying)
	assert.False(t, st.Interrupted)

	// A later resume signal does not restart what the user must resume
	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionEnded, ShouldResume: true})
	assert.False(t, h.status().IsPlaying)
}

func TestInterruptionWhileStoppedIsNoOp(t *testing.T) {
	h := newHarness(t, nil)

	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionBegan})
	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionEnded, ShouldResume: true})
	assert.Equal(t, StateStopped, h.status().State)
}

func TestInterruptionDuringLoadThenResume(t *testing.T) {
	h := newHarness(t, nil)
	h.importFile("rain.mp3", "A")

	gate, result := h.gatedLoad(h.engine.Play)
	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionBegan})
	close(gate)
	require.NoError(t, waitResult(t, result))

	st := h.status()
	assert.Equal(t, StatePaused, st.State)
	assert.True(t, st.Interrupted)
	assert.False(t, st.MonitorRunning)

	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionEnded, ShouldResume: true})
	st = h.status()
	assert.Equal(t, StatePlaying, st.State)
	assert.False(t, st.Interrupted)
	assert.True(t, st.MonitorRunning)
	assert.True(t, h.device.opened()[1].snapshot().playing)
}

func TestInterruptedLoadFailureClearsInterruption(t *testing.T) {
	h := newHarness(t, nil)
	h.importFile("rain.mp3", "A")
	require.NoError(t, os.WriteFile(h.lib.Path("rain.mp3"), []byte("bad data"), 0644))

	gate, result := h.gatedLoad(h.engine.Play)
	h.lifecycle(lifecycle.Event{Kind: lifecycle.InterruptionBegan})
	close(gate)
	assert.ErrorIs(t, waitResult(t, result), ErrResourceLoad)

	st := h.status()
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.Interrupted)
	assert.Equal(t, "ResourceLoadFailure", st.LastErrorKind)
}

func TestToggleDuringLoadJoinsIt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")

	gate, first := h.gatedLoad(h.engine.Toggle)
	second := make(chan error, 1)
	go func() {
		second <- h.engine.Toggle(ctx)
	}()
	require.Eventually(t, func() bool {
		var waiting int
		if err := h.engine.call(ctx, func() { waiting = len(h.engine.waiters) }); err != nil {
			return false
		}
		return waiting == 2
	}, 2*time.Second, time.Millisecond)
	close(gate)

	require.NoError(t, waitResult(t, first))
	require.NoError(t, waitResult(t, second))
	assert.Equal(t, StatePlaying, h.status().State)
	assert.Len(t, h.device.opened(), 2)

	require.NoError(t, h.engine.Toggle(ctx))
	assert.Equal(t, StatePaused, h.status().State)
}

func TestToggleAlongsideLifecycleKeepsStateConsistent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, h.engine.Toggle(ctx))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			kind := lifecycle.InterruptionBegan
			if i%2 == 1 {
				kind = lifecycle.InterruptionEnded
			}
			assert.NoError(t, h.engine.HandleLifecycle(ctx, lifecycle.Event{Kind: kind, ShouldResume: true}))
		}
	}()
	wg.Wait()

	st := h.status()
	assert.Contains(t, []State{StatePlaying, StatePaused}, st.State)
	assert.Equal(t, st.State == StatePlaying, st.MonitorRunning)
	assert.Equal(t, st.State == StatePlaying, h.device.handleFor(t, "A").snapshot().playing)
	assert.Len(t, h.device.opened(), 1)
}

func TestProberFailureDegradesToMainVolume(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.SetVolume(ctx, 0.7))
	require.NoError(t, h.engine.SetMediaVolume(ctx, 0.2))
	h.prober.active.Store(true)
	h.prober.fail.Store(true)

	h.importFile("rain.mp3", "A")

	st := h.status()
	assert.Equal(t, StatePlaying, st.State)
	assert.False(t, st.ExternalMediaActive)
	assert.True(t, st.MonitorDegraded)
	assert.Equal(t, 0.7, st.Background.CurrentVolume)
	assert.Equal(t, "CapabilityUnavailable", st.LastErrorKind)
}

func TestSamplePreviewDucking(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.SetVolume(ctx, 0.8))
	require.NoError(t, h.engine.SetMediaVolume(ctx, 0.3))
	h.importFile("rain.mp3", "A")
	bg := h.device.handleFor(t, "A")
	assert.Equal(t, 0.8, bg.snapshot().volume)

	require.NoError(t, h.engine.PlaySample(ctx))
	st := h.status()
	assert.True(t, st.IsSamplePlaying)
	assert.False(t, st.ExternalMediaActive)
	assert.Equal(t, 0.3, bg.snapshot().volume)
	assert.Equal(t, 0.8, st.Sample.CurrentVolume)
	assert.True(t, st.IsPlaying, "preview must not pause the background")

	require.NoError(t, h.engine.StopSample(ctx))
	st = h.status()
	assert.False(t, st.IsSamplePlaying)
	assert.Equal(t, 0.8, bg.snapshot().volume)

	// The preview resource is loaded once and reused
	require.NoError(t, h.engine.PlaySample(ctx))
	require.NoError(t, h.engine.StopSample(ctx))
	previews := 0
	for _, hd := range h.device.opened() {
		if hd.content == "preview" {
			previews++
		}
	}
	assert.Equal(t, 1, previews)
}

func TestSampleSilencesWhenNotDucking(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.ToggleUseWhenMediaPlaying(ctx))
	h.importFile("rain.mp3", "A")

	require.NoError(t, h.engine.PlaySample(ctx))
	assert.Equal(t, 0.0, h.status().Background.CurrentVolume)
	assert.True(t, h.status().IsPlaying)
}

func TestAppBackgroundedStopsSample(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")
	require.NoError(t, h.engine.PlaySample(ctx))

	h.lifecycle(lifecycle.Event{Kind: lifecycle.AppBackgrounded})
	st := h.status()
	assert.Equal(t, SampleIdle, st.SampleState)
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, st.Volume, st.Background.CurrentVolume)
}

func TestExternalMediaEdgeRearbitrates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")
	st := h.status()
	require.Equal(t, st.Volume, st.Background.CurrentVolume)

	h.prober.active.Store(true)
	assert.Eventually(t, func() bool {
		return h.status().Background.CurrentVolume == st.MediaVolume
	}, 2*time.Second, 5*time.Millisecond)

	// Policy change applies immediately while media is active
	require.NoError(t, h.engine.ToggleUseWhenMediaPlaying(ctx))
	assert.Equal(t, 0.0, h.status().Background.CurrentVolume)

	h.prober.active.Store(false)
	assert.Eventually(t, func() bool {
		return h.status().Background.CurrentVolume == st.Volume
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopDuringLoadDropsResult(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")

	gate, played := h.gatedLoad(h.engine.Play)
	require.NoError(t, h.engine.Stop(ctx))
	close(gate)
	assert.NoError(t, waitResult(t, played))

	assert.Eventually(t, func() bool {
		hs := h.device.opened()
		return len(hs) == 2 && hs[1].snapshot().closed
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateStopped, h.status().State)
}

func TestAutostart(t *testing.T) {
	store := settings.NewMemoryStore()
	h := newHarness(t, store)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")
	require.NoError(t, h.engine.ToggleAutostart(ctx))

	// A second engine over the same store and library simulates a relaunch
	second := NewEngine(Options{
		Device:     h.device,
		Repository: settings.NewRepository(store),
		Library:    h.lib,
		Monitor:    monitor.New(h.prober, monitor.WithInterval(2*time.Millisecond)),
	})
	runCtx, cancel := context.WithCancel(ctx)
	go second.Run(runCtx)
	defer func() {
		cancel()
		<-second.Done()
	}()

	require.NoError(t, second.Autostart(ctx))
	st, err := second.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePlaying, st.State)
	assert.True(t, st.Autostart)
}

func TestAutostartSkipsMissingFile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.importFile("rain.mp3", "A")
	require.NoError(t, h.engine.ToggleAutostart(ctx))
	require.NoError(t, h.engine.Stop(ctx))
	require.NoError(t, h.lib.Remove("rain.mp3"))

	require.NoError(t, h.engine.Autostart(ctx))
	assert.Equal(t, StateStopped, h.status().State)
}

type brokenStore struct{}

func (brokenStore) Get(string) (string, bool, error) { return "", false, nil }
func (brokenStore) Set(string, string) error       { return errors.New("disk full") }

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	h := newHarness(t, brokenStore{})

	err := h.engine.SetVolume(context.Background(), 0.9)
	assert.ErrorIs(t, err, ErrPersistence)

	st := h.status()
	assert.Equal(t, 0.9, st.Volume)
	assert.Equal(t, "PersistenceFailure", st.LastErrorKind)
}

func TestVolumesAreClamped(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.SetVolume(ctx, 3))
	require.NoError(t, h.engine.SetMediaVolume(ctx, -1))

	st := h.status()
	assert.Equal(t, 1.0, st.Volume)
	assert.Equal(t, 0.0, st.MediaVolume)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var states []State
	unsubscribe, err := h.engine.Subscribe(ctx, func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st.State)
	})
	require.NoError(t, err)

	h.importFile("rain.mp3", "A")
	unsubscribe()
	require.NoError(t, h.engine.Pause(ctx))
	h.status() // flushes the unsubscribe

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, StateStopped, states[0])
	assert.Equal(t, StatePlaying, states[len(states)-1])
}

func TestOnCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.importFile("rain.mp3", "A")

	require.NoError(t, h.engine.OnCommand(media.CmdPlayPause, nil))
	assert.Equal(t, StatePaused, h.status().State)
	require.NoError(t, h.engine.OnCommand(media.CmdPlay, nil))
	assert.Equal(t, StatePlaying, h.status().State)
	require.NoError(t, h.engine.OnCommand(media.CmdSetVolume, 0.25))
	assert.Equal(t, 0.25, h.status().Volume)
	assert.Error(t, h.engine.OnCommand(media.CmdSetVolume, "loud"))
	require.NoError(t, h.engine.OnCommand(media.CmdStop, nil))
	assert.Equal(t, StateStopped, h.status().State)
}

type recordingSession struct {
	media.NoOpSession
	states []media.PlaybackState
	titles []string
}

func (s *recordingSession) UpdatePlaybackState(state media.PlaybackState) error {
	s.states = append(s.states, state)
	return nil
}

func (s *recordingSession) UpdateMetadata(m media.Metadata) error {
	s.titles = append(s.titles, m.Title)
	return nil
}

func TestMirrorToSendsChangesOnly(t *testing.T) {
	s := &recordingSession{}
	mirror := MirrorTo(s)

	mirror(Status{State: StateStopped})
	mirror(Status{State: StateStopped})
	mirror(Status{State: StatePlaying, SelectedFileName: "rain.mp3"})
	mirror(Status{State: StatePaused, SelectedFileName: "rain.mp3"})

	assert.Equal(t, []media.PlaybackState{media.StateStopped, media.StatePlaying, media.StatePaused}, s.states)
	assert.Equal(t, []string{"", "rain.mp3"}, s.titles)
}

func TestReactorRunsUntilChannelCloses(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.ToggleStopWhenLocked(ctx))
	h.importFile("rain.mp3", "A")

	events := make(chan lifecycle.Event, 1)
	events <- lifecycle.Event{Kind: lifecycle.DeviceLocked, Source: "test"}
	close(events)

	NewReactor(h.engine).Run(ctx, events)
	assert.Equal(t, StateStopped, h.status().State)
}

func TestCallsFailAfterShutdown(t *testing.T) {
	e := NewEngine(Options{Device: &fakeDevice{}})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()
	<-e.Done()

	_, err := e.Status(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
