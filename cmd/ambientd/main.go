// Package main is the entry point for the ambientd daemon.
// ambientd loops one imported sound in the background, keeps its volume
// out of the way of other media, and is driven by clients over IPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alexlim7/Custom-Background-Sounds/internal/audio"
	"github.com/alexlim7/Custom-Background-Sounds/internal/config"
	"github.com/alexlim7/Custom-Background-Sounds/internal/ipc"
	"github.com/alexlim7/Custom-Background-Sounds/internal/library"
	"github.com/alexlim7/Custom-Background-Sounds/internal/lifecycle"
	"github.com/alexlim7/Custom-Background-Sounds/internal/media"
	"github.com/alexlim7/Custom-Background-Sounds/internal/monitor"
	"github.com/alexlim7/Custom-Background-Sounds/internal/playback"
	"github.com/alexlim7/Custom-Background-Sounds/internal/settings"
)

// Version is set at build time via ldflags
var Version = "dev"

// Flags holds command line options
type Flags struct {
	SocketPath string
	ConfigDir  string
	Verbose    bool
}

func main() {
	flags := parseFlags()

	log.Printf("ambientd version %s starting...", Version)

	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, flags); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.SocketPath, "socket", "", "IPC socket path (default: from config)")
	flag.StringVar(&f.ConfigDir, "config", "", "Configuration directory (default: ~/.config/ambientd)")
	flag.BoolVar(&f.Verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	if f.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		f.ConfigDir = filepath.Join(homeDir, ".config", "ambientd")
	}

	return f
}

func run(ctx context.Context, flags *Flags) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	configMgr := config.NewManager(flags.ConfigDir)
	if err := configMgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	log.Printf("[CONFIG] Loaded %s", configMgr.GetPath())

	socketPath := cfg.SocketPath
	if flags.SocketPath != "" {
		socketPath = flags.SocketPath
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Settings survive a broken store, they just stop persisting
	var store settings.Store
	fileStore, err := settings.NewFileStore(flags.ConfigDir)
	if err != nil {
		log.Printf("[SETTINGS] Warning: %v", err)
		log.Printf("[SETTINGS] Continuing with in-memory settings")
		store = settings.NewMemoryStore()
	} else {
		log.Printf("[SETTINGS] Using %s", fileStore.GetFilePath())
		store = fileStore
	}

	lib, err := library.New(cfg.LibraryDir())
	if err != nil {
		return fmt.Errorf("failed to open library: %w", err)
	}

	registry := audio.DefaultRegistry()
	var device audio.Device
	outputDegraded := false
	otoDevice, err := audio.NewOtoDevice(cfg.Audio.SampleRate,
		audio.WithRegistry(registry),
		audio.WithDecodeTimeout(cfg.DecodeTimeout()),
		audio.WithBufferSize(cfg.BufferSize()),
	)
	if err != nil {
		log.Printf("[AUDIO] Warning: failed to open audio output: %v", err)
		log.Printf("[AUDIO] Continuing without sound")
		device = audio.NewNullDevice(registry)
		outputDegraded = true
	} else {
		device = otoDevice
	}

	previewPath := cfg.ResolvedPreviewPath()
	if cfg.PreviewPath == "" {
		if err := audio.EnsurePreview(previewPath, cfg.Audio.SampleRate); err != nil {
			log.Printf("[AUDIO] Warning: failed to create preview sample: %v", err)
		}
	}

	prober, err := media.NewProber()
	if err != nil {
		log.Printf("[MONITOR] Warning: %v", err)
		log.Printf("[MONITOR] Other media will be treated as silent")
	} else {
		defer prober.Close()
		if v, ok := prober.(interface{ SetVerbose(bool) }); ok {
			v.SetVerbose(flags.Verbose)
		}
	}
	var mon *monitor.Monitor
	if prober != nil {
		mon = monitor.New(prober,
			monitor.WithInterval(cfg.PollInterval()),
			monitor.WithTimeout(cfg.QueryTimeout()),
			monitor.WithVerbose(flags.Verbose),
		)
	}

	engine := playback.NewEngine(playback.Options{
		Device:         device,
		Repository:     settings.NewRepository(store),
		Library:        lib,
		Monitor:        mon,
		PreviewPath:    previewPath,
		OutputDegraded: outputDegraded,
	})

	// Goroutines below exit on ctx, so cancel before waiting on them
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	// Initialize media session (platform-specific)
	mediaSession, err := media.NewSession()
	if err != nil {
		log.Printf("[MEDIA] Warning: failed to initialize media session: %v", err)
		log.Printf("[MEDIA] Continuing without OS media integration")
		mediaSession = media.NewNoOpSession()
	} else {
		log.Printf("[MEDIA] Media session initialized successfully")
	}
	defer mediaSession.Close()

	mediaSession.SetCommandHandler(engine)
	unmirror, err := engine.Subscribe(ctx, playback.MirrorTo(mediaSession))
	if err != nil {
		return fmt.Errorf("failed to mirror state to media session: %w", err)
	}
	defer unmirror()

	// Lifecycle: desktop signals plus whatever clients report over IPC
	manual := lifecycle.NewManualSource("ipc")
	events := lifecycle.Merge(ctx, lifecycle.NewDBusSource(flags.Verbose), manual)
	wg.Add(1)
	go func() {
		defer wg.Done()
		playback.NewReactor(engine).Run(ctx, events)
	}()

	if err := engine.Autostart(ctx); err != nil {
		log.Printf("[ENGINE] Autostart failed: %v", err)
	}

	var s3Client *s3.Client
	if cfg.S3.Enabled() {
		s3Client, err = library.NewS3Client(ctx, library.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			log.Printf("[LIBRARY] Warning: s3 imports disabled: %v", err)
			s3Client = nil
		}
	}

	server, err := ipc.NewServer(ipc.Options{
		SocketPath: socketPath,
		Config:     configMgr,
		Engine:     engine,
		Resolver:   library.NewResolver(s3Client),
		Lifecycle:  manual,
		Verbose:    flags.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize IPC server: %w", err)
	}

	log.Printf("Starting IPC server on %s", socketPath)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}

	return nil
}
