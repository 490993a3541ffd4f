// Package config handles daemon configuration file management.
//
// The file at <configDir>/config.json is the base layer. AMBIENTD_*
// environment variables override it for the running process only and are
// never written back.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "AMBIENTD_"

// Config represents the daemon configuration
type Config struct {
	// DataDir holds the imported sound and the generated preview
	DataDir string `json:"dataDir" env:"DATA_DIR, overwrite" validate:"required"`

	// SocketPath is where the IPC server listens
	SocketPath string `json:"socketPath" env:"SOCKET, overwrite" validate:"required"`

	// PreviewPath points at the sample preview loop. Empty means the
	// daemon generates one in DataDir.
	PreviewPath string `json:"previewPath,omitempty" env:"PREVIEW_PATH, overwrite"`

	Monitor MonitorConfig `json:"monitor"`
	Audio   AudioConfig   `json:"audio"`
	S3      S3Config      `json:"s3"`
}

// MonitorConfig controls the external media monitor
type MonitorConfig struct {
	// PollIntervalMs is how often other players are queried while playing
	PollIntervalMs int `json:"pollIntervalMs" env:"POLL_INTERVAL_MS, overwrite" validate:"min=50,max=5000"`

	// QueryTimeoutMs bounds one query
	QueryTimeoutMs int `json:"queryTimeoutMs" env:"MEDIA_QUERY_TIMEOUT_MS, overwrite" validate:"min=10,max=5000"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate" env:"SAMPLE_RATE, overwrite" validate:"oneof=22050 44100 48000"`

	// BufferSizeMs is the per-player buffer. 0 keeps the driver default.
	BufferSizeMs int `json:"bufferSizeMs" env:"BUFFER_SIZE_MS, overwrite" validate:"min=0,max=2000"`

	// DecodeTimeoutMs bounds loading one file
	DecodeTimeoutMs int `json:"decodeTimeoutMs" env:"DECODE_TIMEOUT_MS, overwrite" validate:"min=100,max=600000"`
}

// S3Config enables s3:// imports. Credentials come from the environment
// only and fall back to the default AWS chain.
type S3Config struct {
	Region          string `json:"region,omitempty" env:"S3_REGION, overwrite"`
	Endpoint        string `json:"endpoint,omitempty" env:"S3_ENDPOINT, overwrite" validate:"omitempty,url"`
	AccessKeyID     string `json:"-" env:"S3_ACCESS_KEY_ID, overwrite"`
	SecretAccessKey string `json:"-" env:"S3_SECRET_ACCESS_KEY, overwrite"`
}

// Enabled reports whether s3:// imports should be offered
func (c S3Config) Enabled() bool {
	return c.Region != "" || c.Endpoint != ""
}

// PollInterval returns the monitor interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

// QueryTimeout returns the media query timeout as a duration
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Monitor.QueryTimeoutMs) * time.Millisecond
}

// DecodeTimeout returns the load timeout as a duration
func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.Audio.DecodeTimeoutMs) * time.Millisecond
}

// BufferSize returns the player buffer as a duration
func (c *Config) BufferSize() time.Duration {
	return time.Duration(c.Audio.BufferSizeMs) * time.Millisecond
}

// LibraryDir is where imported files are kept
func (c *Config) LibraryDir() string {
	return filepath.Join(c.DataDir, "library")
}

// ResolvedPreviewPath returns PreviewPath, or the generated file in DataDir
func (c *Config) ResolvedPreviewPath() string {
	if c.PreviewPath != "" {
		return c.PreviewPath
	}
	return filepath.Join(c.DataDir, "preview.wav")
}

// DefaultConfig returns the default configuration for a config directory
func DefaultConfig(configDir string) *Config {
	return &Config{
		DataDir:    configDir,
		SocketPath: fmt.Sprintf("/tmp/ambientd-%d.sock", os.Getuid()),
		Monitor: MonitorConfig{
			PollIntervalMs: 250,
			QueryTimeoutMs: 200,
		},
		Audio: AudioConfig{
			SampleRate:      44100,
			BufferSizeMs:    0,
			DecodeTimeoutMs: 30000,
		},
	}
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	lookuper   envconfig.Lookuper
	validate   *validator.Validate

	stored *Config // what is on disk
	config *Config // stored plus environment overrides
}

// NewManager creates a new configuration manager reading overrides from
// the process environment
func NewManager(configDir string) *Manager {
	return NewManagerWithLookuper(configDir, envconfig.OsLookuper())
}

// NewManagerWithLookuper is NewManager with an explicit source of
// environment values. The AMBIENTD_ prefix is added here.
func NewManagerWithLookuper(configDir string, l envconfig.Lookuper) *Manager {
	cfg := DefaultConfig(configDir)
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		lookuper:   envconfig.PrefixLookuper(EnvPrefix, l),
		validate:   validator.New(),
		stored:     cfg,
		config:     cfg,
	}
}

// Load reads the configuration from disk, applies environment overrides
// and validates the result
func (m *Manager) Load() error {
	// Ensure config directory exists
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	stored := DefaultConfig(m.configDir)
	data, err := os.ReadFile(m.configPath)
	switch {
	case os.IsNotExist(err):
		m.stored = stored
		if err := m.Save(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		// Start with defaults so missing keys keep them
		if err := json.Unmarshal(data, stored); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		m.stored = stored
	}

	effective, err := m.resolve(m.stored)
	if err != nil {
		return err
	}
	m.config = effective
	return nil
}

func (m *Manager) resolve(stored *Config) (*Config, error) {
	cfg := *stored
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: m.lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := m.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the stored configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write through a temp file so a crash never leaves half a config
	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns the effective configuration
func (m *Manager) Get() *Config {
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update validates config with overrides applied, then stores and saves it
func (m *Manager) Update(config *Config) error {
	effective, err := m.resolve(config)
	if err != nil {
		return err
	}
	m.stored = config
	m.config = effective
	return m.Save()
}
