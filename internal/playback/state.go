package playback

import (
	"errors"
	"fmt"
)

// State is the background channel's state
type State string

const (
	StateStopped State = "stopped"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// SampleState is the sample channel's state
type SampleState string

const (
	SampleIdle       SampleState = "idle"
	SamplePreviewing SampleState = "previewing"
)

// Error kinds. Every failure the engine records wraps exactly one of these.
var (
	ErrResourceLoad          = errors.New("resource load failure")
	ErrImport                = errors.New("import failure")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrPersistence           = errors.New("persistence failure")
	ErrNoFileSelected        = errors.New("no file selected")

	// ErrClosed is returned once the engine has stopped running
	ErrClosed = errors.New("engine is not running")
)

// ErrorKind names the kind of err for clients
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResourceLoad):
		return "ResourceLoadFailure"
	case errors.Is(err, ErrImport):
		return "ImportFailure"
	case errors.Is(err, ErrCapabilityUnavailable):
		return "CapabilityUnavailable"
	case errors.Is(err, ErrPersistence):
		return "PersistenceFailure"
	case errors.Is(err, ErrNoFileSelected):
		return "NoFileSelected"
	default:
		return "Unknown"
	}
}

func kindError(kind, err error) error {
	switch {
	case err == nil:
		return kind
	case errors.Is(err, kind):
		return err
	default:
		return fmt.Errorf("%w: %w", kind, err)
	}
}

// Status is a snapshot of everything a client can observe
type Status struct {
	State            State   `json:"state"`
	IsPlaying        bool    `json:"isPlaying"`
	SelectedFileName string  `json:"selectedFileName,omitempty"`
	Volume           float64 `json:"volume"`
	MediaVolume      float64 `json:"mediaVolume"`

	UseWhenMediaPlaying bool `json:"useWhenMediaPlaying"`
	StopWhenLocked      bool `json:"stopWhenLocked"`
	Autostart           bool `json:"autostart"`

	SampleState     SampleState `json:"sampleState"`
	IsSamplePlaying bool        `json:"isSamplePlaying"`

	Background ChannelState `json:"background"`
	Sample     ChannelState `json:"sample"`

	ExternalMediaActive bool `json:"externalMediaActive"`
	MonitorRunning      bool `json:"monitorRunning"`
	MonitorDegraded     bool `json:"monitorDegraded"`
	OutputDegraded      bool `json:"outputDegraded"`
	Interrupted         bool `json:"interrupted"`

	LastError     string `json:"lastError,omitempty"`
	LastErrorKind string `json:"lastErrorKind,omitempty"`
}
