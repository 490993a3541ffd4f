// Package settings holds the persisted playback settings and the key-value
// store contract they are written through.
package settings

import (
	"errors"
	"fmt"
	"strconv"
)

// Keys used in the key-value store, one per Settings field
const (
	KeyLastFile             = "lastFileIdentifier"
	KeyMainVolume           = "mainVolume"
	KeyMediaRelativeVolume  = "mediaRelativeVolume"
	KeyAutostartOnLaunch    = "autostartOnLaunch"
	KeyDuckInsteadOfSilence = "duckInsteadOfSilence"
	KeyStopOnLock           = "stopOnLock"
)

// Settings is the user's playback intent. It is a value type: the engine
// replaces its copy wholesale on every change so readers never observe a
// half-applied update.
type Settings struct {
	// LastFile is the library identifier of the last imported file ("" if none)
	LastFile string `json:"lastFile,omitempty"`

	// MainVolume is the target volume, 0.0 - 1.0
	MainVolume float64 `json:"mainVolume"`

	// MediaVolume is the ducked volume used while other media plays, 0.0 - 1.0
	MediaVolume float64 `json:"mediaRelativeVolume"`

	// Autostart starts the last file when the daemon launches
	Autostart bool `json:"autostartOnLaunch"`

	// DuckInsteadOfSilence lowers to MediaVolume instead of muting while
	// other media is audible ("use when media playing")
	DuckInsteadOfSilence bool `json:"duckInsteadOfSilence"`

	// StopOnLock hard-stops background playback when the session locks
	StopOnLock bool `json:"stopOnLock"`
}

// Defaults returns the settings used for keys that were never written
func Defaults() Settings {
	return Settings{
		MainVolume:           0.5,
		MediaVolume:          0.2,
		Autostart:            false,
		DuckInsteadOfSilence: true,
		StopOnLock:           false,
	}
}

// Clamp limits v to [0, 1]
func Clamp(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalized returns a copy with both volumes clamped
func (s Settings) Normalized() Settings {
	s.MainVolume = Clamp(s.MainVolume)
	s.MediaVolume = Clamp(s.MediaVolume)
	return s
}

// Store is the persistent key-value mechanism settings are written through.
// Implementations only need per-key atomicity.
type Store interface {
	// Get returns the stored value and whether the key exists
	Get(key string) (string, bool, error)

	// Set stores value under key
	Set(key, value string) error
}

// Repository reads and writes Settings through a Store
type Repository struct {
	store Store
}

// NewRepository creates a repository backed by store
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Load reads every key, falling back to defaults for missing or unparsable
// values. The returned error (if any) lists the keys that could not be read;
// the returned Settings are always usable.
func (r *Repository) Load() (Settings, error) {
	s := Defaults()
	var errs []error

	if v, ok, err := r.store.Get(KeyLastFile); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLastFile, err))
	} else if ok {
		s.LastFile = v
	}

	loadFloat := func(key string, dst *float64) {
		v, ok, err := r.store.Get(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}

	loadBool := func(key string, dst *bool) {
		v, ok, err := r.store.Get(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	loadFloat(KeyMainVolume, &s.MainVolume)
	loadFloat(KeyMediaRelativeVolume, &s.MediaVolume)
	loadBool(KeyAutostartOnLaunch, &s.Autostart)
	loadBool(KeyDuckInsteadOfSilence, &s.DuckInsteadOfSilence)
	loadBool(KeyStopOnLock, &s.StopOnLock)

	return s.Normalized(), errors.Join(errs...)
}

// Save writes the keys that differ between prev and next. Every key is
// attempted even if an earlier one fails.
func (r *Repository) Save(prev, next Settings) error {
	next = next.Normalized()
	var errs []error

	set := func(key, value string) {
		if err := r.store.Set(key, value); err != nil {
			errs = append(errs, fmt.Errorf("failed to write %s: %w", key, err))
		}
	}

	if prev.LastFile != next.LastFile {
		set(KeyLastFile, next.LastFile)
	}
	if prev.MainVolume != next.MainVolume {
		set(KeyMainVolume, formatFloat(next.MainVolume))
	}
	if prev.MediaVolume != next.MediaVolume {
		set(KeyMediaRelativeVolume, formatFloat(next.MediaVolume))
	}
	if prev.Autostart != next.Autostart {
		set(KeyAutostartOnLaunch, strconv.FormatBool(next.Autostart))
	}
	if prev.DuckInsteadOfSilence != next.DuckInsteadOfSilence {
		set(KeyDuckInsteadOfSilence, strconv.FormatBool(next.DuckInsteadOfSilence))
	}
	if prev.StopOnLock != next.StopOnLock {
		set(KeyStopOnLock, strconv.FormatBool(next.StopOnLock))
	}

	return errors.Join(errs...)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
