// Package arbiter decides the output volume of each playback channel.
//
// Arbitrate is the single place the ducking policy lives: the external-media
// monitor path and the sample preview path both call it instead of
// re-deriving the rule.
package arbiter

import "github.com/alexlim7/Custom-Background-Sounds/internal/settings"

// Role identifies which channel a volume is computed for
type Role int

const (
	RoleBackground Role = iota
	RoleSample
)

// String returns the role name
func (r Role) String() string {
	switch r {
	case RoleBackground:
		return "background"
	case RoleSample:
		return "sample"
	default:
		return "unknown"
	}
}

// Input is the state one arbitration is evaluated against
type Input struct {
	ExternalMediaActive bool
	SamplePreviewActive bool
	Settings            settings.Settings
}

// Arbitrate returns the volume in [0, 1] the given role should play at.
//
//  1. The sample always plays at the main volume.
//  2. The background is lowered while external media or the sample preview
//     is audible: to the media volume when ducking, otherwise to silence
//     (silenced, not paused).
//  3. Otherwise the background plays at the main volume.
func Arbitrate(in Input, role Role) float64 {
	s := in.Settings

	if role == RoleSample {
		return settings.Clamp(s.MainVolume)
	}

	if in.ExternalMediaActive || in.SamplePreviewActive {
		if s.DuckInsteadOfSilence {
			return settings.Clamp(s.MediaVolume)
		}
		return 0
	}

	return settings.Clamp(s.MainVolume)
}
