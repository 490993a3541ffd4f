//go:build !linux

package media

import (
	"context"
	"fmt"

	"github.com/alexlim7/Custom-Background-Sounds/internal/monitor"
)

// NewSession creates a new platform-specific media session
// This is the fallback for unsupported platforms
func NewSession() (Session, error) {
	return nil, fmt.Errorf("media session not supported on this platform")
}

// unsupportedProber always reports the query as unavailable, which the
// monitor treats as "no other audio"
type unsupportedProber struct{}

func (unsupportedProber) OtherAudioPlaying(context.Context) (bool, error) {
	return false, monitor.ErrUnavailable
}

func (unsupportedProber) Close() error {
	return nil
}

// NewProber returns a prober that always degrades on this platform
func NewProber() (Prober, error) {
	return unsupportedProber{}, nil
}
