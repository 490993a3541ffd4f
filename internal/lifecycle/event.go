// Package lifecycle delivers OS lifecycle signals (sleep, wake, screen lock,
// client backgrounding) as typed events on a single channel.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a lifecycle signal
type Kind int

const (
	InterruptionBegan Kind = iota + 1
	InterruptionEnded
	DeviceLocked
	AppBackgrounded
)

// ErrUnknownKind is returned by ParseKind for unrecognised names
var ErrUnknownKind = errors.New("unknown lifecycle event")

var kindNames = map[Kind]string{
	InterruptionBegan: "interruption-began",
	InterruptionEnded: "interruption-ended",
	DeviceLocked:      "device-locked",
	AppBackgrounded:   "app-backgrounded",
}

// String returns the wire name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind accepts the wire names, case-insensitively
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Event is one delivered signal. ShouldResume is only meaningful for
// InterruptionEnded.
type Event struct {
	Kind         Kind
	ShouldResume bool
	Source       string
}

func (e Event) String() string {
	if e.Kind == InterruptionEnded {
		return fmt.Sprintf("%s(shouldResume=%t) from %s", e.Kind, e.ShouldResume, e.Source)
	}
	return fmt.Sprintf("%s from %s", e.Kind, e.Source)
}
