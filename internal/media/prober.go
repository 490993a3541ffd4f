package media

import (
	"github.com/alexlim7/Custom-Background-Sounds/internal/monitor"
)

// Prober is a monitor.Prober holding an OS connection
type Prober interface {
	monitor.Prober
	Close() error
}

// isForeignPlayer reports whether name is an MPRIS player other than ours
func isForeignPlayer(name string) bool {
	const prefix = mprisInterface + "."
	return len(name) > len(prefix) && name[:len(prefix)] == prefix && name != mprisBusName
}
