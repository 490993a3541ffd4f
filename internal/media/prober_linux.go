//go:build linux

package media

import (
	"context"
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
)

// MPRISProber reports other audio as playing when any MPRIS player on the
// session bus, other than our own, has PlaybackStatus "Playing".
type MPRISProber struct {
	conn    *dbus.Conn
	verbose bool
}

// NewProber connects to the session bus
func NewProber() (Prober, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &MPRISProber{conn: conn}, nil
}

// SetVerbose logs each player's status on every query
func (p *MPRISProber) SetVerbose(v bool) {
	p.verbose = v
}

// OtherAudioPlaying implements monitor.Prober
func (p *MPRISProber) OtherAudioPlaying(ctx context.Context) (bool, error) {
	var names []string
	err := p.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	if err != nil {
		return false, fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if !isForeignPlayer(name) {
			continue
		}

		var status dbus.Variant
		obj := p.conn.Object(name, dbus.ObjectPath(mprisObjectPath))
		err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
			mprisPlayerInterface, "PlaybackStatus").Store(&status)
		if err != nil {
			// Players come and go between ListNames and Get
			if p.verbose {
				log.Printf("[MEDIA] Skipping %s: %v", name, err)
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}

		s, _ := status.Value().(string)
		if p.verbose {
			log.Printf("[MEDIA] %s is %s", name, s)
		}
		if s == "Playing" {
			return true, nil
		}
	}

	return false, nil
}

// Close releases the bus connection
func (p *MPRISProber) Close() error {
	return p.conn.Close()
}
