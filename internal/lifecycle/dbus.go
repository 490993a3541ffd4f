package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
)

const (
	logindManager      = "org.freedesktop.login1.Manager"
	logindSession      = "org.freedesktop.login1.Session"
	freedesktopSaver   = "org.freedesktop.ScreenSaver"
	gnomeScreenSaver   = "org.gnome.ScreenSaver"
	signalActiveChange = "ActiveChanged"
)

// DBusSource watches logind (sleep and lock) on the system bus and the
// screensaver on the session bus
type DBusSource struct {
	verbose bool
}

// NewDBusSource creates the source. Connections are made by Run.
func NewDBusSource(verbose bool) *DBusSource {
	return &DBusSource{verbose: verbose}
}

func (s *DBusSource) Name() string {
	return "dbus"
}

// Run subscribes to whichever buses are reachable. It fails only when
// neither is.
func (s *DBusSource) Run(ctx context.Context, out chan<- Event) error {
	signals := make(chan *dbus.Signal, 16)

	system, sysErr := subscribe(dbus.ConnectSystemBus, signals,
		[]dbus.MatchOption{dbus.WithMatchInterface(logindManager), dbus.WithMatchMember("PrepareForSleep")},
		[]dbus.MatchOption{dbus.WithMatchInterface(logindSession), dbus.WithMatchMember("Lock")},
	)
	if sysErr != nil {
		log.Printf("[LIFECYCLE] System bus unavailable, sleep/lock from logind disabled: %v", sysErr)
	} else {
		defer system.Close()
	}

	session, sessErr := subscribe(dbus.ConnectSessionBus, signals,
		[]dbus.MatchOption{dbus.WithMatchInterface(freedesktopSaver), dbus.WithMatchMember(signalActiveChange)},
		[]dbus.MatchOption{dbus.WithMatchInterface(gnomeScreenSaver), dbus.WithMatchMember(signalActiveChange)},
	)
	if sessErr != nil {
		log.Printf("[LIFECYCLE] Session bus unavailable, screensaver lock disabled: %v", sessErr)
	} else {
		defer session.Close()
	}

	if sysErr != nil && sessErr != nil {
		return errors.Join(sysErr, sessErr)
	}

	log.Printf("[LIFECYCLE] Watching D-Bus for sleep and lock signals")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("signal channel closed")
			}
			if s.verbose {
				log.Printf("[LIFECYCLE] Signal %s %v", sig.Name, sig.Body)
			}
			ev, ok := Translate(sig)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func subscribe(connect func(...dbus.ConnOption) (*dbus.Conn, error), signals chan<- *dbus.Signal, matches ...[]dbus.MatchOption) (*dbus.Conn, error) {
	conn, err := connect()
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to add match: %w", err)
		}
	}
	conn.Signal(signals)
	return conn, nil
}

// Translate maps a D-Bus signal to a lifecycle event
func Translate(sig *dbus.Signal) (Event, bool) {
	if sig == nil {
		return Event{}, false
	}

	switch sig.Name {
	case logindManager + ".PrepareForSleep":
		sleeping, ok := firstBool(sig.Body)
		if !ok {
			return Event{}, false
		}
		if sleeping {
			return Event{Kind: InterruptionBegan, Source: "logind"}, true
		}
		return Event{Kind: InterruptionEnded, ShouldResume: true, Source: "logind"}, true

	case logindSession + ".Lock":
		return Event{Kind: DeviceLocked, Source: "logind"}, true

	case freedesktopSaver + "." + signalActiveChange, gnomeScreenSaver + "." + signalActiveChange:
		// Only activation is a lock; deactivation has no event
		if active, ok := firstBool(sig.Body); ok && active {
			return Event{Kind: DeviceLocked, Source: "screensaver"}, true
		}
	}

	return Event{}, false
}

func firstBool(body []interface{}) (bool, bool) {
	if len(body) == 0 {
		return false, false
	}
	b, ok := body[0].(bool)
	return b, ok
}
