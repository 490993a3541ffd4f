//go:build linux

package media

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// MPRISSession implements MPRIS media session for Linux
type MPRISSession struct {
	conn *dbus.Conn

	mu       sync.Mutex
	handler  CommandHandler
	metadata Metadata
	state    PlaybackState
	volume   float64
}

// NewSession creates a new MPRIS media session
func NewSession() (Session, error) {
	// A private connection keeps our exported objects separate from the
	// shared connection the prober uses
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Request the MPRIS bus name
	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name already taken")
	}

	session := &MPRISSession{
		conn:  conn,
		state: StateStopped,
	}

	// Export the MPRIS interfaces
	if err := session.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}

	return session, nil
}

func (s *MPRISSession) exportInterfaces() error {
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, "org.freedesktop.DBus.Properties"} {
		if err := s.conn.Export(s, dbus.ObjectPath(mprisObjectPath), iface); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMetadata updates the track metadata
func (s *MPRISSession) UpdateMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	m := s.metadataMapLocked()
	s.mu.Unlock()

	return s.emitPropertiesChanged(mprisPlayerInterface, map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(m),
	})
}

// UpdatePlaybackState updates the playback state
func (s *MPRISSession) UpdatePlaybackState(state PlaybackState) error {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return nil
	}
	s.state = state
	status := playbackStatus(state)
	s.mu.Unlock()

	return s.emitPropertiesChanged(mprisPlayerInterface, map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(status),
	})
}

// UpdateVolume mirrors the main volume
func (s *MPRISSession) UpdateVolume(volume float64) error {
	s.mu.Lock()
	if s.volume == volume {
		s.mu.Unlock()
		return nil
	}
	s.volume = volume
	s.mu.Unlock()

	return s.emitPropertiesChanged(mprisPlayerInterface, map[string]dbus.Variant{
		"Volume": dbus.MakeVariant(volume),
	})
}

// SetCommandHandler sets the handler for media commands
func (s *MPRISSession) SetCommandHandler(handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Close releases resources
func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MPRISSession) dispatch(cmd Command, data interface{}) *dbus.Error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.OnCommand(cmd, data); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// MPRIS DBus method implementations

// org.mpris.MediaPlayer2 methods

func (s *MPRISSession) Raise() *dbus.Error {
	return nil
}

func (s *MPRISSession) Quit() *dbus.Error {
	return nil
}

// org.mpris.MediaPlayer2.Player methods

func (s *MPRISSession) Play() *dbus.Error {
	return s.dispatch(CmdPlay, nil)
}

func (s *MPRISSession) Pause() *dbus.Error {
	return s.dispatch(CmdPause, nil)
}

func (s *MPRISSession) PlayPause() *dbus.Error {
	return s.dispatch(CmdPlayPause, nil)
}

func (s *MPRISSession) Stop() *dbus.Error {
	return s.dispatch(CmdStop, nil)
}

// A single looping track has nowhere to go
func (s *MPRISSession) Next() *dbus.Error {
	return nil
}

func (s *MPRISSession) Previous() *dbus.Error {
	return nil
}

func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	return nil
}

func (s *MPRISSession) SetPosition(trackId dbus.ObjectPath, position int64) *dbus.Error {
	return nil
}

// org.freedesktop.DBus.Properties methods

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	var props map[string]dbus.Variant
	switch iface {
	case mprisInterface:
		props = mediaPlayer2Properties()
	case mprisPlayerInterface:
		props = s.playerProperties()
	default:
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
	}

	v, ok := props[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return mediaPlayer2Properties(), nil
	case mprisPlayerInterface:
		return s.playerProperties(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface || prop != "Volume" {
		return nil
	}

	volume, ok := value.Value().(float64)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("invalid type for Volume"))
	}
	return s.dispatch(CmdSetVolume, volume)
}

func mediaPlayer2Properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(identity),
		"DesktopEntry":        dbus.MakeVariant(identity),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"file", "s3"}),
		"SupportedMimeTypes":  dbus.MakeVariant([]string{"audio/mpeg", "audio/ogg", "audio/wav", "audio/aiff"}),
	}
}

func (s *MPRISSession) playerProperties() map[string]dbus.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(playbackStatus(s.state)),
		"LoopStatus":     dbus.MakeVariant("Track"),
		"Metadata":       dbus.MakeVariant(s.metadataMapLocked()),
		"Position":       dbus.MakeVariant(int64(0)),
		"Rate":           dbus.MakeVariant(1.0),
		"MinimumRate":    dbus.MakeVariant(1.0),
		"MaximumRate":    dbus.MakeVariant(1.0),
		"CanGoNext":      dbus.MakeVariant(false),
		"CanGoPrevious":  dbus.MakeVariant(false),
		"CanPlay":        dbus.MakeVariant(s.metadata.Title != ""),
		"CanPause":       dbus.MakeVariant(true),
		"CanSeek":        dbus.MakeVariant(false),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(s.volume),
	}
}

func playbackStatus(state PlaybackState) string {
	switch state {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

func (s *MPRISSession) metadataMapLocked() map[string]dbus.Variant {
	m := make(map[string]dbus.Variant)

	m["mpris:trackid"] = dbus.MakeVariant(dbus.ObjectPath("/org/ambientd/track/0"))

	if s.metadata.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(s.metadata.Title)
	}

	return m
}

func (s *MPRISSession) emitPropertiesChanged(iface string, props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		"org.freedesktop.DBus.Properties.PropertiesChanged",
		iface,
		props,
		[]string{},
	)
}
