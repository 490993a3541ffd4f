// Package media connects the engine to the desktop's media session: it
// publishes the ambient channel as an MPRIS player and asks the session bus
// whether other players are audible.
package media

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// Metadata describes the loaded ambient track
type Metadata struct {
	Title string
}

// Session is the interface for OS media session integration
type Session interface {
	// UpdateMetadata updates the currently loaded track
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state
	UpdatePlaybackState(state PlaybackState) error

	// UpdateVolume mirrors the main volume (0.0 - 1.0)
	UpdateVolume(volume float64) error

	// SetCommandHandler sets the handler for media commands (play, pause, etc.)
	SetCommandHandler(handler CommandHandler)

	// Close releases resources
	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdSetVolume
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdSetVolume:
		return "SetVolume"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS. data carries the
// float64 volume for CmdSetVolume and is nil otherwise.
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession is a session that does nothing
// Used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(metadata Metadata) error {
	return nil
}

func (s *NoOpSession) UpdatePlaybackState(state PlaybackState) error {
	return nil
}

func (s *NoOpSession) UpdateVolume(volume float64) error {
	return nil
}

func (s *NoOpSession) SetCommandHandler(handler CommandHandler) {
}

func (s *NoOpSession) Close() error {
	return nil
}
