package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/alexlim7/Custom-Background-Sounds/internal/media"
)

const mediaCommandTimeout = 5 * time.Second

// OnCommand implements media.CommandHandler for desktop media keys
func (e *Engine) OnCommand(cmd media.Command, data interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), mediaCommandTimeout)
	defer cancel()

	switch cmd {
	case media.CmdPlay:
		return e.Play(ctx)
	case media.CmdPause:
		return e.Pause(ctx)
	case media.CmdPlayPause:
		return e.Toggle(ctx)
	case media.CmdStop:
		return e.Stop(ctx)
	case media.CmdSetVolume:
		v, ok := data.(float64)
		if !ok {
			return fmt.Errorf("invalid volume %v", data)
		}
		return e.SetVolume(ctx, v)
	}
	return fmt.Errorf("unsupported media command %s", cmd)
}

// MirrorTo returns a subscriber that reflects engine state in a media
// session
func MirrorTo(session media.Session) func(Status) {
	var last Status
	first := true

	return func(st Status) {
		if first || st.State != last.State {
			session.UpdatePlaybackState(mediaState(st.State))
		}
		if first || st.SelectedFileName != last.SelectedFileName {
			session.UpdateMetadata(media.Metadata{Title: st.SelectedFileName})
		}
		if first || st.Volume != last.Volume {
			session.UpdateVolume(st.Volume)
		}
		last = st
		first = false
	}
}

func mediaState(s State) media.PlaybackState {
	switch s {
	case StatePlaying:
		return media.StatePlaying
	case StatePaused:
		return media.StatePaused
	default:
		return media.StateStopped
	}
}
