package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/alexlim7/Custom-Background-Sounds/internal/library"
	"github.com/alexlim7/Custom-Background-Sounds/internal/lifecycle"
	"github.com/alexlim7/Custom-Background-Sounds/internal/playback"
)

// Engine is the part of playback.Engine the server drives
type Engine interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	SetVolume(ctx context.Context, v float64) error
	SetMediaVolume(ctx context.Context, v float64) error
	ToggleUseWhenMediaPlaying(ctx context.Context) error
	ToggleStopWhenLocked(ctx context.Context) error
	ToggleAutostart(ctx context.Context) error
	Import(ctx context.Context, src library.Source) error
	PlaySample(ctx context.Context) error
	StopSample(ctx context.Context) error
	Status(ctx context.Context) (playback.Status, error)
	Subscribe(ctx context.Context, fn func(playback.Status)) (func(), error)
}

// SourceResolver turns an import location into a source
type SourceResolver interface {
	Parse(location string) (library.Source, error)
}

// LifecycleSink accepts lifecycle events reported by clients
type LifecycleSink interface {
	Deliver(ctx context.Context, ev lifecycle.Event) error
}

// RequestLogger logs incoming requests (for debugging)
func RequestLogger(req *Request) {
	log.Printf("[IPC] Command: %s (%d bytes of data)", req.Cmd, len(req.Data))
}

// ResponseLogger logs outgoing responses (for debugging)
func ResponseLogger(resp *Response, duration time.Duration) {
	if resp.Success {
		log.Printf("[IPC] Response: success=true duration=%v", duration)
	} else {
		log.Printf("[IPC] Response: success=false error=%q duration=%v", resp.Error, duration)
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdPlay:
		return s.runCommand(ctx, s.engine.Play)
	case CmdPause:
		return s.runCommand(ctx, s.engine.Pause)
	case CmdStop:
		return s.runCommand(ctx, s.engine.Stop)
	case CmdToggle:
		return s.runCommand(ctx, s.engine.Toggle)
	case CmdVolume:
		return s.handleVolume(ctx, req, s.engine.SetVolume)
	case CmdMediaVolume:
		return s.handleVolume(ctx, req, s.engine.SetMediaVolume)
	case CmdToggleUseWhenMediaPlaying:
		return s.runCommand(ctx, s.engine.ToggleUseWhenMediaPlaying)
	case CmdToggleStopWhenLocked:
		return s.runCommand(ctx, s.engine.ToggleStopWhenLocked)
	case CmdToggleAutostart:
		return s.runCommand(ctx, s.engine.ToggleAutostart)
	case CmdImport:
		return s.handleImport(ctx, req)
	case CmdPlaySample:
		return s.runCommand(ctx, s.engine.PlaySample)
	case CmdStopSample:
		return s.runCommand(ctx, s.engine.StopSample)
	case CmdStatus:
		return s.handleStatus(ctx)
	case CmdLifecycle:
		return s.handleLifecycle(ctx, req)
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdSubscribe:
		return s.handleSubscribe(c, true)
	case CmdUnsubscribe:
		return s.handleSubscribe(c, false)
	default:
		return NewErrorResponse("unknown command")
	}
}

// runCommand runs fn and answers with the resulting status
func (s *Server) runCommand(ctx context.Context, fn func(context.Context) error) *Response {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		return errorResponse(err)
	}
	return s.handleStatus(ctx)
}

// decode unmarshals and validates request data into v
func (s *Server) decode(req *Request, v interface{}) *Response {
	if len(req.Data) == 0 {
		return NewErrorResponse("missing " + string(req.Cmd) + " data")
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return NewErrorResponse("invalid " + string(req.Cmd) + " request")
	}
	if err := s.validate.Struct(v); err != nil {
		return NewErrorResponse(err.Error())
	}
	return nil
}

func (s *Server) handleVolume(ctx context.Context, req *Request, set func(context.Context, float64) error) *Response {
	var volReq VolumeRequest
	if resp := s.decode(req, &volReq); resp != nil {
		return resp
	}

	return s.runCommand(ctx, func(ctx context.Context) error {
		return set(ctx, *volReq.Level)
	})
}

func (s *Server) handleImport(ctx context.Context, req *Request) *Response {
	var impReq ImportRequest
	if resp := s.decode(req, &impReq); resp != nil {
		return resp
	}

	src, err := s.resolver.Parse(impReq.Location)
	if err != nil {
		resp := NewErrorResponse(err.Error())
		resp.ErrorKind = playback.ErrorKind(playback.ErrImport)
		return resp
	}

	log.Printf("[IPC] Importing %s", src.Name())
	return s.runCommand(ctx, func(ctx context.Context) error {
		return s.engine.Import(ctx, src)
	})
}

func (s *Server) handleLifecycle(ctx context.Context, req *Request) *Response {
	var lcReq LifecycleRequest
	if resp := s.decode(req, &lcReq); resp != nil {
		return resp
	}
	if s.lifecycle == nil {
		return NewErrorResponse("lifecycle events are not accepted")
	}

	kind, err := lifecycle.ParseKind(lcReq.Event)
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	ev := lifecycle.Event{Kind: kind, ShouldResume: lcReq.ShouldResume, Source: "ipc"}
	if err := s.lifecycle.Deliver(ctx, ev); err != nil {
		return NewErrorResponse(err.Error())
	}
	resp, _ := NewSuccessResponse(nil)
	return resp
}

func (s *Server) handleStatus(ctx context.Context) *Response {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return errorResponse(err)
	}

	resp, err := NewSuccessResponse(st)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleGetConfig() *Response {
	if s.configMgr == nil {
		return NewErrorResponse("no configuration loaded")
	}
	cfg := s.configMgr.Get()

	resp, err := NewSuccessResponse(ConfigResponse{
		ConfigPath:     s.configMgr.GetPath(),
		DataDir:        cfg.DataDir,
		SocketPath:     cfg.SocketPath,
		PreviewPath:    cfg.ResolvedPreviewPath(),
		PollIntervalMs: cfg.Monitor.PollIntervalMs,
		QueryTimeoutMs: cfg.Monitor.QueryTimeoutMs,
		SampleRate:     cfg.Audio.SampleRate,
		BufferSizeMs:   cfg.Audio.BufferSizeMs,
		S3Enabled:      cfg.S3.Enabled(),
	})
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handleSubscribe(c *client, on bool) *Response {
	s.mu.Lock()
	c.subscribed = on
	count := 0
	for _, other := range s.clients {
		if other.subscribed {
			count++
		}
	}
	s.mu.Unlock()

	log.Printf("[IPC] Status subscribers: %d", count)

	resp, _ := NewSuccessResponse(SubscribeResponse{Subscribed: on})
	if on {
		// Give the new subscriber the current state straight away
		s.wake()
	}
	return resp
}

func errorResponse(err error) *Response {
	resp := NewErrorResponse(err.Error())
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, playback.ErrClosed) {
		resp.ErrorKind = playback.ErrorKind(err)
	}
	return resp
}
