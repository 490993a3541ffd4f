// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdPlay   CommandType = "play"
	CmdPause  CommandType = "pause"
	CmdStop   CommandType = "stop"
	CmdToggle CommandType = "toggle"

	CmdVolume      CommandType = "volume"
	CmdMediaVolume CommandType = "mediaVolume"

	CmdToggleUseWhenMediaPlaying CommandType = "toggleUseWhenMediaPlaying"
	CmdToggleStopWhenLocked      CommandType = "toggleStopWhenLocked"
	CmdToggleAutostart           CommandType = "toggleAutostart"

	CmdImport     CommandType = "import"
	CmdPlaySample CommandType = "playSample"
	CmdStopSample CommandType = "stopSample"

	CmdStatus    CommandType = "status"
	CmdLifecycle CommandType = "lifecycle"
	CmdGetConfig CommandType = "getConfig"

	// Status push
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"
)

// PushStatus is the push message type carrying a status snapshot
const PushStatus = "status"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// VolumeRequest is the data for volume and mediaVolume. Out-of-range
// levels are clamped by the daemon.
type VolumeRequest struct {
	Level *float64 `json:"level" validate:"required"` // 0.0 - 1.0
}

// ImportRequest is the data for an import command
type ImportRequest struct {
	// Location is a local path, file:// URL or s3://bucket/key
	Location string `json:"location" validate:"required"`
}

// LifecycleRequest is the data for a lifecycle command
type LifecycleRequest struct {
	Event        string `json:"event" validate:"required,oneof=interruption-began interruption-ended device-locked app-backgrounded"`
	ShouldResume bool   `json:"shouldResume,omitempty"`
}

// SubscribeResponse acknowledges subscribe and unsubscribe
type SubscribeResponse struct {
	Subscribed bool `json:"subscribed"`
}

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	ConfigPath     string `json:"configPath"`
	DataDir        string `json:"dataDir"`
	SocketPath     string `json:"socketPath"`
	PreviewPath    string `json:"previewPath"`
	PollIntervalMs int    `json:"pollIntervalMs"`
	QueryTimeoutMs int    `json:"queryTimeoutMs"`
	SampleRate     int    `json:"sampleRate"`
	BufferSizeMs   int    `json:"bufferSizeMs"`
	S3Enabled      bool   `json:"s3Enabled"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewRequest builds a request, marshalling data when it is not nil
func NewRequest(cmd CommandType, data interface{}) (*Request, error) {
	req := &Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s data: %w", cmd, err)
		}
		req.Data = raw
	}
	return req, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}

// DecodeMessage tells a push message from a response. Push messages carry
// a type and never a success field.
func DecodeMessage(data []byte) (*PushMessage, *Response, error) {
	var probe struct {
		Type    string `json:"type"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("failed to decode message: %w", err)
	}

	if probe.Type != "" && probe.Success == nil {
		var msg PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, nil, fmt.Errorf("failed to decode push message: %w", err)
		}
		return &msg, nil, nil
	}

	resp, err := DecodeResponse(data)
	return nil, resp, err
}
