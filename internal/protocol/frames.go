// Package protocol defines the JSON frames exchanged with the agent gateway
// and decodes inbound frames into a tagged event variant at the connection
// boundary.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnrecognizedFrame reports an inbound frame that matches no known shape.
// The router drops these without surfacing anything to the user.
var ErrUnrecognizedFrame = errors.New("unrecognized frame")

// ChatCommand submits a user turn. The bearer token travels in the frame for
// per-message authorization; connection establishment carries its own token
// as a query parameter.
type ChatCommand struct {
	Message     string `json:"message"`
	UserID      string `json:"userId"`
	BearerToken string `json:"bearerToken"`
}

// PingCommand is the keepalive control frame sent while a request is
// outstanding. It carries the requesting user's identity, never a token.
type PingCommand struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

// NewPing builds a keepalive frame for the given user.
func NewPing(userID string) PingCommand {
	return PingCommand{Action: "ping", UserID: userID}
}

// ListFilesCommand requests a full manifest snapshot.
type ListFilesCommand struct {
	Action string `json:"action"`
}

// NewListFiles builds a manifest request frame.
func NewListFiles() ListFilesCommand {
	return ListFilesCommand{Action: "list_files"}
}

// FileInfo is one manifest row as it appears on the wire.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	URL      string    `json:"url"`
}

// Event is an inbound frame, decoded once at the boundary into exactly one
// of the variants below.
type Event interface {
	event()
}

// PongEvent acknowledges a keepalive ping. No-op.
type PongEvent struct{}

// FilesListEvent carries a full manifest snapshot that replaces any
// previously held manifest wholesale.
type FilesListEvent struct {
	Files []FileInfo
}

// ChunkEvent is one streamed fragment of an in-progress reply.
type ChunkEvent struct {
	Chunk string
}

// ToolStartEvent signals the agent began executing a tool. Pure phase
// notice; conversation data is unaffected.
type ToolStartEvent struct{}

// CompleteEvent finalizes the in-progress reply. Response is the
// authoritative full text and supersedes locally accumulated chunks.
type CompleteEvent struct {
	Response string
}

// ErrorEvent is a backend-reported application error terminating the turn.
type ErrorEvent struct {
	Message string
}

// LegacyResponseEvent is the pre-streaming one-shot reply shape: a complete
// response with no preceding chunks.
type LegacyResponseEvent struct {
	Response string
}

func (PongEvent) event()           {}
func (FilesListEvent) event()      {}
func (ChunkEvent) event()          {}
func (ToolStartEvent) event()      {}
func (CompleteEvent) event()       {}
func (ErrorEvent) event()          {}
func (LegacyResponseEvent) event() {}

// rawFrame is the superset of fields any inbound frame may carry.
// Pointer fields distinguish "absent" from "empty" for the legacy shapes.
type rawFrame struct {
	Action   string     `json:"action"`
	Type     string     `json:"type"`
	Chunk    string     `json:"chunk"`
	Response *string    `json:"response"`
	Error    *string    `json:"error"`
	Files    []FileInfo `json:"files"`
}

// DecodeEvent parses an inbound frame into its tagged variant. A JSON parse
// failure or an unknown shape is returned as an error for the caller to
// drop; malformed frames must never crash the client.
func DecodeEvent(data []byte) (Event, error) {
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	switch f.Action {
	case "pong":
		return PongEvent{}, nil
	case "files_list":
		return FilesListEvent{Files: f.Files}, nil
	}

	switch f.Type {
	case "chunk":
		return ChunkEvent{Chunk: f.Chunk}, nil
	case "tool_start":
		return ToolStartEvent{}, nil
	case "complete":
		var response string
		if f.Response != nil {
			response = *f.Response
		}
		return CompleteEvent{Response: response}, nil
	}

	// Legacy one-shot shapes, discriminated by field presence.
	if f.Error != nil {
		return ErrorEvent{Message: *f.Error}, nil
	}
	if f.Response != nil {
		return LegacyResponseEvent{Response: *f.Response}, nil
	}

	return nil, ErrUnrecognizedFrame
}
