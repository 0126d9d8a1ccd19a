// Package domain contains core domain types for the spachat client.
package domain

import (
	"time"
)

// Sender identifies the originator of a conversation message.
type Sender string

const (
	// SenderUser is a message typed by the local user.
	SenderUser Sender = "user"
	// SenderAgent is a reply from the remote agent.
	SenderAgent Sender = "agent"
	// SenderSystem is a locally generated status or error message.
	SenderSystem Sender = "system"
)

// Message is one entry in the ordered conversation sequence.
// Finalized messages are immutable snapshots; only the single draft held by
// the assembler may still change, and it is rendered with InProgress set.
type Message struct {
	ID            string         `json:"id"`
	Sender        Sender         `json:"sender"`
	Text          string         `json:"text"`
	CreatedAt     time.Time      `json:"created_at"`
	InProgress    bool           `json:"in_progress,omitempty"`
	Images        []string       `json:"images,omitempty"`
	Visualization *Visualization `json:"visualization,omitempty"`
}

// IsError reports whether the message is a system-originated error entry.
func (m *Message) IsError() bool {
	return m.Sender == SenderSystem
}

// Visualization carries artifacts extracted from a finalized reply:
// generated code, its execution status, and image references in first-seen
// order with duplicates removed. A nil *Visualization means the reply
// carried no visualization envelope.
type Visualization struct {
	Code       string   `json:"code,omitempty"`
	ExecStatus string   `json:"exec_status,omitempty"`
	Images     []string `json:"images,omitempty"`
}
