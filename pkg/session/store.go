// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// Message Types
// =============================================================================

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SourceType classifies where a citation came from.
type SourceType string

const (
	// SourceUserFile is a document the user uploaded.
	SourceUserFile SourceType = "user_file"

	// SourceOrphadata is the Orphanet rare disease knowledge base.
	SourceOrphadata SourceType = "orphadata"

	// SourceOther is any source type the client does not recognize.
	SourceOther SourceType = "other"
)

// ParseSourceType normalizes a wire source type to a SourceType.
//
// The server reports the storage format ("pdf", "image") for uploaded
// files and "orphanet" for knowledge base hits; the client collapses
// those into the categories it displays.
func ParseSourceType(wire string) SourceType {
	switch wire {
	case "orphanet", "orphadata":
		return SourceOrphadata
	case "pdf", "image", "user_file":
		return SourceUserFile
	default:
		return SourceOther
	}
}

// SourceRef is one citation attached to an assistant message.
type SourceRef struct {
	Type      SourceType
	ID        string
	Relevance float64
}

// Message is one conversation entry.
//
// # Fields
//
//   - ID: Stable identifier, assigned at append time.
//   - Role: Author of the message.
//   - Content: Message text. For a pending assistant message this is
//     empty until stream deltas arrive.
//   - ThinkingSteps: Reasoning-step labels for an in-flight assistant
//     message. Cleared once real content starts.
//   - Sources: Citations, in arrival order.
type Message struct {
	ID            uuid.UUID
	Role          Role
	Content       string
	ThinkingSteps []string
	Sources       []SourceRef
}

// =============================================================================
// Conversation Store
// =============================================================================

// Conversation is the append-only message history of one session.
//
// # Description
//
// Messages are appended, never removed or reordered. The in-flight
// assistant message is updated in place by projecting the turn state
// onto it; all other messages are immutable once their turn ends.
//
// # Thread Safety
//
// Safe for concurrent use. Readers get defensive copies.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// AppendUser appends a user message and returns its ID.
func (c *Conversation) AppendUser(content string) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New()
	c.messages = append(c.messages, Message{
		ID:      id,
		Role:    RoleUser,
		Content: content,
	})
	return id
}

// AppendPendingAssistant appends an empty assistant message that the
// current turn will fill in, and returns its ID.
func (c *Conversation) AppendPendingAssistant() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New()
	c.messages = append(c.messages, Message{
		ID:   id,
		Role: RoleAssistant,
	})
	return id
}

// ApplyTurnState projects the turn state onto the assistant message
// with the given ID.
//
// # Inputs
//
//   - assistantID: ID returned by AppendPendingAssistant.
//   - state: Current turn state.
//
// # Outputs
//
//   - bool: False when no message with that ID exists.
func (c *Conversation) ApplyTurnState(assistantID uuid.UUID, state TurnState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID != assistantID {
			continue
		}
		c.messages[i].Content = state.Content
		c.messages[i].ThinkingSteps = append([]string(nil), state.ThinkingSteps...)
		c.messages[i].Sources = append([]SourceRef(nil), state.Sources...)
		return true
	}
	return false
}

// Messages returns a copy of the full history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	for i := range out {
		out[i].ThinkingSteps = append([]string(nil), out[i].ThinkingSteps...)
		out[i].Sources = append([]SourceRef(nil), out[i].Sources...)
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
