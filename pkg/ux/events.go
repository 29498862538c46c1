// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Orphwise CLI.
//
// This file defines the typed streaming events the analysis service
// emits and the accumulated result of one streamed answer. The wire
// format is Server-Sent Events with named events; EventParser (parser.go)
// turns raw frames into StreamEvent values and StreamReader (reader.go)
// drives the read loop.
package ux

import "time"

// StreamEventType identifies the named SSE event a frame carries.
type StreamEventType string

const (
	// StreamEventThinking carries the current reasoning-step label.
	// The payload replaces the previous label; it is not a delta.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventResponse carries a text delta to append to the answer.
	StreamEventResponse StreamEventType = "response"

	// StreamEventSource carries one citation for the answer.
	StreamEventSource StreamEventType = "source"

	// StreamEventDone signals successful completion of the turn.
	StreamEventDone StreamEventType = "done"

	// StreamEventError signals the turn failed server-side.
	StreamEventError StreamEventType = "error"
)

// SourceInfo describes one citation attached to a streamed answer.
//
// SourceType is the raw wire value (e.g. "orphanet", "pdf", "image");
// domain-level normalization happens downstream, not here.
type SourceInfo struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Relevance  float64 `json:"relevance"`
}

// StreamEvent is one decoded frame from the analysis stream.
//
// Exactly one payload field is meaningful per event type:
//
//   - StreamEventThinking: Step
//   - StreamEventResponse: Content
//   - StreamEventSource:   Source
//   - StreamEventError:    Message (optional detail)
//   - StreamEventDone:     no payload
type StreamEvent struct {
	Type    StreamEventType
	Step    string
	Content string
	Source  *SourceInfo
	Message string
}

// IsTerminal reports whether this event ends the stream.
func (e *StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone || e.Type == StreamEventError
}

// StreamResult is the accumulated outcome of reading one stream.
type StreamResult struct {
	Answer        string
	ThinkingSteps []string
	Sources       []SourceInfo
	Completed     bool
	Err           error

	// Metrics
	StartedAt    time.Time
	FirstTokenAt time.Time
	TotalEvents  int
}

// Duration returns the elapsed time since StartedAt, or zero if the
// stream never started.
func (r *StreamResult) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return time.Since(r.StartedAt)
}
