// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Orphwise CLI.
//
// This file contains the event decoder for the analysis stream.
// Parsers are responsible for converting raw frames into StreamEvent
// structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state
//	management. This separation enables easy testing and format
//	extensibility.
package ux

import "encoding/json"

// =============================================================================
// Event Parser Interface
// =============================================================================

// EventParser decodes one named SSE frame into a typed StreamEvent.
//
// # Description
//
// The analysis service emits named events (thinking, response, source,
// done, error) whose data field is a small JSON object. The parser maps
// each (name, payload) pair to exactly one StreamEvent, or to nil when
// the frame cannot be used.
//
// # Error Policy
//
// Decoding never fails loudly. Unknown event names and malformed JSON
// payloads both yield nil so the read loop can skip the frame and keep
// consuming the stream. Transport faults are the reader's concern, not
// the parser's.
//
// # Thread Safety
//
// Implementations must be stateless and safe for concurrent use.
type EventParser interface {
	// ParseEvent decodes a single frame.
	//
	// Inputs:
	//   - name: The SSE event name (e.g. "response").
	//   - data: The raw data payload, normally a JSON object.
	//
	// Outputs:
	//   - *StreamEvent: The decoded event, or nil if the frame is
	//     unknown or its payload is malformed.
	ParseEvent(name, data string) *StreamEvent
}

// =============================================================================
// Implementation
// =============================================================================

// thinkingPayload is the wire shape of a thinking frame.
type thinkingPayload struct {
	Step string `json:"step"`
}

// responsePayload is the wire shape of a response frame.
type responsePayload struct {
	Content string `json:"content"`
}

// errorPayload is the wire shape of an error frame. The message field
// is optional; servers may send an empty object.
type errorPayload struct {
	Message string `json:"message"`
}

// jsonEventParser implements EventParser for JSON-payload named events.
type jsonEventParser struct{}

// NewEventParser creates a parser for the analysis service's named
// event protocol.
func NewEventParser() EventParser {
	return &jsonEventParser{}
}

// ParseEvent decodes one frame. See EventParser for the contract.
//
// The done and error events are accepted even when their payload does
// not parse: they carry the terminal signal in the event name itself,
// and dropping a terminal frame would leave the turn hanging.
func (p *jsonEventParser) ParseEvent(name, data string) *StreamEvent {
	switch StreamEventType(name) {
	case StreamEventThinking:
		var payload thinkingPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil
		}
		return &StreamEvent{Type: StreamEventThinking, Step: payload.Step}

	case StreamEventResponse:
		var payload responsePayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil
		}
		return &StreamEvent{Type: StreamEventResponse, Content: payload.Content}

	case StreamEventSource:
		var payload SourceInfo
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil
		}
		return &StreamEvent{Type: StreamEventSource, Source: &payload}

	case StreamEventDone:
		return &StreamEvent{Type: StreamEventDone}

	case StreamEventError:
		var payload errorPayload
		// Best effort: an unparseable error payload still terminates.
		_ = json.Unmarshal([]byte(data), &payload)
		return &StreamEvent{Type: StreamEventError, Message: payload.Message}

	default:
		return nil
	}
}

// Ensure jsonEventParser implements EventParser
var _ EventParser = (*jsonEventParser)(nil)
