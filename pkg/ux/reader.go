// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Orphwise CLI.
//
// This file contains the stream reader that consumes an io.Reader of
// Server-Sent Events and emits parsed events via callbacks.
//
// Single Responsibility:
//
//	Readers handle I/O and frame sequencing. They use a parser to
//	convert frames to events, but do not render output. This separation
//	enables flexible composition with different renderers.
//
// Context Support:
//
//	All readers accept context.Context for cancellation and timeout.
//	When the context is cancelled, reading stops and the context error
//	is returned.
package ux

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamCallback receives each decoded event in arrival order.
//
// Returning a non-nil error stops the read loop and propagates the
// error to the Read caller.
type StreamCallback func(event *StreamEvent) error

// StreamReader reads a server-push event stream and invokes callbacks.
//
// Implementations handle the SSE wire format (event/data lines, frame
// boundaries) and emit parsed StreamEvent structs. Frames the parser
// cannot decode are skipped; the stream continues.
//
// Thread Safety:
//
//	A single Read or ReadAll operation must not be called concurrently
//	on the same reader instance.
//
// Example:
//
//	reader := NewSSEStreamReader(NewEventParser())
//
//	err := reader.Read(ctx, httpResp.Body, func(event *StreamEvent) error {
//	    switch event.Type {
//	    case StreamEventResponse:
//	        fmt.Print(event.Content)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read consumes the stream, invoking callback for each decoded
	// event in arrival order. Reading stops when:
	//
	//   - a terminal event (done or error) has been delivered,
	//   - the callback returns an error,
	//   - the context is cancelled, or
	//   - the underlying reader is exhausted or fails.
	//
	// The terminal event is delivered to the callback before Read
	// returns. Read does not close r; the caller owns the handle.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll consumes the stream and accumulates everything into a
	// StreamResult. Convenience for one-shot, non-rendered reads.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for named Server-Sent Events.
//
// Frame grammar handled:
//
//	event: response
//	data: {"content":"..."}
//	<blank line>
//
// Comment lines (leading ':') are ignored. Multiple data lines within
// one frame are joined with newlines per the SSE specification. Frames
// without an event name are ignored: the analysis protocol always
// names its events.
type sseStreamReader struct {
	parser EventParser
}

// NewSSEStreamReader creates a reader for named SSE streams.
//
// # Inputs
//
//   - parser: Decodes (event name, data) pairs. Must not be nil.
//
// # Outputs
//
//   - StreamReader: Ready-to-use reader.
func NewSSEStreamReader(parser EventParser) StreamReader {
	return &sseStreamReader{parser: parser}
}

// Read consumes the stream line by line, assembling frames and
// dispatching decoded events. See StreamReader for the contract.
func (sr *sseStreamReader) Read(ctx context.Context, r io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(r)
	// Allow oversized response deltas; default 64KB lines are too small
	// for dense single-frame payloads.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var dataLines []string

	dispatch := func() (*StreamEvent, error) {
		defer func() {
			eventName = ""
			dataLines = dataLines[:0]
		}()
		if eventName == "" {
			return nil, nil
		}
		event := sr.parser.ParseEvent(eventName, strings.Join(dataLines, "\n"))
		if event == nil {
			return nil, nil
		}
		return event, callback(event)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		switch {
		case line == "":
			// Blank line ends the frame.
			event, err := dispatch()
			if err != nil {
				return err
			}
			if event != nil && event.IsTerminal() {
				return nil
			}

		case strings.HasPrefix(line, ":"):
			// SSE comment / keep-alive; skip.

		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	// Stream ended without a trailing blank line; flush the last frame.
	_, err := dispatch()
	return err
}

// ReadAll consumes the stream and accumulates a StreamResult.
func (sr *sseStreamReader) ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error) {
	result := &StreamResult{StartedAt: time.Now()}
	var answer strings.Builder

	err := sr.Read(ctx, r, func(event *StreamEvent) error {
		result.TotalEvents++

		switch event.Type {
		case StreamEventThinking:
			result.ThinkingSteps = append(result.ThinkingSteps, event.Step)
		case StreamEventResponse:
			if result.FirstTokenAt.IsZero() {
				result.FirstTokenAt = time.Now()
			}
			answer.WriteString(event.Content)
		case StreamEventSource:
			result.Sources = append(result.Sources, *event.Source)
		case StreamEventDone:
			result.Completed = true
		}
		return nil
	})

	result.Answer = answer.String()
	if err != nil {
		return result, err
	}
	return result, nil
}

// Ensure sseStreamReader implements StreamReader
var _ StreamReader = (*sseStreamReader)(nil)
