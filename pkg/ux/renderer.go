// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Orphwise CLI.
//
// This file contains stream renderers that display streaming events to
// various outputs (terminal, buffer, etc.).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse, read, or manage HTTP.
//	Each method handles exactly one event type, enabling clean composition.
//
// Renderer Types:
//
//   - TerminalStreamRenderer: Interactive terminal with spinner and colors
//   - BufferStreamRenderer: In-memory buffer for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders streaming events to an output destination.
//
// Each method handles exactly one event type. The renderer owns all
// output-related state (spinner, buffers, styles). Callers should
// invoke methods in the order events are received.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent calls.
//
// Lifecycle:
//
//  1. Create renderer with New*StreamRenderer()
//  2. Call On* methods as events arrive
//  3. Call Finalize() when the stream ends (always, even on error)
//  4. Call Result() to get the aggregated result
type StreamRenderer interface {
	// OnThinking renders the current reasoning-step label.
	//
	// In interactive mode, starts or updates a spinner with the label.
	// In machine mode, prints "THINKING: label".
	OnThinking(ctx context.Context, step string)

	// OnDelta renders one answer text delta.
	//
	// In interactive mode, prints immediately for streaming effect and
	// stops the thinking spinner on the first delta.
	// In machine mode, buffers until Finalize().
	OnDelta(ctx context.Context, delta string)

	// OnSource records one citation.
	//
	// Interactive mode buffers citations and prints them after OnDone;
	// machine mode prints "SOURCE: type id relevance" immediately.
	OnSource(ctx context.Context, source SourceInfo)

	// OnDone signals successful stream completion.
	OnDone(ctx context.Context)

	// OnError renders an error that ended the stream.
	//
	// After OnError, only Finalize() should be called.
	OnError(ctx context.Context, err error)

	// Finalize performs cleanup (stop spinner, flush buffers).
	//
	// MUST be called when streaming ends, even if abnormally.
	// Safe to call multiple times; subsequent calls are no-ops.
	Finalize()

	// Result returns the accumulated result. May be called before
	// Finalize() for partial results.
	Result() *StreamResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders streaming events to an interactive
// terminal.
//
// Features:
//   - Spinner for the thinking phase (stops when the answer starts)
//   - Real-time delta streaming
//   - Muted styling for reasoning-step labels
//   - Citation list after completed answers
//
// Thread Safety:
//
//	All methods are protected by a mutex.
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *StreamResult
	mu          sync.Mutex

	answerBuilder   strings.Builder
	hasWrittenDelta bool
	finalized       bool
}

// NewTerminalStreamRenderer creates a renderer for interactive terminal
// output.
//
// # Inputs
//
//   - w: The output writer. If nil, defaults to os.Stdout.
//   - personality: Controls output styling. Use GetPersonality().Level
//     for the user's configured personality.
//
// # Outputs
//
//   - StreamRenderer: Renderer that displays events as they arrive.
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result:      &StreamResult{StartedAt: time.Now()},
	}
}

// OnThinking starts or updates the thinking spinner.
func (r *terminalStreamRenderer) OnThinking(ctx context.Context, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.ThinkingSteps = append(r.result.ThinkingSteps, step)

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "THINKING: %s\n", step)
		return
	}

	if r.spinner == nil {
		r.spinner = NewSpinner(step)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(step)
	}
}

// OnDelta prints one answer delta, stopping the spinner on the first.
func (r *terminalStreamRenderer) OnDelta(ctx context.Context, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.TotalEvents++
	if r.result.FirstTokenAt.IsZero() {
		r.result.FirstTokenAt = time.Now()
	}
	r.answerBuilder.WriteString(delta)

	if r.personality == PersonalityMachine {
		// Buffered; printed as one ANSWER line in Finalize.
		return
	}

	if !r.hasWrittenDelta {
		r.hasWrittenDelta = true
		r.stopSpinnerLocked()
	}
	fmt.Fprint(r.writer, delta)
}

// OnSource records one citation.
func (r *terminalStreamRenderer) OnSource(ctx context.Context, source SourceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.Sources = append(r.result.Sources, source)

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "SOURCE: %s %s %.2f\n", source.SourceType, source.SourceID, source.Relevance)
	}
}

// OnDone marks completion and prints buffered citations.
func (r *terminalStreamRenderer) OnDone(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.Completed = true
	r.stopSpinnerLocked()

	if r.personality == PersonalityMachine {
		return
	}

	if r.hasWrittenDelta {
		fmt.Fprintln(r.writer)
	}
	if len(r.result.Sources) > 0 && GetPersonality().ShowSources {
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, Styles.Muted.Render("Sources:"))
		for _, s := range r.result.Sources {
			fmt.Fprintf(r.writer, "  %s %s\n",
				IconCite.Render(),
				Styles.Citation.Render(fmt.Sprintf("%s (%s, %.0f%%)", s.SourceID, s.SourceType, s.Relevance*100)))
		}
	}
}

// OnError stops the spinner and displays the error.
func (r *terminalStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.TotalEvents++
	r.result.Err = err
	r.stopSpinnerLocked()

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %v\n", err)
		return
	}

	if r.hasWrittenDelta {
		fmt.Fprintln(r.writer)
	}
	fmt.Fprintf(r.writer, "%s %s\n", IconError.Render(), Styles.Error.Render(err.Error()))
}

// Finalize stops the spinner and flushes machine-mode buffers.
func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinnerLocked()

	if r.personality == PersonalityMachine {
		if r.answerBuilder.Len() > 0 {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", r.answerBuilder.String())
		}
		if r.result.Completed {
			fmt.Fprintln(r.writer, "DONE")
		}
	}
}

// Result returns the accumulated result.
func (r *terminalStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Answer = r.answerBuilder.String()
	return r.result
}

// stopSpinnerLocked stops the spinner; caller must hold r.mu.
func (r *terminalStreamRenderer) stopSpinnerLocked() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

// Ensure terminalStreamRenderer implements StreamRenderer
var _ StreamRenderer = (*terminalStreamRenderer)(nil)

// =============================================================================
// Buffer Stream Renderer
// =============================================================================

// bufferStreamRenderer accumulates events in memory without writing any
// output. Used in tests to assert on the exact event sequence.
type bufferStreamRenderer struct {
	mu        sync.Mutex
	result    *StreamResult
	answer    strings.Builder
	calls     []string
	finalized bool
}

// NewBufferStreamRenderer creates a renderer that records events
// without producing output.
func NewBufferStreamRenderer() StreamRenderer {
	return &bufferStreamRenderer{
		result: &StreamResult{StartedAt: time.Now()},
	}
}

func (r *bufferStreamRenderer) OnThinking(ctx context.Context, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.ThinkingSteps = append(r.result.ThinkingSteps, step)
	r.calls = append(r.calls, "thinking:"+step)
}

func (r *bufferStreamRenderer) OnDelta(ctx context.Context, delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result.FirstTokenAt.IsZero() {
		r.result.FirstTokenAt = time.Now()
	}
	r.answer.WriteString(delta)
	r.calls = append(r.calls, "delta:"+delta)
}

func (r *bufferStreamRenderer) OnSource(ctx context.Context, source SourceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Sources = append(r.result.Sources, source)
	r.calls = append(r.calls, "source:"+source.SourceID)
}

func (r *bufferStreamRenderer) OnDone(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Completed = true
	r.calls = append(r.calls, "done")
}

func (r *bufferStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Err = err
	r.calls = append(r.calls, "error:"+err.Error())
}

func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = true
}

func (r *bufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Answer = r.answer.String()
	return r.result
}

// Calls returns the ordered list of rendered events (testing hook).
func (r *bufferStreamRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ensure bufferStreamRenderer implements StreamRenderer
var _ StreamRenderer = (*bufferStreamRenderer)(nil)
