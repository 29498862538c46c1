// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"github.com/orphwise/orphwise/pkg/ux"
)

// =============================================================================
// Turn Status
// =============================================================================

// TurnStatus is the lifecycle state of one streamed turn.
type TurnStatus string

const (
	// TurnIdle means no turn is in flight.
	TurnIdle TurnStatus = "idle"

	// TurnOpening means the request was accepted but the stream has not
	// yet delivered its first event.
	TurnOpening TurnStatus = "opening"

	// TurnStreaming means at least one event has arrived and the stream
	// is still open.
	TurnStreaming TurnStatus = "streaming"

	// TurnCompleted means the stream ended with a done event.
	TurnCompleted TurnStatus = "completed"

	// TurnFailed means the stream ended with an error, never delivered a
	// terminal event, or could not be opened at all.
	TurnFailed TurnStatus = "failed"

	// TurnAborted means the user cancelled the turn before it finished.
	TurnAborted TurnStatus = "aborted"
)

// Terminal reports whether the status is final. A terminal turn absorbs
// all further events and transitions.
func (s TurnStatus) Terminal() bool {
	return s == TurnCompleted || s == TurnFailed || s == TurnAborted
}

// FallbackContent replaces an empty assistant reply when a turn fails.
// Shown verbatim to the user.
const FallbackContent = "Failed to respond correctly. Try again"

// =============================================================================
// Turn State
// =============================================================================

// TurnState is the accumulated state of one turn.
//
// # Description
//
// TurnState is a value type mutated only through the reducer functions
// below. The reducers are pure with respect to I/O: they touch no
// network, no clock, no logger, which keeps every transition unit
// testable with plain literals.
//
// # Fields
//
//   - Status: Current lifecycle state.
//   - DoneSeen: Whether a done event has been observed. Used to ignore
//     a trailing error frame after a successful completion.
//   - Content: Accumulated answer text.
//   - ThinkingSteps: Reasoning-step labels shown while the answer is
//     pending. Cleared when the first answer delta arrives.
//   - Sources: Citations attached to the turn, in arrival order.
type TurnState struct {
	Status        TurnStatus
	DoneSeen      bool
	Content       string
	ThinkingSteps []string
	Sources       []SourceRef
}

// NewTurnState returns the initial state for a turn that has not yet
// opened its stream.
func NewTurnState() TurnState {
	return TurnState{Status: TurnIdle}
}

// =============================================================================
// Reducers
// =============================================================================

// Establish marks the turn as opening. Called after the request is
// accepted and before the stream delivers anything.
func Establish(state TurnState) TurnState {
	if state.Status.Terminal() {
		return state
	}
	state.Status = TurnOpening
	return state
}

// ApplyStreamEvent folds one decoded stream event into the turn state.
//
// # Description
//
// Transition rules:
//
//   - Terminal states absorb everything; the event is dropped.
//   - thinking appends its label unless it repeats the most recent one.
//   - response appends the delta to Content and clears ThinkingSteps.
//   - source appends a normalized citation.
//   - done completes the turn and sets DoneSeen.
//   - error after done is ignored; otherwise it fails the turn, and an
//     empty Content is replaced with FallbackContent so the user never
//     sees a blank failed reply.
//
// Any non-terminal event moves Opening to Streaming.
//
// # Inputs
//
//   - state: Current turn state.
//   - event: Decoded event. Nil events are dropped.
//
// # Outputs
//
//   - TurnState: The updated state.
func ApplyStreamEvent(state TurnState, event *ux.StreamEvent) TurnState {
	if event == nil || state.Status.Terminal() {
		return state
	}

	switch event.Type {
	case ux.StreamEventThinking:
		if n := len(state.ThinkingSteps); n > 0 && state.ThinkingSteps[n-1] == event.Step {
			// Consecutive duplicate label; keep the display stable.
			break
		}
		state.ThinkingSteps = append(append([]string(nil), state.ThinkingSteps...), event.Step)

	case ux.StreamEventResponse:
		state.Content += event.Content
		state.ThinkingSteps = nil

	case ux.StreamEventSource:
		if event.Source != nil {
			state.Sources = append(append([]SourceRef(nil), state.Sources...), SourceRef{
				Type:      ParseSourceType(event.Source.SourceType),
				ID:        event.Source.SourceID,
				Relevance: event.Source.Relevance,
			})
		}

	case ux.StreamEventDone:
		state.DoneSeen = true
		state.Status = TurnCompleted
		return state

	case ux.StreamEventError:
		if state.DoneSeen {
			// A done already completed the turn; a trailing error frame
			// must not undo it.
			return state
		}
		state.Status = TurnFailed
		if state.Content == "" {
			state.Content = FallbackContent
		}
		return state

	default:
		// Unknown event types are dropped by the parser; nothing to do.
		return state
	}

	if state.Status == TurnIdle || state.Status == TurnOpening {
		state.Status = TurnStreaming
	}
	return state
}

// FailOpen fails a turn whose stream never delivered a terminal event:
// the request was rejected, the connection dropped, or the body ended
// early. Empty content gets the fallback text.
func FailOpen(state TurnState) TurnState {
	if state.Status.Terminal() {
		return state
	}
	state.Status = TurnFailed
	if state.Content == "" {
		state.Content = FallbackContent
	}
	return state
}

// Cancel marks a user-initiated abort. Partial content is kept as-is
// and no fallback text is injected; the user asked for the silence.
func Cancel(state TurnState) TurnState {
	if state.Status.Terminal() {
		return state
	}
	state.Status = TurnAborted
	return state
}
