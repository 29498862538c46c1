// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/orphwise/orphwise/pkg/logging"
	"github.com/orphwise/orphwise/pkg/ux"
)

// =============================================================================
// Errors
// =============================================================================

// ErrTurnInFlight is returned when Submit is called while a turn is
// already streaming. Turns are never queued; the caller retries after
// the current one finishes.
var ErrTurnInFlight = errors.New("a turn is already in progress")

// ErrEmptyMessage is returned for blank input. Nothing is appended to
// the conversation and no request is made.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// Stream Handle
// =============================================================================

// streamHandle owns the network resources of one in-flight turn: the
// cancel function of the stream context and, once the stream is open,
// the response body.
//
// The handle is registered before the token and connect phases, so
// Cancel can abort a turn that has not yet received its first byte.
// Close is idempotent; it is safe to call from the turn goroutine
// after completion and from Cancel/Shutdown concurrently.
type streamHandle struct {
	mu      sync.Mutex
	closed  bool
	body    io.ReadCloser
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (h *streamHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.cancel != nil {
		h.cancel()
	}
	if h.body != nil {
		h.body.Close()
	}
}

// setBody attaches the open stream body. Returns false when the handle
// was closed while the open was in flight; the caller then still owns
// the body and the turn counts as aborted.
func (h *streamHandle) setBody(body io.ReadCloser) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.body = body
	return true
}

// Abort marks the close as user-initiated, then closes.
func (h *streamHandle) Abort() {
	h.aborted.Store(true)
	h.Close()
}

// =============================================================================
// Controller
// =============================================================================

// ControllerConfig configures a session Controller.
//
// # Fields
//
//   - BaseURL: Required. Analysis service base URL, no trailing slash.
//   - Tokens: Required. Token cache for bearer credentials.
//   - Client: Optional. HTTP client; a streaming-safe default (no
//     client timeout) is created if nil.
//   - Breaker: Optional. Circuit breaker for stream opens; a default
//     is created if nil.
//   - NewRenderer: Optional. Factory producing one renderer per turn;
//     defaults to the interactive terminal renderer.
//   - Logger: Optional. Defaults to the package default logger.
type ControllerConfig struct {
	BaseURL     string
	Tokens      *TokenCache
	Client      HTTPClient
	Breaker     *CircuitBreaker
	NewRenderer func() ux.StreamRenderer
	Logger      *logging.Logger
}

// Controller drives streamed turns against the analysis service.
//
// # Description
//
// One Submit call runs one full turn: validate input, append the user
// message and a pending assistant message, obtain a token, open the
// stream, fold events into the turn state, and land the turn in exactly
// one terminal state. The assistant message in the conversation always
// reflects the latest turn state, so a UI can re-render from the store
// at any point.
//
// At most one turn is in flight; concurrent Submit calls are rejected
// with ErrTurnInFlight, never queued.
//
// # Thread Safety
//
// Submit blocks its caller for the duration of the turn. Cancel and
// Shutdown may be called concurrently from other goroutines.
type Controller struct {
	baseURL     string
	client      HTTPClient
	tokens      *TokenCache
	breaker     *CircuitBreaker
	parser      ux.EventParser
	reader      ux.StreamReader
	conv        *Conversation
	logger      *logging.Logger
	newRenderer func() ux.StreamRenderer

	mu       sync.Mutex
	inFlight bool
	handle   *streamHandle
}

// NewController creates a controller with an empty conversation.
func NewController(config ControllerConfig) *Controller {
	client := config.Client
	if client == nil {
		// Zero timeout: streams are bounded by context, not a deadline.
		client = NewHTTPClient(0)
	}
	breaker := config.Breaker
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	newRenderer := config.NewRenderer
	if newRenderer == nil {
		newRenderer = func() ux.StreamRenderer {
			return ux.NewTerminalStreamRenderer(nil, ux.GetPersonality().Level)
		}
	}

	parser := ux.NewEventParser()
	return &Controller{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		client:      client,
		tokens:      config.Tokens,
		breaker:     breaker,
		parser:      parser,
		reader:      ux.NewSSEStreamReader(parser),
		conv:        NewConversation(),
		logger:      logger,
		newRenderer: newRenderer,
	}
}

// Conversation returns the controller's message store.
func (c *Controller) Conversation() *Conversation {
	return c.conv
}

// Submit runs one full turn and blocks until it reaches a terminal
// state.
//
// # Description
//
// Validation failures (blank input, turn already in flight) leave the
// conversation untouched. Once the user message is appended the turn
// always lands in exactly one of Completed, Failed or Aborted, and the
// pending assistant message is filled in accordingly; a failed turn
// with no streamed content carries the fallback text instead of an
// empty reply.
//
// # Inputs
//
//   - ctx: Bounds the whole turn. Cancellation aborts the stream.
//   - userText: The user's message. Leading/trailing space is kept;
//     only fully blank input is rejected.
//
// # Outputs
//
//   - TurnState: Final state of the turn. Zero value on validation
//     errors.
//   - error: ErrEmptyMessage, ErrTurnInFlight, a token error wrapping
//     ErrAuthUnavailable, ErrCircuitOpen, or a transport error. Nil for
//     completed and aborted turns.
func (c *Controller) Submit(ctx context.Context, userText string) (TurnState, error) {
	if strings.TrimSpace(userText) == "" {
		return TurnState{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return TurnState{}, ErrTurnInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.handle = nil
		c.mu.Unlock()
	}()

	c.conv.AppendUser(userText)
	assistantID := c.conv.AppendPendingAssistant()

	renderer := c.newRenderer()
	defer renderer.Finalize()

	state := Establish(NewTurnState())
	c.conv.ApplyTurnState(assistantID, state)

	// The handle is registered before any suspension point: Cancel has
	// to reach a turn that is still acquiring a token or connecting.
	streamCtx, cancel := context.WithCancel(ctx)
	handle := &streamHandle{cancel: cancel}
	defer handle.Close()

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()

	// aborted reports whether the turn was cancelled while it was still
	// opening, either through Cancel or through the parent context.
	aborted := func() bool {
		return handle.aborted.Load() || streamCtx.Err() != nil
	}

	// Credentials come first: a turn never opens a stream it cannot
	// authorize.
	cred, err := c.tokens.GetValidToken(streamCtx)
	if err != nil {
		if aborted() {
			state = Cancel(state)
			c.conv.ApplyTurnState(assistantID, state)
			c.logger.Debug("turn aborted")
			return state, nil
		}
		c.logger.Warn("turn rejected: no credential", "error", err)
		state = FailOpen(state)
		c.conv.ApplyTurnState(assistantID, state)
		renderer.OnError(ctx, err)
		return state, err
	}

	resp, err := c.openStream(streamCtx, userText, cred)
	if err != nil {
		if aborted() {
			state = Cancel(state)
			c.conv.ApplyTurnState(assistantID, state)
			c.logger.Debug("turn aborted")
			return state, nil
		}
		c.logger.Warn("turn rejected: stream open failed", "error", err)
		state = FailOpen(state)
		c.conv.ApplyTurnState(assistantID, state)
		renderer.OnError(ctx, err)
		return state, err
	}
	if !handle.setBody(resp.Body) {
		// Cancelled while the open was in flight; the response arrived
		// anyway and must be released here.
		resp.Body.Close()
		state = Cancel(state)
		c.conv.ApplyTurnState(assistantID, state)
		c.logger.Debug("turn aborted")
		return state, nil
	}

	readErr := c.reader.Read(streamCtx, resp.Body, func(event *ux.StreamEvent) error {
		prev := state
		state = ApplyStreamEvent(state, event)
		c.conv.ApplyTurnState(assistantID, state)

		switch event.Type {
		case ux.StreamEventThinking:
			if len(state.ThinkingSteps) != len(prev.ThinkingSteps) {
				renderer.OnThinking(streamCtx, event.Step)
			}
		case ux.StreamEventResponse:
			renderer.OnDelta(streamCtx, event.Content)
		case ux.StreamEventSource:
			if event.Source != nil {
				renderer.OnSource(streamCtx, *event.Source)
			}
		case ux.StreamEventDone:
			renderer.OnDone(streamCtx)
		case ux.StreamEventError:
			if !prev.DoneSeen {
				renderer.OnError(streamCtx, streamError(event.Message))
			}
		}
		return nil
	})

	if state.Status.Terminal() {
		c.logger.Debug("turn finished", "status", string(state.Status))
		return state, nil
	}

	// The stream ended without a terminal event: user abort, context
	// cancellation, or a connection that dropped mid-answer.
	if handle.aborted.Load() || errors.Is(readErr, context.Canceled) {
		state = Cancel(state)
		c.conv.ApplyTurnState(assistantID, state)
		c.logger.Debug("turn aborted")
		return state, nil
	}

	state = FailOpen(state)
	c.conv.ApplyTurnState(assistantID, state)
	err = readErr
	if err == nil {
		err = errors.New("stream ended before completion")
	}
	c.logger.Warn("turn failed: stream ended early", "error", err)
	renderer.OnError(ctx, err)
	return state, err
}

// openStream POSTs the chat request and returns the open SSE response.
// The breaker counts only the open, not what happens on the stream.
func (c *Controller) openStream(ctx context.Context, userText string, cred Credential) (*http.Response, error) {
	payload, err := json.Marshal(map[string]string{"message": userText})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + cred.Token,
		"Accept":        "text/event-stream",
	}

	var resp *http.Response
	execErr := c.breaker.Execute(func() error {
		r, err := c.client.PostWithHeaders(ctx, c.baseURL+"/chat", "application/json", bytes.NewReader(payload), headers)
		if err != nil {
			return fmt.Errorf("open stream: %w", err)
		}
		if r.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			return fmt.Errorf("open stream: server returned %d: %s", r.StatusCode, strings.TrimSpace(string(body)))
		}
		resp = r
		return nil
	})
	if execErr != nil {
		return nil, execErr
	}
	return resp, nil
}

// streamError converts a wire error message into an error value.
func streamError(message string) error {
	if message == "" {
		return errors.New("the analysis service reported a failure")
	}
	return errors.New(message)
}

// Cancel aborts the in-flight turn, if any. The turn lands in Aborted
// with whatever content had streamed so far; no fallback text is
// injected. Safe to call when no turn is running or after the turn has
// already finished.
func (c *Controller) Cancel() {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	if handle != nil {
		handle.Abort()
	}
}

// Shutdown tears the controller down: any in-flight turn is aborted and
// its stream handle released. Idempotent.
func (c *Controller) Shutdown() {
	c.Cancel()
}
