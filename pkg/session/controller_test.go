// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orphwise/orphwise/pkg/logging"
	"github.com/orphwise/orphwise/pkg/ux"
)

// capturedRequest records one request seen by the mock client.
type capturedRequest struct {
	URL         string
	ContentType string
	Body        string
	Headers     map[string]string
}

// mockHTTPClient implements HTTPClient with a scripted response.
type mockHTTPClient struct {
	mu       sync.Mutex
	requests []capturedRequest
	respond  func(url string) (*http.Response, error)
	// opened is signalled after each POST is captured.
	opened chan struct{}
}

func newMockHTTPClient(respond func(url string) (*http.Response, error)) *mockHTTPClient {
	return &mockHTTPClient{
		respond: respond,
		opened:  make(chan struct{}, 8),
	}
}

func (m *mockHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return m.PostWithHeaders(ctx, url, contentType, body, nil)
}

func (m *mockHTTPClient) PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	var payload string
	if body != nil {
		data, _ := io.ReadAll(body)
		payload = string(data)
	}
	m.mu.Lock()
	m.requests = append(m.requests, capturedRequest{
		URL:         url,
		ContentType: contentType,
		Body:        payload,
		Headers:     headers,
	})
	m.mu.Unlock()

	select {
	case m.opened <- struct{}{}:
	default:
	}
	return m.respond(url)
}

func (m *mockHTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return m.respond(url)
}

func (m *mockHTTPClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockHTTPClient) lastRequest() capturedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// sseResponse wraps an SSE stream in a 200 response.
func sseResponse(stream string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(stream)),
	}
}

// newTestController wires a controller with a static credential, a
// buffer renderer, and the given mock client.
func newTestController(t *testing.T, client HTTPClient) *Controller {
	t.Helper()

	provider := &StaticProvider{
		Cred:   Credential{Token: "test-token", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		Active: true,
	}

	return NewController(ControllerConfig{
		BaseURL:     "http://analysis.local",
		Tokens:      NewTokenCache(provider),
		Client:      client,
		Logger:      logging.New(logging.Config{Level: logging.LevelError, Quiet: true}),
		NewRenderer: ux.NewBufferStreamRenderer,
	})
}

func TestController_CompletedTurn(t *testing.T) {
	stream := "event: thinking\ndata: {\"step\":\"searching\"}\n\n" +
		"event: response\ndata: {\"content\":\"Marfan \"}\n\n" +
		"event: response\ndata: {\"content\":\"syndrome\"}\n\n" +
		"event: source\ndata: {\"source_type\":\"orphanet\",\"source_id\":\"ORPHA:558\",\"relevance\":0.91}\n\n" +
		"event: done\ndata: {\"status\":\"complete\"}\n\n"

	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return sseResponse(stream), nil
	})
	controller := newTestController(t, client)

	state, err := controller.Submit(context.Background(), "What is Marfan syndrome?")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if state.Status != TurnCompleted {
		t.Errorf("expected completed, got %s", state.Status)
	}
	if state.Content != "Marfan syndrome" {
		t.Errorf("unexpected content: %q", state.Content)
	}
	if len(state.Sources) != 1 || state.Sources[0].Type != SourceOrphadata {
		t.Errorf("unexpected sources: %+v", state.Sources)
	}

	req := client.lastRequest()
	if req.URL != "http://analysis.local/chat" {
		t.Errorf("unexpected URL: %s", req.URL)
	}
	if req.Headers["Authorization"] != "Bearer test-token" {
		t.Errorf("unexpected auth header: %q", req.Headers["Authorization"])
	}
	if req.Headers["Accept"] != "text/event-stream" {
		t.Errorf("unexpected accept header: %q", req.Headers["Accept"])
	}
	if req.Body != `{"message":"What is Marfan syndrome?"}` {
		t.Errorf("unexpected request body: %s", req.Body)
	}

	msgs := controller.Conversation().Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "Marfan syndrome" {
		t.Errorf("assistant message not updated: %q", msgs[1].Content)
	}
	if len(msgs[1].ThinkingSteps) != 0 {
		t.Errorf("thinking steps should be cleared after content, got %v", msgs[1].ThinkingSteps)
	}
}

func TestController_ErrorMidStream(t *testing.T) {
	stream := "event: response\ndata: {\"content\":\"partial\"}\n\n" +
		"event: error\ndata: {\"message\":\"model overloaded\"}\n\n"

	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return sseResponse(stream), nil
	})
	controller := newTestController(t, client)

	state, err := controller.Submit(context.Background(), "question")
	if err != nil {
		t.Fatalf("a turn failed by the stream is not a Submit error: %v", err)
	}
	if state.Status != TurnFailed {
		t.Errorf("expected failed, got %s", state.Status)
	}
	if state.Content != "partial" {
		t.Errorf("partial content must survive, got %q", state.Content)
	}
}

func TestController_ErrorWithoutContentGetsFallback(t *testing.T) {
	stream := "event: thinking\ndata: {\"step\":\"searching\"}\n\n" +
		"event: error\ndata: {}\n\n"

	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return sseResponse(stream), nil
	})
	controller := newTestController(t, client)

	state, err := controller.Submit(context.Background(), "question")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if state.Content != FallbackContent {
		t.Errorf("expected fallback content, got %q", state.Content)
	}

	msgs := controller.Conversation().Messages()
	if msgs[1].Content != FallbackContent {
		t.Errorf("assistant message must carry fallback, got %q", msgs[1].Content)
	}
}

func TestController_EmptyInput(t *testing.T) {
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		t.Error("no request expected for empty input")
		return nil, errors.New("unreachable")
	})
	controller := newTestController(t, client)

	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := controller.Submit(context.Background(), input)
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("input %q: expected ErrEmptyMessage, got %v", input, err)
		}
	}

	if controller.Conversation().Len() != 0 {
		t.Error("empty input must not touch the conversation")
	}
}

func TestController_AuthUnavailable(t *testing.T) {
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		t.Error("no network request expected without a credential")
		return nil, errors.New("unreachable")
	})

	provider := &StaticProvider{Active: false}
	controller := NewController(ControllerConfig{
		BaseURL:     "http://analysis.local",
		Tokens:      NewTokenCache(provider),
		Client:      client,
		Logger:      logging.New(logging.Config{Level: logging.LevelError, Quiet: true}),
		NewRenderer: ux.NewBufferStreamRenderer,
	})

	state, err := controller.Submit(context.Background(), "question")
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("expected ErrAuthUnavailable, got %v", err)
	}
	if state.Status != TurnFailed {
		t.Errorf("expected failed, got %s", state.Status)
	}
	if state.Content != FallbackContent {
		t.Errorf("expected fallback content, got %q", state.Content)
	}
	if client.requestCount() != 0 {
		t.Errorf("expected 0 requests, got %d", client.requestCount())
	}

	// The messages are still appended; only the stream never opened.
	if controller.Conversation().Len() != 2 {
		t.Errorf("expected 2 messages, got %d", controller.Conversation().Len())
	}
}

func TestController_ServerRejectsRequest(t *testing.T) {
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader("boom")),
		}, nil
	})
	controller := newTestController(t, client)

	state, err := controller.Submit(context.Background(), "question")
	if err == nil {
		t.Fatal("expected an error for a rejected request")
	}
	if state.Status != TurnFailed {
		t.Errorf("expected failed, got %s", state.Status)
	}
	if state.Content != FallbackContent {
		t.Errorf("expected fallback content, got %q", state.Content)
	}
}

func TestController_StreamEndsWithoutTerminal(t *testing.T) {
	stream := "event: response\ndata: {\"content\":\"cut off\"}\n\n"

	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return sseResponse(stream), nil
	})
	controller := newTestController(t, client)

	state, err := controller.Submit(context.Background(), "question")
	if err == nil {
		t.Fatal("expected an error for a truncated stream")
	}
	if state.Status != TurnFailed {
		t.Errorf("expected failed, got %s", state.Status)
	}
	if state.Content != "cut off" {
		t.Errorf("partial content must survive, got %q", state.Content)
	}
}

func TestController_RejectsConcurrentTurn(t *testing.T) {
	pr, pw := io.Pipe()
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: pr}, nil
	})
	controller := newTestController(t, client)

	firstDone := make(chan TurnState, 1)
	go func() {
		state, _ := controller.Submit(context.Background(), "first question")
		firstDone <- state
	}()

	// Wait for the first turn to open its stream.
	select {
	case <-client.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never opened a stream")
	}

	_, err := controller.Submit(context.Background(), "second question")
	if !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("expected ErrTurnInFlight, got %v", err)
	}
	// The rejected turn must not have touched the store.
	if n := controller.Conversation().Len(); n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}

	// Finish the first turn.
	go func() {
		pw.Write([]byte("event: done\ndata: {\"status\":\"complete\"}\n\n"))
		pw.Close()
	}()

	select {
	case state := <-firstDone:
		if state.Status != TurnCompleted {
			t.Errorf("expected completed, got %s", state.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never finished")
	}

	// With the first turn done, a new turn is accepted again.
	client.respond = func(url string) (*http.Response, error) {
		return sseResponse("event: done\ndata: {}\n\n"), nil
	}
	if _, err := controller.Submit(context.Background(), "third question"); err != nil {
		t.Errorf("turn after completion should be accepted, got %v", err)
	}
}

func TestController_CancelAbortsTurn(t *testing.T) {
	pr, pw := io.Pipe()
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: pr}, nil
	})
	controller := newTestController(t, client)

	type result struct {
		state TurnState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := controller.Submit(context.Background(), "question")
		done <- result{state, err}
	}()

	select {
	case <-client.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never opened a stream")
	}

	// Stream some content, then cancel mid-answer.
	pw.Write([]byte("event: response\ndata: {\"content\":\"partial\"}\n\n"))
	time.Sleep(50 * time.Millisecond)
	controller.Cancel()

	select {
	case res := <-done:
		if res.err != nil {
			t.Errorf("an aborted turn is not a Submit error: %v", res.err)
		}
		if res.state.Status != TurnAborted {
			t.Errorf("expected aborted, got %s", res.state.Status)
		}
		if res.state.Content != "partial" {
			t.Errorf("partial content must survive the abort, got %q", res.state.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled turn never returned")
	}

	// Cancel after completion is a no-op.
	controller.Cancel()
	controller.Shutdown()
	pw.Close()
}

func TestController_CancelDuringConnect(t *testing.T) {
	release := make(chan struct{})
	stream := "event: response\ndata: {\"content\":\"answer\"}\n\n" +
		"event: done\ndata: {\"status\":\"complete\"}\n\n"
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		// Hold the POST open until the test releases it, as a slow
		// connect would.
		<-release
		return sseResponse(stream), nil
	})
	controller := newTestController(t, client)

	type result struct {
		state TurnState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := controller.Submit(context.Background(), "question")
		done <- result{state, err}
	}()

	select {
	case <-client.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never started connecting")
	}

	// Cancel while the connection is still being established, then let
	// the server answer anyway.
	controller.Cancel()
	close(release)

	select {
	case res := <-done:
		if res.err != nil {
			t.Errorf("an aborted turn is not a Submit error: %v", res.err)
		}
		if res.state.Status != TurnAborted {
			t.Errorf("expected aborted, got %s", res.state.Status)
		}
		if res.state.Content != "" {
			t.Errorf("a turn aborted before streaming has no content, got %q", res.state.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled turn never returned")
	}

	// The pending assistant message reflects the abort, not the stream
	// that arrived after it.
	messages := controller.Conversation().Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[1].Content != "" {
		t.Errorf("aborted assistant message must stay empty, got %q", messages[1].Content)
	}
}

// stallingProvider parks CreateToken until its context is cancelled,
// signalling entry on started.
type stallingProvider struct {
	started chan struct{}
}

func (p *stallingProvider) CreateToken(ctx context.Context) (Credential, error) {
	close(p.started)
	<-ctx.Done()
	return Credential{}, ctx.Err()
}

func (p *stallingProvider) HasActiveSession(ctx context.Context) bool {
	return true
}

func TestController_CancelDuringTokenAcquisition(t *testing.T) {
	provider := &stallingProvider{started: make(chan struct{})}
	client := newMockHTTPClient(func(url string) (*http.Response, error) {
		return sseResponse("event: done\ndata: {}\n\n"), nil
	})
	controller := NewController(ControllerConfig{
		BaseURL:     "http://analysis.local",
		Tokens:      NewTokenCache(provider),
		Client:      client,
		Logger:      logging.New(logging.Config{Level: logging.LevelError, Quiet: true}),
		NewRenderer: ux.NewBufferStreamRenderer,
	})

	type result struct {
		state TurnState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := controller.Submit(context.Background(), "question")
		done <- result{state, err}
	}()

	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never asked for a token")
	}

	controller.Cancel()

	select {
	case res := <-done:
		if res.err != nil {
			t.Errorf("an aborted turn is not a Submit error: %v", res.err)
		}
		if res.state.Status != TurnAborted {
			t.Errorf("expected aborted, got %s", res.state.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled turn never returned")
	}

	if n := client.requestCount(); n != 0 {
		t.Errorf("an aborted token phase must not open a stream, made %d requests", n)
	}
}
