// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/orphwise/orphwise/pkg/logging"
	"github.com/orphwise/orphwise/pkg/session"
	"github.com/orphwise/orphwise/pkg/ux"
)

// fakeStreamClient implements session.HTTPClient, answering every POST
// with the same SSE stream.
type fakeStreamClient struct {
	stream string
	posts  int
}

func (f *fakeStreamClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return f.PostWithHeaders(ctx, url, contentType, body, nil)
}

func (f *fakeStreamClient) PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	f.posts++
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(f.stream)),
	}, nil
}

func (f *fakeStreamClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

// newTestRunner builds a runner over scripted inputs and a canned
// stream, capturing UI output in the returned buffer.
func newTestRunner(inputs []string, stream string) (ChatRunner, *fakeStreamClient, *bytes.Buffer) {
	client := &fakeStreamClient{stream: stream}

	provider := &session.StaticProvider{
		Cred:   session.Credential{Token: "t", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		Active: true,
	}
	controller := session.NewController(session.ControllerConfig{
		BaseURL:     "http://analysis.local",
		Tokens:      session.NewTokenCache(provider),
		Client:      client,
		Logger:      logging.New(logging.Config{Level: logging.LevelError, Quiet: true}),
		NewRenderer: ux.NewBufferStreamRenderer,
	})

	var out bytes.Buffer
	runner := NewChatRunner(ChatRunnerConfig{
		Controller:    controller,
		ServerURL:     "http://analysis.local",
		Authenticated: true,
		Input:         NewMockInputReader(inputs),
		UI:            ux.NewChatUIWithWriter(&out, ux.PersonalityMachine),
	})
	return runner, client, &out
}

const doneStream = "event: response\ndata: {\"content\":\"answer\"}\n\n" +
	"event: done\ndata: {\"status\":\"complete\"}\n\n"

func TestChatRunner_ExitCommand(t *testing.T) {
	runner, client, out := newTestRunner([]string{"What is Marfan syndrome?", "exit"}, doneStream)
	defer runner.Close()

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if client.posts != 1 {
		t.Errorf("expected 1 turn, got %d posts", client.posts)
	}

	output := out.String()
	if !strings.Contains(output, "CHAT_START: server=http://analysis.local authenticated=true") {
		t.Errorf("missing header line:\n%s", output)
	}
	if !strings.Contains(output, "CHAT_END: turns=1") {
		t.Errorf("missing session end line:\n%s", output)
	}
}

func TestChatRunner_EOFEndsSession(t *testing.T) {
	runner, client, out := newTestRunner([]string{"question one", "question two"}, doneStream)
	defer runner.Close()

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if client.posts != 2 {
		t.Errorf("expected 2 turns, got %d posts", client.posts)
	}
	if !strings.Contains(out.String(), "CHAT_END: turns=2") {
		t.Errorf("missing session end line:\n%s", out.String())
	}
}

func TestChatRunner_BlankLinesSkipped(t *testing.T) {
	runner, client, _ := newTestRunner([]string{"", "   ", "exit"}, doneStream)
	defer runner.Close()

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The runner skips empty lines; the controller rejects the
	// whitespace-only one before opening a stream.
	if client.posts != 0 {
		t.Errorf("expected 0 turns, got %d posts", client.posts)
	}
}

func TestChatRunner_ContextCancellation(t *testing.T) {
	runner, _, _ := newTestRunner([]string{"question"}, doneStream)
	defer runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runner.Run(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestChatRunner_CloseIdempotent(t *testing.T) {
	runner, _, _ := newTestRunner([]string{"exit"}, doneStream)

	if err := runner.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := runner.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestIsExitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"exit", true},
		{"quit", true},
		{"EXIT", false},
		{"exit now", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isExitCommand(tt.input); got != tt.want {
			t.Errorf("isExitCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestMockInputReader(t *testing.T) {
	reader := NewMockInputReader([]string{"a", "b"})

	if line, err := reader.ReadLine(); err != nil || line != "a" {
		t.Errorf("expected (a, nil), got (%q, %v)", line, err)
	}
	if line, err := reader.ReadLine(); err != nil || line != "b" {
		t.Errorf("expected (b, nil), got (%q, %v)", line, err)
	}
	if _, err := reader.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestChatRunner_SharedProviderReportsUnauthenticated(t *testing.T) {
	// One provider instance backs both the token cache and the header's
	// session probe, as the chat command wires it.
	provider := &session.StaticProvider{Active: false}
	client := &fakeStreamClient{stream: doneStream}
	controller := session.NewController(session.ControllerConfig{
		BaseURL:     "http://analysis.local",
		Tokens:      session.NewTokenCache(provider),
		Client:      client,
		Logger:      logging.New(logging.Config{Level: logging.LevelError, Quiet: true}),
		NewRenderer: ux.NewBufferStreamRenderer,
	})

	var out bytes.Buffer
	runner := NewChatRunner(ChatRunnerConfig{
		Controller:    controller,
		ServerURL:     "http://analysis.local",
		Authenticated: provider.HasActiveSession(context.Background()),
		Input:         NewMockInputReader([]string{"what is PKU?", "exit"}),
		UI:            ux.NewChatUIWithWriter(&out, ux.PersonalityMachine),
	})
	defer runner.Close()

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "authenticated=false") {
		t.Errorf("header should reflect the shared provider's state:\n%s", output)
	}
	if !strings.Contains(output, "CHAT_ERROR") {
		t.Errorf("the turn should fail without a session:\n%s", output)
	}
	if client.posts != 0 {
		t.Errorf("no stream should open without a credential, got %d posts", client.posts)
	}
}
