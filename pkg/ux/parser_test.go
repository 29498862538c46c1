// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import "testing"

func TestParseEvent_Thinking(t *testing.T) {
	p := NewEventParser()

	t.Run("valid payload", func(t *testing.T) {
		event := p.ParseEvent("thinking", `{"step":"Searching knowledge base"}`)
		if event == nil {
			t.Fatal("expected event, got nil")
		}
		if event.Type != StreamEventThinking {
			t.Errorf("expected thinking type, got %s", event.Type)
		}
		if event.Step != "Searching knowledge base" {
			t.Errorf("unexpected step: %q", event.Step)
		}
	})

	t.Run("malformed payload is skipped", func(t *testing.T) {
		if event := p.ParseEvent("thinking", `{"step":`); event != nil {
			t.Errorf("expected nil for malformed payload, got %+v", event)
		}
	})

	t.Run("missing step yields empty label", func(t *testing.T) {
		event := p.ParseEvent("thinking", `{}`)
		if event == nil {
			t.Fatal("expected event, got nil")
		}
		if event.Step != "" {
			t.Errorf("expected empty step, got %q", event.Step)
		}
	})
}

func TestParseEvent_Response(t *testing.T) {
	p := NewEventParser()

	t.Run("valid delta", func(t *testing.T) {
		event := p.ParseEvent("response", `{"content":"Marfan syndrome is"}`)
		if event == nil {
			t.Fatal("expected event, got nil")
		}
		if event.Content != "Marfan syndrome is" {
			t.Errorf("unexpected content: %q", event.Content)
		}
	})

	t.Run("malformed delta is skipped", func(t *testing.T) {
		if event := p.ParseEvent("response", `not json`); event != nil {
			t.Errorf("expected nil, got %+v", event)
		}
	})
}

func TestParseEvent_Source(t *testing.T) {
	p := NewEventParser()

	t.Run("valid citation", func(t *testing.T) {
		event := p.ParseEvent("source", `{"source_type":"orphanet","source_id":"ORPHA:558","relevance":0.91}`)
		if event == nil {
			t.Fatal("expected event, got nil")
		}
		if event.Source == nil {
			t.Fatal("expected source info")
		}
		if event.Source.SourceType != "orphanet" {
			t.Errorf("unexpected source type: %q", event.Source.SourceType)
		}
		if event.Source.SourceID != "ORPHA:558" {
			t.Errorf("unexpected source id: %q", event.Source.SourceID)
		}
		if event.Source.Relevance != 0.91 {
			t.Errorf("unexpected relevance: %f", event.Source.Relevance)
		}
	})

	t.Run("malformed citation is skipped", func(t *testing.T) {
		if event := p.ParseEvent("source", `[]`); event != nil {
			t.Errorf("expected nil, got %+v", event)
		}
	})
}

func TestParseEvent_Terminal(t *testing.T) {
	p := NewEventParser()

	t.Run("done with payload", func(t *testing.T) {
		event := p.ParseEvent("done", `{"status":"complete"}`)
		if event == nil || event.Type != StreamEventDone {
			t.Fatalf("expected done event, got %+v", event)
		}
		if !event.IsTerminal() {
			t.Error("done should be terminal")
		}
	})

	t.Run("done with empty payload still terminates", func(t *testing.T) {
		event := p.ParseEvent("done", "")
		if event == nil || event.Type != StreamEventDone {
			t.Fatalf("expected done event, got %+v", event)
		}
	})

	t.Run("error with message", func(t *testing.T) {
		event := p.ParseEvent("error", `{"message":"model overloaded"}`)
		if event == nil || event.Type != StreamEventError {
			t.Fatalf("expected error event, got %+v", event)
		}
		if event.Message != "model overloaded" {
			t.Errorf("unexpected message: %q", event.Message)
		}
		if !event.IsTerminal() {
			t.Error("error should be terminal")
		}
	})

	t.Run("error with garbage payload still terminates", func(t *testing.T) {
		event := p.ParseEvent("error", `garbage`)
		if event == nil || event.Type != StreamEventError {
			t.Fatalf("expected error event, got %+v", event)
		}
		if event.Message != "" {
			t.Errorf("expected empty message, got %q", event.Message)
		}
	})
}

func TestParseEvent_UnknownName(t *testing.T) {
	p := NewEventParser()

	for _, name := range []string{"", "heartbeat", "metrics", "DONE"} {
		if event := p.ParseEvent(name, `{}`); event != nil {
			t.Errorf("expected nil for event name %q, got %+v", name, event)
		}
	}
}
