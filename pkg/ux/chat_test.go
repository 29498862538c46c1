// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestChatUI_SessionEndRich(t *testing.T) {
	t.Run("machine format", func(t *testing.T) {
		var out bytes.Buffer
		ui := NewChatUIWithWriter(&out, PersonalityMachine)

		ui.SessionEndRich(&SessionStats{
			TurnCount:   3,
			SourcesSeen: 2,
			Duration:    1500 * time.Millisecond,
		})

		want := "CHAT_END: turns=3 sources=2 duration=1.5s\n"
		if got := out.String(); got != want {
			t.Errorf("SessionEndRich() = %q, want %q", got, want)
		}
	})

	t.Run("nil stats falls back to plain end", func(t *testing.T) {
		var out bytes.Buffer
		ui := NewChatUIWithWriter(&out, PersonalityMachine)

		ui.SessionEndRich(nil)

		if got := out.String(); got != "CHAT_END\n" {
			t.Errorf("SessionEndRich(nil) = %q, want CHAT_END", got)
		}
	})

	t.Run("minimal summary renders every stat", func(t *testing.T) {
		var out bytes.Buffer
		ui := NewChatUIWithWriter(&out, PersonalityMinimal)

		ui.SessionEndRich(&SessionStats{
			TurnCount:   2,
			SourcesSeen: 1,
			Duration:    5 * time.Second,
		})

		output := out.String()
		if !strings.Contains(output, "Turns: 2 | Sources: 1 | Duration: 5.0s") {
			t.Errorf("minimal summary missing stats line:\n%s", output)
		}
		if !strings.Contains(output, "Goodbye!") {
			t.Errorf("minimal summary missing sign-off:\n%s", output)
		}
	})
}

func TestChatUI_Header(t *testing.T) {
	t.Run("machine format", func(t *testing.T) {
		var out bytes.Buffer
		ui := NewChatUIWithWriter(&out, PersonalityMachine)

		ui.Header(HeaderConfig{ServerURL: "http://analysis.local", Authenticated: false})

		want := "CHAT_START: server=http://analysis.local authenticated=false\n"
		if got := out.String(); got != want {
			t.Errorf("Header() = %q, want %q", got, want)
		}
	})

	t.Run("minimal warns when not logged in", func(t *testing.T) {
		var out bytes.Buffer
		ui := NewChatUIWithWriter(&out, PersonalityMinimal)

		ui.Header(HeaderConfig{ServerURL: "http://analysis.local", Authenticated: false})

		if !strings.Contains(out.String(), "Not logged in") {
			t.Errorf("header should warn about missing login:\n%s", out.String())
		}
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{500 * time.Millisecond, "500ms"},
		{5 * time.Second, "5.0s"},
		{time.Minute, "1m"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Hour, "2h 0m"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
