// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// HeaderConfig contains configuration for displaying the chat header.
//
// # Description
//
// HeaderConfig groups all optional parameters for the chat header
// display. This allows extending the header with new fields without
// breaking existing callers of the Header() method.
//
// # Fields
//
//   - ServerURL: The analysis service endpoint being queried.
//   - Authenticated: Whether an active session credential is available.
type HeaderConfig struct {
	ServerURL     string
	Authenticated bool
}

// SessionStats aggregates metrics from a chat session for display.
//
// # Description
//
// SessionStats captures accumulated metrics across all turns in a chat
// session. It is displayed when the session ends, giving users
// visibility into their session's usage.
//
// # Fields
//
//   - TurnCount: Number of completed turns (user message + reply)
//   - SourcesSeen: Number of unique sources cited across all turns
//   - Duration: Total session duration
type SessionStats struct {
	TurnCount   int
	SourcesSeen int
	Duration    time.Duration
}

// ChatUI defines the interface for chat user interface operations.
// Implementations handle rendering chat elements to different outputs.
type ChatUI interface {
	// Header displays the chat session header.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Error displays a chat error message
	Error(err error)

	// SessionEnd displays session end information
	SessionEnd()

	// SessionEndRich displays session end information with stats.
	// Falls back to SessionEnd when stats is nil.
	SessionEndRich(stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output and handles errors.
// Errors are silently ignored as there's no meaningful recovery for
// terminal output.
func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		return
	}
}

// writeln is a helper that writes a line and handles errors.
func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		return
	}
}

// NewChatUI creates a new terminal-based ChatUI
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

// Header displays the chat session header.
func (u *terminalChatUI) Header(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_START: server=%s authenticated=%t\n", config.ServerURL, config.Authenticated)
		return
	}

	if u.personality == PersonalityMinimal {
		u.write("Orphwise (%s)\n", config.ServerURL)
		if !config.Authenticated {
			u.writeln("Not logged in; answers will be unavailable.")
		}
		u.writeln("Type 'exit' to end.")
		return
	}

	var content strings.Builder
	content.WriteString(Styles.Highlight.Render("Orphwise"))
	content.WriteString("\n")
	content.WriteString(Styles.Muted.Render("rare disease assistant"))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("Server: %s", Styles.Subtitle.Render(config.ServerURL)))
	if !config.Authenticated {
		content.WriteString("\n")
		content.WriteString(Styles.Warning.Render("Not logged in; answers will be unavailable."))
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// SessionEnd displays session end information.
func (u *terminalChatUI) SessionEnd() {
	if u.personality == PersonalityMachine {
		u.writeln("CHAT_END")
		return
	}
	u.writeln("Goodbye!")
}

// SessionEndRich displays session end information with statistics.
//
// # Description
//
// Displays a session summary box with turn and citation counts plus
// timing metrics. Falls back to SessionEnd when stats is nil.
//
// # Inputs
//
//   - stats: Session statistics. May be nil.
func (u *terminalChatUI) SessionEndRich(stats *SessionStats) {
	if stats == nil {
		u.SessionEnd()
		return
	}

	if u.personality == PersonalityMachine {
		u.write("CHAT_END: turns=%d sources=%d duration=%s\n",
			stats.TurnCount, stats.SourcesSeen, stats.Duration.Round(time.Millisecond))
		return
	}

	if u.personality == PersonalityMinimal {
		u.writeln()
		u.write("Turns: %d | Sources: %d | Duration: %s\n",
			stats.TurnCount, stats.SourcesSeen, formatDuration(stats.Duration))
		u.writeln("Goodbye!")
		return
	}

	u.writeln()

	var content strings.Builder
	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")
	content.WriteString(fmt.Sprintf("  %s  %d turns\n", IconBullet.Render(), stats.TurnCount))
	if stats.SourcesSeen > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d sources cited\n", IconCite.Render(), stats.SourcesSeen))
	}
	content.WriteString(fmt.Sprintf("  %s  %s session duration\n", IconArrow.Render(), formatDuration(stats.Duration)))

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Goodbye!"))
}

// formatDuration formats a duration for human-readable display.
//
// Adapts the format to the magnitude: "500ms", "5.0s", "1m 30s",
// "2h 0m".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}
