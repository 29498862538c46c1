// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the Orphwise CLI chat runner.
//
// This file defines the ChatRunner interface and the input reader
// abstractions that let the chat loop run against real stdin, an
// interactive editor with history, or scripted input in tests.
//
// Architecture:
//
//	cmd_chat.go → ChatRunner → session.Controller (streamed turns)
//	                           InputReader (stdin abstraction)
//	                           ux.ChatUI (display)
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/orphwise/orphwise/pkg/session"
	"github.com/orphwise/orphwise/pkg/ux"
)

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner runs an interactive chat session until exit, error, or
// context cancellation.
//
// # Description
//
// Run blocks for the whole session. It returns nil when the user types
// "exit" or "quit" (or closes stdin), context.Canceled on shutdown, and
// an error only for unrecoverable failures; per-turn failures are shown
// to the user and the loop continues.
//
// Callers MUST call Close() when done, typically via defer. Close is
// idempotent and safe to call from another goroutine while Run is still
// executing; it aborts the in-flight turn.
type ChatRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts user input reading for testability.
//
// Production implementations wrap stdin; tests use MockInputReader
// with a scripted sequence. ReadLine returns the trimmed line, or
// io.EOF when input is exhausted.
type InputReader interface {
	// ReadLine reads a single line of input, trimmed. Blocks until a
	// line is available.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own
// prompt (the interactive reader). The chat runner checks for it to
// avoid double-prompting.
type PromptingInputReader interface {
	InputReader
	// SetPrompt sets the prompt string to display before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader implements InputReader over buffered os.Stdin. Used for
// piped input and non-TTY environments.
//
// Not thread-safe; a stdin read cannot be interrupted mid-line.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a StdinReader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads one line, trimmed. Returns io.EOF when stdin closes.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation (with history)
// =============================================================================

// InteractiveInputReader implements InputReader with up/down history
// navigation and line editing, built on charmbracelet/bubbletea.
//
// History is in-memory only and capped at maxHistory entries. Not
// thread-safe.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores current input when navigating history
	done         bool
	cancelled    bool
}

// NewInteractiveInputReader creates an interactive reader with history.
// Falls back to a plain StdinReader when stdin is not a TTY (piped
// input, CI).
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt sets the prompt drawn by the input component.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads one line with history support.
//
// Up/down navigate history, Enter submits, Ctrl+C clears the current
// input, Ctrl+D on an empty line returns io.EOF. Non-empty submissions
// are appended to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

// addToHistory appends an input, skipping consecutive duplicates and
// trimming to maxHistory.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader Implementation (for testing)
// =============================================================================

// MockInputReader returns a scripted input sequence, then io.EOF.
// Not thread-safe; for single-threaded tests.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a reader over a fixed input sequence.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next scripted input, then io.EOF.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Session Chat Runner
// =============================================================================

// sessionChatRunner implements ChatRunner over a session.Controller.
//
// The runner only coordinates: input comes from InputReader, streaming
// and conversation state live in the controller, and display goes
// through ux.ChatUI plus the controller's per-turn renderer.
type sessionChatRunner struct {
	controller *session.Controller
	ui         ux.ChatUI
	input      InputReader

	serverURL     string
	authenticated bool

	sessionStart  time.Time
	stats         ux.SessionStats
	uniqueSources map[string]bool

	closed bool
	mu     sync.Mutex
}

// ChatRunnerConfig configures a session chat runner.
//
// # Fields
//
//   - Controller: Required. Drives streamed turns.
//   - ServerURL: Shown in the session header.
//   - Authenticated: Whether a stored session exists; shown in the
//     header so the user learns before the first failed turn.
//   - Input: Optional. Defaults to the interactive reader.
//   - UI: Optional. Defaults to the terminal ChatUI.
type ChatRunnerConfig struct {
	Controller    *session.Controller
	ServerURL     string
	Authenticated bool
	Input         InputReader
	UI            ux.ChatUI
}

// NewChatRunner creates a chat runner with production defaults.
func NewChatRunner(config ChatRunnerConfig) ChatRunner {
	input := config.Input
	if input == nil {
		input = NewInteractiveInputReader(50) // Keep last 50 prompts in history
	}
	ui := config.UI
	if ui == nil {
		ui = ux.NewChatUI()
	}
	return &sessionChatRunner{
		controller:    config.Controller,
		ui:            ui,
		input:         input,
		serverURL:     config.ServerURL,
		authenticated: config.Authenticated,
		uniqueSources: make(map[string]bool),
	}
}

// Run executes the chat loop. See ChatRunner for the contract.
func (r *sessionChatRunner) Run(ctx context.Context) error {
	r.sessionStart = time.Now()

	r.ui.Header(ux.HeaderConfig{
		ServerURL:     r.serverURL,
		Authenticated: r.authenticated,
	})

	prompt := r.ui.Prompt()
	prompting, handlesPrompt := r.input.(PromptingInputReader)
	if handlesPrompt {
		prompting.SetPrompt(prompt)
	}

	for {
		select {
		case <-ctx.Done():
			r.finishSession()
			return ctx.Err()
		default:
		}

		if !handlesPrompt {
			fmt.Print(prompt)
		}
		line, err := r.input.ReadLine()
		if err == io.EOF {
			r.finishSession()
			return nil
		}
		if err != nil {
			r.finishSession()
			return fmt.Errorf("read input: %w", err)
		}

		if line == "" {
			continue
		}
		if isExitCommand(line) {
			r.finishSession()
			return nil
		}

		state, err := r.controller.Submit(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				r.finishSession()
				return context.Canceled
			}
			// Turn-level failure: show it and keep the session alive.
			r.ui.Error(err)
			continue
		}

		r.recordTurn(state)
	}
}

// recordTurn folds a finished turn into the session statistics.
func (r *sessionChatRunner) recordTurn(state session.TurnState) {
	r.stats.TurnCount++
	for _, src := range state.Sources {
		if !r.uniqueSources[src.ID] {
			r.uniqueSources[src.ID] = true
			r.stats.SourcesSeen++
		}
	}
}

// finishSession prints the end-of-session summary.
func (r *sessionChatRunner) finishSession() {
	r.stats.Duration = time.Since(r.sessionStart)
	r.ui.SessionEndRich(&r.stats)
}

// Close releases the runner's resources. Idempotent; aborts any
// in-flight turn.
func (r *sessionChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.controller.Shutdown()
	return nil
}

// isExitCommand reports whether the trimmed input ends the session.
// Case-sensitive: "exit" and "quit" only.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}

// Ensure sessionChatRunner implements ChatRunner
var _ ChatRunner = (*sessionChatRunner)(nil)
