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
	"sync"
	"time"
)

// SpinnerType defines the animation style
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerPulse
)

var spinnerFrames = map[SpinnerType][]string{
	SpinnerDots:  {"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	SpinnerPulse: {"◐", "◓", "◑", "◒"},
}

const spinnerInterval = 80 * time.Millisecond

// Spinner is an animated progress indicator for a single line.
//
// Used while the analysis service is in its thinking phase; the message
// is updated with each reasoning-step label as it arrives. In machine
// personality the spinner degrades to a single PROGRESS line.
type Spinner struct {
	writer io.Writer
	frames []string

	mu      sync.Mutex
	message string
	running bool
	cancel  chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) *Spinner {
	return &Spinner{
		writer:  os.Stdout,
		frames:  spinnerFrames[SpinnerDots],
		message: message,
	}
}

// WithType sets the spinner animation type
func (s *Spinner) WithType(t SpinnerType) *Spinner {
	if frames, ok := spinnerFrames[t]; ok {
		s.frames = frames
	}
	return s
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.cancel = make(chan struct{})
	s.stopped = make(chan struct{})
	message := s.message
	s.mu.Unlock()

	// Machine mode gets one parseable line instead of animation.
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(s.writer, "PROGRESS: %s\n", message)
		return
	}

	go s.animate()
}

// animate redraws the spinner line until cancelled.
func (s *Spinner) animate() {
	defer close(s.stopped)

	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-s.cancel:
			fmt.Fprint(s.writer, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.writer, "\r\033[K%s %s",
				Styles.Highlight.Render(s.frames[frame]),
				Styles.Thinking.Render(message))
			frame = (frame + 1) % len(s.frames)
		}
	}
}

// Stop halts the spinner animation
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, stopped := s.cancel, s.stopped
	s.mu.Unlock()

	if GetPersonality().Level == PersonalityMachine {
		return
	}

	close(cancel)
	<-stopped
}

// UpdateMessage changes the spinner message while running
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// StopWithSuccess stops and prints a success message
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	Success(message)
}

// StopWithError stops and prints an error message
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	Error(message)
}

// WithSpinner runs fn behind a spinner and reports its outcome.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()

	if err := fn(); err != nil {
		spin.StopWithError(fmt.Sprintf("%s: %v", message, err))
		return err
	}
	spin.StopWithSuccess(message)
	return nil
}
