// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orphwise/orphwise/pkg/session"
	"github.com/orphwise/orphwise/pkg/ux"
)

// runChatCommand starts the interactive chat session.
//
// # Description
//
// Builds the streaming controller, wires signal handling, and hands
// control to the chat runner. The first SIGINT aborts the in-flight
// turn (the session survives); the second, or any SIGTERM, ends the
// session.
func runChatCommand(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	provider := newAuthProvider()
	controller := session.NewController(session.ControllerConfig{
		BaseURL: serverURL,
		Tokens:  session.NewTokenCache(provider),
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		interrupted := false
		for sig := range sigCh {
			if sig == syscall.SIGINT && !interrupted {
				interrupted = true
				controller.Cancel()
				continue
			}
			cancel()
			return
		}
	}()

	authenticated := provider.HasActiveSession(ctx)

	runner := NewChatRunner(ChatRunnerConfig{
		Controller:    controller,
		ServerURL:     serverURL,
		Authenticated: authenticated,
	})
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		ux.Error("Chat session failed: " + err.Error())
		os.Exit(1)
	}
}
