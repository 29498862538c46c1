// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orphwise/orphwise/pkg/session"
)

// runAskCommand asks one question and streams the answer to stdout.
//
// Exit code 0 for a completed turn, 1 otherwise. SIGINT aborts the
// turn; partial output stays on screen.
func runAskCommand(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	question := strings.Join(args, " ")

	controller := session.NewController(session.ControllerConfig{
		BaseURL: serverURL,
		Tokens:  session.NewTokenCache(newAuthProvider()),
		Logger:  logger,
	})
	defer controller.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		controller.Cancel()
	}()

	state, err := controller.Submit(ctx, question)
	if err != nil || state.Status != session.TurnCompleted {
		os.Exit(1)
	}
}
