// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/orphwise/orphwise/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL        string
	authEndpoint     string
	projectID        string
	personalityLevel string // full/standard/minimal/machine
	logLevel         string

	rootCmd = &cobra.Command{
		Use:   "orphwise",
		Short: "A cli for the Orphwise rare disease assistant",
		Long: `Orphwise answers questions about rare diseases using the
Orphanet knowledge base and your own uploaded documents, streaming
answers with their reasoning steps and citations.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session with the assistant",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_ask.go
	}

	uploadCmd = &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a document (pdf/png/jpg) for the assistant to cite",
		Args:  cobra.ExactArgs(1),
		Run:   runUploadCommand, // Defined in cmd_upload.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the analysis service is reachable",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}

	loginCmd = &cobra.Command{
		Use:   "login [email]",
		Short: "Log in and store a session for token minting",
		Args:  cobra.ExactArgs(1),
		Run:   runLoginCommand, // Defined in cmd_login.go
	}
)

// envOr returns the environment value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("ORPHWISE_SERVER_URL", "http://localhost:8000"),
		"Analysis service base URL")
	rootCmd.PersistentFlags().StringVar(&authEndpoint, "auth-endpoint",
		envOr("ORPHWISE_AUTH_ENDPOINT", "https://cloud.appwrite.io/v1"),
		"Identity service base URL")
	rootCmd.PersistentFlags().StringVar(&projectID, "project",
		envOr("ORPHWISE_PROJECT_ID", ""),
		"Identity project ID")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, machine")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level",
		envOr("ORPHWISE_LOG_LEVEL", "warn"),
		"Log level: debug, info, warn, error")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(loginCmd)
}
