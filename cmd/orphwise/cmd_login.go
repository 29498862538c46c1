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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/orphwise/orphwise/pkg/session"
	"github.com/orphwise/orphwise/pkg/ux"
)

// runLoginCommand authenticates against the identity service and
// stores the resulting session for token minting.
func runLoginCommand(cmd *cobra.Command, args []string) {
	email := args[0]

	if projectID == "" {
		ux.Error("No project configured. Set --project or ORPHWISE_PROJECT_ID.")
		os.Exit(1)
	}

	password, err := readPassword("Password: ")
	if err != nil {
		ux.Error("Could not read password: " + err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	secret, err := createEmailSession(ctx, email, password)
	if err != nil {
		ux.Error("Login failed: " + err.Error())
		os.Exit(1)
	}

	if err := saveSessionSecret(secret); err != nil {
		ux.Error("Could not store session: " + err.Error())
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("Logged in as %s", email))
}

// createEmailSession exchanges email/password for a session secret.
func createEmailSession(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	client := session.NewHTTPClient(30 * time.Second)
	headers := map[string]string{
		"X-Appwrite-Project":  projectID,
		"X-Appwrite-Response": "json",
	}
	resp, err := client.PostWithHeaders(ctx, authEndpoint+"/account/sessions/email",
		"application/json", bytes.NewReader(payload), headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("identity service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if result.Secret == "" {
		return "", fmt.Errorf("identity service did not return a session secret")
	}
	return result.Secret, nil
}

// passwordModel is the bubbletea model for masked password entry.
type passwordModel struct {
	textInput textinput.Model
	done      bool
	cancelled bool
}

func (m passwordModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.cancelled = true
			return m, tea.Quit
		}
	}
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m passwordModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return m.textInput.View()
}

// readPassword reads a masked line from the terminal.
func readPassword(prompt string) (string, error) {
	ti := textinput.New()
	ti.Prompt = prompt
	ti.EchoMode = textinput.EchoPassword
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 40

	p := tea.NewProgram(passwordModel{textInput: ti}, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}
	result, ok := finalModel.(passwordModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}
	if result.cancelled {
		return "", fmt.Errorf("cancelled")
	}
	if result.textInput.Value() == "" {
		return "", fmt.Errorf("empty password")
	}
	return result.textInput.Value(), nil
}
