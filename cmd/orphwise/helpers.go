// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/orphwise/orphwise/pkg/session"
)

// sessionSecretPath returns the path of the stored login session.
func sessionSecretPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".orphwise", "session"), nil
}

// loadSessionSecret returns the session secret from the environment or
// the session file. Empty when the user has never logged in.
func loadSessionSecret() string {
	if v := os.Getenv("ORPHWISE_SESSION"); v != "" {
		return v
	}
	path, err := sessionSecretPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// saveSessionSecret stores the session secret, readable only by the
// user.
func saveSessionSecret(secret string) error {
	path, err := sessionSecretPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(secret+"\n"), 0o600)
}

// newAuthProvider builds the identity provider from the configured
// endpoint, project, and stored session. Commands construct it once
// and share it between the token cache and any session probe.
func newAuthProvider() session.CredentialProvider {
	return session.NewAppwriteProvider(session.AppwriteProviderConfig{
		Endpoint:      authEndpoint,
		ProjectID:     projectID,
		SessionSecret: loadSessionSecret(),
	})
}
