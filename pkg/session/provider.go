// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// appwriteJWTLifetime is the fixed lifetime of JWTs minted from an
// Appwrite session. The API does not return an expiry, so the provider
// stamps one locally.
const appwriteJWTLifetime = 15 * time.Minute

// AppwriteProviderConfig configures the Appwrite-backed credential
// provider.
//
// # Fields
//
//   - Endpoint: Required. Appwrite API base URL, no trailing slash.
//   - ProjectID: Required. Appwrite project identifier.
//   - SessionSecret: Required. Session cookie value from a prior login.
//   - Client: Optional. HTTP client; a default is created if nil.
type AppwriteProviderConfig struct {
	Endpoint      string
	ProjectID     string
	SessionSecret string
	Client        HTTPClient
}

// appwriteProvider implements CredentialProvider against the Appwrite
// account API.
//
// # Description
//
// Tokens are minted with POST /account/jwt using the stored session
// cookie; session liveness is probed with GET /account. A 401 from
// either call means the stored session has expired and the user must
// log in again.
//
// # Limitations
//
//   - The provider does not refresh the underlying login session; it
//     only mints JWTs from it.
type appwriteProvider struct {
	endpoint      string
	projectID     string
	sessionSecret string
	client        HTTPClient
	now           func() time.Time
}

// NewAppwriteProvider creates a credential provider backed by an
// Appwrite account session.
func NewAppwriteProvider(config AppwriteProviderConfig) CredentialProvider {
	client := config.Client
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &appwriteProvider{
		endpoint:      config.Endpoint,
		projectID:     config.ProjectID,
		sessionSecret: config.SessionSecret,
		client:        client,
		now:           time.Now,
	}
}

// headers returns the project and session headers Appwrite expects.
func (p *appwriteProvider) headers() map[string]string {
	return map[string]string{
		"X-Appwrite-Project": p.projectID,
		"Cookie":             fmt.Sprintf("a_session_%s=%s", p.projectID, p.sessionSecret),
	}
}

// CreateToken mints a fresh JWT from the stored session.
func (p *appwriteProvider) CreateToken(ctx context.Context) (Credential, error) {
	if p.sessionSecret == "" {
		return Credential{}, fmt.Errorf("no stored session")
	}

	resp, err := p.client.PostWithHeaders(ctx, p.endpoint+"/account/jwt", "application/json", nil, p.headers())
	if err != nil {
		return Credential{}, fmt.Errorf("create token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Credential{}, fmt.Errorf("create token: server returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		JWT string `json:"jwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Credential{}, fmt.Errorf("create token: decode response: %w", err)
	}
	if payload.JWT == "" {
		return Credential{}, fmt.Errorf("create token: empty jwt in response")
	}

	return Credential{
		Token:     payload.JWT,
		ExpiresAt: p.now().Add(appwriteJWTLifetime).Unix(),
	}, nil
}

// HasActiveSession probes the account endpoint with the stored session.
func (p *appwriteProvider) HasActiveSession(ctx context.Context) bool {
	if p.sessionSecret == "" {
		return false
	}

	resp, err := p.client.Get(ctx, p.endpoint+"/account", p.headers())
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Ensure appwriteProvider implements CredentialProvider
var _ CredentialProvider = (*appwriteProvider)(nil)

// StaticProvider returns fixed credentials; used in tests and for
// development against unauthenticated local servers.
type StaticProvider struct {
	Cred   Credential
	Active bool
	// Calls counts CreateToken invocations (testing hook).
	Calls int
}

func (p *StaticProvider) CreateToken(ctx context.Context) (Credential, error) {
	p.Calls++
	if !p.Active {
		return Credential{}, fmt.Errorf("no active session")
	}
	return p.Cred, nil
}

func (p *StaticProvider) HasActiveSession(ctx context.Context) bool {
	return p.Active
}
