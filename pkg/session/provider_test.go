// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func newAppwriteTestProvider(client HTTPClient) CredentialProvider {
	return NewAppwriteProvider(AppwriteProviderConfig{
		Endpoint:      "https://id.local/v1",
		ProjectID:     "orphwise",
		SessionSecret: "s3cret",
		Client:        client,
	})
}

func TestAppwriteProvider_CreateToken(t *testing.T) {
	t.Run("mints jwt from session", func(t *testing.T) {
		client := newMockHTTPClient(func(url string) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusCreated,
				Body:       io.NopCloser(strings.NewReader(`{"jwt":"eyJ.test.jwt"}`)),
			}, nil
		})

		cred, err := newAppwriteTestProvider(client).CreateToken(context.Background())
		if err != nil {
			t.Fatalf("CreateToken failed: %v", err)
		}
		if cred.Token != "eyJ.test.jwt" {
			t.Errorf("unexpected token: %q", cred.Token)
		}
		if cred.ExpiresAt == 0 {
			t.Error("expected a stamped expiry")
		}

		req := client.lastRequest()
		if req.URL != "https://id.local/v1/account/jwt" {
			t.Errorf("unexpected URL: %s", req.URL)
		}
		if req.Headers["X-Appwrite-Project"] != "orphwise" {
			t.Errorf("missing project header: %v", req.Headers)
		}
		if !strings.Contains(req.Headers["Cookie"], "a_session_orphwise=s3cret") {
			t.Errorf("missing session cookie: %v", req.Headers)
		}
	})

	t.Run("rejected session", func(t *testing.T) {
		client := newMockHTTPClient(func(url string) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader(`{"message":"session expired"}`)),
			}, nil
		})

		if _, err := newAppwriteTestProvider(client).CreateToken(context.Background()); err == nil {
			t.Error("expected error for rejected session")
		}
	})

	t.Run("empty jwt in response", func(t *testing.T) {
		client := newMockHTTPClient(func(url string) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{}`)),
			}, nil
		})

		if _, err := newAppwriteTestProvider(client).CreateToken(context.Background()); err == nil {
			t.Error("expected error for empty jwt")
		}
	})
}

func TestAppwriteProvider_HasActiveSession(t *testing.T) {
	t.Run("live session", func(t *testing.T) {
		client := newMockHTTPClient(func(url string) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"email":"a@b.c"}`)),
			}, nil
		})
		if !newAppwriteTestProvider(client).HasActiveSession(context.Background()) {
			t.Error("expected active session")
		}
	})

	t.Run("expired session", func(t *testing.T) {
		client := newMockHTTPClient(func(url string) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader(`{}`)),
			}, nil
		})
		if newAppwriteTestProvider(client).HasActiveSession(context.Background()) {
			t.Error("expected inactive session")
		}
	})

	t.Run("no stored secret", func(t *testing.T) {
		provider := NewAppwriteProvider(AppwriteProviderConfig{
			Endpoint:  "https://id.local/v1",
			ProjectID: "orphwise",
		})
		if provider.HasActiveSession(context.Background()) {
			t.Error("expected inactive session without a secret")
		}
	})
}
