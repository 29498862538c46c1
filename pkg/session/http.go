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
	"time"
)

// HTTPClient abstracts HTTP operations for testability.
//
// # Description
//
// Thin wrapper over net/http so services can inject mock transports in
// tests. Streaming responses are returned unread; the caller owns the
// response body and must close it.
type HTTPClient interface {
	// Post sends a POST request with the given content type.
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)

	// PostWithHeaders sends a POST request with additional headers
	// (e.g. Authorization, Accept).
	PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error)

	// Get sends a GET request with optional headers.
	Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// defaultHTTPClient implements HTTPClient over a standard http.Client.
type defaultHTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates the production HTTP client.
//
// A zero timeout disables the client-side deadline; streaming turns
// rely on context cancellation instead, since a fixed timeout would
// kill long answers mid-stream.
func NewHTTPClient(timeout time.Duration) HTTPClient {
	return &defaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *defaultHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.PostWithHeaders(ctx, url, contentType, body, nil)
}

func (c *defaultHTTPClient) PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

func (c *defaultHTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// Ensure defaultHTTPClient implements HTTPClient
var _ HTTPClient = (*defaultHTTPClient)(nil)
