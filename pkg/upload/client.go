// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/orphwise/orphwise/pkg/session"
)

// Response is the service's acknowledgement of an accepted upload.
//
// # Fields
//
//   - FileID: Server-assigned identifier; later cited as a user_file
//     source ID in streamed answers.
//   - FileName: Original file name, echoed back.
//   - Status: Processing state; "processing" until ingestion completes.
type Response struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
}

// Client uploads documents to the analysis service.
type Client struct {
	baseURL string
	client  session.HTTPClient
	tokens  *session.TokenCache
}

// NewClient creates an upload client.
//
// # Inputs
//
//   - baseURL: Analysis service base URL, no trailing slash.
//   - tokens: Token cache; uploads require the same bearer credential
//     as chat.
//   - client: Optional HTTP client; a default with a generous timeout
//     is created if nil.
func NewClient(baseURL string, tokens *session.TokenCache, client session.HTTPClient) *Client {
	if client == nil {
		// Large files over slow links; 5 minutes covers the worst case
		// the size limit allows.
		client = session.NewHTTPClient(5 * time.Minute)
	}
	return &Client{
		baseURL: baseURL,
		client:  client,
		tokens:  tokens,
	}
}

// Upload validates and sends one file.
//
// # Description
//
// Runs ValidateFile first, then streams the file as a multipart form
// POST to /upload with the bearer credential. The file contents are
// buffered in memory; MaxFileSize bounds the buffer.
//
// # Inputs
//
//   - ctx: Bounds the upload.
//   - path: Path to the file. Must pass ValidateFile.
//
// # Outputs
//
//   - *Response: Acknowledgement with the assigned file ID.
//   - error: Validation, credential, or transport error.
func (c *Client) Upload(ctx context.Context, path string) (*Response, error) {
	if err := ValidateFile(path); err != nil {
		return nil, err
	}

	cred, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload form: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + cred.Token,
	}
	resp, err := c.client.PostWithHeaders(ctx, c.baseURL+"/upload", writer.FormDataContentType(), &buf, headers)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upload: server returned %d: %s", resp.StatusCode, body)
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("upload: decode response: %w", err)
	}
	return &result, nil
}
