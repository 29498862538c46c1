// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package upload implements the document upload client for the Orphwise
// analysis service. Uploaded files become user_file sources that
// streamed answers can cite.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest file the service accepts.
const MaxFileSize = 50 * 1024 * 1024

// allowedExtensions is the set of file types the ingestion pipeline can
// process. Matches the server-side allow list.
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// ValidateFile checks that a path points to an uploadable file.
//
// # Description
//
// Rejects before any bytes move: missing files, directories, disallowed
// extensions, and files over MaxFileSize. The same checks run on the
// server; validating locally saves the user a doomed upload.
//
// # Inputs
//
//   - path: Filesystem path to the candidate file.
//
// # Outputs
//
//   - error: Nil when the file is uploadable.
func ValidateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return fmt.Errorf("unsupported file type %q (supported: pdf, png, jpg, jpeg)", ext)
	}

	if info.Size() > MaxFileSize {
		return fmt.Errorf("file is %d MB; the limit is %d MB", info.Size()/(1024*1024), MaxFileSize/(1024*1024))
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}

	return nil
}
