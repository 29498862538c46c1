// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orphwise/orphwise/pkg/session"
	"github.com/orphwise/orphwise/pkg/upload"
	"github.com/orphwise/orphwise/pkg/ux"
)

// runUploadCommand uploads one document for the assistant to cite.
func runUploadCommand(cmd *cobra.Command, args []string) {
	logger := newLogger()
	defer logger.Close()

	path := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := upload.NewClient(serverURL, session.NewTokenCache(newAuthProvider()), nil)

	var resp *upload.Response
	err := ux.WithSpinner(fmt.Sprintf("Uploading %s", path), func() error {
		var err error
		resp, err = client.Upload(ctx, path)
		return err
	})
	if err != nil {
		ux.Error("Upload failed: " + err.Error())
		os.Exit(1)
	}

	ux.Success(fmt.Sprintf("Uploaded %s (file ID %s, status %s)", resp.FileName, resp.FileID, resp.Status))
	ux.Muted("The document will be citable once processing finishes.")
}
