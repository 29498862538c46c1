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
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orphwise/orphwise/pkg/session"
	"github.com/orphwise/orphwise/pkg/ux"
)

// runHealthCommand probes the analysis service's health endpoint.
//
// Exit code 0 when the service answers 200, 1 otherwise. Machine
// personality prints HEALTH: ok|unreachable for scripting.
func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := session.NewHTTPClient(10 * time.Second)
	resp, err := client.Get(ctx, serverURL+"/health", nil)
	if err == nil {
		defer resp.Body.Close()
	}

	healthy := err == nil && resp.StatusCode == http.StatusOK

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		if healthy {
			fmt.Println("HEALTH: ok")
			return
		}
		fmt.Println("HEALTH: unreachable")
		os.Exit(1)
	}

	if healthy {
		ux.Success(fmt.Sprintf("Analysis service at %s is healthy", serverURL))
		return
	}
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot reach %s: %v", serverURL, err))
	} else {
		ux.Error(fmt.Sprintf("Service at %s returned %d", serverURL, resp.StatusCode))
	}
	os.Exit(1)
}
