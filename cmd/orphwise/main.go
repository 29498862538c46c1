// Copyright (C) 2025 Orphwise Health (dev@orphwise.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/orphwise/orphwise/pkg/logging"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the --log-level flag.
func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "orphwise",
		Quiet:   true,
	})
}
