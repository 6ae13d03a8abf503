/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cmd implements the ntpsyncd CLI: a "run" subcommand that starts
// the engine as a long-running daemon, and a "diag" subcommand that
// exchanges one packet with a server and prints it.
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is ntpsyncd's entry point.
var RootCmd = &cobra.Command{
	Use:   "ntpsyncd",
	Short: "NTP client synchronization engine",
}

var verbose bool

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

// Execute runs the CLI, exiting the process on error.
func Execute() {
	log.SetLevel(log.InfoLevel)
	cobra.OnInitialize(func() {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	})
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
