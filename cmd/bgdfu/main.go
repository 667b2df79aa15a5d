// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the bgdfu command line tool.
//
// Usage:
//
//	bgdfu [global options] <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: usage, configuration or I/O error
//   - 2: the transfer did not complete
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set via ldflags at build time.
var version = "dev"

const exitTransferFailed = 2

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "bgdfu",
		Usage:          "Background firmware update engine tools",
		Version:        version,
		Flags:          globalFlags(),
		Before:         setup,
		After:          teardown,
		ExitErrHandler: exitErrHandler,
		Metadata:       map[string]any{},
		Commands: []*cli.Command{
			simulateCommand(),
			deviceCommand(),
			serveCommand(),
			journalCommand(),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			_, _ = fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
