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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/config"
	"github.com/ZaparooProject/go-bgdfu/journal"
)

const configKey = "config"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"BGDFU_CONFIG"},
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug output",
		},
		&cli.StringFlag{
			Name:  "session-log-dir",
			Usage: "Write a debug session log into this directory",
		},
		&cli.StringFlag{
			Name:  "journal",
			Usage: "Append transfer records to this CBOR journal",
		},
	}
}

// setup loads the configuration, lets flags override it and starts debug
// output.
func setup(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		cfg = loaded
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if c.IsSet("session-log-dir") {
		cfg.SessionLogDir = c.String("session-log-dir")
	}
	if c.IsSet("journal") {
		cfg.Journal = c.String("journal")
	}

	bgdfu.SetDebugEnabled(cfg.Debug)
	if cfg.SessionLogDir != "" {
		path, err := bgdfu.InitSessionLog(cfg.SessionLogDir)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		_, _ = fmt.Fprintf(c.App.ErrWriter, "Session log: %s\n", path)
	}

	c.App.Metadata[configKey] = cfg
	return nil
}

func teardown(_ *cli.Context) error {
	return bgdfu.CloseSessionLog()
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// engineOptions builds the engine options from the configuration, with the
// journal and any extra recorders attached and a debug error hook. The
// returned closer flushes the journal and must always be called.
func engineOptions(cfg *config.Config, recorders ...bgdfu.Recorder) ([]bgdfu.Option, func() error, error) {
	opts := cfg.Engine.Options()
	opts = append(opts, bgdfu.WithErrorHandler(bgdfu.ErrorHandlerFunc(func(err *bgdfu.TransferError) {
		bgdfu.Debugf("transfer error: %v", err)
	})))

	closer := func() error { return nil }
	if cfg.Journal != "" {
		rec, err := journal.NewFileRecorder(cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		recorders = append(recorders, rec)
		closer = func() error {
			if err := rec.Err(); err != nil {
				_ = rec.Close()
				return fmt.Errorf("journal: %w", err)
			}
			return rec.Close()
		}
	}
	switch len(recorders) {
	case 0:
	case 1:
		opts = append(opts, bgdfu.WithRecorder(recorders[0]))
	default:
		opts = append(opts, bgdfu.WithRecorder(bgdfu.MultiRecorder(recorders)))
	}
	return opts, closer, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ignoreCanceled maps a shutdown by signal to a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
