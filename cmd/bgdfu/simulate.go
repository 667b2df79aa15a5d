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
	"bytes"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/installer/file"
	dfutest "github.com/ZaparooProject/go-bgdfu/internal/testing"
)

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run a transfer against the in-memory simulator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "init", Usage: "Init command file (generated when empty)"},
			&cli.StringFlag{Name: "firmware", Usage: "Firmware image file (generated when empty)"},
			&cli.IntFlag{Name: "init-size", Value: 128, Usage: "Size of the generated init command"},
			&cli.IntFlag{Name: "firmware-size", Value: 16 * 1024, Usage: "Size of the generated firmware image"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Seed for the simulated link faults"},
			&cli.Float64Flag{Name: "drop", Usage: "Probability of losing a response"},
			&cli.Float64Flag{Name: "duplicate", Usage: "Probability of repeating a response"},
			&cli.Float64Flag{Name: "reorder", Usage: "Probability of swapping adjacent responses"},
			&cli.BoolFlag{Name: "multicast", Usage: "Push blocks instead of requesting them"},
			&cli.BoolFlag{Name: "bulk", Usage: "Advertise bulk retransmission"},
			&cli.BoolFlag{Name: "reset-suppress", Usage: "Set the reset suppress flag in the trigger"},
			&cli.BoolFlag{Name: "device-initiated", Usage: "Query the trigger instead of having it pushed"},
			&cli.BoolFlag{Name: "install", Usage: "Commit into the staging directory instead of memory"},
			&cli.IntFlag{Name: "max-steps", Value: dfutest.DefaultMaxSteps, Usage: "Step limit for the run"},
		},
		Action: simulateAction,
	}
}

// imageInstaller is an installer the simulate command can read back.
type imageInstaller interface {
	bgdfu.Installer
	bgdfu.PhaseHandler
}

func simulateAction(c *cli.Context) error {
	cfg := configFrom(c)

	initCmd, err := readOrGenerate(c.String("init"), c.Int("init-size"), 0x11)
	if err != nil {
		return err
	}
	firmware, err := readOrGenerate(c.String("firmware"), c.Int("firmware-size"), 0x5A)
	if err != nil {
		return err
	}

	mode := bgdfu.ModeUnicast
	if c.Bool("multicast") {
		mode = bgdfu.ModeMulticast
	}
	simOpts := []dfutest.SimOption{
		dfutest.WithFaults(dfutest.Faults{
			Seed:          c.Uint64("seed"),
			DropRate:      c.Float64("drop"),
			DuplicateRate: c.Float64("duplicate"),
			ReorderRate:   c.Float64("reorder"),
		}),
		dfutest.WithMode(mode, c.Bool("reset-suppress")),
		dfutest.WithRemote("simulator"),
	}
	if c.Bool("bulk") {
		simOpts = append(simOpts, dfutest.WithBulk())
	}
	sim := dfutest.NewSimulator(initCmd, firmware, simOpts...)

	var inst imageInstaller
	var recording *dfutest.RecordingInstaller
	if c.Bool("install") {
		fi, ferr := file.New(cfg.StagingDir)
		if ferr != nil {
			return ferr
		}
		inst = fi
	} else {
		recording = dfutest.NewRecordingInstaller()
		inst = recording
	}

	opts, closeJournal, err := engineOptions(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeJournal() }()

	e, err := bgdfu.New(sim, inst, opts...)
	if err != nil {
		return err
	}

	if c.Bool("device-initiated") {
		err = e.Start(sim.Remote())
	} else {
		err = e.HandleTrigger(sim.RawTrigger(), sim.Remote())
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("trigger rejected: %v", err), exitTransferFailed)
	}

	res, pumpErr := sim.Pump(e, c.Int("max-steps"))
	printSimulation(c, e.Diagnostics(), res, sim.Dropped())
	if err := closeJournal(); err != nil {
		return err
	}

	switch {
	case pumpErr != nil:
		return cli.Exit(fmt.Sprintf("transfer failed: %v", pumpErr), exitTransferFailed)
	case res.CommitError != nil:
		return cli.Exit(fmt.Sprintf("transfer failed: %v", res.CommitError), exitTransferFailed)
	}
	if recording != nil {
		if !bytes.Equal(recording.InitCmd(), initCmd) || !bytes.Equal(recording.Firmware(), firmware) {
			return cli.Exit("transfer failed: installed images differ from the source", exitTransferFailed)
		}
	}
	return nil
}

func printSimulation(c *cli.Context, snap bgdfu.Snapshot, res dfutest.PumpResult, dropped int) {
	w := c.App.Writer
	_, _ = fmt.Fprintf(w, "Final state: %s\n", res.Final)
	_, _ = fmt.Fprintf(w, "Steps: %d  delivered: %d  accepted: %d  stale: %d  dropped: %d\n",
		res.Steps, res.Delivered, res.Accepted, res.Stale, dropped)
	_, _ = fmt.Fprintf(w, "Timeouts: %d  resets: %d  rejected triggers: %d\n",
		res.Timeouts, res.Resets, res.Rejected)
	_, _ = fmt.Fprintf(w, "Diagnostics: %s\n", snap)
}

// readOrGenerate reads path, or returns size bytes of a repeating pattern
// starting at seed when path is empty.
func readOrGenerate(path string, size int, seed byte) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		return data, nil
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid image size %d", size)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data, nil
}
