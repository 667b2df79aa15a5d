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
	"io"
	"time"

	"github.com/urfave/cli/v2"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/transport/uart"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Offer an update to a device over a serial line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "Serial port"},
			&cli.IntFlag{Name: "baud", Usage: "Line speed"},
			&cli.StringFlag{Name: "init", Required: true, Usage: "Init command file"},
			&cli.StringFlag{Name: "firmware", Required: true, Usage: "Firmware image file"},
			&cli.UintFlag{Name: "trigger-version", Value: bgdfu.DefaultMinVersion, Usage: "Trigger version (1-15)"},
			&cli.BoolFlag{Name: "reset-suppress", Usage: "Leave the reset to this host"},
			&cli.DurationFlag{Name: "reset-delay", Usage: "Delay carried by the reset command"},
			&cli.BoolFlag{Name: "push", Value: true, Usage: "Announce the update on start"},
			&cli.IntFlag{Name: "pad", Value: -1, Usage: "Pad trailing blocks with this byte (disabled when negative)"},
			&cli.DurationFlag{Name: "poll", Value: time.Second, Usage: "Diagnostics polling interval"},
			&cli.BoolFlag{Name: "once", Usage: "Exit once the device has installed the update"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg := configFrom(c)
	portName := cfg.Serial.Port
	if c.IsSet("port") {
		portName = c.String("port")
	}
	if portName == "" {
		return cli.Exit("no serial port given", 1)
	}
	baud := cfg.Serial.Baud
	if c.IsSet("baud") {
		baud = c.Int("baud")
	}
	v := c.Uint("trigger-version")
	if v == 0 || v > 15 {
		return cli.Exit(fmt.Sprintf("invalid trigger version %d", v), 1)
	}

	initCmd, err := readOrGenerate(c.String("init"), 0, 0)
	if err != nil {
		return err
	}
	firmware, err := readOrGenerate(c.String("firmware"), 0, 0)
	if err != nil {
		return err
	}
	img := uart.Image{
		InitCmd:       initCmd,
		Firmware:      firmware,
		Version:       uint8(v), //nolint:gosec // checked above
		ResetSuppress: c.Bool("reset-suppress"),
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	port, err := uart.Open(ctx, portName, baud)
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	run := serveRun{
		image:      img,
		name:       portName,
		push:       c.Bool("push"),
		once:       c.Bool("once"),
		poll:       c.Duration("poll"),
		resetDelay: c.Duration("reset-delay"),
		pad:        c.Int("pad"),
	}
	return ignoreCanceled(runServe(ctx, c.App.Writer, port, run))
}

type serveRun struct {
	name       string
	image      uart.Image
	poll       time.Duration
	resetDelay time.Duration
	pad        int
	push       bool
	once       bool
}

var errDeviceGone = errors.New("device link closed")

// runServe answers the device on port and polls its diagnostics. With the
// reset suppressed it orders the reset itself once the device waits for it.
//
//nolint:gocognit,cyclop // one loop handling link, timer and diagnostics events
func runServe(ctx context.Context, w io.Writer, port io.ReadWriteCloser, run serveRun) error {
	snaps := make(chan bgdfu.Snapshot, 8)
	opts := []uart.ServerOption{
		uart.WithDiagnosticsHandler(func(s bgdfu.Snapshot) {
			select {
			case snaps <- s:
			default:
			}
		}),
	}
	if run.pad >= 0 {
		opts = append(opts, uart.WithPadding(byte(run.pad))) //nolint:gosec // operator supplied fill byte
	}

	srv, err := uart.NewServer(port, run.name, run.image, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	trig := srv.Trigger()
	_, _ = fmt.Fprintf(w, "Offering init command %d bytes, firmware %d bytes (version %d) on %s\n",
		trig.InitCmdLength, trig.FirmwareLength, trig.Version, run.name)
	if run.push {
		if err := srv.PushTrigger(); err != nil {
			return fmt.Errorf("failed to announce update: %w", err)
		}
	}

	var tick <-chan time.Time
	if run.poll > 0 {
		ticker := time.NewTicker(run.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	resetSent := false
	handle := func(snap bgdfu.Snapshot) (bool, error) {
		_, _ = fmt.Fprintf(w, "Device: %s\n", snap)
		if snap.State == bgdfu.StateWaitForReset && run.image.ResetSuppress && !resetSent {
			if err := srv.SendReset(run.resetDelay); err != nil {
				return false, fmt.Errorf("failed to send reset: %w", err)
			}
			resetSent = true
		}
		if !run.once || snap.State != bgdfu.StateIdle || snap.PrevState != bgdfu.StateWaitForReset {
			return false, nil
		}
		stats := srv.Stats()
		_, _ = fmt.Fprintf(w, "Update installed: %d block requests, %d blocks served\n",
			stats.BlockRequests, stats.BlocksServed)
		return true, nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-served:
			// records read before the link dropped are already queued
			for len(snaps) > 0 {
				if done, herr := handle(<-snaps); done || herr != nil {
					return herr
				}
			}
			if err == nil {
				err = errDeviceGone
			}
			return err
		case <-tick:
			if err := srv.RequestDiagnostics(); err != nil {
				bgdfu.Debugf("UART %s: diagnostics request: %v", run.name, err)
			}
		case snap := <-snaps:
			if done, err := handle(snap); done || err != nil {
				return err
			}
		}
	}
}
