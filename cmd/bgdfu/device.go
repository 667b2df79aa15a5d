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
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/installer/file"
	"github.com/ZaparooProject/go-bgdfu/transport/uart"
)

func deviceCommand() *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Receive firmware over a serial line into the staging directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "Serial port"},
			&cli.IntFlag{Name: "baud", Usage: "Line speed"},
			&cli.StringFlag{Name: "staging-dir", Usage: "Where images are staged and committed"},
			&cli.BoolFlag{Name: "start", Usage: "Ask the host for a trigger instead of waiting for one"},
			&cli.BoolFlag{Name: "once", Usage: "Exit after the first installed update"},
		},
		Action: deviceAction,
	}
}

func deviceAction(c *cli.Context) error {
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
	if c.IsSet("staging-dir") {
		cfg.StagingDir = c.String("staging-dir")
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	tr, err := uart.New(ctx, portName, baud)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	return ignoreCanceled(runDevice(ctx, c.App.Writer, tr, deviceRun{
		stagingDir: cfg.StagingDir,
		remote:     portName,
		start:      c.Bool("start"),
		once:       c.Bool("once"),
		options:    func(w *installWatcher) ([]bgdfu.Option, func() error, error) { return engineOptions(cfg, w) },
	}))
}

type deviceRun struct {
	options    func(*installWatcher) ([]bgdfu.Option, func() error, error)
	stagingDir string
	remote     string
	start      bool
	once       bool
}

// runDevice drives an engine on tr until ctx is done, the link fails or,
// with once set, the first update is installed.
func runDevice(ctx context.Context, w io.Writer, tr *uart.Transport, run deviceRun) error {
	inst, err := file.New(run.stagingDir)
	if err != nil {
		return err
	}

	watcher := newInstallWatcher()
	opts, closeJournal, err := run.options(watcher)
	if err != nil {
		return err
	}
	defer func() { _ = closeJournal() }()

	e, err := bgdfu.New(tr, inst, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := bgdfu.NewLoop(e, 0)
	tr.Attach(loop)

	errs := make(chan error, 2)
	go func() { errs <- loop.Run(ctx) }()
	go func() { errs <- tr.Serve(ctx) }()

	if run.start {
		if err := loop.Do(ctx, func(e *bgdfu.Engine) error { return e.Start(run.remote) }); err != nil {
			return fmt.Errorf("failed to query trigger: %w", err)
		}
	}
	_, _ = fmt.Fprintf(w, "Waiting for firmware on %s...\n", run.remote)

	var installed <-chan struct{}
	if run.once {
		installed = watcher.done
	}

	select {
	case <-installed:
		var m file.Manifest
		if m, err = file.ReadManifest(run.stagingDir); err != nil {
			break
		}
		_, _ = fmt.Fprintf(w, "Installed init command %d bytes (crc %08x), firmware %d bytes (crc %08x)\n",
			m.InitCmdSize, m.InitCmdCRC, m.FirmwareSize, m.FirmwareCRC)
		// the host learns about the reset from this record before the link
		// drops; running it on the loop orders it after the IDLE transition
		if derr := loop.Do(ctx, func(*bgdfu.Engine) error { return tr.SendDiagnostics() }); derr != nil {
			bgdfu.Debugf("UART %s: final diagnostics: %v", run.remote, derr)
		}
	case err = <-errs:
	case <-ctx.Done():
		err = ctx.Err()
	}

	cancel()
	<-loop.Done()
	_, _ = fmt.Fprintf(w, "Diagnostics: %s\n", loop.Diagnostics())
	if jerr := closeJournal(); jerr != nil && err == nil {
		err = jerr
	}
	return err
}

// installWatcher closes done once a transfer returns to IDLE after a
// successful commit.
type installWatcher struct {
	done      chan struct{}
	once      sync.Once
	committed atomic.Bool
}

func newInstallWatcher() *installWatcher {
	return &installWatcher{done: make(chan struct{})}
}

// Record implements bgdfu.Recorder.
func (w *installWatcher) Record(r bgdfu.Record) {
	switch {
	case r.Kind == bgdfu.RecordCommit:
		w.committed.Store(true)
	case r.Kind == bgdfu.RecordTransition && r.To == bgdfu.StateIdle && w.committed.Load():
		w.once.Do(func() { close(w.done) })
	}
}
