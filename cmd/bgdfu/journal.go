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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/journal"
)

func journalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Inspect a transfer journal",
		Subcommands: []*cli.Command{
			journalRecordsCommand(),
			journalTransfersCommand(),
		},
	}
}

func journalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Journal file (defaults to the configured journal)"},
		&cli.StringSliceFlag{Name: "kind", Usage: "Keep records of these kinds"},
		&cli.StringFlag{Name: "transfer", Usage: "Keep records of this transfer ID"},
		&cli.StringFlag{Name: "phase", Usage: "Keep records of this phase (init, firmware)"},
		&cli.TimestampFlag{Name: "since", Layout: time.RFC3339, Usage: "Keep records at or after this time"},
		&cli.TimestampFlag{Name: "until", Layout: time.RFC3339, Usage: "Keep records before this time"},
	}
}

func journalRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:   "records",
		Usage:  "Print journal records",
		Flags:  journalFlags(),
		Action: journalRecordsAction,
	}
}

func journalTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:   "transfers",
		Usage:  "Summarize journal records per transfer",
		Flags:  journalFlags(),
		Action: journalTransfersAction,
	}
}

func journalRecordsAction(c *cli.Context) error {
	records, err := readJournal(c)
	if err != nil {
		return err
	}
	for _, r := range records {
		printRecord(c.App.Writer, r)
	}
	return nil
}

func journalTransfersAction(c *cli.Context) error {
	records, err := readJournal(c)
	if err != nil {
		return err
	}
	w := c.App.Writer
	for _, t := range journal.Summarize(records) {
		status := "incomplete"
		if t.Committed {
			status = "committed"
		}
		_, _ = fmt.Fprintf(w, "%s %s %s final=%s requests=%d blocks=%d bytes=%d errors=%d duration=%s\n",
			t.ID, t.Start.Format(time.RFC3339), status, t.Final, t.Requests, t.Blocks, t.Bytes,
			t.Errors, t.End.Sub(t.Start).Round(time.Millisecond))
		if t.LastError != "" {
			_, _ = fmt.Fprintf(w, "    last error: %s\n", t.LastError)
		}
	}
	return nil
}

func readJournal(c *cli.Context) ([]bgdfu.Record, error) {
	path := c.String("file")
	if path == "" {
		path = configFrom(c).Journal
	}
	if path == "" {
		return nil, cli.Exit("no journal file given", 1)
	}
	filter, err := journalFilter(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}

	r, err := journal.NewFilteredReader(path, filter)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return r.ReadAll()
}

func journalFilter(c *cli.Context) (journal.Filter, error) {
	var f journal.Filter
	for _, name := range c.StringSlice("kind") {
		k, err := parseKind(name)
		if err != nil {
			return f, err
		}
		f.Kinds = append(f.Kinds, k)
	}
	if s := c.String("transfer"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, fmt.Errorf("invalid transfer ID %q: %w", s, err)
		}
		f.TransferID = id
	}
	if s := c.String("phase"); s != "" {
		p, err := parsePhase(s)
		if err != nil {
			return f, err
		}
		f.Phase = p
	}
	f.TimeStart = c.Timestamp("since")
	f.TimeEnd = c.Timestamp("until")
	return f, nil
}

var errUnknownName = errors.New("unknown name")

func parseKind(name string) (bgdfu.RecordKind, error) {
	for k := bgdfu.RecordTransition; k <= bgdfu.RecordReset; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: record kind %q", errUnknownName, name)
}

func parsePhase(name string) (bgdfu.Phase, error) {
	for _, p := range []bgdfu.Phase{bgdfu.PhaseInitCmd, bgdfu.PhaseFirmware} {
		if p.String() == name {
			return p, nil
		}
	}
	return bgdfu.PhaseNone, fmt.Errorf("%w: phase %q", errUnknownName, name)
}

func printRecord(w io.Writer, r bgdfu.Record) {
	prefix := fmt.Sprintf("%s %-10s", r.Timestamp.Format("15:04:05.000"), r.Kind)
	switch r.Kind {
	case bgdfu.RecordTransition, bgdfu.RecordReset:
		_, _ = fmt.Fprintf(w, "%s %s -> %s\n", prefix, r.From, r.To)
	case bgdfu.RecordRequest:
		_, _ = fmt.Fprintf(w, "%s %s %s block=%d\n", prefix, r.Request, r.Phase, r.Block)
	case bgdfu.RecordBlock:
		_, _ = fmt.Fprintf(w, "%s %s block=%d bytes=%d\n", prefix, r.Phase, r.Block, r.Bytes)
	case bgdfu.RecordError:
		_, _ = fmt.Fprintf(w, "%s %s\n", prefix, r.Error)
	default:
		_, _ = fmt.Fprintln(w, prefix)
	}
}
