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

package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Filter selects records. Zero fields match every record.
type Filter struct {
	// TimeStart keeps records at or after this time.
	TimeStart *time.Time
	// TimeEnd keeps records before this time.
	TimeEnd *time.Time
	// Kinds keeps records of these kinds.
	Kinds []bgdfu.RecordKind
	// TransferID keeps records of one transfer.
	TransferID uuid.UUID
	// Phase keeps records of one data phase.
	Phase bgdfu.Phase
}

func (f *Filter) matches(r bgdfu.Record) bool {
	if f.TransferID != uuid.Nil && r.TransferID != f.TransferID {
		return false
	}
	if f.Phase != bgdfu.PhaseNone && r.Phase != f.Phase {
		return false
	}
	if f.TimeStart != nil && r.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !r.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if r.Kind == k {
			return true
		}
	}
	return false
}

// Reader streams records from a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader returns a reader over every record in path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader returns a reader over the records in path matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path) //nolint:gosec // journal path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching record, or io.EOF at the end of the file.
func (r *Reader) Next() (bgdfu.Record, error) {
	for {
		var rec bgdfu.Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return bgdfu.Record{}, io.EOF
			}
			return bgdfu.Record{}, fmt.Errorf("failed to read journal: %w", err)
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// ReadAll returns the remaining matching records.
func (r *Reader) ReadAll() ([]bgdfu.Record, error) {
	var out []bgdfu.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close() //nolint:wrapcheck // plain file close
}

// Transfer summarizes the records of one transfer.
type Transfer struct {
	Start     time.Time
	End       time.Time
	LastError string
	Final     bgdfu.State
	Requests  int
	Blocks    int
	Bytes     int
	Errors    int
	ID        uuid.UUID
	Committed bool
}

// Summarize groups records by transfer ID, in order of first appearance.
// Records outside a transfer are skipped.
func Summarize(records []bgdfu.Record) []Transfer {
	index := make(map[uuid.UUID]int)
	var out []Transfer
	for _, r := range records {
		if r.TransferID == uuid.Nil {
			continue
		}
		i, ok := index[r.TransferID]
		if !ok {
			i = len(out)
			index[r.TransferID] = i
			out = append(out, Transfer{ID: r.TransferID, Start: r.Timestamp})
		}
		t := &out[i]
		t.End = r.Timestamp
		switch r.Kind {
		case bgdfu.RecordTransition:
			t.Final = r.To
		case bgdfu.RecordRequest:
			t.Requests++
		case bgdfu.RecordBlock:
			t.Blocks++
			t.Bytes += r.Bytes
		case bgdfu.RecordError:
			t.Errors++
			t.LastError = r.Error
		case bgdfu.RecordCommit:
			t.Committed = true
		case bgdfu.RecordReset:
			t.Final = r.To
		}
	}
	return out
}
