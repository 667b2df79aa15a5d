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
	"fmt"
	"os"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
	"github.com/fxamacker/cbor/v2"
)

// FileRecorder appends engine records to a file. It is safe for concurrent
// use.
type FileRecorder struct {
	file    *os.File
	encoder *cbor.Encoder
	err     error
	mu      syncutil.Mutex
	count   int
	closed  bool
}

// NewFileRecorder opens path for appending, creating it if needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // journal path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &FileRecorder{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Record implements bgdfu.Recorder. Encoding errors never reach the engine;
// the first one is kept for Err.
func (j *FileRecorder) Record(r bgdfu.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	if err := j.encoder.Encode(r); err != nil {
		if j.err == nil {
			j.err = fmt.Errorf("failed to write journal record: %w", err)
		}
		return
	}
	j.count++
}

// Count returns how many records were written.
func (j *FileRecorder) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Err returns the first write error, if any.
func (j *FileRecorder) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Close closes the file. Records after Close are dropped. It is safe to call
// Close more than once.
func (j *FileRecorder) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

var _ bgdfu.Recorder = (*FileRecorder)(nil)
