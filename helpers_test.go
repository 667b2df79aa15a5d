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

package bgdfu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTransport records every request and state notification.
type fakeTransport struct {
	sendErr  error
	requests []Request
	bitmaps  []RequestBitmap
	states   []Snapshot
	bulk     bool
}

func (f *fakeTransport) SendRequest(req Request) error {
	f.requests = append(f.requests, req)
	return f.sendErr
}

func (f *fakeTransport) StateChanged(snap Snapshot) {
	f.states = append(f.states, snap)
}

func (f *fakeTransport) HasCapability(c TransportCapability) bool {
	return f.bulk && c == CapabilityBulkRetransmission
}

func (f *fakeTransport) SendBitmapRequest(req Request, bm RequestBitmap) error {
	f.requests = append(f.requests, req)
	f.bitmaps = append(f.bitmaps, bm)
	return f.sendErr
}

func (f *fakeTransport) last() Request {
	if len(f.requests) == 0 {
		return Request{}
	}
	return f.requests[len(f.requests)-1]
}

// blockRequests returns the block numbers of single block requests in phase p.
func (f *fakeTransport) blockRequests(p Phase) []uint32 {
	var out []uint32
	for _, r := range f.requests {
		if r.Kind == RequestBlock && r.Phase == p {
			out = append(out, r.Block)
		}
	}
	return out
}

// fakeInstaller records the byte stream and phase boundaries.
type fakeInstaller struct {
	commitErr  error
	phaseErr   error
	resetErr   error
	abortErr   error
	phases     []string
	writes     [][]byte
	failOn     int // 1-based write index that fails, 0 = never
	commits    int
	resets     int
	aborts     int
	writeCalls int
}

var errFlash = errors.New("flash write failed")

func (f *fakeInstaller) WriteBlock(data []byte) error {
	f.writeCalls++
	if f.failOn != 0 && f.writeCalls >= f.failOn {
		return errFlash
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeInstaller) Commit() error {
	f.commits++
	return f.commitErr
}

func (f *fakeInstaller) BeginPhase(p Phase, _ uint32) error {
	f.phases = append(f.phases, "begin "+p.String())
	return f.phaseErr
}

func (f *fakeInstaller) EndPhase(p Phase) error {
	f.phases = append(f.phases, "end "+p.String())
	return nil
}

func (f *fakeInstaller) ResetDevice() error {
	f.resets++
	return f.resetErr
}

func (f *fakeInstaller) Abort() error {
	f.aborts++
	return f.abortErr
}

func (f *fakeInstaller) stream() []byte {
	return bytes.Join(f.writes, nil)
}

// recordingHandler collects reported errors.
type recordingHandler struct {
	errs []*TransferError
}

func (h *recordingHandler) HandleError(err *TransferError) {
	h.errs = append(h.errs, err)
}

// recordingRecorder collects engine records.
type recordingRecorder struct {
	records []Record
}

func (r *recordingRecorder) Record(rec Record) {
	r.records = append(r.records, rec)
}

func (r *recordingRecorder) kinds(k RecordKind) []Record {
	var out []Record
	for _, rec := range r.records {
		if rec.Kind == k {
			out = append(out, rec)
		}
	}
	return out
}

func newTestEngine(t *testing.T, tr *fakeTransport, inst *fakeInstaller, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithRetryJitter(0)}, opts...)
	e, err := New(tr, inst, opts...)
	require.NoError(t, err)
	return e
}

func rawTrigger(t *testing.T, trig Trigger) []byte {
	t.Helper()
	raw, err := trig.MarshalBinary()
	require.NoError(t, err)
	return raw
}

// testImage returns n bytes with a recognizable pattern.
func testImage(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

// deliverPhase feeds every block of image in order.
func deliverPhase(t *testing.T, e *Engine, image []byte, blockSize uint16) {
	t.Helper()
	for n := range BlockCount(uint32(len(image)), blockSize) {
		ok, err := e.HandleBlock(NewBlock(n, Slice(image, n, blockSize)))
		require.NoError(t, err)
		require.True(t, ok, "block %d", n)
	}
}
