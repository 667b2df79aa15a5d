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

// Package testing provides in-memory peers for exercising the DFU engine: a
// lossy server simulator, a recording installer with fault injection and a
// jittery byte link for the serial adapter.
package testing

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math/rand/v2"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
)

// Faults configures the lossy link the Simulator models. Rates are
// probabilities in [0, 1] applied to every response independently.
type Faults struct {
	Seed          uint64
	DropRate      float64
	DuplicateRate float64
	ReorderRate   float64
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithFaults makes the simulated link lose, repeat and reorder responses.
func WithFaults(f Faults) SimOption {
	return func(s *Simulator) {
		s.faults = f
	}
}

// WithBulk advertises bulk retransmission.
func WithBulk() SimOption {
	return func(s *Simulator) {
		s.bulk = true
	}
}

// WithMode sets the mode bits of the simulated trigger.
func WithMode(mode bgdfu.Mode, resetSuppress bool) SimOption {
	return func(s *Simulator) {
		s.trig.Mode = mode
		s.trig.ResetSuppress = resetSuppress
	}
}

// WithVersion sets the version of the simulated trigger.
func WithVersion(v uint8) SimOption {
	return func(s *Simulator) {
		s.trig.Version = v
	}
}

// WithRemote sets the remote descriptor used when delivering triggers.
func WithRemote(remote string) SimOption {
	return func(s *Simulator) {
		s.remote = remote
	}
}

type delivery struct {
	payload []byte
	number  uint32
	phase   bgdfu.Phase
	trigger bool
}

// Simulator is an in-memory DFU server and Transport. Requests the engine
// sends are answered into a queue, which Pump drains back into the engine.
// Expired response timers are simulated by Pump when the queue runs dry.
type Simulator struct {
	rng    *rand.Rand
	images map[bgdfu.Phase][]byte
	pushed map[bgdfu.Phase]bool
	remote string
	queue  []delivery

	requests []bgdfu.Request
	bitmaps  []bgdfu.RequestBitmap
	states   []bgdfu.Snapshot

	trig    bgdfu.Trigger
	faults  Faults
	lastSeq uint64
	dropped int
	mu      syncutil.Mutex
	armed   bool
	bulk    bool
}

// NewSimulator returns a server offering initCmd and firmware.
func NewSimulator(initCmd, firmware []byte, opts ...SimOption) *Simulator {
	s := &Simulator{
		images: map[bgdfu.Phase][]byte{
			bgdfu.PhaseInitCmd:  initCmd,
			bgdfu.PhaseFirmware: firmware,
		},
		pushed: make(map[bgdfu.Phase]bool),
		remote: "sim",
		trig: bgdfu.Trigger{
			InitCmdLength:  uint32(len(initCmd)), //nolint:gosec // test images are small
			InitCmdCRC:     crc32.ChecksumIEEE(initCmd),
			FirmwareLength: uint32(len(firmware)), //nolint:gosec // test images are small
			FirmwareCRC:    crc32.ChecksumIEEE(firmware),
			Version:        1,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	seed := s.faults.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	s.rng = rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	return s
}

// Trigger returns the descriptor the simulator announces.
func (s *Simulator) Trigger() bgdfu.Trigger {
	return s.trig
}

// RawTrigger returns the encoded descriptor.
func (s *Simulator) RawTrigger() []byte {
	raw, err := s.trig.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("simulator trigger: %v", err))
	}
	return raw
}

// Remote returns the remote descriptor of the simulated server.
func (s *Simulator) Remote() string {
	return s.remote
}

// HasCapability implements bgdfu.TransportCapabilityChecker.
func (s *Simulator) HasCapability(capability bgdfu.TransportCapability) bool {
	return capability == bgdfu.CapabilityBulkRetransmission && s.bulk
}

// SendRequest queues the response to req.
func (s *Simulator) SendRequest(req bgdfu.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	s.arm(req.Seq)

	switch req.Kind {
	case bgdfu.RequestTrigger:
		s.respond(delivery{trigger: true, payload: s.RawTrigger()})
	case bgdfu.RequestBlock:
		s.respondBlock(req.Phase, req.Block, req.BlockSize)
	case bgdfu.RequestAwait:
		// a multicast server pushes the whole phase once
		if s.pushed[req.Phase] {
			return nil
		}
		s.pushed[req.Phase] = true
		count := bgdfu.BlockCount(uint32(len(s.images[req.Phase])), req.BlockSize) //nolint:gosec // test images are small
		for n := req.Block; n < count; n++ {
			s.respondBlock(req.Phase, n, req.BlockSize)
		}
	case bgdfu.RequestMissing:
		return errors.New("bitmap request through SendRequest")
	}
	return nil
}

// SendBitmapRequest queues every block set in bm.
func (s *Simulator) SendBitmapRequest(req bgdfu.Request, bm bgdfu.RequestBitmap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	s.bitmaps = append(s.bitmaps, bm)
	s.arm(req.Seq)
	for _, n := range bm.Missing() {
		s.respondBlock(req.Phase, n, req.BlockSize)
	}
	return nil
}

// StateChanged records the snapshot.
func (s *Simulator) StateChanged(snap bgdfu.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, snap)
}

func (s *Simulator) arm(seq uint64) {
	s.lastSeq = seq
	s.armed = true
}

func (s *Simulator) respondBlock(p bgdfu.Phase, n uint32, blockSize uint16) {
	data := bgdfu.Slice(s.images[p], n, blockSize)
	if data == nil {
		return
	}
	s.respond(delivery{phase: p, number: n, payload: append([]byte(nil), data...)})
}

// respond queues d through the fault model.
func (s *Simulator) respond(d delivery) {
	if s.chance(s.faults.DropRate) {
		s.dropped++
		return
	}
	s.queue = append(s.queue, d)
	if s.chance(s.faults.DuplicateRate) {
		s.queue = append(s.queue, d)
	}
	if n := len(s.queue); n > 1 && s.chance(s.faults.ReorderRate) {
		s.queue[n-1], s.queue[n-2] = s.queue[n-2], s.queue[n-1]
	}
}

func (s *Simulator) chance(rate float64) bool {
	return rate > 0 && s.rng.Float64() < rate
}

func (s *Simulator) pop() (delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, true
}

// expire returns the sequence number of the armed timer and disarms it.
func (s *Simulator) expire() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return 0, false
	}
	s.armed = false
	return s.lastSeq, true
}

// Requests returns a copy of every request received.
func (s *Simulator) Requests() []bgdfu.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bgdfu.Request(nil), s.requests...)
}

// Bitmaps returns a copy of every bitmap received.
func (s *Simulator) Bitmaps() []bgdfu.RequestBitmap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bgdfu.RequestBitmap(nil), s.bitmaps...)
}

// States returns a copy of every snapshot received.
func (s *Simulator) States() []bgdfu.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bgdfu.Snapshot(nil), s.states...)
}

// Dropped returns how many responses the fault model discarded.
func (s *Simulator) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

var (
	_ bgdfu.Transport                  = (*Simulator)(nil)
	_ bgdfu.BulkRetransmitter          = (*Simulator)(nil)
	_ bgdfu.TransportCapabilityChecker = (*Simulator)(nil)
)
