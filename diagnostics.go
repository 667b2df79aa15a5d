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
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// DiagnosticsSize is the encoded size of a diagnostics record.
const DiagnosticsSize = 16

// Counters are the cumulative diagnostics counters. They survive aborts,
// completions and resets.
type Counters struct {
	TriggersReceived         uint32
	InitBlocksRequested      uint32
	ImageBlocksRequested     uint32
	TotalInitBlocksReceived  uint32
	TotalImageBlocksReceived uint32
}

// Snapshot is a consistent copy of the engine state and counters.
type Snapshot struct {
	Counters
	TransferID      uuid.UUID
	InitCmdSize     uint32
	FirmwareSize    uint32
	Block           uint32
	BuildID         uint32
	Seq             uint64
	State           State
	PrevState       State
	Mode            Mode
	ResetSuppressed bool
}

// Phase returns the data phase active in the snapshot.
func (s Snapshot) Phase() Phase {
	return s.State.Phase()
}

// PhaseLength returns the declared length of the active phase.
func (s Snapshot) PhaseLength() uint32 {
	switch s.Phase() {
	case PhaseInitCmd:
		return s.InitCmdSize
	case PhaseFirmware:
		return s.FirmwareSize
	default:
		return 0
	}
}

// String returns a one line summary for logs.
func (s Snapshot) String() string {
	if s.State.Phase() != PhaseNone {
		return fmt.Sprintf("%s block=%d/%d triggers=%d init=%d/%d image=%d/%d",
			s.State, s.Block, s.PhaseLength(), s.TriggersReceived,
			s.TotalInitBlocksReceived, s.InitBlocksRequested,
			s.TotalImageBlocksReceived, s.ImageBlocksRequested)
	}
	return fmt.Sprintf("%s triggers=%d init=%d/%d image=%d/%d",
		s.State, s.TriggersReceived,
		s.TotalInitBlocksReceived, s.InitBlocksRequested,
		s.TotalImageBlocksReceived, s.ImageBlocksRequested)
}

// MarshalBinary encodes the diagnostics record, big endian:
//
//	build_id u32 | state u8 | prev_state u8 | init_blocks_requested u16 |
//	image_blocks_requested u16 | triggers_received u16 |
//	total_init_blocks_received u16 | total_image_blocks_received u16
//
// Counters saturate at 0xFFFF.
func (s Snapshot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DiagnosticsSize)
	binary.BigEndian.PutUint32(buf[0:4], s.BuildID)
	buf[4] = byte(s.State)
	buf[5] = byte(s.PrevState)
	binary.BigEndian.PutUint16(buf[6:8], saturate16(s.InitBlocksRequested))
	binary.BigEndian.PutUint16(buf[8:10], saturate16(s.ImageBlocksRequested))
	binary.BigEndian.PutUint16(buf[10:12], saturate16(s.TriggersReceived))
	binary.BigEndian.PutUint16(buf[12:14], saturate16(s.TotalInitBlocksReceived))
	binary.BigEndian.PutUint16(buf[14:16], saturate16(s.TotalImageBlocksReceived))
	return buf, nil
}

// UnmarshalBinary decodes a diagnostics record. Only the fields carried by
// the record are set.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	if len(data) < DiagnosticsSize {
		return fmt.Errorf("diagnostics record too short: %d bytes", len(data))
	}
	*s = Snapshot{
		BuildID:   binary.BigEndian.Uint32(data[0:4]),
		State:     State(data[4]),
		PrevState: State(data[5]),
		Counters: Counters{
			InitBlocksRequested:      uint32(binary.BigEndian.Uint16(data[6:8])),
			ImageBlocksRequested:     uint32(binary.BigEndian.Uint16(data[8:10])),
			TriggersReceived:         uint32(binary.BigEndian.Uint16(data[10:12])),
			TotalInitBlocksReceived:  uint32(binary.BigEndian.Uint16(data[12:14])),
			TotalImageBlocksReceived: uint32(binary.BigEndian.Uint16(data[14:16])),
		},
	}
	return nil
}

func saturate16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// addReceived counts one received block for phase p.
func (c *Counters) addReceived(p Phase) {
	switch p {
	case PhaseInitCmd:
		c.TotalInitBlocksReceived++
	case PhaseFirmware:
		c.TotalImageBlocksReceived++
	case PhaseNone:
	}
}

// addRequested counts n requested blocks for phase p.
func (c *Counters) addRequested(p Phase, n int) {
	switch p {
	case PhaseInitCmd:
		c.InitBlocksRequested += uint32(n) //nolint:gosec // n is a small positive count
	case PhaseFirmware:
		c.ImageBlocksRequested += uint32(n) //nolint:gosec // n is a small positive count
	case PhaseNone:
	}
}
