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
)

// TriggerSize is the encoded size of a trigger descriptor.
const TriggerSize = 17

// Trigger flag bits.
const (
	triggerVersionShift = 4
	triggerModeBit      = 0x08
	triggerSuppressBit  = 0x04
)

// Mode selects how blocks reach the device.
type Mode uint8

const (
	// ModeUnicast requests every block individually.
	ModeUnicast Mode = iota
	// ModeMulticast waits for pushed blocks and asks only for the missing ones.
	ModeMulticast
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeMulticast {
		return "multicast"
	}
	return "unicast"
}

// Trigger announces an available firmware update.
//
// Encoded layout, big endian:
//
//	flags u8 | init_length u32 | init_crc u32 | image_length u32 | image_crc u32
//
// where flags carries the version in bits 7..4, the mode in bit 3 and the reset
// suppress flag in bit 2.
type Trigger struct {
	InitCmdLength  uint32
	InitCmdCRC     uint32
	FirmwareLength uint32
	FirmwareCRC    uint32
	Version        uint8
	Mode           Mode
	ResetSuppress  bool
}

// ParseTrigger decodes a trigger descriptor. Trailing bytes are ignored.
func ParseTrigger(raw []byte) (Trigger, error) {
	if len(raw) < TriggerSize {
		return Trigger{}, fmt.Errorf("%w: %w: got %d bytes, need %d",
			ErrInvalidTrigger, ErrMalformedTrigger, len(raw), TriggerSize)
	}

	flags := raw[0]
	t := Trigger{
		Version:        flags >> triggerVersionShift,
		ResetSuppress:  flags&triggerSuppressBit != 0,
		InitCmdLength:  binary.BigEndian.Uint32(raw[1:5]),
		InitCmdCRC:     binary.BigEndian.Uint32(raw[5:9]),
		FirmwareLength: binary.BigEndian.Uint32(raw[9:13]),
		FirmwareCRC:    binary.BigEndian.Uint32(raw[13:17]),
	}
	if flags&triggerModeBit != 0 {
		t.Mode = ModeMulticast
	}
	return t, nil
}

// MarshalBinary encodes the trigger descriptor.
func (t Trigger) MarshalBinary() ([]byte, error) {
	if t.Version > 0x0F {
		return nil, fmt.Errorf("%w: version %d does not fit in 4 bits", ErrMalformedTrigger, t.Version)
	}

	buf := make([]byte, TriggerSize)
	buf[0] = t.Version << triggerVersionShift
	if t.Mode == ModeMulticast {
		buf[0] |= triggerModeBit
	}
	if t.ResetSuppress {
		buf[0] |= triggerSuppressBit
	}
	binary.BigEndian.PutUint32(buf[1:5], t.InitCmdLength)
	binary.BigEndian.PutUint32(buf[5:9], t.InitCmdCRC)
	binary.BigEndian.PutUint32(buf[9:13], t.FirmwareLength)
	binary.BigEndian.PutUint32(buf[13:17], t.FirmwareCRC)
	return buf, nil
}

// PhaseLength returns the declared length of phase p.
func (t Trigger) PhaseLength(p Phase) uint32 {
	switch p {
	case PhaseInitCmd:
		return t.InitCmdLength
	case PhaseFirmware:
		return t.FirmwareLength
	default:
		return 0
	}
}

// checkPolicy applies the version and length policy to a decoded trigger.
func (c *Config) checkPolicy(t Trigger) error {
	if !c.VersionPolicy(t.Version) {
		return fmt.Errorf("%w: %w: version %d", ErrInvalidTrigger, ErrVersionRejected, t.Version)
	}
	if t.InitCmdLength == 0 || t.InitCmdLength > c.MaxInitCmdSize {
		return fmt.Errorf("%w: %w: init command length %d not in [1, %d]",
			ErrInvalidTrigger, ErrLengthOutOfRange, t.InitCmdLength, c.MaxInitCmdSize)
	}
	if t.FirmwareLength == 0 || t.FirmwareLength > c.MaxFirmwareSize {
		return fmt.Errorf("%w: %w: firmware length %d not in [1, %d]",
			ErrInvalidTrigger, ErrLengthOutOfRange, t.FirmwareLength, c.MaxFirmwareSize)
	}
	return nil
}
