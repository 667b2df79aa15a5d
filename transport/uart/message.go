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

package uart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-bgdfu"
)

// Frame types. Device to host types have the high bit clear.
const (
	MsgTriggerRequest = 0x01 // device asks for a trigger
	MsgBlockRequest   = 0x02 // device asks for one block
	MsgDiagnostics    = 0x04 // device reports its diagnostics record
	MsgTrigger        = 0x81 // host announces a transfer
	MsgBlock          = 0x82 // host sends one block
	MsgReset          = 0x83 // host orders the reset
	MsgDiagRequest    = 0x84 // host asks for diagnostics
)

const (
	blockRequestSize = 7
	blockHeaderSize  = 5
	resetSize        = 4
)

// ErrMalformedMessage is returned for frame payloads that do not decode.
var ErrMalformedMessage = errors.New("uart: malformed message")

// BlockRequest asks for block Block of Phase, Size bytes long.
type BlockRequest struct {
	Block uint32
	Size  uint16
	Phase bgdfu.Phase
}

// MarshalBinary encodes the request: phase u8 | block u32 | size u16.
func (r BlockRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, blockRequestSize)
	buf[0] = byte(r.Phase)
	binary.BigEndian.PutUint32(buf[1:5], r.Block)
	binary.BigEndian.PutUint16(buf[5:7], r.Size)
	return buf, nil
}

// UnmarshalBinary decodes a block request.
func (r *BlockRequest) UnmarshalBinary(data []byte) error {
	if len(data) != blockRequestSize {
		return fmt.Errorf("%w: block request is %d bytes", ErrMalformedMessage, len(data))
	}
	p, err := decodePhase(data[0])
	if err != nil {
		return err
	}
	*r = BlockRequest{
		Phase: p,
		Block: binary.BigEndian.Uint32(data[1:5]),
		Size:  binary.BigEndian.Uint16(data[5:7]),
	}
	return nil
}

// BlockMessage carries one block: phase u8 | block u32 | payload.
type BlockMessage struct {
	Payload []byte
	Block   uint32
	Phase   bgdfu.Phase
}

// MarshalBinary encodes the block message.
func (m BlockMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, blockHeaderSize, blockHeaderSize+len(m.Payload))
	buf[0] = byte(m.Phase)
	binary.BigEndian.PutUint32(buf[1:5], m.Block)
	return append(buf, m.Payload...), nil
}

// UnmarshalBinary decodes a block message. Payload aliases data.
func (m *BlockMessage) UnmarshalBinary(data []byte) error {
	if len(data) < blockHeaderSize {
		return fmt.Errorf("%w: block message is %d bytes", ErrMalformedMessage, len(data))
	}
	p, err := decodePhase(data[0])
	if err != nil {
		return err
	}
	*m = BlockMessage{
		Phase:   p,
		Block:   binary.BigEndian.Uint32(data[1:5]),
		Payload: data[blockHeaderSize:],
	}
	return nil
}

func decodePhase(b byte) (bgdfu.Phase, error) {
	switch p := bgdfu.Phase(b); p {
	case bgdfu.PhaseInitCmd, bgdfu.PhaseFirmware:
		return p, nil
	default:
		return bgdfu.PhaseNone, fmt.Errorf("%w: phase %d", ErrMalformedMessage, b)
	}
}

// encodeReset encodes the reset delay in milliseconds, u32.
func encodeReset(delay time.Duration) []byte {
	ms := delay.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > 0xFFFFFFFF {
		ms = 0xFFFFFFFF
	}
	buf := make([]byte, resetSize)
	binary.BigEndian.PutUint32(buf, uint32(ms))
	return buf
}

func decodeReset(data []byte) (time.Duration, error) {
	switch len(data) {
	case 0:
		return 0, nil
	case resetSize:
		return time.Duration(binary.BigEndian.Uint32(data)) * time.Millisecond, nil
	default:
		return 0, fmt.Errorf("%w: reset is %d bytes", ErrMalformedMessage, len(data))
	}
}
