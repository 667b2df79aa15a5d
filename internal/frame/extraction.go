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

package frame

import (
	"errors"
	"fmt"
	"io"
)

// Frame is one decoded link frame.
type Frame struct {
	Payload []byte
	Type    byte
}

// MarshalBinary encodes the frame.
func (f Frame) MarshalBinary() ([]byte, error) {
	return Encode(f.Type, f.Payload)
}

// Encode builds a frame:
//
//	00 00 FF LEN_H LEN_L LCS TYPE payload... DCS 00
//
// LEN counts TYPE and payload. LCS makes the length bytes sum to zero and DCS
// does the same for TYPE and payload.
func Encode(typ byte, payload []byte) ([]byte, error) {
	bodyLen := len(payload) + 1
	if bodyLen > MaxBodyLength {
		return nil, fmt.Errorf("%w: %d byte payload", ErrFrameTooLarge, len(payload))
	}
	length := uint16(bodyLen) //nolint:gosec // bounded by MaxBodyLength

	buf := make([]byte, 0, len(payload)+Overhead)
	buf = append(buf, Preamble, StartCode1, StartCode2,
		byte(length>>8), byte(length), LengthChecksum(length), typ)
	buf = append(buf, payload...)
	buf = append(buf, DataChecksum(typ, payload), Postamble)
	return buf, nil
}

// findStart returns the index of the first StartCode1 StartCode2 pair, or -1.
func findStart(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StartCode1 && buf[i+1] == StartCode2 {
			return i
		}
	}
	return -1
}

// Extract decodes the first frame in buf. It returns the number of bytes the
// caller may drop from the front of buf, which is non-zero for noise and
// corrupted frames too. The preamble byte is optional on input.
//
// ErrNoFrame and ErrShortFrame mean more input is needed. ErrFrameCorrupted
// means a frame was found and dropped.
func Extract(buf []byte) (f Frame, consumed int, err error) {
	start := findStart(buf)
	if start < 0 {
		// keep a trailing StartCode1 that may begin the next start code
		if n := len(buf); n > 0 && buf[n-1] == StartCode1 {
			return Frame{}, n - 1, ErrNoFrame
		}
		return Frame{}, len(buf), ErrNoFrame
	}

	bodyLen, resync, err := ValidateFrameLength(buf, start+1, len(buf))
	if err != nil {
		return Frame{}, start, err
	}
	if resync {
		return Frame{}, start + 2, ErrFrameCorrupted
	}

	bodyStart := start + 5
	end := bodyStart + bodyLen + 2
	if end > len(buf) {
		return Frame{}, start, ErrShortFrame
	}
	if ValidateFrameChecksum(buf, bodyStart, bodyStart+bodyLen+1) || buf[end-1] != Postamble {
		return Frame{}, start + 2, ErrFrameCorrupted
	}

	body := buf[bodyStart : bodyStart+bodyLen]
	payload := make([]byte, len(body)-1)
	copy(payload, body[1:])
	return Frame{Type: body[0], Payload: payload}, end, nil
}

// Decoder reads frames from a byte stream, skipping noise and corrupted
// frames.
type Decoder struct {
	r         io.Reader
	err       error
	buf       []byte
	chunk     []byte
	corrupted int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:     r,
		chunk: make([]byte, 256),
	}
}

// Decode returns the next valid frame. It returns the reader's error once
// the buffered input holds no complete frame.
func (d *Decoder) Decode() (Frame, error) {
	for {
		f, n, err := Extract(d.buf)
		if n > 0 {
			d.buf = append(d.buf[:0], d.buf[n:]...)
		}
		switch {
		case err == nil:
			return f, nil
		case errors.Is(err, ErrFrameCorrupted):
			d.corrupted++
			continue
		}

		if d.err != nil {
			return Frame{}, d.err
		}
		m, rerr := d.r.Read(d.chunk)
		d.buf = append(d.buf, d.chunk[:m]...)
		if rerr != nil {
			d.err = rerr
		}
	}
}

// Corrupted returns how many corrupted frames were dropped.
func (d *Decoder) Corrupted() int {
	return d.corrupted
}
