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

import "errors"

var (
	// ErrNoFrame means the buffer holds no start code yet.
	ErrNoFrame = errors.New("frame: no start code")
	// ErrShortFrame means more bytes are needed to complete the frame.
	ErrShortFrame = errors.New("frame: incomplete")
	// ErrFrameCorrupted means a checksum or the postamble did not match.
	ErrFrameCorrupted = errors.New("frame: corrupted")
	// ErrFrameTooLarge means a payload does not fit the length field.
	ErrFrameTooLarge = errors.New("frame: too large")
)

// ValidateFrameLength validates the length field and length checksum that
// follow the start code at off. It returns the declared TYPE+payload length
// and whether the header is corrupted and the decoder should resync past it.
func ValidateFrameLength(buf []byte, off, totalLen int) (bodyLen int, resync bool, err error) {
	if totalLen > len(buf) {
		totalLen = len(buf)
	}
	// off points at StartCode2, the length field follows it
	off++
	if off < 0 || off+2 >= totalLen {
		return 0, false, ErrShortFrame
	}

	bodyLen = int(buf[off])<<8 | int(buf[off+1])
	if CalculateChecksum(buf[off:off+3]) != 0 {
		return 0, true, nil
	}
	if bodyLen == 0 || bodyLen > MaxBodyLength {
		return 0, true, nil
	}

	return bodyLen, false, nil
}

// ValidateFrameChecksum validates the frame data checksum
// Returns true if checksum is invalid, false if valid
func ValidateFrameChecksum(buf []byte, start, end int) bool {
	// Handle invalid slice bounds - negative indices or out of range
	if start < 0 || end < 0 || start > end || end > len(buf) {
		return true
	}

	return CalculateChecksum(buf[start:end]) != 0
}
