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
	"bytes"
	"testing"
)

// Run with: go test -fuzz=FuzzExtract -fuzztime=30s ./internal/frame/

// FuzzValidateFrameLength checks the header parser never panics and never
// returns a length it did not validate.
func FuzzValidateFrameLength(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0xFF, 0x00, 0x03, 0xFD, 0x82}, 2, 7)
	f.Add([]byte{0x00, 0x00, 0xFF, 0x00, 0x01, 0xFF}, 2, 6)
	f.Add([]byte{}, 0, 0)
	f.Add([]byte{0x00}, 0, 1)
	f.Add([]byte{0x00, 0x00, 0xFF}, 2, 3)
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, 0, 6)
	f.Add([]byte{0x00, 0x00, 0xFF, 0x00, 0x04, 0x00}, 2, 6)

	f.Fuzz(func(t *testing.T, buf []byte, off, totalLen int) {
		if off < 0 {
			off = 0
		}
		if off >= len(buf) && len(buf) > 0 {
			off = len(buf) - 1
		}
		if totalLen < 0 {
			totalLen = 0
		}

		bodyLen, resync, err := ValidateFrameLength(buf, off, totalLen)
		if err == nil && !resync && (bodyLen == 0 || bodyLen > MaxBodyLength) {
			t.Errorf("accepted body length %d", bodyLen)
		}
	})
}

// FuzzValidateFrameChecksum ensures the function handles all slice bounds.
func FuzzValidateFrameChecksum(f *testing.F) {
	f.Add([]byte{0x82, 0x01, 0x7D}, 0, 3)
	f.Add([]byte{0x00}, 0, 1)
	f.Add([]byte{0x01, 0xFF}, 0, 2)
	f.Add([]byte{}, 0, 0)
	f.Add([]byte{0x01, 0x02, 0x03}, 1, 5)
	f.Add([]byte{0x01, 0x02, 0x03}, 5, 7)

	f.Fuzz(func(_ *testing.T, buf []byte, start, end int) {
		_ = ValidateFrameChecksum(buf, start, end)
	})
}

// FuzzExtract feeds arbitrary bytes to the extractor. A decoded frame must
// re-encode to bytes present in the input, and consumed must stay in range.
func FuzzExtract(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0xFF, 0x00, 0x03, 0xFD, 0x82, 0xDE, 0xAD, 0xF3, 0x00})
	f.Add([]byte{0x00, 0xFF, 0x00, 0x01, 0xFF, 0x84, 0x7C, 0x00})
	f.Add([]byte{0x13, 0x00, 0xFF, 0x00})
	f.Add([]byte{0x00, 0xFF, 0xFF, 0xFF, 0x01})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, buf []byte) {
		fr, consumed, err := Extract(buf)
		if consumed < 0 || consumed > len(buf) {
			t.Fatalf("consumed %d of %d bytes", consumed, len(buf))
		}
		if err != nil {
			return
		}
		enc, err := Encode(fr.Type, fr.Payload)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		// the input may omit the preamble
		if !bytes.Contains(buf[:consumed], enc[1:]) {
			t.Errorf("decoded frame %x not found in input %x", enc, buf)
		}
	})
}

// FuzzDecoder checks the stream decoder terminates on arbitrary input.
func FuzzDecoder(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0xFF, 0x00, 0x01, 0xFF, 0x84, 0x7C, 0x00, 0x00, 0xFF})
	f.Add([]byte{0x00, 0xFF, 0x08, 0x00, 0xF8})

	f.Fuzz(func(t *testing.T, buf []byte) {
		dec := NewDecoder(bytes.NewReader(buf))
		for i := 0; ; i++ {
			if i > len(buf) {
				t.Fatalf("decoded more frames than input bytes")
			}
			if _, err := dec.Decode(); err != nil {
				return
			}
		}
	})
}

// FuzzCalculateChecksum ensures the checksum is deterministic.
func FuzzCalculateChecksum(f *testing.F) {
	f.Add([]byte{0x82, 0x03})
	f.Add([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		result1 := CalculateChecksum(data)
		result2 := CalculateChecksum(data)

		if result1 != result2 {
			t.Errorf("CalculateChecksum is not deterministic: %v != %v", result1, result2)
		}

		var expected byte
		for _, b := range data {
			expected += b
		}
		if result1 != expected {
			t.Errorf("CalculateChecksum(%v) = %v, want %v", data, result1, expected)
		}
	})
}
