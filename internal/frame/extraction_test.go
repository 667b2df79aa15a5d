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
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, typ byte, payload []byte) []byte {
	t.Helper()
	buf, err := Encode(typ, payload)
	require.NoError(t, err)
	return buf
}

func TestEncode_Layout(t *testing.T) {
	t.Parallel()

	buf := mustEncode(t, 0x82, []byte{0xDE, 0xAD})
	assert.Equal(t, []byte{
		0x00, 0x00, 0xFF, // preamble, start code
		0x00, 0x03, 0xFD, // LEN=3, LCS
		0x82, 0xDE, 0xAD, // TYPE, payload
		0xF3, 0x00, // DCS, postamble
	}, buf)
	assert.Len(t, buf, 2+Overhead)
}

func TestEncode_TooLarge(t *testing.T) {
	t.Parallel()

	_, err := Encode(0x82, make([]byte, MaxBodyLength))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = Encode(0x82, make([]byte, MaxBodyLength-1))
	require.NoError(t, err)
}

func TestExtract(t *testing.T) {
	t.Parallel()

	valid := mustEncode(t, 0x81, []byte{0x10, 0x00, 0x40})

	tests := []struct {
		wantErr      error
		name         string
		input        []byte
		wantPayload  []byte
		wantConsumed int
		wantType     byte
	}{
		{
			name:         "valid frame",
			input:        valid,
			wantType:     0x81,
			wantPayload:  []byte{0x10, 0x00, 0x40},
			wantConsumed: len(valid),
		},
		{
			name:         "noise before frame",
			input:        append([]byte{0x13, 0x37, 0x55}, valid...),
			wantType:     0x81,
			wantPayload:  []byte{0x10, 0x00, 0x40},
			wantConsumed: len(valid) + 3,
		},
		{
			name:         "missing preamble",
			input:        valid[1:],
			wantType:     0x81,
			wantPayload:  []byte{0x10, 0x00, 0x40},
			wantConsumed: len(valid) - 1,
		},
		{
			name:         "empty payload",
			input:        []byte{0x00, 0x00, 0xFF, 0x00, 0x01, 0xFF, 0x84, 0x7C, 0x00},
			wantType:     0x84,
			wantPayload:  []byte{},
			wantConsumed: 9,
		},
		{
			name:         "only noise",
			input:        []byte{0x01, 0x02, 0x03},
			wantErr:      ErrNoFrame,
			wantConsumed: 3,
		},
		{
			name:         "trailing start code byte kept",
			input:        []byte{0x01, 0x02, 0x00},
			wantErr:      ErrNoFrame,
			wantConsumed: 2,
		},
		{
			name:         "header incomplete",
			input:        valid[:4],
			wantErr:      ErrShortFrame,
			wantConsumed: 1,
		},
		{
			name:         "body incomplete",
			input:        valid[:len(valid)-1],
			wantErr:      ErrShortFrame,
			wantConsumed: 1,
		},
		{
			name:         "bad length checksum",
			input:        []byte{0x00, 0x00, 0xFF, 0x00, 0x04, 0x00, 0x81, 0x10, 0x00, 0x40, 0x2F, 0x00},
			wantErr:      ErrFrameCorrupted,
			wantConsumed: 3,
		},
		{
			name:         "zero length",
			input:        []byte{0x00, 0x00, 0xFF, 0x00, 0x00, 0x00, 0x00},
			wantErr:      ErrFrameCorrupted,
			wantConsumed: 3,
		},
		{
			name:         "bad data checksum",
			input:        append(append([]byte{}, valid[:len(valid)-2]...), 0x00, 0x00),
			wantErr:      ErrFrameCorrupted,
			wantConsumed: 3,
		},
		{
			name:         "bad postamble",
			input:        append(append([]byte{}, valid[:len(valid)-1]...), 0x5A),
			wantErr:      ErrFrameCorrupted,
			wantConsumed: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, consumed, err := Extract(tt.input)
			assert.Equal(t, tt.wantConsumed, consumed)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, f.Type)
			assert.Equal(t, tt.wantPayload, f.Payload)
		})
	}
}

func TestExtract_PayloadIsCopied(t *testing.T) {
	t.Parallel()

	buf := mustEncode(t, 0x82, []byte{0xAA, 0xBB})
	f, _, err := Extract(buf)
	require.NoError(t, err)

	buf[7] = 0x00
	assert.Equal(t, []byte{0xAA, 0xBB}, f.Payload)
}

func TestDecoder_Stream(t *testing.T) {
	t.Parallel()

	var stream bytes.Buffer
	stream.Write([]byte{0xFF, 0xFF, 0x00})
	stream.Write(mustEncode(t, 0x01, nil))
	// corrupted frame between two good ones
	bad := mustEncode(t, 0x82, []byte{0x01, 0x02, 0x03})
	bad[len(bad)-2] ^= 0xFF
	stream.Write(bad)
	stream.Write(mustEncode(t, 0x82, bytes.Repeat([]byte{0x5A}, 600)))

	// one byte per read exercises every partial-frame path
	dec := NewDecoder(iotest.OneByteReader(&stream))

	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), f.Type)
	assert.Empty(t, f.Payload)

	f, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, byte(0x82), f.Type)
	assert.Len(t, f.Payload, 600)
	assert.Equal(t, 1, dec.Corrupted())

	_, err = dec.Decode()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoder_ReaderErrorAfterData(t *testing.T) {
	t.Parallel()

	buf := mustEncode(t, 0x83, []byte{0x00, 0x00, 0x01, 0xF4})
	dec := NewDecoder(iotest.DataErrReader(bytes.NewReader(buf)))

	f, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, byte(0x83), f.Type)

	_, err = dec.Decode()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrame_MarshalBinary(t *testing.T) {
	t.Parallel()

	f := Frame{Type: 0x04, Payload: []byte{0x01, 0x02}}
	buf, err := f.MarshalBinary()
	require.NoError(t, err)

	got, n, err := Extract(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, f, got)
}
