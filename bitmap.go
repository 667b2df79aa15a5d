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
	"errors"
	"fmt"
	"math/bits"
)

// RequestBitmap lists the still missing blocks of one window. Bit i (byte i/8,
// mask 1<<(i%8)) set means block Offset+i has not been received.
type RequestBitmap struct {
	Bits   []byte
	Offset uint32
}

// BuildMissingBitmap builds the bitmap for the window of capacity blocks starting
// at offset. received reports whether a block number has already been received.
// capacity is rounded up to a whole number of bytes.
func BuildMissingBitmap(offset uint32, capacity int, received func(uint32) bool) RequestBitmap {
	if capacity < 0 {
		capacity = 0
	}
	bm := RequestBitmap{
		Offset: offset,
		Bits:   make([]byte, (capacity+7)/8),
	}
	for i := range capacity {
		if !received(offset + uint32(i)) { //nolint:gosec // capacity is a small window size
			bm.Bits[i/8] |= 1 << (i % 8)
		}
	}
	return bm
}

// Capacity returns the number of blocks the window describes.
func (b RequestBitmap) Capacity() int {
	return len(b.Bits) * 8
}

// IsSet reports whether block n is marked missing. Blocks outside the window
// are never set.
func (b RequestBitmap) IsSet(n uint32) bool {
	if n < b.Offset {
		return false
	}
	i := n - b.Offset
	if i >= uint32(b.Capacity()) { //nolint:gosec // capacity is a small window size
		return false
	}
	return b.Bits[i/8]&(1<<(i%8)) != 0
}

// Count returns the number of missing blocks.
func (b RequestBitmap) Count() int {
	n := 0
	for _, v := range b.Bits {
		n += bits.OnesCount8(v)
	}
	return n
}

// Missing returns the missing block numbers in ascending order.
func (b RequestBitmap) Missing() []uint32 {
	out := make([]uint32, 0, b.Count())
	for i := range b.Capacity() {
		if b.Bits[i/8]&(1<<(i%8)) != 0 {
			out = append(out, b.Offset+uint32(i)) //nolint:gosec // capacity is a small window size
		}
	}
	return out
}

// Complete reports whether every block of the window has been received.
func (b RequestBitmap) Complete() bool {
	return b.Count() == 0
}

// Next returns the offset of the following window.
func (b RequestBitmap) Next() uint32 {
	return b.Offset + uint32(b.Capacity()) //nolint:gosec // capacity is a small window size
}

// Clip clears the bits of blocks at or past limit, the phase block count.
func (b RequestBitmap) Clip(limit uint32) RequestBitmap {
	out := RequestBitmap{Offset: b.Offset, Bits: append([]byte(nil), b.Bits...)}
	for i := range out.Capacity() {
		if b.Offset+uint32(i) >= limit { //nolint:gosec // capacity is a small window size
			out.Bits[i/8] &^= 1 << (i % 8)
		}
	}
	return out
}

var errBitmapOffset = errors.New("bitmap offset does not fit in 16 bits")

// MarshalBinary encodes the bitmap as a big endian u16 offset followed by the
// bitmap bytes.
func (b RequestBitmap) MarshalBinary() ([]byte, error) {
	if b.Offset > 0xFFFF {
		return nil, fmt.Errorf("%w: %d", errBitmapOffset, b.Offset)
	}
	buf := make([]byte, 2+len(b.Bits))
	binary.BigEndian.PutUint16(buf, uint16(b.Offset))
	copy(buf[2:], b.Bits)
	return buf, nil
}

// UnmarshalBinary decodes a bitmap produced by MarshalBinary.
func (b *RequestBitmap) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("bitmap too short: %d bytes", len(data))
	}
	b.Offset = uint32(binary.BigEndian.Uint16(data))
	b.Bits = append([]byte(nil), data[2:]...)
	return nil
}

// windowOffset returns the start of the capacity-aligned window holding n.
func windowOffset(n uint32, capacity int) uint32 {
	c := uint32(capacity) //nolint:gosec // validated positive in Config.Validate
	return (n / c) * c
}
