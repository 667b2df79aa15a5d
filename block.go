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

// FlashFill is the erased flash value used to pad short trailing blocks.
const FlashFill = 0xFF

// Block is one numbered chunk of the active phase.
type Block struct {
	Payload []byte
	Number  uint32
	Size    uint16
}

// NewBlock returns a block carrying payload as block number n.
func NewBlock(n uint32, payload []byte) Block {
	return Block{Number: n, Size: uint16(len(payload)), Payload: payload} //nolint:gosec // payloads never exceed MaxBlockSize
}

// data returns the payload bounded by the declared size.
func (b Block) data() []byte {
	if int(b.Size) < len(b.Payload) {
		return b.Payload[:b.Size]
	}
	return b.Payload
}

// PadBlock returns payload extended to size bytes with fill. Payloads that
// are already size bytes or longer are returned unchanged.
func PadBlock(payload []byte, size int, fill byte) []byte {
	if len(payload) >= size {
		return payload
	}
	padded := make([]byte, size)
	n := copy(padded, payload)
	for i := n; i < size; i++ {
		padded[i] = fill
	}
	return padded
}

// BlockCount returns the number of blocks a phase of length bytes spans.
func BlockCount(length uint32, blockSize uint16) uint32 {
	if blockSize == 0 {
		return 0
	}
	bs := uint32(blockSize)
	return (length + bs - 1) / bs
}

// Slice returns block n of image, or nil when n is past the end.
func Slice(image []byte, n uint32, blockSize uint16) []byte {
	start := uint64(n) * uint64(blockSize)
	if start >= uint64(len(image)) {
		return nil
	}
	end := start + uint64(blockSize)
	if end > uint64(len(image)) {
		end = uint64(len(image))
	}
	return image[start:end]
}
