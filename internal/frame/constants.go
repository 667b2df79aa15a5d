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

// Frame markers
const (
	Preamble   = 0x00 // Frame preamble byte
	StartCode1 = 0x00 // Start code byte 1
	StartCode2 = 0xFF // Start code byte 2
	Postamble  = 0x00 // Frame postamble byte
)

// Frame size limits
const (
	// MaxBodyLength is the largest TYPE+payload length a frame may declare.
	MaxBodyLength = 2048
	// HeaderLength covers preamble, start code, length and length checksum.
	HeaderLength = 6
	// Overhead is the number of bytes a frame adds around its payload:
	// header, type, data checksum and postamble.
	Overhead = HeaderLength + 3
	// MinFrameLength is the size of a frame with an empty payload.
	MinFrameLength = Overhead
)
