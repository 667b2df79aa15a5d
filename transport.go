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
	"fmt"
	"time"
)

// Transport is the per-medium adapter the engine drives. It is implemented once
// per link type (serial line, CoAP, Zigbee OTA, an in-memory simulator).
type Transport interface {
	// SendRequest issues the request for the current state and cursor. The
	// transport arms its response timer with req.Timeout before sending and
	// calls Engine.HandleTimeout(req.Seq) when it expires. A non-zero
	// req.Delay must elapse before the request goes out.
	SendRequest(req Request) error

	// StateChanged is called after every transition, including self
	// transitions, so the transport can recompute the resource to fetch next.
	StateChanged(snap Snapshot)
}

// TransportCapability represents an optional behavior of a transport.
type TransportCapability string

const (
	// CapabilityBulkRetransmission indicates the transport can ask for several
	// missing blocks at once with a bitmap request.
	CapabilityBulkRetransmission TransportCapability = "bulk_retransmission"
)

// TransportCapabilityChecker is implemented by transports that advertise
// optional capabilities.
type TransportCapabilityChecker interface {
	// HasCapability returns true if the transport has the specified capability
	HasCapability(capability TransportCapability) bool
}

// BulkRetransmitter is implemented by transports with CapabilityBulkRetransmission.
type BulkRetransmitter interface {
	// SendBitmapRequest asks for the blocks set in bm. It has the same timer
	// contract as Transport.SendRequest.
	SendBitmapRequest(req Request, bm RequestBitmap) error
}

// bulkOf returns t as a BulkRetransmitter if it advertises and implements
// bulk retransmission.
func bulkOf(t Transport) BulkRetransmitter {
	checker, ok := t.(TransportCapabilityChecker)
	if !ok || !checker.HasCapability(CapabilityBulkRetransmission) {
		return nil
	}
	bulk, ok := t.(BulkRetransmitter)
	if !ok {
		return nil
	}
	return bulk
}

// RequestKind is the kind of unit a request asks for.
type RequestKind uint8

const (
	// RequestTrigger queries the server for a trigger descriptor.
	RequestTrigger RequestKind = iota + 1
	// RequestBlock fetches the single block at the cursor.
	RequestBlock
	// RequestMissing asks for the missing blocks of a window.
	RequestMissing
	// RequestAwait sends nothing and only arms the response timer; used while
	// waiting for pushed multicast blocks.
	RequestAwait
)

// String returns the request kind name.
func (k RequestKind) String() string {
	switch k {
	case RequestTrigger:
		return "trigger"
	case RequestBlock:
		return "block"
	case RequestMissing:
		return "bitmap"
	case RequestAwait:
		return "await"
	default:
		return fmt.Sprintf("request(%d)", uint8(k))
	}
}

// Request describes the next unit the engine needs.
type Request struct {
	// Remote is the descriptor of the peer that sent the trigger
	Remote string
	// Seq is the generation guard passed back to HandleTimeout
	Seq uint64
	// Delay is the jitter to wait before sending
	Delay time.Duration
	// Timeout is the response timeout to arm
	Timeout time.Duration
	// Block is the cursor within the phase
	Block uint32
	// Attempt is 0 for the first send and counts re-issues after that
	Attempt int
	// BlockSize is the nominal block size
	BlockSize uint16
	// Kind selects what to ask for
	Kind RequestKind
	// Phase is the active data phase, PhaseNone for trigger requests
	Phase Phase
}

// String returns a short description for logs.
func (r Request) String() string {
	if r.Phase == PhaseNone {
		return fmt.Sprintf("%s seq=%d attempt=%d", r.Kind, r.Seq, r.Attempt)
	}
	return fmt.Sprintf("%s %s block=%d seq=%d attempt=%d", r.Kind, r.Phase, r.Block, r.Seq, r.Attempt)
}
