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
	"time"

	"github.com/google/uuid"
)

// RecordKind classifies a transfer record.
type RecordKind uint8

const (
	// RecordTransition is written for every state transition.
	RecordTransition RecordKind = iota + 1
	// RecordRequest is written for every request handed to the transport.
	RecordRequest
	// RecordBlock is written for every block accepted by the reassembler.
	RecordBlock
	// RecordError is written for every escalated or surfaced error.
	RecordError
	// RecordCommit is written when the installer commit succeeds.
	RecordCommit
	// RecordReset is written on an unconditional reset.
	RecordReset
)

// String returns the record kind name.
func (k RecordKind) String() string {
	switch k {
	case RecordTransition:
		return "transition"
	case RecordRequest:
		return "request"
	case RecordBlock:
		return "block"
	case RecordError:
		return "error"
	case RecordCommit:
		return "commit"
	case RecordReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Record is one entry of the transfer history. Integer keys keep the CBOR
// journal compact.
type Record struct {
	// Timestamp is when the record was produced.
	Timestamp time.Time `cbor:"1,keyasint"`

	// TransferID identifies the transfer, zero outside one.
	TransferID uuid.UUID `cbor:"2,keyasint,omitempty"`

	// Kind classifies the record.
	Kind RecordKind `cbor:"3,keyasint"`

	// From and To are the states around a transition.
	From State `cbor:"4,keyasint,omitempty"`
	To   State `cbor:"5,keyasint,omitempty"`

	// Event is the state machine input, if any.
	Event Event `cbor:"6,keyasint,omitempty"`

	// Phase and Block locate request and block records.
	Phase Phase  `cbor:"7,keyasint,omitempty"`
	Block uint32 `cbor:"8,keyasint,omitempty"`

	// Bytes is the payload length of a block record or the set bit count of
	// a bitmap request.
	Bytes int `cbor:"9,keyasint,omitempty"`

	// Request is the kind of request for request records.
	Request RequestKind `cbor:"10,keyasint,omitempty"`

	// Error is the error text for error records.
	Error string `cbor:"11,keyasint,omitempty"`
}

// Recorder receives transfer records from the engine. Implementations must not
// call back into the engine.
type Recorder interface {
	Record(r Record)
}

// NopRecorder discards all records.
type NopRecorder struct{}

// Record discards the record.
func (NopRecorder) Record(Record) {}

// MultiRecorder fans records out to several recorders.
type MultiRecorder []Recorder

// Record forwards r to every recorder.
func (m MultiRecorder) Record(r Record) {
	for _, rec := range m {
		rec.Record(r)
	}
}

var (
	_ Recorder = NopRecorder{}
	_ Recorder = MultiRecorder(nil)
)
