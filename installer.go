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

// Installer receives the reassembled init command and firmware image.
type Installer interface {
	// WriteBlock appends the next block of the active phase. Any error
	// aborts the transfer.
	WriteBlock(data []byte) error

	// Commit is called once both phases are complete. A failure leaves the
	// engine in WAIT_FOR_RESET.
	Commit() error
}

// PhaseHandler is implemented by installers that want to know where the
// init command ends and the image starts.
type PhaseHandler interface {
	// BeginPhase is called before the first block of phase p, which will
	// be size bytes long.
	BeginPhase(p Phase, size uint32) error
	// EndPhase is called after the last block of phase p was written and
	// its checksum matched.
	EndPhase(p Phase) error
}

// DeviceResetter is implemented by installers that can reset the device once
// the engine leaves WAIT_FOR_RESET.
type DeviceResetter interface {
	ResetDevice() error
}

// Aborter is implemented by installers that hold resources for a transfer in
// progress. Abort is called once the transfer ends in TRANSFER_ERROR.
type Aborter interface {
	Abort() error
}

// ErrorHandler is told about every escalated error and every error the engine
// could not return to a caller, such as a failed send.
type ErrorHandler interface {
	HandleError(err *TransferError)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(err *TransferError)

// HandleError calls f(err).
func (f ErrorHandlerFunc) HandleError(err *TransferError) {
	f(err)
}

// NopErrorHandler ignores all errors.
type NopErrorHandler struct{}

// HandleError does nothing.
func (NopErrorHandler) HandleError(*TransferError) {}
