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
	"errors"
	"fmt"
)

// Error categories for transfer handling and escalation
var (
	// Trigger errors - recoverable, the device stays idle
	ErrInvalidTrigger   = errors.New("invalid trigger")
	ErrMalformedTrigger = errors.New("malformed trigger")
	ErrVersionRejected  = errors.New("trigger version rejected")
	ErrLengthOutOfRange = errors.New("declared length out of range")
	ErrBusy             = errors.New("transfer already in progress")

	// Block errors - not failures, the block is dropped
	ErrOutOfOrderBlock = errors.New("out of order block")
	ErrShortBlock      = errors.New("short non-final block")

	// Transport errors - retried up to the configured limit
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportSend    = errors.New("transport send failed")

	// Installer errors - always escalate
	ErrInstallerWrite   = errors.New("installer write failed")
	ErrPhaseRejected    = errors.New("installer rejected phase")
	ErrChecksumMismatch = errors.New("phase checksum mismatch")
	ErrCommitFailed     = errors.New("installer commit failed")

	// Usage errors - surfaced to the caller, context untouched
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrNilCollaborator        = errors.New("transport and installer are required")
)

// ErrorKind is the escalation class of an error
type ErrorKind int

const (
	// KindRecoverable errors leave the transfer where it is
	KindRecoverable ErrorKind = iota
	// KindRetryable errors are retried before escalating
	KindRetryable
	// KindEscalating errors abort the transfer
	KindEscalating
	// KindUsage errors are programming or protocol misuse
	KindUsage
)

func (k ErrorKind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindRetryable:
		return "retryable"
	case KindEscalating:
		return "escalating"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// TransferError wraps a transfer-level error with the context it happened in
type TransferError struct {
	Err   error  // Underlying error
	Op    string // Operation that failed
	State State  // State when the error occurred
	Phase Phase  // Active phase, if any
	Block uint32 // Block cursor when the error occurred
}

func (e *TransferError) Error() string {
	if e.Phase != PhaseNone {
		return fmt.Sprintf("%s (%s, %s block %d): %v", e.Op, e.State, e.Phase, e.Block, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.State, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Kind returns the escalation class of the wrapped error
func (e *TransferError) Kind() ErrorKind {
	return KindOf(e.Err)
}

// KindOf classifies err
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindRecoverable
	case errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrNilCollaborator):
		return KindUsage
	case errors.Is(err, ErrInstallerWrite),
		errors.Is(err, ErrPhaseRejected),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrCommitFailed):
		return KindEscalating
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportSend):
		return KindRetryable
	default:
		return KindRecoverable
	}
}

// IsRetryable returns true if the error is retried before escalating
func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}

// ShouldEscalate returns true if the error aborts the transfer
func ShouldEscalate(err error) bool {
	return KindOf(err) == KindEscalating
}

// IsTriggerRejected returns true if err is a policy rejection of a trigger
func IsTriggerRejected(err error) bool {
	return errors.Is(err, ErrInvalidTrigger)
}

func (e *Engine) wrapErr(op string, err error) *TransferError {
	return &TransferError{
		Err:   err,
		Op:    op,
		State: e.sm.current(),
		Phase: e.sm.current().Phase(),
		Block: e.blockNum,
	}
}
