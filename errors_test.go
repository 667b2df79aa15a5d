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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindRecoverable},
		{name: "invalid trigger", err: ErrInvalidTrigger, want: KindRecoverable},
		{name: "out of order", err: ErrOutOfOrderBlock, want: KindRecoverable},
		{name: "timeout", err: ErrTransportTimeout, want: KindRetryable},
		{name: "wrapped send", err: fmt.Errorf("radio: %w", ErrTransportSend), want: KindRetryable},
		{name: "installer write", err: ErrInstallerWrite, want: KindEscalating},
		{name: "checksum", err: ErrChecksumMismatch, want: KindEscalating},
		{name: "commit", err: ErrCommitFailed, want: KindEscalating},
		{name: "transition", err: ErrInvalidStateTransition, want: KindUsage},
		{name: "config", err: ErrInvalidConfig, want: KindUsage},
		{name: "unknown", err: errors.New("other"), want: KindRecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassifiers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(ErrTransportTimeout))
	assert.False(t, IsRetryable(ErrInstallerWrite))
	assert.True(t, ShouldEscalate(fmt.Errorf("%w: %w", ErrInstallerWrite, errors.New("flash"))))
	assert.False(t, ShouldEscalate(ErrInvalidTrigger))
	assert.True(t, IsTriggerRejected(fmt.Errorf("%w: %w", ErrInvalidTrigger, ErrBusy)))
	assert.False(t, IsTriggerRejected(ErrBusy))
}

func TestErrorKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "recoverable", KindRecoverable.String())
	assert.Equal(t, "retryable", KindRetryable.String())
	assert.Equal(t, "escalating", KindEscalating.String())
	assert.Equal(t, "usage", KindUsage.String())
	assert.Equal(t, "unknown", ErrorKind(42).String())
}

func TestTransferError(t *testing.T) {
	t.Parallel()

	cause := errors.New("sector 12 locked")
	te := &TransferError{
		Err:   fmt.Errorf("%w: %w", ErrInstallerWrite, cause),
		Op:    "write block",
		State: StateDownloadFirmware,
		Phase: PhaseFirmware,
		Block: 7,
	}

	assert.Equal(t,
		"write block (DFU_DOWNLOAD_FIRMWARE, firmware block 7): installer write failed: sector 12 locked",
		te.Error())
	require.ErrorIs(t, te, ErrInstallerWrite)
	require.ErrorIs(t, te, cause)
	assert.Equal(t, KindEscalating, te.Kind())

	idle := &TransferError{Err: ErrBusy, Op: "handle trigger", State: StateWaitForReset}
	assert.Equal(t, "handle trigger (DFU_WAIT_FOR_RESET): transfer already in progress", idle.Error())

	var target *TransferError
	require.ErrorAs(t, fmt.Errorf("outer: %w", te), &target)
	assert.Equal(t, uint32(7), target.Block)
}
