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
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureDebug points the session writer and console at buffers for the
// duration of the test. Tests using it must not run in parallel.
func captureDebug(t *testing.T, enabled bool) (session, console *bytes.Buffer) {
	t.Helper()

	origEnabled := debugEnabled.Load()
	origOut := debugOut
	sessionMu.Lock()
	origWriter := sessionLogWriter
	session = &bytes.Buffer{}
	sessionLogWriter = session
	sessionMu.Unlock()

	console = &bytes.Buffer{}
	debugOut = console
	debugEnabled.Store(enabled)

	t.Cleanup(func() {
		debugEnabled.Store(origEnabled)
		debugOut = origOut
		sessionMu.Lock()
		sessionLogWriter = origWriter
		sessionMu.Unlock()
	})
	return session, console
}

func TestDebugf_WritesToSessionLog(t *testing.T) {
	session, console := captureDebug(t, false)

	Debugf("block %d of %s", 3, PhaseFirmware)

	assert.Contains(t, session.String(), "DEBUG: block 3 of firmware\n")
	assert.Empty(t, console.String())
}

func TestDebugf_IncludesTimestamp(t *testing.T) {
	session, _ := captureDebug(t, false)

	Debugf("trigger accepted")

	matched, err := regexp.MatchString(`^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG: trigger accepted\n$`, session.String())
	require.NoError(t, err)
	assert.True(t, matched, "got: %q", session.String())
}

func TestDebugf_ConsoleWhenEnabled(t *testing.T) {
	_, console := captureDebug(t, true)

	Debugf("request %s", RequestBlock)

	assert.Equal(t, "DEBUG: request block\n", console.String())
}

func TestDebugln_JoinsArgs(t *testing.T) {
	session, console := captureDebug(t, true)

	Debugln("state", StateIdle, 7)

	assert.Contains(t, session.String(), "DEBUG: state DFU_IDLE 7\n")
	assert.Equal(t, "DEBUG: state DFU_IDLE 7\n", console.String())
}

func TestDebugf_NilSessionWriter(t *testing.T) {
	captureDebug(t, false)
	sessionMu.Lock()
	sessionLogWriter = nil
	sessionMu.Unlock()

	assert.NotPanics(t, func() {
		Debugf("nothing to write to")
		Debugln("nothing", "either")
	})
}

func TestDebugf_MultipleMessages(t *testing.T) {
	session, _ := captureDebug(t, false)

	for _, s := range []string{"one", "two", "three"} {
		Debugf("message %s", s)
	}

	lines := strings.Split(strings.TrimSpace(session.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "message one")
	assert.Contains(t, lines[2], "message three")
}

func TestSetDebugEnabled(t *testing.T) {
	captureDebug(t, false)

	SetDebugEnabled(true)
	assert.True(t, DebugEnabled())

	SetDebugEnabled(false)
	assert.False(t, DebugEnabled())
}
