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
	"io"
	"os"
	"sync/atomic"
	"time"
)

// debugEnabled controls console output of debug messages. The engine itself
// never logs, only adapters, installers and the CLI call Debugf.
var debugEnabled atomic.Bool

// debugOut is where console debug output goes.
var debugOut io.Writer = os.Stderr

func init() {
	if os.Getenv("BGDFU_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf logs a debug message. It is always written to the session log (if
// one is open) and printed to stderr when debug mode is enabled.
func Debugf(format string, args ...any) {
	writeDebug(fmt.Sprintf(format, args...))
}

// Debugln is Debugf with fmt.Sprintln formatting.
func Debugln(args ...any) {
	msg := fmt.Sprintln(args...)
	writeDebug(msg[:len(msg)-1])
}

func writeDebug(msg string) {
	sessionMu.Lock()
	if sessionLogWriter != nil {
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", time.Now().Format("15:04:05.000"), msg)
	}
	sessionMu.Unlock()

	if debugEnabled.Load() {
		_, _ = fmt.Fprintf(debugOut, "DEBUG: %s\n", msg)
	}
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}
