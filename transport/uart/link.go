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

package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/frame"
	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate is the line speed used when none is given.
const DefaultBaudRate = 115200

// readTimeout bounds each port read so Serve notices cancellation.
const readTimeout = 100 * time.Millisecond

// Open opens a serial port in 8N1 mode, retrying while the device is still
// enumerating.
func Open(ctx context.Context, portName string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	var port serial.Port
	err := bgdfu.RetryWithConfig(ctx, bgdfu.DefaultRetryConfig(), func() error {
		p, err := serial.Open(portName, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			bgdfu.Debugf("UART %s: open failed: %v", portName, err)
			return fmt.Errorf("failed to open UART port %s: %w", portName, err)
		}
		port = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	return port, nil
}

// link is a framed byte stream shared by the device and host sides.
type link struct {
	port     io.ReadWriteCloser
	portName string
	mu       syncutil.Mutex
}

// writeFrame encodes and writes one frame. Writes are serialized.
func (l *link) writeFrame(typ byte, payload []byte) error {
	buf, err := frame.Encode(typ, payload)
	if err != nil {
		return fmt.Errorf("UART %s encode failed: %w", l.portName, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.port.Write(buf)
	if err != nil {
		return fmt.Errorf("UART %s write failed: %w", l.portName, err)
	}
	if n != len(buf) {
		return fmt.Errorf("UART %s short write: %d of %d bytes", l.portName, n, len(buf))
	}
	return nil
}

// serve decodes frames until ctx is done or the port fails. The port is
// closed when ctx is done so a blocked read returns.
func (l *link) serve(ctx context.Context, handle func(frame.Frame)) error {
	stop := context.AfterFunc(ctx, func() {
		_ = l.port.Close()
	})
	defer stop()

	dec := frame.NewDecoder(l.port)
	corrupted := 0
	for {
		f, err := dec.Decode()
		if n := dec.Corrupted(); n != corrupted {
			bgdfu.Debugf("UART %s: dropped %d corrupted frames", l.portName, n-corrupted)
			corrupted = n
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("UART %s read failed: %w", l.portName, err)
		}
		handle(f)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}

// Close closes the port.
func (l *link) Close() error {
	if err := l.port.Close(); err != nil && !isClosed(err) {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}
