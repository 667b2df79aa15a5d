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

// Package uart binds the DFU engine to a serial line. The device side
// Transport fetches blocks one at a time from a host side Server using the
// framing in internal/frame. The link is strictly sequential and does not
// support bulk retransmission.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/frame"
)

var (
	// ErrNotAttached is returned when the transport is used before Attach.
	ErrNotAttached = errors.New("uart: transport not attached to a loop")
	// ErrUnsupportedRequest is returned for request kinds the link cannot carry.
	ErrUnsupportedRequest = errors.New("uart: unsupported request kind")
)

// Transport is the device side of the serial link. It implements
// bgdfu.Transport and feeds received frames into a bgdfu.Loop.
type Transport struct {
	loop       *bgdfu.Loop
	resetTimer *time.Timer
	link
	timer      bgdfu.RequestTimer
	resetDelay time.Duration
}

// New opens portName and returns a transport on it.
func New(ctx context.Context, portName string, baud int) (*Transport, error) {
	port, err := Open(ctx, portName, baud)
	if err != nil {
		return nil, err
	}
	return NewWithPort(port, portName), nil
}

// NewWithPort returns a transport on an already open stream, such as one end
// of a net.Pipe in tests.
func NewWithPort(port io.ReadWriteCloser, portName string) *Transport {
	return &Transport{link: link{port: port, portName: portName}}
}

// Attach binds the transport to the loop that serializes its engine. It must
// be called before the engine sends its first request.
func (t *Transport) Attach(loop *bgdfu.Loop) {
	t.loop = loop
	t.resetDelay = loop.Config().ResetDelay
}

// HasCapability returns true if the transport has the specified capability
func (*Transport) HasCapability(bgdfu.TransportCapability) bool {
	return false
}

// SendRequest arms the response timer and writes the request frame, after
// req.Delay if one is set.
func (t *Transport) SendRequest(req bgdfu.Request) error {
	if t.loop == nil {
		return ErrNotAttached
	}

	var (
		typ     byte
		payload []byte
	)
	switch req.Kind {
	case bgdfu.RequestTrigger:
		typ = MsgTriggerRequest
	case bgdfu.RequestBlock:
		typ = MsgBlockRequest
		payload, _ = BlockRequest{Phase: req.Phase, Block: req.Block, Size: req.BlockSize}.MarshalBinary()
	case bgdfu.RequestAwait:
		t.timer.Arm(req.Seq, req.Timeout, t.loop.Timeout())
		return nil
	case bgdfu.RequestMissing:
		return fmt.Errorf("%w: %s", ErrUnsupportedRequest, req.Kind)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedRequest, req.Kind)
	}

	t.timer.Arm(req.Seq, req.Delay+req.Timeout, t.loop.Timeout())
	if req.Delay <= 0 {
		return t.writeFrame(typ, payload)
	}

	time.AfterFunc(req.Delay, func() {
		// superseded while waiting
		if seq, ok := t.timer.Pending(); !ok || seq != req.Seq {
			return
		}
		if err := t.writeFrame(typ, payload); err != nil {
			bgdfu.Debugf("UART %s: delayed %s: %v", t.portName, req, err)
		}
	})
	return nil
}

// StateChanged cancels the response timer once no transfer is active and
// schedules the automatic reset in WAIT_FOR_RESET unless it is suppressed.
func (t *Transport) StateChanged(snap bgdfu.Snapshot) {
	bgdfu.Debugf("UART %s: %s", t.portName, snap)
	if snap.State.IsActive() {
		return
	}
	t.timer.Cancel()
	if snap.State == bgdfu.StateWaitForReset && !snap.ResetSuppressed {
		t.scheduleReset(t.resetDelay)
	}
}

// scheduleReset posts EventReset to the loop after delay if the engine is
// still waiting for it by then.
func (t *Transport) scheduleReset(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resetTimer != nil {
		t.resetTimer.Stop()
	}
	t.resetTimer = time.AfterFunc(delay, func() {
		if !t.loop.Queue(resetIfWaiting(t.portName)) {
			bgdfu.Debugf("UART %s: reset dropped, loop stopped", t.portName)
		}
	})
}

func resetIfWaiting(portName string) func(*bgdfu.Engine) {
	return func(e *bgdfu.Engine) {
		if e.State() != bgdfu.StateWaitForReset {
			return
		}
		if _, err := e.HandleEvent(bgdfu.EventReset); err != nil {
			bgdfu.Debugf("UART %s: reset: %v", portName, err)
		}
	}
}

// Serve reads frames from the host until ctx is done or the port closes.
func (t *Transport) Serve(ctx context.Context) error {
	if t.loop == nil {
		return ErrNotAttached
	}
	return t.serve(ctx, t.handleFrame)
}

func (t *Transport) handleFrame(f frame.Frame) {
	switch f.Type {
	case MsgTrigger:
		raw := f.Payload
		t.post(func(e *bgdfu.Engine) {
			if err := e.HandleTrigger(raw, t.portName); err != nil {
				bgdfu.Debugf("UART %s: trigger: %v", t.portName, err)
			}
		})
	case MsgBlock:
		var msg BlockMessage
		if err := msg.UnmarshalBinary(f.Payload); err != nil {
			bgdfu.Debugf("UART %s: %v", t.portName, err)
			return
		}
		t.post(func(e *bgdfu.Engine) {
			// a late answer to a request of the previous phase
			if e.State().Phase() != msg.Phase {
				return
			}
			if _, err := e.HandleBlock(bgdfu.NewBlock(msg.Block, msg.Payload)); err != nil {
				bgdfu.Debugf("UART %s: block %d: %v", t.portName, msg.Block, err)
			}
		})
	case MsgReset:
		delay, err := decodeReset(f.Payload)
		if err != nil {
			bgdfu.Debugf("UART %s: %v", t.portName, err)
			return
		}
		t.scheduleReset(delay)
	case MsgDiagRequest:
		// answered off the read goroutine so a full pipe cannot stall reads
		go func() {
			if err := t.SendDiagnostics(); err != nil {
				bgdfu.Debugf("UART %s: diagnostics: %v", t.portName, err)
			}
		}()
	default:
		bgdfu.Debugf("UART %s: unexpected frame type 0x%02X", t.portName, f.Type)
	}
}

func (t *Transport) post(fn func(*bgdfu.Engine)) {
	if !t.loop.Post(fn) {
		bgdfu.Debugf("UART %s: frame dropped, loop busy", t.portName)
	}
}

// SendDiagnostics writes the current diagnostics record to the host without
// being asked, as a device does before it drops the link.
func (t *Transport) SendDiagnostics() error {
	if t.loop == nil {
		return ErrNotAttached
	}
	data, err := t.loop.Diagnostics().MarshalBinary()
	if err != nil {
		return err
	}
	return t.writeFrame(MsgDiagnostics, data)
}

// Close stops the timers and closes the port.
func (t *Transport) Close() error {
	t.timer.Cancel()
	t.mu.Lock()
	if t.resetTimer != nil {
		t.resetTimer.Stop()
	}
	t.mu.Unlock()
	return t.link.Close()
}

var (
	_ bgdfu.Transport                  = (*Transport)(nil)
	_ bgdfu.TransportCapabilityChecker = (*Transport)(nil)
)
