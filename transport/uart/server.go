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
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/frame"
)

// Image is the update a Server offers.
type Image struct {
	InitCmd       []byte
	Firmware      []byte
	Version       uint8
	Mode          bgdfu.Mode
	ResetSuppress bool
}

// Trigger returns the descriptor announcing img, with CRC-32 checksums of
// both phases.
func (img Image) Trigger() bgdfu.Trigger {
	return bgdfu.Trigger{
		InitCmdLength:  uint32(len(img.InitCmd)), //nolint:gosec // bounded by the trigger limits
		InitCmdCRC:     crc32.ChecksumIEEE(img.InitCmd),
		FirmwareLength: uint32(len(img.Firmware)), //nolint:gosec // bounded by the trigger limits
		FirmwareCRC:    crc32.ChecksumIEEE(img.Firmware),
		Version:        img.Version,
		Mode:           img.Mode,
		ResetSuppress:  img.ResetSuppress,
	}
}

func (img Image) phase(p bgdfu.Phase) []byte {
	switch p {
	case bgdfu.PhaseInitCmd:
		return img.InitCmd
	case bgdfu.PhaseFirmware:
		return img.Firmware
	default:
		return nil
	}
}

// ServerStats counts what a Server has answered.
type ServerStats struct {
	TriggerRequests int
	BlockRequests   int
	BlocksServed    int
	Diagnostics     int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDiagnosticsHandler is called with every diagnostics record received.
func WithDiagnosticsHandler(fn func(bgdfu.Snapshot)) ServerOption {
	return func(s *Server) {
		s.onDiag = fn
	}
}

// WithPadding pads the trailing block of each phase to the requested block
// size with fill, as flash oriented servers do.
func WithPadding(fill byte) ServerOption {
	return func(s *Server) {
		s.pad = true
		s.fill = fill
	}
}

// Server is the host side of the serial link: it announces an Image and
// answers block requests from the device.
type Server struct {
	onDiag  func(bgdfu.Snapshot)
	trigger []byte
	image   Image
	link
	stats ServerStats
	pad   bool
	fill  byte
}

// NewServer returns a server offering img on port.
func NewServer(port io.ReadWriteCloser, portName string, img Image, opts ...ServerOption) (*Server, error) {
	if img.Version == 0 {
		img.Version = bgdfu.DefaultMinVersion
	}
	raw, err := img.Trigger().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger: %w", err)
	}

	s := &Server{
		link:    link{port: port, portName: portName},
		image:   img,
		trigger: raw,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PushTrigger announces the image without waiting for a trigger request.
func (s *Server) PushTrigger() error {
	return s.writeFrame(MsgTrigger, s.trigger)
}

// SendReset orders the device to reset after delay.
func (s *Server) SendReset(delay time.Duration) error {
	return s.writeFrame(MsgReset, encodeReset(delay))
}

// RequestDiagnostics asks the device for its diagnostics record. The answer
// goes to the diagnostics handler.
func (s *Server) RequestDiagnostics() error {
	return s.writeFrame(MsgDiagRequest, nil)
}

// Trigger returns the descriptor the server announces, after defaults.
func (s *Server) Trigger() bgdfu.Trigger {
	return s.image.Trigger()
}

// Stats returns a copy of the counters.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Serve answers the device until ctx is done or the port closes.
func (s *Server) Serve(ctx context.Context) error {
	return s.serve(ctx, s.handleFrame)
}

func (s *Server) handleFrame(f frame.Frame) {
	switch f.Type {
	case MsgTriggerRequest:
		s.count(func(st *ServerStats) { st.TriggerRequests++ })
		if err := s.PushTrigger(); err != nil {
			bgdfu.Debugf("UART %s: trigger: %v", s.portName, err)
		}
	case MsgBlockRequest:
		var req BlockRequest
		if err := req.UnmarshalBinary(f.Payload); err != nil {
			bgdfu.Debugf("UART %s: %v", s.portName, err)
			return
		}
		s.count(func(st *ServerStats) { st.BlockRequests++ })
		if err := s.serveBlock(req); err != nil {
			bgdfu.Debugf("UART %s: block %s %d: %v", s.portName, req.Phase, req.Block, err)
		}
	case MsgDiagnostics:
		var snap bgdfu.Snapshot
		if err := snap.UnmarshalBinary(f.Payload); err != nil {
			bgdfu.Debugf("UART %s: diagnostics: %v", s.portName, err)
			return
		}
		s.count(func(st *ServerStats) { st.Diagnostics++ })
		if s.onDiag != nil {
			s.onDiag(snap)
		}
	default:
		bgdfu.Debugf("UART %s: unexpected frame type 0x%02X", s.portName, f.Type)
	}
}

func (s *Server) serveBlock(req BlockRequest) error {
	if req.Size == 0 || req.Size > bgdfu.MaxBlockSize {
		return fmt.Errorf("%w: block size %d", ErrMalformedMessage, req.Size)
	}
	data := bgdfu.Slice(s.image.phase(req.Phase), req.Block, req.Size)
	if data == nil {
		return fmt.Errorf("%w: block past the end", ErrMalformedMessage)
	}
	if s.pad {
		data = bgdfu.PadBlock(data, int(req.Size), s.fill)
	}

	payload, _ := BlockMessage{Phase: req.Phase, Block: req.Block, Payload: data}.MarshalBinary()
	if err := s.writeFrame(MsgBlock, payload); err != nil {
		return err
	}
	s.count(func(st *ServerStats) { st.BlocksServed++ })
	return nil
}

func (s *Server) count(fn func(*ServerStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}
