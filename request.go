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

// requestNext asks for the block at the cursor. In multicast mode blocks are
// pushed by the server, so only the response timer is armed.
func (e *Engine) requestNext() {
	if e.trigger.Mode == ModeMulticast {
		e.issue(RequestAwait, 0)
		return
	}
	e.issue(RequestBlock, 0)
}

// reissue repeats the outstanding request after delay. A multicast transfer on
// a bulk capable transport asks for the missing blocks of the window instead;
// without bulk support it falls back to a single block request.
func (e *Engine) reissue(delay time.Duration) {
	switch {
	case e.sm.current() == StateDownloadTrigger:
		e.send(RequestTrigger, e.retries, delay, nil)
	case e.trigger.Mode == ModeMulticast && e.bulk != nil:
		bm := e.missingBitmap()
		e.send(RequestMissing, e.retries, delay, &bm)
	default:
		e.send(RequestBlock, e.retries, delay, nil)
	}
}

// reportGap is called when a block beyond the cursor arrives. In multicast
// mode it asks once per cursor position for the missing blocks of the window.
func (e *Engine) reportGap() {
	if e.trigger.Mode != ModeMulticast || e.bulk == nil || e.gapSent {
		return
	}
	e.gapSent = true
	bm := e.missingBitmap()
	e.send(RequestMissing, e.retries, 0, &bm)
}

// missingBitmap describes the window holding the cursor. Blocks before the
// cursor are received, the rest of the window up to the end of the phase is
// missing.
func (e *Engine) missingBitmap() RequestBitmap {
	cursor := e.blockNum
	off := windowOffset(cursor, e.cfg.BitmapCapacity)
	bm := BuildMissingBitmap(off, e.cfg.BitmapCapacity, func(n uint32) bool {
		return n < cursor
	})
	return bm.Clip(BlockCount(e.trigger.PhaseLength(e.sm.current().Phase()), e.cfg.BlockSize))
}

func (e *Engine) issue(kind RequestKind, attempt int) {
	e.send(kind, attempt, 0, nil)
}

// send hands a request to the transport. A new sequence number supersedes
// every timer armed for earlier requests. Send failures are reported but not
// returned: the response timer armed by the transport drives the retry.
func (e *Engine) send(kind RequestKind, attempt int, delay time.Duration, bm *RequestBitmap) {
	e.seq++
	e.pending = kind
	p := e.sm.current().Phase()

	req := Request{
		Remote:    e.remote,
		Seq:       e.seq,
		Delay:     delay,
		Timeout:   e.cfg.ResponseTimeout,
		Block:     e.blockNum,
		Attempt:   attempt,
		BlockSize: e.cfg.BlockSize,
		Kind:      kind,
		Phase:     p,
	}

	var (
		err       error
		requested int
	)
	switch kind {
	case RequestMissing:
		requested = bm.Count()
		err = e.bulk.SendBitmapRequest(req, *bm)
	case RequestBlock:
		requested = 1
		err = e.transport.SendRequest(req)
	case RequestTrigger, RequestAwait:
		err = e.transport.SendRequest(req)
	}

	e.status.Update(func(s *Snapshot) {
		s.addRequested(p, requested)
		s.Seq = e.seq
	})
	e.record(Record{Kind: RecordRequest, Request: kind, Phase: p, Block: e.blockNum, Bytes: requested})

	if err != nil {
		e.report(e.wrapErr("send "+kind.String(), fmt.Errorf("%w: %w", ErrTransportSend, err)))
	}
}
