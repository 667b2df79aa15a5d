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
	"hash"
	"hash/crc32"
	"time"

	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
	"github.com/google/uuid"
)

// Engine drives one background DFU transfer at a time. It owns the transfer
// context and is mutated only through its methods.
//
// HandleTrigger, HandleBlock, HandleTimeout, HandleEvent, Start and Reset must
// not be called concurrently; adapters serialize them through a Loop.
// Diagnostics may be called from any goroutine.
type Engine struct {
	transport Transport
	installer Installer
	bulk      BulkRetransmitter
	phases    PhaseHandler
	resetter  DeviceResetter
	aborter   Aborter
	sm        *stateMachine
	crc       hash.Hash32
	now       func() time.Time

	status syncutil.Guarded[Snapshot]

	remote     string
	cfg        Config
	trigger    Trigger
	transferID uuid.UUID
	seq        uint64
	blockNum   uint32
	received   uint32
	retries    int
	pending    RequestKind
	prevState  State
	hasTrigger bool
	gapSent    bool
}

// New creates an idle engine bound to a transport and an installer.
func New(transport Transport, installer Installer, opts ...Option) (*Engine, error) {
	if transport == nil || installer == nil {
		return nil, ErrNilCollaborator
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		transport: transport,
		installer: installer,
		bulk:      bulkOf(transport),
		sm:        newStateMachine(),
		crc:       crc32.NewIEEE(),
		now:       time.Now,
	}
	if ph, ok := installer.(PhaseHandler); ok {
		e.phases = ph
	}
	if dr, ok := installer.(DeviceResetter); ok {
		e.resetter = dr
	}
	if ab, ok := installer.(Aborter); ok {
		e.aborter = ab
	}
	e.status.Store(Snapshot{BuildID: cfg.BuildID})
	e.publish()
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns the current state.
func (e *Engine) State() State {
	return e.sm.current()
}

// Diagnostics returns a consistent copy of the state and counters.
func (e *Engine) Diagnostics() Snapshot {
	return e.status.Load()
}

// SupportsBulkRetransmission reports whether the transport takes bitmap requests.
func (e *Engine) SupportsBulkRetransmission() bool {
	return e.bulk != nil
}

// Start begins a device initiated transfer: the engine leaves IDLE and asks
// remote for a trigger.
func (e *Engine) Start(remote string) error {
	if st := e.sm.current(); st != StateIdle {
		return e.wrapErr("start", fmt.Errorf("%w: start in %s", ErrInvalidStateTransition, st))
	}
	e.remote = remote
	return e.dispatch(EventTransferComplete)
}

// ValidateTrigger decodes raw and checks it against the state, version and
// length policy. Accepting a trigger counts it in the diagnostics; a rejected
// trigger changes nothing.
func (e *Engine) ValidateTrigger(raw []byte) (Trigger, error) {
	if st := e.sm.current(); st != StateIdle && st != StateDownloadTrigger {
		return Trigger{}, fmt.Errorf("%w: %w: in %s", ErrInvalidTrigger, ErrBusy, st)
	}

	t, err := ParseTrigger(raw)
	if err != nil {
		return Trigger{}, err
	}
	if err := e.cfg.checkPolicy(t); err != nil {
		return Trigger{}, err
	}

	e.status.Update(func(s *Snapshot) {
		s.TriggersReceived++
	})
	return t, nil
}

// HandleTrigger validates a trigger received from remote and, if accepted,
// starts downloading its init command. A rejected trigger leaves the engine
// untouched and returns an error matching ErrInvalidTrigger.
func (e *Engine) HandleTrigger(raw []byte, remote string) error {
	t, err := e.ValidateTrigger(raw)
	if err != nil {
		return e.wrapErr("handle trigger", err)
	}

	e.trigger = t
	e.hasTrigger = true
	e.transferID = uuid.New()
	if remote != "" {
		e.remote = remote
	}

	if e.sm.current() == StateIdle {
		if err := e.dispatch(EventTransferComplete); err != nil {
			return err
		}
	}
	return e.dispatch(EventTransferComplete)
}

// HandleBlock offers block b to the reassembler. It returns true if the block
// was the one expected and has been written to the installer. Duplicates,
// blocks ahead of the cursor and short non-final blocks return false and no
// error.
func (e *Engine) HandleBlock(b Block) (bool, error) {
	st := e.sm.current()
	p := st.Phase()
	if p == PhaseNone {
		return false, e.wrapErr("handle block",
			fmt.Errorf("%w: block %d in %s", ErrInvalidStateTransition, b.Number, st))
	}

	if b.Number != e.blockNum {
		if b.Number > e.blockNum {
			e.reportGap()
		}
		return false, nil
	}

	data, ok := e.fitBlock(b.data())
	if !ok {
		return false, nil
	}

	if err := e.installer.WriteBlock(data); err != nil {
		return false, e.escalate("write block", fmt.Errorf("%w: %w", ErrInstallerWrite, err))
	}

	e.blockNum++
	e.received += uint32(len(data)) //nolint:gosec // bounded by the phase length
	_, _ = e.crc.Write(data)
	e.retries = 0
	e.pending = 0
	e.gapSent = false
	e.seq++
	e.status.Update(func(s *Snapshot) {
		s.addReceived(p)
		s.Block = e.blockNum
		s.Seq = e.seq
	})
	e.record(Record{Kind: RecordBlock, Phase: p, Block: b.Number, Bytes: len(data)})

	if e.received >= e.trigger.PhaseLength(p) {
		return true, e.completePhase()
	}
	return true, e.dispatch(EventTransferContinue)
}

// fitBlock bounds data to what the phase still expects. A padded trailing
// block is truncated to the declared length; an oversized block or a short
// block that is not the last one is refused.
func (e *Engine) fitBlock(data []byte) ([]byte, bool) {
	remaining := e.trigger.PhaseLength(e.sm.current().Phase()) - e.received
	if uint32(len(data)) > remaining { //nolint:gosec // block payloads are small
		data = data[:remaining]
	}
	switch {
	case len(data) == 0:
		return nil, false
	case len(data) > int(e.cfg.BlockSize):
		return nil, false
	case len(data) < int(e.cfg.BlockSize) && uint32(len(data)) < remaining: //nolint:gosec // block payloads are small
		return nil, false
	}
	return data, true
}

// HandleTimeout is called when the response timer of request seq expires.
// Stale or superseded timers are ignored. The request is re-issued after a
// random delay until MaxRetries re-issues have failed, then the transfer is
// aborted with ErrTransportTimeout.
func (e *Engine) HandleTimeout(seq uint64) error {
	if seq != e.seq || e.pending == 0 || !e.sm.current().IsActive() {
		return nil
	}

	e.retries++
	if e.retries > e.cfg.MaxRetries {
		return e.escalate("handle timeout", fmt.Errorf("%w: %s block %d after %d retries",
			ErrTransportTimeout, e.sm.current(), e.blockNum, e.cfg.MaxRetries))
	}

	e.reissue(retryDelay(e.cfg.RetryJitter))
	return nil
}

// HandleEvent applies ev to the state machine and runs the side effects of
// the transition. An event that is not legal in the current state fails with
// ErrInvalidStateTransition and changes nothing.
func (e *Engine) HandleEvent(ev Event) (State, error) {
	st := e.sm.current()
	if ev == EventTransferComplete {
		if err := e.checkComplete(st); err != nil {
			return st, e.wrapErr("handle event", err)
		}
		if st.Phase() != PhaseNone {
			err := e.completePhase()
			return e.sm.current(), err
		}
	}

	err := e.dispatch(ev)
	return e.sm.current(), err
}

// checkComplete guards TRANSFER_COMPLETE: the trigger state needs an accepted
// trigger and a data phase needs all of its bytes.
func (e *Engine) checkComplete(st State) error {
	switch {
	case st == StateDownloadTrigger && !e.hasTrigger:
		return fmt.Errorf("%w: %s in %s without an accepted trigger",
			ErrInvalidStateTransition, EventTransferComplete, st)
	case st.Phase() != PhaseNone && e.received < e.trigger.PhaseLength(st.Phase()):
		return fmt.Errorf("%w: %s in %s with %d of %d bytes",
			ErrInvalidStateTransition, EventTransferComplete, st, e.received, e.trigger.PhaseLength(st.Phase()))
	}
	return nil
}

// Reset unconditionally returns the engine to IDLE and clears the transfer.
// Diagnostics counters are kept.
func (e *Engine) Reset() {
	from := e.sm.current()
	e.sm.force(StateIdle)
	if from != StateIdle {
		e.prevState = from
	}
	id := e.transferID
	e.clearTransfer()

	snap := e.publish()
	e.record(Record{Kind: RecordReset, TransferID: id, From: from, To: StateIdle})
	e.transport.StateChanged(snap)
}

// completePhase checks the phase checksum, lets the installer close the phase
// and moves on to the next state.
func (e *Engine) completePhase() error {
	p := e.sm.current().Phase()

	if want := e.phaseCRC(p); want != 0 {
		if got := e.crc.Sum32(); got != want {
			return e.escalate("complete phase",
				fmt.Errorf("%w: %s crc %08x, want %08x", ErrChecksumMismatch, p, got, want))
		}
	}
	if e.phases != nil {
		if err := e.phases.EndPhase(p); err != nil {
			return e.escalate("end phase", fmt.Errorf("%w: %w", ErrPhaseRejected, err))
		}
	}
	return e.dispatch(EventTransferComplete)
}

func (e *Engine) phaseCRC(p Phase) uint32 {
	switch p {
	case PhaseInitCmd:
		return e.trigger.InitCmdCRC
	case PhaseFirmware:
		return e.trigger.FirmwareCRC
	default:
		return 0
	}
}

// dispatch fires ev and runs the side effects of the resulting transition.
func (e *Engine) dispatch(ev Event) error {
	from, to, err := e.sm.fire(ev)
	if err != nil {
		return e.wrapErr("handle "+ev.String(), err)
	}
	if from != to {
		e.prevState = from
	}
	// the transition out of a transfer is still journaled under its ID
	id := e.transferID

	switch {
	case to == StateIdle:
		e.clearTransfer()
	case from == StateIdle:
		e.blockNum = 0
		e.retries = 0
	case to.Phase() != PhaseNone && from != to:
		e.enterPhase()
	case from.Phase() != PhaseNone && to.Phase() == PhaseNone:
		// no block is outstanding once the data phases are over
		e.blockNum = 0
		e.received = 0
	}

	e.record(Record{Kind: RecordTransition, TransferID: id, From: from, To: to, Event: ev})
	snap := e.publish()
	e.transport.StateChanged(snap)

	switch {
	case to == StateDownloadTrigger:
		if !e.hasTrigger {
			e.issue(RequestTrigger, 0)
		}
	case to.Phase() != PhaseNone:
		if from != to && e.phases != nil {
			if err := e.phases.BeginPhase(to.Phase(), e.trigger.PhaseLength(to.Phase())); err != nil {
				return e.escalate("begin phase", fmt.Errorf("%w: %w", ErrPhaseRejected, err))
			}
		}
		e.requestNext()
	case to == StateWaitForReset:
		return e.commit()
	case from == StateWaitForReset && ev == EventReset:
		return e.resetDevice()
	case ev == EventTransferError:
		e.abort()
	}
	return nil
}

// enterPhase prepares the block cursor for a new data phase.
func (e *Engine) enterPhase() {
	e.blockNum = 0
	e.received = 0
	e.retries = 0
	e.gapSent = false
	e.crc.Reset()
}

func (e *Engine) commit() error {
	if err := e.installer.Commit(); err != nil {
		te := e.wrapErr("commit", fmt.Errorf("%w: %w", ErrCommitFailed, err))
		e.report(te)
		return te
	}
	e.record(Record{Kind: RecordCommit, Bytes: int(e.trigger.FirmwareLength)})
	return nil
}

func (e *Engine) resetDevice() error {
	if e.resetter == nil {
		return nil
	}
	if err := e.resetter.ResetDevice(); err != nil {
		te := e.wrapErr("reset device", err)
		e.report(te)
		return te
	}
	return nil
}

// escalate reports err and aborts the transfer.
func (e *Engine) escalate(op string, err error) error {
	te := e.wrapErr(op, err)
	e.report(te)
	if e.sm.can(EventTransferError) {
		if derr := e.dispatch(EventTransferError); derr != nil {
			return derr
		}
	}
	return te
}

func (e *Engine) abort() {
	if e.aborter == nil {
		return
	}
	if err := e.aborter.Abort(); err != nil {
		e.report(e.wrapErr("abort", err))
	}
}

func (e *Engine) report(te *TransferError) {
	e.cfg.ErrorHandler.HandleError(te)
	e.record(Record{Kind: RecordError, Phase: te.Phase, Block: te.Block, Error: te.Error()})
}

// clearTransfer drops every transfer scoped field. Bumping seq turns any
// armed timer into a stale one.
func (e *Engine) clearTransfer() {
	e.trigger = Trigger{}
	e.hasTrigger = false
	e.transferID = uuid.Nil
	e.remote = ""
	e.blockNum = 0
	e.received = 0
	e.retries = 0
	e.pending = 0
	e.gapSent = false
	e.crc.Reset()
	e.seq++
}

// publish copies the transfer fields into the diagnostics snapshot.
func (e *Engine) publish() Snapshot {
	var snap Snapshot
	e.status.Update(func(s *Snapshot) {
		s.State = e.sm.current()
		s.PrevState = e.prevState
		s.TransferID = e.transferID
		s.InitCmdSize = e.trigger.InitCmdLength
		s.FirmwareSize = e.trigger.FirmwareLength
		s.Block = e.blockNum
		s.BuildID = e.cfg.BuildID
		s.Seq = e.seq
		s.Mode = e.trigger.Mode
		s.ResetSuppressed = e.trigger.ResetSuppress
		snap = *s
	})
	return snap
}

func (e *Engine) record(r Record) {
	r.Timestamp = e.now()
	if r.TransferID == uuid.Nil {
		r.TransferID = e.transferID
	}
	e.cfg.Recorder.Record(r)
}
