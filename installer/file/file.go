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

// Package file implements a firmware installer that stages the init command
// and the image in a directory and commits them with a rename.
package file

import (
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-bgdfu"
	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
	"gopkg.in/yaml.v3"
)

// Staged file names inside the installer directory.
const (
	InitCmdFile  = "init.bin"
	FirmwareFile = "firmware.bin"
	ManifestFile = "manifest.yaml"
	partSuffix   = ".part"
)

var (
	// ErrNoPhase is returned by WriteBlock outside BeginPhase/EndPhase.
	ErrNoPhase = errors.New("file installer: no phase open")
	// ErrOverflow is returned when a phase receives more bytes than declared.
	ErrOverflow = errors.New("file installer: phase overflow")
	// ErrIncomplete is returned when a phase or commit lacks data.
	ErrIncomplete = errors.New("file installer: incomplete")
)

// Manifest describes a committed update.
type Manifest struct {
	CommittedAt  time.Time `yaml:"committed_at"`
	InitCmdSize  uint32    `yaml:"init_cmd_size"`
	InitCmdCRC   uint32    `yaml:"init_cmd_crc32"`
	FirmwareSize uint32    `yaml:"firmware_size"`
	FirmwareCRC  uint32    `yaml:"firmware_crc32"`
}

type phaseFile struct {
	crc     hash.Hash32
	size    uint32
	written uint32
	done    bool
}

// Option configures an Installer.
type Option func(*Installer)

// WithResetFunc sets what ResetDevice does. The default only logs.
func WithResetFunc(fn func() error) Option {
	return func(i *Installer) {
		i.reset = fn
	}
}

// Installer stages both phases as <name>.part files and renames them into
// place on Commit, together with a manifest.
type Installer struct {
	cur    *os.File
	reset  func() error
	now    func() time.Time
	phases map[bgdfu.Phase]*phaseFile
	dir    string
	mu     syncutil.Mutex
	phase  bgdfu.Phase
}

// New returns an installer staging into dir, which is created if needed.
func New(dir string, opts ...Option) (*Installer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	i := &Installer{
		dir:    dir,
		now:    time.Now,
		phases: make(map[bgdfu.Phase]*phaseFile),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func fileName(p bgdfu.Phase) string {
	if p == bgdfu.PhaseInitCmd {
		return InitCmdFile
	}
	return FirmwareFile
}

// Path returns where phase p is committed.
func (i *Installer) Path(p bgdfu.Phase) string {
	return filepath.Join(i.dir, fileName(p))
}

func (i *Installer) partPath(p bgdfu.Phase) string {
	return i.Path(p) + partSuffix
}

// BeginPhase implements bgdfu.PhaseHandler. It truncates any staged data of
// an earlier, aborted transfer.
func (i *Installer) BeginPhase(p bgdfu.Phase, size uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.closeCurrent()
	if p == bgdfu.PhaseInitCmd {
		// a new transfer invalidates everything staged before
		i.phases = make(map[bgdfu.Phase]*phaseFile)
	}

	f, err := os.OpenFile(i.partPath(p), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", i.partPath(p), err)
	}
	i.cur = f
	i.phase = p
	i.phases[p] = &phaseFile{size: size, crc: crc32.NewIEEE()}
	bgdfu.Debugf("file installer: begin %s, %d bytes", p, size)
	return nil
}

// WriteBlock implements bgdfu.Installer.
func (i *Installer) WriteBlock(data []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cur == nil {
		return ErrNoPhase
	}
	pf := i.phases[i.phase]
	if uint64(pf.written)+uint64(len(data)) > uint64(pf.size) {
		return fmt.Errorf("%w: %s %d+%d > %d", ErrOverflow, i.phase, pf.written, len(data), pf.size)
	}
	if _, err := i.cur.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", i.phase, err)
	}
	_, _ = pf.crc.Write(data)
	pf.written += uint32(len(data)) //nolint:gosec // bounded by size above
	return nil
}

// EndPhase implements bgdfu.PhaseHandler.
func (i *Installer) EndPhase(p bgdfu.Phase) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	pf, ok := i.phases[p]
	if !ok || i.cur == nil || i.phase != p {
		return fmt.Errorf("%w: end %s without begin", ErrNoPhase, p)
	}
	if pf.written != pf.size {
		return fmt.Errorf("%w: %s has %d of %d bytes", ErrIncomplete, p, pf.written, pf.size)
	}
	if err := i.cur.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", p, err)
	}
	if err := i.cur.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	i.cur = nil
	i.phase = bgdfu.PhaseNone
	pf.done = true
	bgdfu.Debugf("file installer: end %s, crc %08x", p, pf.crc.Sum32())
	return nil
}

// Commit implements bgdfu.Installer. Both phases must have ended.
func (i *Installer) Commit() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	initCmd, fw := i.phases[bgdfu.PhaseInitCmd], i.phases[bgdfu.PhaseFirmware]
	if initCmd == nil || fw == nil || !initCmd.done || !fw.done {
		return fmt.Errorf("%w: commit before both phases ended", ErrIncomplete)
	}

	for _, p := range []bgdfu.Phase{bgdfu.PhaseInitCmd, bgdfu.PhaseFirmware} {
		if err := os.Rename(i.partPath(p), i.Path(p)); err != nil {
			return fmt.Errorf("failed to commit %s: %w", p, err)
		}
	}

	m := Manifest{
		CommittedAt:  i.now().UTC(),
		InitCmdSize:  initCmd.size,
		InitCmdCRC:   initCmd.crc.Sum32(),
		FirmwareSize: fw.size,
		FirmwareCRC:  fw.crc.Sum32(),
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(i.dir, ManifestFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	bgdfu.Debugf("file installer: committed %d + %d bytes to %s", m.InitCmdSize, m.FirmwareSize, i.dir)
	return nil
}

// ResetDevice implements bgdfu.DeviceResetter.
func (i *Installer) ResetDevice() error {
	if i.reset == nil {
		bgdfu.Debugf("file installer: reset requested")
		return nil
	}
	return i.reset()
}

// Discard closes any open phase and removes staged .part files.
func (i *Installer) Discard() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.closeCurrent()
	i.phases = make(map[bgdfu.Phase]*phaseFile)
	var errs []error
	for _, p := range []bgdfu.Phase{bgdfu.PhaseInitCmd, bgdfu.PhaseFirmware} {
		if err := os.Remove(i.partPath(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Abort implements bgdfu.Aborter by discarding the staged phases.
func (i *Installer) Abort() error {
	bgdfu.Debugf("file installer: transfer aborted, discarding %s", i.dir)
	return i.Discard()
}

func (i *Installer) closeCurrent() {
	if i.cur != nil {
		_ = i.cur.Close()
		i.cur = nil
	}
	i.phase = bgdfu.PhaseNone
}

// ReadManifest loads the manifest of the last commit in dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // path built from the staging dir
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

var (
	_ bgdfu.Installer      = (*Installer)(nil)
	_ bgdfu.PhaseHandler   = (*Installer)(nil)
	_ bgdfu.DeviceResetter = (*Installer)(nil)
	_ bgdfu.Aborter        = (*Installer)(nil)
)
