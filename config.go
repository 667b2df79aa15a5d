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

// Transfer tunables.
const (
	// DefaultBlockSize is the nominal block size in bytes.
	DefaultBlockSize = 64
	// MaxBlockSize is the largest block size a Block can describe.
	MaxBlockSize = 1024
	// DefaultMaxRetries is the number of times a request is re-issued before escalating.
	DefaultMaxRetries = 3
	// DefaultRetryJitter bounds the random delay before a re-issued request.
	// Devices sharing a medium would otherwise retry in lockstep.
	DefaultRetryJitter = 250 * time.Millisecond
	// DefaultBitmapCapacity is the number of blocks one bitmap request can describe.
	DefaultBitmapCapacity = 128
	// DefaultResponseTimeout is how long a transport waits for a response.
	DefaultResponseTimeout = 2 * time.Second
)

// Trigger policy defaults.
const (
	// DefaultMaxInitCmdSize is the largest accepted init command.
	DefaultMaxInitCmdSize = 4 * 1024
	// DefaultMaxFirmwareSize is the largest accepted firmware image.
	DefaultMaxFirmwareSize = 1024 * 1024
	// DefaultMinVersion is the lowest trigger version accepted by the default policy.
	DefaultMinVersion = 1
)

// VersionPolicy decides whether a trigger's version is acceptable.
type VersionPolicy func(version uint8) bool

// MinimumVersion accepts versions greater than or equal to minVersion.
func MinimumVersion(minVersion uint8) VersionPolicy {
	return func(version uint8) bool {
		return version >= minVersion
	}
}

// NewerThan accepts only versions strictly newer than installed.
func NewerThan(installed uint8) VersionPolicy {
	return func(version uint8) bool {
		return version > installed
	}
}

// Config holds the engine configuration.
type Config struct {
	// VersionPolicy accepts or rejects a trigger version
	VersionPolicy VersionPolicy
	// ErrorHandler is told about escalated and surfaced errors
	ErrorHandler ErrorHandler
	// Recorder receives transfer records
	Recorder Recorder
	// RetryJitter bounds the random delay before a re-issued request
	RetryJitter time.Duration
	// ResponseTimeout is passed to the transport with every request
	ResponseTimeout time.Duration
	// ResetDelay is how long adapters wait in WAIT_FOR_RESET before resetting
	// when the trigger did not suppress the reset
	ResetDelay time.Duration
	// MaxRetries is the number of re-issues per request before TRANSFER_ERROR
	MaxRetries int
	// BitmapCapacity is the retransmission window in blocks (multiple of 8)
	BitmapCapacity int
	// MaxInitCmdSize is the largest accepted init command length
	MaxInitCmdSize uint32
	// MaxFirmwareSize is the largest accepted firmware length
	MaxFirmwareSize uint32
	// BuildID is reported in the diagnostics record
	BuildID uint32
	// BlockSize is the nominal block size in bytes
	BlockSize uint16
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		VersionPolicy:   MinimumVersion(DefaultMinVersion),
		ErrorHandler:    NopErrorHandler{},
		Recorder:        NopRecorder{},
		RetryJitter:     DefaultRetryJitter,
		ResponseTimeout: DefaultResponseTimeout,
		MaxRetries:      DefaultMaxRetries,
		BitmapCapacity:  DefaultBitmapCapacity,
		MaxInitCmdSize:  DefaultMaxInitCmdSize,
		MaxFirmwareSize: DefaultMaxFirmwareSize,
		BlockSize:       DefaultBlockSize,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BlockSize == 0 || c.BlockSize > MaxBlockSize:
		return fmt.Errorf("%w: block size %d not in [1, %d]", ErrInvalidConfig, c.BlockSize, MaxBlockSize)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: negative max retries %d", ErrInvalidConfig, c.MaxRetries)
	case c.RetryJitter < 0:
		return fmt.Errorf("%w: negative retry jitter %v", ErrInvalidConfig, c.RetryJitter)
	case c.BitmapCapacity <= 0 || c.BitmapCapacity%8 != 0:
		return fmt.Errorf("%w: bitmap capacity %d must be a positive multiple of 8", ErrInvalidConfig, c.BitmapCapacity)
	case c.MaxInitCmdSize == 0 || c.MaxFirmwareSize == 0:
		return fmt.Errorf("%w: size limits must be non-zero", ErrInvalidConfig)
	case c.VersionPolicy == nil:
		return fmt.Errorf("%w: nil version policy", ErrInvalidConfig)
	}
	return nil
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithBlockSize sets the nominal block size.
func WithBlockSize(size uint16) Option {
	return func(c *Config) {
		c.BlockSize = size
	}
}

// WithMaxRetries sets how many times a request is re-issued before the
// transfer is aborted.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithRetryJitter sets the upper bound of the random delay applied to
// re-issued requests. Zero disables the delay.
func WithRetryJitter(d time.Duration) Option {
	return func(c *Config) {
		c.RetryJitter = d
	}
}

// WithBitmapCapacity sets the retransmission window size in blocks.
func WithBitmapCapacity(blocks int) Option {
	return func(c *Config) {
		c.BitmapCapacity = blocks
	}
}

// WithResponseTimeout sets the response timeout handed to the transport.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ResponseTimeout = d
	}
}

// WithResetDelay sets the delay adapters apply before an automatic reset.
func WithResetDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ResetDelay = d
	}
}

// WithLimits sets the largest accepted init command and firmware lengths.
func WithLimits(maxInitCmd, maxFirmware uint32) Option {
	return func(c *Config) {
		c.MaxInitCmdSize = maxInitCmd
		c.MaxFirmwareSize = maxFirmware
	}
}

// WithVersionPolicy sets the trigger version policy.
func WithVersionPolicy(p VersionPolicy) Option {
	return func(c *Config) {
		c.VersionPolicy = p
	}
}

// WithBuildID sets the build identifier reported in diagnostics.
func WithBuildID(id uint32) Option {
	return func(c *Config) {
		c.BuildID = id
	}
}

// WithErrorHandler sets the error hook. A nil handler restores the no-op default.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Config) {
		if h == nil {
			h = NopErrorHandler{}
		}
		c.ErrorHandler = h
	}
}

// WithRecorder sets the transfer recorder. A nil recorder restores the no-op default.
func WithRecorder(r Recorder) Option {
	return func(c *Config) {
		if r == nil {
			r = NopRecorder{}
		}
		c.Recorder = r
	}
}
