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

// Package config loads the YAML configuration used by the bgdfu command and
// converts it into engine options.
package config

import (
	"errors"
	"fmt"
	"time"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
)

// Defaults for the command line surface.
const (
	DefaultStagingDir = "staging"
	DefaultBaudRate   = 115200
)

// Config is the top-level configuration file.
type Config struct {
	// Serial selects the serial line used by the device and serve commands.
	Serial Serial `yaml:"serial"`

	// Engine overrides the engine defaults. Zero values keep the default.
	Engine Engine `yaml:"engine"`

	// StagingDir is where the file installer stages and commits images.
	StagingDir string `yaml:"staging_dir"`

	// Journal is the path of the CBOR transfer journal. Empty disables it.
	Journal string `yaml:"journal"`

	// SessionLogDir is where the debug session log is written. Empty disables it.
	SessionLogDir string `yaml:"session_log_dir"`

	// Debug enables debug output.
	Debug bool `yaml:"debug"`
}

// Serial configures the serial line.
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Engine mirrors bgdfu.Config for the fields that make sense in a file.
type Engine struct {
	RetryJitter     Duration `yaml:"retry_jitter"`
	ResponseTimeout Duration `yaml:"response_timeout"`
	ResetDelay      Duration `yaml:"reset_delay"`

	// MaxRetries is a pointer so that an explicit 0 disables retries.
	MaxRetries *int `yaml:"max_retries"`

	BitmapCapacity  int    `yaml:"bitmap_capacity"`
	MaxInitCmdSize  uint32 `yaml:"max_init_cmd_size"`
	MaxFirmwareSize uint32 `yaml:"max_firmware_size"`
	BuildID         uint32 `yaml:"build_id"`
	BlockSize       uint16 `yaml:"block_size"`

	// MinVersion accepts triggers with a version at or above it.
	MinVersion uint8 `yaml:"min_version"`

	// InstalledVersion, when set, accepts only strictly newer triggers. It
	// cannot be combined with MinVersion.
	InstalledVersion *uint8 `yaml:"installed_version"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", s)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Serial:     Serial{Baud: DefaultBaudRate},
		StagingDir: DefaultStagingDir,
	}
}

// ApplyDefaults fills unset command line fields.
func (c *Config) ApplyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = DefaultBaudRate
	}
	if c.StagingDir == "" {
		c.StagingDir = DefaultStagingDir
	}
}

// Options converts the engine section into engine options. Only set fields
// produce an option.
func (e Engine) Options() []bgdfu.Option {
	var opts []bgdfu.Option
	if e.BlockSize != 0 {
		opts = append(opts, bgdfu.WithBlockSize(e.BlockSize))
	}
	if e.MaxRetries != nil {
		opts = append(opts, bgdfu.WithMaxRetries(*e.MaxRetries))
	}
	if e.RetryJitter.Duration != 0 {
		opts = append(opts, bgdfu.WithRetryJitter(e.RetryJitter.Duration))
	}
	if e.BitmapCapacity != 0 {
		opts = append(opts, bgdfu.WithBitmapCapacity(e.BitmapCapacity))
	}
	if e.ResponseTimeout.Duration != 0 {
		opts = append(opts, bgdfu.WithResponseTimeout(e.ResponseTimeout.Duration))
	}
	if e.ResetDelay.Duration != 0 {
		opts = append(opts, bgdfu.WithResetDelay(e.ResetDelay.Duration))
	}
	if e.MaxInitCmdSize != 0 || e.MaxFirmwareSize != 0 {
		maxInit, maxImage := e.MaxInitCmdSize, e.MaxFirmwareSize
		if maxInit == 0 {
			maxInit = bgdfu.DefaultMaxInitCmdSize
		}
		if maxImage == 0 {
			maxImage = bgdfu.DefaultMaxFirmwareSize
		}
		opts = append(opts, bgdfu.WithLimits(maxInit, maxImage))
	}
	switch {
	case e.InstalledVersion != nil:
		opts = append(opts, bgdfu.WithVersionPolicy(bgdfu.NewerThan(*e.InstalledVersion)))
	case e.MinVersion != 0:
		opts = append(opts, bgdfu.WithVersionPolicy(bgdfu.MinimumVersion(e.MinVersion)))
	}
	if e.BuildID != 0 {
		opts = append(opts, bgdfu.WithBuildID(e.BuildID))
	}
	return opts
}

// Validate checks the file against the engine's own validation.
func (c *Config) Validate() error {
	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud: invalid value %d", c.Serial.Baud)
	}
	cfg := bgdfu.DefaultConfig()
	for _, opt := range c.Engine.Options() {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.InstalledVersion != nil && c.Engine.MinVersion != 0 {
		return errInstalledAndMin
	}
	return nil
}

var errInstalledAndMin = errors.New("engine: min_version and installed_version are mutually exclusive")
