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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bgdfu "github.com/ZaparooProject/go-bgdfu"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bgdfu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func apply(opts []bgdfu.Option) bgdfu.Config {
	cfg := bgdfu.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, `
serial:
  port: /dev/ttyUSB1
  baud: 57600
staging_dir: /var/lib/bgdfu
journal: /var/log/bgdfu.cbor
session_log_dir: /tmp/bgdfu-logs
debug: true
engine:
  block_size: 128
  max_retries: 5
  retry_jitter: 100ms
  bitmap_capacity: 64
  response_timeout: 3s
  reset_delay: 1s
  max_init_cmd_size: 512
  max_firmware_size: 65536
  min_version: 2
  build_id: 3054
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.Equal(t, "/var/lib/bgdfu", cfg.StagingDir)
	assert.Equal(t, "/var/log/bgdfu.cbor", cfg.Journal)
	assert.Equal(t, "/tmp/bgdfu-logs", cfg.SessionLogDir)
	assert.True(t, cfg.Debug)

	ec := apply(cfg.Engine.Options())
	assert.Equal(t, uint16(128), ec.BlockSize)
	assert.Equal(t, 5, ec.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, ec.RetryJitter)
	assert.Equal(t, 64, ec.BitmapCapacity)
	assert.Equal(t, 3*time.Second, ec.ResponseTimeout)
	assert.Equal(t, time.Second, ec.ResetDelay)
	assert.Equal(t, uint32(512), ec.MaxInitCmdSize)
	assert.Equal(t, uint32(65536), ec.MaxFirmwareSize)
	assert.Equal(t, uint32(3054), ec.BuildID)
	assert.False(t, ec.VersionPolicy(1))
	assert.True(t, ec.VersionPolicy(2))
}

func TestLoad_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeTemp(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, cfg.Serial.Baud)
	assert.Equal(t, DefaultStagingDir, cfg.StagingDir)
	assert.Empty(t, cfg.Engine.Options())

	ec := apply(cfg.Engine.Options())
	assert.Equal(t, bgdfu.DefaultConfig().BlockSize, ec.BlockSize)
	assert.Equal(t, bgdfu.DefaultMaxRetries, ec.MaxRetries)
}

func TestLoad_ZeroRetries(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeTemp(t, "engine:\n  max_retries: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, apply(cfg.Engine.Options()).MaxRetries)
}

func TestLoad_InstalledVersion(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeTemp(t, "engine:\n  installed_version: 3\n"))
	require.NoError(t, err)
	policy := apply(cfg.Engine.Options()).VersionPolicy
	assert.False(t, policy(3))
	assert.True(t, policy(4))
}

func TestLoad_SingleLimit(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeTemp(t, "engine:\n  max_firmware_size: 2048\n"))
	require.NoError(t, err)
	ec := apply(cfg.Engine.Options())
	assert.Equal(t, uint32(bgdfu.DefaultMaxInitCmdSize), ec.MaxInitCmdSize)
	assert.Equal(t, uint32(2048), ec.MaxFirmwareSize)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errIs   error
		errMsg  string
	}{
		{name: "bad yaml", content: "serial: [", errMsg: "invalid YAML"},
		{name: "bad duration", content: "engine:\n  response_timeout: soon\n", errMsg: "invalid duration"},
		{name: "negative duration", content: "engine:\n  reset_delay: -1s\n", errMsg: "negative"},
		{name: "block too large", content: "engine:\n  block_size: 4096\n", errIs: bgdfu.ErrInvalidConfig},
		{name: "bitmap not multiple of 8", content: "engine:\n  bitmap_capacity: 12\n", errIs: bgdfu.ErrInvalidConfig},
		{name: "negative retries", content: "engine:\n  max_retries: -1\n", errIs: bgdfu.ErrInvalidConfig},
		{name: "both version policies", content: "engine:\n  min_version: 2\n  installed_version: 1\n", errMsg: "mutually exclusive"},
		{name: "negative baud", content: "serial:\n  baud: -9600\n", errMsg: "serial.baud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeTemp(t, tt.content))
			require.Error(t, err)
			if tt.errIs != nil {
				require.ErrorIs(t, err, tt.errIs)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

//nolint:paralleltest // t.Setenv is incompatible with t.Parallel
func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("BGDFU_TEST_PORT", "/dev/ttyACM0")
	path := writeTemp(t, "serial:\n  port: ${BGDFU_TEST_PORT}\nstaging_dir: ${BGDFU_TEST_UNSET:-/tmp/stage}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, "/tmp/stage", cfg.StagingDir)
}

//nolint:paralleltest // t.Setenv is incompatible with t.Parallel
func TestExpandEnv(t *testing.T) {
	t.Setenv("BGDFU_SET", "value")
	t.Setenv("BGDFU_EMPTY", "")

	tests := []struct {
		input string
		want  string
	}{
		{input: "${BGDFU_SET}", want: "value"},
		{input: "${BGDFU_SET:-other}", want: "value"},
		{input: "${BGDFU_EMPTY:-fallback}", want: "fallback"},
		{input: "${BGDFU_NOT_SET_ANYWHERE}", want: ""},
		{input: "a-${BGDFU_SET}-b", want: "a-value-b"},
		{input: "$BGDFU_SET", want: "$BGDFU_SET"},
		{input: "no vars", want: "no vars"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandEnv(tt.input), tt.input)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBaudRate, cfg.Serial.Baud)
	assert.Equal(t, DefaultStagingDir, cfg.StagingDir)
}
