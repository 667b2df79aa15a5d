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

package testing

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-bgdfu/internal/syncutil"
)

// JitterConfig configures the behavior of JitteryLink.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	// NoiseRate is the probability of inserting a random byte before a read.
	NoiseRate float64
	// CorruptRate is the probability of flipping one bit of a read.
	CorruptRate   float64
	Seed          uint64
	FragmentReads bool
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       2 * time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryLink wraps a serial style byte stream and delivers reads late, in
// fragments, with line noise and flipped bits. Writes pass through.
type JitteryLink struct {
	backend io.ReadWriteCloser
	rng     *rand.Rand
	readBuf []byte
	config  JitterConfig
	mu      syncutil.Mutex
}

// NewJitteryLink wraps backend with jitter simulation.
func NewJitteryLink(backend io.ReadWriteCloser, config JitterConfig) *JitteryLink {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryLink{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
		readBuf: make([]byte, 0, 1024),
	}
}

// Write passes writes through to the backend without modification.
func (j *JitteryLink) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Close closes the backend.
func (j *JitteryLink) Close() error {
	return j.backend.Close() //nolint:wrapcheck // Pass-through wrapper
}

// Read reads from the backend with simulated jitter and fragmentation.
func (j *JitteryLink) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if delay := j.latency(); delay > 0 {
		time.Sleep(delay)
	}

	j.mu.Lock()
	empty := len(j.readBuf) == 0
	j.mu.Unlock()
	if empty {
		tmp := make([]byte, 1024)
		n, err := j.backend.Read(tmp)
		if n == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.mu.Lock()
		j.readBuf = append(j.readBuf, j.damage(tmp[:n])...)
		j.mu.Unlock()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	toReturn := min(len(j.readBuf), len(buf))
	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}
	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	return toReturn, nil
}

func (j *JitteryLink) latency() time.Duration {
	if j.config.MaxLatency <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
}

// damage applies the noise and corruption model to a backend read. Called
// with mu held.
func (j *JitteryLink) damage(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	if j.config.NoiseRate > 0 && j.rng.Float64() < j.config.NoiseRate {
		out = append(out, byte(j.rng.IntN(256)))
	}
	out = append(out, data...)
	if j.config.CorruptRate > 0 && j.rng.Float64() < j.config.CorruptRate {
		i := j.rng.IntN(len(out))
		out[i] ^= 1 << j.rng.IntN(8)
	}
	return out
}

// ClearBuffer clears any buffered read data.
func (j *JitteryLink) ClearBuffer() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.readBuf = j.readBuf[:0]
}
