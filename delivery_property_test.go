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

package bgdfu_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/ZaparooProject/go-bgdfu"
	dfutest "github.com/ZaparooProject/go-bgdfu/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeliveryOrder_Property runs transfers over a link that drops, repeats
// and reorders responses. Every run must either install the exact images or
// abort on a timeout, and the counters must agree with what was delivered.
func TestDeliveryOrder_Property(t *testing.T) {
	t.Parallel()

	for seed := uint64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*31)) //nolint:gosec // Test code, not crypto

		initCmd := randomImage(rng, 1+rng.IntN(300))
		fw := randomImage(rng, 1+rng.IntN(5000))
		blockSize := uint16(16 << rng.IntN(4))

		opts := []dfutest.SimOption{dfutest.WithFaults(dfutest.Faults{
			Seed:          seed,
			DropRate:      rng.Float64() * 0.3,
			DuplicateRate: rng.Float64() * 0.3,
			ReorderRate:   rng.Float64() * 0.5,
		})}
		multicast := rng.IntN(2) == 0
		if multicast {
			opts = append(opts, dfutest.WithMode(bgdfu.ModeMulticast, false))
		}
		if rng.IntN(2) == 0 {
			opts = append(opts, dfutest.WithBulk())
		}

		sim := dfutest.NewSimulator(initCmd, fw, opts...)
		inst := dfutest.NewRecordingInstaller()
		e, err := bgdfu.New(sim, inst,
			bgdfu.WithBlockSize(blockSize),
			bgdfu.WithRetryJitter(0),
			bgdfu.WithMaxRetries(6),
			bgdfu.WithBitmapCapacity(8*(1+rng.IntN(4))),
		)
		require.NoError(t, err)

		require.NoError(t, e.HandleTrigger(sim.RawTrigger(), sim.Remote()), "seed %d", seed)
		res, err := sim.Pump(e, 0)
		diag := e.Diagnostics()

		if err != nil {
			require.True(t, errors.Is(err, bgdfu.ErrTransportTimeout), "seed %d: %v", seed, err)
			assert.Equal(t, bgdfu.StateIdle, res.Final, "seed %d", seed)
			assert.Zero(t, inst.Commits(), "seed %d", seed)
		} else {
			assert.Equal(t, bgdfu.StateIdle, res.Final, "seed %d", seed)
			assert.Equal(t, initCmd, inst.InitCmd(), "seed %d", seed)
			assert.Equal(t, fw, inst.Firmware(), "seed %d", seed)
			assert.Equal(t, 1, inst.Commits(), "seed %d", seed)
			assert.Equal(t, bgdfu.BlockCount(uint32(len(initCmd)), blockSize), diag.TotalInitBlocksReceived, "seed %d", seed)
			assert.Equal(t, bgdfu.BlockCount(uint32(len(fw)), blockSize), diag.TotalImageBlocksReceived, "seed %d", seed)
		}

		// pushed multicast blocks are received without being requested
		if !multicast {
			assert.LessOrEqual(t, diag.TotalInitBlocksReceived, diag.InitBlocksRequested, "seed %d", seed)
			assert.LessOrEqual(t, diag.TotalImageBlocksReceived, diag.ImageBlocksRequested, "seed %d", seed)
		}
		assert.Equal(t, uint32(1), diag.TriggersReceived, "seed %d", seed)

		for _, snap := range sim.States() {
			assert.LessOrEqual(t, uint8(snap.State), uint8(bgdfu.StateWaitForReset), "seed %d", seed)
		}
	}
}

func randomImage(rng *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rng.IntN(256))
	}
	return buf
}
