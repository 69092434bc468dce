// Copyright 2024-2025 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sort

import (
	"context"

	"go.uber.org/zap"

	"github.com/daviszhen/chunksort/pkg/chunk"
	"github.com/daviszhen/chunksort/pkg/util"
)

// A stage is selected by a signed unit token: the magnitude is the
// log2 of the compare-exchange span, a negative sign picks the
// reversed pairing that builds the bitonic sequence, a positive sign
// the plain half-distance pairing that merges it.
func unitToken(unitsz int32, reversing bool) int32 {
	tok := int32(util.Log2(uint64(unitsz)))
	if reversing {
		return -tok
	}
	return tok
}

func decodeUnit(token int32) (int32, bool) {
	if token < 0 {
		return int32(1) << uint(-token), true
	}
	return int32(1) << uint(token), false
}

// pairOf computes the two slots owned by one work item. idx0 always
// sits in the lower half of its unit, so idx0 < idx1.
func pairOf(tid, unitsz int32, reversing bool) (int32, int32) {
	half := unitsz / 2
	mask := unitsz - 1
	idx0 := (tid/half)*unitsz + tid%half
	if reversing {
		return idx0, (idx0 &^ mask) | (^idx0 & mask)
	}
	return idx0, idx0 + half
}

// sortStageKernel is one compare-exchange stage over the permutation
// array of a single resident chunk. Entries at and beyond nrows do
// not exist; a pair reaching past them is a no-op.
func sortStageKernel(c *chunk.Chunk, cmp Comparator, token int32) func(tid int32) {
	unitsz, reversing := decodeUnit(token)
	nrows := int32(c.Rows())
	perm := c.Perm()
	toast := c.Toast()
	return func(tid int32) {
		idx0, idx1 := pairOf(tid, unitsz, reversing)
		if nrows <= idx1 {
			return
		}
		pos0 := perm[idx0]
		pos1 := perm[idx1]
		if cmp(c, toast, pos0, c, toast, pos1) > 0 {
			perm[idx0] = pos1
			perm[idx1] = pos0
		}
	}
}

// SortChunk fully orders the nrows valid permutation entries of one
// chunk under cmp. Entries in [nrows, capacity) are left untouched.
// One Launch per network stage; the host re-checks the status word at
// every stage boundary and never runs a dependent stage on a faulted
// chunk.
func SortChunk(ctx context.Context, dev *Device, c *chunk.Chunk, cmp Comparator) error {
	if st := c.Status(); st != chunk.StatusSuccess {
		return st.Err()
	}
	nrows := c.Rows()
	if nrows <= 1 {
		return nil
	}
	if fault := util.Check(util.FAULTS_SCOPE_SORT, "stage"); fault != nil {
		if err := fault.Action(fault.Args); err != nil {
			c.PutStatus(chunk.StatusMemoryFault)
			return chunk.ErrMemoryFault
		}
	}

	n := int32(util.NextPowerOfTwo(uint64(nrows)))
	threads := n / 2
	for size := int32(2); size <= n; size <<= 1 {
		if err := runSortStage(ctx, dev, c, cmp, threads, unitToken(size, true)); err != nil {
			return err
		}
		for u := size / 2; u >= 2; u /= 2 {
			if err := runSortStage(ctx, dev, c, cmp, threads, unitToken(u, false)); err != nil {
				return err
			}
		}
	}
	return nil
}

func runSortStage(ctx context.Context, dev *Device, c *chunk.Chunk, cmp Comparator,
	threads int32, token int32) error {
	err := dev.Launch(ctx, threads, sortStageKernel(c, cmp, token))
	if err != nil {
		util.Debug("sort stage failed", zap.Int32("token", token), zap.Error(err))
		c.PutStatus(chunk.StatusMemoryFault)
	}
	if st := c.Status(); st != chunk.StatusSuccess {
		return st.Err()
	}
	return err
}
