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

	"github.com/daviszhen/chunksort/pkg/chunk"
	"github.com/daviszhen/chunksort/pkg/util"
)

// mergeSpace is the logical index space of one pairwise merge: the
// permutation arrays of X and Y concatenated and padded with EMPTY up
// to N entries, the split point N/2 separating X-space from Y-space.
// A value v addresses row v of X when v < N/2, row v-N/2 of Y when
// v < N, and no row at all when v == N.
type mergeSpace struct {
	x, y  *chunk.Chunk
	xPerm []int32
	yPerm []int32
	n2    int32
	n     int32
	xRows int32
	yRows int32
}

func newMergeSpace(x, y *chunk.Chunk) *mergeSpace {
	a := int32(x.Rows())
	b := int32(y.Rows())
	longest := a
	if b > longest {
		longest = b
	}
	if longest == 0 {
		longest = 1
	}
	n2 := int32(util.NextPowerOfTwo(uint64(longest)))
	return &mergeSpace{
		x:     x,
		y:     y,
		xPerm: x.Perm(),
		yPerm: y.Perm(),
		n2:    n2,
		n:     2 * n2,
		xRows: a,
		yRows: b,
	}
}

func (ms *mergeSpace) slot(i int32) *int32 {
	if i < ms.n2 {
		return &ms.xPerm[i]
	}
	return &ms.yPerm[i-ms.n2]
}

// resolve maps a merged-space value to the chunk and row it names.
// Callers must have ruled out the EMPTY sentinel first.
func (ms *mergeSpace) resolve(pos int32) (*chunk.Chunk, int32) {
	if pos < ms.n2 {
		return ms.x, pos
	}
	return ms.y, pos - ms.n2
}

// renumberKernel rewrites both permutation arrays into merged-space
// values: X entries keep their positions, Y entries shift by N/2, pad
// slots become the EMPTY sentinel N. It must complete before any
// cross-chunk compare runs.
func (ms *mergeSpace) renumberKernel() func(tid int32) {
	return func(tid int32) {
		if tid < ms.n2 {
			if tid >= ms.xRows {
				ms.xPerm[tid] = ms.n
			}
			return
		}
		j := tid - ms.n2
		if j < ms.yRows {
			ms.yPerm[j] += ms.n2
		} else {
			ms.yPerm[j] = ms.n
		}
	}
}

// mergeStageKernel is one compare-exchange stage over the merged
// space. EMPTY compares greater than any real row, so absent rows
// sink to the end without ever being dereferenced. Only permutation
// entries move here; row payloads are copied once, on the terminal
// stage, to avoid copying data log2(N) times.
func (ms *mergeSpace) mergeStageKernel(cmp Comparator, token int32) func(tid int32) {
	unitsz, reversing := decodeUnit(token)
	return func(tid int32) {
		idx0, idx1 := pairOf(tid, unitsz, reversing)
		s0 := ms.slot(idx0)
		s1 := ms.slot(idx1)
		pos0 := *s0
		pos1 := *s1
		if pos1 >= ms.n {
			return
		}
		if pos0 >= ms.n {
			*s0 = pos1
			*s1 = pos0
			return
		}
		c0, r0 := ms.resolve(pos0)
		c1, r1 := ms.resolve(pos1)
		if cmp(c0, c0.Toast(), r0, c1, c1.Toast(), r1) > 0 {
			*s0 = pos1
			*s1 = pos0
		}
	}
}

// redistributeKernel runs after the exchange phase of the terminal
// stage settled, so reading a neighbor slot for the boundary check is
// race free. For every merged position it copies the winning row into
// its destination chunk, writes the destination permutation entry
// (identity for real rows, the destination's EMPTY for absent ones)
// and sets each destination's nrows exactly once, at the boundary
// transition.
func (ms *mergeSpace) redistributeKernel(z0, z1 *chunk.Chunk) func(tid int32) {
	return func(tid int32) {
		pos := *ms.slot(tid)
		cpd := tid
		dst := z0
		if tid >= ms.n2 {
			cpd = tid - ms.n2
			dst = z1
		}
		if pos < ms.n {
			src, srcRow := ms.resolve(pos)
			if err := dst.CopyRowFrom(int(cpd), src, int(srcRow)); err != nil {
				dst.PutStatus(chunk.StatusNoSpace)
				return
			}
			dst.Perm()[cpd] = cpd
			if cpd == ms.n2-1 {
				dst.SetRows(int(ms.n2))
			}
			return
		}
		dst.Perm()[cpd] = dst.Empty()
		prevValid := false
		if tid > 0 {
			prevValid = *ms.slot(tid-1) < ms.n
		}
		if cpd == 0 || prevValid {
			dst.SetRows(int(cpd))
		}
	}
}

// MergeChunks merges the two sorted chunks x and y into z0 and z1:
// one sorted sequence split across the destinations in row-major
// order, z0 holding the first N/2 rows. Source toast data is only
// read; destination arenas receive fresh copies. x and y's
// permutation arrays are destroyed in the process, which is fine
// because both chunks are consumed by the merge.
func MergeChunks(ctx context.Context, dev *Device, x, y, z0, z1 *chunk.Chunk, cmp Comparator) error {
	if err := worstStatus(x, y, z0, z1); err != nil {
		return err
	}
	util.AssertFunc(z0.Rows() == 0 && z1.Rows() == 0)

	ms := newMergeSpace(x, y)
	if ms.xRows+ms.yRows == 0 {
		return nil
	}
	util.AssertFunc(int(ms.n2) <= x.Capacity() && int(ms.n2) <= y.Capacity())
	util.AssertFunc(int(ms.n2) <= z0.Capacity() && int(ms.n2) <= z1.Capacity())

	if err := runMergeStage(ctx, dev, ms, x, y, z0, z1, ms.n, ms.renumberKernel()); err != nil {
		return err
	}
	threads := ms.n / 2
	if err := runMergeStage(ctx, dev, ms, x, y, z0, z1, threads,
		ms.mergeStageKernel(cmp, unitToken(ms.n, true))); err != nil {
		return err
	}
	for u := ms.n / 2; u >= 2; u /= 2 {
		if err := runMergeStage(ctx, dev, ms, x, y, z0, z1, threads,
			ms.mergeStageKernel(cmp, unitToken(u, false))); err != nil {
			return err
		}
	}
	if err := runMergeStage(ctx, dev, ms, x, y, z0, z1, ms.n, ms.redistributeKernel(z0, z1)); err != nil {
		return err
	}
	// the redistribution wave only touches merged-space slots; the
	// remaining permutation entries up to capacity hold EMPTY too, so
	// readers can treat every out-of-range slot uniformly.
	util.Fill(z0.Perm()[ms.n2:], z0.Capacity()-int(ms.n2), z0.Empty())
	util.Fill(z1.Perm()[ms.n2:], z1.Capacity()-int(ms.n2), z1.Empty())
	return nil
}

func runMergeStage(ctx context.Context, dev *Device, ms *mergeSpace,
	x, y, z0, z1 *chunk.Chunk, threads int32, kernel func(tid int32)) error {
	if err := dev.Launch(ctx, threads, kernel); err != nil {
		x.PutStatus(chunk.StatusMemoryFault)
		return err
	}
	return worstStatus(x, y, z0, z1)
}

func worstStatus(chunks ...*chunk.Chunk) error {
	worst := chunk.StatusSuccess
	for _, c := range chunks {
		if st := c.Status(); st > worst {
			worst = st
		}
	}
	return worst.Err()
}
