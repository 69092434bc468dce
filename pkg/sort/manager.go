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
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/huandu/go-clone"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/chunksort/pkg/chunk"
	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/storage"
	"github.com/daviszhen/chunksort/pkg/util"
)

// Manager owns the chunk pool and drives a whole sort job: loading
// rows into chunks, sorting each chunk on the device, then reducing
// the per-chunk runs pairwise until one run holds every row. Device
// residency is bounded by the window: one slot while a chunk builds or
// sorts, four while a pair merges (two sources, two destinations).
type Manager struct {
	_opts    util.EngineOptions
	_types   []common.TypeId
	_colMask uint64
	_cmp     Comparator

	_dev    *Device
	_window *Window
	_alloc  util.BytesAllocator

	// _lock guards _runs and _free. sortChunk goroutines publish runs
	// concurrently with the builder loop allocating chunks.
	_lock *util.ReentryLock
	_runs *btree.BTreeG[*Run]
	_free []*chunk.Chunk

	_nextRun atomic.Uint64
	_nextChk atomic.Uint32
}

func NewManager(opts util.EngineOptions, types []common.TypeId, colMask uint64, cmp Comparator) (*Manager, error) {
	cfg := util.Config{Engine: opts}
	cfg.Validate()
	opts = cfg.Engine
	util.AssertFunc(len(types) != 0 && cmp != nil)

	dev, err := NewDevice(opts.Workers)
	if err != nil {
		return nil, err
	}
	mgr := &Manager{
		_opts:    opts,
		_types:   clone.Clone(types).([]common.TypeId),
		_colMask: colMask,
		_cmp:     cmp,
		_dev:     dev,
		_window:  NewWindow(opts.WindowSize),
		_alloc:   util.GAlloc,
		_lock:    util.NewReentryLock(),
		_runs:    btree.NewBTreeG[*Run](runLess),
	}
	return mgr, nil
}

func (mgr *Manager) Close() {
	mgr._dev.Close()
}

func (mgr *Manager) Window() *Window {
	return mgr._window
}

// Sort loads every row src yields, sorts them under the manager's
// comparator and returns the single run holding the result. Any chunk
// fault, load error or context cancellation fails the whole job.
func (mgr *Manager) Sort(ctx context.Context, src storage.RowSource) (*Run, error) {
	if err := mgr.buildRuns(ctx, src); err != nil {
		return nil, err
	}
	return mgr.reduceRuns(ctx)
}

// buildRuns pulls batches from src into chunks. A full chunk is sealed
// and handed to a sorting goroutine; each sorted chunk becomes a
// single-chunk run. The building chunk and every in-flight sorting
// chunk hold one window slot each, so admission already bounds
// residency here.
func (mgr *Manager) buildRuns(ctx context.Context, src storage.RowSource) error {
	g, gctx := errgroup.WithContext(ctx)

	var cur *Handle
	var bld *chunk.Builder
	flush := func() {
		h := cur
		cur, bld = nil, nil
		h.toState(CS_SORTING)
		g.Go(func() error {
			return mgr.sortChunk(gctx, h)
		})
	}
	fail := func(err error) error {
		if cur != nil {
			mgr._window.Release()
			cur = nil
		}
		if werr := g.Wait(); werr != nil {
			return werr
		}
		return err
	}

	for {
		batch, err := src.Next(gctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}
		off := 0
		for off < batch.Len() {
			if cur == nil {
				h, herr := mgr.newBuildHandle(gctx)
				if herr != nil {
					return fail(herr)
				}
				cur = h
				bld = chunk.NewBuilder(h.Chunk(), mgr._colMask)
			}
			n, aerr := appendBatch(bld, batch, off)
			off += n
			if aerr == nil {
				continue
			}
			if errors.Is(aerr, chunk.ErrNoSpace) {
				if n == 0 && cur.Chunk().Rows() == 0 {
					return fail(fmt.Errorf("single row exceeds chunk capacity: %w", aerr))
				}
				flush()
				continue
			}
			return fail(aerr)
		}
	}
	if cur != nil {
		flush()
	}
	return g.Wait()
}

func appendBatch(bld *chunk.Builder, batch *storage.Batch, off int) (int, error) {
	base := batch.BaseOffset + uint32(off)
	if batch.Cols != nil {
		cols := make([][]common.Value, len(batch.Cols))
		for i, col := range batch.Cols {
			cols[i] = col[off:]
		}
		return bld.AppendColumns(batch.Ordinal, base, cols)
	}
	return bld.AppendRows(batch.Ordinal, base, batch.Rows[off:])
}

func (mgr *Manager) newBuildHandle(ctx context.Context) (*Handle, error) {
	if err := mgr._window.Acquire(ctx); err != nil {
		return nil, err
	}
	h := newHandle(mgr._nextChk.Add(1), mgr.takeChunk(), CS_BUILDING)
	util.Debug("chunk building", zap.Uint32("chunk", h.Id()))
	return h, nil
}

func (mgr *Manager) newDestHandle(ctx context.Context) (*Handle, error) {
	if err := mgr._window.Acquire(ctx); err != nil {
		return nil, err
	}
	return newHandle(mgr._nextChk.Add(1), mgr.takeChunk(), CS_MERGING), nil
}

func (mgr *Manager) takeChunk() *chunk.Chunk {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	if n := len(mgr._free); n > 0 {
		c := mgr._free[n-1]
		mgr._free = mgr._free[:n-1]
		c.Reset()
		return c
	}
	return chunk.NewChunk(mgr._types, mgr._opts.ChunkCapacity, mgr._opts.ToastCapacity, mgr._alloc)
}

func (mgr *Manager) recycle(c *chunk.Chunk) {
	// a poisoned buffer is never reused
	if c.Status() != chunk.StatusSuccess {
		return
	}
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	mgr._free = append(mgr._free, c)
}

func (mgr *Manager) sortChunk(ctx context.Context, h *Handle) error {
	err := SortChunk(ctx, mgr._dev, h.Chunk(), mgr._cmp)
	if err != nil {
		mgr._window.Release()
		util.Error("chunk sort failed", zap.Uint32("chunk", h.Id()), zap.Error(err))
		return err
	}
	h.toState(CS_SORTED)
	// sorted chunk goes back to the host; its slot frees up
	mgr._window.Release()
	r := newRun(mgr._nextRun.Add(1))
	r._node = leafNode(r.Id(), h.Chunk().Rows())
	r.pushBack(h)
	mgr.addRun(r)
	util.Debug("chunk sorted",
		zap.Uint32("chunk", h.Id()),
		zap.Int("rows", h.Chunk().Rows()))
	return nil
}

func (mgr *Manager) addRun(r *Run) {
	mgr._lock.Lock()
	defer mgr._lock.Unlock()
	mgr._runs.Set(r)
}

// reduceRuns repeatedly merges the two smallest runs until one is
// left. Picking the smallest pair keeps the merge tree balanced, so
// every row moves O(log runs) times.
func (mgr *Manager) reduceRuns(ctx context.Context) (*Run, error) {
	for {
		mgr._lock.Lock()
		if mgr._runs.Len() <= 1 {
			final, ok := mgr._runs.PopMin()
			mgr._lock.Unlock()
			if !ok {
				return newRun(mgr._nextRun.Add(1)), nil
			}
			return final, nil
		}
		a, _ := mgr._runs.PopMin()
		b, _ := mgr._runs.PopMin()
		mgr._lock.Unlock()

		merged, err := mgr.mergeRuns(ctx, a, b)
		if err != nil {
			return nil, err
		}
		mgr.addRun(merged)
	}
}

// mergeRuns merges two runs chunk-pair-wise, carrying the upper half
// of each pairwise merge into the next one. The lower half z0 is
// final: both inputs of a pairwise merge hold the smallest unmerged
// rows of their chains, so nothing later can sort below z0's last row.
// Once a chain empties, the carry drains down the remainder; whatever
// is left after that is already sorted and strictly after everything
// emitted.
func (mgr *Manager) mergeRuns(ctx context.Context, a, b *Run) (*Run, error) {
	out := newRun(mgr._nextRun.Add(1))
	out._node = &mergeNode{
		label: fmt.Sprintf("run %d (merge of %d+%d rows)", out.Id(), a.Rows(), b.Rows()),
		kids:  []*mergeNode{a._node, b._node},
	}

	var carry *Handle
	for a.ChunkCount() > 0 && b.ChunkCount() > 0 {
		var x, y *Handle
		var err error
		if carry == nil {
			if x, err = mgr.popResident(ctx, a); err != nil {
				return nil, err
			}
			if y, err = mgr.popResident(ctx, b); err != nil {
				mgr._window.Release()
				return nil, err
			}
		} else {
			x = carry
			carry = nil
			if y, err = mgr.popSmallerHead(ctx, a, b); err != nil {
				mgr._window.Release()
				return nil, err
			}
		}
		z0, z1, err := mgr.mergePair(ctx, x, y)
		if err != nil {
			return nil, err
		}
		mgr.emit(out, z0)
		if z1.Chunk().Rows() == 0 {
			mgr.discard(z1)
		} else {
			carry = z1
		}
	}

	rest := a
	if rest.ChunkCount() == 0 {
		rest = b
	}
	for carry != nil && rest.ChunkCount() > 0 {
		y, err := mgr.popResident(ctx, rest)
		if err != nil {
			mgr._window.Release()
			return nil, err
		}
		x := carry
		carry = nil
		z0, z1, err := mgr.mergePair(ctx, x, y)
		if err != nil {
			return nil, err
		}
		mgr.emit(out, z0)
		if z1.Chunk().Rows() == 0 {
			mgr.discard(z1)
		} else {
			carry = z1
		}
	}
	if carry != nil {
		mgr.emit(out, carry)
	}
	// chunks never paired with the carry stay host-resident and move
	// over unchanged
	for rest.ChunkCount() > 0 {
		out.pushBack(rest.popFront())
	}
	return out, nil
}

// popResident takes a run's head chunk onto the device.
func (mgr *Manager) popResident(ctx context.Context, r *Run) (*Handle, error) {
	if err := mgr._window.Acquire(ctx); err != nil {
		return nil, err
	}
	return r.popFront(), nil
}

// popSmallerHead picks the run whose head chunk holds the smaller
// first row; merging the carry with that head keeps z0 final.
func (mgr *Manager) popSmallerHead(ctx context.Context, a, b *Run) (*Handle, error) {
	ca := a.headHandle().Chunk()
	cb := b.headHandle().Chunk()
	src := a
	if mgr._cmp(ca, ca.Toast(), ca.Perm()[0], cb, cb.Toast(), cb.Perm()[0]) > 0 {
		src = b
	}
	return mgr.popResident(ctx, src)
}

func (mgr *Manager) mergePair(ctx context.Context, x, y *Handle) (*Handle, *Handle, error) {
	x.toState(CS_MERGING)
	y.toState(CS_MERGING)
	z0, err := mgr.newDestHandle(ctx)
	if err != nil {
		mgr._window.Release()
		mgr._window.Release()
		return nil, nil, err
	}
	z1, err := mgr.newDestHandle(ctx)
	if err != nil {
		mgr._window.Release()
		mgr._window.Release()
		mgr._window.Release()
		return nil, nil, err
	}

	err = MergeChunks(ctx, mgr._dev, x.Chunk(), y.Chunk(), z0.Chunk(), z1.Chunk(), mgr._cmp)
	if err != nil {
		for i := 0; i < 4; i++ {
			mgr._window.Release()
		}
		util.Error("chunk merge failed",
			zap.Uint32("x", x.Id()), zap.Uint32("y", y.Id()), zap.Error(err))
		return nil, nil, err
	}

	x.toState(CS_CONSUMED)
	y.toState(CS_CONSUMED)
	mgr.recycle(x.Chunk())
	mgr.recycle(y.Chunk())
	mgr._window.Release()
	mgr._window.Release()

	z0.toState(CS_SORTED)
	z1.toState(CS_SORTED)
	return z0, z1, nil
}

// emit moves a finished chunk off the device into the output run.
func (mgr *Manager) emit(out *Run, h *Handle) {
	out.pushBack(h)
	mgr._window.Release()
}

func (mgr *Manager) discard(h *Handle) {
	h.toState(CS_CONSUMED)
	mgr.recycle(h.Chunk())
	mgr._window.Release()
}
