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
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/daviszhen/chunksort/pkg/util"
)

// deviceGroupSize is how many logical work items one pooled task runs,
// the counterpart of a kernel work group.
const deviceGroupSize = 1024

// Device executes the compare-exchange stages. Each Launch is one
// stage: a wave of data-parallel work items with no ordering inside
// the wave and a full barrier at the end. Stage k+1 must not start
// before stage k completed, since it depends on all of stage k's swaps
// being visible.
type Device struct {
	_pool *ants.Pool
}

func NewDevice(workers int) (*Device, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Device{_pool: pool}, nil
}

func (dev *Device) Close() {
	dev._pool.Release()
}

// Launch runs kernel for every tid in [0, nThreads) and returns after
// the whole wave finished. A panic inside the kernel is reported as an
// error instead of tearing the process down; the caller translates it
// into a chunk status.
func (dev *Device) Launch(ctx context.Context, nThreads int32, kernel func(tid int32)) error {
	if nThreads <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	var panicErr atomic.Value
	runGroup := func(lo, hi int32) {
		defer wg.Done()
		defer func() {
			if v := recover(); v != nil {
				err := util.ConvertPanicError(v)
				util.Error("kernel panic", zap.Error(err))
				panicErr.CompareAndSwap(nil, err)
			}
		}()
		for tid := lo; tid < hi; tid++ {
			kernel(tid)
		}
	}

	for lo := int32(0); lo < nThreads; lo += deviceGroupSize {
		hi := lo + deviceGroupSize
		if hi > nThreads {
			hi = nThreads
		}
		wg.Add(1)
		lo, hi := lo, hi
		if err := dev._pool.Submit(func() { runGroup(lo, hi) }); err != nil {
			// pool closed. run inline so the barrier still resolves.
			runGroup(lo, hi)
		}
	}
	wg.Wait()

	if v := panicErr.Load(); v != nil {
		return v.(error)
	}
	return ctx.Err()
}
