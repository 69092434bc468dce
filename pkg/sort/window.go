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
	"sync/atomic"
)

// Window is the admission-controlled pool of device buffer slots.
// Whoever wants a chunk device-resident acquires a slot first and
// releases it once the chunk moves back to the host or is consumed,
// so no more than the configured number of chunks is ever resident.
type Window struct {
	_slots chan struct{}
	_inUse atomic.Int32
	_high  atomic.Int32
}

func NewWindow(size int) *Window {
	w := &Window{
		_slots: make(chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		w._slots <- struct{}{}
	}
	return w
}

func (w *Window) Size() int {
	return cap(w._slots)
}

func (w *Window) Acquire(ctx context.Context) error {
	select {
	case <-w._slots:
	case <-ctx.Done():
		return ctx.Err()
	}
	cur := w._inUse.Add(1)
	for {
		high := w._high.Load()
		if cur <= high || w._high.CompareAndSwap(high, cur) {
			return nil
		}
	}
}

func (w *Window) Release() {
	w._inUse.Add(-1)
	w._slots <- struct{}{}
}

func (w *Window) InUse() int {
	return int(w._inUse.Load())
}

// HighWater reports the most slots ever held at once, for tests and
// diagnostics.
func (w *Window) HighWater() int {
	return int(w._high.Load())
}
