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

package chunk

import (
	"sync/atomic"

	"github.com/daviszhen/chunksort/pkg/util"
)

// ToastBuf is the variable-length payload arena paired with a sort
// chunk. Wide column slots hold {offset,length} references into it.
// Source arenas are never mutated during a merge. Only destination
// arenas accept appends.
type ToastBuf struct {
	_data []byte
	_used atomic.Int64
}

func NewToastBuf(capacity int, alloc util.BytesAllocator) *ToastBuf {
	tb := &ToastBuf{
		_data: alloc.Alloc(capacity),
	}
	return tb
}

func (tb *ToastBuf) Capacity() int {
	return len(tb._data)
}

func (tb *ToastBuf) Used() int {
	return int(tb._used.Load())
}

// Reserve claims sz bytes and returns the starting offset.
// Many workers may reserve concurrently.
func (tb *ToastBuf) Reserve(sz int) (uint64, error) {
	for {
		cur := tb._used.Load()
		if cur+int64(sz) > int64(len(tb._data)) {
			return 0, ErrNoSpace
		}
		if tb._used.CompareAndSwap(cur, cur+int64(sz)) {
			return uint64(cur), nil
		}
	}
}

// ReservePrefix claims space for as many of the given payload sizes as
// fit, in order. It returns the number of payloads admitted and the
// starting offset of the claimed region.
func (tb *ToastBuf) ReservePrefix(sizes []int) (int, uint64, error) {
	total := 0
	for {
		cur := tb._used.Load()
		free := int64(len(tb._data)) - cur
		fit := 0
		total = 0
		for _, sz := range sizes {
			if int64(total+sz) > free {
				break
			}
			total += sz
			fit++
		}
		if fit == 0 && len(sizes) > 0 && sizes[0] > 0 {
			return 0, 0, ErrNoSpace
		}
		if tb._used.CompareAndSwap(cur, cur+int64(total)) {
			return fit, uint64(cur), nil
		}
	}
}

func (tb *ToastBuf) Write(ofs uint64, payload []byte) {
	copy(tb._data[ofs:], payload)
}

func (tb *ToastBuf) Bytes(ofs uint64, ln uint32) []byte {
	return tb._data[ofs : ofs+uint64(ln)]
}

func (tb *ToastBuf) Reset() {
	tb._used.Store(0)
}
