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
	"sync/atomic"

	"github.com/daviszhen/chunksort/pkg/chunk"
	"github.com/daviszhen/chunksort/pkg/util"
)

type ChunkState int32

const (
	CS_BUILDING ChunkState = iota
	CS_SORTING
	CS_SORTED
	CS_MERGING
	CS_CONSUMED
)

func (s ChunkState) String() string {
	switch s {
	case CS_BUILDING:
		return "building"
	case CS_SORTING:
		return "sorting"
	case CS_SORTED:
		return "sorted"
	case CS_MERGING:
		return "merging"
	case CS_CONSUMED:
		return "consumed"
	default:
		return "invalid"
	}
}

// Handle is the host-side wrapper of one device chunk. Lifecycle:
// BUILDING -> SORTING -> SORTED -> MERGING -> CONSUMED, with merge
// outputs entering at MERGING and becoming SORTED.
type Handle struct {
	_id    uint32
	_chunk *chunk.Chunk
	_state atomic.Int32
}

func newHandle(id uint32, c *chunk.Chunk, state ChunkState) *Handle {
	h := &Handle{
		_id:    id,
		_chunk: c,
	}
	h._state.Store(int32(state))
	return h
}

func (h *Handle) Id() uint32 {
	return h._id
}

func (h *Handle) Chunk() *chunk.Chunk {
	return h._chunk
}

func (h *Handle) State() ChunkState {
	return ChunkState(h._state.Load())
}

func (h *Handle) toState(next ChunkState) {
	cur := h.State()
	util.AssertFunc(legalTransition(cur, next))
	h._state.Store(int32(next))
}

func legalTransition(cur, next ChunkState) bool {
	switch cur {
	case CS_BUILDING:
		return next == CS_SORTING
	case CS_SORTING:
		return next == CS_SORTED
	case CS_SORTED:
		return next == CS_MERGING || next == CS_CONSUMED
	case CS_MERGING:
		return next == CS_CONSUMED || next == CS_SORTED
	default:
		return false
	}
}
