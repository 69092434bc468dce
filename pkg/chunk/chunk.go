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
	"unsafe"

	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/util"
)

// ColMeta locates one column inside the chunk's data arena.
type ColMeta struct {
	Typ    common.TypeId
	Ofs    int
	Stride int
}

// Chunk is a fixed-capacity columnar buffer holding a row batch.
// The second-to-last column holds the global record id of each row,
// the last column holds the permutation array the sorter mutates.
// A permutation entry equal to Capacity() means "no such row".
//
// nrows only ever grows. Workers claim disjoint row ranges via
// TryReserve, so no two workers write the same destination row.
type Chunk struct {
	_cap     int
	_colmeta []ColMeta
	_data    []byte
	_toast   *ToastBuf
	_nrows   atomic.Int32
	_status  atomic.Int32
}

func NewChunk(types []common.TypeId, capacity int, toastCap int, alloc util.BytesAllocator) *Chunk {
	util.AssertFunc(capacity > 0 && util.IsPowerOfTwo(uint64(capacity)))
	colTypes := make([]common.TypeId, 0, len(types)+2)
	colTypes = append(colTypes, types...)
	colTypes = append(colTypes, common.TID_RECID, common.TID_INDEX)

	c := &Chunk{
		_cap:     capacity,
		_colmeta: BuildColMeta(colTypes, capacity),
	}
	last := util.Back(c._colmeta)
	c._data = alloc.Alloc(last.Ofs + last.Stride*capacity)
	c._toast = NewToastBuf(toastCap, alloc)
	return c
}

// BuildColMeta lays the columns out back to back, every column start
// 8-byte aligned.
func BuildColMeta(colTypes []common.TypeId, capacity int) []ColMeta {
	metas := make([]ColMeta, 0, len(colTypes))
	ofs := 0
	for _, typ := range colTypes {
		stride := typ.Size()
		metas = append(metas, ColMeta{Typ: typ, Ofs: ofs, Stride: stride})
		ofs = util.AlignValue8(ofs + stride*capacity)
	}
	return metas
}

func (c *Chunk) Capacity() int {
	return c._cap
}

// Empty is the sentinel permutation entry denoting an absent row.
func (c *Chunk) Empty() int32 {
	return int32(c._cap)
}

func (c *Chunk) ColumnCount() int {
	return len(c._colmeta)
}

// UserColumnCount excludes the two synthetic columns.
func (c *Chunk) UserColumnCount() int {
	return len(c._colmeta) - 2
}

func (c *Chunk) ColumnTypes() []common.TypeId {
	types := make([]common.TypeId, 0, c.UserColumnCount())
	for _, meta := range c._colmeta[:c.UserColumnCount()] {
		types = append(types, meta.Typ)
	}
	return types
}

func (c *Chunk) Meta(col int) ColMeta {
	return c._colmeta[col]
}

func (c *Chunk) Toast() *ToastBuf {
	return c._toast
}

func (c *Chunk) Rows() int {
	return int(c._nrows.Load())
}

// SetRows is only called by the merge redistribution step, exactly once
// per destination chunk.
func (c *Chunk) SetRows(n int) {
	util.AssertFunc(n <= c._cap)
	c._nrows.Store(int32(n))
}

// TryReserve claims up to n destination rows and returns the starting
// offset and the number actually claimed. nrows never decreases.
func (c *Chunk) TryReserve(n int) (int, int) {
	for {
		cur := c._nrows.Load()
		free := int32(c._cap) - cur
		if free <= 0 {
			return int(cur), 0
		}
		take := int32(n)
		if take > free {
			take = free
		}
		if c._nrows.CompareAndSwap(cur, cur+take) {
			return int(cur), int(take)
		}
	}
}

func (c *Chunk) CellPtr(col, row int) unsafe.Pointer {
	meta := c._colmeta[col]
	return util.PointerAdd(util.BytesSliceToPointer(c._data), meta.Ofs+meta.Stride*row)
}

// Perm exposes the permutation array, one int32 slot per row position.
func (c *Chunk) Perm() []int32 {
	meta := util.Back(c._colmeta)
	return util.PointerToSlice[int32](
		util.PointerAdd(util.BytesSliceToPointer(c._data), meta.Ofs), c._cap)
}

func (c *Chunk) RecId(row int) uint64 {
	return util.Load[uint64](c.CellPtr(len(c._colmeta)-2, row))
}

func (c *Chunk) SetRecId(row int, id uint64) {
	util.Store[uint64](id, c.CellPtr(len(c._colmeta)-2, row))
}

func (c *Chunk) Status() StatusCode {
	return StatusCode(c._status.Load())
}

// PutStatus records the worst status observed so far. Once a chunk
// carries a failure it is never reused before Reset.
func (c *Chunk) PutStatus(code StatusCode) {
	for {
		cur := c._status.Load()
		if cur >= int32(code) {
			return
		}
		if c._status.CompareAndSwap(cur, int32(code)) {
			return
		}
	}
}

// Reset re-initializes the chunk so its buffers can be recycled as a
// merge destination.
func (c *Chunk) Reset() {
	c._nrows.Store(0)
	c._status.Store(int32(StatusSuccess))
	c._toast.Reset()
}

// CopyRowFrom copies one full row (user columns, toast payload and
// record id) from src into dst position. The permutation entry is left
// to the caller.
func (c *Chunk) CopyRowFrom(row int, src *Chunk, srcRow int) error {
	for col := 0; col < c.UserColumnCount(); col++ {
		meta := c._colmeta[col]
		if meta.Typ.Varlen() {
			srcPtr := src.CellPtr(col, srcRow)
			srcOfs := util.Load[uint64](srcPtr)
			srcLen := util.Load[uint32](util.PointerAdd(srcPtr, 8))
			ofs, err := c._toast.Reserve(int(srcLen))
			if err != nil {
				return err
			}
			c._toast.Write(ofs, src._toast.Bytes(srcOfs, srcLen))
			dstPtr := c.CellPtr(col, row)
			util.Store[uint64](ofs, dstPtr)
			util.Store[uint32](srcLen, util.PointerAdd(dstPtr, 8))
		} else {
			util.PointerCopy(c.CellPtr(col, row), src.CellPtr(col, srcRow), meta.Stride)
		}
	}
	c.SetRecId(row, src.RecId(srcRow))
	return nil
}

// GetValue materializes one cell for host-side consumers.
func (c *Chunk) GetValue(col, row int) common.Value {
	meta := c._colmeta[col]
	ptr := c.CellPtr(col, row)
	switch meta.Typ {
	case common.TID_INT32:
		return common.I32Value(util.Load[int32](ptr))
	case common.TID_INT64:
		return common.I64Value(util.Load[int64](ptr))
	case common.TID_FLOAT64:
		return common.F64Value(util.Load[float64](ptr))
	case common.TID_DECIMAL:
		coef := util.Load[int64](ptr)
		scale := util.Load[int32](util.PointerAdd(ptr, 8))
		return common.DecValue(coef, int(scale))
	case common.TID_VARCHAR:
		ofs := util.Load[uint64](ptr)
		ln := util.Load[uint32](util.PointerAdd(ptr, 8))
		return common.StrValue(string(c._toast.Bytes(ofs, ln)))
	default:
		panic("usp")
	}
}

// RecIdOf packs a global record identifier: high bits are the source
// chunk ordinal, low bits the original row offset.
func RecIdOf(ordinal uint32, offset uint32) uint64 {
	return uint64(ordinal)<<32 | uint64(offset)
}

func DecodeRecId(id uint64) (uint32, uint32) {
	return uint32(id >> 32), uint32(id)
}
