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
	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/util"
)

// Params is the parameter block placed at the head of the packed
// buffer: query constants shared by every stage operating on the
// chunk. ColMask flags the source columns participating in the sort.
type Params struct {
	ColMask uint64
}

// Layout is the section table of the packed chunk buffer. It is
// computed once at allocation time instead of being re-derived by
// pointer arithmetic at every access. Sections follow each other
// without gaps, each start 8-byte aligned:
//
//	params | column store | status | toast
type Layout struct {
	ParamOfs  int
	ParamLen  int
	ChunkOfs  int
	ChunkLen  int
	StatusOfs int
	StatusLen int
	ToastOfs  int
	ToastLen  int
	Length    int
}

const (
	paramWireLen  = 8
	chunkHdrLen   = 16
	colMetaLen    = 16
	statusWireLen = 4
	toastHdrLen   = 16
)

func LayoutOf(c *Chunk) Layout {
	lo := Layout{}
	lo.ParamOfs = 0
	lo.ParamLen = paramWireLen
	lo.ChunkOfs = util.AlignValue8(lo.ParamOfs + lo.ParamLen)
	lo.ChunkLen = chunkHdrLen + len(c._colmeta)*colMetaLen + len(c._data)
	lo.StatusOfs = util.AlignValue8(lo.ChunkOfs + lo.ChunkLen)
	lo.StatusLen = statusWireLen
	lo.ToastOfs = util.AlignValue8(lo.StatusOfs + lo.StatusLen)
	lo.ToastLen = toastHdrLen + c._toast.Capacity()
	lo.Length = util.AlignValue8(lo.ToastOfs + lo.ToastLen)
	return lo
}

// Pack materializes the chunk as one contiguous wire buffer.
func Pack(c *Chunk, params Params, alloc util.BytesAllocator) []byte {
	lo := LayoutOf(c)
	buf := alloc.Alloc(lo.Length)
	base := util.BytesSliceToPointer(buf)

	util.Store[uint64](params.ColMask, util.PointerAdd(base, lo.ParamOfs))

	chunkPtr := util.PointerAdd(base, lo.ChunkOfs)
	util.Store[int32](int32(len(c._colmeta)), chunkPtr)
	util.Store[int32](int32(c._cap), util.PointerAdd(chunkPtr, 4))
	util.Store[int32](int32(c.Rows()), util.PointerAdd(chunkPtr, 8))
	metaPtr := util.PointerAdd(chunkPtr, chunkHdrLen)
	for i, meta := range c._colmeta {
		p := util.PointerAdd(metaPtr, i*colMetaLen)
		util.Store[int32](int32(meta.Typ), p)
		util.Store[int32](int32(meta.Ofs), util.PointerAdd(p, 4))
		util.Store[int32](int32(meta.Stride), util.PointerAdd(p, 8))
	}
	copy(buf[lo.ChunkOfs+chunkHdrLen+len(c._colmeta)*colMetaLen:], c._data)

	util.Store[int32](int32(c.Status()), util.PointerAdd(base, lo.StatusOfs))

	toastPtr := util.PointerAdd(base, lo.ToastOfs)
	util.Store[int64](int64(c._toast.Capacity()), toastPtr)
	util.Store[int64](int64(c._toast.Used()), util.PointerAdd(toastPtr, 8))
	copy(buf[lo.ToastOfs+toastHdrLen:], c._toast._data[:c._toast.Used()])
	return buf
}

// Unpack rebuilds a chunk from its wire buffer.
func Unpack(buf []byte, alloc util.BytesAllocator) (*Chunk, Params, error) {
	if len(buf) < paramWireLen+chunkHdrLen {
		return nil, Params{}, ErrDataFormat
	}
	base := util.BytesSliceToPointer(buf)
	params := Params{ColMask: util.Load[uint64](base)}

	chunkOfs := util.AlignValue8(paramWireLen)
	chunkPtr := util.PointerAdd(base, chunkOfs)
	ncols := int(util.Load[int32](chunkPtr))
	capacity := int(util.Load[int32](util.PointerAdd(chunkPtr, 4)))
	nrows := int(util.Load[int32](util.PointerAdd(chunkPtr, 8)))
	if ncols < 2 || capacity <= 0 || !util.IsPowerOfTwo(uint64(capacity)) {
		return nil, Params{}, ErrDataFormat
	}
	colTypes := make([]common.TypeId, ncols)
	metaPtr := util.PointerAdd(chunkPtr, chunkHdrLen)
	for i := 0; i < ncols; i++ {
		colTypes[i] = common.TypeId(util.Load[int32](util.PointerAdd(metaPtr, i*colMetaLen)))
	}

	c := &Chunk{
		_cap:     capacity,
		_colmeta: BuildColMeta(colTypes, capacity),
	}
	last := util.Back(c._colmeta)
	dataLen := last.Ofs + last.Stride*capacity
	dataOfs := chunkOfs + chunkHdrLen + ncols*colMetaLen
	statusOfs := util.AlignValue8(chunkOfs + chunkHdrLen + ncols*colMetaLen + dataLen)
	toastOfs := util.AlignValue8(statusOfs + statusWireLen)
	if toastOfs+toastHdrLen > len(buf) {
		return nil, Params{}, ErrDataFormat
	}
	c._data = alloc.Alloc(dataLen)
	copy(c._data, buf[dataOfs:dataOfs+dataLen])
	c._nrows.Store(int32(nrows))
	c._status.Store(util.Load[int32](util.PointerAdd(base, statusOfs)))

	toastPtr := util.PointerAdd(base, toastOfs)
	toastCap := int(util.Load[int64](toastPtr))
	toastUsed := int(util.Load[int64](util.PointerAdd(toastPtr, 8)))
	if toastOfs+toastHdrLen+toastUsed > len(buf) || toastUsed > toastCap {
		return nil, Params{}, ErrDataFormat
	}
	c._toast = NewToastBuf(toastCap, alloc)
	copy(c._toast._data, buf[toastOfs+toastHdrLen:toastOfs+toastHdrLen+toastUsed])
	c._toast._used.Store(int64(toastUsed))
	return c, params, nil
}
