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
	"cmp"
	"unsafe"

	"github.com/govalues/decimal"

	"github.com/daviszhen/chunksort/pkg/chunk"
	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/util"
)

// Comparator orders two (chunk, row position) pairs by the active sort
// keys. It must be pure, define a total order over valid positions,
// and be callable with cx == cy. Real deployments generate one per
// query; NewKeyComparator builds the reference implementation.
type Comparator func(cx *chunk.Chunk, tx *chunk.ToastBuf, xi int32,
	cy *chunk.Chunk, ty *chunk.ToastBuf, yi int32) int

type OrderType int

const (
	OT_INVALID OrderType = iota
	OT_ASC
	OT_DESC
)

type KeySpec struct {
	Col   int
	Order OrderType
}

// NewKeyComparator generates a comparator over the given key columns.
// Keys are compared in order; equal keys may end up in any relative
// order since the network does not preserve input positions.
func NewKeyComparator(keys []KeySpec) Comparator {
	return func(cx *chunk.Chunk, tx *chunk.ToastBuf, xi int32,
		cy *chunk.Chunk, ty *chunk.ToastBuf, yi int32) int {
		for _, key := range keys {
			rv := compareCell(cx, tx, xi, cy, ty, yi, key.Col)
			if rv == 0 {
				continue
			}
			if key.Order == OT_DESC {
				return -rv
			}
			return rv
		}
		return 0
	}
}

func compareCell(cx *chunk.Chunk, tx *chunk.ToastBuf, xi int32,
	cy *chunk.Chunk, ty *chunk.ToastBuf, yi int32, col int) int {
	typ := cx.Meta(col).Typ
	xPtr := cx.CellPtr(col, int(xi))
	yPtr := cy.CellPtr(col, int(yi))
	switch typ {
	case common.TID_INT32:
		return cmp.Compare(util.Load[int32](xPtr), util.Load[int32](yPtr))
	case common.TID_INT64:
		return cmp.Compare(util.Load[int64](xPtr), util.Load[int64](yPtr))
	case common.TID_FLOAT64:
		return cmp.Compare(util.Load[float64](xPtr), util.Load[float64](yPtr))
	case common.TID_DECIMAL:
		xDec := loadDecimal(xPtr)
		yDec := loadDecimal(yPtr)
		return xDec.Cmp(yDec)
	case common.TID_VARCHAR:
		xOfs := util.Load[uint64](xPtr)
		xLen := util.Load[uint32](util.PointerAdd(xPtr, 8))
		yOfs := util.Load[uint64](yPtr)
		yLen := util.Load[uint32](util.PointerAdd(yPtr, 8))
		return util.PointerMemcmp2(
			util.BytesSliceToPointer(tx.Bytes(xOfs, xLen)),
			util.BytesSliceToPointer(ty.Bytes(yOfs, yLen)),
			int(xLen), int(yLen))
	default:
		panic("usp")
	}
}

func loadDecimal(ptr unsafe.Pointer) decimal.Decimal {
	coef := util.Load[int64](ptr)
	scale := util.Load[int32](util.PointerAdd(ptr, 8))
	d, err := decimal.New(coef, int(scale))
	if err != nil {
		panic(err)
	}
	return d
}
