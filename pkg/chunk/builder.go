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

// Builder copies eligible rows from row- or column-store sources into
// a sort chunk, appending the global record id and the identity
// permutation entry for each written row.
//
// Concurrent appenders claim disjoint row ranges, so the builder is
// safe to call from many workers at once.
type Builder struct {
	_chunk   *Chunk
	_colMask uint64
}

func NewBuilder(c *Chunk, colMask uint64) *Builder {
	return &Builder{
		_chunk:   c,
		_colMask: colMask,
	}
}

func (b *Builder) Chunk() *Chunk {
	return b._chunk
}

// AppendRows appends as many rows as still fit, starting at an
// atomically reserved offset range. ordinal and baseOffset identify
// the rows' origin for the record ids. It returns the accepted row
// count; ErrNoSpace means the remainder needs a fresh chunk.
func (b *Builder) AppendRows(ordinal uint32, baseOffset uint32, rows [][]common.Value) (int, error) {
	n := len(rows)
	if n == 0 {
		return 0, nil
	}
	for _, row := range rows {
		if len(row) != b._chunk.UserColumnCount() {
			b._chunk.PutStatus(StatusDataFormat)
			return 0, ErrDataFormat
		}
	}

	sizes := make([]int, n)
	for i, row := range rows {
		sizes[i] = b.rowToastSize(row)
	}
	toastFit, toastOfs, err := b._chunk._toast.ReservePrefix(sizes)
	if err != nil {
		return 0, err
	}
	start, take := b._chunk.TryReserve(toastFit)
	if take == 0 {
		return 0, ErrNoSpace
	}

	ofs := toastOfs
	for i := 0; i < take; i++ {
		if err = b.writeRow(start+i, rows[i], ofs); err != nil {
			return i, err
		}
		ofs += uint64(sizes[i])
		b.finishRow(start+i, ordinal, baseOffset+uint32(i))
	}
	if take < n {
		return take, ErrNoSpace
	}
	return take, nil
}

// AppendColumns is the column-store source path: cols[j][i] is row i of
// source column j. Converting an already device-resident column store
// in place is a host collaborator concern, not handled here.
func (b *Builder) AppendColumns(ordinal uint32, baseOffset uint32, cols [][]common.Value) (int, error) {
	if len(cols) != b._chunk.UserColumnCount() {
		b._chunk.PutStatus(StatusDataFormat)
		return 0, ErrDataFormat
	}
	if len(cols) == 0 || len(cols[0]) == 0 {
		return 0, nil
	}
	n := len(cols[0])
	for _, col := range cols {
		if len(col) != n {
			b._chunk.PutStatus(StatusDataFormat)
			return 0, ErrDataFormat
		}
	}

	sizes := make([]int, n)
	for j, col := range cols {
		if !b.colReferenced(j) || !b._chunk.Meta(j).Typ.Varlen() {
			continue
		}
		for i, val := range col {
			sizes[i] += len(val.Str)
		}
	}
	toastFit, toastOfs, err := b._chunk._toast.ReservePrefix(sizes)
	if err != nil {
		return 0, err
	}
	start, take := b._chunk.TryReserve(toastFit)
	if take == 0 {
		return 0, ErrNoSpace
	}

	ofs := toastOfs
	for j, col := range cols {
		if !b.colReferenced(j) {
			continue
		}
		colOfs := ofs
		for i := 0; i < take; i++ {
			sz, werr := b.writeCell(j, start+i, col[i], colOfs)
			if werr != nil {
				return 0, werr
			}
			colOfs += uint64(sz)
		}
		if b._chunk.Meta(j).Typ.Varlen() {
			ofs = colOfs
		}
	}
	for i := 0; i < take; i++ {
		b.finishRow(start+i, ordinal, baseOffset+uint32(i))
	}
	if take < n {
		return take, ErrNoSpace
	}
	return take, nil
}

func (b *Builder) colReferenced(col int) bool {
	return b._colMask&(uint64(1)<<uint(col)) != 0
}

func (b *Builder) rowToastSize(row []common.Value) int {
	sz := 0
	for j, val := range row {
		if b.colReferenced(j) && b._chunk.Meta(j).Typ.Varlen() {
			sz += len(val.Str)
		}
	}
	return sz
}

func (b *Builder) writeRow(row int, vals []common.Value, toastOfs uint64) error {
	ofs := toastOfs
	for j, val := range vals {
		if !b.colReferenced(j) {
			continue
		}
		sz, err := b.writeCell(j, row, val, ofs)
		if err != nil {
			return err
		}
		ofs += uint64(sz)
	}
	return nil
}

// writeCell converts one source value into the columnar slot. The
// toast region for the payload has already been reserved.
func (b *Builder) writeCell(col, row int, val common.Value, toastOfs uint64) (int, error) {
	meta := b._chunk.Meta(col)
	if val.Typ != meta.Typ || faultConvert() {
		b._chunk.PutStatus(StatusDataFormat)
		return 0, ErrDataFormat
	}
	ptr := b._chunk.CellPtr(col, row)
	switch meta.Typ {
	case common.TID_INT32:
		util.Store[int32](val.I32, ptr)
	case common.TID_INT64:
		util.Store[int64](val.I64, ptr)
	case common.TID_FLOAT64:
		util.Store[float64](val.F64, ptr)
	case common.TID_DECIMAL:
		util.Store[int64](val.Coef, ptr)
		util.Store[int32](int32(val.Scale), util.PointerAdd(ptr, 8))
	case common.TID_VARCHAR:
		b._chunk._toast.Write(toastOfs, []byte(val.Str))
		util.Store[uint64](toastOfs, ptr)
		util.Store[uint32](uint32(len(val.Str)), util.PointerAdd(ptr, 8))
		return len(val.Str), nil
	default:
		b._chunk.PutStatus(StatusDataFormat)
		return 0, ErrDataFormat
	}
	return 0, nil
}

func (b *Builder) finishRow(row int, ordinal uint32, offset uint32) {
	b._chunk.SetRecId(row, RecIdOf(ordinal, offset))
	b._chunk.Perm()[row] = int32(row)
}

func faultConvert() bool {
	fault := util.Check(util.FAULTS_SCOPE_BUILD, "convert")
	if fault == nil {
		return false
	}
	return fault.Action(fault.Args) != nil
}
