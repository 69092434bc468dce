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

package storage

import (
	"context"
	"io"

	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/util"
)

// Batch is one slice of rows pulled from a store. Ordinal identifies
// the store the rows came from, BaseOffset the position of the first
// row within it; together they let every loaded row keep a record id
// pointing back at its origin. Exactly one of Rows and Cols is set:
// Rows carries row-major tuples, Cols carries one value slice per
// column, all of equal length.
type Batch struct {
	Ordinal    uint32
	BaseOffset uint32
	Rows       [][]common.Value
	Cols       [][]common.Value
}

func (b *Batch) Len() int {
	if b.Cols != nil {
		if len(b.Cols) == 0 {
			return 0
		}
		return len(b.Cols[0])
	}
	return len(b.Rows)
}

// RowSource yields batches until io.EOF.
type RowSource interface {
	Next(ctx context.Context) (*Batch, error)
}

const DefaultBatchRows = 1024

// MemRowStore serves an in-memory row-major table.
type MemRowStore struct {
	_ordinal   uint32
	_rows      [][]common.Value
	_batchRows int
	_pos       int
}

func NewMemRowStore(ordinal uint32, rows [][]common.Value, batchRows int) *MemRowStore {
	if batchRows <= 0 {
		batchRows = DefaultBatchRows
	}
	return &MemRowStore{
		_ordinal:   ordinal,
		_rows:      rows,
		_batchRows: batchRows,
	}
}

func (ms *MemRowStore) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ms._pos >= len(ms._rows) {
		return nil, io.EOF
	}
	end := ms._pos + ms._batchRows
	if end > len(ms._rows) {
		end = len(ms._rows)
	}
	batch := &Batch{
		Ordinal:    ms._ordinal,
		BaseOffset: uint32(ms._pos),
		Rows:       ms._rows[ms._pos:end],
	}
	ms._pos = end
	return batch, nil
}

// MemColStore serves an in-memory column-major table. Every column
// slice must have the same length.
type MemColStore struct {
	_ordinal   uint32
	_cols      [][]common.Value
	_batchRows int
	_pos       int
}

func NewMemColStore(ordinal uint32, cols [][]common.Value, batchRows int) *MemColStore {
	if batchRows <= 0 {
		batchRows = DefaultBatchRows
	}
	for i := 1; i < len(cols); i++ {
		util.AssertFunc(len(cols[i]) == len(cols[0]))
	}
	return &MemColStore{
		_ordinal:   ordinal,
		_cols:      cols,
		_batchRows: batchRows,
	}
}

func (ms *MemColStore) rowCount() int {
	if len(ms._cols) == 0 {
		return 0
	}
	return len(ms._cols[0])
}

func (ms *MemColStore) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total := ms.rowCount()
	if ms._pos >= total {
		return nil, io.EOF
	}
	end := ms._pos + ms._batchRows
	if end > total {
		end = total
	}
	cols := make([][]common.Value, len(ms._cols))
	for i, col := range ms._cols {
		cols[i] = col[ms._pos:end]
	}
	batch := &Batch{
		Ordinal:    ms._ordinal,
		BaseOffset: uint32(ms._pos),
		Cols:       cols,
	}
	ms._pos = end
	return batch, nil
}

// Chain concatenates several sources, typically one per store ordinal.
type Chain struct {
	_srcs []RowSource
	_cur  int
}

func NewChain(srcs ...RowSource) *Chain {
	return &Chain{_srcs: srcs}
}

func (ch *Chain) Next(ctx context.Context) (*Batch, error) {
	for ch._cur < len(ch._srcs) {
		batch, err := ch._srcs[ch._cur].Next(ctx)
		if err == io.EOF {
			ch._cur++
			continue
		}
		return batch, err
	}
	return nil, io.EOF
}
