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
	"fmt"

	"github.com/liyue201/gostl/ds/deque"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/chunksort/pkg/common"
)

// Run is a chain of chunks holding one globally sorted sequence.
// Chunks are ordered: every row of chunk i compares at or before every
// row of chunk i+1. All chunks are full except possibly the last one.
type Run struct {
	_id     uint64
	_rows   int64
	_chunks *deque.Deque[*Handle]
	_node   *mergeNode
}

func newRun(id uint64) *Run {
	return &Run{
		_id:     id,
		_chunks: deque.New[*Handle](),
	}
}

func (r *Run) Id() uint64 {
	return r._id
}

func (r *Run) Rows() int64 {
	return r._rows
}

func (r *Run) ChunkCount() int {
	return r._chunks.Size()
}

func (r *Run) pushBack(h *Handle) {
	r._chunks.PushBack(h)
	r._rows += int64(h.Chunk().Rows())
}

func (r *Run) popFront() *Handle {
	h := r._chunks.PopFront()
	r._rows -= int64(h.Chunk().Rows())
	return h
}

func (r *Run) headHandle() *Handle {
	return r._chunks.Front()
}

func runLess(a, b *Run) bool {
	if a._rows != b._rows {
		return a._rows < b._rows
	}
	return a._id < b._id
}

// Scan walks the run in sorted order, handing each row's user column
// values and record id to fn. Rows inside a chunk are visited through
// its permutation array, so it works for in-place sorted chunks and
// identity-permuted merge outputs alike.
func (r *Run) Scan(fn func(vals []common.Value, recid uint64) error) error {
	for i := 0; i < r._chunks.Size(); i++ {
		c := r._chunks.At(i).Chunk()
		perm := c.Perm()
		ncols := c.UserColumnCount()
		for pos := 0; pos < c.Rows(); pos++ {
			row := int(perm[pos])
			vals := make([]common.Value, ncols)
			for col := 0; col < ncols; col++ {
				vals[col] = c.GetValue(col, row)
			}
			if err := fn(vals, c.RecId(row)); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeNode records how a run came to be, for Explain.
type mergeNode struct {
	label string
	kids  []*mergeNode
}

func leafNode(id uint64, rows int) *mergeNode {
	return &mergeNode{label: fmt.Sprintf("run %d (sorted chunk, %d rows)", id, rows)}
}

func (node *mergeNode) Print(tree treeprint.Tree) {
	branch := tree.AddBranch(node.label)
	for _, kid := range node.kids {
		kid.Print(branch)
	}
}

// Explain renders the merge tree that produced this run.
func (r *Run) Explain() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("sorted %d rows in %d chunks", r._rows, r._chunks.Size()))
	if r._node != nil {
		r._node.Print(tree)
	}
	return tree.String()
}
