package chunk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/util"
)

func Test_chunkLayoutAligned(t *testing.T) {
	c := newTestChunk(16)
	assert.Equal(t, 16, c.Capacity())
	assert.Equal(t, 3, c.UserColumnCount())
	// user columns + recid + perm
	assert.Equal(t, 5, c.ColumnCount())
	for col := 0; col < c.ColumnCount(); col++ {
		meta := c.Meta(col)
		assert.Zero(t, meta.Ofs%8, "column %d start misaligned", col)
	}
}

func Test_tryReserve(t *testing.T) {
	c := newTestChunk(8)
	start, take := c.TryReserve(5)
	assert.Equal(t, 0, start)
	assert.Equal(t, 5, take)
	start, take = c.TryReserve(5)
	assert.Equal(t, 5, start)
	assert.Equal(t, 3, take)
	_, take = c.TryReserve(1)
	assert.Equal(t, 0, take)
}

func Test_tryReserveConcurrent(t *testing.T) {
	c := newTestChunk(1 << 10)
	workers := 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[int]bool)
	total := 0
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				start, take := c.TryReserve(7)
				if take == 0 {
					return
				}
				mu.Lock()
				for i := start; i < start+take; i++ {
					require.False(t, claimed[i])
					claimed[i] = true
				}
				total += take
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1<<10, total)
	assert.Equal(t, 1<<10, c.Rows())
}

func Test_statusWorsens(t *testing.T) {
	c := newTestChunk(8)
	assert.Equal(t, StatusSuccess, c.Status())
	c.PutStatus(StatusNoSpace)
	assert.Equal(t, StatusNoSpace, c.Status())
	c.PutStatus(StatusMemoryFault)
	assert.Equal(t, StatusMemoryFault, c.Status())
	// a lighter code never overwrites a heavier one
	c.PutStatus(StatusDataFormat)
	assert.Equal(t, StatusMemoryFault, c.Status())
}

func Test_statusErr(t *testing.T) {
	assert.NoError(t, StatusSuccess.Err())
	assert.ErrorIs(t, StatusNoSpace.Err(), ErrNoSpace)
	assert.ErrorIs(t, StatusDataFormat.Err(), ErrDataFormat)
	assert.ErrorIs(t, StatusMemoryFault.Err(), ErrMemoryFault)
}

func Test_recId(t *testing.T) {
	id := RecIdOf(7, 123456)
	ord, off := DecodeRecId(id)
	assert.Equal(t, uint32(7), ord)
	assert.Equal(t, uint32(123456), off)
}

func Test_reset(t *testing.T) {
	c := newTestChunk(8)
	bld := NewBuilder(c, ^uint64(0))
	_, err := bld.AppendRows(0, 0, testRows(4))
	require.NoError(t, err)
	c.PutStatus(StatusMemoryFault)

	c.Reset()
	assert.Equal(t, 0, c.Rows())
	assert.Equal(t, StatusSuccess, c.Status())
	assert.Equal(t, 0, c.Toast().Used())

	// reusable after reset
	_, err = bld.AppendRows(0, 0, testRows(2))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Rows())
}

func Test_copyRowFrom(t *testing.T) {
	src := newTestChunk(8)
	bld := NewBuilder(src, ^uint64(0))
	_, err := bld.AppendRows(2, 50, testRows(3))
	require.NoError(t, err)

	dst := newTestChunk(8)
	require.NoError(t, dst.CopyRowFrom(0, src, 2))
	assert.Equal(t, src.GetValue(0, 2).I32, dst.GetValue(0, 0).I32)
	assert.Equal(t, src.GetValue(1, 2).Str, dst.GetValue(1, 0).Str)
	assert.Equal(t, src.RecId(2), dst.RecId(0))
}

func Test_copyRowFromToastFull(t *testing.T) {
	src := newTestChunk(8)
	bld := NewBuilder(src, ^uint64(0))
	_, err := bld.AppendRows(0, 0, testRows(2))
	require.NoError(t, err)

	dst := NewChunk(testTypes, 8, 4, util.GAlloc)
	err = dst.CopyRowFrom(0, src, 0)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func Test_emptySentinel(t *testing.T) {
	c := newTestChunk(16)
	assert.Equal(t, int32(16), c.Empty())
	assert.Equal(t, testTypes, c.ColumnTypes())
	assert.Equal(t, common.TID_RECID, c.Meta(c.ColumnCount()-2).Typ)
	assert.Equal(t, common.TID_INDEX, c.Meta(c.ColumnCount()-1).Typ)
}
