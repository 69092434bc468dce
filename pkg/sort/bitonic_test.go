package sort

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/chunksort/pkg/chunk"
	"github.com/daviszhen/chunksort/pkg/common"
	"github.com/daviszhen/chunksort/pkg/util"
)

func testDevice(t *testing.T) *Device {
	dev, err := NewDevice(4)
	require.NoError(t, err)
	t.Cleanup(dev.Close)
	return dev
}

var ascKey = NewKeyComparator([]KeySpec{{Col: 0, Order: OT_ASC}})
var descKey = NewKeyComparator([]KeySpec{{Col: 0, Order: OT_DESC}})

func buildI32Chunk(t *testing.T, capacity int, vals []int32) *chunk.Chunk {
	c := chunk.NewChunk([]common.TypeId{common.TID_INT32}, capacity, 1<<12, util.GAlloc)
	bld := chunk.NewBuilder(c, ^uint64(0))
	rows := make([][]common.Value, len(vals))
	for i, v := range vals {
		rows[i] = []common.Value{common.I32Value(v)}
	}
	n, err := bld.AppendRows(0, 0, rows)
	require.NoError(t, err)
	require.Equal(t, len(vals), n)
	return c
}

// sortedVals reads the chunk back through its permutation array.
func sortedVals(c *chunk.Chunk) []int32 {
	out := make([]int32, 0, c.Rows())
	perm := c.Perm()
	for pos := 0; pos < c.Rows(); pos++ {
		out = append(out, c.GetValue(0, int(perm[pos])).I32)
	}
	return out
}

func Test_unitToken(t *testing.T) {
	unitsz, reversing := decodeUnit(unitToken(8, true))
	assert.Equal(t, int32(8), unitsz)
	assert.True(t, reversing)
	unitsz, reversing = decodeUnit(unitToken(2, false))
	assert.Equal(t, int32(2), unitsz)
	assert.False(t, reversing)
}

func Test_pairOf(t *testing.T) {
	// plain pairing at unit 4: halves 0..1 pair with 2..3
	idx0, idx1 := pairOf(0, 4, false)
	assert.Equal(t, int32(0), idx0)
	assert.Equal(t, int32(2), idx1)
	idx0, idx1 = pairOf(1, 4, false)
	assert.Equal(t, int32(1), idx0)
	assert.Equal(t, int32(3), idx1)
	// reversed pairing mirrors within the unit
	idx0, idx1 = pairOf(0, 4, true)
	assert.Equal(t, int32(0), idx0)
	assert.Equal(t, int32(3), idx1)
	idx0, idx1 = pairOf(1, 4, true)
	assert.Equal(t, int32(1), idx0)
	assert.Equal(t, int32(2), idx1)
	// idx0 stays below idx1 either way
	for tid := int32(0); tid < 16; tid++ {
		for _, rev := range []bool{false, true} {
			lo, hi := pairOf(tid, 8, rev)
			assert.Less(t, lo, hi)
		}
	}
}

func Test_sortChunkRandom(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	vals := make([]int32, 1000)
	for i := range vals {
		vals[i] = int32(rnd.Intn(500))
	}
	c := buildI32Chunk(t, 1<<10, vals)
	dev := testDevice(t)

	require.NoError(t, SortChunk(context.Background(), dev, c, ascKey))

	want := slices.Clone(vals)
	slices.Sort(want)
	assert.Equal(t, want, sortedVals(c))
}

func Test_sortChunkOddRows(t *testing.T) {
	c := buildI32Chunk(t, 8, []int32{9, 1, 7, 3, 5})
	dev := testDevice(t)
	require.NoError(t, SortChunk(context.Background(), dev, c, ascKey))
	assert.Equal(t, []int32{1, 3, 5, 7, 9}, sortedVals(c))
	// entries past nrows stayed out of the sort
	assert.Equal(t, 5, c.Rows())
}

func Test_sortChunkSortedInput(t *testing.T) {
	vals := []int32{1, 2, 3, 4, 5, 6}
	c := buildI32Chunk(t, 8, vals)
	dev := testDevice(t)
	require.NoError(t, SortChunk(context.Background(), dev, c, ascKey))
	assert.Equal(t, vals, sortedVals(c))
	// sorting again changes nothing
	require.NoError(t, SortChunk(context.Background(), dev, c, ascKey))
	assert.Equal(t, vals, sortedVals(c))
}

func Test_sortChunkDesc(t *testing.T) {
	c := buildI32Chunk(t, 8, []int32{3, 1, 4, 1, 5})
	dev := testDevice(t)
	require.NoError(t, SortChunk(context.Background(), dev, c, descKey))
	assert.Equal(t, []int32{5, 4, 3, 1, 1}, sortedVals(c))
}

func Test_sortChunkDegenerate(t *testing.T) {
	dev := testDevice(t)
	empty := buildI32Chunk(t, 8, nil)
	require.NoError(t, SortChunk(context.Background(), dev, empty, ascKey))
	assert.Equal(t, 0, empty.Rows())

	one := buildI32Chunk(t, 8, []int32{42})
	require.NoError(t, SortChunk(context.Background(), dev, one, ascKey))
	assert.Equal(t, []int32{42}, sortedVals(one))
}

func Test_sortChunkPoisoned(t *testing.T) {
	c := buildI32Chunk(t, 8, []int32{2, 1})
	c.PutStatus(chunk.StatusMemoryFault)
	dev := testDevice(t)
	err := SortChunk(context.Background(), dev, c, ascKey)
	assert.ErrorIs(t, err, chunk.ErrMemoryFault)
}

func Test_sortChunkFaultInjected(t *testing.T) {
	util.Open(util.FAULTS_SCOPE_SORT)
	defer util.Close(util.FAULTS_SCOPE_SORT)
	util.Register(util.FAULTS_SCOPE_SORT, "stage", nil,
		func([]string) error {
			return fmt.Errorf("injected stage fault")
		})

	c := buildI32Chunk(t, 8, []int32{2, 1, 3})
	dev := testDevice(t)
	err := SortChunk(context.Background(), dev, c, ascKey)
	assert.ErrorIs(t, err, chunk.ErrMemoryFault)
	assert.Equal(t, chunk.StatusMemoryFault, c.Status())
}

func Test_sortChunkVarchar(t *testing.T) {
	types := []common.TypeId{common.TID_VARCHAR}
	c := chunk.NewChunk(types, 8, 1<<12, util.GAlloc)
	bld := chunk.NewBuilder(c, ^uint64(0))
	words := []string{"pear", "apple", "fig", "banana", "app"}
	rows := make([][]common.Value, len(words))
	for i, w := range words {
		rows[i] = []common.Value{common.StrValue(w)}
	}
	_, err := bld.AppendRows(0, 0, rows)
	require.NoError(t, err)

	dev := testDevice(t)
	require.NoError(t, SortChunk(context.Background(), dev, c, ascKey))

	got := make([]string, 0, c.Rows())
	for pos := 0; pos < c.Rows(); pos++ {
		got = append(got, c.GetValue(0, int(c.Perm()[pos])).Str)
	}
	assert.Equal(t, []string{"app", "apple", "banana", "fig", "pear"}, got)
}
