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
	"github.com/daviszhen/chunksort/pkg/storage"
	"github.com/daviszhen/chunksort/pkg/util"
)

func testOpts() util.EngineOptions {
	return util.EngineOptions{
		ChunkCapacity: 16,
		ToastCapacity: 1 << 12,
		WindowSize:    4,
		Workers:       4,
	}
}

func newI32Manager(t *testing.T, opts util.EngineOptions, order OrderType) *Manager {
	types := []common.TypeId{common.TID_INT32}
	cmp := NewKeyComparator([]KeySpec{{Col: 0, Order: order}})
	mgr, err := NewManager(opts, types, ^uint64(0), cmp)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr
}

func i32Rows(vals []int32) [][]common.Value {
	rows := make([][]common.Value, len(vals))
	for i, v := range vals {
		rows[i] = []common.Value{common.I32Value(v)}
	}
	return rows
}

func scanI32(t *testing.T, r *Run) ([]int32, []uint64) {
	var vals []int32
	var ids []uint64
	require.NoError(t, r.Scan(func(row []common.Value, recid uint64) error {
		vals = append(vals, row[0].I32)
		ids = append(ids, recid)
		return nil
	}))
	return vals, ids
}

func Test_sortEndToEnd(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_ASC)

	// a shuffled permutation sorts back to 0..n-1 and every record id
	// leads back to the source row holding that value
	n := 1000
	vals := make([]int32, n)
	for i := range vals {
		vals[i] = int32(i)
	}
	rnd := rand.New(rand.NewSource(3))
	rnd.Shuffle(n, func(i, j int) {
		vals[i], vals[j] = vals[j], vals[i]
	})
	src := storage.NewMemRowStore(0, i32Rows(vals), 64)

	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int64(n), result.Rows())

	got, ids := scanI32(t, result)
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, int32(i), v)
		_, off := chunk.DecodeRecId(ids[i])
		assert.Equal(t, v, vals[off])
	}

	// residency never exceeded the window
	assert.LessOrEqual(t, mgr.Window().HighWater(), testOpts().WindowSize)
	assert.Equal(t, 0, mgr.Window().InUse())
}

func Test_sortWithDuplicates(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_ASC)
	rnd := rand.New(rand.NewSource(5))
	vals := make([]int32, 500)
	for i := range vals {
		vals[i] = int32(rnd.Intn(20))
	}
	src := storage.NewMemRowStore(0, i32Rows(vals), 33)

	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)

	got, _ := scanI32(t, result)
	want := slices.Clone(vals)
	slices.Sort(want)
	assert.Equal(t, want, got)
}

func Test_sortDesc(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_DESC)
	vals := []int32{5, 90, 12, 7, 7, 33, 1, 88, 42, 0}
	src := storage.NewMemRowStore(0, i32Rows(vals), 3)

	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)
	got, _ := scanI32(t, result)
	want := slices.Clone(vals)
	slices.Sort(want)
	slices.Reverse(want)
	assert.Equal(t, want, got)
}

func Test_sortEmptySource(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_ASC)
	src := storage.NewMemRowStore(0, nil, 0)
	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Rows())
	assert.Equal(t, 0, result.ChunkCount())
	got, _ := scanI32(t, result)
	assert.Empty(t, got)
}

func Test_sortSingleChunk(t *testing.T) {
	// everything fits in one chunk, no merge happens
	mgr := newI32Manager(t, testOpts(), OT_ASC)
	src := storage.NewMemRowStore(0, i32Rows([]int32{3, 1, 2}), 0)
	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount())
	got, _ := scanI32(t, result)
	assert.Equal(t, []int32{1, 2, 3}, got)
}

func Test_sortColumnSource(t *testing.T) {
	types := []common.TypeId{common.TID_INT64, common.TID_VARCHAR}
	cmp := NewKeyComparator([]KeySpec{{Col: 0, Order: OT_ASC}})
	mgr, err := NewManager(testOpts(), types, ^uint64(0), cmp)
	require.NoError(t, err)
	defer mgr.Close()

	n := 100
	keys := make([]common.Value, n)
	names := make([]common.Value, n)
	for i := 0; i < n; i++ {
		keys[i] = common.I64Value(int64(n - i))
		names[i] = common.StrValue(fmt.Sprintf("row-%03d", n-i))
	}
	src := storage.NewMemColStore(0, [][]common.Value{keys, names}, 17)

	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int64(n), result.Rows())

	prev := int64(0)
	require.NoError(t, result.Scan(func(vals []common.Value, recid uint64) error {
		require.Greater(t, vals[0].I64, prev)
		require.Equal(t, fmt.Sprintf("row-%03d", vals[0].I64), vals[1].Str)
		prev = vals[0].I64
		return nil
	}))
}

func Test_sortMultipleStores(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_ASC)
	src := storage.NewChain(
		storage.NewMemRowStore(0, i32Rows([]int32{9, 3, 5}), 0),
		storage.NewMemRowStore(1, i32Rows([]int32{4, 8}), 0),
	)
	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)

	got, ids := scanI32(t, result)
	assert.Equal(t, []int32{3, 4, 5, 8, 9}, got)
	ords := make([]uint32, len(ids))
	for i, id := range ids {
		ords[i], _ = chunk.DecodeRecId(id)
	}
	assert.Equal(t, []uint32{0, 1, 0, 1, 0}, ords)
}

func Test_sortFaultAborts(t *testing.T) {
	util.Open(util.FAULTS_SCOPE_SORT)
	defer util.Close(util.FAULTS_SCOPE_SORT)
	util.Register(util.FAULTS_SCOPE_SORT, "stage", nil,
		func([]string) error {
			return fmt.Errorf("injected stage fault")
		})

	mgr := newI32Manager(t, testOpts(), OT_ASC)
	vals := make([]int32, 200)
	for i := range vals {
		vals[i] = int32(i % 50)
	}
	src := storage.NewMemRowStore(0, i32Rows(vals), 0)
	_, err := mgr.Sort(context.Background(), src)
	assert.ErrorIs(t, err, chunk.ErrMemoryFault)
}

func Test_sortCancelled(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_ASC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := storage.NewMemRowStore(0, i32Rows([]int32{1, 2, 3}), 0)
	_, err := mgr.Sort(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func Test_sortOversizedRow(t *testing.T) {
	types := []common.TypeId{common.TID_VARCHAR}
	cmp := NewKeyComparator([]KeySpec{{Col: 0, Order: OT_ASC}})
	opts := testOpts()
	opts.ToastCapacity = 8
	mgr, err := NewManager(opts, types, ^uint64(0), cmp)
	require.NoError(t, err)
	defer mgr.Close()

	rows := [][]common.Value{{common.StrValue("way too long for the arena")}}
	src := storage.NewMemRowStore(0, rows, 0)
	_, err = mgr.Sort(context.Background(), src)
	assert.ErrorIs(t, err, chunk.ErrNoSpace)
}

func Test_explain(t *testing.T) {
	mgr := newI32Manager(t, testOpts(), OT_ASC)
	vals := make([]int32, 100)
	for i := range vals {
		vals[i] = int32(100 - i)
	}
	src := storage.NewMemRowStore(0, i32Rows(vals), 0)
	result, err := mgr.Sort(context.Background(), src)
	require.NoError(t, err)

	out := result.Explain()
	assert.Contains(t, out, "sorted 100 rows")
	assert.Contains(t, out, "merge of")
	assert.Contains(t, out, "sorted chunk")
}
