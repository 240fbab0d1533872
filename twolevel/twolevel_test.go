package twolevel_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s1van/leveldb-mirror/internal/aioprefetch"
	"github.com/s1van/leveldb-mirror/internal/blockiter"
	"github.com/s1van/leveldb-mirror/twolevel"
)

type kv struct {
	key   []byte
	value []byte
}

// sliceIterator is a minimal blockiter.Iterator over an in-memory slice,
// used for both index-iterators (key=last key of the block, value=handle)
// and data-iterators in tests.
type sliceIterator struct {
	entries []kv
	pos     int // -1 before first, len(entries) past last
	err     error
}

func newSliceIterator(entries []kv) *sliceIterator {
	return &sliceIterator{entries: entries, pos: -1}
}

func (s *sliceIterator) Seek(target []byte) {
	for i, e := range s.entries {
		if string(e.key) >= string(target) {
			s.pos = i
			return
		}
	}

	s.pos = len(s.entries)
}

func (s *sliceIterator) SeekToFirst() { s.pos = 0 }
func (s *sliceIterator) SeekToLast()  { s.pos = len(s.entries) - 1 }
func (s *sliceIterator) Next()        { s.pos++ }
func (s *sliceIterator) Prev()        { s.pos-- }

func (s *sliceIterator) Valid() bool {
	return s.pos >= 0 && s.pos < len(s.entries)
}

func (s *sliceIterator) Key() []byte   { return s.entries[s.pos].key }
func (s *sliceIterator) Value() []byte { return s.entries[s.pos].value }
func (s *sliceIterator) Status() error { return s.err }

func blockHandle(n int) []byte {
	return []byte(fmt.Sprintf("block-%02d", n))
}

// buildIndexAndBlocks returns an index-iterator over numBlocks handles and a
// blockFn resolving each handle to a data-iterator with entriesPerBlock
// sequential keys, except for any block number in empty, which resolves to
// zero entries (to exercise SkipEmptyDataBlocksForward).
func buildIndexAndBlocks(numBlocks, entriesPerBlock int, empty map[int]bool) (blockiter.Iterator, twolevel.BlockFunction) {
	indexEntries := make([]kv, numBlocks)
	blocks := make(map[string][]kv, numBlocks)

	for b := 0; b < numBlocks; b++ {
		h := blockHandle(b)
		// The index key is the last key the block holds, so an index Seek
		// lands on the block that can contain the target.
		indexEntries[b] = kv{key: []byte(fmt.Sprintf("%s-key-%02d", h, entriesPerBlock-1)), value: h}

		if empty != nil && empty[b] {
			blocks[string(h)] = nil
			continue
		}

		entries := make([]kv, entriesPerBlock)
		for i := 0; i < entriesPerBlock; i++ {
			entries[i] = kv{
				key:   []byte(fmt.Sprintf("%s-key-%02d", h, i)),
				value: []byte(fmt.Sprintf("%s-val-%02d", h, i)),
			}
		}
		blocks[string(h)] = entries
	}

	blockFn := func(handle []byte, mirror bool) (blockiter.Iterator, error) {
		entries, ok := blocks[string(handle)]
		if !ok {
			return nil, fmt.Errorf("unknown block handle %q", handle)
		}

		return newSliceIterator(entries), nil
	}

	return newSliceIterator(indexEntries), blockFn
}

func collect(it *twolevel.Iterator) []string {
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}

	return got
}

func Test_Unit_SeekToFirstNext_NonPrefetch_VisitsAllKeysInOrder(t *testing.T) {
	t.Parallel()

	indexIter, blockFn := buildIndexAndBlocks(3, 2, nil)
	it := twolevel.New(indexIter, blockFn, false, false)

	got := collect(it)
	require.Equal(t, []string{
		"block-00-key-00", "block-00-key-01",
		"block-01-key-00", "block-01-key-01",
		"block-02-key-00", "block-02-key-01",
	}, got)
	require.NoError(t, it.Status())
}

func Test_Unit_SkipEmptyDataBlocksForward_NonPrefetch_SkipsEmptyBlocks(t *testing.T) {
	t.Parallel()

	indexIter, blockFn := buildIndexAndBlocks(3, 2, map[int]bool{1: true})
	it := twolevel.New(indexIter, blockFn, false, false)

	got := collect(it)
	require.Equal(t, []string{
		"block-00-key-00", "block-00-key-01",
		"block-02-key-00", "block-02-key-01",
	}, got)
}

func Test_Unit_SeekToFirstNext_PrefetchMode_VisitsAllKeysInOrder(t *testing.T) {
	t.Parallel()

	indexIter, blockFn := buildIndexAndBlocks(5, 2, nil)
	it := twolevel.New(indexIter, blockFn, true, true)

	got := collect(it)
	require.Equal(t, []string{
		"block-00-key-00", "block-00-key-01",
		"block-01-key-00", "block-01-key-01",
		"block-02-key-00", "block-02-key-01",
		"block-03-key-00", "block-03-key-01",
		"block-04-key-00", "block-04-key-01",
	}, got)
	require.NoError(t, it.Status())
}

func Test_Unit_PrefetchModeOnlyActivatesWhenMirrorTrue(t *testing.T) {
	t.Parallel()

	indexIter, blockFn := buildIndexAndBlocks(2, 1, nil)

	// prefetchEnabled true but mirror false: prefetch must stay off.
	it := twolevel.New(indexIter, blockFn, false, true)
	got := collect(it)
	require.Equal(t, []string{"block-00-key-00", "block-01-key-00"}, got)
}

func Test_Unit_Seek_FindsTargetAcrossBlocks(t *testing.T) {
	t.Parallel()

	indexIter, blockFn := buildIndexAndBlocks(3, 2, nil)
	it := twolevel.New(indexIter, blockFn, false, false)

	it.Seek([]byte("block-01-key-01"))
	require.True(t, it.Valid())
	require.Equal(t, "block-01-key-01", string(it.Key()))
}

func Test_Unit_PrefetchDataBlock_RespectsGlobalOutstandingCap(t *testing.T) {
	// Mutates the process-wide counter, so this test does not run in
	// parallel with others that rely on its value starting at zero.
	indexIter, blockFn := buildIndexAndBlocks(5, 1, nil)
	it := twolevel.New(indexIter, blockFn, true, true)

	aioprefetch.Outstanding.Store(twolevel.MaxPrefetch)
	defer aioprefetch.Outstanding.Store(0)

	it.SeekToFirst()

	require.False(t, it.Valid(), "no look-ahead should run while outstanding == MaxPrefetch")
}

func Test_Unit_BlockFunctionError_SurfacedViaStatus(t *testing.T) {
	t.Parallel()

	indexIter := newSliceIterator([]kv{{key: []byte("bad"), value: []byte("bad")}})
	blockFn := func(handle []byte, mirror bool) (blockiter.Iterator, error) {
		return nil, fmt.Errorf("read failed for %q", handle)
	}

	it := twolevel.New(indexIter, blockFn, false, false)
	it.SeekToFirst()

	require.False(t, it.Valid())
	require.Error(t, it.Status())
}
