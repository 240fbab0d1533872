// Package twolevel implements a two-level iterator over an SSTable's index
// and data blocks, with an optional look-ahead prefetch mode for
// mirror-side compaction scans, grounded on
// original_source/table/two_level_iterator.cc.
package twolevel

import (
	"bytes"

	"github.com/s1van/leveldb-mirror/internal/aioprefetch"
	"github.com/s1van/leveldb-mirror/internal/blockiter"
)

// MaxPrefetch caps the number of outstanding prefetched data blocks allowed
// at once; two concurrent block reads match typical NVMe queue-depth sweet
// spots for sequential compaction scans.
const MaxPrefetch = 2

// MaxOpsBetweenPrefetches is how many Next calls elapse before prefetch
// mode re-triggers a look-ahead.
const MaxOpsBetweenPrefetches = 1024

// BlockFunction resolves an index-iterator value (a block handle) to the
// data-iterator over that block's contents, issuing an I/O for it. mirror
// requests the mirror-side read path.
type BlockFunction func(handle []byte, mirror bool) (blockiter.Iterator, error)

// Iterator is the two-level cursor: an index-iterator yielding block
// handles, each resolved to a data-iterator via BlockFunction. Seek/Next/Prev
// never panic on I/O failure; callers must check Status.
type Iterator struct {
	indexIter blockiter.Iterator
	dataIter  blockiter.Iterator // nil when no data block is current
	blockFn   BlockFunction

	mirror   bool
	prefetch bool // mirror && prefetch mode enabled

	dataBlockHandle []byte
	err             error

	pendingHandles [][]byte
	pendingIters   []blockiter.Iterator

	opsSinceLastPrefetch int
}

// New returns a two-level iterator over indexIter, resolving blocks with
// blockFn. prefetchEnabled gates look-ahead prefetching, which only ever
// activates when mirror is also true.
func New(indexIter blockiter.Iterator, blockFn BlockFunction, mirror, prefetchEnabled bool) *Iterator {
	return &Iterator{
		indexIter: indexIter,
		blockFn:   blockFn,
		mirror:    mirror,
		prefetch:  mirror && prefetchEnabled,
	}
}

// Seek positions the iterator at the first entry with a key >= target.
func (t *Iterator) Seek(target []byte) {
	t.indexIter.Seek(target)
	t.initDataBlock()

	if t.dataIter != nil {
		t.dataIter.Seek(target)
	}

	t.skipEmptyDataBlocksForward()
}

// SeekToFirst positions the iterator at the first entry. In prefetch mode
// this issues look-ahead reads instead of opening the first block
// synchronously.
func (t *Iterator) SeekToFirst() {
	t.indexIter.SeekToFirst()

	if t.prefetch {
		// prefetchDataBlock advances the index before materializing, so the
		// first block is queued here, under the same outstanding cap.
		if aioprefetch.Outstanding.Load() < MaxPrefetch && t.indexIter.Valid() {
			handle := t.indexIter.Value()
			if iter, err := t.blockFn(handle, t.mirror); err != nil {
				t.saveError(err)
			} else {
				t.pendingHandles = append(t.pendingHandles, append([]byte(nil), handle...))
				t.pendingIters = append(t.pendingIters, iter)
			}
		}

		t.initPrefetchedDataBlock()
	} else {
		t.initDataBlock()
	}

	if t.dataIter != nil {
		t.dataIter.SeekToFirst()
	}

	t.skipEmptyDataBlocksForward()
}

// SeekToLast positions the iterator at the last entry. Backward iteration
// never prefetches, since compaction scans are forward-only.
func (t *Iterator) SeekToLast() {
	t.indexIter.SeekToLast()
	t.initDataBlock()

	if t.dataIter != nil {
		t.dataIter.SeekToLast()
	}

	t.skipEmptyDataBlocksBackward()
}

// Next advances to the next entry. In prefetch mode, every
// MaxOpsBetweenPrefetches calls trigger another look-ahead round.
func (t *Iterator) Next() {
	t.dataIter.Next()

	if t.prefetch {
		t.opsSinceLastPrefetch++
		if t.opsSinceLastPrefetch >= MaxOpsBetweenPrefetches {
			t.prefetchDataBlock()
			t.opsSinceLastPrefetch = 0
		}
	}

	t.skipEmptyDataBlocksForward()
}

// Prev moves to the previous entry.
func (t *Iterator) Prev() {
	t.dataIter.Prev()
	t.skipEmptyDataBlocksBackward()
}

// Valid reports whether the iterator is positioned at an entry.
func (t *Iterator) Valid() bool {
	return t.dataIter != nil && t.dataIter.Valid()
}

// Key returns the current entry's key. Valid must be true.
func (t *Iterator) Key() []byte {
	return t.dataIter.Key()
}

// Value returns the current entry's value. Valid must be true.
func (t *Iterator) Value() []byte {
	return t.dataIter.Value()
}

// Status returns the first error observed from the index-iterator, the
// current data-iterator, or an internal I/O failure, in that priority
// order. A nil Status does not imply Valid.
func (t *Iterator) Status() error {
	if err := t.indexIter.Status(); err != nil {
		return err
	}

	if t.dataIter != nil {
		if err := t.dataIter.Status(); err != nil {
			return err
		}
	}

	return t.err
}

func (t *Iterator) saveError(err error) {
	if t.err == nil && err != nil {
		t.err = err
	}
}

func (t *Iterator) setDataIterator(iter blockiter.Iterator) {
	if t.dataIter != nil {
		t.saveError(t.dataIter.Status())
	}

	t.dataIter = iter
}

func (t *Iterator) initDataBlock() {
	if !t.indexIter.Valid() {
		t.setDataIterator(nil)
		return
	}

	handle := t.indexIter.Value()
	if t.dataIter != nil && bytes.Equal(handle, t.dataBlockHandle) {
		return
	}

	iter, err := t.blockFn(handle, t.mirror)
	if err != nil {
		t.saveError(err)
		t.setDataIterator(nil)

		return
	}

	t.dataBlockHandle = append([]byte(nil), handle...)
	t.setDataIterator(iter)
}

func (t *Iterator) initPrefetchedDataBlock() {
	t.prefetchDataBlock()

	if len(t.pendingHandles) == 0 {
		t.setDataIterator(nil)
		return
	}

	handle := t.pendingHandles[0]
	if t.dataIter != nil && bytes.Equal(handle, t.dataBlockHandle) {
		return
	}

	iter := t.pendingIters[0]
	t.pendingHandles = t.pendingHandles[1:]
	t.pendingIters = t.pendingIters[1:]

	t.dataBlockHandle = handle
	t.setDataIterator(iter)
}

// prefetchDataBlock issues look-ahead reads for the next index entries
// while the process-wide outstanding-prefetch count (internal/aioprefetch)
// stays under MaxPrefetch, pushing each onto the pending FIFOs.
func (t *Iterator) prefetchDataBlock() {
	if !t.prefetch {
		return
	}

	for aioprefetch.Outstanding.Load() < MaxPrefetch && t.indexIter.Valid() {
		t.indexIter.Next()

		if !t.indexIter.Valid() {
			break
		}

		handle := t.indexIter.Value()

		iter, err := t.blockFn(handle, t.mirror)
		if err != nil {
			t.saveError(err)
			continue
		}

		t.pendingHandles = append(t.pendingHandles, append([]byte(nil), handle...))
		t.pendingIters = append(t.pendingIters, iter)
	}
}

func (t *Iterator) skipEmptyDataBlocksForward() {
	for t.dataIter == nil || !t.dataIter.Valid() {
		if t.prefetch {
			t.prefetchDataBlock()

			if len(t.pendingHandles) == 0 {
				t.setDataIterator(nil)
				return
			}

			t.initPrefetchedDataBlock()
		} else {
			if !t.indexIter.Valid() {
				t.setDataIterator(nil)
				return
			}

			t.indexIter.Next()
			t.initDataBlock()
		}

		if t.dataIter != nil {
			t.dataIter.SeekToFirst()
		}
	}
}

func (t *Iterator) skipEmptyDataBlocksBackward() {
	for t.dataIter == nil || !t.dataIter.Valid() {
		if !t.indexIter.Valid() {
			t.setDataIterator(nil)
			return
		}

		t.indexIter.Prev()
		t.initDataBlock()

		if t.dataIter != nil {
			t.dataIter.SeekToLast()
		}
	}
}
