// Package tablecache holds two independent LRU partitions of open SSTables,
// one for primary opens and one for mirror opens, plus the in-use
// filename-hash counter that gates mirror eligibility, grounded on
// original_source/db/table_cache.cc's TableCache.
package tablecache

import (
	"encoding/binary"

	"github.com/s1van/leveldb-mirror/internal/blockiter"
	"github.com/s1van/leveldb-mirror/internal/filenamehash"
	"github.com/s1van/leveldb-mirror/internal/sstfile"
	"github.com/s1van/leveldb-mirror/internal/sstpath"
)

// MirrorMinBytes is the size threshold below which mirror-read is never
// attempted, mirroring config.DefaultMirrorMinBytes; callers with a
// different configured value should use New's mirrorMinSize parameter.
const MirrorMinBytes = 65536

// Table is an opened SSTable's header-and-index view, satisfied by the
// out-of-scope SSTable binary-format reader.
type Table interface {
	NewIterator() blockiter.Iterator
}

// Environment is the subset of environment.Environment the cache needs to
// open files.
type Environment interface {
	NewRandomAccessFile(filename string, mirror bool) (sstfile.RandomAccessFile, error)
}

// OpenTableFunc opens the SSTable header/index found in rf, whose on-disk
// length is size. This is the hook into the out-of-scope SSTable format.
type OpenTableFunc func(rf sstfile.RandomAccessFile, size int64) (Table, error)

// Cache is the two-partition table cache.
type Cache struct {
	env Environment

	primaryDir string
	mirrorDir  string

	mirrorEnabled bool
	mirrorMinSize int64

	openTable OpenTableFunc

	primary *lruPartition
	mirror  *lruPartition

	inUse *filenamehash.Counter
}

// New returns a Cache with capacity entries per partition, opening files
// for reading through env.
func New(env Environment, primaryDir, mirrorDir string, mirrorEnabled bool, mirrorMinSize int64, capacity int, openTable OpenTableFunc) *Cache {
	return &Cache{
		env:           env,
		primaryDir:    primaryDir,
		mirrorDir:     mirrorDir,
		mirrorEnabled: mirrorEnabled,
		mirrorMinSize: mirrorMinSize,
		openTable:     openTable,
		primary:       newLRUPartition(capacity),
		mirror:        newLRUPartition(capacity),
		inUse:         &filenamehash.Counter{},
	}
}

// fileKey is the little-endian 8-byte key file_number encodes to.
func fileKey(fileNumber uint64) [8]byte {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], fileNumber)

	return k
}

// Open returns a reference-counted handle on fileNumber's table, opening and
// inserting it on a cache miss. mirrorFlag requests the mirror path; it is
// honored only if mirroring is enabled, the file exceeds the size
// threshold, and the mirror copy is not already open for reading elsewhere.
func (c *Cache) Open(fileNumber uint64, fileSize int64, mirrorFlag bool) (*Handle, error) {
	primaryPath := sstpath.TableFileName(c.primaryDir, fileNumber)
	mirrorPath := sstpath.TableFileName(c.mirrorDir, fileNumber)

	useMirror := mirrorFlag && c.mirrorEnabled && fileSize > c.mirrorMinSize && !c.inUse.InUse(mirrorPath)

	partition := c.primary
	path := primaryPath

	if useMirror {
		partition = c.mirror
		path = mirrorPath
	}

	key := fileKey(fileNumber)

	if h := partition.lookup(key); h != nil {
		return h, nil
	}

	rf, err := c.env.NewRandomAccessFile(path, useMirror)
	if err != nil {
		return nil, err
	}

	table, err := c.openTable(rf, fileSize)
	if err != nil {
		rf.Close()
		return nil, err
	}

	var onEvict func()
	if useMirror {
		c.inUse.Add(mirrorPath)
		onEvict = func() { c.inUse.Drop(mirrorPath) }
	}

	return partition.insert(key, rf, table, onEvict), nil
}

// NewIterator acquires a handle's table iterator and returns a cleanup
// function the caller must invoke exactly once when done with it — Go has
// no destructor to release the handle automatically, unlike the C++
// original's on-destroy callback.
func (c *Cache) NewIterator(h *Handle) (blockiter.Iterator, func()) {
	return h.table.NewIterator(), h.Release
}

// Evict erases fileNumber from both partitions, closing any entry with no
// outstanding handles immediately and deferring the close for an entry
// still borrowed until its last Release.
func (c *Cache) Evict(fileNumber uint64) {
	key := fileKey(fileNumber)
	c.primary.evict(key)
	c.mirror.evict(key)
}
