// Package filenamehash implements a counting-Bloom-style presence counter —
// an approximate test for "is this mirror filename currently open for
// reading". False positives (a hash collision makes a different file appear
// in-use) are acceptable — their only effect is routing a read to the
// primary device instead of the mirror.
package filenamehash

import (
	"sync"

	"github.com/zeebo/blake3"
)

// HSIZE is the number of counting slots.
const HSIZE = 4096

// Counter is the fixed-size presence counter. The zero value is ready to
// use. Thread-safety is provided here even though it could be left to
// the caller (in practice the table cache's LRU-partition lock), since
// nothing else in this module can guarantee that invariant on its behalf.
type Counter struct {
	mu     sync.Mutex
	counts [HSIZE]int32
}

// slot hashes name with BLAKE3 and folds it into [0, HSIZE).
func slot(name string) uint32 {
	sum := blake3.Sum256([]byte(name))

	var h uint32
	for _, b := range sum[:4] {
		h = h<<8 | uint32(b)
	}

	return h % HSIZE
}

// Add increments the presence count for name. Call when a mirror file is
// opened for reading.
func (c *Counter) Add(name string) {
	i := slot(name)

	c.mu.Lock()
	c.counts[i]++
	c.mu.Unlock()
}

// Drop decrements the presence count for name. Call when a mirror file that
// was previously Add-ed is closed.
func (c *Counter) Drop(name string) {
	i := slot(name)

	c.mu.Lock()
	c.counts[i]--
	c.mu.Unlock()
}

// InUse reports whether name's slot is non-zero. This is a presence test,
// not a set membership test: it can return true for a name that was never
// added, if some other name hashed to the same slot.
func (c *Counter) InUse(name string) bool {
	i := slot(name)

	c.mu.Lock()
	inUse := c.counts[i] > 0
	c.mu.Unlock()

	return inUse
}
