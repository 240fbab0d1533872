package tablecache

import (
	"container/list"
	"sync"

	"github.com/s1van/leveldb-mirror/internal/sstfile"
)

// entry is one cached open table. An entry with refs > 0 has live Handles
// outstanding; evicted marks one that has already been removed from the LRU
// but whose close is deferred to the last Release, since a handle is a
// reference-counted borrow released by a cleanup callback.
type entry struct {
	key     [8]byte
	file    sstfile.RandomAccessFile
	table   Table
	onEvict func()

	mu      sync.Mutex
	refs    int
	evicted bool
}

func (e *entry) closeLocked() {
	e.file.Close()

	if e.onEvict != nil {
		e.onEvict()
	}
}

// lruPartition is one of the cache's two independent LRUs (primary, mirror).
type lruPartition struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used; holds *entry
	index    map[[8]byte]*list.Element
}

func newLRUPartition(capacity int) *lruPartition {
	return &lruPartition{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[[8]byte]*list.Element),
	}
}

// lookup returns a reference-counted Handle for key, or nil on a miss.
func (p *lruPartition) lookup(key [8]byte) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.index[key]
	if !ok {
		return nil
	}

	p.order.MoveToFront(elem)

	e := elem.Value.(*entry)

	e.mu.Lock()
	e.refs++
	e.mu.Unlock()

	return &Handle{partition: p, entry: e, table: e.table}
}

// insert adds a new entry for key, evicting the least-recently-used entry
// over capacity, and returns a Handle holding one reference.
func (p *lruPartition) insert(key [8]byte, file sstfile.RandomAccessFile, table Table, onEvict func()) *Handle {
	p.mu.Lock()

	e := &entry{key: key, file: file, table: table, onEvict: onEvict, refs: 1}
	elem := p.order.PushFront(e)
	p.index[key] = elem

	var toClose []*entry

	for p.order.Len() > p.capacity && p.capacity > 0 {
		back := p.order.Back()
		if back == nil {
			break
		}

		victim := back.Value.(*entry)
		p.order.Remove(back)
		delete(p.index, victim.key)

		victim.mu.Lock()
		victim.evicted = true
		shouldClose := victim.refs == 0
		victim.mu.Unlock()

		if shouldClose {
			toClose = append(toClose, victim)
		}
	}

	p.mu.Unlock()

	for _, v := range toClose {
		v.closeLocked()
	}

	return &Handle{partition: p, entry: e, table: table}
}

// evict removes key from the partition, closing it immediately if no
// handles are outstanding or deferring the close to the last Release.
func (p *lruPartition) evict(key [8]byte) {
	p.mu.Lock()
	elem, ok := p.index[key]
	if !ok {
		p.mu.Unlock()
		return
	}

	p.order.Remove(elem)
	delete(p.index, key)
	p.mu.Unlock()

	e := elem.Value.(*entry)

	e.mu.Lock()
	e.evicted = true
	shouldClose := e.refs == 0
	e.mu.Unlock()

	if shouldClose {
		e.closeLocked()
	}
}

// release drops one reference on e, closing it if it was already evicted
// and this was the last reference.
func (p *lruPartition) release(e *entry) {
	e.mu.Lock()
	e.refs--
	shouldClose := e.evicted && e.refs == 0
	e.mu.Unlock()

	if shouldClose {
		e.closeLocked()
	}
}

// Handle is a reference-counted borrow of a cached table, returned by
// Cache.Open. Callers must call Release exactly once when done with it.
type Handle struct {
	partition *lruPartition
	entry     *entry
	table     Table

	released bool
	mu       sync.Mutex
}

// Release drops this handle's reference. Calling it more than once is a
// no-op, matching the original's idempotent Unref.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}

	h.released = true
	h.mu.Unlock()

	h.partition.release(h.entry)
}

// Table returns the cached table this handle borrows.
func (h *Handle) Table() Table {
	return h.table
}
