// Package aioprefetch implements an asynchronous read handle modeled on
// POSIX AIO (original_source/util/aio_wrapper.h's AIOWrapper), translated to
// the goroutine-plus-channel idiom since the Go standard library and the
// available ecosystem have no aio_read/aio_error binding — the same
// proactor-style substitution the gaio library uses for async socket I/O.
package aioprefetch

import (
	"sync/atomic"

	"github.com/s1van/leveldb-mirror/internal/status"
)

// Outstanding is the process-wide count of prefetches submitted whose read
// has not yet finished (whether or not Wait was called), mirroring the original's global outstanding-request counter
// that two_level_iterator.cc consults before issuing a new prefetch.
var Outstanding atomic.Int64

// Reader is the subset of a random-access file a Handle reads from.
type Reader interface {
	ReadAt(offset int64, n int) ([]byte, error)
}

// Handle is one in-flight (or completed) asynchronous read.
type Handle struct {
	done   chan struct{}
	result []byte
	err    error
}

// Submit starts an asynchronous read of n bytes at offset from r, returning
// immediately. The read runs on its own goroutine; Wait blocks for its
// result. Outstanding is incremented on Submit and decremented once the read
// finishes, regardless of whether anyone has called Wait yet.
func Submit(r Reader, offset int64, n int) *Handle {
	h := &Handle{done: make(chan struct{})}

	Outstanding.Add(1)

	go func() {
		defer Outstanding.Add(-1)

		h.result, h.err = r.ReadAt(offset, n)
		close(h.done)
	}()

	return h
}

// Wait blocks until the read completes and returns its result.
func (h *Handle) Wait() ([]byte, error) {
	<-h.done

	if h.err != nil {
		return nil, status.IOErrorf(h.err, "aio prefetch")
	}

	return h.result, nil
}

// IsCompleted reports whether the read has finished, without blocking.
func (h *Handle) IsCompleted() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
