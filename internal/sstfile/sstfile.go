// Package sstfile implements the mmap-windowed append-only writable file
// and the three random-access reader variants, grounded on
// PosixMmapFile_/PosixMmapReadableFile/PosixRandomAccessFile in
// original_source/util/env_posix.cc.
package sstfile

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/s1van/leveldb-mirror/internal/status"
)

// Sync flag values for WritableFile.Sync and the mirror worker's Sync
// dispatch. Flags are passed straight through to unix.Msync; a zero flags
// argument is treated as FlagSync, as env_posix.cc treats an unset flags
// argument as MS_SYNC.
const (
	FlagSync  = unix.MS_SYNC
	FlagAsync = unix.MS_ASYNC
)

const (
	initialWindowSize = 64 * 1024
	maxWindowSize     = 1 << 20
)

// pageSize is the host's page size, used to align the partial msync in Sync
// to whole pages, matching env_posix.cc's TruncateToPageBoundary.
var pageSize = unix.Getpagesize()

// truncateToPageBoundary rounds pos down to the nearest multiple of size.
func truncateToPageBoundary(pos, size int) int {
	return pos - (pos % size)
}

// MmapLimiter bounds the number of concurrently mmap'd regions, mirroring
// env_posix.cc's MmapLimiter (1000 slots on 64-bit builds, since address
// space is otherwise cheap; this port always runs in a 64-bit address space,
// so there is no 32-bit fallback to none).
type MmapLimiter struct {
	mu        sync.Mutex
	available int
}

// NewMmapLimiter returns a limiter with the given number of slots.
func NewMmapLimiter(slots int) *MmapLimiter {
	return &MmapLimiter{available: slots}
}

// DefaultMmapLimiter returns the 1000-slot limiter env_posix.cc uses.
func DefaultMmapLimiter() *MmapLimiter {
	return NewMmapLimiter(1000)
}

// Acquire reserves a slot, reporting whether one was available.
func (l *MmapLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.available <= 0 {
		return false
	}

	l.available--

	return true
}

// Release returns a previously acquired slot.
func (l *MmapLimiter) Release() {
	l.mu.Lock()
	l.available++
	l.mu.Unlock()
}

// WritableFile is an append-only file backed by a growable mmap window, doubling
// from initialWindowSize up to maxWindowSize as Append outgrows the current
// mapping, doubling on each remap up to a 1MiB cap.
type WritableFile struct {
	mu sync.Mutex

	file     *os.File
	filename string
	limiter  *MmapLimiter

	usingMmap bool

	base        []byte // current mapped window
	windowSize  int    // len(base)
	fileOffset  int64  // file offset where the current window begins
	writePos    int    // write cursor within base
	syncedPos   int    // within base, bytes already msync'd up to
	pendingSync bool   // a window holding unsynced data was unmapped; next Sync needs an fsync
	length      int64  // logical end of data (<= fileOffset+writePos)
}

// NewWritableFile opens filename for append, growing it via a doubling mmap
// window when limiter has a free slot, otherwise falling back to buffered
// pwrite (env_posix.cc's non-mmap WritableFile path).
func NewWritableFile(filename string, limiter *MmapLimiter) (*WritableFile, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, status.IOError(filename, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, status.IOError(filename, err)
	}

	wf := &WritableFile{
		file:      f,
		filename:  filename,
		limiter:   limiter,
		usingMmap: limiter != nil && limiter.Acquire(),
		length:    fi.Size(),
	}

	if wf.usingMmap {
		wf.fileOffset = wf.length
		if err := wf.mapNewRegion(initialWindowSize); err != nil {
			limiter.Release()
			f.Close()

			return nil, err
		}
	}

	return wf, nil
}

// mapNewRegion grows the backing file to fileOffset+size and maps that
// window, releasing whatever window was previously mapped.
func (f *WritableFile) mapNewRegion(size int) error {
	if err := f.unmapCurrentRegion(); err != nil {
		return err
	}

	if err := unix.Ftruncate(int(f.file.Fd()), f.fileOffset+int64(size)); err != nil {
		return status.IOError(f.filename, err)
	}

	base, err := unix.Mmap(int(f.file.Fd()), f.fileOffset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return status.IOError(f.filename, err)
	}

	f.base = base
	f.windowSize = size
	f.writePos = 0
	f.syncedPos = 0

	return nil
}

func (f *WritableFile) unmapCurrentRegion() error {
	if f.base == nil {
		return nil
	}

	// Whatever of this window was written but never msync'd can no longer be
	// flushed by msync once unmapped; Sync must fall back to fsync'ing the
	// whole file for it.
	if f.syncedPos < f.writePos {
		f.pendingSync = true
	}

	// Advance fileOffset past the bytes this window actually holds; the
	// mapped-but-unwritten tail is left in the file until Close truncates it.
	used := int64(f.writePos)

	if err := unix.Munmap(f.base); err != nil {
		return status.IOError(f.filename, err)
	}

	f.base = nil
	f.fileOffset += used

	return nil
}

// Append writes data, growing and remapping the window as needed. data is
// not retained past the call.
func (f *WritableFile) Append(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.usingMmap {
		n, err := f.file.Write(data)
		f.length += int64(n)

		if err != nil {
			return status.IOError(f.filename, err)
		}

		return nil
	}

	for len(data) > 0 {
		avail := f.windowSize - f.writePos
		if avail == 0 {
			next := f.windowSize * 2
			if next > maxWindowSize {
				next = maxWindowSize
			}

			// Already at the cap: reuse it rather than adding
			// initialWindowSize again, which would grow past maxWindowSize
			// forever.
			if next <= f.windowSize {
				next = maxWindowSize
			}

			if err := f.mapNewRegion(next); err != nil {
				return err
			}

			avail = f.windowSize
		}

		n := avail
		if n > len(data) {
			n = len(data)
		}

		copy(f.base[f.writePos:], data[:n])
		f.writePos += n
		data = data[n:]

		if f.fileOffset+int64(f.writePos) > f.length {
			f.length = f.fileOffset + int64(f.writePos)
		}
	}

	return nil
}

// Sync flushes dirty data to disk. flags is passed to msync as-is; FlagSync
// (0 is remapped to it) blocks until the flush completes, FlagAsync
// schedules it and returns immediately. On the non-mmap fallback path it
// always fsyncs, since that path has no window to track a cursor in.
// On the mmap path a file.Sync() only runs once, covering whatever windows
// were unmapped with unsynced data still in them (pendingSync); the
// currently-mapped window is flushed with a page-aligned partial msync over
// just the bytes appended since the last Sync, advancing syncedPos so the
// next Sync only covers what's new, grounded on PosixMmapFile_::Sync's
// last_sync_/TruncateToPageBoundary cursor.
func (f *WritableFile) Sync(flags int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if flags == 0 {
		flags = FlagSync
	}

	if !f.usingMmap {
		if err := f.file.Sync(); err != nil {
			return status.IOError(f.filename, err)
		}

		return nil
	}

	if f.pendingSync {
		if err := f.file.Sync(); err != nil {
			return status.IOError(f.filename, err)
		}

		f.pendingSync = false
	}

	if f.base == nil || f.writePos <= f.syncedPos {
		return nil
	}

	p1 := truncateToPageBoundary(f.syncedPos, pageSize)
	p2 := truncateToPageBoundary(f.writePos-1, pageSize)
	f.syncedPos = f.writePos

	if err := unix.Msync(f.base[p1:p2+pageSize], flags); err != nil {
		return status.IOError(f.filename, err)
	}

	return nil
}

// Close unmaps the current window, truncates the file to its logical
// length (dropping any over-allocated mmap tail), and closes the descriptor.
func (f *WritableFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error

	if f.usingMmap {
		if err := f.unmapCurrentRegion(); err != nil && firstErr == nil {
			firstErr = err
		}

		if f.limiter != nil {
			f.limiter.Release()
		}

		if err := unix.Ftruncate(int(f.file.Fd()), f.length); err != nil && firstErr == nil {
			firstErr = status.IOError(f.filename, err)
		}
	}

	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = status.IOError(f.filename, err)
	}

	return firstErr
}

// Name returns the path this file was opened with.
func (f *WritableFile) Name() string {
	return f.filename
}
