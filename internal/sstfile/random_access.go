package sstfile

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/s1van/leveldb-mirror/internal/aioprefetch"
	"github.com/s1van/leveldb-mirror/internal/status"
)

// RandomAccessFile is satisfied by all three reader variants below.
type RandomAccessFile interface {
	ReadAt(offset int64, n int) ([]byte, error)
	Close() error
}

// MmapRandomAccessFile maps the whole file read-only once at open time and
// serves reads as direct slices into it, grounded on PosixMmapReadableFile.
type MmapRandomAccessFile struct {
	filename string
	base     []byte
	limiter  *MmapLimiter
}

// NewMmapRandomAccessFile mmaps filename's fd for the file's full length.
// limiter must have a free slot; the caller is expected to have already
// checked limiter.Acquire() before choosing this variant over pread.
func NewMmapRandomAccessFile(filename string, fd *os.File, length int64, limiter *MmapLimiter) (*MmapRandomAccessFile, error) {
	base, err := unix.Mmap(int(fd.Fd()), 0, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, status.IOError(filename, err)
	}

	return &MmapRandomAccessFile{filename: filename, base: base, limiter: limiter}, nil
}

// ReadAt returns a slice of the mapped region; the slice aliases the mapping
// and is only valid until Close.
func (f *MmapRandomAccessFile) ReadAt(offset int64, n int) ([]byte, error) {
	if offset < 0 || offset > int64(len(f.base)) {
		return nil, status.InvalidArgumentf("%s: offset %d out of range", f.filename, offset)
	}

	end := offset + int64(n)
	if end > int64(len(f.base)) {
		end = int64(len(f.base))
	}

	return f.base[offset:end], nil
}

// Close unmaps the region and releases its limiter slot.
func (f *MmapRandomAccessFile) Close() error {
	err := unix.Munmap(f.base)
	if f.limiter != nil {
		f.limiter.Release()
	}

	if err != nil {
		return status.IOError(f.filename, err)
	}

	return nil
}

// PreadRandomAccessFile reads via pread(2) on every call, with no mapping
// and no read-ahead. This is the fallback variant used once MmapLimiter runs
// out of slots, grounded on PosixRandomAccessFile.
type PreadRandomAccessFile struct {
	mu       sync.Mutex
	filename string
	file     *os.File
}

// NewPreadRandomAccessFile opens filename for read-only pread access.
func NewPreadRandomAccessFile(filename string) (*PreadRandomAccessFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, status.IOError(filename, err)
	}

	return &PreadRandomAccessFile{filename: filename, file: f}, nil
}

// ReadAt issues a single pread for up to n bytes at offset; a short read at
// EOF returns fewer bytes with a nil error, matching leveldb's Read contract.
func (f *PreadRandomAccessFile) ReadAt(offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)

	f.mu.Lock()
	got, err := unix.Pread(int(f.file.Fd()), buf, offset)
	f.mu.Unlock()

	if err != nil {
		return nil, status.IOError(f.filename, err)
	}

	return buf[:got], nil
}

// Close closes the underlying descriptor.
func (f *PreadRandomAccessFile) Close() error {
	if err := f.file.Close(); err != nil {
		return status.IOError(f.filename, err)
	}

	return nil
}

// PrefetchRandomAccessFile is the mirror-read variant: at open time it
// submits an asynchronous whole-file read through internal/aioprefetch
// instead of mapping or issuing per-call preads, so the read-ahead overlaps
// with whatever the caller does before its first ReadAt. The first ReadAt
// waits on the AIO handle; every ReadAt after that just slices the buffer
// the prefetch already filled, grounded on the mirror-path prefetch
// described alongside PosixMmapReadableFile.
type PrefetchRandomAccessFile struct {
	filename string
	source   *PreadRandomAccessFile
	handle   *aioprefetch.Handle

	mu   sync.Mutex
	buf  []byte
	err  error
	done bool
}

// NewPrefetchRandomAccessFile opens filename and submits an async read of
// its first size bytes.
func NewPrefetchRandomAccessFile(filename string, size int64) (*PrefetchRandomAccessFile, error) {
	source, err := NewPreadRandomAccessFile(filename)
	if err != nil {
		return nil, err
	}

	f := &PrefetchRandomAccessFile{filename: filename, source: source}
	f.handle = aioprefetch.Submit(source, 0, int(size))

	return f, nil
}

// ReadAt waits on the outstanding prefetch (a no-op if it already finished)
// and slices the result. Every call after the first sees the same buffer.
func (f *PrefetchRandomAccessFile) ReadAt(offset int64, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.done {
		f.buf, f.err = f.handle.Wait()
		f.done = true
	}

	if f.err != nil {
		return nil, f.err
	}

	if offset < 0 || offset > int64(len(f.buf)) {
		return nil, status.InvalidArgumentf("%s: offset %d out of range", f.filename, offset)
	}

	end := offset + int64(n)
	if end > int64(len(f.buf)) {
		end = int64(len(f.buf))
	}

	return f.buf[offset:end], nil
}

// Close waits for an unfinished prefetch to complete, since it reads through
// the same descriptor, and then closes that descriptor.
func (f *PrefetchRandomAccessFile) Close() error {
	_, _ = f.handle.Wait()

	return f.source.Close()
}
