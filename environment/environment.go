// Package environment provides the filesystem-facing contract the engine
// runs all primary/mirror I/O through, grounded on
// original_source/util/env_posix.cc's PosixEnv. Metadata operations
// (existence, size, directory listing, delete, rename) go through afero.Fs
// so they can be driven against an in-memory filesystem in tests; file
// construction for reading and writing goes straight to the real descriptor
// layer in internal/sstfile, which needs actual fds to mmap.
package environment

import (
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/s1van/leveldb-mirror/internal/mirrorqueue"
	"github.com/s1van/leveldb-mirror/internal/obslog"
	"github.com/s1van/leveldb-mirror/internal/sstfile"
	"github.com/s1van/leveldb-mirror/internal/sstpath"
	"github.com/s1van/leveldb-mirror/internal/status"
)

// Environment is the file-construction and metadata contract used
// throughout the engine.
type Environment struct {
	fsys    afero.Fs
	limiter *sstfile.MmapLimiter

	mu     sync.Mutex
	locked map[string]*os.File

	// Mirror fan-out for Delete/Rename, configured via EnableMirror.
	// mirrorDir is empty and mirrorEnabled is false until then, so
	// IsMirrorEligible always returns false and the two methods behave
	// exactly as they do with no mirror attached.
	mirrorDir     string
	mirrorEnabled bool
	queue         *mirrorqueue.Queue
	useOpqThread  bool
	log           *slog.Logger
}

// New returns an Environment backed by fsys for metadata and limiter for
// mmap slot accounting (sstfile.DefaultMmapLimiter() if nil). Mirroring of
// Delete/Rename is off until EnableMirror is called.
func New(fsys afero.Fs, limiter *sstfile.MmapLimiter) *Environment {
	if limiter == nil {
		limiter = sstfile.DefaultMmapLimiter()
	}

	return &Environment{fsys: fsys, limiter: limiter, locked: make(map[string]*os.File)}
}

// EnableMirror turns on mirror fan-out for Delete and Rename: an eligible
// filename (per sstpath.IsMirrorEligible) also has its delete or rename
// replicated to mirrorDir, either through queue (useOpqThread true, draining
// on the mirror worker's goroutine) or inline on the caller's goroutine,
// matching the UseOpqThread on/off modes mirrorfile.MirroredWritableFile
// uses for Append/Sync/Close.
func (e *Environment) EnableMirror(mirrorDir string, queue *mirrorqueue.Queue, useOpqThread bool, logger *slog.Logger) {
	e.mirrorDir = mirrorDir
	e.mirrorEnabled = true
	e.queue = queue
	e.useOpqThread = useOpqThread
	e.log = obslog.OrDefault(logger)
}

// NewWritableFile opens filename for append, returning a mmap-windowed
// writer.
func (e *Environment) NewWritableFile(filename string) (*sstfile.WritableFile, error) {
	return sstfile.NewWritableFile(filename, e.limiter)
}

// NewRandomAccessFile opens filename for reading. mirror requests the
// prefetch-backed variant (the mirror-read path, which benefits from the
// async whole-file read overlapping with whatever the caller does before its
// first ReadAt); otherwise it prefers the mmap variant while limiter slots
// remain and falls back to pread.
func (e *Environment) NewRandomAccessFile(filename string, mirror bool) (sstfile.RandomAccessFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, status.IOError(filename, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, status.IOError(filename, err)
	}

	if mirror {
		f.Close()
		return sstfile.NewPrefetchRandomAccessFile(filename, fi.Size())
	}

	if e.limiter.Acquire() {
		rf, err := sstfile.NewMmapRandomAccessFile(filename, f, fi.Size(), e.limiter)
		f.Close()

		if err != nil {
			e.limiter.Release()
			return nil, err
		}

		return rf, nil
	}

	f.Close()

	return sstfile.NewPreadRandomAccessFile(filename)
}

// NewSequentialFile opens filename for a forward-only scan.
func (e *Environment) NewSequentialFile(filename string) (*sstfile.SequentialFile, error) {
	return sstfile.NewSequentialFile(filename)
}

// Delete removes filename, also fanning the delete out to the mirror device
// if EnableMirror was called and filename is mirror-eligible.
func (e *Environment) Delete(filename string) error {
	if err := e.fsys.Remove(filename); err != nil {
		return status.IOError(filename, err)
	}

	if sstpath.IsMirrorEligible(filename, e.mirrorEnabled) {
		e.mirrorDelete(sstpath.MirrorPath(filename, e.mirrorDir))
	}

	return nil
}

// Rename moves oldname to newname, also fanning the rename out to the
// mirror device if EnableMirror was called and oldname is mirror-eligible.
func (e *Environment) Rename(oldname, newname string) error {
	if err := e.fsys.Rename(oldname, newname); err != nil {
		return status.IOErrorf(err, "rename %q to %q", oldname, newname)
	}

	if sstpath.IsMirrorEligible(oldname, e.mirrorEnabled) {
		e.mirrorRename(sstpath.MirrorPath(oldname, e.mirrorDir), sstpath.MirrorPath(newname, e.mirrorDir))
	}

	return nil
}

// mirrorDelete fans a primary delete out to the mirror device, either
// through the queue or inline, matching mirrorfile's useOpqThread modes.
func (e *Environment) mirrorDelete(mirrorPath string) {
	if e.useOpqThread {
		e.queue.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Delete, Path: mirrorPath})
		return
	}

	if err := e.fsys.Remove(mirrorPath); err != nil {
		e.log.Warn("mirror delete failed, dropped", "path", mirrorPath, "error", err)
	}
}

// mirrorRename fans a primary rename out to the mirror device, either
// through the queue or inline, matching mirrorfile's useOpqThread modes.
func (e *Environment) mirrorRename(mirrorOld, mirrorNew string) {
	if e.useOpqThread {
		e.queue.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Rename, RenameFrom: mirrorOld, RenameTo: mirrorNew})
		return
	}

	if err := e.fsys.Rename(mirrorOld, mirrorNew); err != nil {
		e.log.Warn("mirror rename failed, dropped", "from", mirrorOld, "to", mirrorNew, "error", err)
	}
}

// FileExists reports whether filename exists.
func (e *Environment) FileExists(filename string) bool {
	ok, _ := afero.Exists(e.fsys, filename)

	return ok
}

// GetFileSize returns filename's size in bytes.
func (e *Environment) GetFileSize(filename string) (int64, error) {
	fi, err := e.fsys.Stat(filename)
	if err != nil {
		return 0, status.IOError(filename, err)
	}

	return fi.Size(), nil
}

// GetChildren lists the entries directly under dir.
func (e *Environment) GetChildren(dir string) ([]string, error) {
	entries, err := afero.ReadDir(e.fsys, dir)
	if err != nil {
		return nil, status.IOError(dir, err)
	}

	names := make([]string, len(entries))
	for i, fi := range entries {
		names[i] = fi.Name()
	}

	return names, nil
}

// Lock acquires an advisory, exclusive, non-blocking lock on filename using
// flock-semantics via fcntl, plus an in-process path set so a second Lock
// call from the same process (which fcntl alone would permit) also fails,
// matching PosixEnv::LockFile's combination of the two.
func (e *Environment) Lock(filename string) error {
	e.mu.Lock()
	if _, already := e.locked[filename]; already {
		e.mu.Unlock()
		return status.InvalidArgumentf("%s: already locked by this process", filename)
	}
	e.mu.Unlock()

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return status.IOError(filename, err)
	}

	lock := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lock); err != nil {
		f.Close()
		return status.IOErrorf(err, "%s: lock held by another process", filename)
	}

	e.mu.Lock()
	e.locked[filename] = f
	e.mu.Unlock()

	return nil
}

// Unlock releases a lock previously acquired with Lock.
func (e *Environment) Unlock(filename string) error {
	e.mu.Lock()
	f, ok := e.locked[filename]
	if ok {
		delete(e.locked, filename)
	}
	e.mu.Unlock()

	if !ok {
		return status.InvalidArgumentf("%s: not locked by this process", filename)
	}

	lock := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: 0, Len: 0}
	err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lock)
	f.Close()

	if err != nil {
		return status.IOError(filename, err)
	}

	return nil
}
