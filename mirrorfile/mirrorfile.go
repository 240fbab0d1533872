// Package mirrorfile implements the mirrored writable file facade that sits
// in front of a primary sstfile.WritableFile and an optional mirror
// sstfile.WritableFile, grounded on env_posix.cc's mirrorCompactionHelper
// call sites inside PosixMmapFile's Append/Sync/Close. The primary path is
// always synchronous and its errors are returned to the caller; the mirror
// path is fire-and-forget — its errors are logged and dropped rather than
// returned, since the mirror worker absorbs mirror-side failures too.
package mirrorfile

import (
	"log/slog"

	"github.com/s1van/leveldb-mirror/internal/mirrorqueue"
	"github.com/s1van/leveldb-mirror/internal/obslog"
	"github.com/s1van/leveldb-mirror/internal/sstfile"
)

// Writer is satisfied by sstfile.WritableFile; accepting the interface here
// keeps this package testable without real mmap'd files.
type Writer interface {
	Append(data []byte) error
	Sync(flags int) error
	Close() error
}

// MirroredWritableFile drives a primary Writer synchronously and, when a
// mirror Writer is present, replicates Append/Sync/Close to it either
// through a mirrorqueue.Queue (background worker drains it) or inline on
// the caller's goroutine, matching the UseOpqThread on/off modes.
type MirroredWritableFile struct {
	primary Writer
	mirror  Writer // nil when mirroring is disabled or this file is ineligible

	queue        *mirrorqueue.Queue
	useOpqThread bool
	log          *slog.Logger
}

// New returns a facade over primary. mirror may be nil, in which case every
// method behaves exactly like primary alone. queue is only consulted when
// useOpqThread is true.
func New(primary Writer, mirror Writer, queue *mirrorqueue.Queue, useOpqThread bool, logger *slog.Logger) *MirroredWritableFile {
	return &MirroredWritableFile{
		primary:      primary,
		mirror:       mirror,
		queue:        queue,
		useOpqThread: useOpqThread,
		log:          obslog.OrDefault(logger),
	}
}

// Append writes data to the primary, returning its error if any. If a mirror
// is attached, a private copy of data is also replicated to it; the caller's
// slice is never retained past this call.
func (f *MirroredWritableFile) Append(data []byte) error {
	if err := f.primary.Append(data); err != nil {
		return err
	}

	if f.mirror == nil {
		return nil
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	if f.useOpqThread {
		f.queue.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Append, Target: f.mirror, Payload: payload})
		return nil
	}

	if err := f.mirror.Append(payload); err != nil {
		f.log.Warn("mirror append failed, dropped", "error", err)
	}

	return nil
}

// Sync flushes the primary with the given flags and returns its error. The
// mirror, if attached, is always synced asynchronously (sstfile.FlagAsync) —
// its own durability lags the primary's by design.
func (f *MirroredWritableFile) Sync(flags int) error {
	if err := f.primary.Sync(flags); err != nil {
		return err
	}

	if f.mirror == nil {
		return nil
	}

	if f.useOpqThread {
		f.queue.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Sync, Target: f.mirror})
		return nil
	}

	if err := f.mirror.Sync(sstfile.FlagAsync); err != nil {
		f.log.Warn("mirror sync failed, dropped", "error", err)
	}

	return nil
}

// Close closes the primary and returns its error. The mirror is closed
// after, its error logged and dropped rather than propagated, since the
// primary close is what the caller's data durability actually depends on.
func (f *MirroredWritableFile) Close() error {
	err := f.primary.Close()

	if f.mirror == nil {
		return err
	}

	if f.useOpqThread {
		f.queue.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Close, Target: f.mirror})
		return err
	}

	if closeErr := f.mirror.Close(); closeErr != nil {
		f.log.Warn("mirror close failed, dropped", "error", closeErr)
	}

	return err
}
