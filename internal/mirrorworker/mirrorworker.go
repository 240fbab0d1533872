// Package mirrorworker implements the single-consumer background task that
// drains internal/mirrorqueue and performs the mirror-side filesystem
// operations. Mirror-side errors are logged and dropped — the primary is
// the source of truth, and blocking the foreground on a mirror hiccup would
// defeat the whole pipeline.
package mirrorworker

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/s1van/leveldb-mirror/internal/mirrorqueue"
	"github.com/s1van/leveldb-mirror/internal/sstfile"
)

// Worker drains one mirrorqueue.Queue until a Halt op is dispatched or its
// context is canceled.
type Worker struct {
	queue *mirrorqueue.Queue
	log   *slog.Logger
}

// New returns a Worker draining queue, logging dropped mirror errors to
// logger (slog.Default() if nil).
func New(queue *mirrorqueue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{queue: queue, log: logger}
}

// Run dispatches operations until a Halt is drained or ctx is canceled,
// whichever comes first. Ops enqueued before a Halt always complete first,
// since the queue is strict FIFO and Run only checks ctx between dequeues,
// never mid-drain.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		op, ok := w.queue.Dequeue()
		if !ok {
			continue
		}

		if w.dispatch(op) {
			return
		}
	}
}

// dispatch handles one operation, returning true iff it was Halt.
func (w *Worker) dispatch(op *mirrorqueue.Op) bool {
	switch op.Kind {
	case mirrorqueue.Append:
		if err := op.Target.Append(op.Payload); err != nil {
			w.log.Warn("mirror append failed, dropped", "op", "append", "error", err)
		}

	case mirrorqueue.Sync:
		// Mirror syncs are always asynchronous: the primary's synchronous
		// sync already provides the durability barrier the caller observes.
		if err := op.Target.Sync(sstfile.FlagAsync); err != nil {
			w.log.Warn("mirror sync failed, dropped", "op", "sync", "error", err)
		}

	case mirrorqueue.Close:
		if err := op.Target.Close(); err != nil {
			w.log.Warn("mirror close failed, dropped", "op", "close", "error", err)
		}

	case mirrorqueue.Delete:
		if err := os.Remove(op.Path); err != nil {
			w.log.Warn("mirror delete failed, dropped", "op", "delete", "path", op.Path, "error", err)
		}

	case mirrorqueue.Rename:
		if err := os.Rename(op.RenameFrom, op.RenameTo); err != nil {
			w.log.Warn("mirror rename failed, dropped", "op", "rename", "from", op.RenameFrom, "to", op.RenameTo, "error", err)
		}

	case mirrorqueue.Truncate:
		if err := unix.Ftruncate(op.FD, op.Size); err != nil {
			w.log.Warn("mirror truncate failed, dropped", "op", "truncate", "fd", op.FD, "error", err)
		}

	case mirrorqueue.BufSync:
		if _, err := unix.Pwrite(op.FD, op.Payload, op.Offset); err != nil {
			w.log.Warn("mirror buf_sync pwrite failed, dropped", "op", "buf_sync", "fd", op.FD, "error", err)
		} else if err := unix.Fdatasync(op.FD); err != nil {
			w.log.Warn("mirror buf_sync fdatasync failed, dropped", "op", "buf_sync", "fd", op.FD, "error", err)
		}

	case mirrorqueue.BufClose:
		if err := unix.Close(op.FD); err != nil {
			w.log.Warn("mirror buf_close failed, dropped", "op", "buf_close", "fd", op.FD, "error", err)
		}

	case mirrorqueue.Halt:
		return true
	}

	return false
}
