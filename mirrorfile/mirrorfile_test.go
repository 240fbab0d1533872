package mirrorfile_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/s1van/leveldb-mirror/internal/mirrorqueue"
	"github.com/s1van/leveldb-mirror/internal/mirrorworker"
	"github.com/s1van/leveldb-mirror/internal/sstfile"
	"github.com/s1van/leveldb-mirror/mirrorfile"
)

type spyWriter struct {
	appends [][]byte
	syncs   []int
	closed  bool
	failErr error
}

func (w *spyWriter) Append(data []byte) error {
	if w.failErr != nil {
		return w.failErr
	}

	w.appends = append(w.appends, append([]byte(nil), data...))

	return nil
}

func (w *spyWriter) Sync(flags int) error {
	w.syncs = append(w.syncs, flags)

	return nil
}

func (w *spyWriter) Close() error {
	w.closed = true

	return nil
}

func Test_Unit_Append_NoMirror_OnlyWritesPrimary(t *testing.T) {
	t.Parallel()

	primary := &spyWriter{}
	f := mirrorfile.New(primary, nil, nil, false, nil)

	require.NoError(t, f.Append([]byte("x")))
	require.Equal(t, [][]byte{[]byte("x")}, primary.appends)
}

func Test_Unit_Append_PrimaryFails_MirrorNeverTouched(t *testing.T) {
	t.Parallel()

	primary := &spyWriter{failErr: errors.New("disk full")}
	mirror := &spyWriter{}
	f := mirrorfile.New(primary, mirror, nil, false, nil)

	require.Error(t, f.Append([]byte("x")))
	require.Empty(t, mirror.appends)
}

func Test_Unit_Append_InlineMirror_ReplicatesSynchronously(t *testing.T) {
	t.Parallel()

	primary := &spyWriter{}
	mirror := &spyWriter{}
	f := mirrorfile.New(primary, mirror, nil, false, nil)

	require.NoError(t, f.Append([]byte("payload")))
	require.Equal(t, "payload", string(mirror.appends[0]))
}

func Test_Unit_Append_InlineMirrorFailure_LoggedAndDropped(t *testing.T) {
	t.Parallel()

	primary := &spyWriter{}
	mirror := &spyWriter{failErr: errors.New("mirror offline")}

	var logBuf bytes.Buffer
	f := mirrorfile.New(primary, mirror, nil, false, slog.New(slog.NewTextHandler(&logBuf, nil)))

	require.NoError(t, f.Append([]byte("x")))
	require.Contains(t, logBuf.String(), "mirror append failed")
}

func Test_Unit_Append_QueuedMirror_DeliversViaWorker(t *testing.T) {
	t.Parallel()

	primary := &spyWriter{}
	mirror := &spyWriter{}
	q := mirrorqueue.New()
	f := mirrorfile.New(primary, mirror, q, true, nil)

	require.NoError(t, f.Append([]byte("queued")))
	require.NoError(t, f.Close())
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Halt})

	w := mirrorworker.New(q, nil)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not drain the queue")
	}

	require.Equal(t, "queued", string(mirror.appends[0]))
	require.True(t, mirror.closed)
}

func Test_Unit_Sync_MirrorAlwaysAsync(t *testing.T) {
	t.Parallel()

	primary := &spyWriter{}
	mirror := &spyWriter{}
	f := mirrorfile.New(primary, mirror, nil, false, nil)

	require.NoError(t, f.Sync(0))
	require.Len(t, mirror.syncs, 1)
	require.Equal(t, sstfile.FlagAsync, mirror.syncs[0])
}
