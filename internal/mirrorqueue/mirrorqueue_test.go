package mirrorqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/s1van/leveldb-mirror/internal/mirrorqueue"
)

func Test_Unit_Dequeue_FIFOOrder_Success(t *testing.T) {
	t.Parallel()

	q := mirrorqueue.New()
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Delete, Path: "a"})
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Delete, Path: "b"})
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Delete, Path: "c"})

	for _, want := range []string{"a", "b", "c"} {
		op, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, op.Path)
	}
}

func Test_Unit_Dequeue_EmptyQueue_BoundedWakeup(t *testing.T) {
	t.Parallel()

	q := mirrorqueue.New()

	start := time.Now()
	op, ok := q.Dequeue()
	elapsed := time.Since(start)

	require.False(t, ok)
	require.Nil(t, op)
	require.GreaterOrEqual(t, elapsed, mirrorqueue.WakeupInterval)
	require.Less(t, elapsed, 5*mirrorqueue.WakeupInterval)
}

func Test_Unit_Dequeue_WakesImmediatelyOnEnqueue(t *testing.T) {
	t.Parallel()

	q := mirrorqueue.New()

	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		_, _ = q.Dequeue()
		done <- time.Since(start)
	}()

	time.Sleep(2 * time.Millisecond)
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Halt})

	select {
	case elapsed := <-done:
		require.Less(t, elapsed, mirrorqueue.WakeupInterval)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up promptly on enqueue")
	}
}

func Test_Unit_Halt_IsOrderedAfterPriorOps(t *testing.T) {
	t.Parallel()

	q := mirrorqueue.New()
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Append, Payload: []byte("1")})
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Append, Payload: []byte("2")})
	q.Enqueue(&mirrorqueue.Op{Kind: mirrorqueue.Halt})

	var drained []mirrorqueue.Kind
	for {
		op, ok := q.Dequeue()
		if !ok {
			t.Fatal("expected Halt before queue emptied")
		}

		drained = append(drained, op.Kind)
		if op.Kind == mirrorqueue.Halt {
			break
		}
	}

	require.Equal(t, []mirrorqueue.Kind{mirrorqueue.Append, mirrorqueue.Append, mirrorqueue.Halt}, drained)
	require.Zero(t, q.Len())
}

func Test_Unit_Kind_String_Success(t *testing.T) {
	t.Parallel()

	require.Equal(t, "append", mirrorqueue.Append.String())
	require.Equal(t, "halt", mirrorqueue.Halt.String())
	require.Equal(t, "unknown", mirrorqueue.Kind(999).String())
}
