package aioprefetch_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/s1van/leveldb-mirror/internal/aioprefetch"
)

type fakeReader struct {
	delay time.Duration
	data  []byte
	err   error
}

func (r *fakeReader) ReadAt(offset int64, n int) ([]byte, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	if r.err != nil {
		return nil, r.err
	}

	end := offset + int64(n)
	if end > int64(len(r.data)) {
		end = int64(len(r.data))
	}

	return r.data[offset:end], nil
}

func Test_Unit_SubmitWait_ReturnsReadResult(t *testing.T) {
	t.Parallel()

	r := &fakeReader{data: []byte("abcdefgh")}
	h := aioprefetch.Submit(r, 2, 4)

	got, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, "cdef", string(got))
}

func Test_Unit_SubmitWait_PropagatesReadError(t *testing.T) {
	t.Parallel()

	r := &fakeReader{err: errors.New("disk error")}
	h := aioprefetch.Submit(r, 0, 4)

	_, err := h.Wait()
	require.Error(t, err)
}

func Test_Unit_IsCompleted_FalseUntilDone(t *testing.T) {
	t.Parallel()

	r := &fakeReader{delay: 30 * time.Millisecond, data: []byte("xyz")}
	h := aioprefetch.Submit(r, 0, 3)

	require.False(t, h.IsCompleted())

	_, err := h.Wait()
	require.NoError(t, err)
	require.True(t, h.IsCompleted())
}

func Test_Unit_Outstanding_TracksInFlightPrefetches(t *testing.T) {
	r := &fakeReader{delay: 30 * time.Millisecond, data: []byte("xyz")}

	before := aioprefetch.Outstanding.Load()
	h := aioprefetch.Submit(r, 0, 3)
	require.Equal(t, before+1, aioprefetch.Outstanding.Load())

	_, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, before, aioprefetch.Outstanding.Load())
}
