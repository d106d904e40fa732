package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/hdlwire/rpc/common"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeliversResponse(t *testing.T) {
	c := New[string]()
	conn := uuid.New()

	f, err := c.CreatePending(conn, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pending(conn))
	assert.False(t, f.IsDone())

	assert.True(t, c.Resolve(conn, 7, "pong"))
	assert.Equal(t, 0, c.Pending(conn))

	resp, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "pong", resp)
}

func TestDuplicateRequestID(t *testing.T) {
	c := New[string]()
	conn := uuid.New()

	_, err := c.CreatePending(conn, 1)
	require.NoError(t, err)

	_, err = c.CreatePending(conn, 1)
	assert.ErrorIs(t, err, common.ErrDuplicateRequestID)
	assert.False(t, common.IsConnectionFatal(err))

	// same id on another connection is fine
	_, err = c.CreatePending(uuid.New(), 1)
	assert.NoError(t, err)

	// the id can be reused once resolved
	c.Resolve(conn, 1, "x")
	_, err = c.CreatePending(conn, 1)
	assert.NoError(t, err)
}

func TestResolveIsIdempotent(t *testing.T) {
	c := New[int]()
	conn := uuid.New()

	f, err := c.CreatePending(conn, 3)
	require.NoError(t, err)

	assert.True(t, c.Resolve(conn, 3, 1))
	assert.False(t, c.Resolve(conn, 3, 2), "second response is stale")
	assert.False(t, c.Resolve(uuid.New(), 3, 3), "unknown connection is stale")

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v, "first response wins")
}

func TestFailAllForConnection(t *testing.T) {
	c := New[string]()
	conn := uuid.New()
	other := uuid.New()

	futures := make([]*Future[string], 3)
	for i := range futures {
		f, err := c.CreatePending(conn, uint32(i+1))
		require.NoError(t, err)
		futures[i] = f
	}
	survivor, err := c.CreatePending(other, 1)
	require.NoError(t, err)

	reason := errors.New("connection reset by peer")
	assert.Equal(t, 3, c.FailAllForConnection(conn, reason))

	for i, f := range futures {
		select {
		case <-f.Done():
		case <-time.After(time.Second):
			t.Fatalf("future %d was not failed", i)
		}
		_, err := f.Result()
		assert.ErrorIs(t, err, common.ErrConnectionClosed)
		assert.ErrorIs(t, err, reason)
	}

	assert.Equal(t, 0, c.Pending(conn))
	assert.False(t, survivor.IsDone(), "other connections are untouched")
	assert.Equal(t, 1, c.Connections())

	// a late response for the failed connection is stale
	assert.False(t, c.Resolve(conn, 1, "late"))
	assert.Equal(t, 0, c.FailAllForConnection(conn, reason))
}

func TestCancel(t *testing.T) {
	c := New[string]()
	conn := uuid.New()

	f, err := c.CreatePending(conn, 9)
	require.NoError(t, err)

	assert.True(t, c.Cancel(conn, 9))
	assert.False(t, c.Cancel(conn, 9))
	assert.False(t, c.Resolve(conn, 9, "late"))
	assert.False(t, f.IsDone(), "cancel does not resolve")
}

func TestFail(t *testing.T) {
	c := New[string]()
	conn := uuid.New()

	f, err := c.CreatePending(conn, 2)
	require.NoError(t, err)

	cause := errors.New("remote error")
	assert.True(t, c.Fail(conn, 2, cause))
	assert.False(t, c.Fail(conn, 2, cause))

	_, err = f.Result()
	assert.ErrorIs(t, err, cause)
}

func TestExpireWithMockClock(t *testing.T) {
	mock := clock.NewMock()
	c := New[string](WithClock(mock))
	conn := uuid.New()

	short, err := c.CreatePendingWithTimeout(conn, 1, time.Second)
	require.NoError(t, err)
	long, err := c.CreatePendingWithTimeout(conn, 2, time.Minute)
	require.NoError(t, err)
	forever, err := c.CreatePending(conn, 3)
	require.NoError(t, err)

	assert.Equal(t, 0, c.Expire())

	mock.Add(2 * time.Second)
	assert.Equal(t, 1, c.Expire())

	_, err = short.Result()
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.False(t, long.IsDone())
	assert.Equal(t, 2, c.Pending(conn))

	// a resolved entry is no longer scheduled
	assert.True(t, c.Resolve(conn, 2, "ok"))
	mock.Add(time.Hour)
	assert.Equal(t, 0, c.Expire())
	assert.False(t, forever.IsDone())

	v, err := long.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRunExpiresOnTick(t *testing.T) {
	mock := clock.NewMock()
	c := New[string](WithClock(mock))
	conn := uuid.New()

	f, err := c.CreatePendingWithTimeout(conn, 1, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, time.Second)

	assert.Eventually(t, func() bool {
		mock.Add(time.Second)
		return f.IsDone()
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.Result()
	assert.ErrorIs(t, err, common.ErrTimeout)
}

func TestAwait(t *testing.T) {
	c := New[string]()
	conn := uuid.New()

	t.Run("response", func(t *testing.T) {
		f, err := c.CreatePending(conn, 1)
		require.NoError(t, err)

		go func() {
			time.Sleep(10 * time.Millisecond)
			c.Resolve(conn, 1, "hello")
		}()

		v, err := c.Await(context.Background(), conn, 1, f)
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	})

	t.Run("deadline", func(t *testing.T) {
		f, err := c.CreatePending(conn, 2)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = c.Await(ctx, conn, 2, f)
		assert.ErrorIs(t, err, common.ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, c.Pending(conn), "timed out entry is canceled")
		assert.False(t, c.Resolve(conn, 2, "late"))
	})

	t.Run("canceled", func(t *testing.T) {
		f, err := c.CreatePending(conn, 3)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = c.Await(ctx, conn, 3, f)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, common.ErrTimeout)
	})
}

func TestFutureWait(t *testing.T) {
	f := newFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, f.complete(5, nil))
	assert.False(t, f.complete(6, errors.New("late")))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

// TestConcurrentCreateResolve runs many request/response pairs in parallel on
// a handful of connections
func TestConcurrentCreateResolve(t *testing.T) {
	c := New[uint32]()
	conns := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	const perConn = 500
	var wg sync.WaitGroup
	for _, conn := range conns {
		for id := uint32(0); id < perConn; id++ {
			wg.Add(1)
			go func(conn uuid.UUID, id uint32) {
				defer wg.Done()
				f, err := c.CreatePending(conn, id)
				if err != nil {
					t.Errorf("create %d: %v", id, err)
					return
				}
				go c.Resolve(conn, id, id*2)
				v, err := f.Result()
				if err != nil || v != id*2 {
					t.Errorf("request %d: got %d, %v", id, v, err)
				}
			}(conn, id)
		}
	}
	wg.Wait()

	for _, conn := range conns {
		assert.Equal(t, 0, c.Pending(conn))
	}
}
