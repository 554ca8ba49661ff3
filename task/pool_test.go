package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPool_RunsQueuedIDs(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	p := NewPool(2, 10, func(ctx context.Context, id string) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}, zaptest.NewLogger(t))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Enqueue(id))
	}
	p.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(1, 1, func(context.Context, string) {}, zaptest.NewLogger(t))
	require.NoError(t, p.Enqueue("a"))
	assert.ErrorIs(t, p.Enqueue("b"), ErrQueueFull)
	assert.Equal(t, 1, p.Len())
}

func TestPool_Shutdown(t *testing.T) {
	release := make(chan struct{})
	var running atomic.Int32
	p := NewPool(1, 5, func(ctx context.Context, id string) {
		running.Add(1)
		<-release
	}, zaptest.NewLogger(t))
	p.Start(context.Background())
	require.NoError(t, p.Enqueue("busy"))
	require.Eventually(t, func() bool { return running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Enqueue("queued"))

	t.Run("deadline while a task is in flight", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	})

	assert.ErrorIs(t, p.Enqueue("late"), ErrQueueClosed)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(1), running.Load(), "queued ids are not started after shutdown")
}
