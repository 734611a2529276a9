package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/internal/pkg/queue"
)

type countingHandler struct {
	mu      sync.Mutex
	seen    map[int64]int
	panicOn int64
}

func (h *countingHandler) Process(ctx context.Context, msg *queue.JobMessage) error {
	h.mu.Lock()
	if h.seen == nil {
		h.seen = make(map[int64]int)
	}
	h.seen[msg.JobID]++
	h.mu.Unlock()

	if msg.JobID == h.panicOn {
		panic("boom")
	}
	return nil
}

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.seen {
		n += c
	}
	return n
}

func TestPool_ProcessesQueuedJobs(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := queue.NewQueue(client, "pool_test")
	for i := int64(1); i <= 6; i++ {
		require.NoError(t, q.Push(context.Background(), &queue.JobMessage{JobID: i, AnalysisID: i}))
	}

	handler := &countingHandler{panicOn: 3}
	pool := NewPool(q, handler, 3)
	pool.popTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return handler.total() == 6 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	for i := int64(1); i <= 6; i++ {
		assert.Equal(t, 1, handler.seen[i], "job %d", i)
	}
	length, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, length)
}

type flakySource struct {
	calls atomic.Int32
}

func (s *flakySource) Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error) {
	if s.calls.Add(1) == 1 {
		return nil, errors.New("connection refused")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func TestPool_StopsOnCancelAfterSourceError(t *testing.T) {
	src := &flakySource{}
	pool := NewPool(src, &countingHandler{}, 1)
	pool.popTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, pool.Run(ctx))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.GreaterOrEqual(t, src.calls.Load(), int32(1))
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(&flakySource{}, &countingHandler{}, 0)
	assert.Equal(t, 1, pool.workers)
	assert.Equal(t, 5*time.Second, pool.popTimeout)
}
