package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(Config{MaxWorkers: 2, QueueSize: 4}, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	var completed int64
	for i := 0; i < 4; i++ {
		err := p.Submit(Task{
			ID: "t",
			Execute: func(ctx context.Context) error {
				atomic.AddInt64(&completed, 1)
				return nil
			},
		})
		require.NoError(t, err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&completed) < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.EqualValues(t, 4, atomic.LoadInt64(&completed))
}

func TestPoolSubmitBeforeStartFails(t *testing.T) {
	p := NewPool(Config{MaxWorkers: 1}, nil)
	err := p.Submit(Task{ID: "x", Execute: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolNotRunning)
}

func TestPoolObserverReceivesResult(t *testing.T) {
	var gotErr error
	var calls int64
	p := NewPool(Config{MaxWorkers: 1}, func(task Task, duration time.Duration, err error) {
		atomic.AddInt64(&calls, 1)
		gotErr = err
	})
	require.NoError(t, p.Start())
	defer p.Stop()

	boom := errors.New("boom")
	require.NoError(t, p.Submit(Task{ID: "fail", Execute: func(ctx context.Context) error { return boom }}))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&calls) < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.ErrorIs(t, gotErr, boom)
}

func TestPoolRunExecutesBatchAndStops(t *testing.T) {
	p := NewPool(Config{MaxWorkers: 2}, nil)
	var completed int64
	tasks := make([]Task, 5)
	for i := range tasks {
		tasks[i] = Task{
			ID: "batch",
			Execute: func(ctx context.Context) error {
				atomic.AddInt64(&completed, 1)
				return nil
			},
		}
	}
	require.NoError(t, p.Run(tasks))
	// Run has already waited for every accepted task; this is only a margin.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 5, atomic.LoadInt64(&completed))
	assert.False(t, p.Stats().IsRunning, "pool should be stopped after Run returns")
}

func TestPoolQueueFullReturnsError(t *testing.T) {
	p := NewPool(Config{MaxWorkers: 1, QueueSize: 1}, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	block := make(chan struct{})
	p.Submit(Task{ID: "block", Execute: func(ctx context.Context) error {
		<-block
		return nil
	}})
	// Once dispatched, the pool holds at most four tasks: one executing, one
	// in the worker's channel, one in the dispatcher's blocking send, and one
	// in the queue channel. Fill those so the next Submit must fail.
	p.Submit(Task{ID: "fill-worker", Execute: func(ctx context.Context) error { return nil }})
	p.Submit(Task{ID: "fill-dispatcher", Execute: func(ctx context.Context) error { return nil }})
	p.Submit(Task{ID: "fill-queue", Execute: func(ctx context.Context) error { return nil }})
	err := p.Submit(Task{ID: "overflow", Execute: func(ctx context.Context) error { return nil }})
	close(block)
	assert.Error(t, err, "expected an error once the queue saturates")
}
