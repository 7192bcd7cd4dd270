package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ExecutesInSubmissionOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []uint32
	)
	q := NewQueue(func(task Task) {
		mu.Lock()
		got = append(got, task.Hash)
		mu.Unlock()
	})
	defer q.Close()

	for i := uint32(0); i < 100; i++ {
		require.True(t, q.Submit(NewWriteTask(i, "", nil)))
	}
	q.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, hash := range got {
		assert.Equal(t, uint32(i), hash)
	}
}

func TestQueue_DrainWaitsForInFlightTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := false

	var mu sync.Mutex
	q := NewQueue(func(Task) {
		close(started)
		<-release
		mu.Lock()
		done = true
		mu.Unlock()
	})
	defer q.Close()

	q.Submit(NewWriteTask(1, "", nil))
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	q.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
}

func TestQueue_CloseFlushesPendingTasks(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	q := NewQueue(func(Task) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		require.True(t, q.Submit(NewWriteTask(uint32(i), "", nil)))
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}

func TestQueue_SubmitAfterCloseRejected(t *testing.T) {
	q := NewQueue(func(Task) {})
	q.Close()
	assert.False(t, q.Submit(NewWriteTask(1, "", nil)))
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := NewQueue(func(Task) {})
	q.Close()
	q.Close()
}

func TestQueue_DrainOnIdleQueueReturns(t *testing.T) {
	q := NewQueue(func(Task) {})
	defer q.Close()
	q.Drain()
}
