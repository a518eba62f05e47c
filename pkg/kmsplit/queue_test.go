package kmsplit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueTerminatesAfterAllProducers(t *testing.T) {
	const producers, perProducer = 3, 100
	q := NewQueue[int](4, producers)

	for p := 0; p < producers; p++ {
		go func() {
			defer q.MarkDone()
			for i := 0; i < perProducer; i++ {
				if err := q.Push(context.Background(), i); err != nil {
					return
				}
			}
		}()
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	total := 0
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, ok := q.Pop()
				if !ok {
					return
				}
				mu.Lock()
				total++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, total)
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueWithoutProducersIsTerminal(t *testing.T) {
	q := NewQueue[string](1, 0)
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueMarkDoneTooOftenPanics(t *testing.T) {
	q := NewQueue[int](1, 1)
	q.MarkDone()
	assert.Panics(t, q.MarkDone)
}

func TestQueuePushHonoursContext(t *testing.T) {
	q := NewQueue[int](1, 1)
	require.NoError(t, q.Push(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Push(ctx, 2), context.Canceled)
}
