package kmsplit

import (
	"context"
	"sync"
)

// Queue is a bounded multi-producer/multi-consumer channel with an explicit
// end-of-producers state. Once every registered producer has called
// MarkDone and the buffered items are drained, Pop reports false; that is
// the only loop-termination signal consumers get.
type Queue[T any] struct {
	ch        chan T
	mu        sync.Mutex
	producers int
}

// NewQueue creates a queue holding at most capacity items and expecting
// producers calls to MarkDone.
func NewQueue[T any](capacity, producers int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		ch:        make(chan T, capacity),
		producers: producers,
	}
	if producers <= 0 {
		close(q.ch)
	}
	return q
}

// Push blocks until the item is queued or ctx is done.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkDone records that one producer has finished.
func (q *Queue[T]) MarkDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.producers <= 0 {
		panic("kmsplit: MarkDone called more times than producers")
	}
	q.producers--
	if q.producers == 0 {
		close(q.ch)
	}
}

// Pop blocks until an item is available. ok is false once all producers are
// done and the queue is drained.
func (q *Queue[T]) Pop() (item T, ok bool) {
	item, ok = <-q.ch
	return item, ok
}

// ReadChunk is one item of the raw chunk queue. Buf is owned by whoever
// holds the chunk and goes back to the reads share once processed.
type ReadChunk struct {
	Buf  *Buffer
	Len  int
	Type ReadType
}

// Bytes returns the filled part of the chunk.
func (c ReadChunk) Bytes() []byte {
	return c.Buf.Data[:c.Len]
}

// BinPart is one item of the bin-part queue: a filled bin buffer.
// The consumer releases Buf to the pool after persisting it.
type BinPart struct {
	Bin int32
	Buf *Buffer
	Len int
}

// Bytes returns the filled part of the bin buffer.
func (p BinPart) Bytes() []byte {
	return p.Buf.Data[:p.Len]
}
