// Package reads turns sequence files into the raw chunks a split pass
// consumes. Every chunk holds whole records in one read buffer of the
// pass's memory pool.
package reads

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

// chunkWriter fills read buffers and hands them to push. push takes
// ownership of a buffer even when it fails.
type chunkWriter struct {
	pool *kmsplit.MemoryPool
	push func(kmsplit.ReadChunk) error

	buf *kmsplit.Buffer
	n   int
	rt  kmsplit.ReadType
}

func newChunkWriter(pool *kmsplit.MemoryPool, push func(kmsplit.ReadChunk) error) *chunkWriter {
	return &chunkWriter{pool: pool, push: push}
}

// capacity returns the size of one read buffer.
func (w *chunkWriter) capacity() int {
	return w.pool.BufferSize(kmsplit.ReadBuffer)
}

// reserve makes room for size bytes of type rt in the current buffer,
// flushing it first when it is full or holds another type.
func (w *chunkWriter) reserve(ctx context.Context, rt kmsplit.ReadType, size int) error {
	if w.buf != nil && (w.rt != rt || w.n+size > len(w.buf.Data)) {
		if err := w.flush(); err != nil {
			return err
		}
	}
	if w.buf == nil {
		buf, err := w.pool.AcquireRead(ctx)
		if err != nil {
			return err
		}
		w.buf, w.n, w.rt = buf, 0, rt
	}
	return nil
}

func (w *chunkWriter) write(p ...[]byte) {
	for _, b := range p {
		w.n += copy(w.buf.Data[w.n:], b)
	}
}

func (w *chunkWriter) writeByte(b byte) {
	w.buf.Data[w.n] = b
	w.n++
}

func (w *chunkWriter) flush() error {
	if w.buf == nil {
		return nil
	}
	buf, n, rt := w.buf, w.n, w.rt
	w.buf, w.n = nil, 0
	if n == 0 {
		w.pool.Release(buf)
		return nil
	}
	return w.push(kmsplit.ReadChunk{Buf: buf, Len: n, Type: rt})
}

// discard releases a buffer that was never pushed.
func (w *chunkWriter) discard() {
	if w.buf != nil {
		w.pool.Release(w.buf)
		w.buf, w.n = nil, 0
	}
}

// countingReader counts the bytes read through it
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
