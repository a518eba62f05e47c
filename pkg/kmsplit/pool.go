package kmsplit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// BufferKind selects the pool share a buffer is charged to
type BufferKind int

const (
	ReadBuffer BufferKind = iota
	BinBuffer
)

func (k BufferKind) String() string {
	if k == ReadBuffer {
		return "reads"
	}
	return "bins"
}

// PoolConfig describes a MemoryPool
type PoolConfig struct {
	Capacity       int64   // Total bytes across both shares
	ReadsShare     float64 // Fraction of Capacity reserved for read buffers
	ReadBufferSize int     // Size of buffers returned by AcquireRead
	BinBufferSize  int     // Size of buffers returned by AcquireBin
}

// Buffer is a pool-charged byte buffer. Data is nil for pure reservations.
type Buffer struct {
	Data     []byte
	kind     BufferKind
	size     int64
	released atomic.Bool
}

// Size returns the number of bytes charged to the pool.
func (b *Buffer) Size() int64 { return b.size }

type poolShare struct {
	sem      *semaphore.Weighted
	capacity int64
	bufSize  int
	free     sync.Pool // recycled []byte of bufSize
}

// MemoryPool is a bounded arena split into a reads share and a bins share.
// Acquisition blocks until the share has room, which is how the pipeline
// applies backpressure. Every acquired buffer must be released exactly once.
type MemoryPool struct {
	capacity    int64
	shares      [2]*poolShare
	outstanding atomic.Int64
	peak        atomic.Int64
}

// NewMemoryPool creates a pool from cfg.
func NewMemoryPool(cfg PoolConfig) (*MemoryPool, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: pool capacity must be > 0", ErrInvalidConfig)
	}
	if cfg.ReadsShare <= 0 || cfg.ReadsShare >= 1 {
		return nil, fmt.Errorf("%w: reads share must be in (0,1), got %.2f", ErrInvalidConfig, cfg.ReadsShare)
	}
	readsCap := int64(float64(cfg.Capacity) * cfg.ReadsShare)
	binsCap := cfg.Capacity - readsCap
	if cfg.ReadBufferSize <= 0 || int64(cfg.ReadBufferSize) > readsCap {
		return nil, fmt.Errorf("%w: read buffer size %d does not fit reads share %d", ErrInvalidConfig, cfg.ReadBufferSize, readsCap)
	}
	if cfg.BinBufferSize <= 0 || int64(cfg.BinBufferSize) > binsCap {
		return nil, fmt.Errorf("%w: bin buffer size %d does not fit bins share %d", ErrInvalidConfig, cfg.BinBufferSize, binsCap)
	}

	p := &MemoryPool{capacity: cfg.Capacity}
	p.shares[ReadBuffer] = newPoolShare(readsCap, cfg.ReadBufferSize)
	p.shares[BinBuffer] = newPoolShare(binsCap, cfg.BinBufferSize)
	return p, nil
}

func newPoolShare(capacity int64, bufSize int) *poolShare {
	s := &poolShare{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
		bufSize:  bufSize,
	}
	s.free.New = func() any { return make([]byte, bufSize) }
	return s
}

// AcquireRead blocks until a read buffer is available.
func (p *MemoryPool) AcquireRead(ctx context.Context) (*Buffer, error) {
	return p.acquire(ctx, ReadBuffer, int64(p.shares[ReadBuffer].bufSize), true)
}

// AcquireBin blocks until a bin buffer is available.
func (p *MemoryPool) AcquireBin(ctx context.Context) (*Buffer, error) {
	return p.acquire(ctx, BinBuffer, int64(p.shares[BinBuffer].bufSize), true)
}

// Acquire blocks until size bytes of the given share are available and
// returns a buffer of exactly that size.
func (p *MemoryPool) Acquire(ctx context.Context, kind BufferKind, size int64) (*Buffer, error) {
	return p.acquire(ctx, kind, size, true)
}

// Reserve charges size bytes to a share without allocating them. It is used
// by owners that allocate typed memory themselves (small-k tables).
func (p *MemoryPool) Reserve(ctx context.Context, kind BufferKind, size int64) (*Buffer, error) {
	return p.acquire(ctx, kind, size, false)
}

func (p *MemoryPool) acquire(ctx context.Context, kind BufferKind, size int64, alloc bool) (*Buffer, error) {
	share := p.shares[kind]
	if size <= 0 || size > share.capacity {
		return nil, fmt.Errorf("%w: %d bytes requested from %s share of %d", ErrBufferTooLarge, size, kind, share.capacity)
	}
	if err := share.sem.Acquire(ctx, size); err != nil {
		return nil, err
	}

	cur := p.outstanding.Add(size)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	b := &Buffer{kind: kind, size: size}
	if alloc {
		if size == int64(share.bufSize) {
			b.Data = share.free.Get().([]byte)
		} else {
			b.Data = make([]byte, size)
		}
	}
	return b, nil
}

// Release returns b's bytes to the pool. Releasing a buffer twice panics.
func (p *MemoryPool) Release(b *Buffer) {
	if b == nil {
		return
	}
	if !b.released.CompareAndSwap(false, true) {
		panic("kmsplit: buffer released twice")
	}
	share := p.shares[b.kind]
	if b.Data != nil && len(b.Data) == share.bufSize {
		share.free.Put(b.Data)
	}
	b.Data = nil
	p.outstanding.Add(-b.size)
	share.sem.Release(b.size)
}

// Capacity returns the total pool capacity in bytes.
func (p *MemoryPool) Capacity() int64 { return p.capacity }

// ShareCapacity returns the capacity of one share.
func (p *MemoryPool) ShareCapacity(kind BufferKind) int64 { return p.shares[kind].capacity }

// BufferSize returns the fixed buffer size of one share.
func (p *MemoryPool) BufferSize(kind BufferKind) int { return p.shares[kind].bufSize }

// Outstanding returns the bytes currently held by callers.
func (p *MemoryPool) Outstanding() int64 { return p.outstanding.Load() }

// Peak returns the high-water mark of Outstanding.
func (p *MemoryPool) Peak() int64 { return p.peak.Load() }
