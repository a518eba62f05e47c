package kmsplit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChunkSource is the upstream reader of a pass. Feed acquires read buffers
// from pool, fills them with whole records and hands each to push, which
// takes ownership. Feed must release any buffer it still holds when it
// returns, and stop when push returns ErrStopFeeding.
type ChunkSource interface {
	Feed(ctx context.Context, pool *MemoryPool, push func(ReadChunk) error) error
}

// PartConsumer is the downstream bin writer. Consume pops bin parts until the
// queue is drained and releases every part buffer to pool, also on error.
type PartConsumer interface {
	Consume(ctx context.Context, parts *Queue[BinPart], pool *MemoryPool) error
}

// PassResult aggregates the worker totals of one pass
type PassResult struct {
	NReads           uint64        `json:"n_reads"`
	TotalKmers       uint64        `json:"total_kmers"`
	Chunks           uint64        `json:"chunks"`
	MalformedChunks  uint64        `json:"malformed_chunks"`
	PeakPoolBytes    int64         `json:"peak_pool_bytes"`
	OutstandingBytes int64         `json:"outstanding_bytes"` // pool bytes not returned; zero after a clean pass
	Elapsed          time.Duration `json:"elapsed"`
}

func (r *PassResult) add(w WorkerResult) {
	r.NReads += w.NReads
	r.TotalKmers += w.TotalKmers
	r.Chunks += w.Chunks
	r.MalformedChunks += w.MalformedChunks
}

// Coordinator owns the pools and queues of every pass and runs one
// worker per configured thread.
type Coordinator struct {
	cfg    *Config
	logger *Logger
}

// NewCoordinator validates cfg. A non-nil error means no pass may start.
func NewCoordinator(cfg *Config, logger *Logger) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NoopLogger()
	}
	return &Coordinator{cfg: cfg, logger: logger}, nil
}

// Config returns the validated configuration.
func (c *Coordinator) Config() *Config { return c.cfg }

// NewMapper builds the signature mapper for this configuration; stats may be nil.
func (c *Coordinator) NewMapper(stats []uint64) (*SignatureMapper, error) {
	return NewSignatureMapper(c.cfg.SignatureLen, c.cfg.NBins, stats)
}

// RunSplit runs the full binning pass. Bin parts go to consumer; a nil
// mapper uses the hashed assignment.
func (c *Coordinator) RunSplit(ctx context.Context, src ChunkSource, mapper *SignatureMapper, consumer PartConsumer) (PassResult, error) {
	if consumer == nil {
		return PassResult{}, fmt.Errorf("%w: split pass needs a bin consumer", ErrInvalidConfig)
	}
	if mapper == nil {
		var err error
		if mapper, err = c.NewMapper(nil); err != nil {
			return PassResult{}, err
		}
	}
	if mapper.NBins() != c.cfg.NBins {
		return PassResult{}, fmt.Errorf("%w: mapper has %d bins, config %d", ErrInvalidConfig, mapper.NBins(), c.cfg.NBins)
	}
	pool, err := NewMemoryPool(c.cfg.PoolConfig())
	if err != nil {
		return PassResult{}, err
	}

	parts := NewQueue[BinPart](c.cfg.BinQueueCapacity, c.cfg.Workers)
	stages := make([]binStage, c.cfg.Workers)
	for i := range stages {
		s, err := NewSplitter(c.cfg, mapper)
		if err == nil {
			err = s.InitBins(pool, parts)
		}
		if err != nil {
			return PassResult{}, fmt.Errorf("failed to create splitter: %w", err)
		}
		stages[i] = binStage{s: s}
	}

	logger := c.logger.WithPass("split")
	return runPass(ctx, c.cfg, logger, pool, src, stages, 0, func(ctx context.Context) error {
		return consumer.Consume(ctx, parts, pool)
	})
}

// RunEstimate runs the estimation pass over src.
func (c *Coordinator) RunEstimate(ctx context.Context, src ChunkSource) (Estimate, PassResult, error) {
	pool, err := NewMemoryPool(c.cfg.PoolConfig())
	if err != nil {
		return Estimate{}, PassResult{}, err
	}
	stages := make([]estimateStage, c.cfg.Workers)
	for i := range stages {
		s, err := NewSplitter(c.cfg, nil)
		if err != nil {
			return Estimate{}, PassResult{}, fmt.Errorf("failed to create splitter: %w", err)
		}
		stages[i] = estimateStage{s: s, est: NewEstimator(c.cfg.KmerLen, c.cfg.EstimateSampleBits)}
	}

	res, err := runPass(ctx, c.cfg, c.logger.WithPass("estimate"), pool, src, stages, 0, nil)
	if err != nil {
		return Estimate{}, res, err
	}
	merged := stages[0].est
	for _, st := range stages[1:] {
		merged.Merge(st.est)
	}
	return merged.Estimate(), res, nil
}

// RunStats counts k-mers per signature over the first StatsSampleChunks
// chunks of src (all of them when zero). The result has 4^SignatureLen+1
// entries, the last one for the sentinel, and feeds NewMapper.
func (c *Coordinator) RunStats(ctx context.Context, src ChunkSource) ([]uint64, PassResult, error) {
	pool, err := NewMemoryPool(c.cfg.PoolConfig())
	if err != nil {
		return nil, PassResult{}, err
	}
	nSigs := 1<<(2*uint(c.cfg.SignatureLen)) + 1
	stages := make([]statsStage, c.cfg.Workers)
	for i := range stages {
		s, err := NewSplitter(c.cfg, nil)
		if err != nil {
			return nil, PassResult{}, fmt.Errorf("failed to create splitter: %w", err)
		}
		stages[i] = statsStage{s: s, stats: make([]uint64, nSigs)}
	}

	res, err := runPass(ctx, c.cfg, c.logger.WithPass("stats"), pool, src, stages, c.cfg.StatsSampleChunks, nil)
	if err != nil {
		return nil, res, err
	}
	stats := stages[0].stats
	for _, st := range stages[1:] {
		for sig, n := range st.stats {
			stats[sig] += n
		}
	}
	return stats, res, nil
}

// RunSmallK counts every k-mer of src directly into counter tables of width
// C, one per worker, and merges them. SmallKMemory bounds each table. The
// caller owns the returned table and must Release it.
func RunSmallK[C Counter](ctx context.Context, c *Coordinator, src ChunkSource) (*SmallKTable[C], PassResult, error) {
	cfg := c.cfg
	tableBytes, _, ok := SmallKBytes[C](cfg.KmerLen, cfg.SmallKMemory)
	if !ok {
		return nil, PassResult{}, fmt.Errorf("%w: k=%d does not fit the small-k bound of %d bytes",
			ErrInvalidConfig, cfg.KmerLen, cfg.SmallKMemory)
	}

	// reads share as configured, bins share sized to hold every table
	readsBytes := int64(float64(cfg.MemoryBytes)*cfg.ReadsShare) + KB
	binsBytes := tableBytes*int64(cfg.Workers) + KB
	pool, err := NewMemoryPool(PoolConfig{
		Capacity:       readsBytes + binsBytes,
		ReadsShare:     float64(readsBytes) / float64(readsBytes+binsBytes),
		ReadBufferSize: cfg.ReadBufferSize,
		BinBufferSize:  KmerBytes(cfg.KmerLen),
	})
	if err != nil {
		return nil, PassResult{}, err
	}

	stages := make([]smallKStage[C], cfg.Workers)
	release := func() {
		for _, st := range stages {
			if st.table != nil {
				st.table.Release()
			}
		}
	}
	for i := range stages {
		s, err := NewSplitter(cfg, nil)
		if err != nil {
			release()
			return nil, PassResult{}, fmt.Errorf("failed to create splitter: %w", err)
		}
		table, err := NewSmallKTable[C](ctx, pool, cfg.KmerLen, cfg.SmallKMemory)
		if err != nil {
			release()
			return nil, PassResult{}, err
		}
		stages[i] = smallKStage[C]{s: s, table: table}
	}

	res, err := runPass(ctx, cfg, c.logger.WithPass("small-k"), pool, src, stages, 0, nil)
	if err == nil {
		merged := stages[0].table
		for _, st := range stages[1:] {
			if err = merged.Merge(st.table); err != nil {
				break
			}
		}
	}
	if err != nil {
		release()
		return nil, res, err
	}
	for _, st := range stages[1:] {
		st.table.Release()
	}
	// the returned table keeps its reservation until the caller releases it
	res.OutstandingBytes = pool.Outstanding() - tableBytes
	return stages[0].table, res, nil
}

// runPass wires src, one worker per stage and the optional downstream
// consumer into an errgroup and aggregates the worker totals at join.
func runPass[S Stage](ctx context.Context, cfg *Config, logger *Logger, pool *MemoryPool, src ChunkSource,
	stages []S, chunkLimit int, consume func(context.Context) error) (PassResult, error) {
	start := time.Now()
	logger.LogPassStart(ctx, cfg)

	chunks := NewQueue[ReadChunk](cfg.ChunkQueueCapacity, 1)
	g, gctx := errgroup.WithContext(ctx)

	var fed atomic.Int64
	g.Go(func() error {
		defer chunks.MarkDone()
		err := src.Feed(gctx, pool, func(chunk ReadChunk) error {
			if err := chunks.Push(gctx, chunk); err != nil {
				pool.Release(chunk.Buf)
				return err
			}
			if n := fed.Add(1); chunkLimit > 0 && n >= int64(chunkLimit) {
				return ErrStopFeeding
			}
			return nil
		})
		if errors.Is(err, ErrStopFeeding) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		return nil
	})

	results := make([]WorkerResult, len(stages))
	for i, st := range stages {
		i, st := i, st
		g.Go(func() error {
			res, err := NewWorker(i, st, chunks, pool, logger).Run(gctx)
			results[i] = res
			return err
		})
	}
	if consume != nil {
		g.Go(func() error {
			if err := consume(gctx); err != nil {
				return fmt.Errorf("failed to write bins: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	var res PassResult
	for _, r := range results {
		res.add(r)
	}
	res.PeakPoolBytes = pool.Peak()
	res.OutstandingBytes = pool.Outstanding()
	res.Elapsed = time.Since(start)
	logger.LogPassDone(ctx, res, err)
	return res, err
}
