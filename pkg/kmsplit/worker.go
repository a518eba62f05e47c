package kmsplit

import (
	"context"
)

// Stage is what a Worker does with each raw chunk. Every pass injects its
// own stage type, so a worker can only touch the resources of its pass.
type Stage interface {
	// Process scans one chunk; false means the chunk was malformed,
	// truncated or could not be finished.
	Process(ctx context.Context, chunk []byte, rt ReadType) bool
	// Err reports a failure that must abort the pass.
	Err() error
	// Complete flushes whatever the stage still holds.
	Complete(ctx context.Context) error
	Splitter() *Splitter
}

// WorkerResult holds the private totals of one worker
type WorkerResult struct {
	NReads          uint64
	TotalKmers      uint64
	Chunks          uint64
	MalformedChunks uint64
}

// Worker pops raw chunks and runs its stage on them until the chunk queue
// reaches its terminal state.
type Worker[S Stage] struct {
	id     int
	stage  S
	chunks *Queue[ReadChunk]
	pool   *MemoryPool
	logger *Logger
}

// NewWorker creates a worker. The pool receives every processed chunk buffer.
func NewWorker[S Stage](id int, stage S, chunks *Queue[ReadChunk], pool *MemoryPool, logger *Logger) *Worker[S] {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Worker[S]{id: id, stage: stage, chunks: chunks, pool: pool, logger: logger}
}

// Run processes chunks until the queue is drained, then completes the stage.
// A malformed chunk ends only the scan of that chunk: it is counted and the
// worker keeps popping, since the queue has no other consumer to drain it.
// After a fatal stage error the worker keeps popping, releasing chunks
// unprocessed, so producers blocked on the pool can finish.
func (w *Worker[S]) Run(ctx context.Context) (WorkerResult, error) {
	var res WorkerResult
	var failed error
	for {
		chunk, ok := w.chunks.Pop()
		if !ok {
			break
		}
		if failed == nil {
			res.Chunks++
			if !w.stage.Process(ctx, chunk.Bytes(), chunk.Type) {
				if err := w.stage.Err(); err != nil {
					failed = err
				} else {
					res.MalformedChunks++
					w.logger.LogMalformed(ctx, w.id, chunk.Type, chunk.Len)
				}
			}
		}
		w.pool.Release(chunk.Buf)
	}

	err := w.stage.Complete(ctx)
	if failed == nil {
		failed = err
	}
	s := w.stage.Splitter()
	res.NReads = s.Total()
	res.TotalKmers = s.TotalKmers()
	w.logger.LogWorker(ctx, w.id, res)
	return res, failed
}

// binStage routes k-mers to bin buffers
type binStage struct {
	s *Splitter
}

func (b binStage) Process(ctx context.Context, chunk []byte, rt ReadType) bool {
	return b.s.ProcessReads(ctx, chunk, rt)
}
func (b binStage) Err() error                         { return b.s.Err() }
func (b binStage) Complete(ctx context.Context) error { return b.s.Complete(ctx) }
func (b binStage) Splitter() *Splitter                { return b.s }

// estimateStage feeds a private estimator
type estimateStage struct {
	s   *Splitter
	est *Estimator
}

func (e estimateStage) Process(_ context.Context, chunk []byte, rt ReadType) bool {
	return e.s.ProcessReadsOnlyEstimate(chunk, rt, e.est)
}
func (e estimateStage) Err() error                     { return nil }
func (e estimateStage) Complete(context.Context) error { return e.s.Complete(context.Background()) }
func (e estimateStage) Splitter() *Splitter            { return e.s }

// statsStage counts k-mers per signature
type statsStage struct {
	s     *Splitter
	stats []uint64
}

func (st statsStage) Process(_ context.Context, chunk []byte, rt ReadType) bool {
	return st.s.CalcStats(chunk, rt, st.stats)
}
func (st statsStage) Err() error                     { return nil }
func (st statsStage) Complete(context.Context) error { return st.s.Complete(context.Background()) }
func (st statsStage) Splitter() *Splitter            { return st.s }

// smallKStage counts into a private table
type smallKStage[C Counter] struct {
	s     *Splitter
	table *SmallKTable[C]
}

func (sk smallKStage[C]) Process(_ context.Context, chunk []byte, rt ReadType) bool {
	return ProcessReadsSmallK(sk.s, chunk, rt, sk.table)
}
func (sk smallKStage[C]) Err() error                     { return sk.table.Err() }
func (sk smallKStage[C]) Complete(context.Context) error { return sk.s.Complete(context.Background()) }
func (sk smallKStage[C]) Splitter() *Splitter            { return sk.s }
