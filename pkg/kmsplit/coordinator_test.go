package kmsplit

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource feeds prepared chunks
type sliceSource struct {
	chunks []string
	rt     ReadType
}

func (s sliceSource) Feed(ctx context.Context, pool *MemoryPool, push func(ReadChunk) error) error {
	for _, c := range s.chunks {
		buf, err := pool.AcquireRead(ctx)
		if err != nil {
			return err
		}
		n := copy(buf.Data, c)
		if err := push(ReadChunk{Buf: buf, Len: n, Type: s.rt}); err != nil {
			return err
		}
	}
	return nil
}

// memConsumer counts records per bin
type memConsumer struct {
	kmerBytes int
	mu        sync.Mutex
	records   map[int32]uint64
}

func (m *memConsumer) Consume(_ context.Context, parts *Queue[BinPart], pool *MemoryPool) error {
	for {
		part, ok := parts.Pop()
		if !ok {
			return nil
		}
		m.mu.Lock()
		m.records[part.Bin] += uint64(part.Len / m.kmerBytes)
		m.mu.Unlock()
		pool.Release(part.Buf)
	}
}

func (m *memConsumer) total() uint64 {
	var n uint64
	for _, r := range m.records {
		n += r
	}
	return n
}

// makeChunks builds FASTA chunks and returns the expected k-mer count
func makeChunks(seed int64, nChunks, readsPerChunk, k int) ([]string, uint64) {
	rng := rand.New(rand.NewSource(seed))
	var chunks []string
	var kmers uint64
	for c := 0; c < nChunks; c++ {
		var sb strings.Builder
		for r := 0; r < readsPerChunk; r++ {
			l := 20 + rng.Intn(100)
			fmt.Fprintf(&sb, ">c%dr%d\n%s\n", c, r, randomSeq(rng, l))
			if l >= k {
				kmers += uint64(l - k + 1)
			}
		}
		chunks = append(chunks, sb.String())
	}
	return chunks, kmers
}

func TestCoordinatorRunSplit(t *testing.T) {
	cfg := testConfig(15, 7)
	cfg.Workers = 4
	chunks, want := makeChunks(1, 30, 10, cfg.KmerLen)

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	consumer := &memConsumer{kmerBytes: KmerBytes(cfg.KmerLen), records: map[int32]uint64{}}

	res, err := coord.RunSplit(context.Background(), sliceSource{chunks: chunks, rt: FASTA}, nil, consumer)
	require.NoError(t, err)
	assert.Equal(t, want, res.TotalKmers)
	assert.Equal(t, want, consumer.total())
	assert.Equal(t, uint64(300), res.NReads)
	assert.Equal(t, uint64(30), res.Chunks)
	assert.Zero(t, res.MalformedChunks)
	assert.Zero(t, res.OutstandingBytes)
	assert.LessOrEqual(t, res.PeakPoolBytes, cfg.MemoryBytes)
	for bin := range consumer.records {
		assert.Less(t, bin, int32(cfg.NBins))
	}
}

func TestCoordinatorBackpressure(t *testing.T) {
	cfg := testConfig(11, 5)
	cfg.Workers = 2
	cfg.NBins = 4
	cfg.BinBufferSize = 1 * KB
	cfg.ReadBufferSize = 4 * KB
	cfg.MemoryBytes = 16 * KB
	cfg.ChunkQueueCapacity = 1
	require.NoError(t, cfg.Validate())

	chunks, want := makeChunks(2, 80, 10, cfg.KmerLen)
	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	consumer := &memConsumer{kmerBytes: KmerBytes(cfg.KmerLen), records: map[int32]uint64{}}

	res, err := coord.RunSplit(context.Background(), sliceSource{chunks: chunks, rt: FASTA}, nil, consumer)
	require.NoError(t, err)
	assert.Equal(t, want, consumer.total())
	assert.LessOrEqual(t, res.PeakPoolBytes, int64(16*KB))
	assert.Zero(t, res.OutstandingBytes)
}

func TestCoordinatorMalformedChunkIsNotFatal(t *testing.T) {
	cfg := testConfig(5, 3)
	chunks := []string{">r1\nACGTACGT\n", "ACGT\n", ">r2\nACGTAC\n"}

	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	consumer := &memConsumer{kmerBytes: KmerBytes(cfg.KmerLen), records: map[int32]uint64{}}

	res, err := coord.RunSplit(context.Background(), sliceSource{chunks: chunks, rt: FASTA}, nil, consumer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.MalformedChunks)
	assert.Equal(t, uint64(3), res.Chunks)
	assert.Equal(t, uint64(6), res.TotalKmers)
	assert.Zero(t, res.OutstandingBytes)
}

func TestCoordinatorRunStatsAndBalancedSplit(t *testing.T) {
	cfg := testConfig(15, 5)
	chunks, want := makeChunks(3, 12, 10, cfg.KmerLen)
	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	src := sliceSource{chunks: chunks, rt: FASTA}

	stats, res, err := coord.RunStats(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, stats, 1<<10+1)
	var total uint64
	for _, n := range stats {
		total += n
	}
	assert.Equal(t, want, total)
	assert.Equal(t, want, res.TotalKmers)

	mapper, err := coord.NewMapper(stats)
	require.NoError(t, err)
	consumer := &memConsumer{kmerBytes: KmerBytes(cfg.KmerLen), records: map[int32]uint64{}}
	_, err = coord.RunSplit(context.Background(), src, mapper, consumer)
	require.NoError(t, err)
	assert.Equal(t, want, consumer.total())
}

func TestCoordinatorRunStatsSampleLimit(t *testing.T) {
	cfg := testConfig(15, 5)
	cfg.StatsSampleChunks = 2
	chunks, _ := makeChunks(4, 10, 5, cfg.KmerLen)
	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)

	_, res, err := coord.RunStats(context.Background(), sliceSource{chunks: chunks, rt: FASTA})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Chunks)
	assert.Zero(t, res.OutstandingBytes)
}

func TestCoordinatorRunEstimate(t *testing.T) {
	cfg := testConfig(15, 5)
	chunks, want := makeChunks(5, 10, 10, cfg.KmerLen)
	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)

	est, res, err := coord.RunEstimate(context.Background(), sliceSource{chunks: chunks, rt: FASTA})
	require.NoError(t, err)
	assert.Equal(t, want, est.TotalKmers)
	assert.Equal(t, want, res.TotalKmers)
	assert.LessOrEqual(t, est.DistinctKmers, want)
}

func TestCoordinatorRunSmallK(t *testing.T) {
	cfg := testConfig(5, 3)
	cfg.Workers = 3
	chunks, want := makeChunks(6, 10, 10, cfg.KmerLen)
	coord, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)

	ref := NewEstimator(5, 0)
	s, err := NewSplitter(cfg, nil)
	require.NoError(t, err)
	for _, c := range chunks {
		require.True(t, s.ProcessReadsOnlyEstimate([]byte(c), FASTA, ref))
	}

	table, res, err := RunSmallK[uint32](context.Background(), coord, sliceSource{chunks: chunks, rt: FASTA})
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, want, res.TotalKmers)
	assert.Equal(t, want, table.Total())
	assert.Equal(t, ref.Estimate().DistinctKmers, table.Distinct())
	assert.Zero(t, res.OutstandingBytes)
}

func TestNewCoordinatorRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(15, 5)
	cfg.NBins = 0
	_, err := NewCoordinator(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewCoordinator(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
