package kmsplit

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Sink receives every k-mer extracted by a Splitter. Returning false stops
// the scan of the current chunk.
type Sink interface {
	Accept(k *Kmer) bool
}

// binCollector is the active append-only buffer of one bin
type binCollector struct {
	buf *Buffer
	pos int
}

// Splitter scans raw read chunks, extracts k-mers, computes their
// signatures and hands them to a sink. One Splitter belongs to one worker;
// it is not safe for concurrent use.
type Splitter struct {
	kmerLen     int
	kmerBytes   int
	bothStrands bool
	hpc         bool
	maxLine     int
	packMask    uint64

	tracker *minimizerTracker
	mapper  *SignatureMapper

	// binning state, set by InitBins
	pool  *MemoryPool
	parts *Queue[BinPart]
	bins  []binCollector

	cursor  recordCursor
	seqBuf  []byte
	hpcBuf  []byte
	codes   []byte
	rcCodes []byte
	kmer    Kmer

	nReads     uint64
	totalKmers uint64
	err        error
	completed  bool
}

// NewSplitter creates a scanning core for cfg. mapper may be nil for
// passes that never bin (estimate, small-k).
func NewSplitter(cfg *Config, mapper *SignatureMapper) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mapper != nil && mapper.SignatureLen() != cfg.SignatureLen {
		return nil, fmt.Errorf("%w: mapper built for signature length %d, config uses %d",
			ErrInvalidConfig, mapper.SignatureLen(), cfg.SignatureLen)
	}
	window := windowFor(cfg.MinimizerVersion, cfg.KmerLen, cfg.WindowLen)
	s := &Splitter{
		kmerLen:     cfg.KmerLen,
		kmerBytes:   KmerBytes(cfg.KmerLen),
		bothStrands: cfg.BothStrands,
		hpc:         cfg.HomopolymerCompressed,
		maxLine:     cfg.MaxLineSize,
		packMask:    bitMask(uint(2 * min(cfg.KmerLen, 32))),
		tracker:     newMinimizerTracker(cfg.MinimizerVersion, cfg.SignatureLen, window),
		mapper:      mapper,
		seqBuf:      make([]byte, 0, cfg.MaxLineSize),
	}
	return s, nil
}

// InitBins attaches the pool and bin-part queue and allocates one empty
// accumulator per bin. Buffers are acquired lazily on first use.
func (s *Splitter) InitBins(pool *MemoryPool, parts *Queue[BinPart]) error {
	if s.mapper == nil {
		return fmt.Errorf("%w: binning requires a signature mapper", ErrInvalidConfig)
	}
	if pool == nil || parts == nil {
		return fmt.Errorf("%w: binning requires a memory pool and a bin-part queue", ErrInvalidConfig)
	}
	if pool.BufferSize(BinBuffer) < s.kmerBytes {
		return fmt.Errorf("%w: bin buffer of %d bytes cannot hold a %d-byte k-mer",
			ErrInvalidConfig, pool.BufferSize(BinBuffer), s.kmerBytes)
	}
	s.pool = pool
	s.parts = parts
	s.bins = make([]binCollector, s.mapper.NBins())
	return nil
}

// ProcessReads scans chunk and appends every k-mer to its bin buffer,
// blocking on the pool when it is exhausted. It returns false on malformed
// or truncated input, or when the pass is being torn down.
func (s *Splitter) ProcessReads(ctx context.Context, chunk []byte, rt ReadType) bool {
	if s.bins == nil {
		panic("kmsplit: ProcessReads called before InitBins")
	}
	sink := binSink{s: s, ctx: ctx}
	return s.scan(chunk, rt, &sink, true)
}

// ProcessReadsOnlyEstimate scans chunk and feeds k-mers to est. It touches
// neither the pool nor the bin accumulators.
func (s *Splitter) ProcessReadsOnlyEstimate(chunk []byte, rt ReadType, est *Estimator) bool {
	return s.scan(chunk, rt, est, false)
}

// CalcStats scans chunk and counts k-mers per signature into stats, which
// must hold 4^signature_len+1 entries (the last one counts the sentinel).
func (s *Splitter) CalcStats(chunk []byte, rt ReadType, stats []uint64) bool {
	return s.scan(chunk, rt, statsSink(stats), true)
}

// ProcessReadsSmallK counts every k-mer of chunk directly into table.
func ProcessReadsSmallK[C Counter](s *Splitter, chunk []byte, rt ReadType, table *SmallKTable[C]) bool {
	if table.KmerLen() != s.kmerLen {
		panic("kmsplit: small-k table built for a different k")
	}
	return s.scan(chunk, rt, smallKSink[C]{table}, false)
}

// Complete flushes partially filled bins to the bin-part queue, releases
// unused buffers and marks this producer done. It is safe to call twice.
func (s *Splitter) Complete(ctx context.Context) error {
	if s.completed {
		return s.err
	}
	s.completed = true
	if s.parts == nil {
		return s.err
	}
	for i := range s.bins {
		c := &s.bins[i]
		if c.buf == nil {
			continue
		}
		if c.pos == 0 || s.err != nil {
			s.pool.Release(c.buf)
		} else if err := s.parts.Push(ctx, BinPart{Bin: int32(i), Buf: c.buf, Len: c.pos}); err != nil {
			s.pool.Release(c.buf)
			s.err = err
		}
		c.buf, c.pos = nil, 0
	}
	s.parts.MarkDone()
	return s.err
}

// Total returns the number of reads (sequences for multi-FASTA) processed.
func (s *Splitter) Total() uint64 { return s.nReads }

// TotalKmers returns the number of k-mers extracted.
func (s *Splitter) TotalKmers() uint64 { return s.totalKmers }

// Err returns the first pool or queue failure seen while binning.
func (s *Splitter) Err() error { return s.err }

func (s *Splitter) scan(chunk []byte, rt ReadType, sink Sink, withSig bool) bool {
	if s.err != nil {
		return false
	}
	s.cursor.reset(chunk, rt)
	ok := true
	for {
		lines, err := s.cursor.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ok = false
			break
		}
		if !s.processRecord(lines, sink, withSig) {
			ok = false
			break
		}
	}
	s.nReads += uint64(s.cursor.records)
	return ok
}

// processRecord assembles a record's sequence lines into segments of at most
// maxLine bases. Consecutive segments overlap by k-1 bases. With homopolymer
// compression the segments hold compressed bases, so the overlap and runs
// crossing a line or segment boundary are counted as in the whole sequence.
func (s *Splitter) processRecord(lines [][]byte, sink Sink, withSig bool) bool {
	if len(lines) == 1 && len(lines[0]) <= s.maxLine {
		seq := lines[0]
		if s.hpc {
			s.hpcBuf = append(s.hpcBuf[:0], seq...)
			seq = HomopolymerCompress(s.hpcBuf)
		}
		return s.processSegment(seq, sink, withSig)
	}
	seg := s.seqBuf[:0]
	keep := s.kmerLen - 1
	var last byte
	for _, line := range lines {
		for len(line) > 0 {
			if len(seg) == s.maxLine {
				if !s.processSegment(seg, sink, withSig) {
					return false
				}
				copy(seg, seg[len(seg)-keep:])
				seg = seg[:keep]
			}
			if s.hpc {
				for len(line) > 0 && len(seg) < s.maxLine {
					if b := line[0]; upper(b) != upper(last) {
						seg = append(seg, b)
						last = b
					}
					line = line[1:]
				}
				continue
			}
			n := min(s.maxLine-len(seg), len(line))
			seg = append(seg, line[:n]...)
			line = line[n:]
		}
	}
	s.seqBuf = seg[:0]
	if len(seg) > 0 {
		return s.processSegment(seg, sink, withSig)
	}
	return true
}

// processSegment splits seq into runs of unambiguous bases and emits the
// k-mers of every run long enough.
func (s *Splitter) processSegment(seq []byte, sink Sink, withSig bool) bool {
	codes := s.codes[:0]
	for i := 0; i <= len(seq); i++ {
		c := invalidBase
		if i < len(seq) {
			c = baseCodes[seq[i]]
		}
		if c != invalidBase {
			codes = append(codes, c)
			continue
		}
		if len(codes) >= s.kmerLen {
			if !s.emitRun(codes, sink, withSig) {
				s.codes = codes[:0]
				return false
			}
			if s.bothStrands {
				s.rcCodes = reverseComplementCodes(s.rcCodes, codes)
				if !s.emitRun(s.rcCodes, sink, withSig) {
					s.codes = codes[:0]
					return false
				}
			}
		}
		codes = codes[:0]
	}
	s.codes = codes
	return true
}

func (s *Splitter) emitRun(codes []byte, sink Sink, withSig bool) bool {
	k := s.kmerLen
	var packed uint64
	if withSig {
		s.tracker.reset()
	}
	for i, c := range codes {
		packed = (packed<<2 | uint64(c)) & s.packMask
		if withSig {
			s.tracker.push(c)
		}
		if i < k-1 {
			continue
		}
		s.kmer.Codes = codes[i-k+1 : i+1]
		s.kmer.Packed = packed
		if withSig {
			s.kmer.Signature = s.tracker.signature()
		}
		s.totalKmers++
		if !sink.Accept(&s.kmer) {
			return false
		}
	}
	return true
}

// binSink appends k-mers to the splitter's bin accumulators
type binSink struct {
	s   *Splitter
	ctx context.Context
}

func (b *binSink) Accept(k *Kmer) bool {
	s := b.s
	bin := s.mapper.Bin(k.Signature)
	c := &s.bins[bin]
	if c.buf != nil && c.pos+s.kmerBytes > len(c.buf.Data) {
		part := BinPart{Bin: bin, Buf: c.buf, Len: c.pos}
		c.buf, c.pos = nil, 0
		if err := s.parts.Push(b.ctx, part); err != nil {
			s.pool.Release(part.Buf)
			s.err = err
			return false
		}
	}
	if c.buf == nil {
		buf, err := s.pool.AcquireBin(b.ctx)
		if err != nil {
			s.err = err
			return false
		}
		c.buf, c.pos = buf, 0
	}
	packInto(c.buf.Data[c.pos:], k.Codes)
	c.pos += s.kmerBytes
	return true
}

// statsSink counts k-mers per signature
type statsSink []uint64

func (st statsSink) Accept(k *Kmer) bool {
	st[k.Signature]++
	return true
}

type smallKSink[C Counter] struct {
	t *SmallKTable[C]
}

func (sk smallKSink[C]) Accept(k *Kmer) bool {
	return sk.t.Add(k.Packed, 1)
}
