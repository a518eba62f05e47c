package reads

import (
	"context"
	"fmt"
	"io"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

// maxNameLen caps the record names copied into chunks; names do not affect
// k-mers.
const maxNameLen = 255

// FastxSource reads FASTA and FASTQ files (plain or compressed) with
// shenwei356/bio and rewrites their records into normalized chunks: FASTA
// records as a header and a single sequence line, FASTQ records as four
// lines. A record too large for one read buffer is split into a FASTA
// chunk and multi-FASTA continuation chunks that overlap by k-1 bases.
type FastxSource struct {
	files    []string
	kmerLen  int
	hpc      bool
	progress func(delta int64)
	hpcBuf   []byte

	records int64
	bases   int64
}

// NewFastxSource creates a source over files; "-" reads stdin.
func NewFastxSource(files []string, kmerLen int) *FastxSource {
	return &FastxSource{files: files, kmerLen: kmerLen}
}

// SetHomopolymerCompressed makes the source compress records it has to
// split over several chunks, so the k-1 overlap of continuation chunks is
// counted in compressed bases. Set it when the pass compresses homopolymers.
func (s *FastxSource) SetHomopolymerCompressed(on bool) { s.hpc = on }

// OnProgress sets a callback receiving the approximate input bytes consumed.
func (s *FastxSource) OnProgress(fn func(delta int64)) { s.progress = fn }

// Records returns the number of records read by the last Feed.
func (s *FastxSource) Records() int64 { return s.records }

// Bases returns the number of bases read by the last Feed.
func (s *FastxSource) Bases() int64 { return s.bases }

// Feed implements kmsplit.ChunkSource.
func (s *FastxSource) Feed(ctx context.Context, pool *kmsplit.MemoryPool, push func(kmsplit.ReadChunk) error) error {
	if s.kmerLen < 1 {
		return fmt.Errorf("invalid kmer length %d", s.kmerLen)
	}
	if pool.BufferSize(kmsplit.ReadBuffer) <= 2*s.kmerLen+maxNameLen+8 {
		return fmt.Errorf("read buffer of %d bytes too small for kmer length %d",
			pool.BufferSize(kmsplit.ReadBuffer), s.kmerLen)
	}
	s.records, s.bases = 0, 0

	w := newChunkWriter(pool, push)
	defer w.discard()
	for _, file := range s.files {
		if err := s.feedFile(ctx, w, file); err != nil {
			return err
		}
	}
	return w.flush()
}

func (s *FastxSource) feedFile(ctx context.Context, w *chunkWriter, file string) error {
	reader, err := fastx.NewReader(seq.DNAredundant, file, fastx.DefaultIDRegexp)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer reader.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		name := record.Name
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}
		if err := s.writeRecord(ctx, w, name, record.Seq.Seq, record.Seq.Qual); err != nil {
			return err
		}
		s.records++
		s.bases += int64(len(record.Seq.Seq))
		if s.progress != nil {
			s.progress(int64(len(record.Name) + len(record.Seq.Seq) + len(record.Seq.Qual) + 4))
		}
	}
}

func (s *FastxSource) writeRecord(ctx context.Context, w *chunkWriter, name, sq, qual []byte) error {
	fastq := len(qual) > 0 && len(qual) == len(sq)
	size := len(name) + len(sq) + 3
	if fastq {
		size += len(qual) + 3
	}
	if size <= w.capacity() {
		if fastq {
			if err := w.reserve(ctx, kmsplit.FASTQ, size); err != nil {
				return err
			}
			w.writeByte('@')
			w.write(name)
			w.writeByte('\n')
			w.write(sq)
			w.write([]byte("\n+\n"), qual)
			w.writeByte('\n')
			return nil
		}
		if err := w.reserve(ctx, kmsplit.FASTA, size); err != nil {
			return err
		}
		w.writeByte('>')
		w.write(name)
		w.writeByte('\n')
		w.write(sq)
		w.writeByte('\n')
		return nil
	}
	return s.writeLong(ctx, w, name, sq)
}

// writeLong spreads one sequence over several chunks. Each continuation
// repeats the last k-1 bases of the previous chunk.
func (s *FastxSource) writeLong(ctx context.Context, w *chunkWriter, name, sq []byte) error {
	if err := w.flush(); err != nil {
		return err
	}
	if s.hpc {
		s.hpcBuf = append(s.hpcBuf[:0], sq...)
		sq = kmsplit.HomopolymerCompress(s.hpcBuf)
	}
	capacity := w.capacity()
	overlap := s.kmerLen - 1

	// first piece carries the header
	n := min(len(sq), capacity-len(name)-3)
	if err := w.reserve(ctx, kmsplit.FASTA, capacity); err != nil {
		return err
	}
	w.writeByte('>')
	w.write(name)
	w.writeByte('\n')
	w.write(sq[:n])
	w.writeByte('\n')
	if err := w.flush(); err != nil {
		return err
	}

	for pos := n; pos < len(sq); {
		start := pos - overlap
		end := min(len(sq), start+capacity-1)
		if err := w.reserve(ctx, kmsplit.MultiFASTA, capacity); err != nil {
			return err
		}
		w.write(sq[start:end])
		w.writeByte('\n')
		if err := w.flush(); err != nil {
			return err
		}
		pos = end
	}
	return nil
}
