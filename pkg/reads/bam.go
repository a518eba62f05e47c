package reads

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

// BAMSource decodes BAM files with biogo/hts and packs each alignment back
// into the uncompressed BAM record layout, block_size prefix included, so
// the splitter sees the same bytes a BGZF inflater would produce.
type BAMSource struct {
	files    []string
	threads  int
	progress func(delta int64)

	records int64
}

// NewBAMSource creates a source over BAM files. threads is the BGZF
// decompression concurrency per file.
func NewBAMSource(files []string, threads int) *BAMSource {
	if threads < 1 {
		threads = 1
	}
	return &BAMSource{files: files, threads: threads}
}

// OnProgress sets a callback receiving the compressed input bytes consumed.
func (s *BAMSource) OnProgress(fn func(delta int64)) { s.progress = fn }

// Records returns the number of alignments read by the last Feed.
func (s *BAMSource) Records() int64 { return s.records }

// Feed implements kmsplit.ChunkSource.
func (s *BAMSource) Feed(ctx context.Context, pool *kmsplit.MemoryPool, push func(kmsplit.ReadChunk) error) error {
	s.records = 0
	w := newChunkWriter(pool, push)
	defer w.discard()
	var rec []byte
	for _, file := range s.files {
		var err error
		if rec, err = s.feedFile(ctx, w, file, rec); err != nil {
			return err
		}
	}
	return w.flush()
}

func (s *BAMSource) feedFile(ctx context.Context, w *chunkWriter, file string, rec []byte) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return rec, fmt.Errorf("failed to open BAM file: %w", err)
	}
	defer f.Close()

	cr := &countingReader{r: f}
	br, err := bam.NewReader(cr, s.threads)
	if err != nil {
		return rec, fmt.Errorf("failed to create BAM reader: %w", err)
	}
	defer br.Close()

	var reported int64
	for {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		record, err := br.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return rec, fmt.Errorf("failed to read BAM record: %w", err)
		}

		rec, err = encodeBAMRecord(rec[:0], record)
		if err != nil {
			return rec, fmt.Errorf("%s: %w", file, err)
		}
		if len(rec) > w.capacity() {
			return rec, fmt.Errorf("%s: BAM record %q of %d bytes exceeds the read buffer",
				file, record.Name, len(rec))
		}
		if err := w.reserve(ctx, kmsplit.BAM, len(rec)); err != nil {
			return rec, err
		}
		w.write(rec)
		s.records++

		if s.progress != nil {
			if n := cr.n.Load(); n > reported {
				s.progress(n - reported)
				reported = n
			}
		}
	}
	if s.progress != nil {
		if n := cr.n.Load(); n > reported {
			s.progress(n - reported)
		}
	}
	return rec, nil
}

// encodeBAMRecord appends r in BAM record layout. Aux fields are dropped.
func encodeBAMRecord(dst []byte, r *sam.Record) ([]byte, error) {
	if len(r.Name) > 254 {
		return dst, fmt.Errorf("read name %q too long", r.Name)
	}
	lSeq := r.Seq.Length
	if len(r.Qual) != 0 && len(r.Qual) != lSeq {
		return dst, fmt.Errorf("read %q has %d quality scores for %d bases", r.Name, len(r.Qual), lSeq)
	}
	blockSize := 32 + len(r.Name) + 1 + 4*len(r.Cigar) + (lSeq+1)/2 + lSeq

	le := binary.LittleEndian
	dst = le.AppendUint32(dst, uint32(blockSize))
	dst = le.AppendUint32(dst, uint32(int32(r.Ref.ID())))
	dst = le.AppendUint32(dst, uint32(int32(r.Pos)))
	dst = append(dst, byte(len(r.Name)+1), r.MapQ)
	dst = le.AppendUint16(dst, uint16(r.Bin()))
	dst = le.AppendUint16(dst, uint16(len(r.Cigar)))
	dst = le.AppendUint16(dst, uint16(r.Flags))
	dst = le.AppendUint32(dst, uint32(lSeq))
	dst = le.AppendUint32(dst, uint32(int32(r.MateRef.ID())))
	dst = le.AppendUint32(dst, uint32(int32(r.MatePos)))
	dst = le.AppendUint32(dst, uint32(int32(r.TempLen)))
	dst = append(dst, r.Name...)
	dst = append(dst, 0)
	for _, op := range r.Cigar {
		dst = le.AppendUint32(dst, uint32(op))
	}
	for i := 0; i < (lSeq+1)/2; i++ {
		var d byte
		if i < len(r.Seq.Seq) {
			d = byte(r.Seq.Seq[i])
		}
		dst = append(dst, d)
	}
	if len(r.Qual) == lSeq && lSeq > 0 {
		dst = append(dst, r.Qual...)
	} else {
		for i := 0; i < lSeq; i++ {
			dst = append(dst, 0xFF)
		}
	}
	return dst, nil
}
