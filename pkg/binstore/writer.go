package binstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

// WriterOptions configures a Writer
type WriterOptions struct {
	Codec     Codec
	Level     int
	Workers   int // compression workers, default 2
	Overwrite bool
	Balanced  bool
	Source    Source
	CreatedBy string
}

// Writer persists the bin parts of a split pass as one file per bin.
// Compression workers turn parts into frames and a single collector
// appends frames to the bin files, so each bin file has one writer.
// S3 datasets are staged in a local temp directory and uploaded by Finalize.
type Writer struct {
	storage    Storage
	staging    string
	tempDir    bool
	cfg        *kmsplit.Config
	opts       WriterOptions
	recordLen  int
	compressor *Compressor
	logger     *kmsplit.Logger

	// owned by the collector while Consume runs
	bins map[int]*binFile

	consumed  bool
	finalized bool
}

type binFile struct {
	sum  hash.Hash
	info BinInfo
}

type frameResult struct {
	bin     int
	records uint64
	raw     int64
	frame   []byte
}

// NewWriter prepares a dataset at path (a local directory or s3://bucket/prefix).
func NewWriter(ctx context.Context, path string, cfg *kmsplit.Config, opts WriterOptions, logger *kmsplit.Logger) (*Writer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bin writer needs a config")
	}
	if logger == nil {
		logger = kmsplit.NoopLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	storage, err := NewStorage(ctx, path)
	if err != nil {
		return nil, err
	}
	exists, err := storage.Exists(ctx, MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", MetadataFile, err)
	}
	if exists && !opts.Overwrite {
		return nil, fmt.Errorf("dataset already exists at %s", storage.BasePath())
	}
	compressor, err := NewCompressor(opts.Codec, opts.Level)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		storage:    storage,
		cfg:        cfg,
		opts:       opts,
		recordLen:  kmsplit.KmerBytes(cfg.KmerLen),
		compressor: compressor,
		logger:     logger,
		bins:       make(map[int]*binFile),
	}
	if storage.IsS3() {
		if w.staging, err = os.MkdirTemp("", "kmsplit-bins-*"); err != nil {
			compressor.Close()
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
		w.tempDir = true
	} else {
		w.staging = storage.BasePath()
		if opts.Overwrite {
			if err := os.RemoveAll(filepath.Join(w.staging, "bins")); err != nil {
				compressor.Close()
				return nil, fmt.Errorf("failed to clear old bins: %w", err)
			}
		}
	}
	if err := os.MkdirAll(filepath.Join(w.staging, "bins"), 0755); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to create bins directory: %w", err)
	}
	return w, nil
}

// Storage returns the dataset storage.
func (w *Writer) Storage() Storage { return w.storage }

// Consume implements kmsplit.PartConsumer. Every part buffer goes back to
// pool as soon as its frame is encoded; after a failure the remaining parts
// are drained and released without being written.
func (w *Writer) Consume(ctx context.Context, parts *kmsplit.Queue[kmsplit.BinPart], pool *kmsplit.MemoryPool) error {
	if w.consumed {
		return errors.New("bin writer already consumed a pass")
	}
	w.consumed = true

	results := make(chan frameResult, w.opts.Workers*2)
	g, gctx := errgroup.WithContext(ctx)

	var compressors sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		i := i
		compressors.Add(1)
		g.Go(func() error {
			defer compressors.Done()
			return w.compressParts(gctx, i, parts, pool, results)
		})
	}
	go func() {
		compressors.Wait()
		close(results)
	}()
	g.Go(func() error {
		for r := range results {
			if err := w.appendFrame(r); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func (w *Writer) compressParts(ctx context.Context, id int, parts *kmsplit.Queue[kmsplit.BinPart],
	pool *kmsplit.MemoryPool, results chan<- frameResult) error {
	var failed error
	for {
		part, ok := parts.Pop()
		if !ok {
			return failed
		}
		if failed != nil {
			pool.Release(part.Buf)
			continue
		}

		raw := part.Bytes()
		frame, err := AppendFrame(nil, w.compressor, w.recordLen, raw)
		result := frameResult{
			bin:     int(part.Bin),
			records: uint64(len(raw) / w.recordLen),
			raw:     int64(len(raw)),
			frame:   frame,
		}
		pool.Release(part.Buf)
		if err != nil {
			failed = fmt.Errorf("worker %d failed to encode bin %d: %w", id, part.Bin, err)
			continue
		}

		select {
		case results <- result:
		case <-ctx.Done():
			failed = ctx.Err()
		}
	}
}

// appendFrame runs on the collector only. Bin files are opened per frame
// so a pass with many bins does not hold a descriptor per bin.
func (w *Writer) appendFrame(r frameResult) error {
	bf, ok := w.bins[r.bin]
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if !ok {
		bf = &binFile{sum: sha256.New(), info: BinInfo{Bin: r.bin, Path: BinPath(r.bin)}}
		w.bins[r.bin] = bf
		flags |= os.O_TRUNC
	}

	full := filepath.Join(w.staging, filepath.FromSlash(bf.info.Path))
	f, err := os.OpenFile(full, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open bin %d: %w", r.bin, err)
	}
	if _, err := f.Write(r.frame); err != nil {
		f.Close()
		return fmt.Errorf("failed to write bin %d: %w", r.bin, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close bin %d: %w", r.bin, err)
	}

	bf.sum.Write(r.frame)
	bf.info.Records += r.records
	bf.info.Frames++
	bf.info.RawBytes += r.raw
	bf.info.StoredBytes += int64(len(r.frame))
	return nil
}

// Finalize writes the dataset metadata, uploading the staged bins first
// for S3 datasets. pass may be nil.
func (w *Writer) Finalize(ctx context.Context, pass *kmsplit.PassResult) (*Metadata, error) {
	if w.finalized {
		return nil, errors.New("bin writer already finalized")
	}
	defer w.Close()

	meta := &Metadata{
		Format:    FormatName,
		Version:   FormatVer,
		Created:   time.Now(),
		CreatedBy: w.opts.CreatedBy,
		Source:    w.opts.Source,
		Params:    ParamsFrom(w.cfg),
		Codec:     w.opts.Codec.String(),
		Pass:      pass,
	}
	meta.Params.Balanced = w.opts.Balanced

	for _, bf := range w.bins {
		bf.info.Checksum = hex.EncodeToString(bf.sum.Sum(nil))
		meta.Bins = append(meta.Bins, bf.info)
		meta.Statistics.Records += bf.info.Records
		meta.Statistics.Frames += bf.info.Frames
		meta.Statistics.RawBytes += bf.info.RawBytes
		meta.Statistics.StoredBytes += bf.info.StoredBytes
	}
	sort.Slice(meta.Bins, func(i, j int) bool { return meta.Bins[i].Bin < meta.Bins[j].Bin })
	meta.Statistics.NonEmpty = len(meta.Bins)

	if w.storage.IsS3() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.opts.Workers)
		for _, b := range meta.Bins {
			b := b
			g.Go(func() error {
				local := filepath.Join(w.staging, filepath.FromSlash(b.Path))
				return w.storage.PutFile(gctx, b.Path, local)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("failed to upload bins: %w", err)
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := w.storage.WriteFile(ctx, MetadataFile, data); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	w.finalized = true

	w.logger.InfoContext(ctx, "dataset written",
		"path", w.storage.BasePath(),
		"bins", meta.Statistics.NonEmpty,
		"records", meta.Statistics.Records,
		"stored_bytes", meta.Statistics.StoredBytes,
		"codec", meta.Codec,
	)
	return meta, nil
}

// Close releases the compressor and removes a temp staging directory.
// It is safe to call after Finalize.
func (w *Writer) Close() error {
	if w.compressor != nil {
		w.compressor.Close()
		w.compressor = nil
	}
	if w.tempDir {
		w.tempDir = false
		return os.RemoveAll(w.staging)
	}
	return nil
}
