package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
	"github.com/scttfrdmn/kmsplit-go/pkg/reads"
)

// passFlags are the splitting parameters shared by every pass command
type passFlags struct {
	kmerLen     int
	sigLen      int
	windowLen   int
	minimizer   string
	bothStrands bool
	hpc         bool
	bins        int
	workers     int
	memory      string
	readsShare  float64
	readBuffer  string
	binBuffer   string
	maxLine     string
	inputFormat string
	bamThreads  int
	showConfig  bool
	progress    bool
}

func addPassFlags(cmd *cobra.Command, f *passFlags) {
	defaults := kmsplit.NewConfig()
	fs := cmd.Flags()
	fs.IntVarP(&f.kmerLen, "kmer-len", "k", defaults.KmerLen, "k-mer length (1-256)")
	fs.IntVarP(&f.sigLen, "signature-len", "m", defaults.SignatureLen, "Signature (minimizer) length (1-12)")
	fs.IntVar(&f.windowLen, "window", 0, "Minimizer window length (0 = k)")
	fs.StringVar(&f.minimizer, "minimizer", defaults.MinimizerVersion.String(), "Minimizer version: windowed, legacy")
	fs.BoolVar(&f.bothStrands, "both-strands", false, "Also emit k-mers of the reverse complement")
	fs.BoolVar(&f.hpc, "hpc", false, "Homopolymer-compress reads before splitting")
	fs.IntVarP(&f.bins, "bins", "n", defaults.NBins, "Number of bins (1-65536)")
	fs.IntVarP(&f.workers, "workers", "t", 0, "Number of workers (0 = auto-detect performance cores)")
	fs.StringVar(&f.memory, "memory", "", "Memory pool size (e.g. 2G) - default: 25% of RAM")
	fs.Float64Var(&f.readsShare, "reads-share", defaults.ReadsShare, "Fraction of the pool for read buffers")
	fs.StringVar(&f.readBuffer, "read-buffer", "", "Read buffer size (e.g. 16M)")
	fs.StringVar(&f.binBuffer, "bin-buffer", "", "Bin buffer size (e.g. 64K)")
	fs.StringVar(&f.maxLine, "max-line", "", "Longest sequence segment scanned at once (e.g. 1M)")
	fs.StringVarP(&f.inputFormat, "format", "f", "auto", "Input format: auto, fastx, bam")
	fs.IntVar(&f.bamThreads, "bam-threads", 2, "BGZF decompression threads for BAM input")
	fs.BoolVar(&f.showConfig, "show-config", false, "Show effective configuration and exit")
	fs.BoolVar(&f.progress, "progress", true, "Show a progress bar on stderr")
}

// config builds and validates the pass configuration
func (f *passFlags) config() (*kmsplit.Config, error) {
	cfg := kmsplit.NewConfig()
	cfg.KmerLen = f.kmerLen
	cfg.SignatureLen = f.sigLen
	cfg.WindowLen = f.windowLen
	cfg.BothStrands = f.bothStrands
	cfg.HomopolymerCompressed = f.hpc
	cfg.NBins = f.bins
	cfg.ReadsShare = f.readsShare

	version, err := kmsplit.ParseMinimizerVersion(f.minimizer)
	if err != nil {
		return nil, err
	}
	cfg.MinimizerVersion = version

	if f.workers > 0 {
		cfg.Workers = f.workers
		cfg.ChunkQueueCapacity = 2 * f.workers
	}
	sizes := []struct {
		flag string
		val  string
		set  func(int64)
	}{
		{"memory", f.memory, func(n int64) { cfg.MemoryBytes = n }},
		{"read-buffer", f.readBuffer, func(n int64) { cfg.ReadBufferSize = int(n) }},
		{"bin-buffer", f.binBuffer, func(n int64) { cfg.BinBufferSize = int(n) }},
		{"max-line", f.maxLine, func(n int64) { cfg.MaxLineSize = int(n) }},
	}
	for _, s := range sizes {
		if s.val == "" {
			continue
		}
		n, err := kmsplit.ParseSize(s.val)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", s.flag, err)
		}
		s.set(n)
	}
	if f.binBuffer == "" {
		cfg.BinBufferSize = cfg.FitBinBuffer(64 * kmsplit.KB)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// progressSource is a chunk source reporting consumed input bytes
type progressSource interface {
	kmsplit.ChunkSource
	OnProgress(fn func(delta int64))
	Records() int64
}

func isBAM(files []string, format string) (bool, error) {
	switch strings.ToLower(format) {
	case "bam":
		return true, nil
	case "fastx", "fasta", "fastq":
		return false, nil
	case "auto":
		for _, file := range files {
			if strings.EqualFold(filepath.Ext(file), ".bam") {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unknown input format: %s", format)
}

// openSource picks the reader for files and attaches a byte progress bar.
// The returned function finishes the bar and may be called more than once.
func (f *passFlags) openSource(files []string, cfg *kmsplit.Config) (kmsplit.ChunkSource, func(), error) {
	bam, err := isBAM(files, f.inputFormat)
	if err != nil {
		return nil, nil, err
	}
	var src progressSource
	if bam {
		src = reads.NewBAMSource(files, f.bamThreads)
	} else {
		fx := reads.NewFastxSource(files, cfg.KmerLen)
		fx.SetHomopolymerCompressed(cfg.HomopolymerCompressed)
		src = fx
	}
	if !f.progress {
		return src, func() {}, nil
	}

	// BAM progress is compressed bytes; FASTX progress is roughly the
	// uncompressed size, so compressed FASTX inputs get no total
	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || (!bam && isCompressed(file)) {
			total = 0
			break
		}
		total += info.Size()
	}
	bar := pb.Full.Start64(total)
	bar.SetWriter(os.Stderr)
	bar.Set(pb.Bytes, true)
	src.OnProgress(func(delta int64) { bar.Add64(delta) })
	var once sync.Once
	return src, func() { once.Do(func() { bar.Finish() }) }, nil
}

func isCompressed(file string) bool {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".gz", ".xz", ".zst", ".bz2":
		return true
	}
	return false
}

// printPassSummary prints the totals of a pass and of its source to stderr
func printPassSummary(name string, res kmsplit.PassResult, src kmsplit.ChunkSource) {
	fmt.Fprintf(os.Stderr, "%s %s\n", cyan("✓"), bold(name+" pass complete"))
	if ps, ok := src.(progressSource); ok {
		fmt.Fprintf(os.Stderr, "  Input records: %s\n", humanize.Comma(ps.Records()))
	}
	if fx, ok := src.(*reads.FastxSource); ok {
		fmt.Fprintf(os.Stderr, "  Input bases: %s\n", humanize.Comma(fx.Bases()))
	}
	fmt.Fprintf(os.Stderr, "  Reads: %s\n", humanize.Comma(int64(res.NReads)))
	fmt.Fprintf(os.Stderr, "  K-mers: %s\n", humanize.Comma(int64(res.TotalKmers)))
	fmt.Fprintf(os.Stderr, "  Chunks: %s\n", humanize.Comma(int64(res.Chunks)))
	if res.MalformedChunks > 0 {
		fmt.Fprintf(os.Stderr, "  %s %d malformed chunks skipped\n", yellow("!"), res.MalformedChunks)
	}
	fmt.Fprintf(os.Stderr, "  Peak pool memory: %s\n", humanize.IBytes(uint64(res.PeakPoolBytes)))
	fmt.Fprintf(os.Stderr, "  Elapsed: %s\n", res.Elapsed.Round(1e6))
}
