package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/binstore"
	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

var (
	splitFlags      passFlags
	splitCodec      string
	splitLevel      int
	splitWriters    int
	splitBalance    bool
	splitStatsChunk int
	splitOverwrite  bool
	splitJSON       bool
)

var splitCmd = &cobra.Command{
	Use:   "split <output> <input>...",
	Short: "Bin the k-mers of reads by signature",
	Long: `Split reads into k-mers and write each k-mer to the bin of its
minimizer signature. The output is a dataset directory (or s3://bucket/prefix)
holding one file per non-empty bin and a _metadata.json summary.

Balancing:
  By default signatures are assigned to bins by hash. With --balance a stats
  pass first counts k-mers per signature over the first --stats-chunks chunks
  and the heaviest signatures are spread over the bins.

Memory:
  --memory bounds every buffer of the pass. The bins share must hold one bin
  buffer per worker and bin; the bin buffer shrinks automatically unless
  --bin-buffer is given.

Examples:
  # FASTQ input, local dataset
  kmsplit split -k 31 -m 9 -n 512 bins/ reads_1.fq.gz reads_2.fq.gz

  # BAM input, balanced bins, straight to S3
  kmsplit split --balance --codec zstd s3://bucket/run1/bins sample.bam

  # Show effective configuration
  kmsplit split --show-config out/ reads.fa`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSplit(cmd.Context(), args[0], args[1:])
	},
}

func init() {
	addPassFlags(splitCmd, &splitFlags)
	splitCmd.Flags().StringVar(&splitCodec, "codec", "zstd", "Bin frame compression: none, zstd, lz4")
	splitCmd.Flags().IntVar(&splitLevel, "level", 2, "zstd level: 1 (fastest) - 3 (best)")
	splitCmd.Flags().IntVar(&splitWriters, "writers", 0, "Compression workers (0 = half the workers)")
	splitCmd.Flags().BoolVar(&splitBalance, "balance", false, "Run a stats pass and balance bins by signature load")
	splitCmd.Flags().IntVar(&splitStatsChunk, "stats-chunks", 0, "Chunks sampled by the stats pass (0 = default)")
	splitCmd.Flags().BoolVar(&splitOverwrite, "overwrite", false, "Replace an existing dataset")
	splitCmd.Flags().BoolVar(&splitJSON, "json", false, "Print the pass result as JSON on stdout")
}

// signalContext cancels on SIGINT/SIGTERM
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runSplit(ctx context.Context, output string, inputs []string) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	cfg, err := splitFlags.config()
	if err != nil {
		return err
	}
	if splitStatsChunk > 0 {
		cfg.StatsSampleChunks = splitStatsChunk
	}
	if splitFlags.showConfig {
		cfg.ShowConfig(os.Stderr)
		return nil
	}
	codec, err := binstore.ParseCodec(splitCodec)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	coord, err := kmsplit.NewCoordinator(cfg, logger)
	if err != nil {
		return err
	}

	var mapper *kmsplit.SignatureMapper
	if splitBalance {
		statsFlags := splitFlags
		statsFlags.progress = false
		src, done, err := statsFlags.openSource(inputs, cfg)
		if err != nil {
			return err
		}
		stats, res, err := coord.RunStats(ctx, src)
		done()
		if err != nil {
			return fmt.Errorf("stats pass failed: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s stats pass sampled %s k-mers in %d chunks\n",
			cyan("✓"), humanize.Comma(int64(res.TotalKmers)), res.Chunks)
		if mapper, err = coord.NewMapper(stats); err != nil {
			return err
		}
	}

	writers := splitWriters
	if writers <= 0 {
		writers = max(1, cfg.Workers/2)
	}
	w, err := binstore.NewWriter(ctx, output, cfg, binstore.WriterOptions{
		Codec:     codec,
		Level:     splitLevel,
		Workers:   writers,
		Overwrite: splitOverwrite,
		Balanced:  splitBalance,
		Source:    binstore.Source{Files: inputs, ReadType: inputReadType(inputs)},
		CreatedBy: "kmsplit-go " + version,
	}, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	src, done, err := splitFlags.openSource(inputs, cfg)
	if err != nil {
		return err
	}
	res, err := coord.RunSplit(ctx, src, mapper, w)
	done()
	if err != nil {
		return fmt.Errorf("split pass failed: %w", err)
	}
	meta, err := w.Finalize(ctx, &res)
	if err != nil {
		return err
	}

	if splitJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printPassSummary("split", res, src)
	fmt.Fprintf(os.Stderr, "  Dataset: %s\n", w.Storage().BasePath())
	fmt.Fprintf(os.Stderr, "  Non-empty bins: %d of %d\n", meta.Statistics.NonEmpty, cfg.NBins)
	fmt.Fprintf(os.Stderr, "  Stored: %s (%s raw, %s)\n",
		humanize.IBytes(uint64(meta.Statistics.StoredBytes)),
		humanize.IBytes(uint64(meta.Statistics.RawBytes)), meta.Codec)
	return nil
}

func inputReadType(inputs []string) string {
	if bam, _ := isBAM(inputs, splitFlags.inputFormat); bam {
		return kmsplit.BAM.String()
	}
	return "fastx"
}
