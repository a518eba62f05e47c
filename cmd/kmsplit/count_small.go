package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

var (
	smallFlags    passFlags
	smallWidth    int
	smallMemory   string
	smallOutput   string
	smallMinCount uint64
)

var countSmallCmd = &cobra.Command{
	Use:   "count-small <input>...",
	Short: "Count k-mers directly for small k",
	Long: `Count every k-mer without binning, for k small enough that the whole
table fits in memory (dense up to k=15, hashed up to k=32). Counters
saturate at the maximum of --counter-width.

The output is a TSV of k-mer and count in k-mer order; a .gz, .xz, .zst or
.bz2 output name is compressed accordingly.

Example:
  kmsplit count-small -k 11 --counter-width 16 -o counts.tsv.gz reads.fq`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		cfg, err := smallFlags.config()
		if err != nil {
			return err
		}
		if smallMemory != "" {
			n, err := kmsplit.ParseSize(smallMemory)
			if err != nil {
				return fmt.Errorf("invalid --table-memory: %w", err)
			}
			cfg.SmallKMemory = n
		}
		if smallFlags.showConfig {
			cfg.ShowConfig(os.Stderr)
			return nil
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}
		coord, err := kmsplit.NewCoordinator(cfg, logger)
		if err != nil {
			return err
		}
		src, done, err := smallFlags.openSource(args, cfg)
		if err != nil {
			return err
		}
		defer done()

		outfh, err := xopen.Wopen(smallOutput)
		if err != nil {
			return fmt.Errorf("failed to open output: %w", err)
		}
		defer outfh.Close()

		var res kmsplit.PassResult
		var distinct uint64
		switch smallWidth {
		case 8:
			res, distinct, err = countSmall[uint8](ctx, coord, src, outfh)
		case 16:
			res, distinct, err = countSmall[uint16](ctx, coord, src, outfh)
		case 32:
			res, distinct, err = countSmall[uint32](ctx, coord, src, outfh)
		case 64:
			res, distinct, err = countSmall[uint64](ctx, coord, src, outfh)
		default:
			return fmt.Errorf("counter width must be 8, 16, 32 or 64, got %d", smallWidth)
		}
		done()
		if err != nil {
			return err
		}
		printPassSummary("count-small", res, src)
		fmt.Fprintf(os.Stderr, "  Distinct k-mers: %s\n", humanize.Comma(int64(distinct)))
		return nil
	},
}

func init() {
	addPassFlags(countSmallCmd, &smallFlags)
	countSmallCmd.Flags().IntVar(&smallWidth, "counter-width", 32, "Counter width in bits: 8, 16, 32, 64")
	countSmallCmd.Flags().StringVar(&smallMemory, "table-memory", "", "Memory bound of one counter table (e.g. 512M)")
	countSmallCmd.Flags().StringVarP(&smallOutput, "output", "o", "-", "Output TSV (- = stdout)")
	countSmallCmd.Flags().Uint64Var(&smallMinCount, "min-count", 1, "Skip k-mers counted fewer times")
}

func countSmall[C kmsplit.Counter](ctx context.Context, coord *kmsplit.Coordinator, src kmsplit.ChunkSource, w io.Writer) (kmsplit.PassResult, uint64, error) {
	table, res, err := kmsplit.RunSmallK[C](ctx, coord, src)
	if err != nil {
		return res, 0, fmt.Errorf("small-k pass failed: %w", err)
	}
	defer table.Release()

	k := table.KmerLen()
	line := make([]byte, 0, k+24)
	var werr error
	table.Each(func(packed uint64, count C) bool {
		if uint64(count) < smallMinCount {
			return true
		}
		line = append(line[:0], kmsplit.DecodeKmer(packed, k)...)
		line = append(line, '\t')
		line = strconv.AppendUint(line, uint64(count), 10)
		line = append(line, '\n')
		_, werr = w.Write(line)
		return werr == nil
	})
	if werr != nil {
		return res, 0, fmt.Errorf("failed to write counts: %w", werr)
	}
	return res, table.Distinct(), nil
}
