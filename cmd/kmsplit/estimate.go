package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

var (
	estimateFlags      passFlags
	estimateSampleBits int
	estimateJSON       bool
	estimateHistMax    uint64
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <input>...",
	Short: "Estimate the k-mer spectrum without binning",
	Long: `Scan reads and estimate the number of distinct k-mers, singletons and
the count histogram from a hash sample of 1 in 2^sample-bits k-mers. Also
reports the bytes a split pass would write.

Example:
  kmsplit estimate -k 31 --sample-bits 6 reads.fq.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		cfg, err := estimateFlags.config()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("sample-bits") {
			cfg.EstimateSampleBits = estimateSampleBits
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		if estimateFlags.showConfig {
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
		src, done, err := estimateFlags.openSource(args, cfg)
		if err != nil {
			return err
		}
		est, res, err := coord.RunEstimate(ctx, src)
		done()
		if err != nil {
			return fmt.Errorf("estimate pass failed: %w", err)
		}

		if estimateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Estimate kmsplit.Estimate   `json:"estimate"`
				Pass     kmsplit.PassResult `json:"pass"`
			}{est, res})
		}

		printPassSummary("estimate", res, src)
		fmt.Printf("Total k-mers:     %s\n", humanize.Comma(int64(est.TotalKmers)))
		fmt.Printf("Distinct k-mers:  ~%s\n", humanize.Comma(int64(est.DistinctKmers)))
		fmt.Printf("Singletons:       ~%s\n", humanize.Comma(int64(est.Singletons)))
		fmt.Printf("Sample rate:      %g\n", est.SampleRate)
		fmt.Printf("Split output:     %s before compression\n", humanize.IBytes(est.BinBytes))
		fmt.Println()
		fmt.Println("count\tdistinct_kmers")
		var tail uint64
		for _, h := range est.Histogram {
			if estimateHistMax > 0 && h.Count > estimateHistMax {
				tail += h.Kmers
				continue
			}
			fmt.Printf("%d\t%d\n", h.Count, h.Kmers)
		}
		if tail > 0 {
			fmt.Printf(">%d\t%d\n", estimateHistMax, tail)
		}
		return nil
	},
}

func init() {
	addPassFlags(estimateCmd, &estimateFlags)
	estimateCmd.Flags().IntVar(&estimateSampleBits, "sample-bits", 4, "Keep 1 in 2^N distinct k-mers (0 = exact)")
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the estimate as JSON")
	estimateCmd.Flags().Uint64Var(&estimateHistMax, "hist-max", 100, "Fold histogram counts above this into one row (0 = none)")
}
