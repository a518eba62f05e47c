package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/binstore"
)

var statsTop int

var statsCmd = &cobra.Command{
	Use:   "stats <dataset>",
	Short: "Show statistics for a binned dataset",
	Long: `Display statistics for a binned dataset.

Statistics are read from the metadata file without scanning the bins.

Example:
  kmsplit stats bins/
  kmsplit stats s3://bucket/run1/bins`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		ds, err := binstore.OpenDataset(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to open dataset: %w", err)
		}
		defer ds.Close()
		meta := ds.Metadata()
		p := meta.Params
		st := meta.Statistics

		fmt.Println("===========================================")
		fmt.Println(bold("kmsplit Dataset Statistics"))
		fmt.Println("===========================================")
		fmt.Println()
		fmt.Printf("Format: %s v%s\n", meta.Format, meta.Version)
		fmt.Printf("Created: %s\n", meta.Created.Format("2006-01-02 15:04:05"))
		if meta.CreatedBy != "" {
			fmt.Printf("Created by: %s\n", meta.CreatedBy)
		}
		if len(meta.Source.Files) > 0 {
			fmt.Printf("Source: %v (%s)\n", meta.Source.Files, meta.Source.ReadType)
		}
		fmt.Println()

		fmt.Println("Parameters:")
		fmt.Printf("  k: %d (%d bytes per record)\n", p.KmerLen, p.RecordLen)
		fmt.Printf("  Signature length: %d, window: %d, minimizer: %s\n", p.SignatureLen, p.WindowLen, p.MinimizerVersion)
		fmt.Printf("  Both strands: %v, homopolymer compressed: %v\n", p.BothStrands, p.HomopolymerCompressed)
		fmt.Printf("  Bins: %d (balanced: %v)\n", p.NBins, p.Balanced)
		fmt.Println()

		fmt.Println("Statistics:")
		fmt.Printf("  Records: %s\n", humanize.Comma(int64(st.Records)))
		fmt.Printf("  Frames: %s\n", humanize.Comma(int64(st.Frames)))
		fmt.Printf("  Non-empty bins: %d\n", st.NonEmpty)
		fmt.Printf("  Raw: %s\n", humanize.IBytes(uint64(st.RawBytes)))
		fmt.Printf("  Stored: %s (%s)\n", humanize.IBytes(uint64(st.StoredBytes)), meta.Codec)
		if st.StoredBytes > 0 {
			fmt.Printf("  Compression ratio: %.2fx\n", float64(st.RawBytes)/float64(st.StoredBytes))
		}
		if meta.Pass != nil {
			fmt.Printf("  Reads: %s\n", humanize.Comma(int64(meta.Pass.NReads)))
			if meta.Pass.MalformedChunks > 0 {
				fmt.Printf("  %s malformed chunks: %d\n", yellow("!"), meta.Pass.MalformedChunks)
			}
		}

		if len(meta.Bins) == 0 || statsTop <= 0 {
			return nil
		}
		bins := append([]binstore.BinInfo(nil), meta.Bins...)
		sort.Slice(bins, func(i, j int) bool { return bins[i].Records > bins[j].Records })
		mean := float64(st.Records) / float64(p.NBins)
		fmt.Println()
		fmt.Printf("Largest bins (mean %.0f records):\n", mean)
		for _, b := range bins[:min(statsTop, len(bins))] {
			fmt.Printf("  %5d: %s records (%.2fx mean), %s\n", b.Bin,
				humanize.Comma(int64(b.Records)), float64(b.Records)/mean, humanize.IBytes(uint64(b.StoredBytes)))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "Show the N largest bins (0 = none)")
}
