package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/binstore"
	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

var (
	dumpLimit   int
	dumpWithBin bool
)

var errDumpLimit = errors.New("dump limit reached")

var dumpCmd = &cobra.Command{
	Use:   "dump <dataset> [bin]...",
	Short: "Print the k-mers stored in bins",
	Long: `Decode and print the k-mers of the given bins (all bins when none are
given), one per line. Bin checksums are verified while reading.

Example:
  kmsplit dump bins/ 17 | sort | uniq -c`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		ds, err := binstore.OpenDataset(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to open dataset: %w", err)
		}
		defer ds.Close()
		meta := ds.Metadata()

		var bins []int
		for _, a := range args[1:] {
			bin, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid bin %q: %w", a, err)
			}
			bins = append(bins, bin)
		}
		if len(bins) == 0 {
			for _, b := range meta.Bins {
				bins = append(bins, b.Bin)
			}
		}

		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()
		k := meta.Params.KmerLen
		printed := 0
		for _, bin := range bins {
			err := ds.Kmers(ctx, bin, func(packed []byte) error {
				if dumpLimit > 0 && printed >= dumpLimit {
					return errDumpLimit
				}
				if dumpWithBin {
					fmt.Fprintf(out, "%d\t", bin)
				}
				out.WriteString(kmsplit.UnpackKmer(packed, k))
				out.WriteByte('\n')
				printed++
				return nil
			})
			if errors.Is(err, errDumpLimit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().IntVar(&dumpLimit, "limit", 0, "Stop after N k-mers (0 = all)")
	dumpCmd.Flags().BoolVar(&dumpWithBin, "with-bin", false, "Prefix each k-mer with its bin")
}
