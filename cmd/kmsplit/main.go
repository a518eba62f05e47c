package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

const version = "0.1.0"

var (
	logLevel string
	logJSON  bool

	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "kmsplit",
	Short: "kmsplit - k-mer signature binning for counting pipelines",
	Long: `kmsplit splits sequencing reads into k-mers and routes each k-mer to
one of N bins by its minimizer signature, the first stage of a KMC-style
disk-based k-mer counter.

This tool provides commands for estimating the k-mer spectrum, binning reads
into a dataset on local disk or S3, counting small k directly, and inspecting
binned datasets.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"Write logs as JSON")

	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(countSmallCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kmsplit-go version %s\n", version)
		fmt.Println("k-mer signature binning for counting pipelines")
	},
}

func newLogger() (*kmsplit.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", logLevel)
	}
	logger := kmsplit.NewLogger(level, logJSON)
	slog.SetDefault(logger.Logger)
	return logger, nil
}
