package kmsplit

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size units
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Limits
const (
	MaxSignatureLen = 12
	MaxBins         = 65536
	minBinBuffer    = 1 * KB
)

// Config is the parameter bundle of a splitting pass
type Config struct {
	// K-mer extraction
	KmerLen               int              `json:"kmer_len"`
	WindowLen             int              `json:"window_len"` // 0 means KmerLen
	SignatureLen          int              `json:"signature_len"`
	MinimizerVersion      MinimizerVersion `json:"minimizer_version"`
	BothStrands           bool             `json:"both_strands"`
	HomopolymerCompressed bool             `json:"homopolymer_compressed"`
	MaxLineSize           int              `json:"max_line_size"` // longest segment scanned at once

	// Binning
	NBins int `json:"n_bins"`

	// Resource allocation
	Workers            int     `json:"workers"`
	MemoryBytes        int64   `json:"memory_bytes"` // pool capacity
	ReadsShare         float64 `json:"reads_share"`
	ReadBufferSize     int     `json:"read_buffer_size"`
	BinBufferSize      int     `json:"bin_buffer_size"`
	ChunkQueueCapacity int     `json:"chunk_queue_capacity"`
	BinQueueCapacity   int     `json:"bin_queue_capacity"`

	// Auxiliary passes
	SmallKMemory       int64 `json:"small_k_memory"`       // bound for direct small-k tables
	EstimateSampleBits int   `json:"estimate_sample_bits"` // keep 1 in 2^bits k-mers
	StatsSampleChunks  int   `json:"stats_sample_chunks"`  // 0 scans the whole input

	availableMemory int64
}

// NewConfig creates a Config with smart defaults derived from the host
func NewConfig() *Config {
	mem := getSystemMemory()
	workers := detectOptimalWorkers()

	memory := clamp64(mem.Total/4, 512*MB, 16*GB)
	c := &Config{
		KmerLen:            25,
		SignatureLen:       9,
		MinimizerVersion:   MinimizerWindowed,
		MaxLineSize:        1 * MB,
		NBins:              512,
		Workers:            workers,
		MemoryBytes:        memory,
		ReadsShare:         0.25,
		ReadBufferSize:     16 * MB,
		BinQueueCapacity:   4096,
		ChunkQueueCapacity: workers * 2,
		SmallKMemory:       clamp64(mem.Total/8, 64*MB, 4*GB),
		EstimateSampleBits: 4,
		StatsSampleChunks:  4,
		availableMemory:    mem.Available,
	}
	c.BinBufferSize = c.FitBinBuffer(64 * KB)
	return c
}

// FitBinBuffer returns the largest power-of-two bin buffer not above want that
// still lets every worker hold one active buffer per bin.
func (c *Config) FitBinBuffer(want int) int {
	binsShare := c.MemoryBytes - int64(float64(c.MemoryBytes)*c.ReadsShare)
	size := want
	for size > minBinBuffer && int64(c.Workers)*int64(c.NBins)*int64(size) > binsShare {
		size /= 2
	}
	return size
}

// Window returns the effective minimizer window length.
func (c *Config) Window() int {
	return windowFor(c.MinimizerVersion, c.KmerLen, c.WindowLen)
}

// Validate checks the configuration. Any error is fatal for the pass.
func (c *Config) Validate() error {
	if c.KmerLen < 1 || c.KmerLen > MaxKmerLen {
		return fmt.Errorf("%w: kmer length must be in [1,%d], got %d", ErrInvalidConfig, MaxKmerLen, c.KmerLen)
	}
	if c.SignatureLen < 1 || c.SignatureLen > MaxSignatureLen {
		return fmt.Errorf("%w: signature length must be in [1,%d], got %d", ErrInvalidConfig, MaxSignatureLen, c.SignatureLen)
	}
	if c.SignatureLen > c.KmerLen {
		return fmt.Errorf("%w: signature length %d exceeds kmer length %d", ErrInvalidConfig, c.SignatureLen, c.KmerLen)
	}
	if c.WindowLen != 0 && (c.WindowLen < c.SignatureLen || c.WindowLen > c.KmerLen) {
		return fmt.Errorf("%w: window length must be in [%d,%d], got %d", ErrInvalidConfig, c.SignatureLen, c.KmerLen, c.WindowLen)
	}
	if c.MinimizerVersion != MinimizerWindowed && c.MinimizerVersion != MinimizerLegacy {
		return fmt.Errorf("%w: unknown minimizer version %d", ErrInvalidConfig, int(c.MinimizerVersion))
	}
	if c.NBins < 1 || c.NBins > MaxBins {
		return fmt.Errorf("%w: bin count must be in [1,%d], got %d", ErrInvalidConfig, MaxBins, c.NBins)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalidConfig)
	}
	if c.MaxLineSize < c.KmerLen {
		return fmt.Errorf("%w: max line size %d is shorter than kmer length %d", ErrInvalidConfig, c.MaxLineSize, c.KmerLen)
	}
	if c.MemoryBytes <= 0 {
		return fmt.Errorf("%w: memory must be > 0", ErrInvalidConfig)
	}
	if c.ReadsShare <= 0 || c.ReadsShare >= 1 {
		return fmt.Errorf("%w: reads share must be in (0,1), got %.2f", ErrInvalidConfig, c.ReadsShare)
	}
	if c.ReadBufferSize <= 2*c.KmerLen {
		return fmt.Errorf("%w: read buffer size %d too small for kmer length %d", ErrInvalidConfig, c.ReadBufferSize, c.KmerLen)
	}
	pc := c.PoolConfig()
	readsShare := int64(float64(pc.Capacity) * pc.ReadsShare)
	if int64(c.ReadBufferSize) > readsShare {
		return fmt.Errorf("%w: reads share (%s) cannot hold one read buffer (%s)", ErrInvalidConfig,
			humanize.IBytes(uint64(readsShare)), humanize.IBytes(uint64(c.ReadBufferSize)))
	}
	if c.BinBufferSize < KmerBytes(c.KmerLen) {
		return fmt.Errorf("%w: bin buffer size %d cannot hold one %d-byte k-mer", ErrInvalidConfig, c.BinBufferSize, KmerBytes(c.KmerLen))
	}
	binsShare := pc.Capacity - readsShare
	if need := int64(c.Workers) * int64(c.NBins) * int64(c.BinBufferSize); need > binsShare {
		return fmt.Errorf("%w: bins share (%s) below workers x bins x bin buffer (%s)", ErrInvalidConfig,
			humanize.IBytes(uint64(binsShare)), humanize.IBytes(uint64(need)))
	}
	if c.ChunkQueueCapacity < 1 || c.BinQueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacities must be >= 1", ErrInvalidConfig)
	}
	if c.EstimateSampleBits < 0 || c.EstimateSampleBits > 16 {
		return fmt.Errorf("%w: estimate sample bits must be in [0,16], got %d", ErrInvalidConfig, c.EstimateSampleBits)
	}
	if c.StatsSampleChunks < 0 {
		return fmt.Errorf("%w: stats sample chunks must be >= 0", ErrInvalidConfig)
	}

	if c.Workers > 64 {
		slog.Warn("workers > 64 may cause diminishing returns", "workers", c.Workers)
	}
	if c.availableMemory > 0 && c.MemoryBytes > c.availableMemory {
		slog.Warn("pool capacity exceeds available memory",
			"memory", humanize.IBytes(uint64(c.MemoryBytes)),
			"available", humanize.IBytes(uint64(c.availableMemory)))
	}
	return nil
}

// PoolConfig returns the memory pool parameters of c.
func (c *Config) PoolConfig() PoolConfig {
	return PoolConfig{
		Capacity:       c.MemoryBytes,
		ReadsShare:     c.ReadsShare,
		ReadBufferSize: c.ReadBufferSize,
		BinBufferSize:  c.BinBufferSize,
	}
}

// ShowConfig prints the effective configuration
func (c *Config) ShowConfig(w io.Writer) {
	mem := getSystemMemory()

	fmt.Fprintf(w, "System Information:\n")
	fmt.Fprintf(w, "  Total RAM: %s\n", humanize.IBytes(uint64(mem.Total)))
	fmt.Fprintf(w, "  Available RAM: %s\n", humanize.IBytes(uint64(mem.Available)))
	totalCores := runtime.NumCPU()
	if optimal := detectOptimalWorkers(); optimal < totalCores {
		fmt.Fprintf(w, "  CPU cores: %d total (%d performance, %d efficiency)\n",
			totalCores, optimal, totalCores-optimal)
	} else {
		fmt.Fprintf(w, "  CPU cores: %d\n", totalCores)
	}
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  k: %d\n", c.KmerLen)
	fmt.Fprintf(w, "  Signature: %d (window %d, %s)\n", c.SignatureLen, c.Window(), c.MinimizerVersion)
	fmt.Fprintf(w, "  Both strands: %v\n", c.BothStrands)
	fmt.Fprintf(w, "  Homopolymer compressed: %v\n", c.HomopolymerCompressed)
	fmt.Fprintf(w, "  Bins: %d\n", c.NBins)
	fmt.Fprintf(w, "  Workers: %d\n", c.Workers)
	fmt.Fprintf(w, "  Memory pool: %s (reads %.0f%%)\n", humanize.IBytes(uint64(c.MemoryBytes)), c.ReadsShare*100)
	fmt.Fprintf(w, "  Read buffer: %s\n", humanize.IBytes(uint64(c.ReadBufferSize)))
	fmt.Fprintf(w, "  Bin buffer: %s\n", humanize.IBytes(uint64(c.BinBufferSize)))
	fmt.Fprintf(w, "\n")
}

// ParseSize parses size string (e.g., "1M", "512K", "8G") to bytes
func ParseSize(sizeStr string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(sizeStr))
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 0, fmt.Errorf("invalid size: %q", sizeStr)
	}

	var multiplier int64 = 1
	switch s[len(s)-1] {
	case 'K':
		multiplier = KB
	case 'M':
		multiplier = MB
	case 'G':
		multiplier = GB
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size: %q", sizeStr)
	}
	return value * multiplier, nil
}

// SystemMemory holds system memory information
type SystemMemory struct {
	Total     int64
	Available int64
}

func getSystemMemory() SystemMemory {
	total, available := detectSystemMemory()
	if total == 0 {
		total = 16 * GB
		available = 12 * GB
	}
	return SystemMemory{Total: total, Available: available}
}

func clamp64(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}
