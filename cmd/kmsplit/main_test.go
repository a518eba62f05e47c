package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/kmsplit-go/pkg/binstore"
)

func TestIsBAM(t *testing.T) {
	tests := []struct {
		files   []string
		format  string
		want    bool
		wantErr bool
	}{
		{[]string{"a.fq.gz"}, "auto", false, false},
		{[]string{"a.fq", "b.BAM"}, "auto", true, false},
		{[]string{"reads"}, "bam", true, false},
		{[]string{"a.bam"}, "fastx", false, false},
		{[]string{"a.bam"}, "cram", false, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.files, ",")+"/"+tt.format, func(t *testing.T) {
			got, err := isBAM(tt.files, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPassFlagsConfig(t *testing.T) {
	f := passFlags{
		kmerLen:    21,
		sigLen:     7,
		minimizer:  "legacy",
		bins:       64,
		workers:    2,
		memory:     "64M",
		readsShare: 0.25,
		readBuffer: "1M",
	}
	cfg, err := f.config()
	require.NoError(t, err)
	assert.Equal(t, 21, cfg.KmerLen)
	assert.Equal(t, 21, cfg.Window())
	assert.Equal(t, int64(64<<20), cfg.MemoryBytes)
	assert.Equal(t, 1<<20, cfg.ReadBufferSize)
	assert.Equal(t, 4, cfg.ChunkQueueCapacity)
	// 48M bins share over 2 workers x 64 bins keeps the 64K default
	assert.Equal(t, 64<<10, cfg.BinBufferSize)

	f.memory = "2X"
	_, err = f.config()
	assert.Error(t, err)

	f.memory = "64M"
	f.minimizer = "best"
	_, err = f.config()
	assert.Error(t, err)
}

func TestSplitStatsDumpCommands(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "reads.fa")
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(">r\nACGTTGCAAGGCTTAACCGGTTAACGTAGCTAGCATCGATCGGA\n")
	}
	require.NoError(t, os.WriteFile(input, []byte(sb.String()), 0644))
	output := filepath.Join(dir, "bins")

	rootCmd.SetArgs([]string{"split", "-k", "15", "-m", "5", "-n", "16", "-t", "2",
		"--memory", "16M", "--read-buffer", "64K", "--progress=false", "--balance",
		"--codec", "lz4", output, input})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	ds, err := binstore.OpenDataset(context.Background(), output)
	require.NoError(t, err)
	meta := ds.Metadata()
	assert.Equal(t, uint64(20*(44-15+1)), meta.Statistics.Records)
	assert.True(t, meta.Params.Balanced)
	require.NoError(t, ds.Close())

	rootCmd.SetArgs([]string{"stats", output})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	rootCmd.SetArgs([]string{"dump", "--limit", "3", output})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
}
