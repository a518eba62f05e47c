package kmsplit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigIsValid(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, cfg.KmerLen, cfg.Window())
	assert.GreaterOrEqual(t, cfg.BinBufferSize, minBinBuffer)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"kmer too short", func(c *Config) { c.KmerLen = 0 }},
		{"kmer too long", func(c *Config) { c.KmerLen = MaxKmerLen + 1 }},
		{"signature too long", func(c *Config) { c.SignatureLen = MaxSignatureLen + 1 }},
		{"signature longer than kmer", func(c *Config) { c.KmerLen, c.SignatureLen = 5, 6 }},
		{"window below signature", func(c *Config) { c.WindowLen = 3 }},
		{"window above kmer", func(c *Config) { c.WindowLen = 40 }},
		{"unknown minimizer", func(c *Config) { c.MinimizerVersion = 7 }},
		{"no bins", func(c *Config) { c.NBins = 0 }},
		{"too many bins", func(c *Config) { c.NBins = MaxBins + 1 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"short max line", func(c *Config) { c.MaxLineSize = 10 }},
		{"no memory", func(c *Config) { c.MemoryBytes = 0 }},
		{"reads share", func(c *Config) { c.ReadsShare = 1 }},
		{"read buffer over share", func(c *Config) { c.ReadBufferSize = 8 * MB }},
		{"bin buffer under kmer", func(c *Config) { c.BinBufferSize = 2 }},
		{"bins share too small", func(c *Config) { c.NBins = 4096 }},
		{"sample bits", func(c *Config) { c.EstimateSampleBits = 17 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(25, 9)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := testConfig(25, 9)
	cfg.WindowLen = 15
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.Window())
	cfg.MinimizerVersion = MinimizerLegacy
	assert.Equal(t, 25, cfg.Window())
}

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"100":   100,
		"512K":  512 * KB,
		"1M":    MB,
		"8G":    8 * GB,
		"8gb":   8 * GB,
		" 64k ": 64 * KB,
	}
	for in, want := range tests {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "abc", "1.5G", "-1M"} {
		_, err := ParseSize(in)
		assert.Error(t, err, in)
	}
}

func TestShowConfig(t *testing.T) {
	var buf bytes.Buffer
	testConfig(25, 9).ShowConfig(&buf)
	assert.Contains(t, buf.String(), "Bins: 8")
	assert.Contains(t, buf.String(), "k: 25")
}
