package kmsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureMapperRangeAndDeterminism(t *testing.T) {
	for _, nBins := range []int{1, 7, 64, 512} {
		a, err := NewSignatureMapper(6, nBins, nil)
		require.NoError(t, err)
		b, err := NewSignatureMapper(6, nBins, nil)
		require.NoError(t, err)

		for sig := uint32(0); sig <= SentinelSignature(6); sig++ {
			bin := a.Bin(sig)
			require.GreaterOrEqual(t, bin, int32(0))
			require.Less(t, bin, int32(nBins))
			require.Equal(t, bin, a.Bin(sig))
			require.Equal(t, bin, b.Bin(sig))
		}
		assert.Equal(t, int32(nBins-1), a.Bin(SentinelSignature(6)))
		assert.Equal(t, a.CatchAll(), a.Bin(SentinelSignature(6)+100))
	}
}

func TestSignatureMapperSpreadsSignatures(t *testing.T) {
	m, err := NewSignatureMapper(8, 16, nil)
	require.NoError(t, err)

	counts := make([]int, 16)
	for sig := uint32(0); sig < SentinelSignature(8); sig++ {
		counts[m.Bin(sig)]++
	}
	for bin, n := range counts {
		// 4096 signatures per bin on average
		assert.InDelta(t, 4096, n, 1024, "bin %d", bin)
	}
}

func TestSignatureMapperBalancesHeavySignature(t *testing.T) {
	stats := make([]uint64, 16+1)
	for i := range stats[:16] {
		stats[i] = 1
	}
	stats[5] = 1000

	m, err := NewSignatureMapper(2, 4, stats)
	require.NoError(t, err)

	heavy := m.Bin(5)
	for sig := uint32(0); sig < 16; sig++ {
		if sig != 5 {
			assert.NotEqual(t, heavy, m.Bin(sig), "signature %d shares the heavy bin", sig)
		}
	}
	assert.Equal(t, int32(3), m.Bin(SentinelSignature(2)))
}

func TestSignatureMapperValidation(t *testing.T) {
	_, err := NewSignatureMapper(0, 4, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewSignatureMapper(MaxSignatureLen+1, 4, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewSignatureMapper(4, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewSignatureMapper(4, 8, make([]uint64, 10))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
