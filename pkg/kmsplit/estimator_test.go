package kmsplit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorExact(t *testing.T) {
	cfg := testConfig(4, 2)
	s, err := NewSplitter(cfg, nil)
	require.NoError(t, err)

	est := NewEstimator(4, 0)
	require.True(t, s.ProcessReadsOnlyEstimate([]byte(">r\nACGTACGTAC\n"), FASTA, est))

	e := est.Estimate()
	assert.Equal(t, uint64(7), e.TotalKmers)
	assert.Equal(t, uint64(4), e.DistinctKmers)
	assert.Equal(t, uint64(1), e.Singletons)
	assert.Equal(t, 1.0, e.SampleRate)
	assert.Equal(t, uint64(7), e.BinBytes)
	assert.Equal(t, []HistogramBin{{Count: 1, Kmers: 1}, {Count: 2, Kmers: 3}}, e.Histogram)
}

func TestEstimatorMerge(t *testing.T) {
	a := NewEstimator(5, 0)
	b := NewEstimator(5, 0)
	sa, err := NewSplitter(testConfig(5, 3), nil)
	require.NoError(t, err)
	sb, err := NewSplitter(testConfig(5, 3), nil)
	require.NoError(t, err)

	sa.ProcessReadsOnlyEstimate([]byte(">r\nACGTACG\n"), FASTA, a)
	sb.ProcessReadsOnlyEstimate([]byte(">r\nACGTA\n"), FASTA, b)
	a.Merge(b)

	e := a.Estimate()
	assert.Equal(t, uint64(4), e.TotalKmers)
	assert.Equal(t, uint64(3), e.DistinctKmers)
	assert.Equal(t, uint64(2), e.Singletons)
}

func TestEstimatorSampling(t *testing.T) {
	cfg := testConfig(21, 9)
	s, err := NewSplitter(cfg, nil)
	require.NoError(t, err)

	seq := randomSeq(rand.New(rand.NewSource(9)), 200000)
	exact := NewEstimator(21, 0)
	sampled := NewEstimator(21, 4)
	require.True(t, s.ProcessReadsOnlyEstimate([]byte(">r\n"+seq+"\n"), FASTA, exact))
	require.True(t, s.ProcessReadsOnlyEstimate([]byte(">r\n"+seq+"\n"), FASTA, sampled))

	want := float64(exact.Estimate().DistinctKmers)
	got := float64(sampled.Estimate().DistinctKmers)
	assert.InEpsilon(t, want, got, 0.1)
	assert.Equal(t, exact.Estimate().TotalKmers, sampled.Estimate().TotalKmers)
}
