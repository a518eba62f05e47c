package kmsplit

import (
	"sort"
)

// Estimator samples k-mers by hash and extrapolates the size of the k-mer
// spectrum. A k-mer is sampled when the top sampleBits bits of its hash are
// zero, so every occurrence of a sampled k-mer is counted exactly.
type Estimator struct {
	kmerLen    int
	sampleBits int
	mask       uint64
	total      uint64
	counts     map[uint64]uint32
}

// Estimate is the extrapolated k-mer spectrum of a pass
type Estimate struct {
	TotalKmers    uint64         `json:"total_kmers"`
	DistinctKmers uint64         `json:"distinct_kmers"`
	Singletons    uint64         `json:"singletons"`
	SampleRate    float64        `json:"sample_rate"`
	BinBytes      uint64         `json:"bin_bytes"` // packed bytes the binning pass will write
	Histogram     []HistogramBin `json:"histogram"`
}

// HistogramBin is the estimated number of distinct k-mers seen Count times
type HistogramBin struct {
	Count uint64 `json:"count"`
	Kmers uint64 `json:"kmers"`
}

// NewEstimator creates an estimator keeping one in 2^sampleBits distinct k-mers.
func NewEstimator(kmerLen, sampleBits int) *Estimator {
	return &Estimator{
		kmerLen:    kmerLen,
		sampleBits: sampleBits,
		mask:       bitMask(uint(2 * min(kmerLen, 32))),
		counts:     make(map[uint64]uint32),
	}
}

// Accept implements Sink.
func (e *Estimator) Accept(k *Kmer) bool {
	e.total++
	var h uint64
	if e.kmerLen <= 32 {
		h = Hash64(k.Packed, e.mask)
		if e.kmerLen < 32 {
			// spread the masked hash over the full word before sampling
			h = Hash64(h, ^uint64(0))
		}
	} else {
		h = kmerHash(k.Codes)
	}
	if e.sampleBits > 0 && h>>(64-uint(e.sampleBits)) != 0 {
		return true
	}
	if c := e.counts[h]; c < ^uint32(0) {
		e.counts[h] = c + 1
	}
	return true
}

// Merge folds other into e. Both must use the same k and sample rate.
func (e *Estimator) Merge(other *Estimator) {
	e.total += other.total
	for h, c := range other.counts {
		sum := uint64(e.counts[h]) + uint64(c)
		e.counts[h] = uint32(min(sum, uint64(^uint32(0))))
	}
}

// Estimate extrapolates the sampled spectrum.
func (e *Estimator) Estimate() Estimate {
	scale := uint64(1) << uint(e.sampleBits)
	hist := make(map[uint64]uint64)
	for _, c := range e.counts {
		hist[uint64(c)]++
	}

	est := Estimate{
		TotalKmers:    e.total,
		DistinctKmers: uint64(len(e.counts)) * scale,
		Singletons:    hist[1] * scale,
		SampleRate:    1 / float64(scale),
		BinBytes:      e.total * uint64(KmerBytes(e.kmerLen)),
	}
	for c, n := range hist {
		est.Histogram = append(est.Histogram, HistogramBin{Count: c, Kmers: n * scale})
	}
	sort.Slice(est.Histogram, func(i, j int) bool {
		return est.Histogram[i].Count < est.Histogram[j].Count
	})
	return est
}
