package kmsplit

import (
	"container/heap"
	"fmt"
	"sort"
)

// SignatureMapper maps every signature (including the sentinel) to a bin id.
// The table is built once per pass and is read-only afterwards.
type SignatureMapper struct {
	sigLen int
	nBins  int
	table  []int32
}

// binLoad is an entry of the least-loaded-bin heap
type binLoad struct {
	bin  int32
	load uint64
}

type loadHeap []binLoad

func (h loadHeap) Len() int { return len(h) }

func (h loadHeap) Less(i, j int) bool {
	if h[i].load != h[j].load {
		return h[i].load < h[j].load
	}
	return h[i].bin < h[j].bin
}

func (h loadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *loadHeap) Push(x interface{}) { *h = append(*h, x.(binLoad)) }

func (h *loadHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewSignatureMapper builds the signature to bin table.
//
// Without stats every signature goes to Hash64(sig) mod nBins. With stats
// (one count per signature, sentinel excluded) signatures are assigned in
// decreasing count order to the currently least loaded bin; signatures never
// seen in the sample keep the hashed assignment. The sentinel always maps to
// the catch-all bin nBins-1.
func NewSignatureMapper(sigLen, nBins int, stats []uint64) (*SignatureMapper, error) {
	if sigLen < 1 || sigLen > MaxSignatureLen {
		return nil, fmt.Errorf("%w: signature length %d out of range [1,%d]", ErrInvalidConfig, sigLen, MaxSignatureLen)
	}
	if nBins < 1 || nBins > MaxBins {
		return nil, fmt.Errorf("%w: bin count %d out of range [1,%d]", ErrInvalidConfig, nBins, MaxBins)
	}
	nSigs := 1 << (2 * uint(sigLen))
	if stats != nil && len(stats) < nSigs {
		return nil, fmt.Errorf("%w: stats cover %d signatures, need %d", ErrInvalidConfig, len(stats), nSigs)
	}

	m := &SignatureMapper{
		sigLen: sigLen,
		nBins:  nBins,
		table:  make([]int32, nSigs+1),
	}
	mask := bitMask(uint(2 * sigLen))
	for sig := 0; sig < nSigs; sig++ {
		m.table[sig] = int32(Hash64(uint64(sig), mask) % uint64(nBins))
	}
	m.table[nSigs] = int32(nBins - 1)

	if stats != nil {
		m.balance(stats[:nSigs], mask)
	}
	return m, nil
}

func (m *SignatureMapper) balance(stats []uint64, mask uint64) {
	type sigCount struct {
		sig    uint32
		count  uint64
		jitter uint64
	}
	var seen []sigCount
	for sig, c := range stats {
		if c > 0 {
			seen = append(seen, sigCount{uint32(sig), c, Hash64(uint64(sig), mask)})
		}
	}
	// jitter orders equal counts without favouring low (A-rich) encodings
	sort.Slice(seen, func(i, j int) bool {
		if seen[i].count != seen[j].count {
			return seen[i].count > seen[j].count
		}
		return seen[i].jitter < seen[j].jitter
	})

	h := make(loadHeap, m.nBins)
	for i := range h {
		h[i] = binLoad{bin: int32(i)}
	}
	heap.Init(&h)
	for _, s := range seen {
		least := heap.Pop(&h).(binLoad)
		m.table[s.sig] = least.bin
		least.load += s.count
		heap.Push(&h, least)
	}
}

// Bin returns the bin id for sig. Out-of-range signatures go to the catch-all bin.
func (m *SignatureMapper) Bin(sig uint32) int32 {
	if int(sig) >= len(m.table) {
		return m.CatchAll()
	}
	return m.table[sig]
}

// CatchAll returns the bin receiving k-mers without a valid signature.
func (m *SignatureMapper) CatchAll() int32 {
	return int32(m.nBins - 1)
}

// NBins returns the number of bins.
func (m *SignatureMapper) NBins() int {
	return m.nBins
}

// SignatureLen returns the signature length the table was built for.
func (m *SignatureMapper) SignatureLen() int {
	return m.sigLen
}
