package kmsplit

import (
	"context"
	"fmt"
	"sort"
	"unsafe"
)

// Counter is the integer width of small-k counters
type Counter interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

const (
	// hashed tables refuse new k-mers above this fill ratio
	smallKMaxLoad = 0.9

	// longest k a hashed table can key on a single word
	smallKMaxHashedLen = 32
	smallKMaxDenseLen  = 15
)

// SmallKTable counts k-mers directly, skipping binning. When the whole
// 4^k space fits the memory bound the table is a dense array indexed by the
// packed k-mer; otherwise it is an open-addressing table probed by double
// hashing. Counters saturate at the maximum of C.
type SmallKTable[C Counter] struct {
	kmerLen int
	mask    uint64
	dense   bool

	counts []C
	keys   []uint64 // hashed only; a slot is free while its count is zero
	used   int
	limit  int

	total uint64
	err   error

	pool     *MemoryPool
	res      *Buffer
	released bool
}

// SmallKBytes returns the memory a table for k needs under maxBytes, and
// whether it would be dense. ok is false when no table fits.
func SmallKBytes[C Counter](k int, maxBytes int64) (bytes int64, dense bool, ok bool) {
	width := int64(unsafe.Sizeof(C(0)))
	if k >= 1 && k <= smallKMaxDenseLen {
		if size := (int64(1) << (2 * uint(k))) * width; size <= maxBytes {
			return size, true, true
		}
	}
	if k < 1 || k > smallKMaxHashedLen {
		return 0, false, false
	}
	slots := hashedSlots(maxBytes / (8 + width))
	if slots < 2 {
		return 0, false, false
	}
	return slots * (8 + width), false, true
}

// hashedSlots rounds n down to a power of two
func hashedSlots(n int64) int64 {
	if n < 1 {
		return 0
	}
	p := int64(1)
	for p*2 <= n {
		p *= 2
	}
	return p
}

// NewSmallKTable creates a table for k-mers of length k using at most
// maxBytes, charged to pool's bins share when pool is not nil.
func NewSmallKTable[C Counter](ctx context.Context, pool *MemoryPool, k int, maxBytes int64) (*SmallKTable[C], error) {
	bytes, dense, ok := SmallKBytes[C](k, maxBytes)
	if !ok {
		return nil, fmt.Errorf("%w: no small-k table for k=%d fits in %d bytes", ErrInvalidConfig, k, maxBytes)
	}

	t := &SmallKTable[C]{
		kmerLen: k,
		mask:    bitMask(uint(2 * k)),
		dense:   dense,
		pool:    pool,
	}
	if pool != nil {
		res, err := pool.Reserve(ctx, BinBuffer, bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve small-k table: %w", err)
		}
		t.res = res
	}

	if dense {
		t.counts = make([]C, int64(1)<<(2*uint(k)))
	} else {
		slots := bytes / (8 + int64(unsafe.Sizeof(C(0))))
		t.counts = make([]C, slots)
		t.keys = make([]uint64, slots)
		t.limit = int(float64(slots) * smallKMaxLoad)
	}
	return t, nil
}

// KmerLen returns k.
func (t *SmallKTable[C]) KmerLen() int { return t.kmerLen }

// Dense reports whether the table is a direct-indexed array.
func (t *SmallKTable[C]) Dense() bool { return t.dense }

// Total returns the number of k-mer occurrences added.
func (t *SmallKTable[C]) Total() uint64 { return t.total }

// Err returns ErrTableFull once a hashed table has overflowed.
func (t *SmallKTable[C]) Err() error { return t.err }

// Add counts n occurrences of the packed k-mer. It returns false when a
// hashed table has no room left for a new k-mer.
func (t *SmallKTable[C]) Add(packed uint64, n uint64) bool {
	if t.released {
		panic("kmsplit: small-k table used after release")
	}
	if n == 0 {
		return true
	}
	packed &= t.mask
	t.total += n
	if t.dense {
		t.counts[packed] = saturatingAdd(t.counts[packed], n)
		return true
	}
	i, found := t.probe(packed)
	if !found {
		if t.used >= t.limit {
			t.err = fmt.Errorf("%w: %d distinct k-mers", ErrTableFull, t.used)
			return false
		}
		t.keys[i] = packed
		t.used++
	}
	t.counts[i] = saturatingAdd(t.counts[i], n)
	return true
}

// Count returns the counter of the packed k-mer.
func (t *SmallKTable[C]) Count(packed uint64) C {
	packed &= t.mask
	if t.dense {
		return t.counts[packed]
	}
	i, found := t.probe(packed)
	if !found {
		return 0
	}
	return t.counts[i]
}

// probe returns the slot holding key, or the first free slot on its sequence.
func (t *SmallKTable[C]) probe(key uint64) (int, bool) {
	n := uint64(len(t.keys))
	h := Hash64(key, t.mask)
	i := h & (n - 1)
	step := (Hash64(h^key, ^uint64(0)) & (n - 1)) | 1
	for {
		if t.counts[i] == 0 {
			return int(i), false
		}
		if t.keys[i] == key {
			return int(i), true
		}
		i = (i + step) & (n - 1)
	}
}

// Each calls fn for every counted k-mer in increasing packed order until fn
// returns false.
func (t *SmallKTable[C]) Each(fn func(packed uint64, count C) bool) {
	if t.dense {
		for kmer, c := range t.counts {
			if c != 0 && !fn(uint64(kmer), c) {
				return
			}
		}
		return
	}
	slots := make([]int, 0, t.used)
	for i, c := range t.counts {
		if c != 0 {
			slots = append(slots, i)
		}
	}
	sort.Slice(slots, func(a, b int) bool { return t.keys[slots[a]] < t.keys[slots[b]] })
	for _, i := range slots {
		if !fn(t.keys[i], t.counts[i]) {
			return
		}
	}
}

// Distinct returns the number of distinct k-mers counted.
func (t *SmallKTable[C]) Distinct() uint64 {
	if !t.dense {
		return uint64(t.used)
	}
	var n uint64
	for _, c := range t.counts {
		if c != 0 {
			n++
		}
	}
	return n
}

// Merge adds every counter of other into t, saturating at the counter width.
func (t *SmallKTable[C]) Merge(other *SmallKTable[C]) error {
	if other.kmerLen != t.kmerLen {
		return fmt.Errorf("cannot merge small-k tables of k=%d and k=%d", other.kmerLen, t.kmerLen)
	}
	before := t.total
	var err error
	other.Each(func(packed uint64, count C) bool {
		if !t.Add(packed, uint64(count)) {
			err = t.err
			return false
		}
		return true
	})
	t.total = before + other.total
	return err
}

// Release returns the table's pool reservation and drops its memory.
// A table must be released exactly once.
func (t *SmallKTable[C]) Release() {
	if t.released {
		panic("kmsplit: small-k table released twice")
	}
	t.released = true
	t.counts, t.keys = nil, nil
	if t.pool != nil {
		t.pool.Release(t.res)
		t.res = nil
	}
}

func saturatingAdd[C Counter](cur C, n uint64) C {
	limit := ^C(0)
	if n >= uint64(limit-cur) {
		return limit
	}
	return cur + C(n)
}
