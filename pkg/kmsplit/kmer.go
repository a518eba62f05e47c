package kmsplit

import "strings"

// Base codes used for 2-bit packing
const (
	BaseA byte = 0
	BaseC byte = 1
	BaseG byte = 2
	BaseT byte = 3

	// invalidBase marks ambiguous or non-nucleotide symbols
	invalidBase byte = 0xFF
)

// MaxKmerLen is the longest supported k-mer
const MaxKmerLen = 256

var (
	baseCodes   [256]byte
	codeLetters = [4]byte{'A', 'C', 'G', 'T'}
)

func init() {
	for i := range baseCodes {
		baseCodes[i] = invalidBase
	}
	baseCodes['A'], baseCodes['a'] = BaseA, BaseA
	baseCodes['C'], baseCodes['c'] = BaseC, BaseC
	baseCodes['G'], baseCodes['g'] = BaseG, BaseG
	baseCodes['T'], baseCodes['t'] = BaseT, BaseT
}

// Kmer is handed to a Sink for every extracted k-mer.
// Codes aliases the splitter's scratch buffer and is only valid during Accept.
type Kmer struct {
	Codes     []byte // 2-bit base codes, len == k
	Packed    uint64 // 2-bit packed value, valid when k <= 32
	Signature uint32
}

// KmerBytes returns the encoded size of one k-mer in a bin buffer.
func KmerBytes(k int) int {
	return (k + 3) / 4
}

// PackKmer writes codes into dst as 2 bits per base, first base in the
// most significant bits of dst[0]. The unused tail of the last byte is zero.
func PackKmer(dst []byte, codes []byte) []byte {
	n := KmerBytes(len(codes))
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	packInto(dst[len(dst)-n:], codes)
	return dst
}

// packInto overwrites out[:KmerBytes(len(codes))] with the packed codes.
func packInto(out []byte, codes []byte) {
	n := KmerBytes(len(codes))
	for i := 0; i < n; i++ {
		out[i] = 0
	}
	for i, c := range codes {
		out[i>>2] |= c << (6 - 2*uint(i&3))
	}
}

// UnpackKmer decodes a packed k-mer into its nucleotide string.
func UnpackKmer(packed []byte, k int) string {
	var sb strings.Builder
	sb.Grow(k)
	for i := 0; i < k; i++ {
		c := (packed[i>>2] >> (6 - 2*uint(i&3))) & 3
		sb.WriteByte(codeLetters[c])
	}
	return sb.String()
}

// DecodeKmer decodes a 2-bit packed k-mer held in an integer (k <= 32).
func DecodeKmer(packed uint64, k int) string {
	buf := make([]byte, k)
	for i := k - 1; i >= 0; i-- {
		buf[i] = codeLetters[packed&3]
		packed >>= 2
	}
	return string(buf)
}

// EncodeKmer packs a nucleotide string (k <= 32) into an integer.
// ok is false when s contains a non-ACGT symbol or is too long.
func EncodeKmer(s string) (packed uint64, ok bool) {
	if len(s) > 32 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		c := baseCodes[s[i]]
		if c == invalidBase {
			return 0, false
		}
		packed = packed<<2 | uint64(c)
	}
	return packed, true
}

// reverseComplementCodes writes the reverse complement of codes into dst.
func reverseComplementCodes(dst, codes []byte) []byte {
	dst = dst[:0]
	for i := len(codes) - 1; i >= 0; i-- {
		dst = append(dst, 3-codes[i])
	}
	return dst
}

// kmerHash folds an arbitrary-length k-mer into a 64-bit hash.
func kmerHash(codes []byte) uint64 {
	var h, word uint64
	n := 0
	for _, c := range codes {
		word = word<<2 | uint64(c)
		n++
		if n == 32 {
			h = Hash64(h^word, ^uint64(0))
			word, n = 0, 0
		}
	}
	return Hash64(h^word^uint64(len(codes))<<56, ^uint64(0))
}

// HomopolymerCompress collapses every run of identical bases (case-insensitive)
// to a single base, in place, and returns the shortened slice.
func HomopolymerCompress(seq []byte) []byte {
	if len(seq) < 2 {
		return seq
	}
	w := 1
	for i := 1; i < len(seq); i++ {
		if upper(seq[i]) != upper(seq[w-1]) {
			seq[w] = seq[i]
			w++
		}
	}
	return seq[:w]
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}
