package kmsplit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packCodes(codes []byte) uint64 {
	var v uint64
	for _, c := range codes {
		v = v<<2 | uint64(c)
	}
	return v
}

func rcValue(v uint64, m int) uint64 {
	var rc uint64
	for i := 0; i < m; i++ {
		rc = rc<<2 | (3 - v&3)
		v >>= 2
	}
	return rc
}

// bruteSignature recomputes the signature of the window ending at end by
// scanning every m-mer of the window.
func bruteSignature(codes []byte, end, m, window int, version MinimizerVersion) uint32 {
	mask := bitMask(uint(2 * m))
	homo := 0x5555555555555555 & mask
	best := dqEntry{}
	found := false
	for e := max(m-1, end-window+m); e <= end; e++ {
		v := packCodes(codes[e-m+1 : e+1])
		var cand dqEntry
		switch version {
		case MinimizerLegacy:
			canon := min(v, rcValue(v, m))
			if !legacyAllowed(canon, m) {
				continue
			}
			cand = dqEntry{score: canon, sig: uint32(canon)}
		default:
			if m >= 2 && v%homo == 0 {
				continue
			}
			cand = dqEntry{score: Hash64(v, mask), sig: uint32(v)}
		}
		if !found || cand.less(best) {
			best, found = cand, true
		}
	}
	if !found {
		return SentinelSignature(m)
	}
	return best.sig
}

func randomCodes(rng *rand.Rand, n int) []byte {
	codes := make([]byte, n)
	for i := range codes {
		codes[i] = byte(rng.Intn(4))
	}
	return codes
}

func TestMinimizerMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tests := []struct {
		name    string
		version MinimizerVersion
		k, m, w int
	}{
		{"windowed k=k", MinimizerWindowed, 21, 7, 0},
		{"windowed short window", MinimizerWindowed, 25, 9, 15},
		{"windowed window=m", MinimizerWindowed, 12, 5, 5},
		{"windowed m=1", MinimizerWindowed, 8, 1, 0},
		{"legacy", MinimizerLegacy, 21, 7, 0},
		{"legacy m=3", MinimizerLegacy, 11, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := windowFor(tt.version, tt.k, tt.w)
			tr := newMinimizerTracker(tt.version, tt.m, window)
			for round := 0; round < 50; round++ {
				codes := randomCodes(rng, tt.k+rng.Intn(200))
				if round%5 == 0 {
					// low complexity stretch
					for i := 10; i < 40 && i < len(codes); i++ {
						codes[i] = BaseA
					}
				}
				tr.reset()
				for i, c := range codes {
					tr.push(c)
					if i < tt.k-1 {
						continue
					}
					want := bruteSignature(codes, i, tt.m, window, tt.version)
					require.Equal(t, want, tr.signature(), "round %d position %d", round, i)
				}
			}
		})
	}
}

func TestMinimizerHomopolymerGivesSentinel(t *testing.T) {
	tr := newMinimizerTracker(MinimizerWindowed, 5, 11)
	for i := 0; i < 11; i++ {
		tr.push(BaseA)
	}
	assert.Equal(t, SentinelSignature(5), tr.signature())

	tr = newMinimizerTracker(MinimizerLegacy, 5, 11)
	for i := 0; i < 11; i++ {
		tr.push(BaseA)
	}
	assert.Equal(t, SentinelSignature(5), tr.signature())
}

func TestLegacyAllowed(t *testing.T) {
	enc := func(s string) uint64 {
		v, ok := EncodeKmer(s)
		require.True(t, ok)
		return v
	}
	assert.False(t, legacyAllowed(enc("AAACG"), 5))
	assert.False(t, legacyAllowed(enc("ACACG"), 5))
	assert.False(t, legacyAllowed(enc("CGAAT"), 5))
	assert.False(t, legacyAllowed(enc("CGTAA"), 5))
	assert.True(t, legacyAllowed(enc("AACGT"), 5))
	assert.True(t, legacyAllowed(enc("CGTAC"), 5))
}

func TestParseMinimizerVersion(t *testing.T) {
	v, err := ParseMinimizerVersion("legacy")
	require.NoError(t, err)
	assert.Equal(t, MinimizerLegacy, v)

	v, err = ParseMinimizerVersion("0")
	require.NoError(t, err)
	assert.Equal(t, MinimizerWindowed, v)

	_, err = ParseMinimizerVersion("v3")
	assert.Error(t, err)

	text, err := MinimizerLegacy.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(text))
}
