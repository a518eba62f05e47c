package kmsplit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash64BijectionSmallMasks(t *testing.T) {
	for _, bits := range []uint{2, 4, 8, 12, 16, 20} {
		mask := bitMask(bits)
		seen := make([]bool, mask+1)
		for key := uint64(0); key <= mask; key++ {
			h := Hash64(key, mask)
			require.LessOrEqual(t, h, mask, "bits=%d key=%d", bits, key)
			require.False(t, seen[h], "bits=%d: collision at key %d", bits, key)
			seen[h] = true
		}
	}
}

func TestHash64SampledLargeMasks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, bits := range []uint{24, 32, 50, 64} {
		mask := bitMask(bits)
		inputs := make(map[uint64]struct{})
		outputs := make(map[uint64]uint64)
		for len(inputs) < 200000 {
			key := rng.Uint64() & mask
			if _, dup := inputs[key]; dup {
				continue
			}
			inputs[key] = struct{}{}
			h := Hash64(key, mask)
			require.LessOrEqual(t, h, mask)
			prev, collided := outputs[h]
			require.False(t, collided, "bits=%d: %d and %d collide", bits, prev, key)
			outputs[h] = key
		}
	}
}

func TestHash64Deterministic(t *testing.T) {
	mask := bitMask(18)
	require.Equal(t, Hash64(12345, mask), Hash64(12345, mask))
	require.NotEqual(t, Hash64(1, mask), Hash64(2, mask))
}
