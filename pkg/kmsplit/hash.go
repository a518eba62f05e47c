package kmsplit

// Hash64 scrambles key within the bit domain selected by mask.
// Every round is invertible modulo 2^bits(mask), so for a mask of the form
// 2^n-1 the function is a bijection on [0, mask].
func Hash64(key, mask uint64) uint64 {
	key = (^key + (key << 21)) & mask // key*(2^21-1) - 1
	key = key ^ key>>24
	key = ((key + (key << 3)) + (key << 8)) & mask // key * 265
	key = key ^ key>>14
	key = ((key + (key << 2)) + (key << 4)) & mask // key * 21
	key = key ^ key>>28
	key = (key + (key << 31)) & mask
	return key
}

// bitMask returns a mask covering the low bits bits.
func bitMask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}
