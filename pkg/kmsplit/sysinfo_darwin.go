//go:build darwin

package kmsplit

import (
	"encoding/binary"
	"runtime"
	"syscall"
)

// detectSystemMemory reads hw.memsize; available memory is estimated as 75%.
func detectSystemMemory() (total int64, available int64) {
	raw, err := syscall.Sysctl("hw.memsize")
	if err != nil {
		return 0, 0
	}
	// Sysctl trims the trailing zero byte of the little-endian value
	var buf [8]byte
	copy(buf[:], raw)
	total = int64(binary.LittleEndian.Uint64(buf[:]))
	return total, total * 3 / 4
}

// detectOptimalWorkers prefers Apple Silicon performance cores.
func detectOptimalWorkers() int {
	for _, name := range []string{"hw.perflevel0.physicalcpu", "hw.physicalcpu"} {
		if n := sysctlInt(name); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func sysctlInt(name string) int {
	raw, err := syscall.Sysctl(name)
	if err != nil || len(raw) == 0 {
		return 0
	}
	var buf [4]byte
	copy(buf[:], raw)
	return int(binary.LittleEndian.Uint32(buf[:]))
}
