//go:build !darwin && !linux

package kmsplit

import "runtime"

// detectSystemMemory is unknown here; callers fall back to defaults
func detectSystemMemory() (total int64, available int64) {
	return 0, 0
}

func detectOptimalWorkers() int {
	return runtime.NumCPU()
}
