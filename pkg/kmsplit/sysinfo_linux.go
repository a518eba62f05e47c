//go:build linux

package kmsplit

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// detectSystemMemory reads total and available memory from /proc/meminfo
func detectSystemMemory() (total int64, available int64) {
	fields, err := readProcKV("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	kb := func(key string) int64 {
		v, _ := strconv.ParseInt(strings.Fields(fields[key] + " 0")[0], 10, 64)
		return v * 1024
	}

	total = kb("MemTotal")
	available = kb("MemAvailable")
	if total > 0 && available == 0 {
		// kernels before 3.14 have no MemAvailable
		available = kb("MemFree") + kb("Buffers") + kb("Cached")
	}
	return total, available
}

// detectOptimalWorkers counts the high-frequency physical cores on hybrid
// CPUs and falls back to all logical CPUs.
func detectOptimalWorkers() int {
	if n := detectPerfCores(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func detectPerfCores() int {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0
	}
	defer file.Close()

	// max frequency per physical core
	coreFreq := make(map[string]float64)
	var physID, coreID string
	var freq float64
	flush := func() {
		if coreID == "" || freq == 0 {
			return
		}
		key := physID + "/" + coreID
		if freq > coreFreq[key] {
			coreFreq[key] = freq
		}
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			flush()
			physID, coreID, freq = "", "", 0
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "physical id":
			physID = value
		case "core id":
			coreID = value
		case "cpu MHz":
			freq, _ = strconv.ParseFloat(value, 64)
		}
	}
	flush()

	if len(coreFreq) <= 2 {
		return 0
	}
	var sum float64
	for _, f := range coreFreq {
		sum += f
	}
	avg := sum / float64(len(coreFreq))
	perf := 0
	for _, f := range coreFreq {
		if f >= avg*0.9 {
			perf++
		}
	}
	if perf == len(coreFreq) {
		// homogeneous
		return 0
	}
	return perf
}

func readProcKV(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok {
			kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return kv, scanner.Err()
}
