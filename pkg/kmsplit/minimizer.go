package kmsplit

import (
	"fmt"
	"strings"
)

// MinimizerVersion selects the signature selection strategy
type MinimizerVersion int

const (
	// MinimizerWindowed picks the m-mer with the smallest scrambled value
	// among the window_len bases ending at each position.
	MinimizerWindowed MinimizerVersion = iota

	// MinimizerLegacy picks the lexicographically smallest canonical m-mer
	// of the whole k-mer, skipping disallowed m-mers.
	MinimizerLegacy
)

func (v MinimizerVersion) String() string {
	switch v {
	case MinimizerWindowed:
		return "windowed"
	case MinimizerLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("MinimizerVersion(%d)", int(v))
	}
}

// ParseMinimizerVersion parses "windowed"/"legacy" or their numeric forms "0"/"1".
func ParseMinimizerVersion(s string) (MinimizerVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windowed", "0", "":
		return MinimizerWindowed, nil
	case "legacy", "1":
		return MinimizerLegacy, nil
	}
	return 0, fmt.Errorf("unknown minimizer version: %s", s)
}

func (v MinimizerVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *MinimizerVersion) UnmarshalText(text []byte) error {
	parsed, err := ParseMinimizerVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// SentinelSignature is the reserved "no valid signature" value for length m.
func SentinelSignature(m int) uint32 {
	return uint32(1) << (2 * uint(m))
}

type dqEntry struct {
	end   int // position of the m-mer's last base
	score uint64
	sig   uint32
}

func (a dqEntry) less(b dqEntry) bool {
	return a.score < b.score || (a.score == b.score && a.sig < b.sig)
}

// minimizerTracker maintains the minimum-ranked m-mer over a sliding window
// with a monotonic deque, so each base costs amortized O(1).
type minimizerTracker struct {
	version  MinimizerVersion
	m        int
	window   int
	mask     uint64
	homo     uint64 // 0101... pattern over m bases
	rcShift  uint
	sentinel uint32

	cur, rc uint64
	filled  int
	pos     int

	dq         []dqEntry
	head, size int
}

func newMinimizerTracker(version MinimizerVersion, m, window int) *minimizerTracker {
	t := &minimizerTracker{
		version:  version,
		m:        m,
		window:   window,
		mask:     bitMask(uint(2 * m)),
		rcShift:  uint(2 * (m - 1)),
		sentinel: SentinelSignature(m),
	}
	t.homo = 0x5555555555555555 & t.mask
	t.dq = make([]dqEntry, window-m+1)
	t.reset()
	return t
}

func (t *minimizerTracker) reset() {
	t.cur, t.rc = 0, 0
	t.filled = 0
	t.pos = -1
	t.head, t.size = 0, 0
}

// rank returns the ordering score and signature of the m-mer ending at the
// current position; ok is false when the m-mer may not serve as a signature.
func (t *minimizerTracker) rank() (score uint64, sig uint32, ok bool) {
	switch t.version {
	case MinimizerLegacy:
		canon := t.cur
		if t.rc < canon {
			canon = t.rc
		}
		if !legacyAllowed(canon, t.m) {
			return 0, 0, false
		}
		return canon, uint32(canon), true
	default:
		if t.m >= 2 && t.cur%t.homo == 0 {
			// homopolymer m-mer
			return 0, 0, false
		}
		return Hash64(t.cur, t.mask), uint32(t.cur), true
	}
}

// push appends one base code (0..3) to the tracked sequence.
func (t *minimizerTracker) push(code byte) {
	t.pos++
	t.cur = ((t.cur << 2) | uint64(code)) & t.mask
	t.rc = (t.rc >> 2) | (uint64(3-code) << t.rcShift)
	if t.filled < t.m {
		t.filled++
	}

	// drop m-mers that left the window
	oldest := t.pos - t.window + t.m
	for t.size > 0 && t.dq[t.head].end < oldest {
		t.head = (t.head + 1) % len(t.dq)
		t.size--
	}

	if t.filled < t.m {
		return
	}
	score, sig, ok := t.rank()
	if !ok {
		return
	}
	e := dqEntry{end: t.pos, score: score, sig: sig}
	for t.size > 0 {
		back := (t.head + t.size - 1) % len(t.dq)
		if t.dq[back].less(e) {
			break
		}
		t.size--
	}
	t.dq[(t.head+t.size)%len(t.dq)] = e
	t.size++
}

// signature returns the minimizer of the window ending at the current
// position, or the sentinel when the window holds no allowed m-mer.
func (t *minimizerTracker) signature() uint32 {
	if t.size == 0 {
		return t.sentinel
	}
	return t.dq[t.head].sig
}

// legacyAllowed rejects m-mers with prefix AAA or ACA, and m-mers containing
// AA anywhere after the first base.
func legacyAllowed(mmer uint64, m int) bool {
	if m < 3 {
		return true
	}
	prefix := mmer >> (2 * uint(m-3))
	if prefix == 0 || prefix == 0x04 { // AAA, ACA
		return false
	}
	for j := 0; j <= m-3; j++ {
		// pair of bases at positions m-2-j, m-1-j
		if (mmer>>(2*uint(j)))&0xF == 0 {
			return false
		}
	}
	return true
}

// windowFor returns the effective window length for a strategy.
func windowFor(version MinimizerVersion, kmerLen, windowLen int) int {
	if version == MinimizerLegacy || windowLen == 0 {
		return kmerLen
	}
	return windowLen
}
