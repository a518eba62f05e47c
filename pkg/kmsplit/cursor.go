package kmsplit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadType is the format of the records in a raw chunk
type ReadType int

const (
	FASTA      ReadType = iota // '>' header, sequence lines
	FASTQ                      // four-line records
	MultiFASTA                 // like FASTA, may start with a headerless continuation
	LongRead                   // '>' or '@' records with multi-line sequence and quality
	BAM                        // uncompressed BAM alignment records
)

func (t ReadType) String() string {
	switch t {
	case FASTA:
		return "fasta"
	case FASTQ:
		return "fastq"
	case MultiFASTA:
		return "multifasta"
	case LongRead:
		return "longread"
	case BAM:
		return "bam"
	default:
		return fmt.Sprintf("ReadType(%d)", int(t))
	}
}

// ParseReadType parses a read type name.
func ParseReadType(s string) (ReadType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fasta", "fa":
		return FASTA, nil
	case "fastq", "fq":
		return FASTQ, nil
	case "multifasta", "mfasta", "mfa":
		return MultiFASTA, nil
	case "longread", "long":
		return LongRead, nil
	case "bam":
		return BAM, nil
	}
	return 0, fmt.Errorf("unknown read type: %s", s)
}

var errMalformed = errors.New("malformed record")

// BAM flags
const (
	bamFlagReverse       = 0x10
	bamFlagSecondary     = 0x100
	bamFlagSupplementary = 0x800
)

const bamSeqLetters = "=ACMGRSVTWYHKDBN"

// recordCursor walks a chunk record by record and returns the sequence
// lines of each. Returned slices alias the chunk (or the cursor's decode
// buffer) and stay valid until the next call.
type recordCursor struct {
	data    []byte
	pos     int
	rt      ReadType
	lines   [][]byte
	decoded []byte
	records int // records with a header (or BAM alignments) seen so far
}

func (c *recordCursor) reset(data []byte, rt ReadType) {
	c.data = data
	c.pos = 0
	c.rt = rt
	c.records = 0
}

// readLine returns the next line without its line terminator.
func (c *recordCursor) readLine() ([]byte, bool) {
	if c.pos >= len(c.data) {
		return nil, false
	}
	rest := c.data[c.pos:]
	end := len(rest)
	next := len(rest)
	for i, b := range rest {
		if b == '\n' {
			end, next = i, i+1
			break
		}
	}
	c.pos += next
	line := rest[:end]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, true
}

// peek returns the first byte of the next line, 0 at end of data.
func (c *recordCursor) peek() byte {
	if c.pos >= len(c.data) {
		return 0
	}
	return c.data[c.pos]
}

func (c *recordCursor) skipBlankLines() {
	for c.pos < len(c.data) && (c.data[c.pos] == '\n' || c.data[c.pos] == '\r') {
		c.pos++
	}
}

// next returns the sequence lines of the next record, io.EOF when the chunk
// is exhausted, or errMalformed for broken or truncated input.
func (c *recordCursor) next() ([][]byte, error) {
	if c.rt == BAM {
		return c.nextBAM()
	}
	c.skipBlankLines()
	if c.pos >= len(c.data) {
		return nil, io.EOF
	}
	c.lines = c.lines[:0]

	switch c.rt {
	case FASTQ:
		return c.nextFASTQ()
	case FASTA:
		if c.peek() != '>' {
			return nil, errMalformed
		}
		return c.nextFASTA()
	case MultiFASTA:
		return c.nextFASTA()
	case LongRead:
		if c.peek() == '@' {
			return c.nextLongFASTQ()
		}
		return c.nextFASTA()
	}
	return nil, fmt.Errorf("%w: unsupported read type %s", errMalformed, c.rt)
}

func (c *recordCursor) nextFASTQ() ([][]byte, error) {
	header, _ := c.readLine()
	if len(header) == 0 || header[0] != '@' {
		return nil, errMalformed
	}
	seq, ok := c.readLine()
	if !ok {
		return nil, errMalformed
	}
	plus, ok := c.readLine()
	if !ok || len(plus) == 0 || plus[0] != '+' {
		return nil, errMalformed
	}
	qual, ok := c.readLine()
	if !ok || len(qual) != len(seq) {
		return nil, errMalformed
	}
	c.records++
	c.lines = append(c.lines, seq)
	return c.lines, nil
}

// nextFASTA reads a '>' record, or a headerless continuation at chunk start.
func (c *recordCursor) nextFASTA() ([][]byte, error) {
	if c.peek() == '>' {
		c.readLine()
		c.records++
	}
	for {
		b := c.peek()
		if b == 0 || b == '>' || (c.rt == LongRead && b == '@') {
			break
		}
		line, _ := c.readLine()
		if len(line) > 0 {
			c.lines = append(c.lines, line)
		}
	}
	return c.lines, nil
}

// nextLongFASTQ reads an '@' record whose sequence and quality may span lines.
func (c *recordCursor) nextLongFASTQ() ([][]byte, error) {
	c.readLine()
	seqLen := 0
	for {
		b := c.peek()
		if b == 0 {
			return nil, errMalformed
		}
		if b == '+' {
			c.readLine()
			break
		}
		line, _ := c.readLine()
		seqLen += len(line)
		if len(line) > 0 {
			c.lines = append(c.lines, line)
		}
	}
	qualLen := 0
	for qualLen < seqLen {
		line, ok := c.readLine()
		if !ok {
			return nil, errMalformed
		}
		qualLen += len(line)
	}
	if qualLen != seqLen {
		return nil, errMalformed
	}
	c.records++
	return c.lines, nil
}

func (c *recordCursor) nextBAM() ([][]byte, error) {
	for {
		rest := len(c.data) - c.pos
		if rest == 0 {
			return nil, io.EOF
		}
		if rest < 4 {
			return nil, errMalformed
		}
		blockSize := int(int32(binary.LittleEndian.Uint32(c.data[c.pos:])))
		if blockSize < 32 || blockSize > rest-4 {
			return nil, errMalformed
		}
		rec := c.data[c.pos+4 : c.pos+4+blockSize]
		c.pos += 4 + blockSize

		lReadName := int(rec[8])
		nCigar := int(binary.LittleEndian.Uint16(rec[12:14]))
		flag := binary.LittleEndian.Uint16(rec[14:16])
		lSeq := int(int32(binary.LittleEndian.Uint32(rec[16:20])))
		off := 32 + lReadName + 4*nCigar
		if lSeq < 0 || off+(lSeq+1)/2+lSeq > blockSize {
			return nil, errMalformed
		}
		if flag&(bamFlagSecondary|bamFlagSupplementary) != 0 {
			continue
		}

		c.decoded = c.decoded[:0]
		packed := rec[off : off+(lSeq+1)/2]
		for i := 0; i < lSeq; i++ {
			nib := packed[i>>1] >> 4
			if i&1 == 1 {
				nib = packed[i>>1] & 0xF
			}
			c.decoded = append(c.decoded, bamSeqLetters[nib])
		}
		if flag&bamFlagReverse != 0 {
			reverseComplementASCII(c.decoded)
		}
		c.records++
		c.lines = append(c.lines[:0], c.decoded)
		return c.lines, nil
	}
}

// reverseComplementASCII reverse complements seq in place; non-ACGT become N.
func reverseComplementASCII(seq []byte) {
	for i, j := 0, len(seq)-1; i <= j; i, j = i+1, j-1 {
		seq[i], seq[j] = complementASCII(seq[j]), complementASCII(seq[i])
	}
}

func complementASCII(b byte) byte {
	switch b {
	case 'A', 'a':
		return 'T'
	case 'C', 'c':
		return 'G'
	case 'G', 'g':
		return 'C'
	case 'T', 't':
		return 'A'
	}
	return 'N'
}
