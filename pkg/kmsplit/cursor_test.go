package kmsplit

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectRecords returns the joined sequence of every record in data
func collectRecords(t *testing.T, data string, rt ReadType) ([]string, int, error) {
	t.Helper()
	var c recordCursor
	c.reset([]byte(data), rt)
	var seqs []string
	for {
		lines, err := c.next()
		if errors.Is(err, io.EOF) {
			return seqs, c.records, nil
		}
		if err != nil {
			return seqs, c.records, err
		}
		var seq []byte
		for _, l := range lines {
			seq = append(seq, l...)
		}
		seqs = append(seqs, string(seq))
	}
}

func bamNibble(b byte) byte {
	for i := 0; i < len(bamSeqLetters); i++ {
		if bamSeqLetters[i] == b {
			return byte(i)
		}
	}
	return 15
}

// bamRecord encodes one unmapped BAM alignment record with its block size
func bamRecord(name, seq string, flag uint16) []byte {
	lName := len(name) + 1
	lSeq := len(seq)
	blockSize := 32 + lName + (lSeq+1)/2 + lSeq
	rec := make([]byte, 4+blockSize)
	binary.LittleEndian.PutUint32(rec[0:], uint32(blockSize))
	binary.LittleEndian.PutUint32(rec[4:], 0xFFFFFFFF) // refID
	binary.LittleEndian.PutUint32(rec[8:], 0xFFFFFFFF) // pos
	rec[12] = byte(lName)
	binary.LittleEndian.PutUint16(rec[18:], flag)
	binary.LittleEndian.PutUint32(rec[20:], uint32(lSeq))
	off := 36
	copy(rec[off:], name)
	off += lName
	for i := 0; i < lSeq; i++ {
		nib := bamNibble(seq[i])
		if i&1 == 0 {
			rec[off+i/2] = nib << 4
		} else {
			rec[off+i/2] |= nib
		}
	}
	off += (lSeq + 1) / 2
	for i := 0; i < lSeq; i++ {
		rec[off+i] = 30
	}
	return rec
}

func TestCursorFASTA(t *testing.T) {
	seqs, records, err := collectRecords(t, ">r1 desc\nACGT\nACGT\n\n>r2\r\nGGGG\r\n>empty\n", FASTA)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTACGT", "GGGG", ""}, seqs)
	assert.Equal(t, 3, records)

	_, _, err = collectRecords(t, "ACGT\n>r2\nGG\n", FASTA)
	assert.Error(t, err)
}

func TestCursorMultiFASTAContinuation(t *testing.T) {
	seqs, records, err := collectRecords(t, "ACGT\nTT\n>r2\nGG\n", MultiFASTA)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTTT", "GG"}, seqs)
	assert.Equal(t, 1, records)
}

func TestCursorFASTQ(t *testing.T) {
	seqs, records, err := collectRecords(t, "@r1\nACGTN\n+\nIIIII\n@r2\nGG\n+r2\n##\n", FASTQ)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTN", "GG"}, seqs)
	assert.Equal(t, 2, records)

	tests := map[string]string{
		"truncated":      "@r1\nACGT\n+\n",
		"short quality":  "@r1\nACGT\n+\nII\n",
		"missing plus":   "@r1\nACGT\nIIII\nIIII\n",
		"missing header": "ACGT\n+\nIIII\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := collectRecords(t, data, FASTQ)
			assert.Error(t, err)
		})
	}
}

func TestCursorLongRead(t *testing.T) {
	data := "@r1\nACG\nTA\n+\n@@I\nII\n>r2\nCC\nGG\n@r3\nT\n+\nI\n"
	seqs, records, err := collectRecords(t, data, LongRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTA", "CCGG", "T"}, seqs)
	assert.Equal(t, 3, records)

	_, _, err = collectRecords(t, "@r1\nACGT\n+\nII\n", LongRead)
	assert.Error(t, err)
}

func TestCursorBAM(t *testing.T) {
	var data []byte
	data = append(data, bamRecord("fwd", "ACGTN", 0)...)
	data = append(data, bamRecord("sec", "GGGG", bamFlagSecondary)...)
	data = append(data, bamRecord("rev", "AACGT", bamFlagReverse)...)
	data = append(data, bamRecord("sup", "TTTT", bamFlagSupplementary)...)
	data = append(data, bamRecord("odd", "CAT", 0)...)

	seqs, records, err := collectRecords(t, string(data), BAM)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACGTN", "ACGTT", "CAT"}, seqs)
	assert.Equal(t, 3, records)

	_, _, err = collectRecords(t, string(data[:len(data)-3]), BAM)
	assert.Error(t, err)
}

func TestParseReadType(t *testing.T) {
	for _, rt := range []ReadType{FASTA, FASTQ, MultiFASTA, LongRead, BAM} {
		parsed, err := ParseReadType(rt.String())
		require.NoError(t, err)
		assert.Equal(t, rt, parsed)
	}
	_, err := ParseReadType("sam")
	assert.Error(t, err)
}
