package binstore

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	c, err := NewCompressor(CodecZstd, 1)
	require.NoError(t, err)
	defer c.Close()

	first := bytes.Repeat([]byte{0xAA, 0xBB, 0xCC}, 200)
	second := []byte{1, 2, 3, 4, 5, 6}

	data, err := AppendFrame(nil, c, 3, first)
	require.NoError(t, err)
	data, err = AppendFrame(data, c, 3, second)
	require.NoError(t, err)

	h, payload, rest, err := ParseFrame(data)
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, h.Codec)
	assert.Equal(t, uint32(3), h.RecordLen)
	assert.Equal(t, uint32(200), h.Records)
	assert.Equal(t, uint32(600), h.RawLen)
	raw, err := c.Decompress(h.Codec, payload, int(h.RawLen))
	require.NoError(t, err)
	assert.Equal(t, first, raw)

	h, payload, rest, err = ParseFrame(rest)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.Records)
	raw, err = c.Decompress(h.Codec, payload, int(h.RawLen))
	require.NoError(t, err)
	assert.Equal(t, second, raw)
	assert.Empty(t, rest)
}

func TestReadFrameStream(t *testing.T) {
	c, err := NewCompressor(CodecLZ4, 0)
	require.NoError(t, err)
	defer c.Close()

	parts := [][]byte{bytes.Repeat([]byte{7, 8}, 300), {1, 2}, bytes.Repeat([]byte{9, 9}, 40)}
	var data []byte
	for _, p := range parts {
		data, err = AppendFrame(data, c, 2, p)
		require.NoError(t, err)
	}

	r := bytes.NewReader(data)
	var buf []byte
	for _, want := range parts {
		var h FrameHeader
		h, buf, err = ReadFrame(r, buf)
		require.NoError(t, err)
		raw, err := c.Decompress(h.Codec, buf, int(h.RawLen))
		require.NoError(t, err)
		assert.Equal(t, want, raw)
	}
	_, _, err = ReadFrame(r, buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestAppendFrameRejectsPartialRecords(t *testing.T) {
	c, err := NewCompressor(CodecNone, 0)
	require.NoError(t, err)
	defer c.Close()

	_, err = AppendFrame(nil, c, 4, make([]byte, 10))
	assert.Error(t, err)
	_, err = AppendFrame(nil, c, 0, make([]byte, 10))
	assert.Error(t, err)
}

func TestParseFrameMalformed(t *testing.T) {
	c, err := NewCompressor(CodecNone, 0)
	require.NoError(t, err)
	defer c.Close()
	good, err := AppendFrame(nil, c, 2, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	mutate := func(fn func([]byte) []byte) []byte {
		return fn(append([]byte(nil), good...))
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"short header", good[:10]},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"bad version", mutate(func(b []byte) []byte { b[4] = 7; return b })},
		{"zero record length", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:], 0)
			return b
		})},
		{"record count mismatch", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[12:], 3)
			return b
		})},
		{"truncated payload", good[:len(good)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := ParseFrame(tt.data)
			assert.ErrorIs(t, err, ErrMalformedFrame)
			_, _, err = ReadFrame(bytes.NewReader(tt.data), nil)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}
