package binstore

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression of a frame payload
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// ParseCodec parses "none", "zstd" or "lz4".
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return 0, fmt.Errorf("unknown codec: %s", s)
}

// Compressor encodes and decodes frame payloads. It is safe for concurrent use.
type Compressor struct {
	codec   Codec
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// zstdLevel maps 1..3 to the zstd speed presets
func zstdLevel(level int) zstd.EncoderLevel {
	switch level {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedDefault
	}
}

// NewCompressor creates a compressor writing codec at level (1 fastest,
// 3 best; zstd only). It decodes every codec.
func NewCompressor(codec Codec, level int) (*Compressor, error) {
	if codec > CodecLZ4 {
		return nil, fmt.Errorf("unknown codec: %s", codec)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Compressor{codec: codec, encoder: encoder, decoder: decoder}, nil
}

// Codec returns the codec new payloads are written with.
func (c *Compressor) Codec() Codec { return c.codec }

// Compress appends the encoded src to dst. Payloads that do not shrink are
// stored raw, and the returned codec says which encoding was used.
func (c *Compressor) Compress(dst, src []byte) ([]byte, Codec) {
	switch c.codec {
	case CodecZstd:
		start := len(dst)
		out := c.encoder.EncodeAll(src, dst)
		if len(out)-start < len(src) {
			return out, CodecZstd
		}
		return append(out[:start], src...), CodecNone
	case CodecLZ4:
		start := len(dst)
		need := start + lz4.CompressBlockBound(len(src))
		if cap(dst) < need {
			grown := make([]byte, start, need)
			copy(grown, dst)
			dst = grown
		}
		n, err := lz4.CompressBlock(src, dst[start:need], nil)
		if err == nil && n > 0 && n < len(src) {
			return dst[:start+n], CodecLZ4
		}
		return append(dst[:start], src...), CodecNone
	}
	return append(dst, src...), CodecNone
}

// Decompress decodes a payload of codec into exactly rawLen bytes.
func (c *Compressor) Decompress(codec Codec, payload []byte, rawLen int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(payload) != rawLen {
			return nil, fmt.Errorf("%w: raw payload has %d bytes, want %d", ErrMalformedFrame, len(payload), rawLen)
		}
		return payload, nil
	case CodecZstd:
		out, err := c.decoder.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("%w: zstd payload decoded to %d bytes, want %d", ErrMalformedFrame, len(out), rawLen)
		}
		return out, nil
	case CodecLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: lz4 payload decoded to %d bytes, want %d", ErrMalformedFrame, n, rawLen)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown codec %d", ErrMalformedFrame, uint8(codec))
}

// Close closes the compressor
func (c *Compressor) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return nil
}
