package binstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame format constants
const (
	FrameMagic   uint32 = 0x314E424B // "KBN1" little endian
	FrameVersion uint8  = 1

	// magic(4) version(1) codec(1) reserved(2) recordLen(4) records(4) rawLen(4) payloadLen(4)
	FrameHeaderSize = 24
)

// ErrMalformedFrame is returned for truncated, corrupted or inconsistent frames.
var ErrMalformedFrame = errors.New("malformed bin frame")

// FrameHeader describes one frame: the packed records of one bin part.
type FrameHeader struct {
	Codec      Codec
	RecordLen  uint32
	Records    uint32
	RawLen     uint32
	PayloadLen uint32
}

// AppendFrame appends one frame holding raw, a run of records of recordLen
// bytes each, to dst.
func AppendFrame(dst []byte, c *Compressor, recordLen int, raw []byte) ([]byte, error) {
	if recordLen <= 0 || len(raw)%recordLen != 0 {
		return dst, fmt.Errorf("part of %d bytes is not a whole number of %d-byte records", len(raw), recordLen)
	}
	start := len(dst)
	dst = append(dst, make([]byte, FrameHeaderSize)...)
	dst, codec := c.Compress(dst, raw)

	h := dst[start : start+FrameHeaderSize]
	binary.LittleEndian.PutUint32(h[0:], FrameMagic)
	h[4] = FrameVersion
	h[5] = byte(codec)
	binary.LittleEndian.PutUint32(h[8:], uint32(recordLen))
	binary.LittleEndian.PutUint32(h[12:], uint32(len(raw)/recordLen))
	binary.LittleEndian.PutUint32(h[16:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(h[20:], uint32(len(dst)-start-FrameHeaderSize))
	return dst, nil
}

// ParseFrame splits the first frame off data.
func ParseFrame(data []byte) (FrameHeader, []byte, []byte, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, nil, nil, fmt.Errorf("%w: %d bytes left, header needs %d", ErrMalformedFrame, len(data), FrameHeaderSize)
	}
	h, err := parseFrameHeader(data[:FrameHeaderSize])
	if err != nil {
		return h, nil, nil, err
	}
	end := uint64(FrameHeaderSize) + uint64(h.PayloadLen)
	if end > uint64(len(data)) {
		return h, nil, nil, fmt.Errorf("%w: payload of %d bytes truncated to %d",
			ErrMalformedFrame, h.PayloadLen, len(data)-FrameHeaderSize)
	}
	return h, data[FrameHeaderSize:end], data[end:], nil
}

// ReadFrame reads the next frame from r, reusing buf for the payload. It
// returns io.EOF only when r ends exactly on a frame boundary.
func ReadFrame(r io.Reader, buf []byte) (FrameHeader, []byte, error) {
	var hdr [FrameHeaderSize]byte
	if n, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return FrameHeader{}, buf, io.EOF
		}
		return FrameHeader{}, buf, fmt.Errorf("%w: %d bytes left, header needs %d: %v", ErrMalformedFrame, n, FrameHeaderSize, err)
	}
	h, err := parseFrameHeader(hdr[:])
	if err != nil {
		return h, buf, err
	}
	if cap(buf) < int(h.PayloadLen) {
		buf = make([]byte, h.PayloadLen)
	}
	buf = buf[:h.PayloadLen]
	if n, err := io.ReadFull(r, buf); err != nil {
		return h, buf, fmt.Errorf("%w: payload of %d bytes truncated to %d: %v", ErrMalformedFrame, h.PayloadLen, n, err)
	}
	return h, buf, nil
}

func parseFrameHeader(data []byte) (FrameHeader, error) {
	var h FrameHeader
	if magic := binary.LittleEndian.Uint32(data[0:]); magic != FrameMagic {
		return h, fmt.Errorf("%w: bad magic %#08x", ErrMalformedFrame, magic)
	}
	if v := data[4]; v != FrameVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrMalformedFrame, v)
	}
	h.Codec = Codec(data[5])
	h.RecordLen = binary.LittleEndian.Uint32(data[8:])
	h.Records = binary.LittleEndian.Uint32(data[12:])
	h.RawLen = binary.LittleEndian.Uint32(data[16:])
	h.PayloadLen = binary.LittleEndian.Uint32(data[20:])

	if h.RecordLen == 0 || uint64(h.Records)*uint64(h.RecordLen) != uint64(h.RawLen) {
		return h, fmt.Errorf("%w: %d records of %d bytes in %d raw bytes",
			ErrMalformedFrame, h.Records, h.RecordLen, h.RawLen)
	}
	return h, nil
}
