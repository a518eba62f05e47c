package binstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrIncompleteDataset is returned when bin files named in the metadata are missing.
var ErrIncompleteDataset = errors.New("incomplete dataset")

// Dataset is an opened binned dataset
type Dataset struct {
	storage    Storage
	meta       Metadata
	compressor *Compressor
}

// OpenDataset reads the metadata of the dataset at path.
func OpenDataset(ctx context.Context, path string) (*Dataset, error) {
	storage, err := NewStorage(ctx, path)
	if err != nil {
		return nil, err
	}
	return openDataset(ctx, storage)
}

func openDataset(ctx context.Context, storage Storage) (*Dataset, error) {
	data, err := storage.ReadFile(ctx, MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.Format != FormatName {
		return nil, fmt.Errorf("unsupported dataset format: %q", meta.Format)
	}
	if meta.Params.RecordLen <= 0 {
		return nil, fmt.Errorf("invalid record length %d in metadata", meta.Params.RecordLen)
	}

	if err := checkBinFiles(ctx, storage, meta.Bins); err != nil {
		return nil, err
	}

	compressor, err := NewCompressor(CodecNone, 0)
	if err != nil {
		return nil, err
	}
	return &Dataset{storage: storage, meta: meta, compressor: compressor}, nil
}

// checkBinFiles fails when a bin listed in the metadata has no file.
func checkBinFiles(ctx context.Context, storage Storage, bins []BinInfo) error {
	if len(bins) == 0 {
		return nil
	}
	files, err := storage.List(ctx, "bins")
	if err != nil {
		return fmt.Errorf("failed to list bins: %w", err)
	}
	var missing []string
	for _, b := range bins {
		i := sort.SearchStrings(files, b.Path)
		if i == len(files) || files[i] != b.Path {
			missing = append(missing, b.Path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d bin files missing (first %s)", ErrIncompleteDataset, len(missing), missing[0])
	}
	return nil
}

// Metadata returns the dataset metadata.
func (d *Dataset) Metadata() *Metadata { return &d.meta }

// Bin returns the info of a bin; ok is false for empty bins.
func (d *Dataset) Bin(bin int) (BinInfo, bool) {
	i := sort.Search(len(d.meta.Bins), func(i int) bool { return d.meta.Bins[i].Bin >= bin })
	if i < len(d.meta.Bins) && d.meta.Bins[i].Bin == bin {
		return d.meta.Bins[i], true
	}
	return BinInfo{}, false
}

// ReadBin streams a bin file and calls fn with the decoded records of each
// frame; records are only valid during the call. The checksum is verified
// once the whole file has been read, so a corrupted bin may deliver frames
// before the error. Empty bins produce no calls.
func (d *Dataset) ReadBin(ctx context.Context, bin int, fn func(records []byte) error) error {
	if bin < 0 || bin >= d.meta.Params.NBins {
		return fmt.Errorf("bin %d out of range [0,%d)", bin, d.meta.Params.NBins)
	}
	info, ok := d.Bin(bin)
	if !ok {
		return nil
	}
	rc, err := d.storage.Open(ctx, info.Path)
	if err != nil {
		return fmt.Errorf("failed to open bin %d: %w", bin, err)
	}
	defer rc.Close()
	sum := sha256.New()
	r := bufio.NewReaderSize(io.TeeReader(rc, sum), 256*1024)

	var (
		records uint64
		payload []byte
	)
	for {
		var h FrameHeader
		h, payload, err = ReadFrame(r, payload)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("bin %d: %w", bin, err)
		}
		if int(h.RecordLen) != d.meta.Params.RecordLen {
			return fmt.Errorf("%w: bin %d frame has %d-byte records, dataset %d",
				ErrMalformedFrame, bin, h.RecordLen, d.meta.Params.RecordLen)
		}
		raw, err := d.compressor.Decompress(h.Codec, payload, int(h.RawLen))
		if err != nil {
			return fmt.Errorf("bin %d: %w", bin, err)
		}
		if err := fn(raw); err != nil {
			return err
		}
		records += uint64(h.Records)
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != info.Checksum {
		return fmt.Errorf("%w: bin %d checksum %s, metadata has %s", ErrMalformedFrame, bin, got, info.Checksum)
	}
	if records != info.Records {
		return fmt.Errorf("%w: bin %d has %d records, metadata has %d", ErrMalformedFrame, bin, records, info.Records)
	}
	return nil
}

// Kmers calls fn with each packed record of a bin. The slice is only valid
// during the call.
func (d *Dataset) Kmers(ctx context.Context, bin int, fn func(packed []byte) error) error {
	n := d.meta.Params.RecordLen
	return d.ReadBin(ctx, bin, func(records []byte) error {
		for off := 0; off < len(records); off += n {
			if err := fn(records[off : off+n]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the decoder.
func (d *Dataset) Close() error {
	return d.compressor.Close()
}
