package binstore

import (
	"fmt"
	"time"

	"github.com/scttfrdmn/kmsplit-go/pkg/kmsplit"
)

// Dataset file layout
const (
	MetadataFile = "_metadata.json"
	FormatName   = "kmsplit-bins"
	FormatVer    = "1.0"
)

// BinPath returns the dataset-relative path of a bin file.
func BinPath(bin int) string {
	return fmt.Sprintf("bins/bin-%05d.kbin", bin)
}

// Metadata describes a binned dataset
type Metadata struct {
	Format     string              `json:"format"`
	Version    string              `json:"version"`
	Created    time.Time           `json:"created"`
	CreatedBy  string              `json:"created_by"`
	Source     Source              `json:"source"`
	Params     Params              `json:"params"`
	Codec      string              `json:"codec"`
	Statistics Statistics          `json:"statistics"`
	Bins       []BinInfo           `json:"bins"`
	Pass       *kmsplit.PassResult `json:"pass,omitempty"`
}

// Source describes the input the dataset was split from
type Source struct {
	Files    []string `json:"files"`
	ReadType string   `json:"read_type"`
}

// Params are the splitting parameters a reader needs to interpret bins
type Params struct {
	KmerLen               int    `json:"kmer_len"`
	RecordLen             int    `json:"record_len"`
	SignatureLen          int    `json:"signature_len"`
	WindowLen             int    `json:"window_len"`
	MinimizerVersion      string `json:"minimizer_version"`
	BothStrands           bool   `json:"both_strands"`
	HomopolymerCompressed bool   `json:"homopolymer_compressed"`
	NBins                 int    `json:"n_bins"`
	Balanced              bool   `json:"balanced"`
}

// ParamsFrom snapshots cfg.
func ParamsFrom(cfg *kmsplit.Config) Params {
	return Params{
		KmerLen:               cfg.KmerLen,
		RecordLen:             kmsplit.KmerBytes(cfg.KmerLen),
		SignatureLen:          cfg.SignatureLen,
		WindowLen:             cfg.Window(),
		MinimizerVersion:      cfg.MinimizerVersion.String(),
		BothStrands:           cfg.BothStrands,
		HomopolymerCompressed: cfg.HomopolymerCompressed,
		NBins:                 cfg.NBins,
	}
}

// Statistics contains dataset totals
type Statistics struct {
	Records     uint64 `json:"records"`
	Frames      uint64 `json:"frames"`
	RawBytes    int64  `json:"raw_bytes"`
	StoredBytes int64  `json:"stored_bytes"`
	NonEmpty    int    `json:"non_empty_bins"`
}

// BinInfo describes one non-empty bin file
type BinInfo struct {
	Bin         int    `json:"bin"`
	Path        string `json:"path"`
	Records     uint64 `json:"records"`
	Frames      uint64 `json:"frames"`
	RawBytes    int64  `json:"raw_bytes"`
	StoredBytes int64  `json:"stored_bytes"`
	Checksum    string `json:"checksum"` // sha256 of the bin file
}
