package kmsplit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with pass-specific helpers and consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing to stderr, as JSON when json is set.
func NewLogger(level slog.Level, json bool) *Logger {
	return newLogger(os.Stderr, level, json)
}

func newLogger(w io.Writer, level slog.Level, json bool) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger discards all log output.
func NoopLogger() *Logger {
	return newLogger(io.Discard, slog.Level(1000), false)
}

// WithPass adds the pass name to every record.
func (l *Logger) WithPass(pass string) *Logger {
	return &Logger{Logger: l.Logger.With("pass", pass)}
}

// LogPassStart logs the start of a pass.
func (l *Logger) LogPassStart(ctx context.Context, cfg *Config) {
	l.InfoContext(ctx, "pass started",
		"k", cfg.KmerLen,
		"signature_len", cfg.SignatureLen,
		"window", cfg.Window(),
		"bins", cfg.NBins,
		"workers", cfg.Workers,
	)
}

// LogPassDone logs the totals of a finished pass.
func (l *Logger) LogPassDone(ctx context.Context, res PassResult, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pass failed",
			"reads", res.NReads,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "pass completed",
		"reads", res.NReads,
		"kmers", res.TotalKmers,
		"chunks", res.Chunks,
		"malformed_chunks", res.MalformedChunks,
		"peak_pool_bytes", res.PeakPoolBytes,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
}

// LogWorker logs one worker's totals.
func (l *Logger) LogWorker(ctx context.Context, id int, res WorkerResult) {
	l.DebugContext(ctx, "worker finished",
		"worker", id,
		"reads", res.NReads,
		"kmers", res.TotalKmers,
		"chunks", res.Chunks,
		"malformed_chunks", res.MalformedChunks,
	)
}

// LogMalformed logs a chunk the splitter stopped scanning early.
func (l *Logger) LogMalformed(ctx context.Context, worker int, rt ReadType, size int) {
	l.WarnContext(ctx, "malformed or truncated chunk",
		"worker", worker,
		"read_type", rt.String(),
		"size", size,
	)
}
