package linesort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// contextCheckInterval is how often, in records, the merge checks for
// context cancellation.
const contextCheckInterval = 10000

// Stats describes a completed sort.
type Stats struct {
	InputRecords  int64
	InputBytes    int64 // record bytes, newlines excluded
	OutputRecords int64
	Chunks        int
	Runs          int // runs spilled by the workers
	MergePasses   int // 0 when the input fit in one chunk
	TempFiles     int // files created, intermediate merge outputs included
	Duration      time.Duration
}

// Sort reads newline-delimited records from r and writes them to w in
// ascending byte order.
//
// Input is cut into chunks of at most the configured budget, chunks are
// sorted in parallel and spilled to temporary run files, and the runs are
// merged into w. Input that fits in a single chunk is sorted in memory and
// never touches disk.
//
// A final input record without a trailing newline makes the final output
// record lack one too. Sort stops at the first error and returns it wrapped
// with one of the sentinels in the errors subpackage; once merging has
// begun, w may already hold a prefix of the output, which must then be
// discarded. Every temporary file is removed before Sort returns, whatever
// the outcome.
//
// Usage:
//
//	stats, err := linesort.Sort(ctx, os.Stdin, os.Stdout,
//	    linesort.WithChunkBudget(256<<20),
//	    linesort.WithWorkers(8),
//	    linesort.TempDir("/var/tmp"))
//	if err != nil {
//	    log.Fatal(err)
//	}
func Sort(ctx context.Context, r io.Reader, w io.Writer, opts ...SortOption) (stats Stats, err error) {
	start := time.Now()
	cfg := defaultSortConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	store, err := newTempStore(cfg.tempDir, cfg.logger)
	if err != nil {
		return Stats{}, err
	}
	// Teardown runs on every exit path, panics included.
	defer func() {
		if tErr := store.teardown(); tErr != nil {
			err = errors.Join(err, tErr)
		}
		stats.TempFiles = store.created
		stats.Duration = time.Since(start)
	}()

	src := newRecordSource(r)
	builder := newChunkBuilder(src, cfg.chunkBudget)
	out := newOutputWriter(w, cfg.unique)

	defer func() {
		stats.InputRecords = src.records
		stats.InputBytes = src.bytes
		stats.OutputRecords = out.records
	}()

	first, err := builder.next()
	if err == io.EOF {
		return stats, out.finish()
	}
	if err != nil {
		return stats, err
	}
	stats.Chunks = 1

	if builder.exhausted() {
		// Single chunk: sort in memory and write directly.
		if err := first.sortSafely(); err != nil {
			return stats, err
		}
		out.terminate = !src.unterminated
		for i := range first.len() {
			if err := out.writeRecord(first.record(i)); err != nil {
				return stats, err
			}
		}
		cfg.logger.Debug("sorted in memory", zap.Int("records", first.len()))
		return stats, out.finish()
	}

	pipeline := newSpillPipeline(cfg, store, builder)
	runs, err := pipeline.run(ctx, first)
	stats.Chunks = pipeline.chunks
	if err != nil {
		return stats, err
	}
	stats.Runs = len(runs)
	cfg.logger.Debug("all runs spilled",
		zap.Int("runs", len(runs)),
		zap.Int64("records", src.records))

	// The source is drained now, so whether the input ended with a newline
	// is known before the first output byte.
	out.terminate = !src.unterminated

	m := &merger{
		ctx:    ctx,
		store:  store,
		cfg:    cfg,
		logger: cfg.logger,
		seq:    pipeline.chunks,
	}
	err = m.mergeAll(runs, out)
	stats.MergePasses = m.passes
	if err != nil {
		return stats, fmt.Errorf("merge: %w", err)
	}
	return stats, out.finish()
}
