// Package linesort implements an external-memory, multi-core sort for
// newline-delimited text with bounded RAM usage.
//
// linesort is designed for inputs far larger than memory. Output matches
// sort(1) under the C locale: records are ordered byte-wise, and equal
// records are interchangeable (the sort is not stable).
//
// # Basic Usage
//
//	stats, err := linesort.Sort(ctx, os.Stdin, os.Stdout,
//	    linesort.WithChunkBudget(256<<20),
//	    linesort.WithWorkers(runtime.NumCPU()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Printf("sorted %d records in %v", stats.InputRecords, stats.Duration)
//
// # Pipeline
//
// A single producer goroutine reads records and seals them into chunks of at
// most the configured budget. Chunks travel through a bounded channel to a
// pool of workers, each of which sorts one chunk and spills it to a temporary
// run file. Once every run exists, a k-way merge streams the global order to
// the output. With more runs than the merge fan-in, intermediate merge passes
// reduce them first. A failure anywhere cancels the pipeline and every
// temporary file is removed before Sort returns.
//
// # Package Structure
//
//   - Public API: sort.go (Sort, Stats), options.go (SortOption, With* functions)
//   - Ingestion: source.go (line splitting), chunk.go (chunk arena, builder)
//   - Parallel spill: pool.go (producer, workers, collector), spill.go (run writer)
//   - Merge: merge.go (heap, merger, output), run_reader.go (mmap and S2 readers)
//   - Temp files: tempstore.go, tmpfile_*.go
//   - Platform: fallocate_*.go, fadvise_*.go, advise_*.go (OS-specific hints)
package linesort
