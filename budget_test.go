package linesort

import (
	"context"
	"io"
	"runtime"
	"runtime/metrics"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tamirms/linesort/internal/gen"
	"github.com/tamirms/linesort/internal/multiset"
)

// TestMemoryBudgetAccuracy verifies that peak heap stays proportional to the
// chunk budget and worker count, not to the input size. The input is
// generated on the fly and the output is digested as it streams, so neither
// is held in memory. Uses runtime/metrics with a 10ms ticker to avoid the
// stop-the-world pause of runtime.ReadMemStats.
func TestMemoryBudgetAccuracy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory budget test in short mode")
	}

	configs := []struct {
		name      string
		inputMB   int64
		budgetMB  int64
		workers   int
		compress  bool
		maxHeapMB int64 // budget × (2·workers + slack + 1) × 3.5 for GC headroom
	}{
		{"4MB_w2", 128, 4, 2, false, 84},
		{"4MB_w2_compressed", 128, 4, 2, true, 84},
		{"8MB_w1", 96, 8, 1, false, 112},
	}

	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			input := gen.New(gen.Config{TotalBytes: tc.inputMB << 20, Seed: gen.DefaultSeed})
			before := gen.New(gen.Config{TotalBytes: tc.inputMB << 20, Seed: gen.DefaultSeed})
			want, err := multiset.Scan(before)
			if err != nil {
				t.Fatal(err)
			}

			// Establish baseline heap after GC
			runtime.GC()
			time.Sleep(10 * time.Millisecond)
			baselineHeap := readHeapObjectsBytes()

			var peakHeap atomic.Uint64
			peakHeap.Store(baselineHeap)
			done := make(chan struct{})
			go func() {
				samples := []metrics.Sample{
					{Name: "/memory/classes/heap/objects:bytes"},
				}
				ticker := time.NewTicker(10 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						metrics.Read(samples)
						heap := samples[0].Value.Uint64()
						for {
							old := peakHeap.Load()
							if heap <= old || peakHeap.CompareAndSwap(old, heap) {
								break
							}
						}
					}
				}
			}()

			pr, pw := io.Pipe()
			scanned := make(chan multiset.Result, 1)
			go func() {
				res, err := multiset.Scan(pr)
				pr.CloseWithError(err)
				scanned <- res
			}()

			opts := []SortOption{
				TempDir(tmpDir),
				WithChunkBudget(tc.budgetMB << 20),
				WithWorkers(tc.workers),
			}
			if tc.compress {
				opts = append(opts, WithRunCompression())
			}
			stats, err := Sort(context.Background(), input, pw, opts...)
			pw.CloseWithError(err)
			close(done)
			if err != nil {
				t.Fatalf("Sort: %v", err)
			}
			got := <-scanned

			peakMB := (int64(peakHeap.Load()) - int64(baselineHeap)) >> 20
			if peakMB > tc.maxHeapMB {
				t.Errorf("peak heap %dMB exceeds limit %dMB (budget %dMB, %d workers)",
					peakMB, tc.maxHeapMB, tc.budgetMB, tc.workers)
			}
			t.Logf("peak heap above baseline: %dMB (limit %dMB), %d runs, %d passes",
				peakMB, tc.maxHeapMB, stats.Runs, stats.MergePasses)

			if err := got.Err(); err != nil {
				t.Fatalf("output: %v", err)
			}
			if !got.Digest.Equal(want.Digest) {
				t.Fatalf("digest mismatch: input %v, output %v", want.Digest, got.Digest)
			}
			assertDirEmpty(t, tmpDir)
		})
	}
}

// readHeapObjectsBytes returns the current heap objects size in bytes
// using runtime/metrics (no stop-the-world pause).
func readHeapObjectsBytes() uint64 {
	samples := []metrics.Sample{
		{Name: "/memory/classes/heap/objects:bytes"},
	}
	metrics.Read(samples)
	return samples[0].Value.Uint64()
}
