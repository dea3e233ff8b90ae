// Bench measures linesort throughput and memory usage on generated data.
//
// Usage:
//
//	go run ./cmd/bench -size 1G -budget 64M -workers 8
//
// Flags:
//
//	-size       Generated input size in record bytes (default: 256M)
//	-budget     Chunk memory budget (default: 64M)
//	-workers    Sort workers, 0 for GOMAXPROCS (default: 0)
//	-fan-in     Maximum runs merged at once (default: 128)
//	-compress   Compress run files
//	-verify     Check ordering and multiset of the output
//	-baseline   Also time an in-memory slices.Sort of the same data
//	-tmp        Directory for input, output and run files (default: $TMPDIR)
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tamirms/linesort"
	"github.com/tamirms/linesort/internal/config"
	"github.com/tamirms/linesort/internal/gen"
	"github.com/tamirms/linesort/internal/multiset"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

func main() {
	size := config.Size(256 << 20)
	budget := config.Size(linesort.DefaultChunkBudget)
	flag.Var(&size, "size", "generated input size in record bytes")
	flag.Var(&budget, "budget", "chunk memory budget")
	workersFlag := flag.Int("workers", 0, "sort workers (0 = GOMAXPROCS)")
	fanInFlag := flag.Int("fan-in", linesort.DefaultMergeFanIn, "maximum runs merged at once")
	compressFlag := flag.Bool("compress", false, "compress run files")
	verifyFlag := flag.Bool("verify", false, "verify output ordering and multiset")
	baselineFlag := flag.Bool("baseline", false, "also time an in-memory slices.Sort")
	tmpFlag := flag.String("tmp", "", "directory for input, output and run files")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (sort phase only)")
	flag.Parse()

	tmpDir, err := os.MkdirTemp(*tmpFlag, "linesort-bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	inputPath := filepath.Join(tmpDir, "input.txt")
	outputPath := filepath.Join(tmpDir, "output.txt")

	fmt.Println("Generating input...")
	genStart := time.Now()
	records, err := writeInput(inputPath, int64(size))
	if err != nil {
		fmt.Printf("Generate failed: %v\n", err)
		return
	}
	genDuration := time.Since(genStart)

	in, err := os.Open(inputPath)
	if err != nil {
		fmt.Printf("Open input failed: %v\n", err)
		return
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(outputPath)
	if err != nil {
		fmt.Printf("Create output failed: %v\n", err)
		return
	}
	defer func() { _ = out.Close() }()

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()

	// 10ms sampling for peak memory (both heap and RSS).
	// Uses runtime/metrics instead of ReadMemStats to avoid stop-the-world pauses.
	var peakAlloc atomic.Uint64
	var peakRSS atomic.Uint64
	peakAlloc.Store(baseline.Alloc)
	peakRSS.Store(baselineRSS)
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
				heapBytes := samples[0].Value.Uint64()
				for {
					old := peakAlloc.Load()
					if heapBytes <= old || peakAlloc.CompareAndSwap(old, heapBytes) {
						break
					}
				}
				rss := getMaxRSS()
				for {
					old := peakRSS.Load()
					if rss <= old || peakRSS.CompareAndSwap(old, rss) {
						break
					}
				}
			}
		}
	}()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	opts := []linesort.SortOption{
		linesort.WithChunkBudget(int64(budget)),
		linesort.WithMergeFanIn(*fanInFlag),
		linesort.TempDir(tmpDir),
	}
	if *workersFlag > 0 {
		opts = append(opts, linesort.WithWorkers(*workersFlag))
	}
	if *compressFlag {
		opts = append(opts, linesort.WithRunCompression())
	}

	fmt.Println("Sorting...")
	stats, err := linesort.Sort(context.Background(), in, out, opts...)

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	close(done)

	finalRSS := getMaxRSS()
	if finalRSS > peakRSS.Load() {
		peakRSS.Store(finalRSS)
	}
	peakHeapMem := peakAlloc.Load() - baseline.Alloc
	peakRSSMem := peakRSS.Load() - baselineRSS

	if err != nil {
		fmt.Printf("Sort failed: %v\n", err)
		return
	}

	if *verifyFlag {
		fmt.Println("Verifying...")
		if err := verify(inputPath, outputPath); err != nil {
			fmt.Printf("Verify failed: %v\n", err)
			return
		}
	}

	var baselineDuration time.Duration
	if *baselineFlag {
		fmt.Println("Timing in-memory baseline...")
		baselineDuration, err = inMemorySort(inputPath)
		if err != nil {
			fmt.Printf("Baseline failed: %v\n", err)
			return
		}
	}

	mb := float64(size) / (1 << 20)
	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════════╗\n")
	fmt.Printf("║ Metric              ║ Value              ║\n")
	fmt.Printf("╠═════════════════════╬════════════════════╣\n")
	fmt.Printf("║ Input               ║ %8.1f MB        ║\n", mb)
	fmt.Printf("║ Records             ║ %12d       ║\n", records)
	fmt.Printf("║ Generate time       ║ %8.2f sec       ║\n", genDuration.Seconds())
	fmt.Printf("║ Chunks / runs       ║ %6d / %-6d     ║\n", stats.Chunks, stats.Runs)
	fmt.Printf("║ Merge passes        ║ %8d           ║\n", stats.MergePasses)
	fmt.Printf("║ Sort time           ║ %8.2f sec       ║\n", stats.Duration.Seconds())
	fmt.Printf("║ Throughput          ║ %8.2f MB/sec    ║\n", mb/stats.Duration.Seconds())
	fmt.Printf("║ Throughput          ║ %8.2f M rec/sec ║\n", float64(stats.InputRecords)/stats.Duration.Seconds()/1_000_000)
	if *baselineFlag {
		fmt.Printf("║ In-memory baseline  ║ %8.2f sec       ║\n", baselineDuration.Seconds())
	}
	fmt.Printf("║ Peak heap memory    ║ %8.1f MB        ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %8.1f MB        ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════════╝\n")
}

func writeInput(path string, size int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	g := gen.New(gen.Config{TotalBytes: size, Seed: gen.DefaultSeed})
	bw := bufio.NewWriterSize(f, 1<<20)
	if _, err := io.Copy(bw, g); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return g.Records(), f.Sync()
}

func verify(inputPath, outputPath string) error {
	scan := func(path string) (multiset.Result, error) {
		f, err := os.Open(path)
		if err != nil {
			return multiset.Result{}, err
		}
		defer func() { _ = f.Close() }()
		return multiset.Scan(f)
	}
	in, err := scan(inputPath)
	if err != nil {
		return err
	}
	out, err := scan(outputPath)
	if err != nil {
		return err
	}
	if err := out.Err(); err != nil {
		return err
	}
	if !in.Digest.Equal(out.Digest) {
		return fmt.Errorf("multiset differs: input %v, output %v", in.Digest, out.Digest)
	}
	return nil
}

// inMemorySort times reading the whole input and sorting it with slices.Sort.
func inMemorySort(path string) (time.Duration, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	lines := bytes.Split(bytes.TrimSuffix(data, []byte{'\n'}), []byte{'\n'})
	slices.SortFunc(lines, bytes.Compare)
	return time.Since(start), nil
}
