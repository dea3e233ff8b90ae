package linesort

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	streamerrors "github.com/tamirms/linesort/errors"
)

// startPipeline builds a spill pipeline over input and returns it with the
// first chunk already sealed, as Sort does.
func startPipeline(t *testing.T, store *tempStore, input []byte, opts ...SortOption) (*spillPipeline, *chunk) {
	t.Helper()
	cfg := defaultSortConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	builder := newChunkBuilder(newRecordSource(bytes.NewReader(input)), cfg.chunkBudget)
	first, err := builder.next()
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	return newSpillPipeline(cfg, store, builder), first
}

func TestSpillPipelineOrdersRuns(t *testing.T) {
	rng := newTestRNG(t)
	recs := generateRecords(rng, 3000, 1, 30)
	store := newTestStore(t)

	p, first := startPipeline(t, store, joinRecords(recs, true), WithChunkBudget(512), WithWorkers(4), WithQueueSlack(2))
	runs, err := p.run(context.Background(), first)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runs) != p.chunks {
		t.Fatalf("%d runs for %d chunks", len(runs), p.chunks)
	}
	if store.live() != len(runs) {
		t.Fatalf("live files = %d, want %d", store.live(), len(runs))
	}

	var total int64
	for i, r := range runs {
		if r.seq != i {
			t.Fatalf("run %d has seq %d", i, r.seq)
		}
		total += r.records

		rd, err := openRunReader(r)
		if err != nil {
			t.Fatal(err)
		}
		var prev []byte
		for j := 0; ; j++ {
			rec, err := rd.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("run %d: %v", i, err)
			}
			if j > 0 && bytes.Compare(prev, rec) > 0 {
				t.Fatalf("run %d not sorted at record %d", i, j)
			}
			prev = bytes.Clone(rec)
		}
		_ = rd.close()
	}
	if total != int64(len(recs)) {
		t.Fatalf("runs hold %d records, want %d", total, len(recs))
	}
}

func TestSpillPipelineWorkerError(t *testing.T) {
	rng := newTestRNG(t)
	input := joinRecords(generateRecords(rng, 3000, 1, 30), true)

	store, err := newTempStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	p, first := startPipeline(t, store, input, WithChunkBudget(512), WithWorkers(2))
	// Workers cannot create run files once the store is closed.
	if err := store.teardown(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.run(context.Background(), first); !errors.Is(err, streamerrors.ErrStoreClosed) {
		t.Fatalf("run = %v, want ErrStoreClosed", err)
	}
}

func TestSpillPipelineInputErrorStopsWorkers(t *testing.T) {
	rng := newTestRNG(t)
	input := joinRecords(generateRecords(rng, 3000, 1, 30), true)
	boom := errors.New("boom")
	store := newTestStore(t)

	cfg := defaultSortConfig()
	cfg.chunkBudget = 512
	cfg.workers = 3
	src := newRecordSource(io.MultiReader(bytes.NewReader(input), &errAfter{err: boom}))
	builder := newChunkBuilder(src, cfg.chunkBudget)
	first, err := builder.next()
	if err != nil {
		t.Fatal(err)
	}
	p := newSpillPipeline(cfg, store, builder)
	if _, err := p.run(context.Background(), first); !errors.Is(err, boom) || !errors.Is(err, streamerrors.ErrInputRead) {
		t.Fatalf("run = %v, want ErrInputRead wrapping boom", err)
	}
}

func TestSpillPipelineWorkerPanic(t *testing.T) {
	dir := t.TempDir()
	store, err := newTempStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := defaultSortConfig()
	p := newSpillPipeline(cfg, store, newChunkBuilder(newRecordSource(strings.NewReader("")), cfg.chunkBudget))

	// A single record sorts without comparisons, so the bad span only
	// panics once the spill reads it.
	bad := chunkOf(0, "a")
	bad.spans[0].end = 1 << 20
	p.chunkChan <- bad
	close(p.chunkChan)

	err = p.runWorker(context.Background())
	if !errors.Is(err, streamerrors.ErrTempStorage) {
		t.Fatalf("runWorker = %v, want ErrTempStorage", err)
	}
	if !strings.Contains(err.Error(), "spill chunk 0") {
		t.Fatalf("error %q does not name the chunk", err)
	}
	// The half-written run is still registered, so teardown removes it.
	if store.live() != 1 {
		t.Fatalf("live = %d, want 1", store.live())
	}
	if err := store.teardown(); err != nil {
		t.Fatal(err)
	}
	assertDirEmpty(t, dir)
}

type errAfter struct {
	err error
}

func (e *errAfter) Read([]byte) (int, error) {
	return 0, e.err
}
