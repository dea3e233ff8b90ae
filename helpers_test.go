package linesort

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/fnv"
	randv2 "math/rand/v2"
	"os"
	"slices"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *randv2.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return randv2.New(randv2.NewPCG(testSeed1^s1, testSeed2^s2))
}

// randomRecord returns a record of n lowercase letters.
func randomRecord(rng *randv2.Rand, n int) []byte {
	rec := make([]byte, n)
	for i := range rec {
		rec[i] = 'a' + byte(rng.IntN(26))
	}
	return rec
}

// generateRecords creates n records with lengths uniform in [minLen, maxLen].
func generateRecords(rng *randv2.Rand, n, minLen, maxLen int) [][]byte {
	recs := make([][]byte, n)
	for i := range recs {
		recs[i] = randomRecord(rng, minLen+rng.IntN(maxLen-minLen+1))
	}
	return recs
}

// geometricRecords creates records totalling about totalBytes with lengths
// drawn from a geometric distribution (success probability p), at least 2.
func geometricRecords(rng *randv2.Rand, totalBytes int, p float64) [][]byte {
	var recs [][]byte
	for sum := 0; sum < totalBytes; {
		n := 0
		for rng.Float64() >= p {
			n++
		}
		n = max(n, 2)
		recs = append(recs, randomRecord(rng, n))
		sum += n
	}
	return recs
}

// joinRecords encodes records as newline-delimited input.
func joinRecords(recs [][]byte, terminated bool) []byte {
	var buf bytes.Buffer
	for i, r := range recs {
		buf.Write(r)
		if i < len(recs)-1 || terminated {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// referenceSort is the expected output: an in-memory sort of the same records.
func referenceSort(recs [][]byte, terminated bool) []byte {
	sorted := slices.Clone(recs)
	slices.SortFunc(sorted, bytes.Compare)
	return joinRecords(sorted, terminated)
}

// sortBytes runs Sort over input with run files in a test temp dir.
func sortBytes(t *testing.T, input []byte, opts ...SortOption) ([]byte, Stats) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	opts = append([]SortOption{TempDir(dir)}, opts...)
	stats, err := Sort(context.Background(), bytes.NewReader(input), &out, opts...)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	assertDirEmpty(t, dir)
	return out.Bytes(), stats
}

// assertDirEmpty fails if dir contains any entries.
func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("temp dir not empty: %v", names)
	}
}

// newTestStore returns a temp store in a fresh directory, torn down at test end.
func newTestStore(t *testing.T) *tempStore {
	t.Helper()
	store, err := newTempStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("newTempStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.teardown(); err != nil {
			t.Errorf("teardown: %v", err)
		}
	})
	return store
}

// chunkOf builds a chunk holding recs in order.
func chunkOf(seq int, recs ...string) *chunk {
	c := &chunk{seq: seq}
	for _, r := range recs {
		c.append([]byte(r))
	}
	return c
}
