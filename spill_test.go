package linesort

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/cespare/xxhash/v2"
	streamerrors "github.com/tamirms/linesort/errors"
)

// readAll drains a run reader.
func readAll(t *testing.T, rd runReader) [][]byte {
	t.Helper()
	var recs [][]byte
	for {
		rec, err := rd.next()
		if err == io.EOF {
			return recs
		}
		if err != nil {
			t.Fatalf("next after %d records: %v", len(recs), err)
		}
		recs = append(recs, bytes.Clone(rec))
	}
}

func spillSorted(t *testing.T, store *tempStore, recs [][]byte, compress bool) *run {
	t.Helper()
	c := &chunk{seq: 5}
	for _, r := range recs {
		c.append(r)
	}
	c.sort()
	r, err := spillChunk(store, c, compress)
	if err != nil {
		t.Fatalf("spillChunk: %v", err)
	}
	return r
}

func TestRunRoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	// Enough data to cross several release windows of the mapped reader.
	recs := generateRecords(rng, 60000, 0, 80)
	want := referenceSort(recs, true)

	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			store := newTestStore(t)
			r := spillSorted(t, store, recs, compress)

			if r.seq != 5 || r.records != int64(len(recs)) || r.size != int64(len(want)) {
				t.Fatalf("run = seq %d, records %d, size %d; want 5, %d, %d", r.seq, r.records, r.size, len(recs), len(want))
			}
			if r.checksum != xxhash.Sum64(want) {
				t.Fatalf("checksum %016x, want %016x", r.checksum, xxhash.Sum64(want))
			}
			if r.compressed != compress {
				t.Fatalf("compressed = %v", r.compressed)
			}
			if compress && r.diskSize == 0 {
				t.Errorf("compressed run reports no bytes on disk")
			}
			if !compress && r.diskSize != r.size {
				t.Errorf("diskSize = %d, size = %d", r.diskSize, r.size)
			}

			rd, err := openRunReader(r)
			if err != nil {
				t.Fatal(err)
			}
			defer rd.close()

			got := readAll(t, rd)
			if !bytes.Equal(joinRecords(got, true), want) {
				t.Fatal("records read back differ from records written")
			}
			// Exhausted readers keep returning io.EOF.
			if _, err := rd.next(); err != io.EOF {
				t.Fatalf("next after end = %v, want io.EOF", err)
			}

			if err := rd.reset(); err != nil {
				t.Fatal(err)
			}
			if again := readAll(t, rd); len(again) != len(got) {
				t.Fatalf("after reset read %d records, want %d", len(again), len(got))
			}
		})
	}
}

func TestRunEmpty(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			store := newTestStore(t)
			rw, err := newRunWriter(store, 0, 0, compress)
			if err != nil {
				t.Fatal(err)
			}
			r, err := rw.finish()
			if err != nil {
				t.Fatal(err)
			}
			rd, err := openRunReader(r)
			if err != nil {
				t.Fatal(err)
			}
			defer rd.close()
			if _, err := rd.next(); err != io.EOF {
				t.Fatalf("next on empty run = %v, want io.EOF", err)
			}
		})
	}
}

func TestRunCorruptionDetected(t *testing.T) {
	rng := newTestRNG(t)
	recs := generateRecords(rng, 2000, 4, 40)

	tests := []struct {
		name    string
		corrupt func(t *testing.T, r *run)
	}{
		{"flipped byte", func(t *testing.T, r *run) {
			// Letters stay letters, so only the checksum can notice.
			off := r.size / 2
			b := make([]byte, 1)
			if _, err := r.file.file.ReadAt(b, off); err != nil {
				t.Fatal(err)
			}
			if b[0] == '\n' {
				off--
				if _, err := r.file.file.ReadAt(b, off); err != nil {
					t.Fatal(err)
				}
			}
			b[0] = 'a' + (b[0]-'a'+1)%26
			if _, err := r.file.file.WriteAt(b, off); err != nil {
				t.Fatal(err)
			}
		}},
		{"wrong checksum", func(t *testing.T, r *run) {
			r.checksum++
		}},
		{"missing final newline", func(t *testing.T, r *run) {
			if _, err := r.file.file.WriteAt([]byte{'z'}, r.size-1); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			r := spillSorted(t, store, recs, false)
			tt.corrupt(t, r)

			rd, err := openRunReader(r)
			if err != nil {
				t.Fatal(err)
			}
			defer rd.close()
			for err == nil {
				_, err = rd.next()
			}
			if !errors.Is(err, streamerrors.ErrRunCorrupted) || !errors.Is(err, streamerrors.ErrTempStorage) {
				t.Fatalf("err = %v, want ErrRunCorrupted", err)
			}
		})
	}
}

func TestCompressedRunWrongChecksum(t *testing.T) {
	rng := newTestRNG(t)
	store := newTestStore(t)
	r := spillSorted(t, store, generateRecords(rng, 500, 1, 20), true)
	r.checksum++

	rd, err := openRunReader(r)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.close()
	for err == nil {
		_, err = rd.next()
	}
	if !errors.Is(err, streamerrors.ErrRunCorrupted) {
		t.Fatalf("err = %v, want ErrRunCorrupted", err)
	}
}

func TestSpillAfterTeardown(t *testing.T) {
	store, err := newTempStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.teardown(); err != nil {
		t.Fatal(err)
	}
	if _, err := spillChunk(store, chunkOf(0, "a"), false); !errors.Is(err, streamerrors.ErrStoreClosed) {
		t.Fatalf("spill after teardown = %v, want ErrStoreClosed", err)
	}
}
