package linesort

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
)

// writeBufferSize is the bufio size for run files and the output stream.
const writeBufferSize = 1 << 20

// compressedBlockSize is the S2 block size of compressed runs. Every open
// compressed reader holds about two blocks, so it bounds merge memory.
const compressedBlockSize = 64 << 10

var newline = []byte{'\n'}

// run describes one immutable sorted run file.
type run struct {
	seq        int // creation order; merge passes consume runs oldest first
	file       *tempFile
	records    int64
	size       int64  // encoded (uncompressed) bytes, newlines included
	diskSize   int64  // bytes on disk; equals size unless compressed
	checksum   uint64 // xxHash64 of the encoded bytes
	compressed bool
}

// countingWriter tracks bytes that reach the file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// runWriter writes newline-terminated records into a fresh temp file.
// Used by the spiller for sorted chunks and by intermediate merge passes.
type runWriter struct {
	tf      *tempFile
	disk    *countingWriter
	zw      *s2.Writer // nil for plain runs
	bw      *bufio.Writer
	hasher  *xxhash.Digest
	seq     int
	records int64
	size    int64
}

// newRunWriter allocates a temp file from store. sizeHint is the expected
// encoded size; for plain runs it is reserved on disk up front.
func newRunWriter(store *tempStore, seq int, sizeHint int64, compress bool) (*runWriter, error) {
	tf, err := store.create()
	if err != nil {
		return nil, err
	}

	if !compress && sizeHint > 0 {
		if err := fallocateFile(tf.file, sizeHint); err != nil {
			return nil, errors.Join(storageError(fmt.Sprintf("reserve %d bytes for run %d", sizeHint, seq), err), store.release(tf.id))
		}
	}

	rw := &runWriter{
		tf:     tf,
		disk:   &countingWriter{w: tf.file},
		hasher: xxhash.New(),
		seq:    seq,
	}
	var dst io.Writer = rw.disk
	if compress {
		// Sort workers already run in parallel; one compression goroutine
		// per run is enough.
		rw.zw = s2.NewWriter(rw.disk, s2.WriterConcurrency(1), s2.WriterBlockSize(compressedBlockSize))
		dst = rw.zw
	}
	rw.bw = bufio.NewWriterSize(dst, writeBufferSize)
	return rw, nil
}

// writeRecord appends rec and its terminating newline.
func (rw *runWriter) writeRecord(rec []byte) error {
	// xxhash.Digest.Write never fails.
	_, _ = rw.hasher.Write(rec)
	_, _ = rw.hasher.Write(newline)

	if _, err := rw.bw.Write(rec); err != nil {
		return storageError(fmt.Sprintf("write run %d", rw.seq), err)
	}
	if err := rw.bw.WriteByte('\n'); err != nil {
		return storageError(fmt.Sprintf("write run %d", rw.seq), err)
	}
	rw.records++
	rw.size += int64(len(rec)) + 1
	return nil
}

// finish flushes all buffered data and returns the run descriptor. The file
// stays open and registered; the merger releases it once consumed.
func (rw *runWriter) finish() (*run, error) {
	if err := rw.bw.Flush(); err != nil {
		return nil, storageError(fmt.Sprintf("flush run %d", rw.seq), err)
	}
	if rw.zw != nil {
		if err := rw.zw.Close(); err != nil {
			return nil, storageError(fmt.Sprintf("finish compressed run %d", rw.seq), err)
		}
	}
	return &run{
		seq:        rw.seq,
		file:       rw.tf,
		records:    rw.records,
		size:       rw.size,
		diskSize:   rw.disk.n,
		checksum:   rw.hasher.Sum64(),
		compressed: rw.zw != nil,
	}, nil
}

// spillChunk writes a sorted chunk as a new run.
func spillChunk(store *tempStore, c *chunk, compress bool) (*run, error) {
	rw, err := newRunWriter(store, c.seq, c.encodedSize(), compress)
	if err != nil {
		return nil, err
	}
	for i := range c.len() {
		if err := rw.writeRecord(c.record(i)); err != nil {
			return nil, err
		}
	}
	return rw.finish()
}
