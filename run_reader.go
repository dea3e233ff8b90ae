package linesort

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/s2"
	streamerrors "github.com/tamirms/linesort/errors"
)

// releaseWindow is how many consumed bytes of a mapped run accumulate before
// they are hashed and dropped from the resident set. Must be a multiple of
// the page size.
const releaseWindow = 1 << 20

// runReader is a forward-only cursor over one run.
//
// next returns the next record, valid until the following call to next or
// close, and io.EOF once the run is exhausted. The checksum is verified when
// the end is reached; a mismatch is reported instead of io.EOF.
type runReader interface {
	next() ([]byte, error)
	// reset rewinds to the first record.
	reset() error
	close() error
}

// openRunReader opens the reader that matches how r was written.
func openRunReader(r *run) (runReader, error) {
	if r.compressed {
		return newStreamRunReader(r), nil
	}
	return newMmapRunReader(r)
}

// mmapRunReader reads a plain run through a read-only memory mapping.
// Records are returned as zero-copy subslices of the mapping.
type mmapRunReader struct {
	r        *run
	mm       mmap.MMap
	data     []byte
	pos      int
	hashed   int // data[:hashed] is folded into hasher and released
	hasher   *xxhash.Digest
	finished bool
}

func newMmapRunReader(r *run) (*mmapRunReader, error) {
	mr := &mmapRunReader{r: r, hasher: xxhash.New()}
	if r.size == 0 {
		return mr, nil
	}
	mm, err := mmap.MapRegion(r.file.file, int(r.size), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, storageError(fmt.Sprintf("map run %d", r.seq), err)
	}
	mr.mm = mm
	mr.data = []byte(mm)
	adviseSequential(mr.data)
	return mr, nil
}

func (mr *mmapRunReader) next() ([]byte, error) {
	if mr.pos >= len(mr.data) {
		return nil, mr.verify()
	}

	// Fold whole windows that lie entirely before the record being returned.
	if mr.pos-mr.hashed >= releaseWindow {
		end := mr.hashed + (mr.pos-mr.hashed)/releaseWindow*releaseWindow
		window := mr.data[mr.hashed:end]
		_, _ = mr.hasher.Write(window)
		adviseDontNeed(window)
		mr.hashed = end
	}

	rest := mr.data[mr.pos:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		return nil, fmt.Errorf("%w: %w: run %d: unterminated record at offset %d",
			streamerrors.ErrTempStorage, streamerrors.ErrRunCorrupted, mr.r.seq, mr.pos)
	}
	mr.pos += i + 1
	return rest[:i:i], nil
}

// verify runs once at end of run and compares the checksum.
func (mr *mmapRunReader) verify() error {
	if !mr.finished {
		mr.finished = true
		_, _ = mr.hasher.Write(mr.data[mr.hashed:])
		mr.hashed = len(mr.data)
		if sum := mr.hasher.Sum64(); sum != mr.r.checksum {
			return fmt.Errorf("%w: %w: run %d: got %016x, want %016x",
				streamerrors.ErrTempStorage, streamerrors.ErrRunCorrupted, mr.r.seq, sum, mr.r.checksum)
		}
	}
	return io.EOF
}

func (mr *mmapRunReader) reset() error {
	mr.pos = 0
	mr.hashed = 0
	mr.finished = false
	mr.hasher.Reset()
	return nil
}

func (mr *mmapRunReader) close() error {
	if mr.mm == nil {
		return nil
	}
	err := mr.mm.Unmap()
	mr.mm = nil
	mr.data = nil
	if err != nil {
		return storageError(fmt.Sprintf("unmap run %d", mr.r.seq), err)
	}
	return nil
}

// streamRunReader decompresses an S2 run through a buffered line reader.
type streamRunReader struct {
	r        *run
	zr       *s2.Reader
	lines    *lineReader
	hasher   *xxhash.Digest
	finished bool
}

func newStreamRunReader(r *run) *streamRunReader {
	sr := &streamRunReader{r: r, hasher: xxhash.New()}
	fadviseSequential(int(r.file.file.Fd()), 0, r.diskSize)
	sr.zr = s2.NewReader(sr.section(), s2.ReaderMaxBlockSize(compressedBlockSize))
	sr.lines = newLineReader(sr.zr, compressedBlockSize)
	return sr
}

// section reads the file through ReadAt so no shared file offset is involved.
func (sr *streamRunReader) section() io.Reader {
	return io.NewSectionReader(sr.r.file.file, 0, sr.r.diskSize)
}

func (sr *streamRunReader) next() ([]byte, error) {
	rec, terminated, err := sr.lines.readLine()
	if err == io.EOF {
		return nil, sr.verify()
	}
	if err != nil {
		return nil, storageError(fmt.Sprintf("read run %d", sr.r.seq), err)
	}
	if !terminated {
		return nil, fmt.Errorf("%w: %w: run %d: unterminated final record",
			streamerrors.ErrTempStorage, streamerrors.ErrRunCorrupted, sr.r.seq)
	}
	_, _ = sr.hasher.Write(rec)
	_, _ = sr.hasher.Write(newline)
	return rec, nil
}

func (sr *streamRunReader) verify() error {
	if !sr.finished {
		sr.finished = true
		if sum := sr.hasher.Sum64(); sum != sr.r.checksum {
			return fmt.Errorf("%w: %w: run %d: got %016x, want %016x",
				streamerrors.ErrTempStorage, streamerrors.ErrRunCorrupted, sr.r.seq, sum, sr.r.checksum)
		}
	}
	return io.EOF
}

func (sr *streamRunReader) reset() error {
	sr.zr.Reset(sr.section())
	sr.lines.br.Reset(sr.zr)
	sr.hasher.Reset()
	sr.finished = false
	return nil
}

func (sr *streamRunReader) close() error {
	sr.zr = nil
	sr.lines = nil
	return nil
}
