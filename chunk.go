package linesort

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"sync"
	"unsafe"

	streamerrors "github.com/tamirms/linesort/errors"
)

// recordOverhead is the memory accounted per record beyond its bytes: the
// span that locates it in the arena.
const recordOverhead = int64(unsafe.Sizeof(span{}))

// span locates one record inside a chunk arena.
type span struct {
	off, end int
}

// chunk is a batch of records held in a single arena. Records are sorted by
// permuting spans; the arena itself is never reordered.
type chunk struct {
	seq       int // input order, used for run ordering
	arena     []byte
	spans     []span
	accounted int64
	limit     int // footprint cap set by the builder; 0 grows like append
}

// recordCost is the memory charged against the chunk budget for rec.
func recordCost(rec []byte) int64 {
	return int64(len(rec)) + recordOverhead
}

func (c *chunk) append(rec []byte) {
	if c.limit > 0 {
		c.reserve(len(rec))
	}
	off := len(c.arena)
	c.arena = append(c.arena, rec...)
	c.spans = append(c.spans, span{off: off, end: len(c.arena)})
	c.accounted += recordCost(rec)
}

// footprint is the memory the chunk holds: capacities, not lengths.
func (c *chunk) footprint() int64 {
	return int64(cap(c.arena)) + int64(cap(c.spans))*recordOverhead
}

// reserve makes room for one more record of n bytes. Growth doubles like
// append but is clipped so the footprint stays within limit whenever the
// accounted size does. A record that does not fit gets exact capacities.
func (c *chunk) reserve(n int) {
	needArena := len(c.arena) + n
	needSpans := len(c.spans) + 1
	if needArena <= cap(c.arena) && needSpans <= cap(c.spans) {
		return
	}

	overhead := int(recordOverhead)
	arenaCap, spansCap := cap(c.arena), cap(c.spans)
	if needArena > arenaCap {
		arenaCap = max(2*arenaCap, needArena)
	}
	if needSpans > spansCap {
		spansCap = max(2*spansCap, needSpans)
	}
	if arenaCap+spansCap*overhead > c.limit {
		spansCap = max(needSpans, min(spansCap, (c.limit-needArena)/overhead))
		arenaCap = max(needArena, min(arenaCap, c.limit-spansCap*overhead))
	}

	if arenaCap != cap(c.arena) {
		arena := make([]byte, len(c.arena), arenaCap)
		copy(arena, c.arena)
		c.arena = arena
	}
	if spansCap != cap(c.spans) {
		spans := make([]span, len(c.spans), spansCap)
		copy(spans, c.spans)
		c.spans = spans
	}
}

func (c *chunk) len() int {
	return len(c.spans)
}

func (c *chunk) record(i int) []byte {
	s := c.spans[i]
	return c.arena[s.off:s.end:s.end]
}

// encodedSize is the size of the chunk once written as newline-terminated lines.
func (c *chunk) encodedSize() int64 {
	return int64(len(c.arena)) + int64(len(c.spans))
}

// sort orders the records byte-wise. slices.SortFunc is pdqsort:
// unstable, O(n log n) worst case.
func (c *chunk) sort() {
	arena := c.arena
	slices.SortFunc(c.spans, func(a, b span) int {
		return bytes.Compare(arena[a.off:a.end], arena[b.off:b.end])
	})
}

// sortSafely sorts the chunk and converts a runtime panic (allocation
// failure, most likely) into ErrResourceExhausted.
func (c *chunk) sortSafely() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sort chunk %d (%d records, %d bytes): %v",
				streamerrors.ErrResourceExhausted, c.seq, c.len(), c.accounted, r)
		}
	}()
	c.sort()
	return nil
}

func (c *chunk) reset() {
	c.seq = 0
	c.arena = c.arena[:0]
	c.spans = c.spans[:0]
	c.accounted = 0
}

// chunkBuilder groups records from a recordSource into chunks whose
// accounted size stays within budget. A record that alone exceeds the budget
// gets a chunk of its own.
type chunkBuilder struct {
	src    *recordSource
	budget int64
	pool   sync.Pool
	carry  *chunk // chunk already holding the record that overflowed the previous one
	seq    int
	done   bool
}

func newChunkBuilder(src *recordSource, budget int64) *chunkBuilder {
	b := &chunkBuilder{src: src, budget: budget}
	b.pool.New = func() any {
		return &chunk{limit: int(budget)}
	}
	return b
}

func (b *chunkBuilder) getChunk() *chunk {
	c := b.pool.Get().(*chunk)
	c.seq = b.seq
	b.seq++
	return c
}

// putChunk returns a spilled chunk for reuse. Chunks grown past the budget
// by an oversized record are dropped.
func (b *chunkBuilder) putChunk(c *chunk) {
	if c.footprint() > b.budget {
		return
	}
	c.reset()
	b.pool.Put(c)
}

// next returns the next sealed chunk, or io.EOF when the source is exhausted.
// exhausted reports afterwards whether this was the last chunk.
func (b *chunkBuilder) next() (*chunk, error) {
	if b.done {
		return nil, io.EOF
	}

	c := b.carry
	b.carry = nil
	if c == nil {
		c = b.getChunk()
	}

	for {
		rec, err := b.src.next()
		if err == io.EOF {
			b.done = true
			if c.len() == 0 {
				b.putChunk(c)
				return nil, io.EOF
			}
			return c, nil
		}
		if err != nil {
			b.putChunk(c)
			return nil, err
		}

		if c.len() > 0 && c.accounted+recordCost(rec) > b.budget {
			// rec is only valid until the next read, so it moves into the
			// following chunk now.
			next := b.getChunk()
			next.append(rec)
			b.carry = next
			return c, nil
		}

		c.append(rec)
		if c.accounted >= b.budget {
			return c, nil
		}
	}
}

// exhausted reports whether the source has been fully consumed and no
// records are pending.
func (b *chunkBuilder) exhausted() bool {
	return b.done && b.carry == nil
}
