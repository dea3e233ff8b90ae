package linesort

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	streamerrors "github.com/tamirms/linesort/errors"
	"go.uber.org/zap"
)

// recordSink receives merged records in order.
type recordSink interface {
	writeRecord(rec []byte) error
}

// runHeap is a min-heap of reader indices ordered by each reader's head
// record. Index-based to avoid container/heap's interface boxing.
type runHeap struct {
	heads   [][]byte // current head per reader index
	indices []int
}

func newRunHeap(readers int) *runHeap {
	return &runHeap{
		heads:   make([][]byte, readers),
		indices: make([]int, 0, readers),
	}
}

func (h *runHeap) len() int {
	return len(h.indices)
}

// push adds reader i with head rec. O(log k).
func (h *runHeap) push(i int, rec []byte) {
	h.heads[i] = rec
	h.indices = append(h.indices, i)
	h.up(len(h.indices) - 1)
}

// top returns the reader holding the smallest head.
func (h *runHeap) top() int {
	return h.indices[0]
}

// replaceTop sets a new head for the top reader and restores heap order.
func (h *runHeap) replaceTop(rec []byte) {
	h.heads[h.indices[0]] = rec
	h.down(0, len(h.indices))
}

// popTop removes the top reader.
func (h *runHeap) popTop() int {
	n := len(h.indices) - 1
	h.swap(0, n)
	h.down(0, n)
	i := h.indices[n]
	h.heads[i] = nil
	h.indices = h.indices[:n]
	return i
}

func (h *runHeap) swap(i, j int) {
	h.indices[i], h.indices[j] = h.indices[j], h.indices[i]
}

func (h *runHeap) less(i, j int) bool {
	a, b := h.indices[i], h.indices[j]
	if c := bytes.Compare(h.heads[a], h.heads[b]); c != 0 {
		return c < 0
	}
	// Deterministic tie-break by reader index
	return a < b
}

func (h *runHeap) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !h.less(j, i) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h *runHeap) down(i, n int) {
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.less(j2, j1) {
			j = j2 // right child
		}
		if !h.less(j, i) {
			break
		}
		h.swap(i, j)
		i = j
	}
}

// merger combines runs into one sorted stream. It owns every run handed to
// it: each run is released as soon as it has been fully consumed.
type merger struct {
	ctx    context.Context
	store  *tempStore
	cfg    *sortConfig
	logger *zap.Logger
	passes int
	seq    int // sequence for runs produced by intermediate passes
}

// mergeAll merges runs into sink, first reducing them with intermediate
// passes while more than cfg.mergeFanIn remain.
func (m *merger) mergeAll(runs []*run, sink recordSink) error {
	for len(runs) > m.cfg.mergeFanIn {
		merged, err := m.mergePass(runs[:m.cfg.mergeFanIn])
		if err != nil {
			return err
		}
		// Oldest runs first; the merged run goes to the back of the queue.
		runs = append(runs[m.cfg.mergeFanIn:], merged)
	}

	m.passes++
	m.logger.Debug("final merge", zap.Int("runs", len(runs)), zap.Int("pass", m.passes))
	return m.merge(runs, sink)
}

// mergePass merges runs into a single new run.
func (m *merger) mergePass(runs []*run) (*run, error) {
	var size int64
	for _, r := range runs {
		size += r.size
	}
	m.passes++
	rw, err := newRunWriter(m.store, m.seq, size, m.cfg.compress)
	if err != nil {
		return nil, err
	}
	m.seq++
	if err := m.merge(runs, rw); err != nil {
		return nil, err
	}
	out, err := rw.finish()
	if err != nil {
		return nil, err
	}
	m.logger.Debug("intermediate merge",
		zap.Int("runs", len(runs)),
		zap.Int("pass", m.passes),
		zap.Int64("records", out.records),
		zap.Int64("bytes", out.size))
	return out, nil
}

// merge streams the union of runs into sink. With a single run it copies
// records straight through; otherwise it performs a heap-based k-way merge.
func (m *merger) merge(runs []*run, sink recordSink) error {
	readers := make([]runReader, len(runs))
	defer func() {
		for i, rd := range readers {
			if rd != nil {
				_ = rd.close()
				_ = m.store.release(runs[i].file.id)
			}
		}
	}()
	for i, r := range runs {
		rd, err := openRunReader(r)
		if err != nil {
			return err
		}
		readers[i] = rd
	}

	// exhausted closes reader i and deletes its file.
	exhausted := func(i int) error {
		err := readers[i].close()
		readers[i] = nil
		return errors.Join(err, m.store.release(runs[i].file.id))
	}

	if len(readers) == 1 {
		return m.copyRun(readers[0], sink, exhausted)
	}

	h := newRunHeap(len(readers))
	for i, rd := range readers {
		rec, err := rd.next()
		if err == io.EOF {
			if err := exhausted(i); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		h.push(i, rec)
	}

	counter := 0
	for h.len() > 0 {
		counter++
		if counter >= contextCheckInterval {
			counter = 0
			if err := m.ctx.Err(); err != nil {
				return err
			}
		}

		i := h.top()
		if err := sink.writeRecord(h.heads[i]); err != nil {
			return err
		}
		rec, err := readers[i].next()
		if err == io.EOF {
			h.popTop()
			if err := exhausted(i); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		h.replaceTop(rec)
	}
	return nil
}

// copyRun drains a single reader into sink.
func (m *merger) copyRun(rd runReader, sink recordSink, exhausted func(int) error) error {
	counter := 0
	for {
		rec, err := rd.next()
		if err == io.EOF {
			return exhausted(0)
		}
		if err != nil {
			return err
		}
		if err := sink.writeRecord(rec); err != nil {
			return err
		}
		counter++
		if counter >= contextCheckInterval {
			counter = 0
			if err := m.ctx.Err(); err != nil {
				return err
			}
		}
	}
}

// outputWriter is the final sink. Records are separated by newlines; the
// last record gets a trailing newline only if the input's last record had
// one, mirroring sort(1).
type outputWriter struct {
	bw        *bufio.Writer
	terminate bool // write a newline after the last record
	unique    bool
	last      []byte // previous record, kept only in unique mode
	started   bool
	records   int64
}

func newOutputWriter(w io.Writer, unique bool) *outputWriter {
	return &outputWriter{
		bw:     bufio.NewWriterSize(w, writeBufferSize),
		unique: unique,
	}
}

func (o *outputWriter) writeRecord(rec []byte) error {
	if o.unique {
		if o.started && bytes.Equal(rec, o.last) {
			return nil
		}
		o.last = append(o.last[:0], rec...)
	}
	if o.started {
		if err := o.bw.WriteByte('\n'); err != nil {
			return outputError(err)
		}
	}
	if _, err := o.bw.Write(rec); err != nil {
		return outputError(err)
	}
	o.started = true
	o.records++
	return nil
}

// finish terminates the last record if required and flushes.
func (o *outputWriter) finish() error {
	if o.started && o.terminate {
		if err := o.bw.WriteByte('\n'); err != nil {
			return outputError(err)
		}
	}
	if err := o.bw.Flush(); err != nil {
		return outputError(err)
	}
	return nil
}

func outputError(err error) error {
	return fmt.Errorf("%w: %w", streamerrors.ErrOutputWrite, err)
}
