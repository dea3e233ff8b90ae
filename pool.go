package linesort

import (
	"context"
	"fmt"
	"io"
	"slices"

	streamerrors "github.com/tamirms/linesort/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// spillPipeline runs the producer (source + chunk builder), a fixed pool of
// sort/spill workers and a run collector.
//
// Backpressure: chunkChan holds workers+queueSlack chunks, so the producer
// blocks once that many sealed chunks are waiting. Every blocking send
// also selects on the group context; the first error cancels it and
// unblocks everyone else.
type spillPipeline struct {
	cfg     *sortConfig
	store   *tempStore
	builder *chunkBuilder
	logger  *zap.Logger

	chunkChan chan *chunk
	runChan   chan *run
	chunks    int // sealed chunks, written by the producer only
}

func newSpillPipeline(cfg *sortConfig, store *tempStore, builder *chunkBuilder) *spillPipeline {
	return &spillPipeline{
		cfg:       cfg,
		store:     store,
		builder:   builder,
		logger:    cfg.logger,
		chunkChan: make(chan *chunk, cfg.workers+cfg.queueSlack),
		runChan:   make(chan *run, cfg.workers),
	}
}

// run spills first and every remaining chunk from the builder, returning the
// runs ordered by chunk sequence. On error the runs created so far stay in
// the store for teardown.
func (p *spillPipeline) run(ctx context.Context, first *chunk) ([]*run, error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.produce(gctx, first)
	})
	for range p.cfg.workers {
		g.Go(func() error {
			return p.runWorker(gctx)
		})
	}

	// The collector owns the run list. runChan is never full for long
	// because the collector only appends.
	var runs []*run
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range p.runChan {
			runs = append(runs, r)
		}
	}()

	err := g.Wait()
	close(p.runChan)
	<-collected
	if err != nil {
		return nil, err
	}

	slices.SortFunc(runs, func(a, b *run) int {
		return a.seq - b.seq
	})
	return runs, nil
}

// produce seals chunks and hands them to the workers. It closes chunkChan
// on every return path so workers never wait on a dead producer.
func (p *spillPipeline) produce(ctx context.Context, first *chunk) error {
	defer close(p.chunkChan)

	c := first
	for {
		p.chunks++
		p.logger.Debug("chunk sealed",
			zap.Int("seq", c.seq),
			zap.Int("records", c.len()),
			zap.Int64("accounted", c.accounted))

		select {
		case p.chunkChan <- c:
		case <-ctx.Done():
			return ctx.Err()
		}

		var err error
		c, err = p.builder.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// sortAndSpill turns one chunk into a run. A panic while spilling becomes
// an error so the caller's teardown still removes the run files.
func (p *spillPipeline) sortAndSpill(c *chunk) (r *run, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = fmt.Errorf("%w: spill chunk %d: %v", streamerrors.ErrTempStorage, c.seq, rec)
		}
	}()
	if err := c.sortSafely(); err != nil {
		return nil, err
	}
	return spillChunk(p.store, c, p.cfg.compress)
}

// runWorker sorts and spills chunks until chunkChan is closed.
func (p *spillPipeline) runWorker(ctx context.Context) error {
	for c := range p.chunkChan {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r, err := p.sortAndSpill(c)
		if err != nil {
			return err
		}
		p.logger.Debug("run spilled",
			zap.Int("seq", r.seq),
			zap.Int64("records", r.records),
			zap.Int64("bytes", r.size),
			zap.Int64("disk_bytes", r.diskSize))
		p.builder.putChunk(c)

		select {
		case p.runChan <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
