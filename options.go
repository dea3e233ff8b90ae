package linesort

import (
	"fmt"
	"runtime"

	streamerrors "github.com/tamirms/linesort/errors"
	"go.uber.org/zap"
)

const (
	// DefaultChunkBudget is the default soft limit on accounted bytes per chunk.
	DefaultChunkBudget = 64 << 20

	// DefaultMergeFanIn is the default maximum number of runs merged at once.
	DefaultMergeFanIn = 128

	// minMergeFanIn is the smallest fan-in that still makes progress on a
	// cascade pass.
	minMergeFanIn = 2

	defaultQueueSlack = 1
)

// SortOption is a functional option for configuring a sort.
type SortOption func(*sortConfig)

type sortConfig struct {
	chunkBudget int64  // soft limit on accounted bytes per chunk
	workers     int    // sort/spill goroutines
	queueSlack  int    // extra chunk queue slots beyond workers
	tempDir     string // directory for run files, os.TempDir() if empty
	mergeFanIn  int    // max runs open at once during merge
	compress    bool   // S2-compress run files
	unique      bool   // emit each distinct record once
	logger      *zap.Logger
}

func defaultSortConfig() *sortConfig {
	return &sortConfig{
		chunkBudget: DefaultChunkBudget,
		workers:     runtime.GOMAXPROCS(0),
		queueSlack:  defaultQueueSlack,
		mergeFanIn:  DefaultMergeFanIn,
		logger:      zap.NewNop(),
	}
}

// validate rejects settings that cannot produce a working pipeline.
func (c *sortConfig) validate() error {
	switch {
	case c.chunkBudget <= 0:
		return fmt.Errorf("%w: chunk budget must be positive, got %d", streamerrors.ErrInvalidConfig, c.chunkBudget)
	case c.workers <= 0:
		return fmt.Errorf("%w: worker count must be positive, got %d", streamerrors.ErrInvalidConfig, c.workers)
	case c.queueSlack < 0:
		return fmt.Errorf("%w: queue slack must not be negative, got %d", streamerrors.ErrInvalidConfig, c.queueSlack)
	case c.mergeFanIn < minMergeFanIn:
		return fmt.Errorf("%w: merge fan-in must be at least %d, got %d", streamerrors.ErrInvalidConfig, minMergeFanIn, c.mergeFanIn)
	}
	return nil
}

// WithChunkBudget sets the soft limit, in bytes, on the memory accounted to a
// single chunk. Each record costs its length plus a fixed per-record overhead.
// A record larger than the budget is sorted alone in its own chunk.
func WithChunkBudget(bytes int64) SortOption {
	return func(c *sortConfig) {
		c.chunkBudget = bytes
	}
}

// WithWorkers sets the number of goroutines sorting and spilling chunks.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) SortOption {
	return func(c *sortConfig) {
		c.workers = n
	}
}

// WithQueueSlack sets how many sealed chunks may wait in the queue beyond one
// per worker. Peak chunk memory is roughly budget × (2×workers + slack + 1):
// one chunk being filled, a full queue and one chunk inside each worker.
func WithQueueSlack(n int) SortOption {
	return func(c *sortConfig) {
		c.queueSlack = n
	}
}

// TempDir sets the directory for run files.
// The directory must exist and be on a local filesystem. On Linux, run files
// are created with O_TMPFILE when the filesystem supports it, so they never
// appear in the directory listing.
func TempDir(dir string) SortOption {
	return func(c *sortConfig) {
		c.tempDir = dir
	}
}

// WithMergeFanIn caps the number of run files open at once during the merge.
// With more runs than this, intermediate merge passes are performed first.
func WithMergeFanIn(n int) SortOption {
	return func(c *sortConfig) {
		c.mergeFanIn = n
	}
}

// WithRunCompression stores run files S2-compressed. Trades CPU for temp
// space and disk bandwidth.
func WithRunCompression() SortOption {
	return func(c *sortConfig) {
		c.compress = true
	}
}

// WithUnique drops duplicate records from the output, like sort -u.
func WithUnique() SortOption {
	return func(c *sortConfig) {
		c.unique = true
	}
}

// WithLogger sets the logger for pipeline diagnostics. Nil keeps the no-op logger.
func WithLogger(l *zap.Logger) SortOption {
	return func(c *sortConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
