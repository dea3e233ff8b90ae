// Package gen produces deterministic newline-delimited test input: records
// of lowercase letters whose lengths follow a geometric distribution.
package gen

import (
	"encoding/binary"
	"io"
	randv2 "math/rand/v2"

	"github.com/spaolacci/murmur3"
)

const (
	// DefaultP is the success probability of the length distribution
	// (mean length about 1/P).
	DefaultP = 0.01

	// DefaultMinLen is the shortest record generated.
	DefaultMinLen = 2

	// DefaultSeed matches the reference data set.
	DefaultSeed = 42
)

// Config describes a data set.
type Config struct {
	TotalBytes int64   // sum of record lengths, newlines excluded
	P          float64 // geometric success probability, in (0, 1]
	MinLen     int
	Seed       uint32
}

// hashSource is a counter-mode rand.Source: the n-th value is the murmur3
// hash of n. Output depends only on seed and position, on every platform.
type hashSource struct {
	seed uint32
	ctr  uint64
	buf  [8]byte
}

func (s *hashSource) Uint64() uint64 {
	binary.LittleEndian.PutUint64(s.buf[:], s.ctr)
	s.ctr++
	return murmur3.Sum64WithSeed(s.buf[:], s.seed)
}

// Generator is an io.Reader over the generated records. It holds one record
// at a time, so arbitrarily large data sets stream in constant memory.
type Generator struct {
	cfg     Config
	rng     *randv2.Rand
	emitted int64 // record bytes generated so far
	pending []byte
	rec     []byte
	records int64
}

// New returns a generator for cfg. Zero P and MinLen take the defaults.
func New(cfg Config) *Generator {
	if cfg.P <= 0 || cfg.P > 1 {
		cfg.P = DefaultP
	}
	if cfg.MinLen <= 0 {
		cfg.MinLen = DefaultMinLen
	}
	return &Generator{
		cfg: cfg,
		rng: randv2.New(&hashSource{seed: cfg.Seed}),
	}
}

// geometric draws the number of failures before the first success.
func (g *Generator) geometric() int64 {
	var n int64
	for g.rng.Float64() >= g.cfg.P {
		n++
	}
	return n
}

// Next returns the next record without its newline, valid until the
// following call, or io.EOF once TotalBytes have been generated.
// The final record is clipped to the remaining size, but never below MinLen.
func (g *Generator) Next() ([]byte, error) {
	remaining := g.cfg.TotalBytes - g.emitted
	if remaining <= 0 {
		return nil, io.EOF
	}
	n := max(min(remaining, g.geometric()), int64(g.cfg.MinLen))
	g.rec = g.rec[:0]
	for range n {
		g.rec = append(g.rec, 'a'+byte(g.rng.IntN(26)))
	}
	g.emitted += n
	g.records++
	return g.rec, nil
}

// Read implements io.Reader. Every record is newline-terminated.
func (g *Generator) Read(p []byte) (int, error) {
	var n int
	for n < len(p) {
		if len(g.pending) == 0 {
			rec, err := g.Next()
			if err != nil {
				if n > 0 {
					return n, nil
				}
				return 0, err
			}
			g.pending = append(rec, '\n')
		}
		k := copy(p[n:], g.pending)
		g.pending = g.pending[k:]
		n += k
	}
	return n, nil
}

// Records returns the number of records generated so far.
func (g *Generator) Records() int64 {
	return g.records
}
