// Package config loads linesort command-line configuration: defaults from
// LINESORT_* environment variables, overridden by flags.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/tamirms/linesort"
	"github.com/tamirms/linesort/internal/logging"
)

// envPrefix is prepended to every variable name: LINESORT_CHUNK_BUDGET, ...
const envPrefix = "linesort"

// Config holds the sort settings exposed by the binaries.
type Config struct {
	ChunkBudget Size   `envconfig:"CHUNK_BUDGET" default:"64M"`
	Workers     int    `envconfig:"WORKERS" default:"0"` // 0 means GOMAXPROCS
	QueueSlack  int    `envconfig:"QUEUE_SLACK" default:"1"`
	TempDir     string `envconfig:"TEMP_DIR"`
	FanIn       int    `envconfig:"FAN_IN" default:"128"`
	Compress    bool   `envconfig:"COMPRESS" default:"false"`
	Unique      bool   `envconfig:"UNIQUE" default:"false"`

	// Embedded so its variables keep the plain LINESORT_ prefix.
	LogConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"warn"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		ChunkBudget: linesort.DefaultChunkBudget,
		QueueSlack:  1,
		FanIn:       linesort.DefaultMergeFanIn,
		LogConfig: LogConfig{
			Level: "warn",
		},
	}
}

// RegisterFlags binds the configuration to fs. Current values become the
// flag defaults, so call it after Load.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Var(&c.ChunkBudget, "S", "chunk memory budget (suffixes K, M, G)")
	fs.IntVar(&c.Workers, "j", c.Workers, "sort workers (0 = GOMAXPROCS)")
	fs.IntVar(&c.QueueSlack, "queue-slack", c.QueueSlack, "chunk queue slots beyond one per worker")
	fs.StringVar(&c.TempDir, "T", c.TempDir, "directory for temporary run files")
	fs.IntVar(&c.FanIn, "fan-in", c.FanIn, "maximum runs merged at once")
	fs.BoolVar(&c.Compress, "compress", c.Compress, "compress temporary run files")
	fs.BoolVar(&c.Unique, "u", c.Unique, "output only the first of equal records")
	fs.StringVar(&c.LogConfig.Level, "log-level", c.LogConfig.Level, "log level: debug, info, warn, error")
	fs.BoolVar(&c.LogConfig.Development, "log-dev", c.LogConfig.Development, "human-readable log output")
}

// LoggerConfig converts the logging section for internal/logging.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:       c.LogConfig.Level,
		Development: c.LogConfig.Development,
	}
}

// SortOptions translates the configuration into linesort options.
func (c *Config) SortOptions() []linesort.SortOption {
	opts := []linesort.SortOption{
		linesort.WithChunkBudget(int64(c.ChunkBudget)),
		linesort.WithQueueSlack(c.QueueSlack),
		linesort.WithMergeFanIn(c.FanIn),
	}
	if c.Workers > 0 {
		opts = append(opts, linesort.WithWorkers(c.Workers))
	}
	if c.TempDir != "" {
		opts = append(opts, linesort.TempDir(c.TempDir))
	}
	if c.Compress {
		opts = append(opts, linesort.WithRunCompression())
	}
	if c.Unique {
		opts = append(opts, linesort.WithUnique())
	}
	return opts
}

// Size is a byte count that parses suffixes K, M and G (powers of 1024).
// It implements envconfig.Decoder and flag.Value.
type Size int64

// ParseSize parses strings such as "512", "64K", "256M" or "2G".
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	shift := 0
	switch s[len(s)-1] {
	case 'k', 'K':
		shift = 10
	case 'm', 'M':
		shift = 20
	case 'g', 'G':
		shift = 30
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %d", n)
	}
	if n > (1<<63-1)>>shift {
		return 0, fmt.Errorf("size %s overflows", s)
	}
	return Size(n << shift), nil
}

// Decode implements envconfig.Decoder.
func (s *Size) Decode(value string) error {
	v, err := ParseSize(value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Set implements flag.Value.
func (s *Size) Set(value string) error {
	return s.Decode(value)
}

func (s Size) String() string {
	v := int64(s)
	switch {
	case v != 0 && v%(1<<30) == 0:
		return strconv.FormatInt(v>>30, 10) + "G"
	case v != 0 && v%(1<<20) == 0:
		return strconv.FormatInt(v>>20, 10) + "M"
	case v != 0 && v%(1<<10) == 0:
		return strconv.FormatInt(v>>10, 10) + "K"
	}
	return strconv.FormatInt(v, 10)
}
