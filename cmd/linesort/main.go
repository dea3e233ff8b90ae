// Linesort sorts newline-delimited records from stdin to stdout in byte
// order, using bounded memory and temporary run files.
//
// Usage:
//
//	linesort [flags] < input > output
//
// Flags:
//
//	-S            Chunk memory budget, suffixes K, M, G (default: 64M)
//	-j            Sort workers, 0 for GOMAXPROCS (default: 0)
//	-T            Directory for temporary run files (default: $TMPDIR)
//	-fan-in       Maximum runs merged at once (default: 128)
//	-compress     Compress temporary run files
//	-u            Output only the first of equal records
//	-log-level    debug, info, warn or error (default: warn)
//
// Every flag also reads a LINESORT_* environment variable, e.g.
// LINESORT_CHUNK_BUDGET=1G. Flags win over the environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tamirms/linesort"
	streamerrors "github.com/tamirms/linesort/errors"
	"github.com/tamirms/linesort/internal/config"
	"github.com/tamirms/linesort/internal/logging"
	"go.uber.org/zap"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "linesort: %v\n", err)
		return exitUsage
	}

	fs := flag.NewFlagSet("linesort", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "linesort: unexpected argument %q (input is read from stdin)\n", fs.Arg(0))
		return exitUsage
	}

	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "linesort: %v\n", err)
		return exitUsage
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := append(cfg.SortOptions(), linesort.WithLogger(logger))
	stats, err := linesort.Sort(ctx, os.Stdin, os.Stdout, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linesort: %s: %v\n", phase(err), err)
		if errors.Is(err, streamerrors.ErrInvalidConfig) {
			return exitUsage
		}
		return exitFailure
	}

	logger.Info("sort complete",
		zap.Int64("records", stats.InputRecords),
		zap.Int64("bytes", stats.InputBytes),
		zap.Int64("output_records", stats.OutputRecords),
		zap.Int("chunks", stats.Chunks),
		zap.Int("runs", stats.Runs),
		zap.Int("merge_passes", stats.MergePasses),
		zap.Int("temp_files", stats.TempFiles),
		zap.Duration("duration", stats.Duration))
	return 0
}

// phase names the pipeline stage an error came from.
func phase(err error) string {
	switch {
	case errors.Is(err, streamerrors.ErrInvalidConfig):
		return "configuration"
	case errors.Is(err, streamerrors.ErrInputRead):
		return "reading input"
	case errors.Is(err, streamerrors.ErrOutputWrite):
		return "writing output"
	case errors.Is(err, streamerrors.ErrTempStorage):
		return "temporary storage"
	case errors.Is(err, streamerrors.ErrResourceExhausted):
		return "out of resources"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return "sort"
	}
}
