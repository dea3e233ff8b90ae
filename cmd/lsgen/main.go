// Lsgen writes deterministic random input for linesort: records of letters
// a-z whose lengths follow a geometric distribution.
//
// Usage:
//
//	go run ./cmd/lsgen -size 200M > input.txt
//
// Flags:
//
//	-size   Total record bytes, newlines excluded (default: 200000000)
//	-p      Geometric success probability; mean length is about 1/p (default: 0.01)
//	-min    Minimum record length (default: 2)
//	-seed   Generator seed (default: 42)
//	-o      Output file (default: stdout)
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tamirms/linesort/internal/config"
	"github.com/tamirms/linesort/internal/gen"
)

func main() {
	size := config.Size(200_000_000)
	flag.Var(&size, "size", "total record bytes (suffixes K, M, G)")
	pFlag := flag.Float64("p", gen.DefaultP, "geometric success probability")
	minFlag := flag.Int("min", gen.DefaultMinLen, "minimum record length")
	seedFlag := flag.Uint("seed", gen.DefaultSeed, "generator seed")
	outFlag := flag.String("o", "", "output file (default stdout)")
	flag.Parse()

	if *pFlag <= 0 || *pFlag > 1 {
		fmt.Fprintf(os.Stderr, "lsgen: -p must be in (0, 1], got %v\n", *pFlag)
		os.Exit(2)
	}

	out := os.Stdout
	if *outFlag != "" {
		f, err := os.Create(*outFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lsgen: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	g := gen.New(gen.Config{
		TotalBytes: int64(size),
		P:          *pFlag,
		MinLen:     *minFlag,
		Seed:       uint32(*seedFlag),
	})
	bw := bufio.NewWriterSize(out, 1<<20)
	if _, err := io.Copy(bw, g); err != nil {
		fmt.Fprintf(os.Stderr, "lsgen: %v\n", err)
		os.Exit(1)
	}
	if err := bw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "lsgen: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "lsgen: %d records, %s\n", g.Records(), size.String())
}
