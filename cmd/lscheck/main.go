// Lscheck verifies linesort output: the output must be in ascending byte
// order and hold exactly the records of the input, duplicates included.
//
// Usage:
//
//	lscheck -in input.txt -out sorted.txt
//
// With -unique, the output must instead hold each distinct input record
// once; only ordering and strictness are checked in that mode.
//
// Exit status is 0 when the output checks out, 1 otherwise.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tamirms/linesort/internal/multiset"
)

func main() {
	inFlag := flag.String("in", "", "unsorted input file")
	outFlag := flag.String("out", "", "sorted output file")
	uniqueFlag := flag.Bool("unique", false, "output was produced with -u")
	flag.Parse()

	if *outFlag == "" || (*inFlag == "" && !*uniqueFlag) {
		flag.Usage()
		os.Exit(2)
	}

	if err := check(*inFlag, *outFlag, *uniqueFlag); err != nil {
		fmt.Fprintf(os.Stderr, "lscheck: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func check(inPath, outPath string, unique bool) error {
	out, err := scanFile(outPath)
	if err != nil {
		return err
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("%s: %w", outPath, err)
	}
	if unique {
		return checkStrict(outPath)
	}

	in, err := scanFile(inPath)
	if err != nil {
		return err
	}
	if !in.Digest.Equal(out.Digest) {
		return fmt.Errorf("record multiset differs: input %v, output %v", in.Digest, out.Digest)
	}
	if in.Unterminated != out.Unterminated {
		return fmt.Errorf("trailing newline mismatch: input unterminated=%v, output unterminated=%v",
			in.Unterminated, out.Unterminated)
	}
	fmt.Printf("%d records, digest %v\n", out.Digest.Count, out.Digest)
	return nil
}

func scanFile(path string) (multiset.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return multiset.Result{}, err
	}
	defer f.Close()
	res, err := multiset.Scan(f)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// checkStrict reports the first pair of equal adjacent records.
func checkStrict(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	var prev []byte
	for n := int64(1); ; n++ {
		line, err := br.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}
		line = bytes.TrimSuffix(line, []byte{'\n'})
		if n > 1 && bytes.Equal(prev, line) {
			return fmt.Errorf("%s: record %d duplicates its predecessor", path, n)
		}
		prev = line
		if err == io.EOF {
			return nil
		}
	}
}
