// Package multiset provides an order-independent digest of a record stream
// and a sortedness check, used to verify sort output against its input.
package multiset

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/zeebo/xxh3"
)

// Digest is the sum, modulo 2^128, of the xxHash3-128 of every record, plus
// the record count. Two streams holding the same multiset of records have
// equal digests regardless of order.
type Digest struct {
	Hi, Lo uint64
	Count  uint64
}

// Add folds one record into the digest.
func (d *Digest) Add(rec []byte) {
	h := xxh3.Hash128(rec)
	var carry uint64
	d.Lo, carry = bits.Add64(d.Lo, h.Lo, 0)
	d.Hi, _ = bits.Add64(d.Hi, h.Hi, carry)
	d.Count++
}

// Equal reports whether both digests describe the same multiset (with
// overwhelming probability).
func (d Digest) Equal(o Digest) bool {
	return d == o
}

func (d Digest) String() string {
	return fmt.Sprintf("%016x%016x/%d", d.Hi, d.Lo, d.Count)
}

// ErrUnsorted is returned by Scan when a record is smaller than its predecessor.
var ErrUnsorted = errors.New("multiset: records are not in ascending byte order")

// Result summarizes one scanned stream.
type Result struct {
	Digest         Digest
	Sorted         bool
	FirstUnordered int64 // 1-based record number of the first out-of-order record, 0 if sorted
	Unterminated   bool  // final record lacks a trailing newline
}

// Scan reads newline-delimited records from r, computing their digest and
// checking that they are non-decreasing.
func Scan(r io.Reader) (Result, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	res := Result{Sorted: true}
	var prev, cur []byte
	for {
		line, err := br.ReadBytes('\n')
		if len(line) == 0 && err == io.EOF {
			return res, nil
		}
		if err != nil && err != io.EOF {
			return res, err
		}
		cur = line
		if err == io.EOF {
			res.Unterminated = true
		} else {
			cur = line[:len(line)-1]
		}
		res.Digest.Add(cur)
		if res.Sorted && res.Digest.Count > 1 && bytes.Compare(prev, cur) > 0 {
			res.Sorted = false
			res.FirstUnordered = int64(res.Digest.Count)
		}
		prev = cur
		if err == io.EOF {
			return res, nil
		}
	}
}

// Err returns ErrUnsorted, annotated with the offending record number, when
// the stream was out of order.
func (r Result) Err() error {
	if r.Sorted {
		return nil
	}
	return fmt.Errorf("%w: record %d", ErrUnsorted, r.FirstUnordered)
}
