package linesort

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	streamerrors "github.com/tamirms/linesort/errors"
)

// readBufferSize is the bufio size used for the input stream.
const readBufferSize = 1 << 20

// lineReader splits a stream on '\n'. The returned line excludes the newline
// and is only valid until the next call to readLine.
type lineReader struct {
	br   *bufio.Reader
	long []byte // assembly buffer for lines longer than the bufio buffer
}

func newLineReader(r io.Reader, size int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, size)}
}

// readLine returns the next line and whether it was newline-terminated.
// It returns io.EOF only when no bytes remain.
func (l *lineReader) readLine() ([]byte, bool, error) {
	line, err := l.br.ReadSlice('\n')
	if err == nil {
		return line[:len(line)-1], true, nil
	}
	if errors.Is(err, bufio.ErrBufferFull) {
		// Line spans buffer refills: assemble it in l.long.
		l.long = append(l.long[:0], line...)
		for {
			line, err = l.br.ReadSlice('\n')
			l.long = append(l.long, line...)
			if err == nil {
				return l.long[:len(l.long)-1], true, nil
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if err == io.EOF {
				return l.long, false, nil
			}
			return nil, false, err
		}
	}
	if err == io.EOF {
		if len(line) == 0 {
			return nil, false, io.EOF
		}
		return line, false, nil
	}
	return nil, false, err
}

// recordSource yields input records in arrival order.
type recordSource struct {
	lines        *lineReader
	records      int64
	bytes        int64
	unterminated bool // last record had no trailing newline
}

func newRecordSource(r io.Reader) *recordSource {
	return &recordSource{lines: newLineReader(r, readBufferSize)}
}

// next returns the next record, valid until the following call.
// Returns io.EOF after the last record.
func (s *recordSource) next() ([]byte, error) {
	rec, terminated, err := s.lines.readLine()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: after %d records: %w", streamerrors.ErrInputRead, s.records, err)
	}
	if !terminated {
		s.unterminated = true
	}
	s.records++
	s.bytes += int64(len(rec))
	return rec, nil
}
