// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package recstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cardinalhq/lakesort/internal/bytebuf"
)

// RecordTooLongError reports a record longer than the reader's limit. The
// record has been skipped; reading may continue.
type RecordTooLongError struct {
	Source string
	Line   int64
	Length int64
	Limit  int
}

func (e *RecordTooLongError) Error() string {
	return fmt.Sprintf("%s:%d: record of %d bytes exceeds limit of %d bytes, dropped", e.Source, e.Line, e.Length, e.Limit)
}

// LineReader splits a byte stream into delimiter-terminated records. A final
// record without a delimiter gets one appended.
type LineReader struct {
	src   io.Reader
	name  string
	delim byte
	buf   *bytebuf.Buffer

	start, end int
	eof        bool
	readErr    error

	line   int64
	offset int64 // stream offset of buf[start]
	recOff int64
}

// NewLineReader reads records from r. The buffer starts at initial bytes and
// doubles up to maxRecord, the longest record accepted, delimiter included.
func NewLineReader(r io.Reader, name string, delim byte, initial, maxRecord int) *LineReader {
	if maxRecord <= 0 {
		maxRecord = 64 * 1024 * 1024
	}
	if initial <= 0 {
		initial = 64 * 1024
	}
	initial = min(initial, maxRecord)
	return &LineReader{
		src:   r,
		name:  name,
		delim: delim,
		buf:   bytebuf.New(initial, maxRecord),
	}
}

// Name returns the source name used in diagnostics.
func (lr *LineReader) Name() string { return lr.name }

// Line returns the 1-based number of the record last returned or dropped.
func (lr *LineReader) Line() int64 { return lr.line }

// Offset returns the stream offset of the record last returned.
func (lr *LineReader) Offset() int64 { return lr.recOff }

func (lr *LineReader) limit() int { return lr.buf.Ceiling() }

// ReadRecord returns the next record including its delimiter. The slice is
// valid until the next call. It returns io.EOF at the end of input and
// *RecordTooLongError for a record that was skipped.
func (lr *LineReader) ReadRecord() ([]byte, error) {
	for {
		b := lr.buf.Bytes()
		if i := bytes.IndexByte(b[lr.start:lr.end], lr.delim); i >= 0 {
			rec := b[lr.start : lr.start+i+1]
			lr.advance(i + 1)
			return rec, nil
		}

		if lr.eof {
			if lr.start == lr.end {
				if lr.readErr != nil {
					return nil, lr.readErr
				}
				return nil, io.EOF
			}
			// Unterminated last record: append the delimiter.
			n := lr.end - lr.start
			if lr.start > 0 {
				lr.compact()
			}
			if n+1 > lr.buf.Len() {
				if err := lr.buf.Ensure(n+1, n); err != nil {
					return nil, lr.dropTail(int64(n))
				}
			}
			b = lr.buf.Bytes()
			b[n] = lr.delim
			lr.end = n + 1
			rec := b[:n+1]
			lr.advance(n + 1)
			lr.offset-- // the delimiter was not part of the stream
			return rec, nil
		}

		if lr.start > 0 {
			lr.compact()
		}
		if lr.end == lr.buf.Len() {
			if err := lr.buf.Grow(lr.end); err != nil {
				if errors.Is(err, bytebuf.ErrCeiling) {
					return nil, lr.discardLong()
				}
				return nil, err
			}
		}
		lr.fill()
	}
}

func (lr *LineReader) advance(n int) {
	lr.line++
	lr.recOff = lr.offset
	lr.start += n
	lr.offset += int64(n)
}

func (lr *LineReader) compact() {
	b := lr.buf.Bytes()
	n := copy(b, b[lr.start:lr.end])
	lr.start, lr.end = 0, n
}

func (lr *LineReader) fill() {
	b := lr.buf.Bytes()
	n, err := lr.src.Read(b[lr.end:])
	lr.end += n
	if err != nil {
		lr.eof = true
		if !errors.Is(err, io.EOF) {
			lr.readErr = fmt.Errorf("read %s: %w", lr.name, err)
		}
	}
}

// discardLong drops bytes up to and including the next delimiter. The buffer
// is full of a single record's prefix when this is called.
func (lr *LineReader) discardLong() error {
	dropped := int64(lr.end - lr.start)
	lr.start, lr.end = 0, 0
	for !lr.eof {
		lr.fill()
		b := lr.buf.Bytes()
		if i := bytes.IndexByte(b[:lr.end], lr.delim); i >= 0 {
			dropped += int64(i + 1)
			lr.start = i + 1
			break
		}
		dropped += int64(lr.end)
		lr.end = 0
	}
	return lr.tooLong(dropped)
}

func (lr *LineReader) dropTail(n int64) error {
	lr.start, lr.end = 0, 0
	return lr.tooLong(n)
}

func (lr *LineReader) tooLong(n int64) error {
	lr.line++
	lr.offset += n
	return &RecordTooLongError{Source: lr.name, Line: lr.line, Length: n, Limit: lr.limit()}
}
