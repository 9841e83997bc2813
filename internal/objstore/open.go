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

package objstore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Input is an opened staged input. Gzip content is decompressed
// transparently, detected by its magic bytes.
type Input struct {
	io.Reader
	closers []io.Closer
}

func (in *Input) Close() error {
	var first error
	for _, c := range in.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens s for reading. stdin is used for stdio locations.
func Open(s Staged, stdin io.Reader) (*Input, error) {
	var raw io.Reader
	var closers []io.Closer
	if s.Location.Scheme == SchemeStdio {
		raw = stdin
	} else {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		raw = f
		closers = append(closers, f)
	}

	br := bufio.NewReaderSize(raw, 64*1024)
	head, err := br.Peek(len(gzipMagic))
	if err != nil || !bytes.Equal(head, gzipMagic) {
		// Short or empty inputs are plain text.
		return &Input{Reader: br, closers: closers}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, fmt.Errorf("failed to create gzip reader for %s: %w", s.Location, err)
	}
	return &Input{Reader: zr, closers: append([]io.Closer{zr}, closers...)}, nil
}

// LazyInput opens a staged input on first read and closes it once the input
// is exhausted, so inputs read one after another hold one descriptor at a
// time.
type LazyInput struct {
	staged Staged
	stdin  io.Reader
	in     *Input
	done   bool
}

// OpenLazy returns a reader for s that opens nothing until read.
func OpenLazy(s Staged, stdin io.Reader) *LazyInput {
	return &LazyInput{staged: s, stdin: stdin}
}

// Opened reports whether the input is currently open.
func (l *LazyInput) Opened() bool { return l.in != nil }

func (l *LazyInput) Read(p []byte) (int, error) {
	if l.done {
		return 0, io.EOF
	}
	if l.in == nil {
		in, err := Open(l.staged, l.stdin)
		if err != nil {
			return 0, err
		}
		l.in = in
	}
	n, err := l.in.Read(p)
	if err == io.EOF {
		l.done = true
		if cerr := l.release(); cerr != nil {
			return n, cerr
		}
	}
	return n, err
}

// Close releases the input if it is open. Reads after Close return io.EOF.
func (l *LazyInput) Close() error {
	l.done = true
	return l.release()
}

func (l *LazyInput) release() error {
	if l.in == nil {
		return nil
	}
	err := l.in.Close()
	l.in = nil
	return err
}
