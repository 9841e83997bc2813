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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cardinalhq/lakesort/internal/record"
)

// Segment flag values.
const (
	segmentStored     = 0
	segmentCompressed = 1
)

// DefaultSegmentBytes bounds the raw payload of a sorted-run segment.
const DefaultSegmentBytes = 256 * 1024

// WriterOptions configure a RunWriter.
type WriterOptions struct {
	Codec Codec
	Kind  Kind
	Depth int
	// SegmentBytes closes a segment automatically once its raw payload
	// reaches this size. Zero leaves segment boundaries to the caller.
	SegmentBytes int
	Session      string
}

// RunWriter writes KeyedRecords to a run file as framed segments.
//
// A segment is: uvarint bin, uvarint record count, uvarint raw length,
// uvarint stored length, one flag byte, then the stored payload. The raw
// payload is a sequence of uvarint offset, uvarint length, data.
type RunWriter struct {
	w      *bufio.Writer
	closer io.Closer
	codec  segmentCodec
	opts   WriterOptions

	payload []byte
	count   int
	stored  []byte
	varint  [binary.MaxVarintLen64]byte

	records  int64
	written  int64
	segments int
	closed   bool
}

// NewRunWriter writes the run header to wc and returns a writer for it.
// Close closes wc.
func NewRunWriter(wc io.WriteCloser, opts WriterOptions) (*RunWriter, error) {
	codec, err := codecFor(opts.Codec)
	if err != nil {
		return nil, err
	}
	if opts.Codec == "" {
		opts.Codec = CodecNone
	}
	if opts.Kind == "" {
		opts.Kind = KindSorted
	}
	rw := &RunWriter{
		w:      bufio.NewWriterSize(wc, 64*1024),
		closer: wc,
		codec:  codec,
		opts:   opts,
	}

	hdr, err := marshalHeader(RunHeader{
		Version: runVersion,
		Codec:   opts.Codec,
		Kind:    opts.Kind,
		Depth:   opts.Depth,
		Created: time.Now().UnixMilli(),
		Session: opts.Session,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run header: %w", err)
	}
	if err := rw.writeBytes(runMagic[:]); err != nil {
		return nil, err
	}
	if err := rw.writeUvarint(uint64(len(hdr))); err != nil {
		return nil, err
	}
	if err := rw.writeBytes(hdr); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RunWriter) writeBytes(b []byte) error {
	n, err := rw.w.Write(b)
	rw.written += int64(n)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

func (rw *RunWriter) writeUvarint(v uint64) error {
	n := binary.PutUvarint(rw.varint[:], v)
	return rw.writeBytes(rw.varint[:n])
}

// Write appends kr to the open segment.
func (rw *RunWriter) Write(kr record.KeyedRecord) error {
	rw.payload = binary.AppendUvarint(rw.payload, uint64(kr.Offset))
	rw.payload = binary.AppendUvarint(rw.payload, uint64(len(kr.Data)))
	rw.payload = append(rw.payload, kr.Data...)
	rw.count++
	rw.records++
	if rw.opts.SegmentBytes > 0 && len(rw.payload) >= rw.opts.SegmentBytes {
		return rw.EndSegment(0)
	}
	return nil
}

// EndSegment frames the records written since the last segment under bin.
// An empty segment is not written.
func (rw *RunWriter) EndSegment(bin int) error {
	if rw.count == 0 {
		return nil
	}
	body := rw.payload
	flag := byte(segmentStored)
	if rw.codec != nil {
		out, ok, err := rw.codec.Compress(rw.stored, rw.payload)
		if err != nil {
			return err
		}
		rw.stored = out
		if ok {
			body = out
			flag = segmentCompressed
		}
	}

	for _, v := range []uint64{uint64(bin), uint64(rw.count), uint64(len(rw.payload)), uint64(len(body))} {
		if err := rw.writeUvarint(v); err != nil {
			return err
		}
	}
	if err := rw.writeBytes([]byte{flag}); err != nil {
		return err
	}
	if err := rw.writeBytes(body); err != nil {
		return err
	}

	rw.payload = rw.payload[:0]
	rw.count = 0
	rw.segments++
	return nil
}

// Pending returns the raw payload bytes of the open segment.
func (rw *RunWriter) Pending() int { return len(rw.payload) }

// Records returns how many records have been written.
func (rw *RunWriter) Records() int64 { return rw.records }

// BytesWritten returns the number of bytes handed to the file so far.
func (rw *RunWriter) BytesWritten() int64 { return rw.written }

// Segments returns how many segments have been framed.
func (rw *RunWriter) Segments() int { return rw.segments }

// Close frames any open segment under bin 0, flushes and closes the file.
func (rw *RunWriter) Close() error {
	if rw.closed {
		return nil
	}
	rw.closed = true
	err := rw.EndSegment(0)
	if err == nil {
		err = rw.w.Flush()
	}
	if cerr := rw.closer.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close run: %w", cerr)
	}
	return err
}
