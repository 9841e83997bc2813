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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cardinalhq/lakesort/internal/bytebuf"
	"github.com/cardinalhq/lakesort/internal/record"
)

// AllBins disables bin filtering in RunReader.Next.
const AllBins = -1

const maxHeaderBytes = 64 * 1024

// ReaderOptions bound the buffers a RunReader may allocate.
type ReaderOptions struct {
	InitialBuffer int
	MaxBuffer     int
}

// SegmentInfo describes a segment header.
type SegmentInfo struct {
	Bin        int
	Count      int
	RawLen     int
	StoredLen  int
	Compressed bool
}

// RunReader reads a run file written by RunWriter. Records returned by Next
// alias the reader's buffers and stay valid until the next segment is loaded.
type RunReader struct {
	src       io.ReadSeeker
	closer    io.Closer
	in        offsetReader
	dataStart int64

	hdr   RunHeader
	codec segmentCodec

	stored *bytebuf.Buffer
	raw    *bytebuf.Buffer

	seg        SegmentInfo
	haveHeader bool // seg describes a header whose body is still unread
	payload    []byte
	pos        int
	left       int

	filter int
}

// OpenRun reads and checks the run header of f. Close closes f.
func OpenRun(f io.ReadSeekCloser, opts ReaderOptions) (*RunReader, error) {
	if opts.InitialBuffer <= 0 {
		opts.InitialBuffer = 64 * 1024
	}
	if opts.MaxBuffer < opts.InitialBuffer {
		opts.MaxBuffer = max(opts.InitialBuffer, 64*1024*1024)
	}
	r := &RunReader{
		src:    f,
		closer: f,
		in:     offsetReader{br: bufio.NewReaderSize(f, 64*1024)},
		stored: bytebuf.New(opts.InitialBuffer, opts.MaxBuffer),
		raw:    bytebuf.New(opts.InitialBuffer, opts.MaxBuffer),
		filter: AllBins,
	}

	var magic [4]byte
	if err := r.readFull(magic[:]); err != nil {
		return nil, fmt.Errorf("read run magic: %w", err)
	}
	if magic != runMagic {
		return nil, fmt.Errorf("bad run magic %q: %w", magic[:], ErrCorruptRun)
	}
	n, err := r.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("read run header length: %w", err)
	}
	if n > maxHeaderBytes {
		return nil, fmt.Errorf("run header of %d bytes: %w", n, ErrCorruptRun)
	}
	hb := make([]byte, n)
	if err := r.readFull(hb); err != nil {
		return nil, fmt.Errorf("read run header: %w", err)
	}
	if r.hdr, err = unmarshalHeader(hb); err != nil {
		return nil, err
	}
	if r.codec, err = codecFor(r.hdr.Codec); err != nil {
		return nil, errors.Join(ErrCorruptRun, err)
	}
	r.dataStart = r.in.off
	return r, nil
}

// Header returns the run header.
func (r *RunReader) Header() RunHeader { return r.hdr }

// offsetReader tracks the file offset of the next byte the buffered reader
// will return, so segments can be skipped with a seek.
type offsetReader struct {
	br  *bufio.Reader
	off int64
}

func (o *offsetReader) ReadByte() (byte, error) {
	b, err := o.br.ReadByte()
	if err == nil {
		o.off++
	}
	return b, err
}

func (r *RunReader) readFull(b []byte) error {
	n, err := io.ReadFull(r.in.br, b)
	r.in.off += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("truncated run: %w", ErrCorruptRun)
	}
	return err
}

func (r *RunReader) readUvarint() (uint64, error) {
	return binary.ReadUvarint(&r.in)
}

// skip moves past n unread bytes, seeking when they are not buffered.
func (r *RunReader) skip(n int64) error {
	if n <= int64(r.in.br.Buffered()) {
		d, err := r.in.br.Discard(int(n))
		r.in.off += int64(d)
		return err
	}
	if _, err := r.src.Seek(r.in.off+n, io.SeekStart); err != nil {
		return fmt.Errorf("seek run: %w", err)
	}
	r.in.br.Reset(r.src)
	r.in.off += n
	return nil
}

// Rewind repositions the reader at the first segment.
func (r *RunReader) Rewind() error {
	if _, err := r.src.Seek(r.dataStart, io.SeekStart); err != nil {
		return fmt.Errorf("seek run: %w", err)
	}
	r.in.br.Reset(r.src)
	r.in.off = r.dataStart
	r.haveHeader = false
	r.left = 0
	return nil
}

// SetFilter makes Next return only records of segments tagged bin.
func (r *RunReader) SetFilter(bin int) { r.filter = bin }

// NextSegment reads the next segment header, skipping the body of the
// current one if it was never loaded. It returns io.EOF after the last one.
func (r *RunReader) NextSegment() (SegmentInfo, error) {
	if r.haveHeader {
		if err := r.SkipSegment(); err != nil {
			return SegmentInfo{}, err
		}
	}
	r.left = 0

	var vals [4]uint64
	for i := range vals {
		v, err := r.readUvarint()
		if err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return SegmentInfo{}, io.EOF
			}
			return SegmentInfo{}, fmt.Errorf("read segment header: %w", errors.Join(ErrCorruptRun, err))
		}
		vals[i] = v
	}
	flag, err := r.in.ReadByte()
	if err != nil {
		return SegmentInfo{}, fmt.Errorf("read segment flag: %w", errors.Join(ErrCorruptRun, err))
	}
	r.seg = SegmentInfo{
		Bin:        int(vals[0]),
		Count:      int(vals[1]),
		RawLen:     int(vals[2]),
		StoredLen:  int(vals[3]),
		Compressed: flag == segmentCompressed,
	}
	r.haveHeader = true
	return r.seg, nil
}

// SkipSegment moves past the body of the current segment without reading it.
func (r *RunReader) SkipSegment() error {
	if !r.haveHeader {
		return nil
	}
	r.haveHeader = false
	return r.skip(int64(r.seg.StoredLen))
}

// LoadSegment reads and decodes the body of the current segment. Buffers
// double until the segment fits; past the ceiling it fails.
func (r *RunReader) LoadSegment() error {
	if !r.haveHeader {
		return errors.New("no segment header to load")
	}
	r.haveHeader = false
	seg := r.seg

	if err := r.fit(r.stored, seg.StoredLen); err != nil {
		return err
	}
	body := r.stored.Bytes()[:seg.StoredLen]
	if err := r.readFull(body); err != nil {
		return fmt.Errorf("read segment body: %w", err)
	}

	if seg.Compressed {
		if r.codec == nil {
			return fmt.Errorf("compressed segment in %s run: %w", r.hdr.Codec, ErrCorruptRun)
		}
		if err := r.fit(r.raw, seg.RawLen); err != nil {
			return err
		}
		out, err := r.codec.Decompress(r.raw.Bytes(), body, seg.RawLen)
		if err != nil {
			return err
		}
		r.payload = out
	} else {
		if seg.StoredLen != seg.RawLen {
			return fmt.Errorf("stored segment length mismatch: %w", ErrCorruptRun)
		}
		r.payload = body
	}
	r.pos = 0
	r.left = seg.Count
	return nil
}

func (r *RunReader) fit(buf *bytebuf.Buffer, n int) error {
	if n <= buf.Len() {
		return nil
	}
	before := buf.Len()
	if err := buf.Ensure(n, 0); err != nil {
		return fmt.Errorf("segment of %d bytes: %w", n, errors.Join(ErrBufferCeiling, err))
	}
	slog.Debug("Grew run read buffer", slog.Int("from", before), slog.Int("to", buf.Len()))
	return nil
}

// Next returns the next record that passes the bin filter, loading and
// skipping segments as needed. It returns io.EOF at the end of the run.
func (r *RunReader) Next() (record.KeyedRecord, error) {
	for r.left == 0 {
		seg, err := r.NextSegment()
		if err != nil {
			return record.KeyedRecord{}, err
		}
		if r.filter != AllBins && seg.Bin != r.filter {
			if err := r.SkipSegment(); err != nil {
				return record.KeyedRecord{}, err
			}
			continue
		}
		if err := r.LoadSegment(); err != nil {
			return record.KeyedRecord{}, err
		}
	}

	off, n := binary.Uvarint(r.payload[r.pos:])
	if n <= 0 {
		return record.KeyedRecord{}, fmt.Errorf("record offset: %w", ErrCorruptRun)
	}
	r.pos += n
	size, n := binary.Uvarint(r.payload[r.pos:])
	if n <= 0 {
		return record.KeyedRecord{}, fmt.Errorf("record length: %w", ErrCorruptRun)
	}
	r.pos += n
	if size > uint64(len(r.payload)-r.pos) || off > size {
		return record.KeyedRecord{}, fmt.Errorf("record bounds: %w", ErrCorruptRun)
	}
	end := r.pos + int(size)
	kr := record.KeyedRecord{Data: r.payload[r.pos:end:end], Offset: int(off)}
	r.pos = end
	r.left--
	return kr, nil
}

// Close closes the underlying file.
func (r *RunReader) Close() error {
	return r.closer.Close()
}
