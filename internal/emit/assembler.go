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

// Package emit writes a globally ordered stream of keyed records. Only the
// record bytes reach the output; keys are dropped.
package emit

import (
	"bufio"
	"fmt"
	"io"

	"github.com/cardinalhq/lakesort/internal/record"
)

// Sink receives records in final order.
type Sink interface {
	Emit(kr record.KeyedRecord) error
}

// dedup remembers the last record let through so equal keys can be
// suppressed. Records handed to seen may alias buffers that are reused,
// so the last one is copied.
type dedup struct {
	ord  *record.Ordering
	on   bool
	buf  []byte
	last record.KeyedRecord
	have bool
}

func (d *dedup) duplicate(kr record.KeyedRecord) bool {
	if !d.on {
		return false
	}
	if d.have && d.ord.KeyEqual(d.last, kr) {
		return true
	}
	d.remember(kr)
	return false
}

func (d *dedup) remember(kr record.KeyedRecord) {
	d.buf = append(d.buf[:0], kr.Data...)
	d.last = record.KeyedRecord{Data: d.buf, Offset: kr.Offset}
	d.have = true
}

// Assembler writes record bytes to an output stream.
type Assembler struct {
	w     *bufio.Writer
	dedup dedup

	first     []byte
	firstKR   record.KeyedRecord
	haveFirst bool

	emitted    int64
	duplicates int64
	bytes      int64
}

// NewAssembler writes to w. With unique set, a record whose key equals the
// previously emitted key is dropped.
func NewAssembler(w io.Writer, ord *record.Ordering, unique bool) *Assembler {
	return &Assembler{
		w:     bufio.NewWriterSize(w, 64*1024),
		dedup: dedup{ord: ord, on: unique},
	}
}

// Emit writes the record part of kr.
func (a *Assembler) Emit(kr record.KeyedRecord) error {
	if a.dedup.duplicate(kr) {
		a.duplicates++
		return nil
	}
	if a.dedup.on && !a.haveFirst {
		a.first = append(a.first[:0], kr.Data...)
		a.firstKR = record.KeyedRecord{Data: a.first, Offset: kr.Offset}
		a.haveFirst = true
	}
	n, err := a.w.Write(kr.Record())
	a.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	a.emitted++
	return nil
}

// Flush pushes buffered output to the underlying writer.
func (a *Assembler) Flush() error {
	if err := a.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// Emitted returns how many records were written.
func (a *Assembler) Emitted() int64 { return a.emitted }

// Duplicates returns how many records unique suppressed.
func (a *Assembler) Duplicates() int64 { return a.duplicates }

// Bytes returns how many record bytes were written.
func (a *Assembler) Bytes() int64 { return a.bytes }

// AppendTail copies the bytes of a finished tail into the output without
// decoding them. Only the tail's first record can duplicate what was
// emitted before it, so under unique that record alone may be skipped.
func (a *Assembler) AppendTail(t *Tail) error {
	if err := t.Flush(); err != nil {
		return err
	}
	if t.emitted == 0 {
		return nil
	}
	if _, err := t.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind tail: %w", err)
	}

	emitted := t.emitted
	bytes := t.bytes
	if a.dedup.on && a.dedup.have && a.dedup.ord.KeyEqual(a.dedup.last, t.firstKR) {
		skip := int64(len(t.firstKR.Record()))
		if _, err := io.CopyN(io.Discard, t.f, skip); err != nil {
			return fmt.Errorf("skip duplicate tail record: %w", err)
		}
		a.duplicates++
		emitted--
		bytes -= skip
	}

	n, err := io.Copy(a.w, t.f)
	if err != nil {
		return fmt.Errorf("append tail: %w", err)
	}
	if n != bytes {
		return fmt.Errorf("append tail: copied %d of %d bytes", n, bytes)
	}

	if a.dedup.on {
		if !a.haveFirst {
			a.first = append(a.first[:0], t.firstKR.Data...)
			a.firstKR = record.KeyedRecord{Data: a.first, Offset: t.firstKR.Offset}
			a.haveFirst = true
		}
		if t.dedup.have {
			a.dedup.remember(t.dedup.last)
		}
	}
	a.emitted += emitted
	a.duplicates += t.duplicates
	a.bytes += n
	return nil
}
