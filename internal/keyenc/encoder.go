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

// Package keyenc turns a record and a list of field specs into a binary key
// that orders correctly under plain byte comparison.
package keyenc

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/weights"
)

// ErrOutOfSpace is returned by Encode when the key does not fit in dst.
var ErrOutOfSpace = errors.New("key does not fit in destination buffer")

const fieldTerminator = 0x00

// Config describes how keys are built.
type Config struct {
	Fields []FieldSpec
	// Global options apply to the whole line when Fields is empty, and to
	// any field that carries no options of its own.
	Global      Flags
	FieldDelim  int
	RecordDelim byte
	// OnOverflow, if set, is called with the offending field whenever a
	// numeric field overflows.
	OnOverflow func(field []byte)
}

type keyField struct {
	spec  FieldSpec
	flags Flags
	table *weights.Table
}

// Encoder builds keys for one Config. It is not safe for concurrent use.
type Encoder struct {
	fields      []keyField
	raw         bool
	fieldDelim  int
	recordDelim byte
	onOverflow  func([]byte)
	overflows   int64
	scratch     []byte
}

// New validates cfg and returns an Encoder.
func New(cfg Config) (*Encoder, error) {
	if cfg.FieldDelim != NoFieldDelim && (cfg.FieldDelim < 0 || cfg.FieldDelim > 255) {
		return nil, fmt.Errorf("field delimiter %d out of byte range", cfg.FieldDelim)
	}
	if cfg.FieldDelim == int(cfg.RecordDelim) {
		return nil, fmt.Errorf("field delimiter equals record delimiter %q", cfg.RecordDelim)
	}
	e := &Encoder{
		fieldDelim:  cfg.FieldDelim,
		recordDelim: cfg.RecordDelim,
		onOverflow:  cfg.OnOverflow,
	}

	g := cfg.Global
	if len(cfg.Fields) == 0 {
		onlyCollation := !g.Numeric && !g.Dictionary && !g.IgnoreNonprinting &&
			!g.SkipBlanksStart && !g.SkipBlanksEnd
		if onlyCollation {
			e.raw = true
			return e, nil
		}
		cfg.Fields = []FieldSpec{{StartCol: 1}}
	}

	for i, fs := range cfg.Fields {
		if err := fs.Validate(); err != nil {
			return nil, fmt.Errorf("key %d: %w", i+1, err)
		}
		flags := fs.Flags
		if flags.IsZero() {
			flags = g
		}
		e.fields = append(e.fields, keyField{
			spec:  fs,
			flags: flags,
			table: weights.Build(false, flags.FoldCase, cfg.RecordDelim),
		})
	}
	return e, nil
}

// Raw reports whether records are compared whole, without an encoded key.
func (e *Encoder) Raw() bool { return e.raw }

// Overflows returns how many numeric fields have overflowed so far.
func (e *Encoder) Overflows() int64 { return e.overflows }

// sink writes into a fixed buffer and keeps counting once it is full, so the
// caller learns how much room the key needs.
type sink struct {
	buf []byte
	n   int
}

func (s *sink) put(b byte) {
	if s.n < len(s.buf) {
		s.buf[s.n] = b
	}
	s.n++
}

func (s *sink) complementFrom(mark int) {
	for i := mark; i < s.n && i < len(s.buf); i++ {
		s.buf[i] = ^s.buf[i]
	}
}

// Encode writes the key for rec into dst without growing it. It returns the
// key length. When dst is too small it returns ErrOutOfSpace and the length
// that would have been needed.
func (e *Encoder) Encode(dst, rec []byte) (int, error) {
	if e.raw {
		return 0, nil
	}
	line := rec
	if n := len(line); n > 0 && line[n-1] == e.recordDelim {
		line = line[:n-1]
	}

	out := sink{buf: dst}
	for i := range e.fields {
		f := &e.fields[i]
		start, end := locate(line, f.spec, e.fieldDelim)
		mark := out.n
		if f.flags.Numeric {
			e.encodeNumber(&out, line[start:end])
		} else {
			encodeText(&out, line[start:end], f)
		}
		out.put(fieldTerminator)
		if f.flags.Reverse {
			out.complementFrom(mark)
		}
	}
	out.put(fieldTerminator)

	if out.n > len(dst) {
		return out.n, ErrOutOfSpace
	}
	return out.n, nil
}

func (e *Encoder) encodeNumber(out *sink, field []byte) {
	var err error
	e.scratch, err = AppendNumber(e.scratch[:0], field, false)
	if err != nil {
		e.overflows++
		if e.onOverflow != nil {
			e.onOverflow(field)
		}
	}
	for _, b := range e.scratch {
		out.put(b)
	}
}

func encodeText(out *sink, field []byte, f *keyField) {
	for _, c := range field {
		if f.flags.Dictionary && !isDictionary(c) {
			continue
		}
		if f.flags.IgnoreNonprinting && !isPrintable(c) {
			continue
		}
		// Weights 0 and 1 are escaped so 0x00 stays free for terminators.
		switch w := f.table[c]; w {
		case 0:
			out.put(1)
			out.put(1)
		case 1:
			out.put(1)
			out.put(2)
		default:
			out.put(w)
		}
	}
}

func isDictionary(c byte) bool {
	return isBlank(c) || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isPrintable(c byte) bool { return c >= 0x20 && c < 0x7F }

// AppendKey appends the key for rec to dst, growing dst as needed.
func (e *Encoder) AppendKey(dst, rec []byte) []byte {
	for {
		n, err := e.Encode(dst[len(dst):cap(dst)], rec)
		if err == nil {
			return dst[:len(dst)+n]
		}
		dst = slices.Grow(dst, n)
	}
}

// Keyed builds a KeyedRecord for rec, appending key and record to arena.
// The returned record aliases the returned arena.
func (e *Encoder) Keyed(arena, rec []byte) ([]byte, record.KeyedRecord) {
	start := len(arena)
	arena = e.AppendKey(arena, rec)
	off := len(arena) - start
	arena = append(arena, rec...)
	return arena, record.KeyedRecord{Data: arena[start:len(arena):len(arena)], Offset: off}
}
