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

package linesort

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cardinalhq/lakesort/internal/keyenc"
	"github.com/cardinalhq/lakesort/internal/msort"
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/sortstats"
)

// Source is one named input stream.
type Source struct {
	Name   string
	Reader io.Reader
}

// counters are shared by every reader feeding one operation.
type counters struct {
	records   int64
	dropped   int64
	overflows int64
}

// recordReader turns the lines of one source into keyed records.
type recordReader struct {
	lr    *recstore.LineReader
	enc   *keyenc.Encoder
	arena []byte
	stats *sortstats.Collector
	count *counters
}

func (e *Engine) newRecordReader(src Source, count *counters, stats *sortstats.Collector) (*recordReader, error) {
	cfg := e.opts.keyConfig()
	cfg.OnOverflow = func(field []byte) {
		count.overflows++
		slog.Warn("Numeric field out of range, sorted as an extreme value",
			slog.String("source", src.Name),
			slog.String("field", string(field)))
	}
	enc, err := keyenc.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return &recordReader{
		lr:    recstore.NewLineReader(src.Reader, src.Name, e.opts.RecordDelim, e.opts.InitialBuffer, e.opts.MaxRecordSize),
		enc:   enc,
		stats: stats,
		count: count,
	}, nil
}

// Next returns the next keyed record, skipping records that are too long.
// The record is valid until the next call.
func (r *recordReader) Next() (record.KeyedRecord, error) {
	for {
		rec, err := r.lr.ReadRecord()
		if err != nil {
			var tl *recstore.RecordTooLongError
			if errors.As(err, &tl) {
				r.count.dropped++
				slog.Warn("Dropping oversized record", slog.String("source", tl.Source), slog.Int64("line", tl.Line), slog.Int64("bytes", tl.Length))
				continue
			}
			if errors.Is(err, io.EOF) {
				return record.KeyedRecord{}, io.EOF
			}
			return record.KeyedRecord{}, fmt.Errorf("read %s: %w", r.lr.Name(), err)
		}
		var kr record.KeyedRecord
		r.arena, kr = r.enc.Keyed(r.arena[:0], rec)
		r.count.records++
		if r.stats != nil {
			key := kr.Key()
			if r.enc.Raw() {
				key = kr.Record()
			}
			r.stats.Observe(key, kr.Record())
		}
		return kr, nil
	}
}

func (r *recordReader) Close() error { return nil }

// chainedSource reads the sources one after the other.
type chainedSource struct {
	engine  *Engine
	sources []Source
	next    int
	cur     *recordReader
	count   *counters
	stats   *sortstats.Collector
}

func (c *chainedSource) Next() (record.KeyedRecord, error) {
	for {
		if c.cur == nil {
			if c.next >= len(c.sources) {
				return record.KeyedRecord{}, io.EOF
			}
			r, err := c.engine.newRecordReader(c.sources[c.next], c.count, c.stats)
			if err != nil {
				return record.KeyedRecord{}, err
			}
			c.cur = r
			c.next++
		}
		kr, err := c.cur.Next()
		if errors.Is(err, io.EOF) {
			c.cur = nil
			continue
		}
		return kr, err
	}
}

// presortedInput is an already sorted source taking part in a merge.
type presortedInput struct {
	engine *Engine
	src    Source
	count  *counters
	stats  *sortstats.Collector
}

func (p presortedInput) Open() (msort.Iterator, error) {
	return p.engine.newRecordReader(p.src, p.count, p.stats)
}

func (p presortedInput) Discard() error { return nil }
