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

// Package fsort sorts a stream of keyed records that may not fit in memory.
//
// A batch that holds the whole source is radix sorted in memory. Otherwise
// every batch is partitioned by the sort string byte at the current depth
// and spilled as framed segments, one per bin, and each bin is sorted
// recursively one byte deeper. Past the panic depth partitioning stops:
// batches are sorted, spilled as runs and merged.
package fsort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cardinalhq/lakesort/internal/emit"
	"github.com/cardinalhq/lakesort/internal/msort"
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
)

const (
	DefaultBatchRecords = 1 << 20
	DefaultBatchBytes   = 64 << 20
	DefaultPanicDepth   = 4
)

// Source yields keyed records. A record may alias internal buffers and is
// only valid until the next call to Next. Next returns io.EOF at the end.
type Source interface {
	Next() (record.KeyedRecord, error)
}

// Options configure a Sorter.
type Options struct {
	Ordering *record.Ordering
	Unique   bool

	// BatchRecords and BatchBytes bound one in-memory batch.
	BatchRecords int
	BatchBytes   int
	// MaxRecordBytes is the largest keyed record accepted. Larger ones are
	// dropped and reported through OnDrop.
	MaxRecordBytes int
	PanicDepth     int
	FanIn          int

	Store        *tmpstore.Store
	Codec        recstore.Codec
	SegmentBytes int
	Reader       recstore.ReaderOptions
	Session      string

	OnDrop func(kr record.KeyedRecord)
}

// Stats describe the work a sort did.
type Stats struct {
	Partitions   int64
	RunsWritten  int64
	BytesSpilled int64
	MergeRounds  int64
	PanicMerges  int64
	MaxDepth     int
	Dropped      int64
	// Duplicates dropped while writing sorted runs and merge runs.
	Duplicates int64
}

// Sorter runs the partitioning state machine. It is not safe for
// concurrent use; one Sorter may run several sorts one after another.
type Sorter struct {
	opts  Options
	stats Stats

	// One batch is live at a time: a level has finished loading before it
	// recurses, so every level shares these buffers.
	arena   []byte
	batch   []record.KeyedRecord
	scratch []record.KeyedRecord

	carry     []byte
	carryOff  int
	haveCarry bool
	loaded    int64
}

// New checks opts and fills in defaults.
func New(opts Options) (*Sorter, error) {
	if opts.Ordering == nil {
		return nil, errors.New("fsort: ordering is required")
	}
	if opts.Store == nil {
		return nil, errors.New("fsort: temp store is required")
	}
	if opts.BatchRecords <= 0 {
		opts.BatchRecords = DefaultBatchRecords
	}
	if opts.BatchBytes <= 0 {
		opts.BatchBytes = DefaultBatchBytes
	}
	if opts.MaxRecordBytes <= 0 || opts.MaxRecordBytes > opts.BatchBytes {
		opts.MaxRecordBytes = opts.BatchBytes
	}
	if opts.PanicDepth <= 0 {
		opts.PanicDepth = DefaultPanicDepth
	}
	if opts.FanIn <= 0 {
		opts.FanIn = msort.DefaultFanIn
	}
	if opts.SegmentBytes <= 0 {
		opts.SegmentBytes = recstore.DefaultSegmentBytes
	}
	// A segment may hold SegmentBytes plus one record and its framing.
	opts.Reader.MaxBuffer = max(opts.Reader.MaxBuffer, 2*(opts.SegmentBytes+opts.MaxRecordBytes))
	return &Sorter{opts: opts}, nil
}

// Stats returns the counters accumulated so far.
func (s *Sorter) Stats() Stats { return s.stats }

// Sort reads src to the end and emits its records in order to out. out is
// not flushed.
func (s *Sorter) Sort(ctx context.Context, src Source, out *emit.Assembler) error {
	s.haveCarry = false
	return s.sort(ctx, src, 0, out)
}

// sort is LOAD_BATCH: it loads the first batch and picks the next state.
func (s *Sorter) sort(ctx context.Context, src Source, depth int, out *emit.Assembler) error {
	s.stats.MaxDepth = max(s.stats.MaxDepth, depth)
	if depth >= s.opts.PanicDepth {
		return s.panicMerge(ctx, src, depth, out)
	}

	batch, more, err := s.load(ctx, src)
	if err != nil {
		return err
	}
	if !more {
		return s.sortInMemory(batch, depth, out)
	}
	return s.spillAndPartition(ctx, src, batch, depth, out)
}

// load fills the shared batch from src. more reports whether src still has
// records; the first of them is held back as the carry.
func (s *Sorter) load(ctx context.Context, src Source) (batch []record.KeyedRecord, more bool, err error) {
	s.arena = s.arena[:0]
	s.batch = s.batch[:0]
	if s.haveCarry {
		s.add(record.KeyedRecord{Data: s.carry, Offset: s.carryOff})
		s.haveCarry = false
	}
	for {
		s.loaded++
		if s.loaded%4096 == 0 && ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		kr, err := src.Next()
		if errors.Is(err, io.EOF) {
			return s.batch, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if kr.Size() > s.opts.MaxRecordBytes {
			s.stats.Dropped++
			if s.opts.OnDrop != nil {
				s.opts.OnDrop(kr)
			}
			continue
		}
		if len(s.batch) >= s.opts.BatchRecords || len(s.arena)+kr.Size() > s.opts.BatchBytes {
			s.carry = append(s.carry[:0], kr.Data...)
			s.carryOff = kr.Offset
			s.haveCarry = true
			return s.batch, true, nil
		}
		s.add(kr)
	}
}

func (s *Sorter) add(kr record.KeyedRecord) {
	start := len(s.arena)
	s.arena = append(s.arena, kr.Data...)
	s.batch = append(s.batch, record.KeyedRecord{Data: s.arena[start:len(s.arena):len(s.arena)], Offset: kr.Offset})
}

func (s *Sorter) sortBatch(batch []record.KeyedRecord, depth int) {
	if cap(s.scratch) < len(batch) {
		s.scratch = make([]record.KeyedRecord, len(batch))
	}
	radixSort(s.opts.Ordering, batch, s.scratch[:len(batch)], depth)
}

// sortInMemory is SORT_IN_MEMORY.
func (s *Sorter) sortInMemory(batch []record.KeyedRecord, depth int, out *emit.Assembler) error {
	s.sortBatch(batch, depth)
	return emitBatch(batch, out)
}

func emitBatch(batch []record.KeyedRecord, out emit.Sink) error {
	for _, kr := range batch {
		if err := out.Emit(kr); err != nil {
			return err
		}
	}
	return nil
}

// partition is the on-disk result of SPILL_AND_PARTITION at one depth.
type partition struct {
	path   string
	counts [binCount]int64
	sizes  [binCount]int64
}

// largest returns the byte bin holding the most data, or -1 when only the
// ended bin has records.
func (p *partition) largest() int {
	best := -1
	for b := 1; b < binCount; b++ {
		if p.counts[b] > 0 && (best < 0 || p.sizes[b] > p.sizes[best]) {
			best = b
		}
	}
	return best
}

// spillAndPartition is SPILL_AND_PARTITION.
func (s *Sorter) spillAndPartition(ctx context.Context, src Source, batch []record.KeyedRecord, depth int, out *emit.Assembler) error {
	p, err := s.writePartition(ctx, src, batch, depth)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.opts.Store.Remove(p.path); err != nil {
			slog.Warn("Failed to remove partition run", slog.String("path", p.path), slog.Any("error", err))
		}
	}()

	f, err := s.opts.Store.Open(p.path)
	if err != nil {
		return fmt.Errorf("reopen partition run: %w", err)
	}
	r, err := recstore.OpenRun(f, s.opts.Reader)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("open partition run: %w", err)
	}
	defer func() { _ = r.Close() }()

	largest := p.largest()
	slog.Debug("Partitioned",
		slog.Int("depth", depth),
		slog.Int64("endedRecords", p.counts[0]),
		slog.Int("largestBin", largest-1),
		slog.Int64("largestBytes", p.sizes[max(largest, 0)]))

	// Records whose sort string ended at this depth are equal to each other
	// and sort before every bin.
	if p.counts[0] > 0 {
		if err := s.copyBin(r, 0, out); err != nil {
			return err
		}
	}
	if largest < 0 {
		return nil
	}

	for b := 1; b < largest; b++ {
		if err := s.sortBin(ctx, r, p, b, depth, out); err != nil {
			return err
		}
	}

	// Bins after the largest one are parked in a tail so that the largest
	// bin is sorted straight into out.
	var tail *emit.Tail
	for b := largest + 1; b < binCount; b++ {
		if p.counts[b] == 0 {
			continue
		}
		if tail == nil {
			tf, err := s.opts.Store.Create("tail")
			if err != nil {
				return fmt.Errorf("create tail: %w", err)
			}
			tail = emit.NewTail(tf, s.opts.Ordering, s.opts.Unique)
			defer func() {
				_ = tail.Close()
				_ = s.opts.Store.Remove(tf.Name())
			}()
		}
		if err := s.sortBin(ctx, r, p, b, depth, tail.Assembler); err != nil {
			return err
		}
	}

	if err := s.sortBin(ctx, r, p, largest, depth, out); err != nil {
		return err
	}
	if tail != nil {
		return out.AppendTail(tail)
	}
	return nil
}

// writePartition spills batch and the rest of src into one partition run.
func (s *Sorter) writePartition(ctx context.Context, src Source, batch []record.KeyedRecord, depth int) (*partition, error) {
	f, err := s.opts.Store.Create("part")
	if err != nil {
		return nil, fmt.Errorf("create partition run: %w", err)
	}
	p := &partition{path: f.Name()}
	w, err := recstore.NewRunWriter(f, recstore.WriterOptions{
		Codec:   s.opts.Codec,
		Kind:    recstore.KindPartition,
		Depth:   depth,
		Session: s.opts.Session,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	more := true
	for {
		if err := s.writeBatch(w, p, batch, depth); err != nil {
			_ = w.Close()
			return nil, err
		}
		if !more {
			break
		}
		if batch, more, err = s.load(ctx, src); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	s.stats.Partitions++
	s.stats.RunsWritten++
	s.stats.BytesSpilled += w.BytesWritten()
	return p, nil
}

// writeBatch distributes batch into bins and writes one or more segments
// per non-empty bin.
func (s *Sorter) writeBatch(w *recstore.RunWriter, p *partition, batch []record.KeyedRecord, depth int) error {
	if len(batch) == 0 {
		return nil
	}
	ord := s.opts.Ordering
	var counts [binCount]int
	for _, kr := range batch {
		counts[binOf(ord, kr, depth)]++
	}
	if cap(s.scratch) < len(batch) {
		s.scratch = make([]record.KeyedRecord, len(batch))
	}
	distribute(ord, batch, s.scratch[:len(batch)], &counts, depth)

	lo := 0
	for b, n := range counts {
		for _, kr := range batch[lo : lo+n] {
			if err := w.Write(kr); err != nil {
				return err
			}
			p.sizes[b] += int64(kr.Size())
			if w.Pending() >= s.opts.SegmentBytes {
				if err := w.EndSegment(b); err != nil {
					return err
				}
			}
		}
		if err := w.EndSegment(b); err != nil {
			return err
		}
		p.counts[b] += int64(n)
		lo += n
	}
	return nil
}

// copyBin emits the records of bin in file order.
func (s *Sorter) copyBin(r *recstore.RunReader, bin int, out *emit.Assembler) error {
	if err := r.Rewind(); err != nil {
		return err
	}
	r.SetFilter(bin)
	for {
		kr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := out.Emit(kr); err != nil {
			return err
		}
	}
}

// sortBin recurses into one bin. Empty bins are skipped.
func (s *Sorter) sortBin(ctx context.Context, r *recstore.RunReader, p *partition, bin, depth int, out *emit.Assembler) error {
	if p.counts[bin] == 0 {
		return nil
	}
	if err := r.Rewind(); err != nil {
		return err
	}
	r.SetFilter(bin)
	return s.sort(ctx, r, depth+1, out)
}

// panicMerge is PANIC_MERGE: batches are sorted and spilled as runs, then
// merged. The last batch stays in memory.
func (s *Sorter) panicMerge(ctx context.Context, src Source, depth int, out *emit.Assembler) error {
	s.stats.PanicMerges++
	var inputs []msort.Input
	for {
		batch, more, err := s.load(ctx, src)
		if err != nil {
			return err
		}
		s.sortBatch(batch, depth)
		if !more {
			if len(inputs) == 0 {
				return emitBatch(batch, out)
			}
			inputs = append(inputs, msort.SliceInput(batch))
			break
		}
		run, err := s.writeSortedRun(batch, depth)
		if err != nil {
			return err
		}
		inputs = append(inputs, run)
	}

	slog.Debug("Panic merge", slog.Int("depth", depth), slog.Int("runs", len(inputs)))
	stats, err := msort.Merge(ctx, inputs, out, msort.Options{
		Ordering: s.opts.Ordering,
		Unique:   s.opts.Unique,
		FanIn:    s.opts.FanIn,
		Store:    s.opts.Store,
		Codec:    s.opts.Codec,
		Reader:   s.opts.Reader,
		Depth:    depth,
		Session:  s.opts.Session,
	})
	s.stats.MergeRounds += stats.Rounds
	s.stats.RunsWritten += stats.RunsWritten
	s.stats.BytesSpilled += stats.BytesSpilled
	s.stats.Duplicates += stats.Duplicates
	return err
}

func (s *Sorter) writeSortedRun(batch []record.KeyedRecord, depth int) (msort.Input, error) {
	f, err := s.opts.Store.Create("sorted")
	if err != nil {
		return nil, fmt.Errorf("create sorted run: %w", err)
	}
	path := f.Name()
	w, err := recstore.NewRunWriter(f, recstore.WriterOptions{
		Codec:        s.opts.Codec,
		Kind:         recstore.KindSorted,
		Depth:        depth,
		SegmentBytes: s.opts.SegmentBytes,
		Session:      s.opts.Session,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	ra := emit.NewRunAssembler(w, s.opts.Ordering, s.opts.Unique)
	if err := emitBatch(batch, ra); err != nil {
		_ = w.Close()
		return nil, err
	}
	s.stats.Duplicates += ra.Duplicates()
	if err := w.Close(); err != nil {
		return nil, err
	}
	s.stats.RunsWritten++
	s.stats.BytesSpilled += w.BytesWritten()
	return msort.RunInput{Store: s.opts.Store, Path: path, Options: s.opts.Reader}, nil
}
