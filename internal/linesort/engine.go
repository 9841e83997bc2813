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

// Package linesort sorts, merges and order-checks line records. It ties
// key encoding, radix partitioning, external merging and output assembly
// together behind one Engine.
package linesort

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/lakesort/internal/emit"
	"github.com/cardinalhq/lakesort/internal/fsort"
	"github.com/cardinalhq/lakesort/internal/keyenc"
	"github.com/cardinalhq/lakesort/internal/msort"
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/sortstats"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
	"github.com/cardinalhq/lakesort/internal/weights"
)

// Engine runs sorts for one configuration. An Engine may be reused; each
// operation gets its own temp session.
type Engine struct {
	opts  Options
	ord   *record.Ordering
	codec recstore.Codec
}

// New validates opts. Zero values take their defaults.
func New(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.InitialBuffer == 0 {
		opts.InitialBuffer = def.InitialBuffer
	}
	if opts.MaxRecordSize == 0 {
		opts.MaxRecordSize = max(def.MaxRecordSize, opts.InitialBuffer)
	}
	if opts.BatchRecords == 0 {
		opts.BatchRecords = def.BatchRecords
	}
	if opts.BatchBytes == 0 {
		opts.BatchBytes = max(def.BatchBytes, opts.MaxRecordSize)
	}
	if opts.FanIn == 0 {
		opts.FanIn = def.FanIn
	}
	if opts.SegmentBytes == 0 {
		opts.SegmentBytes = def.SegmentBytes
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	codec, err := recstore.ParseCodec(opts.SpillCodec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	// Encoder construction catches the remaining key errors up front.
	enc, err := keyenc.New(opts.keyConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	ord := &record.Ordering{
		Raw: enc.Raw(),
		// Unique keeps the first of equal keys, so equal keys must not be
		// reordered by the record itself.
		Stable:  opts.Stable || opts.Unique,
		Reverse: opts.Global.Reverse,
	}
	if ord.Raw {
		ord.Weights = weights.Build(opts.Global.Reverse, opts.Global.FoldCase, opts.RecordDelim)
	}
	return &Engine{opts: opts, ord: ord, codec: codec}, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Ordering returns the record order the engine produces.
func (e *Engine) Ordering() *record.Ordering { return e.ord }

func (e *Engine) newStore() (*tmpstore.Store, error) {
	store, err := tmpstore.New(tmpstore.Options{
		Dir:          e.opts.TempDir,
		MaxOpenFiles: e.opts.MaxOpenFiles,
		MinFreeBytes: e.opts.MinFreeBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("create temp store: %w", err)
	}
	return store, nil
}

func cleanup(store *tmpstore.Store) {
	if err := store.Cleanup(); err != nil {
		slog.Warn("Failed to clean up temp files", slog.String("dir", store.Dir()), slog.Any("error", err))
	}
}

func (e *Engine) newCollector() (*sortstats.Collector, error) {
	if !e.opts.CollectStats {
		return nil, nil
	}
	return sortstats.NewCollector()
}

func (e *Engine) readerOptions() recstore.ReaderOptions {
	return recstore.ReaderOptions{
		InitialBuffer: e.opts.InitialBuffer,
		MaxBuffer:     2 * (e.opts.SegmentBytes + e.opts.BatchBytes),
	}
}

// Sort reads every source in order and writes their records sorted to out.
func (e *Engine) Sort(ctx context.Context, sources []Source, out io.Writer) (Summary, error) {
	start := time.Now()
	store, err := e.newStore()
	if err != nil {
		return Summary{}, err
	}
	defer cleanup(store)

	stats, err := e.newCollector()
	if err != nil {
		return Summary{}, err
	}
	count := &counters{}
	src := &chainedSource{engine: e, sources: sources, count: count, stats: stats}

	sorter, err := fsort.New(fsort.Options{
		Ordering:       e.ord,
		Unique:         e.opts.Unique,
		BatchRecords:   e.opts.BatchRecords,
		BatchBytes:     e.opts.BatchBytes,
		MaxRecordBytes: e.opts.BatchBytes,
		PanicDepth:     e.opts.PanicDepth,
		FanIn:          e.opts.FanIn,
		Store:          store,
		Codec:          e.codec,
		SegmentBytes:   e.opts.SegmentBytes,
		Reader:         e.readerOptions(),
		Session:        filepath.Base(store.Dir()),
		OnDrop: func(kr record.KeyedRecord) {
			slog.Warn("Dropping record whose key exceeds the batch size", slog.Int("bytes", kr.Size()))
		},
	})
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	digest := sortstats.NewDigestWriter(out)
	asm := emit.NewAssembler(digest, e.ord, e.opts.Unique)
	err = sorter.Sort(ctx, src, asm)
	if err == nil {
		err = asm.Flush()
	}

	fs := sorter.Stats()
	sum := Summary{
		Operation:        "sort",
		Inputs:           len(sources),
		RecordsIn:        count.records,
		RecordsOut:       asm.Emitted(),
		Dropped:          count.dropped + fs.Dropped,
		Duplicates:       asm.Duplicates() + fs.Duplicates,
		NumericOverflows: count.overflows,
		RunsWritten:      fs.RunsWritten,
		BytesSpilled:     fs.BytesSpilled,
		Partitions:       fs.Partitions,
		MergeRounds:      fs.MergeRounds,
		PanicMerges:      fs.PanicMerges,
		MaxDepth:         fs.MaxDepth,
		OutputBytes:      digest.Bytes(),
		Digest:           digest.Sum64(),
		TempFiles:        store.Created(),
	}
	sum.fill(stats, start)
	sum.record(ctx, err)
	if err != nil {
		return sum, fmt.Errorf("sort: %w", err)
	}
	return sum, nil
}

// Merge merges sources that are each already sorted. Inputs beyond the
// open file budget are rejected before any work.
func (e *Engine) Merge(ctx context.Context, sources []Source, out io.Writer) (Summary, error) {
	start := time.Now()
	budget := e.opts.MaxOpenFiles
	if budget <= 0 {
		budget = tmpstore.DescriptorBudget()
	}
	if len(sources) > budget {
		return Summary{}, configError("%d inputs exceed the open file budget of %d", len(sources), budget)
	}

	store, err := e.newStore()
	if err != nil {
		return Summary{}, err
	}
	defer cleanup(store)

	stats, err := e.newCollector()
	if err != nil {
		return Summary{}, err
	}
	count := &counters{}
	inputs := make([]msort.Input, len(sources))
	for i, src := range sources {
		inputs[i] = presortedInput{engine: e, src: src, count: count, stats: stats}
	}

	digest := sortstats.NewDigestWriter(out)
	asm := emit.NewAssembler(digest, e.ord, e.opts.Unique)
	ms, err := msort.Merge(ctx, inputs, asm, msort.Options{
		Ordering: e.ord,
		Unique:   e.opts.Unique,
		FanIn:    e.opts.FanIn,
		Store:    store,
		Codec:    e.codec,
		Reader:   e.readerOptions(),
		Session:  filepath.Base(store.Dir()),
	})
	if err == nil {
		err = asm.Flush()
	}

	sum := Summary{
		Operation:        "merge",
		Inputs:           len(sources),
		RecordsIn:        count.records,
		RecordsOut:       asm.Emitted(),
		Dropped:          count.dropped,
		Duplicates:       asm.Duplicates() + ms.Duplicates,
		NumericOverflows: count.overflows,
		RunsWritten:      ms.RunsWritten,
		BytesSpilled:     ms.BytesSpilled,
		MergeRounds:      ms.Rounds,
		OutputBytes:      digest.Bytes(),
		Digest:           digest.Sum64(),
		TempFiles:        store.Created(),
	}
	sum.fill(stats, start)
	sum.record(ctx, err)
	if err != nil {
		return sum, fmt.Errorf("merge: %w", err)
	}
	return sum, nil
}

func operationAttr(op string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("operation", op))
}
