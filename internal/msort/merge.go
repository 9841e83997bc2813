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

// Package msort merges sorted inputs with a bounded fan-in. When there are
// more inputs than the fan-in allows, groups of consecutive inputs are
// merged into intermediate runs until one final round can write straight
// to the sink.
package msort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/lakesort/internal/emit"
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
)

// DefaultFanIn is the number of inputs merged in one round.
const DefaultFanIn = 16

// Options configure a merge.
type Options struct {
	Ordering *record.Ordering
	Unique   bool
	FanIn    int
	// Store holds intermediate runs.
	Store   *tmpstore.Store
	Codec   recstore.Codec
	Reader  recstore.ReaderOptions
	Depth   int
	Session string
}

// Stats describe the work a merge did.
type Stats struct {
	Rounds       int64
	RunsWritten  int64
	BytesSpilled int64
	Records      int64
	// Duplicates counts records dropped under Unique while writing
	// intermediate runs. The final sink keeps its own count.
	Duplicates int64
}

// Merge merges inputs into sink. Every input is discarded once consumed.
func Merge(ctx context.Context, inputs []Input, sink emit.Sink, opts Options) (Stats, error) {
	m := &merger{opts: opts}
	m.fanIn = opts.FanIn
	if m.fanIn <= 0 {
		m.fanIn = DefaultFanIn
	}
	if opts.Store != nil {
		// Leave a descriptor for the round's output.
		m.fanIn = min(m.fanIn, opts.Store.Budget()-opts.Store.OpenCount()-1)
	}
	m.fanIn = max(m.fanIn, 2)

	err := m.merge(ctx, inputs, sink)
	return m.stats, err
}

type merger struct {
	opts  Options
	fanIn int
	stats Stats
}

func (m *merger) merge(ctx context.Context, inputs []Input, sink emit.Sink) error {
	for len(inputs) > m.fanIn {
		if m.opts.Store == nil {
			return fmt.Errorf("%d inputs exceed fan-in %d and no temp store is configured", len(inputs), m.fanIn)
		}
		slog.Debug("Intermediate merge pass",
			slog.Int("inputs", len(inputs)),
			slog.Int("fanIn", m.fanIn),
			slog.Int("depth", m.opts.Depth))

		next := make([]Input, 0, (len(inputs)+m.fanIn-1)/m.fanIn)
		for lo := 0; lo < len(inputs); lo += m.fanIn {
			group := inputs[lo:min(lo+m.fanIn, len(inputs))]
			if len(group) == 1 {
				next = append(next, group[0])
				continue
			}
			run, err := m.mergeToRun(ctx, group)
			if err != nil {
				return err
			}
			next = append(next, run)
		}
		inputs = next
	}
	return m.round(ctx, inputs, sink)
}

func (m *merger) mergeToRun(ctx context.Context, group []Input) (Input, error) {
	f, err := m.opts.Store.Create("merge")
	if err != nil {
		return nil, fmt.Errorf("create merge run: %w", err)
	}
	path := f.Name()
	w, err := recstore.NewRunWriter(f, recstore.WriterOptions{
		Codec:        m.opts.Codec,
		Kind:         recstore.KindSorted,
		Depth:        m.opts.Depth,
		SegmentBytes: recstore.DefaultSegmentBytes,
		Session:      m.opts.Session,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	ra := emit.NewRunAssembler(w, m.opts.Ordering, m.opts.Unique)
	if err := m.round(ctx, group, ra); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	m.stats.RunsWritten++
	m.stats.BytesSpilled += w.BytesWritten()
	m.stats.Duplicates += ra.Duplicates()
	return RunInput{Store: m.opts.Store, Path: path, Options: m.opts.Reader}, nil
}

// round merges up to fanIn inputs into sink.
func (m *merger) round(ctx context.Context, inputs []Input, sink emit.Sink) (err error) {
	m.stats.Rounds++
	iters := make([]Iterator, len(inputs))
	defer func() {
		var errs *multierror.Error
		for _, it := range iters {
			if it != nil {
				errs = multierror.Append(errs, it.Close())
			}
		}
		if cerr := errs.ErrorOrNil(); err == nil && cerr != nil {
			err = fmt.Errorf("close merge inputs: %w", cerr)
		}
	}()

	front := NewFrontier(m.opts.Ordering, len(inputs))
	for i, in := range inputs {
		it, err := in.Open()
		if err != nil {
			return err
		}
		iters[i] = it
		if err := m.advance(front, iters, inputs, i); err != nil {
			return err
		}
	}

	var n int64
	for front.Len() > 0 {
		if n%4096 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		kr, src := front.Pop()
		if err := sink.Emit(kr); err != nil {
			return err
		}
		n++
		if err := m.advance(front, iters, inputs, src); err != nil {
			return err
		}
	}
	m.stats.Records += n
	return nil
}

// advance reads the next record of input i into the frontier, or retires
// the input when it is exhausted.
func (m *merger) advance(front *Frontier, iters []Iterator, inputs []Input, i int) error {
	kr, err := iters[i].Next()
	if err == nil {
		front.Insert(kr, i)
		return nil
	}
	if !errors.Is(err, io.EOF) {
		return fmt.Errorf("read merge input %d: %w", i, err)
	}
	cerr := iters[i].Close()
	iters[i] = nil
	if cerr != nil {
		return fmt.Errorf("close merge input %d: %w", i, cerr)
	}
	return inputs[i].Discard()
}
