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

package fsort

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakesort/internal/emit"
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
	"github.com/cardinalhq/lakesort/internal/weights"
)

// sliceSource hands out records through one reused buffer, the way real
// sources alias their read buffers.
type sliceSource struct {
	recs []record.KeyedRecord
	pos  int
	buf  []byte
}

func (s *sliceSource) Next() (record.KeyedRecord, error) {
	if s.pos >= len(s.recs) {
		return record.KeyedRecord{}, io.EOF
	}
	kr := s.recs[s.pos]
	s.pos++
	s.buf = append(s.buf[:0], kr.Data...)
	return record.KeyedRecord{Data: s.buf, Offset: kr.Offset}, nil
}

func rawOrdering(stable bool) *record.Ordering {
	return &record.Ordering{Raw: true, Weights: weights.Build(false, false, '\n'), Stable: stable}
}

func raw(s string) record.KeyedRecord { return record.KeyedRecord{Data: []byte(s)} }

func keyed(k, body string) record.KeyedRecord {
	return record.KeyedRecord{Data: []byte(k + "\x00" + body + "\n"), Offset: len(k) + 1}
}

func randomRecords(r *rand.Rand, n int, prefix string) []record.KeyedRecord {
	recs := make([]record.KeyedRecord, n)
	for i := range recs {
		var b strings.Builder
		b.WriteString(prefix)
		for range r.IntN(8) + 1 {
			b.WriteByte("abcd"[r.IntN(4)])
		}
		b.WriteByte('\n')
		recs[i] = raw(b.String())
	}
	return recs
}

func expected(ord *record.Ordering, recs []record.KeyedRecord, unique bool) string {
	sorted := slices.Clone(recs)
	slices.SortStableFunc(sorted, ord.Compare)
	var b bytes.Buffer
	for i, kr := range sorted {
		if unique && i > 0 && ord.KeyEqual(sorted[i-1], kr) {
			continue
		}
		b.Write(kr.Record())
	}
	return b.String()
}

type harness struct {
	t     *testing.T
	store *tmpstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := tmpstore.New(tmpstore.Options{Dir: t.TempDir(), MaxOpenFiles: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Cleanup() })
	return &harness{t: t, store: store}
}

func (h *harness) run(opts Options, recs []record.KeyedRecord) (string, Stats, *emit.Assembler) {
	h.t.Helper()
	opts.Store = h.store
	s, err := New(opts)
	require.NoError(h.t, err)
	var out bytes.Buffer
	a := emit.NewAssembler(&out, opts.Ordering, opts.Unique)
	require.NoError(h.t, s.Sort(context.Background(), &sliceSource{recs: recs}, a))
	require.NoError(h.t, a.Flush())
	assert.Empty(h.t, h.store.Live(), "temp files left behind")
	assert.Zero(h.t, h.store.OpenCount(), "temp files left open")
	return out.String(), s.Stats(), a
}

func TestSortInMemory(t *testing.T) {
	h := newHarness(t)
	recs := []record.KeyedRecord{raw("banana\n"), raw("apple\n"), raw("cherry\n")}
	out, stats, _ := h.run(Options{Ordering: rawOrdering(false)}, recs)
	assert.Equal(t, "apple\nbanana\ncherry\n", out)
	assert.Zero(t, stats.Partitions)
	assert.Zero(t, stats.RunsWritten)
}

func TestSortEmpty(t *testing.T) {
	h := newHarness(t)
	out, _, a := h.run(Options{Ordering: rawOrdering(false)}, nil)
	assert.Empty(t, out)
	assert.Zero(t, a.Emitted())
}

func TestSortSpillsAndPartitions(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	recs := randomRecords(r, 2000, "")
	ord := rawOrdering(false)

	for _, codec := range []recstore.Codec{recstore.CodecNone, recstore.CodecZstd, recstore.CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			h := newHarness(t)
			out, stats, a := h.run(Options{
				Ordering:     ord,
				BatchRecords: 50,
				SegmentBytes: 128,
				Codec:        codec,
			}, recs)
			assert.Equal(t, expected(ord, recs, false), out)
			assert.Equal(t, int64(len(recs)), a.Emitted())
			assert.Positive(t, stats.Partitions)
			assert.Positive(t, stats.BytesSpilled)
			assert.Positive(t, stats.MaxDepth)
		})
	}
}

func TestSortBatchBytesBound(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	recs := randomRecords(r, 500, "")
	ord := rawOrdering(false)
	h := newHarness(t)
	out, stats, _ := h.run(Options{Ordering: ord, BatchBytes: 256}, recs)
	assert.Equal(t, expected(ord, recs, false), out)
	assert.Positive(t, stats.Partitions)
}

func TestSortPanicMerge(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	// A long shared prefix keeps every partition pass in a single bin.
	recs := randomRecords(r, 400, "commonprefix-")
	ord := rawOrdering(false)
	h := newHarness(t)
	out, stats, _ := h.run(Options{
		Ordering:     ord,
		BatchRecords: 16,
		PanicDepth:   3,
		FanIn:        4,
	}, recs)
	assert.Equal(t, expected(ord, recs, false), out)
	assert.Equal(t, int64(1), stats.PanicMerges)
	assert.Equal(t, 3, stats.MaxDepth)
	assert.Positive(t, stats.MergeRounds)
}

func TestSortStableAcrossSpills(t *testing.T) {
	var recs []record.KeyedRecord
	for i := range 300 {
		recs = append(recs, keyed(string(rune('a'+i%3)), fmt.Sprintf("rec%03d", i)))
	}
	ord := &record.Ordering{Stable: true}
	for _, panicDepth := range []int{1, 4} {
		h := newHarness(t)
		out, _, _ := h.run(Options{Ordering: ord, BatchRecords: 20, PanicDepth: panicDepth}, recs)
		assert.Equal(t, expected(ord, recs, false), out)
		assert.True(t, strings.HasPrefix(out, "rec000\nrec003\nrec006\n"))
	}
}

func TestSortUnique(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 8))
	recs := randomRecords(r, 1000, "")
	ord := rawOrdering(true)
	h := newHarness(t)
	out, stats, a := h.run(Options{Ordering: ord, Unique: true, BatchRecords: 40}, recs)
	assert.Equal(t, expected(ord, recs, true), out)
	assert.Equal(t, int64(len(recs)), a.Emitted()+a.Duplicates()+stats.Duplicates)
}

func TestSortUniqueAcrossTailBoundary(t *testing.T) {
	// Equal keys, records differ: the records spread over several bins once
	// the key has ended, and bin 'c' lands in the tail behind the dominant
	// bin 'b'. Only the first record by total order survives.
	var recs []record.KeyedRecord
	for i := range 60 {
		recs = append(recs, keyed("k", fmt.Sprintf("b%02d", i)))
	}
	recs = append(recs, keyed("k", "c1"), keyed("k", "a1"), keyed("k", "c2"))
	ord := &record.Ordering{}
	h := newHarness(t)
	out, stats, a := h.run(Options{Ordering: ord, Unique: true, BatchRecords: 8}, recs)
	assert.Equal(t, "a1\n", out)
	assert.Equal(t, int64(1), a.Emitted())
	assert.Equal(t, int64(len(recs)-1), a.Duplicates()+stats.Duplicates)
}

func TestSortLargestBinDeferred(t *testing.T) {
	var recs []record.KeyedRecord
	for i := range 100 {
		recs = append(recs, raw(fmt.Sprintf("m%03d\n", i)))
	}
	for _, s := range []string{"z1\n", "a1\n", "y1\n", "b1\n", "\n"} {
		recs = append(recs, raw(s))
	}
	ord := rawOrdering(false)
	h := newHarness(t)
	out, _, _ := h.run(Options{Ordering: ord, BatchRecords: 10}, recs)
	assert.Equal(t, expected(ord, recs, false), out)
	assert.True(t, strings.HasPrefix(out, "\na1\nb1\nm000\n"))
	assert.True(t, strings.HasSuffix(out, "m099\ny1\nz1\n"))
	assert.GreaterOrEqual(t, h.store.Created(), int64(2))
}

func TestSortDropsOversizedRecords(t *testing.T) {
	ord := rawOrdering(false)
	recs := []record.KeyedRecord{raw("short\n"), raw(strings.Repeat("x", 100) + "\n"), raw("a\n")}
	var dropped []string
	h := newHarness(t)
	out, stats, _ := h.run(Options{
		Ordering:       ord,
		MaxRecordBytes: 32,
		OnDrop:         func(kr record.KeyedRecord) { dropped = append(dropped, string(kr.Record())) },
	}, recs)
	assert.Equal(t, "a\nshort\n", out)
	assert.Equal(t, int64(1), stats.Dropped)
	require.Len(t, dropped, 1)
	assert.Len(t, dropped[0], 101)
}

func TestSortReverseWeights(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 10))
	recs := randomRecords(r, 300, "")
	ord := &record.Ordering{Raw: true, Weights: weights.Build(true, false, '\n'), Reverse: true}
	h := newHarness(t)
	out, _, _ := h.run(Options{Ordering: ord, BatchRecords: 25}, recs)
	assert.Equal(t, expected(ord, recs, false), out)
}

func TestSortIdempotent(t *testing.T) {
	r := rand.New(rand.NewPCG(11, 12))
	recs := randomRecords(r, 500, "")
	ord := rawOrdering(false)
	h := newHarness(t)
	once, _, _ := h.run(Options{Ordering: ord, BatchRecords: 30}, recs)

	var again []record.KeyedRecord
	for _, line := range strings.SplitAfter(once, "\n") {
		if line != "" {
			again = append(again, raw(line))
		}
	}
	twice, _, _ := h.run(Options{Ordering: ord, BatchRecords: 30}, again)
	assert.Equal(t, once, twice)
}

func TestSortCancelled(t *testing.T) {
	h := newHarness(t)
	s, err := New(Options{Ordering: rawOrdering(false), Store: h.store, BatchRecords: 10})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs := randomRecords(rand.New(rand.NewPCG(1, 1)), 10000, "")
	var out bytes.Buffer
	err = s.Sort(ctx, &sliceSource{recs: recs}, emit.NewAssembler(&out, rawOrdering(false), false))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{Ordering: rawOrdering(false)})
	assert.Error(t, err)
	_, err = New(Options{})
	assert.Error(t, err)
}
