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

package msort

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakesort/internal/emit"
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
	"github.com/cardinalhq/lakesort/internal/weights"
)

// keyed builds a record whose key is k and whose body is body.
func keyed(k, body string) record.KeyedRecord {
	return record.KeyedRecord{Data: []byte(k + "\x00" + body + "\n"), Offset: len(k) + 1}
}

func sliceInputs(recs ...[]record.KeyedRecord) []Input {
	var in []Input
	for _, r := range recs {
		in = append(in, SliceInput(r))
	}
	return in
}

type trackingInput struct {
	Input
	discarded *int
}

func (t trackingInput) Discard() error {
	*t.discarded++
	return t.Input.Discard()
}

func newStore(t *testing.T, budget int) *tmpstore.Store {
	t.Helper()
	s, err := tmpstore.New(tmpstore.Options{Dir: t.TempDir(), MaxOpenFiles: budget})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Cleanup() })
	return s
}

func TestFrontierOrder(t *testing.T) {
	ord := &record.Ordering{Stable: true}
	f := NewFrontier(ord, 4)
	f.Insert(keyed("b", "1"), 0)
	f.Insert(keyed("a", "2"), 3)
	f.Insert(keyed("c", "3"), 1)
	f.Insert(keyed("a", "4"), 2)

	var got []string
	var srcs []int
	for f.Len() > 0 {
		kr, src := f.Pop()
		got = append(got, string(kr.Record()))
		srcs = append(srcs, src)
	}
	assert.Equal(t, []string{"4\n", "2\n", "1\n", "3\n"}, got)
	assert.Equal(t, []int{2, 3, 0, 1}, srcs)
}

func TestFrontierUsesRecordWhenNotStable(t *testing.T) {
	f := NewFrontier(&record.Ordering{}, 2)
	f.Insert(keyed("a", "z"), 0)
	f.Insert(keyed("a", "y"), 1)
	kr, src := f.Pop()
	assert.Equal(t, "y\n", string(kr.Record()))
	assert.Equal(t, 1, src)
}

func mergeAll(t *testing.T, inputs []Input, opts Options) (string, Stats) {
	t.Helper()
	var out bytes.Buffer
	a := emit.NewAssembler(&out, opts.Ordering, opts.Unique)
	stats, err := Merge(context.Background(), inputs, a, opts)
	require.NoError(t, err)
	require.NoError(t, a.Flush())
	return out.String(), stats
}

func TestMergeSingleRound(t *testing.T) {
	ord := &record.Ordering{Stable: true}
	inputs := sliceInputs(
		[]record.KeyedRecord{keyed("a", "first-a"), keyed("c", "first-c")},
		[]record.KeyedRecord{keyed("a", "second-a"), keyed("b", "second-b")},
		nil,
	)
	out, stats := mergeAll(t, inputs, Options{Ordering: ord})
	assert.Equal(t, "first-a\nsecond-a\nsecond-b\nfirst-c\n", out)
	assert.Equal(t, int64(1), stats.Rounds)
	assert.Equal(t, int64(4), stats.Records)
}

func TestMergeUnique(t *testing.T) {
	ord := &record.Ordering{Stable: true}
	inputs := sliceInputs(
		[]record.KeyedRecord{keyed("a", "1"), keyed("b", "2")},
		[]record.KeyedRecord{keyed("a", "3"), keyed("b", "4"), keyed("c", "5")},
	)
	out, _ := mergeAll(t, inputs, Options{Ordering: ord, Unique: true})
	assert.Equal(t, "1\n2\n5\n", out)
}

func TestMergeMultiRoundIsStable(t *testing.T) {
	store := newStore(t, 16)
	ord := &record.Ordering{Stable: true}

	var inputs []Input
	discarded := 0
	var want []string
	for i := range 7 {
		recs := []record.KeyedRecord{
			keyed("k", fmt.Sprintf("in%d-0", i)),
			keyed("m", fmt.Sprintf("in%d-1", i)),
		}
		inputs = append(inputs, trackingInput{Input: SliceInput(recs), discarded: &discarded})
	}
	for i := range 7 {
		want = append(want, fmt.Sprintf("in%d-0\n", i))
	}
	for i := range 7 {
		want = append(want, fmt.Sprintf("in%d-1\n", i))
	}

	for _, codec := range []recstore.Codec{recstore.CodecNone, recstore.CodecZstd} {
		discarded = 0
		out, stats := mergeAll(t, inputs, Options{
			Ordering: ord,
			FanIn:    2,
			Store:    store,
			Codec:    codec,
		})
		assert.Equal(t, joinLines(want), out)
		assert.Equal(t, 7, discarded)
		// 7 inputs become 4, then 2, then the final round.
		assert.Equal(t, int64(5), stats.RunsWritten)
		assert.Greater(t, stats.Rounds, int64(3))
		assert.Empty(t, store.Live())
		assert.Zero(t, store.OpenCount())
	}
}

func TestMergeUniqueAcrossRounds(t *testing.T) {
	store := newStore(t, 16)
	ord := &record.Ordering{Stable: true}
	var inputs []Input
	for i := range 5 {
		inputs = append(inputs, SliceInput{keyed("dup", fmt.Sprint(i)), keyed(fmt.Sprintf("u%d", i), "x")})
	}
	out, _ := mergeAll(t, inputs, Options{Ordering: ord, Unique: true, FanIn: 2, Store: store})
	assert.Equal(t, "0\nx\nx\nx\nx\nx\n", out)
}

func TestMergeNeedsStoreForManyInputs(t *testing.T) {
	ord := &record.Ordering{Stable: true}
	inputs := sliceInputs(nil, nil, nil)
	var out bytes.Buffer
	_, err := Merge(context.Background(), inputs, emit.NewAssembler(&out, ord, false), Options{Ordering: ord, FanIn: 2})
	assert.Error(t, err)
}

func TestMergeRawWeights(t *testing.T) {
	ord := &record.Ordering{Raw: true, Weights: weights.Build(true, false, '\n')}
	raw := func(s string) record.KeyedRecord { return record.KeyedRecord{Data: []byte(s)} }
	inputs := sliceInputs(
		[]record.KeyedRecord{raw("z\n"), raw("b\n")},
		[]record.KeyedRecord{raw("y\n"), raw("a\n")},
	)
	out, _ := mergeAll(t, inputs, Options{Ordering: ord})
	assert.Equal(t, "z\ny\nb\na\n", out)
}

func TestMergeHonoursCancellation(t *testing.T) {
	ord := &record.Ordering{Stable: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	_, err := Merge(ctx, sliceInputs([]record.KeyedRecord{keyed("a", "1")}), emit.NewAssembler(&out, ord, false), Options{Ordering: ord})
	assert.ErrorIs(t, err, context.Canceled)
}

func joinLines(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
	}
	return b.String()
}
