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

package emit

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/weights"
)

func rawOrdering() *record.Ordering {
	return &record.Ordering{Raw: true, Weights: weights.Build(false, false, '\n'), Stable: true}
}

func raw(s string) record.KeyedRecord {
	return record.KeyedRecord{Data: []byte(s)}
}

func newTail(t *testing.T, ord *record.Ordering, unique bool) *Tail {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "tail"))
	require.NoError(t, err)
	tail := NewTail(f, ord, unique)
	t.Cleanup(func() { _ = tail.Close() })
	return tail
}

func TestAssemblerWritesRecordsOnly(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, &record.Ordering{Stable: true}, false)
	require.NoError(t, a.Emit(record.KeyedRecord{Data: []byte("KEY\x00apple\n"), Offset: 4}))
	require.NoError(t, a.Emit(record.KeyedRecord{Data: []byte("KEZ\x00apple\n"), Offset: 4}))
	require.NoError(t, a.Flush())
	assert.Equal(t, "apple\napple\n", out.String())
	assert.Equal(t, int64(2), a.Emitted())
	assert.Equal(t, int64(12), a.Bytes())
}

func TestAssemblerUnique(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, rawOrdering(), true)
	for _, s := range []string{"apple\n", "apple\n", "banana\n", "banana\n", "cherry\n"} {
		require.NoError(t, a.Emit(raw(s)))
	}
	require.NoError(t, a.Flush())
	assert.Equal(t, "apple\nbanana\ncherry\n", out.String())
	assert.Equal(t, int64(3), a.Emitted())
	assert.Equal(t, int64(2), a.Duplicates())
}

func TestAssemblerUniqueComparesKeysOnly(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, &record.Ordering{Stable: true}, true)
	require.NoError(t, a.Emit(record.KeyedRecord{Data: []byte("k\x00one\n"), Offset: 2}))
	require.NoError(t, a.Emit(record.KeyedRecord{Data: []byte("k\x00two\n"), Offset: 2}))
	require.NoError(t, a.Flush())
	assert.Equal(t, "one\n", out.String())
}

func TestAssemblerUniqueSurvivesBufferReuse(t *testing.T) {
	var out bytes.Buffer
	a := NewAssembler(&out, rawOrdering(), true)
	buf := []byte("same\n")
	require.NoError(t, a.Emit(record.KeyedRecord{Data: buf}))
	copy(buf, "xxxx\n")
	require.NoError(t, a.Emit(record.KeyedRecord{Data: []byte("same\n")}))
	require.NoError(t, a.Flush())
	assert.Equal(t, "same\n", out.String())
}

func TestAppendTail(t *testing.T) {
	ord := rawOrdering()
	tail := newTail(t, ord, false)
	require.NoError(t, tail.Emit(raw("x\n")))
	require.NoError(t, tail.Emit(raw("y\n")))

	var out bytes.Buffer
	a := NewAssembler(&out, ord, false)
	require.NoError(t, a.Emit(raw("a\n")))
	require.NoError(t, a.AppendTail(tail))
	require.NoError(t, a.Emit(raw("z\n")))
	require.NoError(t, a.Flush())
	assert.Equal(t, "a\nx\ny\nz\n", out.String())
	assert.Equal(t, int64(4), a.Emitted())
}

func TestAppendTailSkipsDuplicateFirstRecord(t *testing.T) {
	ord := rawOrdering()
	tail := newTail(t, ord, true)
	for _, s := range []string{"m\n", "m\n", "n\n", "o\n"} {
		require.NoError(t, tail.Emit(raw(s)))
	}

	var out bytes.Buffer
	a := NewAssembler(&out, ord, true)
	require.NoError(t, a.Emit(raw("l\n")))
	require.NoError(t, a.Emit(raw("m\n")))
	require.NoError(t, a.AppendTail(tail))
	// The last tail record is now the one to compare against.
	require.NoError(t, a.Emit(raw("o\n")))
	require.NoError(t, a.Emit(raw("p\n")))
	require.NoError(t, a.Flush())

	assert.Equal(t, "l\nm\nn\no\np\n", out.String())
	assert.Equal(t, int64(5), a.Emitted())
	assert.Equal(t, int64(3), a.Duplicates())
}

func TestAppendEmptyTail(t *testing.T) {
	ord := rawOrdering()
	tail := newTail(t, ord, true)
	var out bytes.Buffer
	a := NewAssembler(&out, ord, true)
	require.NoError(t, a.AppendTail(tail))
	require.NoError(t, a.Flush())
	assert.Empty(t, out.String())
	assert.Zero(t, a.Emitted())
}

func TestNestedTails(t *testing.T) {
	ord := rawOrdering()
	inner := newTail(t, ord, true)
	require.NoError(t, inner.Emit(raw("c\n")))
	require.NoError(t, inner.Emit(raw("d\n")))

	outer := newTail(t, ord, true)
	require.NoError(t, outer.AppendTail(inner))
	require.NoError(t, outer.Emit(raw("d\n")))
	require.NoError(t, outer.Emit(raw("e\n")))

	var out bytes.Buffer
	a := NewAssembler(&out, ord, true)
	require.NoError(t, a.Emit(raw("c\n")))
	require.NoError(t, a.AppendTail(outer))
	require.NoError(t, a.Flush())
	assert.Equal(t, "c\nd\ne\n", out.String())
}

func TestRunAssembler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := recstore.NewRunWriter(f, recstore.WriterOptions{})
	require.NoError(t, err)

	ra := NewRunAssembler(w, rawOrdering(), true)
	for _, s := range []string{"a\n", "a\n", "b\n"} {
		require.NoError(t, ra.Emit(raw(s)))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, int64(2), ra.Emitted())
	assert.Equal(t, int64(1), ra.Duplicates())

	rf, err := os.Open(path)
	require.NoError(t, err)
	r, err := recstore.OpenRun(rf, recstore.ReaderOptions{})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	var got []string
	for {
		kr, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(kr.Record()))
	}
	assert.Equal(t, []string{"a\n", "b\n"}, got)
}
