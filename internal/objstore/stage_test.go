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

package objstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeObject(t *testing.T, base, bucket, key string, data []byte) {
	t.Helper()
	path := filepath.Join(base, bucket, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readAll(t *testing.T, s Staged, stdin io.Reader) string {
	t.Helper()
	in, err := Open(s, stdin)
	require.NoError(t, err)
	defer func() { require.NoError(t, in.Close()) }()
	b, err := io.ReadAll(in)
	require.NoError(t, err)
	return string(b)
}

func TestStageAndOpen(t *testing.T) {
	defer goleak.VerifyNone(t)

	base := t.TempDir()
	tmp := t.TempDir()
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("b\na\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	writeObject(t, base, "bkt", "one.txt", []byte("x\ny\n"))
	writeObject(t, base, "bkt", "nested/two.txt.gz", gz.Bytes())
	local := filepath.Join(t.TempDir(), "local.txt")
	require.NoError(t, os.WriteFile(local, []byte("local\n"), 0o644))

	var locs []Location
	for _, s := range []string{"file://bkt/one.txt", local, "-", "file://bkt/nested/two.txt.gz"} {
		loc, err := ParseURL(s)
		require.NoError(t, err)
		locs = append(locs, loc)
	}

	r := NewResolver(Config{FileBase: base})
	staged, err := Stage(context.Background(), r, tmp, locs, 2)
	require.NoError(t, err)
	require.Len(t, staged, 4)

	assert.True(t, staged[0].Temp)
	assert.Equal(t, tmp, filepath.Dir(staged[0].Path))
	assert.False(t, staged[1].Temp)
	assert.Equal(t, local, staged[1].Path)
	assert.Empty(t, staged[2].Path)

	assert.Equal(t, "x\ny\n", readAll(t, staged[0], nil))
	assert.Equal(t, "local\n", readAll(t, staged[1], nil))
	assert.Equal(t, "from stdin\n", readAll(t, staged[2], strings.NewReader("from stdin\n")))
	assert.Equal(t, "b\na\n", readAll(t, staged[3], nil))

	Release(staged)
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(local)
	assert.NoError(t, err)
}

func TestStageMissingObject(t *testing.T) {
	defer goleak.VerifyNone(t)

	base := t.TempDir()
	tmp := t.TempDir()
	writeObject(t, base, "bkt", "present.txt", []byte("p\n"))

	var locs []Location
	for _, s := range []string{"file://bkt/present.txt", "file://bkt/missing.txt"} {
		loc, err := ParseURL(s)
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	_, err := Stage(context.Background(), NewResolver(Config{FileBase: base}), tmp, locs, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStageWithoutFileBase(t *testing.T) {
	loc, err := ParseURL("file://bkt/k")
	require.NoError(t, err)
	_, err = Stage(context.Background(), NewResolver(Config{}), t.TempDir(), []Location{loc}, 0)
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(src, []byte("sorted\n"), 0o644))

	loc, err := ParseURL("file://results/day/out.txt")
	require.NoError(t, err)
	require.NoError(t, Publish(context.Background(), NewResolver(Config{FileBase: base}), loc, src))

	b, err := os.ReadFile(filepath.Join(base, "results", "day", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "sorted\n", string(b))
}

func TestOpenEmptyInput(t *testing.T) {
	assert.Empty(t, readAll(t, Staged{Location: Location{Scheme: SchemeStdio}}, strings.NewReader("")))
	assert.Equal(t, "\x1f", readAll(t, Staged{Location: Location{Scheme: SchemeStdio}}, strings.NewReader("\x1f")))
}

func TestStageRejectsStdinTwice(t *testing.T) {
	stdin := Location{Scheme: SchemeStdio}
	_, err := Stage(context.Background(), NewResolver(Config{}), t.TempDir(), []Location{stdin, stdin}, 1)
	assert.ErrorIs(t, err, ErrStdinTwice)
}

func TestStageMissingLocalFile(t *testing.T) {
	loc, err := ParseURL(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	_, err = Stage(context.Background(), NewResolver(Config{}), t.TempDir(), []Location{loc}, 1)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenLazy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))

	in := OpenLazy(Staged{Location: Location{Path: path}, Path: path}, nil)
	assert.False(t, in.Opened())

	buf := make([]byte, 2)
	n, err := in.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(buf[:n]))
	assert.True(t, in.Opened())

	rest, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(rest))
	assert.False(t, in.Opened(), "input stays open after end of input")

	n, err = in.Read(buf)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, in.Close())
}

func TestOpenLazyCloseBeforeRead(t *testing.T) {
	in := OpenLazy(Staged{Location: Location{Scheme: SchemeStdio}}, strings.NewReader("unread\n"))
	require.NoError(t, in.Close())
	assert.False(t, in.Opened())
	b, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestOpenLazyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.txt")
	in := OpenLazy(Staged{Location: Location{Path: path}, Path: path}, nil)
	_, err := in.Read(make([]byte, 8))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, in.Opened())
}
