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

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakesort/internal/objstore"
)

// run executes the CLI in an isolated working directory.
func run(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSortStdin(t *testing.T) {
	out, _, err := run(t, "banana\napple\ncherry\n", "sort")
	require.NoError(t, err)
	assert.Equal(t, "apple\nbanana\ncherry\n", out)
}

func TestSortFilesToOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "3 c\n1 a\n")
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("2 b\n10 j\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	b := writeFile(t, dir, "b.txt.gz", gz.String())
	dst := filepath.Join(dir, "sorted.txt")

	out, _, err := run(t, "", "sort", "-n", "-o", dst, a, b)
	require.NoError(t, err)
	assert.Empty(t, out)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "1 a\n2 b\n3 c\n10 j\n", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSortOutputOverwritesInput(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "data.txt", "z\ny\nx\n")
	_, _, err := run(t, "", "sort", "-r", "-o", in, in)
	require.NoError(t, err)
	got, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, "z\ny\nx\n", string(got))

	_, _, err = run(t, "", "sort", "-o", in, in)
	require.NoError(t, err)
	got, err = os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, "x\ny\nz\n", string(got))
}

func TestSortObjectInputAndOutput(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "in", "day"), 0o755))
	writeFile(t, filepath.Join(base, "in", "day"), "part.txt", "b,2\na,1\nc,0\n")
	t.Setenv("LAKESORT_STORAGE_FILE_BASE", base)

	_, _, err := run(t, "", "sort", "-t", ",", "-k", "2,2n", "-o", "file://out/sorted.txt", "file://in/day/part.txt")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(base, "out", "sorted.txt"))
	require.NoError(t, err)
	assert.Equal(t, "c,0\na,1\nb,2\n", string(got))
}

func TestSortUniqueWithStats(t *testing.T) {
	out, stderr, err := run(t, "b\na\nb\na\n", "sort", "-u", "--stats", "--batch-records", "2")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
	assert.Contains(t, stderr, "records_in: 4")
	assert.Contains(t, stderr, "duplicates: 2")
}

func TestSortMerge(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "a\nc\n")
	b := writeFile(t, dir, "b", "b\nd\n")
	out, _, err := run(t, "", "sort", "-m", a, b)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\nd\n", out)
}

func TestSortMissingInput(t *testing.T) {
	_, _, err := run(t, "", "sort", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, exitTrouble, exitCode(err))
}

func TestSortStdinTwice(t *testing.T) {
	_, _, err := run(t, "a\n", "sort", "-", "-")
	require.ErrorIs(t, err, objstore.ErrStdinTwice)
	assert.Equal(t, exitTrouble, exitCode(err))
}

func TestSortManyInputsSmallBudget(t *testing.T) {
	dir := t.TempDir()
	args := []string{"sort", "--max-open-files", "16"}
	var want strings.Builder
	for i := range 200 {
		args = append(args, writeFile(t, dir, fmt.Sprintf("in%03d", i), fmt.Sprintf("%03d\n", 199-i)))
		fmt.Fprintf(&want, "%03d\n", i)
	}
	out, _, err := run(t, "", args...)
	require.NoError(t, err)
	assert.Equal(t, want.String(), out)
}

func TestOpenSourcesOpensOnRead(t *testing.T) {
	dir := t.TempDir()
	var staged []objstore.Staged
	for _, name := range []string{"a", "b", "c"} {
		path := writeFile(t, dir, name, name+"\n")
		staged = append(staged, objstore.Staged{Location: objstore.Location{Path: path}, Path: path})
	}
	sources, closeAll := openSources(staged, nil)
	require.Len(t, sources, 3)
	lazy := func(i int) *objstore.LazyInput { return sources[i].Reader.(*objstore.LazyInput) }
	for i := range sources {
		assert.False(t, lazy(i).Opened())
	}

	b, err := io.ReadAll(sources[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(b))
	assert.False(t, lazy(0).Opened())

	_, err = sources[1].Reader.Read(make([]byte, 1))
	require.NoError(t, err)
	assert.True(t, lazy(1).Opened())
	assert.False(t, lazy(2).Opened())

	require.NoError(t, closeAll())
	assert.False(t, lazy(1).Opened())
}

func TestSortBadFlags(t *testing.T) {
	_, _, err := run(t, "", "sort", "--fan-in", "1")
	require.Error(t, err)
	_, _, err = run(t, "", "sort", "-S", "12Q")
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	_, _, err := run(t, "a\nb\n", "check")
	require.NoError(t, err)

	_, stderr, err := run(t, "a\nc\nb\n", "check")
	require.ErrorIs(t, err, errDisorder)
	assert.Equal(t, exitDisorder, exitCode(err))
	assert.Equal(t, "lakesort: -:3: disorder: b\n", stderr)

	_, _, err = run(t, "a\na\n", "sort", "-c", "-u")
	require.ErrorIs(t, err, errDisorder)
}

func TestConfigCommand(t *testing.T) {
	out, _, err := run(t, "", "config", "--fan-in", "5", "-r")
	require.NoError(t, err)
	assert.Contains(t, out, "fan_in: 5")
	assert.Contains(t, out, "reverse: true")
	assert.Contains(t, out, "stage_concurrency: 4")
}
