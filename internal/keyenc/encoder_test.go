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

package keyenc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncoder(t *testing.T, cfg Config) *Encoder {
	t.Helper()
	if cfg.RecordDelim == 0 && cfg.FieldDelim == 0 {
		cfg.RecordDelim = '\n'
		cfg.FieldDelim = NoFieldDelim
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func key(e *Encoder, rec string) []byte {
	return e.AppendKey(nil, []byte(rec))
}

func TestRawModeHasNoKey(t *testing.T) {
	e := mustEncoder(t, Config{Global: Flags{Reverse: true, FoldCase: true}})
	assert.True(t, e.Raw())
	n, err := e.Encode(nil, []byte("anything\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImplicitWholeLineField(t *testing.T) {
	e := mustEncoder(t, Config{Global: Flags{Numeric: true}})
	assert.False(t, e.Raw())
	assert.Equal(t, -1, bytes.Compare(key(e, "9\n"), key(e, "10\n")))
}

func TestEncodeOutOfSpaceReportsNeed(t *testing.T) {
	e := mustEncoder(t, Config{Fields: []FieldSpec{{StartCol: 1}}})
	dst := make([]byte, 3)
	n, err := e.Encode(dst, []byte("hello\n"))
	require.ErrorIs(t, err, ErrOutOfSpace)
	assert.Equal(t, 7, n)

	dst = make([]byte, n)
	m, err := e.Encode(dst, []byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, n, m)
}

func TestEncodeTerminatesFieldsAndKey(t *testing.T) {
	e := mustEncoder(t, Config{Fields: []FieldSpec{{StartCol: 1, EndCol: 1}, {StartCol: 2, EndCol: 2}}})
	k := key(e, "a b\n")
	// Field 2 keeps its leading blank in blank-separated mode.
	asc := func(c byte) byte { return e.fields[0].table[c] }
	assert.Equal(t, []byte{asc('a'), 0, asc(' '), asc('b'), 0, 0}, k)
}

func TestEncodeEscapesLowWeights(t *testing.T) {
	e := mustEncoder(t, Config{
		Fields:      []FieldSpec{{StartCol: 1}},
		FieldDelim:  NoFieldDelim,
		RecordDelim: 0,
	})
	// 0x00 is the delimiter (weight 0) and 0x01 has weight 1.
	k := e.AppendKey(nil, []byte{0x01, 'x'})
	assert.Equal(t, []byte{1, 2, e.fields[0].table['x'], 0, 0}, k)
	assert.NotContains(t, k[:3], byte(0))
}

func TestEncodeReverseFieldComplements(t *testing.T) {
	e := mustEncoder(t, Config{Fields: []FieldSpec{{StartCol: 1, Flags: Flags{Reverse: true}}}})
	assert.Equal(t, 1, bytes.Compare(key(e, "a\n"), key(e, "b\n")))
	assert.Equal(t, 1, bytes.Compare(key(e, "ab\n"), key(e, "abc\n")))
}

func TestEncodeFieldOrderingMatchesExpectations(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		ordered []string
	}{
		{
			name:    "second field text",
			cfg:     Config{Fields: []FieldSpec{{StartCol: 2, EndCol: 2, Flags: Flags{SkipBlanksStart: true}}}},
			ordered: []string{"z apple\n", "a banana\n", "m cherry\n"},
		},
		{
			name:    "numeric then reverse text",
			cfg:     Config{Fields: []FieldSpec{{StartCol: 1, EndCol: 1, Flags: Flags{Numeric: true}}, {StartCol: 2, Flags: Flags{Reverse: true}}}},
			ordered: []string{"2 b\n", "2 a\n", "10 z\n"},
		},
		{
			name:    "tab delimited numeric",
			cfg:     Config{Fields: []FieldSpec{{StartCol: 3, EndCol: 3, Flags: Flags{Numeric: true}}}, FieldDelim: '\t', RecordDelim: '\n'},
			ordered: []string{"x\ty\t-4\n", "a\tb\t3\n", "q\tr\t30\n"},
		},
		{
			name:    "fold case",
			cfg:     Config{Global: Flags{FoldCase: true, Dictionary: true}},
			ordered: []string{"a-lpha\n", "Beta\n", "gamma\n"},
		},
		{
			name:    "character offsets",
			cfg:     Config{Fields: []FieldSpec{{StartCol: 1, StartChar: 3, EndCol: 1, EndChar: 4}}},
			ordered: []string{"zzaa\n", "aabb\n", "mmcc\n"},
		},
		{
			name:    "missing field sorts first",
			cfg:     Config{Fields: []FieldSpec{{StartCol: 3}}},
			ordered: []string{"only one\n", "a b c\n", "a b d\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mustEncoder(t, tt.cfg)
			for i := 1; i < len(tt.ordered); i++ {
				a, b := key(e, tt.ordered[i-1]), key(e, tt.ordered[i])
				assert.Equal(t, -1, bytes.Compare(a, b), "%q < %q", tt.ordered[i-1], tt.ordered[i])
			}
		})
	}
}

func TestFieldInheritsGlobalFlags(t *testing.T) {
	e := mustEncoder(t, Config{
		Fields: []FieldSpec{{StartCol: 1}},
		Global: Flags{Numeric: true, Reverse: true},
	})
	assert.Equal(t, 1, bytes.Compare(key(e, "9\n"), key(e, "10\n")))

	own := mustEncoder(t, Config{
		Fields: []FieldSpec{{StartCol: 1, Flags: Flags{Numeric: true}}},
		Global: Flags{Reverse: true},
	})
	assert.Equal(t, -1, bytes.Compare(key(own, "9\n"), key(own, "10\n")))
}

func TestNumericOverflowIsReported(t *testing.T) {
	var seen [][]byte
	e := mustEncoder(t, Config{
		Fields:      []FieldSpec{{StartCol: 1, Flags: Flags{Numeric: true}}},
		FieldDelim:  NoFieldDelim,
		RecordDelim: '\n',
		OnOverflow:  func(f []byte) { seen = append(seen, bytes.Clone(f)) },
	})
	huge := bytes.Repeat([]byte("7"), MaxExponent+5)
	_ = e.AppendKey(nil, append(huge, '\n'))
	assert.Equal(t, int64(1), e.Overflows())
	require.Len(t, seen, 1)
	assert.Equal(t, huge, seen[0])
}

func TestKeyedLayout(t *testing.T) {
	e := mustEncoder(t, Config{Fields: []FieldSpec{{StartCol: 1}}})
	arena, kr := e.Keyed(nil, []byte("xy\n"))
	assert.Equal(t, "xy\n", string(kr.Record()))
	assert.Equal(t, key(e, "xy\n"), kr.Key())
	assert.Len(t, arena, kr.Size())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{FieldDelim: '\n', RecordDelim: '\n'})
	assert.Error(t, err)

	_, err = New(Config{
		Fields:      []FieldSpec{{StartCol: 3, EndCol: 2}},
		FieldDelim:  NoFieldDelim,
		RecordDelim: '\n',
	})
	assert.Error(t, err)
}
