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
	"fmt"
	"strconv"
	"strings"
)

// Flags are the per-field ordering options.
type Flags struct {
	Numeric           bool `mapstructure:"numeric" yaml:"numeric"`
	FoldCase          bool `mapstructure:"fold_case" yaml:"fold_case"`
	Dictionary        bool `mapstructure:"dictionary" yaml:"dictionary"`
	IgnoreNonprinting bool `mapstructure:"ignore_nonprinting" yaml:"ignore_nonprinting"`
	Reverse           bool `mapstructure:"reverse" yaml:"reverse"`
	SkipBlanksStart   bool `mapstructure:"skip_blanks_start" yaml:"skip_blanks_start"`
	SkipBlanksEnd     bool `mapstructure:"skip_blanks_end" yaml:"skip_blanks_end"`
}

// IsZero reports whether no option is set.
func (f Flags) IsZero() bool {
	return f == Flags{}
}

// Merge returns the union of f and g.
func (f Flags) Merge(g Flags) Flags {
	return Flags{
		Numeric:           f.Numeric || g.Numeric,
		FoldCase:          f.FoldCase || g.FoldCase,
		Dictionary:        f.Dictionary || g.Dictionary,
		IgnoreNonprinting: f.IgnoreNonprinting || g.IgnoreNonprinting,
		Reverse:           f.Reverse || g.Reverse,
		SkipBlanksStart:   f.SkipBlanksStart || g.SkipBlanksStart,
		SkipBlanksEnd:     f.SkipBlanksEnd || g.SkipBlanksEnd,
	}
}

// FieldSpec locates one key field within a record. Columns and character
// positions are 1-based. EndCol 0 runs to the end of the record and EndChar 0
// runs to the end of field EndCol.
type FieldSpec struct {
	StartCol  int   `mapstructure:"start_col" yaml:"start_col"`
	StartChar int   `mapstructure:"start_char" yaml:"start_char"`
	EndCol    int   `mapstructure:"end_col" yaml:"end_col"`
	EndChar   int   `mapstructure:"end_char" yaml:"end_char"`
	Flags     Flags `mapstructure:"flags" yaml:"flags"`
}

// Validate rejects positions that cannot select anything sensible.
func (fs FieldSpec) Validate() error {
	if fs.StartCol < 1 {
		return fmt.Errorf("field start column %d: columns start at 1", fs.StartCol)
	}
	if fs.StartChar < 0 || fs.EndCol < 0 || fs.EndChar < 0 {
		return fmt.Errorf("field %s: negative position", fs)
	}
	if fs.EndCol == 0 && fs.EndChar != 0 {
		return fmt.Errorf("field %s: end character without end column", fs)
	}
	if fs.EndCol != 0 {
		if fs.EndCol < fs.StartCol {
			return fmt.Errorf("field %s: end column precedes start column", fs)
		}
		start := max(fs.StartChar, 1)
		if fs.EndCol == fs.StartCol && fs.EndChar != 0 && fs.EndChar < start {
			return fmt.Errorf("field %s: end character precedes start character", fs)
		}
	}
	return nil
}

// String renders the field in -k syntax.
func (fs FieldSpec) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(fs.StartCol))
	if fs.StartChar > 1 {
		sb.WriteByte('.')
		sb.WriteString(strconv.Itoa(fs.StartChar))
	}
	f := fs.Flags
	f.SkipBlanksEnd = false
	sb.WriteString(f.letters())
	if fs.EndCol > 0 {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(fs.EndCol))
		if fs.EndChar > 0 {
			sb.WriteByte('.')
			sb.WriteString(strconv.Itoa(fs.EndChar))
		}
		if fs.Flags.SkipBlanksEnd {
			sb.WriteByte('b')
		}
	}
	return sb.String()
}

func (f Flags) letters() string {
	var sb strings.Builder
	if f.SkipBlanksStart {
		sb.WriteByte('b')
	}
	if f.Dictionary {
		sb.WriteByte('d')
	}
	if f.FoldCase {
		sb.WriteByte('f')
	}
	if f.IgnoreNonprinting {
		sb.WriteByte('i')
	}
	if f.Numeric {
		sb.WriteByte('n')
	}
	if f.Reverse {
		sb.WriteByte('r')
	}
	return sb.String()
}

// applyLetter sets the option for one ordering letter. A 'b' is reported
// back to the caller since its meaning depends on the key position.
func (f *Flags) applyLetter(c byte) (blank bool, err error) {
	switch c {
	case 'b':
		return true, nil
	case 'd':
		f.Dictionary = true
	case 'f':
		f.FoldCase = true
	case 'i':
		f.IgnoreNonprinting = true
	case 'n':
		f.Numeric = true
	case 'r':
		f.Reverse = true
	default:
		return false, fmt.Errorf("unsupported ordering option %q", c)
	}
	return false, nil
}

// ParseFlags parses global ordering letters such as "nr" or "bf". A 'b'
// applies to both ends of a field.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for i := 0; i < len(s); i++ {
		blank, err := f.applyLetter(s[i])
		if err != nil {
			return Flags{}, err
		}
		if blank {
			f.SkipBlanksStart = true
			f.SkipBlanksEnd = true
		}
	}
	return f, nil
}

// ParseKeySpec parses a POSIX key definition, "F[.C][OPTS][,F[.C][OPTS]]".
func ParseKeySpec(s string) (FieldSpec, error) {
	var fs FieldSpec
	startPart, endPart, hasEnd := strings.Cut(s, ",")

	col, char, opts, err := parsePosition(startPart)
	if err != nil {
		return FieldSpec{}, fmt.Errorf("key %q: %w", s, err)
	}
	if col == 0 {
		return FieldSpec{}, fmt.Errorf("key %q: field number is zero", s)
	}
	if char == 0 {
		return FieldSpec{}, fmt.Errorf("key %q: character offset is zero", s)
	}
	fs.StartCol = col
	fs.StartChar = max(char, 1)
	for i := 0; i < len(opts); i++ {
		blank, err := fs.Flags.applyLetter(opts[i])
		if err != nil {
			return FieldSpec{}, fmt.Errorf("key %q: %w", s, err)
		}
		if blank {
			fs.Flags.SkipBlanksStart = true
		}
	}

	if hasEnd {
		col, char, opts, err := parsePosition(endPart)
		if err != nil {
			return FieldSpec{}, fmt.Errorf("key %q: %w", s, err)
		}
		if col == 0 {
			return FieldSpec{}, fmt.Errorf("key %q: end field number is zero", s)
		}
		fs.EndCol = col
		fs.EndChar = max(char, 0)
		for i := 0; i < len(opts); i++ {
			blank, err := fs.Flags.applyLetter(opts[i])
			if err != nil {
				return FieldSpec{}, fmt.Errorf("key %q: %w", s, err)
			}
			if blank {
				fs.Flags.SkipBlanksEnd = true
			}
		}
	}

	if err := fs.Validate(); err != nil {
		return FieldSpec{}, err
	}
	return fs, nil
}

// parsePosition splits "F[.C]OPTS". char is -1 when absent.
func parsePosition(s string) (col, char int, opts string, err error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, 0, "", fmt.Errorf("missing field number in %q", s)
	}
	col, err = strconv.Atoi(s[:i])
	if err != nil {
		return 0, 0, "", fmt.Errorf("field number %q: %w", s[:i], err)
	}
	char = -1
	if i < len(s) && s[i] == '.' {
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == i+1 {
			return 0, 0, "", fmt.Errorf("missing character offset in %q", s)
		}
		char, err = strconv.Atoi(s[i+1 : j])
		if err != nil {
			return 0, 0, "", fmt.Errorf("character offset %q: %w", s[i+1:j], err)
		}
		i = j
	}
	return col, char, s[i:], nil
}
