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
	"fmt"
	"math"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakesort/internal/keyenc"
	"github.com/cardinalhq/lakesort/internal/linesort"
)

// sortFlags are the command line ordering and tuning options. Only flags
// the user actually set override the loaded configuration.
type sortFlags struct {
	keys       []string
	separator  string
	zero       bool
	unique     bool
	stable     bool
	reverse    bool
	foldCase   bool
	numeric    bool
	dictionary bool
	nonprint   bool
	blanks     bool

	merge  bool
	check  bool
	output string

	tempDir       string
	bufferSize    string
	batchRecords  int
	fanIn         int
	panicDepth    int
	spillCodec    string
	maxOpenFiles  int
	maxRecordSize string
	stats         bool
}

func (f *sortFlags) register(c *cobra.Command) {
	fl := c.Flags()
	fl.StringArrayVarP(&f.keys, "key", "k", nil, "sort key `KEYDEF` as F[.C][OPTS][,F[.C][OPTS]], repeatable")
	fl.StringVarP(&f.separator, "field-separator", "t", "", "use `SEP` instead of blank runs between fields")
	fl.BoolVarP(&f.zero, "zero-terminated", "z", false, "records end with NUL, not newline")
	fl.BoolVarP(&f.unique, "unique", "u", false, "output only the first of records with equal keys")
	fl.BoolVarP(&f.stable, "stable", "s", false, "keep input order among records with equal keys")
	fl.BoolVarP(&f.reverse, "reverse", "r", false, "reverse the result of comparisons")
	fl.BoolVarP(&f.foldCase, "ignore-case", "f", false, "fold lower case to upper case")
	fl.BoolVarP(&f.numeric, "numeric-sort", "n", false, "compare by leading decimal number")
	fl.BoolVarP(&f.dictionary, "dictionary-order", "d", false, "consider only blanks and alphanumerics")
	fl.BoolVarP(&f.nonprint, "ignore-nonprinting", "i", false, "consider only printable characters")
	fl.BoolVarP(&f.blanks, "ignore-leading-blanks", "b", false, "ignore leading blanks in keys")

	fl.BoolVarP(&f.merge, "merge", "m", false, "merge already sorted inputs")
	fl.BoolVarP(&f.check, "check", "c", false, "check whether the input is sorted")
	fl.StringVarP(&f.output, "output", "o", "", "write to `FILE` or object URL instead of stdout")

	fl.StringVarP(&f.tempDir, "temporary-directory", "T", "", "spill temporary files under `DIR`")
	fl.StringVarP(&f.bufferSize, "buffer-size", "S", "", "in-memory batch `SIZE` (b, K, M, G, T suffix; K by default)")
	fl.IntVar(&f.batchRecords, "batch-records", 0, "records per in-memory batch")
	fl.IntVar(&f.fanIn, "fan-in", 0, "runs merged per merge round")
	fl.IntVar(&f.panicDepth, "panic-depth", 0, "partition depth at which sorting switches to merging")
	fl.StringVar(&f.spillCodec, "spill-codec", "", "spill compression: none, zstd or lz4")
	fl.IntVar(&f.maxOpenFiles, "max-open-files", 0, "temporary files open at once")
	fl.StringVar(&f.maxRecordSize, "max-record-size", "", "drop records longer than `SIZE`")
	fl.BoolVar(&f.stats, "stats", false, "print a run summary to stderr")
}

// apply overlays the flags the user set onto opts.
func (f *sortFlags) apply(c *cobra.Command, opts *linesort.Options) error {
	changed := c.Flags().Changed

	if changed("key") {
		opts.Fields = opts.Fields[:0]
		for _, k := range f.keys {
			fs, err := keyenc.ParseKeySpec(k)
			if err != nil {
				return err
			}
			opts.Fields = append(opts.Fields, fs)
		}
	}
	if changed("field-separator") {
		d, err := parseDelimiter(f.separator)
		if err != nil {
			return err
		}
		opts.FieldDelim = d
	}
	if changed("zero-terminated") && f.zero {
		opts.RecordDelim = 0
	}

	setBool := func(name string, dst *bool, v bool) {
		if changed(name) {
			*dst = v
		}
	}
	setBool("unique", &opts.Unique, f.unique)
	setBool("stable", &opts.Stable, f.stable)
	setBool("reverse", &opts.Global.Reverse, f.reverse)
	setBool("ignore-case", &opts.Global.FoldCase, f.foldCase)
	setBool("numeric-sort", &opts.Global.Numeric, f.numeric)
	setBool("dictionary-order", &opts.Global.Dictionary, f.dictionary)
	setBool("ignore-nonprinting", &opts.Global.IgnoreNonprinting, f.nonprint)
	setBool("ignore-leading-blanks", &opts.Global.SkipBlanksStart, f.blanks)
	setBool("ignore-leading-blanks", &opts.Global.SkipBlanksEnd, f.blanks)
	setBool("stats", &opts.CollectStats, f.stats)

	if changed("temporary-directory") {
		opts.TempDir = f.tempDir
	}
	if changed("buffer-size") {
		n, err := parseSize(f.bufferSize)
		if err != nil {
			return fmt.Errorf("buffer size: %w", err)
		}
		opts.BatchBytes = n
		// Keep the record ceiling within the batch.
		opts.MaxRecordSize = min(opts.MaxRecordSize, n)
		opts.InitialBuffer = min(opts.InitialBuffer, opts.MaxRecordSize)
	}
	if changed("max-record-size") {
		n, err := parseSize(f.maxRecordSize)
		if err != nil {
			return fmt.Errorf("max record size: %w", err)
		}
		opts.MaxRecordSize = n
		opts.InitialBuffer = min(opts.InitialBuffer, n)
	}
	setInt := func(name string, dst *int, v int) {
		if changed(name) {
			*dst = v
		}
	}
	setInt("batch-records", &opts.BatchRecords, f.batchRecords)
	setInt("fan-in", &opts.FanIn, f.fanIn)
	setInt("panic-depth", &opts.PanicDepth, f.panicDepth)
	setInt("max-open-files", &opts.MaxOpenFiles, f.maxOpenFiles)
	if changed("spill-codec") {
		opts.SpillCodec = f.spillCodec
	}
	return nil
}

// parseDelimiter accepts a single byte or the escape \0.
func parseDelimiter(s string) (int, error) {
	switch {
	case s == `\0`:
		return 0, nil
	case len(s) == 1:
		return int(s[0]), nil
	case s == "":
		return 0, fmt.Errorf("empty field separator")
	default:
		return 0, fmt.Errorf("field separator %q is not a single byte", s)
	}
}

// parseSize reads sizes like "512", "64M", "1.5G" or "2GiB", in powers of
// 1024. A bare number is in KiB; a "b" suffix means bytes.
func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	if last := s[len(s)-1]; last >= '0' && last <= '9' || last == '.' {
		s += "K"
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size %q must be positive", s)
	}
	// Out-of-range float conversions saturate or wrap inside RAMInBytes.
	if n >= math.MaxInt64 || n > int64(math.MaxInt) {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return int(n), nil
}
