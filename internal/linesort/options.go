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

package linesort

import (
	"errors"
	"fmt"

	"github.com/cardinalhq/lakesort/internal/fsort"
	"github.com/cardinalhq/lakesort/internal/keyenc"
	"github.com/cardinalhq/lakesort/internal/msort"
	"github.com/cardinalhq/lakesort/internal/recstore"
)

// ErrConfig wraps every configuration error reported before sorting starts.
var ErrConfig = errors.New("invalid sort configuration")

// Options configure an Engine.
type Options struct {
	// Fields are the sort keys in priority order. Without fields the whole
	// record is the key.
	Fields []keyenc.FieldSpec `mapstructure:"fields" yaml:"fields"`
	// Global options apply to fields that carry none of their own.
	Global keyenc.Flags `mapstructure:"global" yaml:"global"`
	// FieldDelim separates fields; keyenc.NoFieldDelim means runs of blanks.
	FieldDelim  int  `mapstructure:"field_delim" yaml:"field_delim"`
	RecordDelim byte `mapstructure:"record_delim" yaml:"record_delim"`

	Unique bool `mapstructure:"unique" yaml:"unique"`
	Stable bool `mapstructure:"stable" yaml:"stable"`

	TempDir      string `mapstructure:"temp_dir" yaml:"temp_dir"`
	MaxOpenFiles int    `mapstructure:"max_open_files" yaml:"max_open_files"`
	MinFreeBytes uint64 `mapstructure:"min_free_bytes" yaml:"min_free_bytes"`

	// InitialBuffer is the starting size of read buffers, which double up
	// to MaxRecordSize. Longer records are dropped.
	InitialBuffer int `mapstructure:"initial_buffer" yaml:"initial_buffer"`
	MaxRecordSize int `mapstructure:"max_record_size" yaml:"max_record_size"`

	BatchRecords int    `mapstructure:"batch_records" yaml:"batch_records"`
	BatchBytes   int    `mapstructure:"batch_bytes" yaml:"batch_bytes"`
	FanIn        int    `mapstructure:"fan_in" yaml:"fan_in"`
	PanicDepth   int    `mapstructure:"panic_depth" yaml:"panic_depth"`
	SpillCodec   string `mapstructure:"spill_codec" yaml:"spill_codec"`
	SegmentBytes int    `mapstructure:"segment_bytes" yaml:"segment_bytes"`

	// CollectStats adds length quantiles and a distinct key estimate to
	// the Summary.
	CollectStats bool `mapstructure:"collect_stats" yaml:"collect_stats"`
}

// DefaultOptions returns whole-line ascending sort options.
func DefaultOptions() Options {
	return Options{
		FieldDelim:    keyenc.NoFieldDelim,
		RecordDelim:   '\n',
		InitialBuffer: 64 * 1024,
		MaxRecordSize: 16 * 1024 * 1024,
		BatchRecords:  fsort.DefaultBatchRecords,
		BatchBytes:    fsort.DefaultBatchBytes,
		FanIn:         msort.DefaultFanIn,
		PanicDepth:    fsort.DefaultPanicDepth,
		SpillCodec:    string(recstore.CodecNone),
		SegmentBytes:  recstore.DefaultSegmentBytes,
	}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Validate reports the first problem with o.
func (o Options) Validate() error {
	for i, fs := range o.Fields {
		if err := fs.Validate(); err != nil {
			return fmt.Errorf("%w: key %d: %w", ErrConfig, i+1, err)
		}
	}
	if o.FieldDelim != keyenc.NoFieldDelim && (o.FieldDelim < 0 || o.FieldDelim > 255) {
		return configError("field delimiter %d is not a byte", o.FieldDelim)
	}
	if o.FieldDelim == int(o.RecordDelim) {
		return configError("field delimiter and record delimiter are both %q", o.RecordDelim)
	}
	panicDepth := o.PanicDepth
	if panicDepth == 0 {
		panicDepth = fsort.DefaultPanicDepth
	}
	switch {
	case o.InitialBuffer < 0, o.MaxRecordSize < 0, o.BatchRecords < 0, o.BatchBytes < 0, o.SegmentBytes < 0, o.MaxOpenFiles < 0:
		return configError("buffer sizes and limits must not be negative")
	case o.FanIn != 0 && o.FanIn < 2:
		return configError("fan-in %d: at least 2 inputs per merge", o.FanIn)
	case o.PanicDepth < 0:
		return configError("panic depth %d is negative", o.PanicDepth)
	case o.MaxRecordSize > 0 && o.InitialBuffer > o.MaxRecordSize:
		return configError("initial buffer %d exceeds max record size %d", o.InitialBuffer, o.MaxRecordSize)
	case o.MaxRecordSize > 0 && o.BatchBytes > 0 && o.MaxRecordSize > o.BatchBytes:
		return configError("max record size %d exceeds batch bytes %d", o.MaxRecordSize, o.BatchBytes)
	case o.MaxOpenFiles > 0 && o.MaxOpenFiles < 2*panicDepth+3:
		// Each partition level holds a reader and a tail open; a merge
		// needs two inputs and an output.
		return configError("max open files %d is too small for panic depth %d", o.MaxOpenFiles, panicDepth)
	}
	if _, err := recstore.ParseCodec(o.SpillCodec); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func (o Options) keyConfig() keyenc.Config {
	return keyenc.Config{
		Fields:      o.Fields,
		Global:      o.Global,
		FieldDelim:  o.FieldDelim,
		RecordDelim: o.RecordDelim,
	}
}
