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
	"context"
	"time"

	"github.com/cardinalhq/lakesort/internal/sortstats"
)

// Summary reports what one operation did.
type Summary struct {
	Operation string `json:"operation" yaml:"operation"`
	Inputs    int    `json:"inputs" yaml:"inputs"`

	RecordsIn        int64 `json:"records_in" yaml:"records_in"`
	RecordsOut       int64 `json:"records_out" yaml:"records_out"`
	Dropped          int64 `json:"dropped" yaml:"dropped"`
	Duplicates       int64 `json:"duplicates" yaml:"duplicates"`
	NumericOverflows int64 `json:"numeric_overflows" yaml:"numeric_overflows"`

	RunsWritten  int64 `json:"runs_written" yaml:"runs_written"`
	BytesSpilled int64 `json:"bytes_spilled" yaml:"bytes_spilled"`
	TempFiles    int64 `json:"temp_files" yaml:"temp_files"`
	Partitions   int64 `json:"partitions" yaml:"partitions"`
	MergeRounds  int64 `json:"merge_rounds" yaml:"merge_rounds"`
	PanicMerges  int64 `json:"panic_merges" yaml:"panic_merges"`
	MaxDepth     int   `json:"max_depth" yaml:"max_depth"`

	OutputBytes int64 `json:"output_bytes" yaml:"output_bytes"`
	// Digest is the xxhash64 of the output bytes.
	Digest uint64 `json:"digest" yaml:"digest"`

	// Only filled in when statistics are collected.
	LengthP50    float64 `json:"length_p50,omitempty" yaml:"length_p50,omitempty"`
	LengthP99    float64 `json:"length_p99,omitempty" yaml:"length_p99,omitempty"`
	DistinctKeys uint64  `json:"distinct_keys,omitempty" yaml:"distinct_keys,omitempty"`

	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

func (s *Summary) fill(stats *sortstats.Collector, start time.Time) {
	s.Elapsed = time.Since(start)
	if stats == nil {
		return
	}
	s.LengthP50 = stats.LengthQuantile(0.5)
	s.LengthP99 = stats.LengthQuantile(0.99)
	s.DistinctKeys = stats.DistinctKeys()
}

func (s *Summary) record(ctx context.Context, err error) {
	attr := operationAttr(s.Operation)
	recordsIn.Add(ctx, s.RecordsIn, attr)
	recordsOut.Add(ctx, s.RecordsOut, attr)
	recordsDropped.Add(ctx, s.Dropped, attr)
	recordsDuplicate.Add(ctx, s.Duplicates, attr)
	numericOverflows.Add(ctx, s.NumericOverflows, attr)
	runsWritten.Add(ctx, s.RunsWritten, attr)
	bytesSpilled.Add(ctx, s.BytesSpilled, attr)
	mergeRounds.Add(ctx, s.MergeRounds, attr)
	sortDuration.Record(ctx, s.Elapsed.Seconds(), attr)
	if err != nil {
		operationErrors.Add(ctx, 1, attr)
	}
}
