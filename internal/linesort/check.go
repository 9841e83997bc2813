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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cardinalhq/lakesort/internal/record"
)

// CheckResult is the outcome of CheckOrder. A disorder is a normal result,
// not an error.
type CheckResult struct {
	Sorted  bool
	Records int64
	// Line, Offset and Record describe the first record found out of
	// order. Line is 1-based; Offset is the byte offset in the source.
	Line   int64
	Offset int64
	Record []byte
}

// CheckOrder reads src and reports whether it is already in order. With
// Unique, two adjacent equal keys also count as disorder. Nothing is
// spilled.
func (e *Engine) CheckOrder(ctx context.Context, src Source) (CheckResult, error) {
	start := time.Now()
	count := &counters{}
	r, err := e.newRecordReader(src, count, nil)
	if err != nil {
		return CheckResult{}, err
	}

	res := CheckResult{Sorted: true}
	var prevBuf []byte
	var prev record.KeyedRecord
	have := false
	for {
		if count.records%4096 == 0 && ctx.Err() != nil {
			return res, ctx.Err()
		}
		kr, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("check: %w", err)
		}
		if have {
			c := e.ord.Compare(prev, kr)
			if c > 0 || (c == 0 && e.opts.Unique) {
				res.Sorted = false
				res.Line = r.lr.Line()
				res.Offset = r.lr.Offset()
				res.Record = bytes.Clone(kr.Record())
				break
			}
		}
		prevBuf = append(prevBuf[:0], kr.Data...)
		prev = record.KeyedRecord{Data: prevBuf, Offset: kr.Offset}
		have = true
	}
	res.Records = count.records

	sum := Summary{
		Operation:        "check",
		Inputs:           1,
		RecordsIn:        count.records,
		Dropped:          count.dropped,
		NumericOverflows: count.overflows,
		Elapsed:          time.Since(start),
	}
	sum.record(ctx, nil)
	return res, nil
}
