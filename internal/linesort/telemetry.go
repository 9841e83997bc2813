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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	recordsIn        metric.Int64Counter
	recordsOut       metric.Int64Counter
	recordsDropped   metric.Int64Counter
	recordsDuplicate metric.Int64Counter
	numericOverflows metric.Int64Counter
	runsWritten      metric.Int64Counter
	bytesSpilled     metric.Int64Counter
	mergeRounds      metric.Int64Counter
	operationErrors  metric.Int64Counter
	sortDuration     metric.Float64Histogram
)

func mustCounter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		panic(fmt.Errorf("failed to create %s counter: %w", name, err))
	}
	return c
}

func init() {
	meter := otel.Meter("github.com/cardinalhq/lakesort/internal/linesort")

	recordsIn = mustCounter(meter, "lakesort.records.in", "Records read from inputs")
	recordsOut = mustCounter(meter, "lakesort.records.out", "Records written to the output")
	recordsDropped = mustCounter(meter, "lakesort.records.dropped", "Records dropped for exceeding the size limit")
	recordsDuplicate = mustCounter(meter, "lakesort.records.duplicate", "Records suppressed by unique output")
	numericOverflows = mustCounter(meter, "lakesort.numeric.overflows", "Numeric fields whose exponent was out of range")
	runsWritten = mustCounter(meter, "lakesort.runs.written", "Temporary runs written")
	bytesSpilled = mustCounter(meter, "lakesort.spill.bytes", "Bytes written to temporary runs")
	mergeRounds = mustCounter(meter, "lakesort.merge.rounds", "External merge rounds")
	operationErrors = mustCounter(meter, "lakesort.errors", "Operations that failed")

	var err error
	sortDuration, err = meter.Float64Histogram(
		"lakesort.sort.duration",
		metric.WithDescription("Duration of a sort, merge or check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create sort.duration histogram: %w", err))
	}
}
