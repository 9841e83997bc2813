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

package fsort

import (
	"github.com/cardinalhq/lakesort/internal/record"
)

// insertionThreshold is the slice length below which radix passes give way
// to insertion sort.
const insertionThreshold = 24

// binCount covers the ended bin plus one bin per byte value.
const binCount = 257

// binOf returns the bin of kr at depth: 0 when its sort string has ended,
// otherwise the byte value plus one.
func binOf(ord *record.Ordering, kr record.KeyedRecord, depth int) int {
	if depth >= ord.Len(kr) {
		return 0
	}
	return int(ord.ByteAt(kr, depth)) + 1
}

// radixSort sorts recs, which share their first depth sort string bytes,
// with a stable most-significant-byte-first radix sort. scratch must be at
// least as long as recs.
func radixSort(ord *record.Ordering, recs, scratch []record.KeyedRecord, depth int) {
	for {
		if len(recs) < 2 {
			return
		}
		if len(recs) < insertionThreshold {
			insertionSort(ord, recs)
			return
		}

		var counts [binCount]int
		for _, kr := range recs {
			counts[binOf(ord, kr, depth)]++
		}

		// A single populated bin makes no progress; step to the next byte.
		if b := soleBin(&counts, len(recs)); b >= 0 {
			if b == 0 {
				return
			}
			depth++
			continue
		}

		distribute(ord, recs, scratch, &counts, depth)

		lo := counts[0]
		for b := 1; b < binCount; b++ {
			n := counts[b]
			if n > 1 {
				radixSort(ord, recs[lo:lo+n], scratch[lo:lo+n], depth+1)
			}
			lo += n
		}
		return
	}
}

func soleBin(counts *[binCount]int, n int) int {
	for b, c := range counts {
		if c == n {
			return b
		}
		if c != 0 {
			return -1
		}
	}
	return -1
}

// distribute reorders recs by bin at depth, keeping the relative order of
// records within a bin.
func distribute(ord *record.Ordering, recs, scratch []record.KeyedRecord, counts *[binCount]int, depth int) {
	var next [binCount]int
	pos := 0
	for b, c := range counts {
		next[b] = pos
		pos += c
	}
	for _, kr := range recs {
		b := binOf(ord, kr, depth)
		scratch[next[b]] = kr
		next[b]++
	}
	copy(recs, scratch[:len(recs)])
}

func insertionSort(ord *record.Ordering, recs []record.KeyedRecord) {
	for i := 1; i < len(recs); i++ {
		kr := recs[i]
		j := i
		for j > 0 && ord.Compare(recs[j-1], kr) > 0 {
			recs[j] = recs[j-1]
			j--
		}
		recs[j] = kr
	}
}
