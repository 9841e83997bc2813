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

package msort

import (
	"sort"

	"github.com/cardinalhq/lakesort/internal/record"
)

type slot struct {
	kr  record.KeyedRecord
	src int
}

// Frontier holds the current record of every input being merged. Slots are
// kept in descending output order so the next record to emit sits at the
// end and is removed without shifting. Equal sort strings go to the lower
// input index first.
type Frontier struct {
	ord   *record.Ordering
	slots []slot
}

// NewFrontier returns an empty frontier sized for n inputs.
func NewFrontier(ord *record.Ordering, n int) *Frontier {
	return &Frontier{ord: ord, slots: make([]slot, 0, n)}
}

func (f *Frontier) before(a, b slot) bool {
	if c := f.ord.Compare(a.kr, b.kr); c != 0 {
		return c < 0
	}
	return a.src < b.src
}

// Insert places kr from input src by binary search.
func (f *Frontier) Insert(kr record.KeyedRecord, src int) {
	s := slot{kr: kr, src: src}
	i := sort.Search(len(f.slots), func(i int) bool { return f.before(f.slots[i], s) })
	f.slots = append(f.slots, slot{})
	copy(f.slots[i+1:], f.slots[i:])
	f.slots[i] = s
}

// Pop removes and returns the next record in output order and the input it
// came from.
func (f *Frontier) Pop() (record.KeyedRecord, int) {
	n := len(f.slots) - 1
	s := f.slots[n]
	f.slots[n] = slot{}
	f.slots = f.slots[:n]
	return s.kr, s.src
}

// Len returns the number of occupied slots.
func (f *Frontier) Len() int { return len(f.slots) }
