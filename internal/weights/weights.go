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

// Package weights builds the byte-to-byte collation tables used to compare
// records and key fields.
package weights

// Table maps every input byte to its collation weight. The map is monotone:
// comparing weights gives the collation order of the underlying bytes.
type Table [256]byte

// Build returns the table for the given ordering policy.
//
// In ascending order the record delimiter weighs 0 and every other byte is
// ranked from 1 upward, so no other byte can collide with the delimiter.
// Descending order is the complement of the ascending table. With foldCase a
// lowercase letter shares the weight of its uppercase counterpart.
func Build(reverse, foldCase bool, delim byte) *Table {
	var canon [256]byte
	for i := range 256 {
		b := byte(i)
		canon[i] = b
		if foldCase && b >= 'a' && b <= 'z' {
			up := b - 'a' + 'A'
			// Never fold onto the delimiter; it must keep its own weight.
			if up != delim && b != delim {
				canon[i] = up
			}
		}
	}

	// Rank the distinct canonical values in byte order.
	var rank [256]byte
	var seen [256]bool
	for i := range 256 {
		if byte(i) != delim {
			seen[canon[i]] = true
		}
	}
	next := 1
	for i := range 256 {
		if seen[i] {
			rank[i] = byte(next)
			next++
		}
	}

	t := &Table{}
	for i := range 256 {
		b := byte(i)
		if b == delim {
			t[i] = 0
			continue
		}
		t[i] = rank[canon[i]]
	}
	if reverse {
		for i := range t {
			t[i] = 255 - t[i]
		}
	}
	return t
}

// Identity returns a table that maps every byte to itself.
func Identity() *Table {
	t := &Table{}
	for i := range t {
		t[i] = byte(i)
	}
	return t
}

// Weight returns the collation weight for b.
func (t *Table) Weight(b byte) byte {
	return t[b]
}

// Reverse returns the complement of t.
func (t *Table) Reverse() *Table {
	r := &Table{}
	for i := range t {
		r[i] = 255 - t[i]
	}
	return r
}

// Compare collates a and b through the table, then by length.
func (t *Table) Compare(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		wa, wb := t[a[i]], t[b[i]]
		if wa != wb {
			if wa < wb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
