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

package record

import (
	"bytes"

	"github.com/cardinalhq/lakesort/internal/weights"
)

// KeyedRecord holds an encoded sort key followed by the record it was
// derived from. Data[:Offset] is the key, Data[Offset:] is the record
// including its trailing delimiter.
type KeyedRecord struct {
	Data   []byte
	Offset int
}

// Key returns the encoded key bytes.
func (kr KeyedRecord) Key() []byte { return kr.Data[:kr.Offset] }

// Record returns the original record bytes.
func (kr KeyedRecord) Record() []byte { return kr.Data[kr.Offset:] }

// Size is the number of bytes held, key and record together.
func (kr KeyedRecord) Size() int { return len(kr.Data) }

// Clone returns a copy that does not alias the receiver's storage.
func (kr KeyedRecord) Clone() KeyedRecord {
	return KeyedRecord{Data: bytes.Clone(kr.Data), Offset: kr.Offset}
}

// Ordering defines the sort string of a KeyedRecord and how two of them
// compare.
//
// The sort string is the key, or the weighted record in raw mode. Unless
// Stable is set it is followed by the record bytes, complemented when
// Reverse is set, which serve as the last-resort comparison.
type Ordering struct {
	// Raw compares the record itself through Weights. Keys are empty.
	Raw     bool
	Weights *weights.Table
	Stable  bool
	Reverse bool
}

func (o *Ordering) keyLen(kr KeyedRecord) int {
	if o.Raw {
		return len(kr.Data) - kr.Offset
	}
	return kr.Offset
}

// Len returns the length of the sort string of kr.
func (o *Ordering) Len(kr KeyedRecord) int {
	n := o.keyLen(kr)
	if !o.Stable {
		n += len(kr.Data) - kr.Offset
	}
	return n
}

// ByteAt returns the byte of the sort string at depth d. The caller checks
// d against Len.
func (o *Ordering) ByteAt(kr KeyedRecord, d int) byte {
	klen := o.keyLen(kr)
	if d < klen {
		if o.Raw {
			return o.Weights[kr.Data[kr.Offset+d]]
		}
		return kr.Data[d]
	}
	b := kr.Data[kr.Offset+d-klen]
	if o.Reverse {
		b = ^b
	}
	return b
}

// CompareKeys compares only the key part of the sort strings.
func (o *Ordering) CompareKeys(a, b KeyedRecord) int {
	if o.Raw {
		return o.Weights.Compare(a.Record(), b.Record())
	}
	return bytes.Compare(a.Key(), b.Key())
}

// KeyEqual reports whether a and b would be duplicates under unique output.
func (o *Ordering) KeyEqual(a, b KeyedRecord) bool {
	if o.Raw {
		return o.Weights.Compare(a.Record(), b.Record()) == 0
	}
	return bytes.Equal(a.Key(), b.Key())
}

// Compare compares full sort strings. Under Stable, equal keys compare equal
// and the caller breaks ties by input position.
func (o *Ordering) Compare(a, b KeyedRecord) int {
	if c := o.CompareKeys(a, b); c != 0 || o.Stable {
		return c
	}
	if o.Reverse {
		return compareComplemented(a.Record(), b.Record())
	}
	return bytes.Compare(a.Record(), b.Record())
}

func compareComplemented(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			if ^a[i] < ^b[i] {
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
