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

package emit

import (
	"io"

	"github.com/cardinalhq/lakesort/internal/record"
)

// TailFile holds a deferred tail while it is written and read back.
type TailFile interface {
	io.ReadWriteSeeker
	io.Closer
}

// Tail is an Assembler whose output is parked in a file until it can be
// appended to another Assembler.
type Tail struct {
	*Assembler
	f TailFile
}

// NewTail writes record bytes to f.
func NewTail(f TailFile, ord *record.Ordering, unique bool) *Tail {
	return &Tail{Assembler: NewAssembler(f, ord, unique), f: f}
}

// Close closes the underlying file.
func (t *Tail) Close() error { return t.f.Close() }
