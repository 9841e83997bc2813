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

package bytebuf

import (
	"errors"
	"fmt"
)

// ErrCeiling is returned when a buffer would have to grow past its ceiling.
var ErrCeiling = errors.New("buffer ceiling reached")

// Buffer is a byte slice that grows by doubling up to a fixed ceiling.
// Growing keeps only the prefix the caller asks for.
type Buffer struct {
	b       []byte
	ceiling int
}

// New allocates a buffer of initial bytes that may grow to ceiling bytes.
// A ceiling below initial is raised to initial.
func New(initial, ceiling int) *Buffer {
	if initial <= 0 {
		initial = 4096
	}
	if ceiling < initial {
		ceiling = initial
	}
	return &Buffer{b: make([]byte, initial), ceiling: ceiling}
}

// Bytes returns the full backing slice.
func (b *Buffer) Bytes() []byte { return b.b }

// Len returns the current size of the buffer.
func (b *Buffer) Len() int { return len(b.b) }

// Ceiling returns the largest size the buffer may reach.
func (b *Buffer) Ceiling() int { return b.ceiling }

// Grow doubles the buffer, clamped to the ceiling. The first keep bytes are
// preserved.
func (b *Buffer) Grow(keep int) error {
	if len(b.b) >= b.ceiling {
		return fmt.Errorf("grow past %d bytes: %w", b.ceiling, ErrCeiling)
	}
	n := min(len(b.b)*2, b.ceiling)
	nb := make([]byte, n)
	copy(nb, b.b[:keep])
	b.b = nb
	return nil
}

// Ensure grows the buffer until it holds at least n bytes, preserving the
// first keep bytes.
func (b *Buffer) Ensure(n, keep int) error {
	if n > b.ceiling {
		return fmt.Errorf("need %d bytes, ceiling is %d: %w", n, b.ceiling, ErrCeiling)
	}
	for len(b.b) < n {
		if err := b.Grow(keep); err != nil {
			return err
		}
	}
	return nil
}
