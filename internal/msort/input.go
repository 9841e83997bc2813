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
	"fmt"
	"io"

	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
	"github.com/cardinalhq/lakesort/internal/tmpstore"
)

// Iterator yields the records of one sorted input. Records may alias
// internal buffers and stay valid only until the next call to Next.
type Iterator interface {
	Next() (record.KeyedRecord, error)
	Close() error
}

// Input is a sorted sequence of records taking part in a merge. It is opened
// once and discarded as soon as it has been fully consumed.
type Input interface {
	Open() (Iterator, error)
	Discard() error
}

// RunInput is a sorted run file in a temp store.
type RunInput struct {
	Store   *tmpstore.Store
	Path    string
	Options recstore.ReaderOptions
}

func (r RunInput) Open() (Iterator, error) {
	f, err := r.Store.Open(r.Path)
	if err != nil {
		return nil, err
	}
	rr, err := recstore.OpenRun(f, r.Options)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open run %s: %w", r.Path, err)
	}
	return rr, nil
}

func (r RunInput) Discard() error { return r.Store.Remove(r.Path) }

// SliceInput is a sorted batch still held in memory.
type SliceInput []record.KeyedRecord

func (s SliceInput) Open() (Iterator, error) {
	return &sliceIterator{recs: s}, nil
}

func (s SliceInput) Discard() error { return nil }

type sliceIterator struct {
	recs []record.KeyedRecord
	pos  int
}

func (it *sliceIterator) Next() (record.KeyedRecord, error) {
	if it.pos >= len(it.recs) {
		return record.KeyedRecord{}, io.EOF
	}
	kr := it.recs[it.pos]
	it.pos++
	return kr, nil
}

func (it *sliceIterator) Close() error { return nil }
