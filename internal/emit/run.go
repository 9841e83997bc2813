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
	"github.com/cardinalhq/lakesort/internal/record"
	"github.com/cardinalhq/lakesort/internal/recstore"
)

// RunAssembler emits whole keyed records into a run, for output that will
// be merged again.
type RunAssembler struct {
	w          *recstore.RunWriter
	dedup      dedup
	emitted    int64
	duplicates int64
}

func NewRunAssembler(w *recstore.RunWriter, ord *record.Ordering, unique bool) *RunAssembler {
	return &RunAssembler{w: w, dedup: dedup{ord: ord, on: unique}}
}

func (r *RunAssembler) Emit(kr record.KeyedRecord) error {
	if r.dedup.duplicate(kr) {
		r.duplicates++
		return nil
	}
	if err := r.w.Write(kr); err != nil {
		return err
	}
	r.emitted++
	return nil
}

func (r *RunAssembler) Emitted() int64    { return r.emitted }
func (r *RunAssembler) Duplicates() int64 { return r.duplicates }
