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

package recstore

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrCorruptRun is returned when a run file does not parse.
	ErrCorruptRun = errors.New("corrupt run file")
	// ErrBufferCeiling is returned when a segment or record cannot fit in
	// the largest buffer the reader may allocate.
	ErrBufferCeiling = errors.New("run segment exceeds buffer ceiling")
)

var runMagic = [4]byte{'L', 'S', 'R', 'T'}

const runVersion = 1

// Kind tells what a run holds.
type Kind string

const (
	// KindPartition runs hold one segment per non-empty bin per batch.
	KindPartition Kind = "partition"
	// KindSorted runs hold records in sort order.
	KindSorted Kind = "sorted"
)

// RunHeader is stored CBOR-encoded at the start of every run file.
type RunHeader struct {
	Version int    `cbor:"v"`
	Codec   Codec  `cbor:"codec"`
	Kind    Kind   `cbor:"kind"`
	Depth   int    `cbor:"depth"`
	Created int64  `cbor:"created"`
	Session string `cbor:"session,omitempty"`
}

var (
	headerEncMode cbor.EncMode
	headerDecMode cbor.DecMode
)

func init() {
	var err error
	headerEncMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(fmt.Errorf("failed to create run header CBOR encoder: %w", err))
	}
	headerDecMode, err = cbor.DecOptions{
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("failed to create run header CBOR decoder: %w", err))
	}
}

func marshalHeader(h RunHeader) ([]byte, error) {
	return headerEncMode.Marshal(h)
}

func unmarshalHeader(b []byte) (RunHeader, error) {
	var h RunHeader
	if err := headerDecMode.Unmarshal(b, &h); err != nil {
		return RunHeader{}, fmt.Errorf("decode run header: %w", errors.Join(ErrCorruptRun, err))
	}
	if h.Version != runVersion {
		return RunHeader{}, fmt.Errorf("run header version %d: %w", h.Version, ErrCorruptRun)
	}
	return h, nil
}
