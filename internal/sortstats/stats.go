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

// Package sortstats collects optional statistics about a sort: record length
// quantiles, an estimate of distinct keys and a digest of the output.
package sortstats

import (
	"fmt"
	"io"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
)

// Collector observes input records.
type Collector struct {
	lengths *ddsketch.DDSketch
	keys    *hyperloglog.Sketch
}

// NewCollector returns an empty Collector with 1% relative accuracy on
// length quantiles.
func NewCollector() (*Collector, error) {
	sk, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil, fmt.Errorf("create length sketch: %w", err)
	}
	return &Collector{lengths: sk, keys: hyperloglog.New14()}, nil
}

// Observe records the length of rec and the identity of key.
func (c *Collector) Observe(key, rec []byte) {
	_ = c.lengths.Add(float64(len(rec)))
	c.keys.InsertHash(xxhash.Sum64(key))
}

// Count returns how many records were observed.
func (c *Collector) Count() int64 {
	return int64(c.lengths.GetCount())
}

// LengthQuantile returns the record length at quantile q, or 0 when
// nothing was observed.
func (c *Collector) LengthQuantile(q float64) float64 {
	if c.lengths.IsEmpty() {
		return 0
	}
	v, err := c.lengths.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}

// DistinctKeys estimates the number of distinct keys observed.
func (c *Collector) DistinctKeys() uint64 {
	return c.keys.Estimate()
}

// DigestWriter hashes everything written through it.
type DigestWriter struct {
	w io.Writer
	h *xxhash.Digest
	n int64
}

func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, h: xxhash.New()}
}

func (d *DigestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	_, _ = d.h.Write(p[:n])
	d.n += int64(n)
	return n, err
}

// Sum64 returns the xxhash64 of the bytes written so far.
func (d *DigestWriter) Sum64() uint64 { return d.h.Sum64() }

// Bytes returns how many bytes were written.
func (d *DigestWriter) Bytes() int64 { return d.n }
