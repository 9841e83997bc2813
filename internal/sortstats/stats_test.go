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

package sortstats

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)
	assert.Zero(t, c.LengthQuantile(0.5))

	for i := range 1000 {
		key := []byte(fmt.Sprintf("key-%d", i%100))
		rec := bytes.Repeat([]byte("x"), 10+i%10)
		c.Observe(key, rec)
	}
	assert.Equal(t, int64(1000), c.Count())
	assert.InDelta(t, 14.5, c.LengthQuantile(0.5), 1.0)
	assert.InDelta(t, 19, c.LengthQuantile(0.99), 0.5)
	assert.InDelta(t, 100, float64(c.DistinctKeys()), 5)
}

func TestDigestWriter(t *testing.T) {
	var out bytes.Buffer
	d := NewDigestWriter(&out)
	_, err := d.Write([]byte("apple\n"))
	require.NoError(t, err)
	_, err = d.Write([]byte("banana\n"))
	require.NoError(t, err)

	assert.Equal(t, "apple\nbanana\n", out.String())
	assert.Equal(t, xxhash.Sum64String("apple\nbanana\n"), d.Sum64())
	assert.Equal(t, int64(13), d.Bytes())
}
