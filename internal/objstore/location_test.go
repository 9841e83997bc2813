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

package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{"-", Location{Scheme: SchemeStdio}},
		{"data/in.txt", Location{Scheme: SchemeLocal, Path: "data/in.txt"}},
		{"s3://logs/2025/01/a.txt.gz", Location{Scheme: SchemeS3, Bucket: "logs", Key: "2025/01/a.txt.gz"}},
		{"azblob://acct/box/dir/b.txt", Location{Scheme: SchemeAzure, Account: "acct", Bucket: "box", Key: "dir/b.txt"}},
		{"file://bucket/k%20ey", Location{Scheme: SchemeFile, Bucket: "bucket", Key: "k%20ey"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseURLErrors(t *testing.T) {
	for _, in := range []string{"", "s3://bucket", "s3:///key", "azblob://acct/container", "gs://b/k"} {
		_, err := ParseURL(in)
		assert.Error(t, err, in)
	}
}

func TestLocationRemote(t *testing.T) {
	for in, remote := range map[string]bool{
		"-":              false,
		"local":          false,
		"s3://b/k":       true,
		"azblob://a/c/b": true,
		"file://b/k":     true,
	} {
		loc, err := ParseURL(in)
		require.NoError(t, err)
		assert.Equal(t, remote, loc.Remote(), in)
	}
}
