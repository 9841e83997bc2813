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

// Package objstore resolves sort inputs and outputs that live in object
// storage. Remote inputs are staged to local temp files before sorting and a
// remote output is written locally, then uploaded.
package objstore

import (
	"fmt"
	"strings"
)

type Scheme string

const (
	SchemeLocal Scheme = ""
	SchemeStdio Scheme = "-"
	SchemeS3    Scheme = "s3"
	SchemeAzure Scheme = "azblob"
	// SchemeFile addresses bucket/key pairs under a local base directory.
	SchemeFile Scheme = "file"
)

// Location is a parsed input or output name.
type Location struct {
	Scheme Scheme
	// Account is the Azure storage account.
	Account string
	// Bucket is the S3 bucket, Azure container or file bucket directory.
	Bucket string
	Key    string
	// Path is set for local files.
	Path string
}

// ParseURL accepts "-", local paths, s3://bucket/key,
// azblob://account/container/blob and file://bucket/key.
func ParseURL(s string) (Location, error) {
	if s == "-" {
		return Location{Scheme: SchemeStdio}, nil
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		if s == "" {
			return Location{}, fmt.Errorf("empty path")
		}
		return Location{Scheme: SchemeLocal, Path: s}, nil
	}

	switch Scheme(scheme) {
	case SchemeS3, SchemeFile:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return Location{}, fmt.Errorf("%s: want %s://bucket/key", s, scheme)
		}
		return Location{Scheme: Scheme(scheme), Bucket: bucket, Key: key}, nil
	case SchemeAzure:
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return Location{}, fmt.Errorf("%s: want azblob://account/container/blob", s)
		}
		return Location{Scheme: SchemeAzure, Account: parts[0], Bucket: parts[1], Key: parts[2]}, nil
	default:
		return Location{}, fmt.Errorf("%s: unsupported scheme %q", s, scheme)
	}
}

// Remote reports whether the location must be staged through a Client.
func (l Location) Remote() bool {
	switch l.Scheme {
	case SchemeS3, SchemeAzure, SchemeFile:
		return true
	}
	return false
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeStdio:
		return "-"
	case SchemeLocal:
		return l.Path
	case SchemeAzure:
		return fmt.Sprintf("azblob://%s/%s/%s", l.Account, l.Bucket, l.Key)
	default:
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
	}
}
