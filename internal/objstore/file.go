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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	contentType = "text/plain; charset=utf-8"
	writerName  = "lakesort"
)

// fileClient maps bucket/key onto base/bucket/key. Useful against a
// mounted bucket and in tests.
type fileClient struct {
	base string
}

func (c *fileClient) path(bucket, key string) string {
	return filepath.Join(c.base, bucket, filepath.FromSlash(key))
}

func (c *fileClient) DownloadObject(ctx context.Context, tmpdir, bucket, key string) (string, int64, bool, error) {
	src, err := os.Open(c.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			downloadErrors.Add(ctx, 1, bucketAttrs(SchemeFile, bucket))
			return "", 0, true, nil
		}
		return "", 0, false, err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.CreateTemp(tmpdir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	size, err := io.Copy(dst, src)
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", 0, false, fmt.Errorf("copy %s/%s: %w", bucket, key, err)
	}
	downloadCount.Add(ctx, 1, bucketAttrs(SchemeFile, bucket))
	downloadBytes.Add(ctx, size, bucketAttrs(SchemeFile, bucket))
	return dst.Name(), size, false, nil
}

func (c *fileClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	dst := c.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	src, err := os.Open(sourceFilename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	uploadCount.Add(ctx, 1, bucketAttrs(SchemeFile, bucket))
	uploadBytes.Add(ctx, n, bucketAttrs(SchemeFile, bucket))
	return nil
}
