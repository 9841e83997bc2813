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

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lakesort/internal/azureclient"
)

type azureClient struct {
	blobClient *azureclient.BlobClient
}

func (c *azureClient) DownloadObject(ctx context.Context, tmpdir, container, name string) (string, int64, bool, error) {
	ctx, span := c.blobClient.Tracer.Start(ctx, "objstore.azureDownloadObject",
		trace.WithAttributes(
			attribute.String("container", container),
			attribute.String("blob", name),
		),
	)
	defer span.End()

	f, err := os.CreateTemp(tmpdir, "*-"+filepath.Base(name))
	if err != nil {
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	resp, err := c.blobClient.Client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		_ = os.Remove(f.Name())
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			downloadErrors.Add(ctx, 1, bucketAttrs(SchemeAzure, container, attribute.String("reason", "not_found")))
			return "", 0, true, nil
		}
		downloadErrors.Add(ctx, 1, bucketAttrs(SchemeAzure, container, attribute.String("reason", "unknown")))
		return "", 0, false, fmt.Errorf("download blob %s/%s: %w", container, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	size, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = os.Remove(f.Name())
		downloadErrors.Add(ctx, 1, bucketAttrs(SchemeAzure, container, attribute.String("reason", "copy_failed")))
		return "", 0, false, fmt.Errorf("copy blob content: %w", err)
	}

	downloadCount.Add(ctx, 1, bucketAttrs(SchemeAzure, container))
	downloadBytes.Add(ctx, size, bucketAttrs(SchemeAzure, container))
	return f.Name(), size, false, nil
}

func (c *azureClient) UploadObject(ctx context.Context, container, name, sourceFilename string) error {
	ctx, span := c.blobClient.Tracer.Start(ctx, "objstore.azureUploadObject",
		trace.WithAttributes(
			attribute.String("container", container),
			attribute.String("blob", name),
		),
	)
	defer span.End()

	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open staged output %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	_, err = c.blobClient.Client.UploadStream(ctx, container, name, file, &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr(writerName),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", container, name, err)
	}

	uploadCount.Add(ctx, 1, bucketAttrs(SchemeAzure, container))
	uploadBytes.Add(ctx, stat.Size(), bucketAttrs(SchemeAzure, container))
	return nil
}
