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
	"errors"
	"fmt"
	"sync"

	"github.com/cardinalhq/lakesort/internal/awsclient"
	"github.com/cardinalhq/lakesort/internal/azureclient"
)

// ErrNotFound is returned when a remote input does not exist.
var ErrNotFound = errors.New("object not found")

type Client interface {
	// DownloadObject copies an object into a new file under tmpdir.
	// Returns the temp filename, size, whether the object was not found,
	// and error.
	DownloadObject(ctx context.Context, tmpdir, bucket, key string) (filename string, size int64, notFound bool, err error)

	// UploadObject uploads a local file.
	UploadObject(ctx context.Context, bucket, key, sourceFilename string) error
}

// Config selects how remote locations are reached.
type Config struct {
	S3 awsclient.S3Settings `mapstructure:"s3" yaml:"s3"`
	// AzureEndpoint is a template with one %s for the storage account.
	AzureEndpoint string `mapstructure:"azure_endpoint" yaml:"azure_endpoint"`
	// FileBase is the directory file://bucket/key resolves under.
	FileBase string `mapstructure:"file_base" yaml:"file_base"`
}

// Resolver creates clients on first use. Cloud credentials are only
// loaded when a location of that kind appears.
type Resolver struct {
	cfg Config

	mu    sync.Mutex
	aws   *awsclient.Manager
	azure *azureclient.Manager
	s3    *s3Client
}

func NewResolver(cfg Config) *Resolver {
	if cfg.AzureEndpoint == "" {
		cfg.AzureEndpoint = azureclient.DefaultEndpointTemplate
	}
	return &Resolver{cfg: cfg}
}

// ClientFor returns the client serving loc.
func (r *Resolver) ClientFor(ctx context.Context, loc Location) (Client, error) {
	switch loc.Scheme {
	case SchemeFile:
		if r.cfg.FileBase == "" {
			return nil, fmt.Errorf("%s: no file base directory configured", loc)
		}
		return &fileClient{base: r.cfg.FileBase}, nil
	case SchemeS3:
		return r.s3Client(ctx)
	case SchemeAzure:
		return r.azureClient(loc.Account)
	default:
		return nil, fmt.Errorf("%s is not an object location", loc)
	}
}

func (r *Resolver) s3Client(ctx context.Context) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 != nil {
		return r.s3, nil
	}
	if r.aws == nil {
		mgr, err := awsclient.NewManager(ctx, r.cfg.S3)
		if err != nil {
			return nil, err
		}
		r.aws = mgr
	}
	client, err := r.aws.S3(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	r.s3 = &s3Client{client: client}
	return r.s3, nil
}

func (r *Resolver) azureClient(account string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.azure == nil {
		mgr, err := azureclient.NewManager(azureclient.WithEndpointTemplate(r.cfg.AzureEndpoint))
		if err != nil {
			return nil, err
		}
		r.azure = mgr
	}
	client, err := r.azure.GetBlob(account)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}
	return &azureClient{blobClient: client}, nil
}
