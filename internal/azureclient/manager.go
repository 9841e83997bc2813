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

package azureclient

import (
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Manager caches one blob client per storage account, all sharing the
// default Azure credential chain.
type Manager struct {
	baseCred *azidentity.DefaultAzureCredential
	endpoint string

	sync.RWMutex
	blobClients map[string]*BlobClient
	tracer      trace.Tracer
}

type ManagerOption func(*Manager)

// WithEndpointTemplate overrides the account endpoint. The template takes
// the account name through one %s verb.
func WithEndpointTemplate(tmpl string) ManagerOption {
	return func(mgr *Manager) {
		mgr.endpoint = tmpl
	}
}

func NewManager(opts ...ManagerOption) (*Manager, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}

	mgr := &Manager{
		baseCred:    cred,
		endpoint:    DefaultEndpointTemplate,
		blobClients: make(map[string]*BlobClient),
		tracer:      otel.Tracer("github.com/cardinalhq/lakesort/internal/azureclient"),
	}
	for _, opt := range opts {
		opt(mgr)
	}

	return mgr, nil
}
