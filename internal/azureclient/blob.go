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
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.opentelemetry.io/otel/trace"
)

// DefaultEndpointTemplate is the public cloud blob endpoint.
const DefaultEndpointTemplate = "https://%s.blob.core.windows.net/"

type BlobClient struct {
	Client *azblob.Client
	Tracer trace.Tracer
}

// Endpoint renders the blob endpoint for account.
func Endpoint(tmpl, account string) (string, error) {
	if account == "" {
		return "", errors.New("storage account is required")
	}
	if !strings.Contains(tmpl, "%s") {
		return "", fmt.Errorf("endpoint template %q has no %%s for the account", tmpl)
	}
	return fmt.Sprintf(tmpl, account), nil
}

func (m *Manager) GetBlob(account string) (*BlobClient, error) {
	m.RLock()
	client, ok := m.blobClients[account]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()
	if client, ok = m.blobClients[account]; ok {
		return client, nil
	}
	endpoint, err := Endpoint(m.endpoint, account)
	if err != nil {
		return nil, err
	}
	blobClient, err := azblob.NewClient(endpoint, m.baseCred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	client = &BlobClient{Client: blobClient, Tracer: m.tracer}
	m.blobClients[account] = client
	return client, nil
}
