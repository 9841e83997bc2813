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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

// s3Request is one client's role and region, seeded from the manager's
// settings.
type s3Request struct {
	roleARN string
	region  string
}

// S3Option overrides a manager setting for one client.
type S3Option func(*s3Request)

func WithRole(roleARN string) S3Option {
	return func(r *s3Request) {
		r.roleARN = roleARN
	}
}

func WithRegion(region string) S3Option {
	return func(r *s3Request) {
		r.region = region
	}
}

// S3 returns a client for the manager's settings. Endpoint and path style
// always come from the settings; role and region may be overridden.
func (m *Manager) S3(_ context.Context, opts ...S3Option) (*S3Client, error) {
	req := s3Request{roleARN: m.settings.RoleARN, region: m.baseCfg.Region}
	for _, o := range opts {
		o(&req)
	}

	cfg := m.baseCfg.Copy()
	cfg.Region = req.region
	cfg.Credentials = m.credentials(req.roleARN)

	settings := m.settings
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
	})
	return &S3Client{Client: client, Tracer: m.tracer}, nil
}
