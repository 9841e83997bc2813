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
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSessionName names STS sessions when S3Settings leaves it empty.
const DefaultSessionName = "lakesort"

// S3Settings is how lakesort reaches S3. Empty fields fall back to the
// ambient AWS configuration (environment, shared config, instance role).
type S3Settings struct {
	Region   string `mapstructure:"region" yaml:"region"`
	RoleARN  string `mapstructure:"role_arn" yaml:"role_arn"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// UsePathStyle addresses buckets as endpoint/bucket, which most S3
	// emulators need.
	UsePathStyle bool `mapstructure:"use_path_style" yaml:"use_path_style"`
	// InsecureTLS skips certificate verification, for local emulators.
	InsecureTLS bool   `mapstructure:"insecure_tls" yaml:"insecure_tls"`
	SessionName string `mapstructure:"session_name" yaml:"session_name"`
	// MaxAttempts bounds SDK retries per request. Zero keeps the SDK default.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Manager owns the AWS configuration for one lakesort process: the ambient
// SDK configuration with S3Settings layered over it, and a credential cache
// per assumed role.
type Manager struct {
	settings  S3Settings
	baseCfg   aws.Config
	stsClient *sts.Client
	tracer    trace.Tracer

	mu    sync.Mutex
	roles map[string]aws.CredentialsProvider
}

// NewManager loads the AWS configuration with settings applied. No request
// is made until a client is used.
func NewManager(ctx context.Context, settings S3Settings) (*Manager, error) {
	if settings.SessionName == "" {
		settings.SessionName = DefaultSessionName
	}

	var loadOpts []func(*config.LoadOptions) error
	if settings.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(settings.Region))
	}
	if settings.MaxAttempts > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(settings.MaxAttempts))
	}
	if settings.InsecureTLS {
		loadOpts = append(loadOpts, config.WithHTTPClient(insecureHTTPClient()))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &Manager{
		settings:  settings,
		baseCfg:   cfg,
		stsClient: sts.NewFromConfig(cfg),
		tracer:    otel.Tracer("github.com/cardinalhq/lakesort/internal/awsclient"),
		roles:     make(map[string]aws.CredentialsProvider),
	}, nil
}

func insecureHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{Transport: tr}
}

// Settings returns the settings the manager was built from, defaults filled.
func (m *Manager) Settings() S3Settings { return m.settings }

// Region is the effective region after settings and ambient configuration.
func (m *Manager) Region() string { return m.baseCfg.Region }

// credentials returns the provider for roleARN. An empty role uses the
// ambient credentials. Assumed roles are cached so every client for a role
// shares one STS session.
func (m *Manager) credentials(roleARN string) aws.CredentialsProvider {
	if roleARN == "" {
		return m.baseCfg.Credentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.roles[roleARN]; ok {
		return p
	}
	p := aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(m.stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = m.settings.SessionName
	}))
	m.roles[roleARN] = p
	return p
}
