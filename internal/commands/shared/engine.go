// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/outbound/internal/config"
	"github.com/tombee/outbound/internal/log"
	"github.com/tombee/outbound/internal/operation"
	"github.com/tombee/outbound/internal/operation/auth"
	"github.com/tombee/outbound/internal/tracing"
	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

// Engine is the fully wired outbound stack used by commands.
type Engine struct {
	Config    *config.Config
	Logger    *slog.Logger
	Blocklist *security.Blocklist
	Proxy     *httpclient.ProxyResolver
	Client    *httpclient.Client
	Tokens    *auth.TokenCache
	Metrics   *operation.Metrics
	Registry  *prometheus.Registry
	Executor  *operation.Executor

	// Tracing is nil unless span export is enabled.
	Tracing *tracing.Provider
}

// EngineOptions controls how NewEngine wires the stack.
type EngineOptions struct {
	// ConfigPath is an explicit config file. Empty uses config.ResolvePath.
	ConfigPath string

	// Verbose forces debug logging.
	Verbose bool

	// LogOutput receives logs. Default: os.Stderr.
	LogOutput io.Writer

	// Lookup reads proxy environment variables. Default: os.LookupEnv.
	Lookup httpclient.LookupFunc
}

// NewEngine loads configuration and builds the client, token cache and
// executor. Callers must Close the engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}

	logCfg := cfg.LogConfig()
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logCfg.Output = opts.LogOutput
	if logCfg.Output == nil {
		logCfg.Output = os.Stderr
	}
	logger := log.New(logCfg)

	blocklist, err := cfg.BuildBlocklist()
	if err != nil {
		return nil, NewConfigError("invalid blocklist", err)
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	proxyCfg, err := httpclient.LoadProxyConfig(lookup)
	if err != nil {
		return nil, NewConfigError("invalid proxy configuration", err)
	}
	proxy, err := httpclient.NewProxyResolver(proxyCfg, log.WithComponent(logger, "proxy"))
	if err != nil {
		return nil, NewConfigError("invalid proxy configuration", err)
	}

	client, err := httpclient.New(cfg.HTTPClientConfig(), proxy, httpclient.WithLogger(log.WithComponent(logger, "httpclient")))
	if err != nil {
		return nil, NewConfigError("invalid pool configuration", err)
	}

	tokens := auth.NewTokenCache(
		auth.WithHTTPClient(client.HTTPClient()),
		auth.WithBlocklist(blocklist),
		auth.WithExpiryMargin(cfg.OAuth.ExpiryMargin),
		auth.WithCacheLogger(log.WithComponent(logger, "oauth")),
	)

	registry := prometheus.NewRegistry()
	metrics := operation.NewMetrics(registry)
	metrics.RegisterTokenCache(tokens)

	execOpts := []operation.ExecutorOption{
		operation.WithBlocklist(blocklist),
		operation.WithAuthResolver(auth.NewResolver(tokens, logger)),
		operation.WithRateLimiter(operation.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.Timeout)),
		operation.WithMetrics(metrics),
		operation.WithLogger(logger),
	}

	var tp *tracing.Provider
	if cfg.Tracing.Enabled {
		v, _, _ := GetVersion()
		tp, err = tracing.NewProvider(context.Background(), cfg.TracingProviderConfig(v, logCfg.Output))
		if err != nil {
			_ = client.Close()
			return nil, NewConfigError("invalid tracing configuration", err)
		}
		execOpts = append(execOpts, operation.WithTracerProvider(tp.TracerProvider()))
	}

	executor, err := operation.NewExecutor(client, execOpts...)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	return &Engine{
		Config:    cfg,
		Logger:    logger,
		Blocklist: blocklist,
		Proxy:     proxy,
		Client:    client,
		Tokens:    tokens,
		Metrics:   metrics,
		Registry:  registry,
		Executor:  executor,
		Tracing:   tp,
	}, nil
}

// Close flushes pending spans and releases pooled connections.
func (e *Engine) Close() error {
	var errs *multierror.Error
	if e.Tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Tracing.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	if err := e.Client.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
