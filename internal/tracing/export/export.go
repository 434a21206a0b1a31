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

// Package export builds span exporters for the supported tracing backends.
package export

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// Exporter kinds.
const (
	KindOTLP     = "otlp"      // OTLP over gRPC
	KindOTLPHTTP = "otlp-http" // OTLP over HTTP/protobuf
	KindConsole  = "console"   // JSON spans written to a writer
)

// Config selects and configures one exporter.
type Config struct {
	// Kind is one of otlp, otlp-http, console.
	Kind string

	// Endpoint is host:port for the OTLP exporters.
	Endpoint string

	// Insecure disables TLS to the collector (development only).
	Insecure bool

	// Headers are sent with every export request.
	Headers map[string]string

	// Writer receives console output. Default: os.Stdout.
	Writer io.Writer
}

// New creates the exporter described by cfg.
func New(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	switch cfg.Kind {
	case KindOTLP:
		return newOTLPGRPC(ctx, cfg)
	case KindOTLPHTTP:
		return newOTLPHTTP(ctx, cfg)
	case KindConsole:
		return newConsole(cfg)
	default:
		return nil, fmt.Errorf("unknown exporter %q (expected otlp, otlp-http or console)", cfg.Kind)
	}
}

func defaultTLS() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func newOTLPGRPC(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp exporter: endpoint is required")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(defaultTLS())))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
	}
	return exporter, nil
}

func newOTLPHTTP(ctx context.Context, cfg Config) (trace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp-http exporter: endpoint is required")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(defaultTLS()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exporter, nil
}

func newConsole(cfg Config) (trace.SpanExporter, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create console exporter: %w", err)
	}
	return exporter, nil
}
