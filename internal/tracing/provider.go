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

package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/outbound/internal/tracing/export"
)

// Config configures span export.
type Config struct {
	// ServiceName identifies this process in traces. Default: outbound.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// SampleRate is the fraction of root calls traced, in [0, 1].
	// Calls with a sampled parent are always traced.
	SampleRate float64

	// Exporter selects the backend.
	Exporter export.Config
}

// Provider owns an SDK tracer provider and its exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider creates a tracer provider exporting spans per cfg and installs
// the W3C propagator globally.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, fmt.Errorf("sample rate must be within [0, 1], got %v", cfg.SampleRate)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "outbound"
	}

	exporter, err := export.New(ctx, cfg.Exporter)
	if err != nil {
		return nil, err
	}

	// Empty schema URL avoids conflicts when merging with the default resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Console output is for humans at a terminal; export each span as it ends.
	var processor sdktrace.TracerProviderOption
	if cfg.Exporter.Kind == export.KindConsole {
		processor = sdktrace.WithSyncer(exporter)
	} else {
		processor = sdktrace.WithBatcher(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(NewSampler(cfg.SampleRate)),
		processor,
	)

	otel.SetTextMapPropagator(W3CPropagator())

	return &Provider{tp: tp}, nil
}

// NewSampler samples root spans at rate and follows the parent's decision
// otherwise.
func NewSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// TracerProvider returns the provider for use with the executor.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// NewConsoleProvider is a convenience for exporting every span to w.
func NewConsoleProvider(ctx context.Context, w io.Writer) (*Provider, error) {
	return NewProvider(ctx, Config{
		SampleRate: 1,
		Exporter:   export.Config{Kind: export.KindConsole, Writer: w},
	})
}
