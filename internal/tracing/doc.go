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

/*
Package tracing provides correlation IDs and OpenTelemetry tracing for
outbound calls.

# Correlation IDs

Every call carries a correlation ID (a UUID). Ensure reuses the ID already in
the context or creates one; the HTTP client sends it as X-Correlation-ID and
every log record for the call includes it.

	ctx, id := tracing.Ensure(ctx)

# Spans

StartCallSpan and EndCallSpan bracket one call with a client span carrying
the method, host, status code and error type. Spans go to the executor's
tracer provider, or the global provider when none is set. W3C trace context
is injected into outgoing requests.

# Export

Export is opt-in. NewProvider builds an SDK provider with a parent-based ratio
sampler and one exporter (OTLP gRPC, OTLP HTTP or console):

	p, err := tracing.NewProvider(ctx, tracing.Config{
	    SampleRate: 0.1,
	    Exporter:   export.Config{Kind: export.KindOTLP, Endpoint: "collector:4317"},
	})
	if err != nil {
	    return err
	}
	defer p.Shutdown(ctx)
*/
package tracing
