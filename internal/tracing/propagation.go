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
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for outbound call spans.
const TracerName = "github.com/tombee/outbound"

// W3CPropagator returns a TextMapPropagator that implements W3C Trace Context.
func W3CPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// InjectHTTPHeaders injects the trace context into HTTP request headers
// using the globally registered propagator.
func InjectHTTPHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// StartCallSpan starts a client span for one outbound call. The tracer comes
// from tp, or the global provider when tp is nil.
func StartCallSpan(ctx context.Context, tp trace.TracerProvider, method, host string) (context.Context, trace.Span) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(TracerName).Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(callAttributes(method, host)...),
	)
}

// SetCallAttributes updates the method and host once the request is built.
func SetCallAttributes(span trace.Span, method, host string) {
	span.SetAttributes(callAttributes(method, host)...)
}

func callAttributes(method, host string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("server.address", host),
	}
}

// EndCallSpan records the outcome of an outbound call and ends the span.
// statusCode is zero when no response was received.
func EndCallSpan(span trace.Span, statusCode int, errorType string, err error) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", errorType))
		span.SetStatus(codes.Error, errorType)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
