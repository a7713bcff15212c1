// Copyright 2025 Patrick J. Scruggs
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

package sloggly

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel/trace"
)

// Context keys used for trace correlation fields.
const (
	// TraceIDKey holds the 32-char lowercase hex trace ID.
	TraceIDKey = "trace_id"
	// SpanIDKey holds the 16-char lowercase hex span ID.
	SpanIDKey = "span_id"
	// TraceSampledKey holds the span's sampling decision.
	TraceSampledKey = "trace_sampled"
)

// ExtractTraceSpan returns the OpenTelemetry trace and span IDs found in ctx.
// ok is false when ctx carries no valid span context.
//
// The helper does not create spans or parse headers; upstream middleware
// must have populated the span context.
func ExtractTraceSpan(ctx context.Context) (traceID, spanID string, sampled, ok bool) {
	if ctx == nil {
		return "", "", false, false
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", "", false, false
	}
	return sc.TraceID().String(), sc.SpanID().String(), sc.IsSampled(), true
}

// withTraceFields adds trace correlation fields from ctx to fields. Keys the
// caller already set are left alone; the input map is never modified.
func withTraceFields(ctx context.Context, fields map[string]any) map[string]any {
	traceID, spanID, sampled, ok := ExtractTraceSpan(ctx)
	if !ok {
		return fields
	}
	out := make(map[string]any, len(fields)+3)
	maps.Copy(out, fields)
	setIfAbsent(out, TraceIDKey, traceID)
	setIfAbsent(out, SpanIDKey, spanID)
	setIfAbsent(out, TraceSampledKey, sampled)
	return out
}

// setIfAbsent stores value under key unless key is present.
func setIfAbsent(m map[string]any, key string, value any) {
	if _, exists := m[key]; !exists {
		m[key] = value
	}
}
