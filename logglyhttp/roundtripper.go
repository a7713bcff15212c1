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

package logglyhttp

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// traceRoundTripper injects trace context derived from req.Context() and
// delegates to base. Requests that already carry a traceparent header are
// forwarded untouched.
type traceRoundTripper struct {
	base        http.RoundTripper
	propagators propagation.TextMapPropagator
}

// newTraceRoundTripper wraps base, defaulting to http.DefaultTransport.
func newTraceRoundTripper(base http.RoundTripper, p propagation.TextMapPropagator) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &traceRoundTripper{base: base, propagators: p}
}

// RoundTrip implements http.RoundTripper.
func (t *traceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	sc := trace.SpanContextFromContext(req.Context())
	if !sc.IsValid() || req.Header.Get("traceparent") != "" {
		return t.base.RoundTrip(req)
	}

	p := t.propagators
	if p == nil {
		p = otel.GetTextMapPropagator()
	}

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	p.Inject(out.Context(), propagation.HeaderCarrier(out.Header))
	return t.base.RoundTrip(out)
}
