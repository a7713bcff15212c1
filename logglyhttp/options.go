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
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 10 * time.Second

// Option configures a [Channel].
type Option func(*config)

type config struct {
	tlsVerify      bool
	timeout        time.Duration
	httpClient     *http.Client
	baseTransport  http.RoundTripper
	enableOTel     bool
	tracerProvider trace.TracerProvider
	propagators    propagation.TextMapPropagator
	propagateTrace bool
	userAgent      string
}

// defaultConfig returns the baseline channel configuration.
func defaultConfig() *config {
	return &config{
		tlsVerify:      true,
		timeout:        defaultTimeout,
		propagateTrace: true,
	}
}

// applyOptions applies the provided options on top of defaultConfig.
func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithTLSVerify toggles verification of the server certificate chain and
// host name. Verification is on by default; disable it only for self-hosted
// or intercepting-proxy endpoints.
func WithTLSVerify(enabled bool) Option {
	return func(cfg *config) {
		cfg.tlsVerify = enabled
	}
}

// WithTimeout bounds each request, connection and response included. Zero
// disables the limit. The default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.timeout = d
		}
	}
}

// WithHTTPClient sends through client instead of a channel-owned client. The
// client's transport is still cloned and adjusted when TLS verification is
// disabled; its timeout is kept.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *config) {
		cfg.httpClient = client
	}
}

// WithBaseTransport replaces the cloned http.DefaultTransport at the bottom
// of the transport stack.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(cfg *config) {
		cfg.baseTransport = rt
	}
}

// WithOTel enables or disables otelhttp client spans around each delivery.
// Disabled by default.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithTracerProvider installs the tracer provider used for otelhttp spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithPropagators supplies the TextMapPropagator used to inject trace
// context. When omitted, otel.GetTextMapPropagator() is used.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
	}
}

// WithTracePropagation toggles injection of trace context headers on
// deliveries. Enabled by default.
func WithTracePropagation(enabled bool) Option {
	return func(cfg *config) {
		cfg.propagateTrace = enabled
	}
}

// WithUserAgent sets the User-Agent header sent when the caller's headers
// do not carry one.
func WithUserAgent(ua string) Option {
	return func(cfg *config) {
		cfg.userAgent = ua
	}
}
