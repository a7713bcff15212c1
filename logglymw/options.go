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

package logglymw

import (
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	envSkipPathSubstrings = "LOGGLY_HTTP_SKIP_PATH_SUBSTRINGS"
	envRecoverPanics      = "LOGGLY_HTTP_RECOVER_PANICS"
	envFlushAfterRequest  = "LOGGLY_HTTP_FLUSH_AFTER_REQUEST"
	envLogRequests        = "LOGGLY_HTTP_LOG_REQUESTS"
)

// Option configures [Middleware].
type Option func(*config)

type config struct {
	propagators        propagation.TextMapPropagator
	enableOTel         bool
	tracerProvider     trace.TracerProvider
	includeQuery       bool
	includeClientIP    bool
	includeUserAgent   bool
	logRequests        bool
	recoverPanics      bool
	flushAfterRequest  bool
	skipPathSubstrings []string
}

// defaultConfig returns the configuration used before environment variables
// and options are applied.
func defaultConfig() *config {
	return &config{
		includeClientIP:  true,
		includeUserAgent: true,
		logRequests:      true,
	}
}

// applyOptions layers environment overrides and opts onto the defaults.
func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	loadConfigFromEnv(cfg)
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// loadConfigFromEnv applies LOGGLY_HTTP_* overrides. Invalid values are
// ignored.
func loadConfigFromEnv(cfg *config) {
	if raw, ok := os.LookupEnv(envSkipPathSubstrings); ok {
		cfg.skipPathSubstrings = splitAndClean(raw)
	}
	if raw, ok := os.LookupEnv(envRecoverPanics); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			cfg.recoverPanics = v
		}
	}
	if raw, ok := os.LookupEnv(envFlushAfterRequest); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			cfg.flushAfterRequest = v
		}
	}
	if raw, ok := os.LookupEnv(envLogRequests); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			cfg.logRequests = v
		}
	}
}

// WithPropagators sets the propagator used to extract remote trace context.
// The global propagator is used by default.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagators = p
	}
}

// WithOTel wraps the handler with otelhttp so each request gets a server
// span. Disabled by default.
func WithOTel(enabled bool) Option {
	return func(c *config) {
		c.enableOTel = enabled
	}
}

// WithTracerProvider sets the provider used when WithOTel is enabled.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// WithIncludeQuery records the raw query string.
func WithIncludeQuery(enabled bool) Option {
	return func(c *config) {
		c.includeQuery = enabled
	}
}

// WithClientIP toggles the peer address field.
func WithClientIP(enabled bool) Option {
	return func(c *config) {
		c.includeClientIP = enabled
	}
}

// WithUserAgent toggles the user agent field.
func WithUserAgent(enabled bool) Option {
	return func(c *config) {
		c.includeUserAgent = enabled
	}
}

// WithRequestLog toggles the event logged when a request completes.
func WithRequestLog(enabled bool) Option {
	return func(c *config) {
		c.logRequests = enabled
	}
}

// WithRecoverPanics recovers handler panics, logs them as critical events
// and answers 500.
func WithRecoverPanics(enabled bool) Option {
	return func(c *config) {
		c.recoverPanics = enabled
	}
}

// WithFlushAfterRequest flushes the client's queue when each request
// completes.
func WithFlushAfterRequest(enabled bool) Option {
	return func(c *config) {
		c.flushAfterRequest = enabled
	}
}

// WithSkipPathSubstrings suppresses the request event for paths containing
// any of substrings. Handlers still run and may log.
func WithSkipPathSubstrings(substrings ...string) Option {
	cleaned := splitAndClean(strings.Join(substrings, ","))
	return func(c *config) {
		c.skipPathSubstrings = cleaned
	}
}

// splitAndClean splits a comma-separated list and drops blank entries.
func splitAndClean(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
