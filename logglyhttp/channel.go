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
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxDrainBytes caps how much of a response body is read before the
// connection is released.
const maxDrainBytes = 64 << 10

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	StatusCode int
	Status     string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("logglyhttp: unexpected response %s", e.Status)
}

// Channel posts JSON payloads to an ingestion endpoint. A Channel is safe for
// concurrent use.
type Channel struct {
	client    *http.Client
	userAgent string
	tlsVerify bool
}

// NewChannel builds a Channel from opts.
func NewChannel(opts ...Option) *Channel {
	cfg := applyOptions(opts)

	var client *http.Client
	if cfg.httpClient != nil {
		dup := *cfg.httpClient
		client = &dup
	} else {
		client = &http.Client{Timeout: cfg.timeout}
	}

	base := cfg.baseTransport
	if base == nil {
		base = client.Transport
	}
	client.Transport = buildTransport(base, cfg)

	return &Channel{
		client:    client,
		userAgent: cfg.userAgent,
		tlsVerify: cfg.tlsVerify,
	}
}

// buildTransport assembles the delivery transport stack on top of base.
func buildTransport(base http.RoundTripper, cfg *config) http.RoundTripper {
	if base == nil {
		if dt, ok := http.DefaultTransport.(*http.Transport); ok {
			base = dt.Clone()
		} else {
			base = http.DefaultTransport
		}
	}
	if !cfg.tlsVerify {
		base = insecureTransport(base)
	}

	rt := base
	if cfg.propagateTrace {
		rt = newTraceRoundTripper(rt, cfg.propagators)
	}
	if cfg.enableOTel {
		var otelOpts []otelhttp.Option
		if cfg.tracerProvider != nil {
			otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.tracerProvider))
		}
		if cfg.propagators != nil {
			otelOpts = append(otelOpts, otelhttp.WithPropagators(cfg.propagators))
		}
		otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "loggly " + r.Method
		}))
		rt = otelhttp.NewTransport(rt, otelOpts...)
	}
	return rt
}

// insecureTransport returns a copy of rt that skips peer and host name
// verification. Transports other than *http.Transport are returned as-is.
func insecureTransport(rt http.RoundTripper) http.RoundTripper {
	t, ok := rt.(*http.Transport)
	if !ok {
		return rt
	}
	t = t.Clone()
	if t.TLSClientConfig == nil {
		t.TLSClientConfig = &tls.Config{}
	}
	t.TLSClientConfig.InsecureSkipVerify = true
	return t
}

// TLSVerify reports whether the channel verifies server certificates.
func (c *Channel) TLSVerify() bool {
	return c.tlsVerify
}

// Send posts body to url with header. Network and TLS failures are returned
// wrapped; non-2xx responses yield a *StatusError. The response body is
// drained and discarded.
func (c *Channel) Send(ctx context.Context, url string, header http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("logglyhttp: build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("logglyhttp: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
