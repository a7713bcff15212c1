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
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pjscruggs/sloggly"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pjscruggs/sloggly/logglymw"

// HTTPKey is the context field holding the request metadata object.
const HTTPKey = "http"

// Middleware returns net/http middleware that scopes request metadata onto
// every event logged through client while the request is served.
func Middleware(client *sloggly.Client, opts ...Option) func(http.Handler) http.Handler {
	cfg := applyOptions(opts)

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}

		loggingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := sloggly.ContextWithFields(r.Context(), map[string]any{
				HTTPKey: requestFields(r, cfg),
			})
			r = r.WithContext(ctx)
			rec := &responseRecorder{ResponseWriter: w}

			defer func() {
				if cfg.recoverPanics {
					if p := recover(); p != nil {
						if p == http.ErrAbortHandler {
							panic(p)
						}
						client.Critical(ctx, "http handler panic", map[string]any{
							sloggly.ExceptionKey: sloggly.WithStack(fmt.Errorf("panic: %v", p)),
						})
						if !rec.wroteHeader {
							rec.WriteHeader(http.StatusInternalServerError)
						}
					}
				}
				if cfg.logRequests && !skipPath(r, cfg) {
					logRequest(ctx, client, rec, time.Since(start))
				}
				if cfg.flushAfterRequest {
					client.Flush(context.WithoutCancel(ctx))
				}
			}()

			next.ServeHTTP(rec, r)
		})

		handlerChain := http.Handler(loggingHandler)
		if cfg.enableOTel {
			otelOpts := []otelhttp.Option{}
			if cfg.tracerProvider != nil {
				otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.tracerProvider))
			}
			if cfg.propagators != nil {
				otelOpts = append(otelOpts, otelhttp.WithPropagators(cfg.propagators))
			}
			handlerChain = otelhttp.NewHandler(handlerChain, instrumentationName, otelOpts...)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if newCtx := ensureSpanContext(ctx, r, cfg); newCtx != ctx {
				r = r.WithContext(newCtx)
			}
			handlerChain.ServeHTTP(w, r)
		})
	}
}

// requestFields collects the request metadata scoped onto events.
func requestFields(r *http.Request, cfg *config) map[string]any {
	fields := map[string]any{
		"method": r.Method,
		"host":   r.Host,
	}
	if r.URL != nil {
		fields["path"] = r.URL.Path
		if cfg.includeQuery && r.URL.RawQuery != "" {
			fields["query"] = r.URL.RawQuery
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	fields["scheme"] = scheme
	if r.ContentLength > 0 {
		fields["request_size"] = r.ContentLength
	}
	if cfg.includeClientIP {
		if ip := extractIP(r.RemoteAddr); ip != "" {
			fields["client_ip"] = ip
		}
	}
	if cfg.includeUserAgent {
		if ua := r.UserAgent(); ua != "" {
			fields["user_agent"] = ua
		}
	}
	return fields
}

// logRequest emits the completion event. Server errors log at error, client
// errors at warning and everything else at info.
func logRequest(ctx context.Context, client *sloggly.Client, rec *responseRecorder, latency time.Duration) {
	status := rec.Status()
	level := sloggly.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = sloggly.LevelError
	case status >= http.StatusBadRequest:
		level = sloggly.LevelWarning
	}
	client.Log(ctx, level.String(), "http request", map[string]any{
		"status":        status,
		"response_size": rec.bytesWritten,
		"latency":       latency,
	})
}

// skipPath reports whether the request path matches a configured filter.
func skipPath(r *http.Request, cfg *config) bool {
	if r.URL == nil {
		return false
	}
	for _, s := range cfg.skipPathSubstrings {
		if strings.Contains(r.URL.Path, s) {
			return true
		}
	}
	return false
}

// ensureSpanContext extracts remote trace context when ctx carries none.
func ensureSpanContext(ctx context.Context, r *http.Request, cfg *config) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	propagator := cfg.propagators
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	extracted := propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
	if trace.SpanContextFromContext(extracted).IsValid() {
		return extracted
	}
	return ctx
}

// extractIP strips the port from a host:port string.
func extractIP(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// responseRecorder captures the status code and body size.
type responseRecorder struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	bytesWritten int64
}

// WriteHeader records the status code.
func (rr *responseRecorder) WriteHeader(code int) {
	if rr.wroteHeader {
		return
	}
	rr.wroteHeader = true
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

// Write counts body bytes.
func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytesWritten += int64(n)
	return n, err
}

// ReadFrom keeps io.Copy fast paths while counting bytes.
func (rr *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := io.Copy(rr.ResponseWriter, src)
	rr.bytesWritten += n
	return n, err
}

// Flush forwards to the wrapped writer when supported.
func (rr *responseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Status returns the status written, defaulting to 200.
func (rr *responseRecorder) Status() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}
