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

// Package logglyhttp delivers encoded sloggly payloads to an HTTP ingestion
// endpoint.
//
// A [Channel] issues one POST per payload and reports, but never retries,
// failures: network and TLS errors are returned wrapped, non-2xx responses as
// [*StatusError]. Response bodies are drained and discarded.
//
// The transport stack is assembled from, innermost first:
//
//  1. a clone of [net/http.DefaultTransport] (or the transport supplied with
//     [WithBaseTransport]) with certificate verification disabled only when
//     [WithTLSVerify](false) is given;
//  2. a RoundTripper that injects the W3C traceparent of the request context
//     through the configured OpenTelemetry propagator ([WithTracePropagation]);
//  3. optionally, otelhttp client spans ([WithOTel]).
//
// Basic usage:
//
//	ch := logglyhttp.NewChannel(logglyhttp.WithTimeout(5 * time.Second))
//	err := ch.Send(ctx, "https://logs-01.loggly.com/inputs/TOKEN/", header, body)
package logglyhttp
