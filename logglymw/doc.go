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

// Package logglymw provides net/http server middleware for sloggly.
//
// [Middleware] attaches request metadata to the request context with
// [sloggly.ContextWithFields], so every event an application handler logs
// through the client carries the method, path and peer of the request it
// served. Remote trace context is extracted from the incoming headers so the
// trace_id and span_id fields line up with the caller's trace.
//
// The middleware can also log one event per completed request, recover
// handler panics as critical events, and flush the client's queue after each
// request, which suits short-lived serverless instances.
//
//	client, err := sloggly.New(token)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	handler := logglymw.Middleware(client, logglymw.WithFlushAfterRequest(true))(mux)
//	log.Fatal(http.ListenAndServe(":8080", handler))
package logglymw
