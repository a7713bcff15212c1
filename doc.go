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

// Package sloggly ships structured log events to Loggly over HTTPS.
//
// ⚠️ This module is untested in production, use at your own risk. ⚠️
//
// The entry point is [New], which returns a [Client]. Each call to
// [Client.Log] (or one of the leveled helpers such as [Client.Error])
// records an event made of a level name, a message and a context map. By
// default events queue in memory and are sent by [Client.Flush] or
// [Client.Close], one HTTPS request per event, in the order they were
// logged. With [WithDeferDelivery](false) every call sends immediately.
//
// Every event becomes a JSON document:
//
//	{"level":"error","message":"charge failed","timestamp":1700000000,
//	 "datetime":"2023-11-14T22:13:20+00:00","context":{"order":42}}
//
// Fields passed to [WithStaticFields] are merged beneath these keys, and
// invalid UTF-8 anywhere in the document is repaired before encoding. An
// error stored under the "exception" context key is unpacked into its
// message, code, origin and stack frames; call arguments are reduced to type
// names. [WithStack] and [NewError] attach a stack to errors that have none.
//
// Delivery is best effort. Network, TLS and HTTP failures never reach the
// caller: they are counted in [Client.Stats], logged to the logger passed to
// [WithInternalLogger] and handed to the callback passed to
// [WithErrorHandler].
//
// # Configuration
//
// The token, tags, host, end point, delivery mode, TLS verification,
// encoding policy and minimum level can be set from LOGGLY_* environment
// variables. Options passed to New override them.
//
// # slog
//
// [NewHandler] adapts a Client to [log/slog]:
//
//	client, err := sloggly.New(os.Getenv("LOGGLY_TOKEN"), sloggly.WithTags("api"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	logger := sloggly.NewLogger(client)
//	logger.ErrorContext(ctx, "charge failed", "exception", err, "order", 42)
//
// # Subpackages
//
//   - [github.com/pjscruggs/sloggly/logglyhttp] is the HTTPS delivery channel.
//   - [github.com/pjscruggs/sloggly/logglymw] is net/http middleware that
//     scopes request metadata onto events.
package sloggly
