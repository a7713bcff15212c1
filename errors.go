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
	"errors"
	"fmt"
)

// ErrMissingToken indicates that neither the constructor argument nor
// LOGGLY_TOKEN supplied a customer token.
var ErrMissingToken = errors.New("sloggly: missing customer token")

// FailureKind classifies a delivery failure that was absorbed by the client.
type FailureKind int

const (
	// FailureTransport covers network, TLS and non-2xx HTTP outcomes.
	FailureTransport FailureKind = iota + 1
	// FailureSerialization covers payloads that could not be encoded as JSON.
	FailureSerialization
	// FailureEncoding covers text that could not be made valid UTF-8.
	FailureEncoding
	// FailureInternal covers panics recovered inside the client.
	FailureInternal
)

// String returns a short name for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureSerialization:
		return "serialization"
	case FailureEncoding:
		return "encoding"
	case FailureInternal:
		return "internal"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// DeliveryError describes an event that was not delivered. Values are only
// ever handed to the error handler installed with [WithErrorHandler]; Log and
// Flush never return them.
type DeliveryError struct {
	Kind    FailureKind
	Level   string
	Message string
	Err     error
}

// Error implements error.
func (e *DeliveryError) Error() string {
	if e.Level == "" {
		return fmt.Sprintf("sloggly: %s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sloggly: %s failure for %s event: %v", e.Kind, e.Level, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeliveryError) Unwrap() error { return e.Err }

// Stats is a snapshot of the client's delivery counters.
type Stats struct {
	Queued                uint64
	Sent                  uint64
	TransportFailures     uint64
	SerializationFailures uint64
	EncodingFailures      uint64
	InternalFailures      uint64
}

// Failures returns the total number of events lost to absorbed failures.
func (s Stats) Failures() uint64 {
	return s.TransportFailures + s.SerializationFailures + s.EncodingFailures + s.InternalFailures
}
