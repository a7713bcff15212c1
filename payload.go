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
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Constants for the top-level keys of a payload document.
const (
	levelKey     = "level"
	messageKey   = "message"
	timestampKey = "timestamp"
	datetimeKey  = "datetime"
	contextField = "context"
)

// DatetimeLayout is the ISO-8601 layout of the datetime field, numeric zone
// offset included.
const DatetimeLayout = "2006-01-02T15:04:05-07:00"

// Event is one log call as accepted by [Client.Log].
type Event struct {
	Level   string
	Message string
	Context map[string]any
}

// Payload is the document sent to the ingestion endpoint for one event.
type Payload map[string]any

// BuildPayload assembles and encodes the document for a single event at the
// current time using the default encoding policy. Static fields sit beneath
// the event keys; an event key wins on collision.
func BuildPayload(level, message string, context, staticFields map[string]any) ([]byte, error) {
	b := payloadBuilder{static: staticFields}
	return b.encode(b.build(Event{Level: level, Message: message, Context: context}, time.Now()))
}

type payloadBuilder struct {
	policy EncodingPolicy
	static map[string]any
}

// build assembles the payload document for ev stamped with now.
func (b payloadBuilder) build(ev Event, now time.Time) Payload {
	n := normalizer{policy: b.policy}

	doc := make(Payload, len(b.static)+5)
	for k, v := range b.static {
		doc[b.policy.Sanitize(k)] = n.value(v, 1)
	}

	context := unpackException(ev.Context, b.policy)
	normalized, _ := n.value(context, 1).(map[string]any)
	if normalized == nil {
		normalized = map[string]any{}
	}

	doc[levelKey] = b.policy.Sanitize(ev.Level)
	doc[messageKey] = b.policy.Sanitize(ev.Message)
	doc[timestampKey] = now.Unix()
	doc[datetimeKey] = now.Format(DatetimeLayout)
	doc[contextField] = normalized
	return doc
}

// encode serializes doc. Should encoding/json still reject the normalized
// tree, the context is replaced by its printed form and encoding retried
// once before the failure is reported.
func (b payloadBuilder) encode(doc Payload) ([]byte, error) {
	body, err := marshalPayload(doc)
	if err == nil {
		return body, nil
	}

	fallback := make(Payload, len(doc))
	for k, v := range doc {
		fallback[k] = v
	}
	fallback[contextField] = map[string]any{"unserializable": b.policy.Sanitize(fmt.Sprintf("%+v", doc[contextField]))}
	body, ferr := marshalPayload(fallback)
	if ferr != nil {
		return nil, &DeliveryError{Kind: FailureSerialization, Err: fmt.Errorf("sloggly: encode payload: %w", err)}
	}
	return body, nil
}

// marshalPayload encodes without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalPayload(doc Payload) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during encode: %v", r)
		}
	}()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
