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
	"context"
	"maps"
)

type contextKey int

const (
	fieldsContextKey contextKey = iota
)

// ContextWithFields returns a child context carrying fields, merged over any
// fields already stored in ctx. Every event logged with the returned context
// includes them beneath the fields passed to Log.
func ContextWithFields(ctx context.Context, fields map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(fields) == 0 {
		return ctx
	}
	merged := maps.Clone(FieldsFromContext(ctx))
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	return context.WithValue(ctx, fieldsContextKey, merged)
}

// FieldsFromContext returns the fields stored by ContextWithFields. The map
// must not be modified.
func FieldsFromContext(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsContextKey).(map[string]any)
	return fields
}

// withContextFields returns fields over the request-scoped fields of ctx.
func withContextFields(ctx context.Context, fields map[string]any) map[string]any {
	scoped := FieldsFromContext(ctx)
	if len(scoped) == 0 {
		return fields
	}
	out := maps.Clone(scoped)
	maps.Copy(out, fields)
	return out
}
