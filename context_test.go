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
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestContextWithFields verifies fields accumulate across derived contexts
// and that parents are not affected.
func TestContextWithFields(t *testing.T) {
	t.Parallel()

	parent := ContextWithFields(context.Background(), map[string]any{"a": 1, "b": 1})
	child := ContextWithFields(parent, map[string]any{"b": 2, "c": 3})

	if diff := cmp.Diff(map[string]any{"a": 1, "b": 1}, FieldsFromContext(parent)); diff != "" {
		t.Fatalf("parent fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"a": 1, "b": 2, "c": 3}, FieldsFromContext(child)); diff != "" {
		t.Fatalf("child fields mismatch (-want +got):\n%s", diff)
	}
	if same := ContextWithFields(child, nil); same != child {
		t.Fatalf("empty fields created a new context")
	}
	if FieldsFromContext(context.Background()) != nil {
		t.Fatalf("background context reported fields")
	}
}

// TestWithContextFields verifies explicit fields win over scoped ones.
func TestWithContextFields(t *testing.T) {
	t.Parallel()

	ctx := ContextWithFields(context.Background(), map[string]any{"user": "scoped", "id": 1})
	got := withContextFields(ctx, map[string]any{"user": "explicit"})
	if diff := cmp.Diff(map[string]any{"user": "explicit", "id": 1}, got); diff != "" {
		t.Fatalf("merged fields mismatch (-want +got):\n%s", diff)
	}
	if FieldsFromContext(ctx)["user"] != "scoped" {
		t.Fatalf("scoped fields mutated")
	}
}
