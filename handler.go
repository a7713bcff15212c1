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
	"log/slog"
	"runtime"
	"slices"
)

// SourceKey holds the call site when [WithSource] is enabled.
const SourceKey = "source"

// Handler adapts a [Client] to [slog.Handler]. Each record becomes one Loggly
// event: the record level is mapped onto the Loggly level names, attributes
// become the event context and groups become nested objects. An error stored
// under [ExceptionKey] at the top level is unpacked like a direct Log call.
type Handler struct {
	client    *Client
	leveler   slog.Leveler
	addSource bool

	groupedAttrs []groupedAttr
	groups       []string
}

// groupedAttr is an attribute bound with WithAttrs and the group path that
// was open at the time.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLeveler sets the minimum level the handler accepts. It defaults to the
// client's configured minimum.
func WithLeveler(leveler slog.Leveler) HandlerOption {
	return func(h *Handler) {
		if leveler != nil {
			h.leveler = leveler
		}
	}
}

// WithSource records the call site under [SourceKey].
func WithSource(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.addSource = enabled
	}
}

// NewHandler returns a slog.Handler that writes to client.
func NewHandler(client *Client, opts ...HandlerOption) *Handler {
	h := &Handler{client: client, leveler: client.Config().MinLevel}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// NewLogger is shorthand for slog.New(NewHandler(client, opts...)).
func NewLogger(client *Client, opts ...HandlerOption) *slog.Logger {
	return slog.New(NewHandler(client, opts...))
}

// Client returns the client records are written to.
func (h *Handler) Client() *Client {
	return h.client
}

// Enabled reports whether level meets the handler's minimum.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.client != nil && level >= h.leveler.Level()
}

// Handle converts r into an event and passes it to the client.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.client == nil {
		return nil
	}

	fields := make(map[string]any, len(h.groupedAttrs)+r.NumAttrs())
	for _, ga := range h.groupedAttrs {
		insertAttr(fields, ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		insertAttr(fields, h.groups, a)
		return true
	})
	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		fields[SourceKey] = map[string]any{
			"function": frame.Function,
			"file":     frame.File,
			"line":     frame.Line,
		}
	}

	h.client.Log(ctx, Level(r.Level).String(), r.Message, fields)
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := h.clone()
	groups := slices.Clone(h.groups)
	for _, a := range attrs {
		clone.groupedAttrs = append(clone.groupedAttrs, groupedAttr{groups: groups, attr: a})
	}
	return clone
}

// WithGroup returns a handler that nests later attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(slices.Clone(h.groups), name)
	return clone
}

func (h *Handler) clone() *Handler {
	return &Handler{
		client:       h.client,
		leveler:      h.leveler,
		addSource:    h.addSource,
		groupedAttrs: slices.Clone(h.groupedAttrs),
		groups:       h.groups,
	}
}

// insertAttr stores a under the nested group path in fields. Empty attrs are
// skipped and inline groups (empty key) are flattened into the current
// object, as slog prescribes.
func insertAttr(fields map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup && len(a.Value.Group()) == 0 {
		return
	}
	if a.Key == "" && a.Value.Kind() != slog.KindGroup {
		return
	}

	target := fields
	for _, g := range groups {
		next, ok := target[g].(map[string]any)
		if !ok {
			next = make(map[string]any)
			target[g] = next
		}
		target = next
	}

	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		if a.Key == "" {
			for _, m := range members {
				insertAttr(target, nil, m)
			}
			return
		}
		for _, m := range members {
			insertAttr(target, []string{a.Key}, m)
		}
		return
	}

	if a.Key == ExceptionKey && len(groups) == 0 {
		if err, ok := a.Value.Any().(error); ok {
			target[a.Key] = err
			return
		}
	}
	target[a.Key] = a.Value
}
