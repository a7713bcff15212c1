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
	"maps"
)

// ExceptionKey is the context key whose error value is unpacked into an
// [UnpackedException].
const ExceptionKey = "exception"

// UnpackedException is the serializable form of an error found under
// [ExceptionKey].
type UnpackedException struct {
	Message string       `json:"message"`
	Code    any          `json:"code"`
	File    string       `json:"file"`
	Line    int          `json:"line"`
	Trace   []TraceFrame `json:"trace"`
}

// TraceFrame is one serialized trace entry. Args carries the type names of
// the call arguments, never their values.
type TraceFrame struct {
	Function string   `json:"function,omitempty"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Args     []string `json:"args,omitempty"`
}

type (
	anyCoder    interface{ Code() any }
	intCoder    interface{ Code() int }
	stringCoder interface{ Code() string }
)

// UnpackException replaces an error stored under [ExceptionKey] with its
// [UnpackedException] form. Contexts without the key, or whose value is not
// an error, are returned unchanged. The input map is never modified.
func UnpackException(context map[string]any) map[string]any {
	return unpackException(context, EncodingReplace)
}

// unpackException is UnpackException with an explicit encoding policy.
func unpackException(context map[string]any, policy EncodingPolicy) map[string]any {
	raw, ok := context[ExceptionKey]
	if !ok {
		return context
	}
	err, ok := raw.(error)
	if !ok || err == nil {
		return context
	}

	out := maps.Clone(context)
	out[ExceptionKey] = safeUnpack(err, policy)
	return out
}

// safeUnpack converts err, falling back to its type name when any of the
// error's own methods panic.
func safeUnpack(err error, policy EncodingPolicy) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("%T", err)
		}
	}()
	return unpackError(err, policy)
}

// unpackError builds the UnpackedException for err.
func unpackError(err error, policy EncodingPolicy) UnpackedException {
	frames := traceOf(err)
	trace := make([]TraceFrame, 0, len(frames))
	for _, f := range frames {
		trace = append(trace, TraceFrame{
			Function: policy.Sanitize(f.Function),
			File:     policy.Sanitize(f.File),
			Line:     f.Line,
			Args:     argTypeNames(f.Args),
		})
	}

	ue := UnpackedException{
		Message: policy.Sanitize(err.Error()),
		Code:    codeOf(err),
		Trace:   trace,
	}
	if len(trace) > 0 {
		ue.File = trace[0].File
		ue.Line = trace[0].Line
	}
	return ue
}

// traceOf returns the richest trace available on err's chain.
func traceOf(err error) []Frame {
	var tr Tracer
	if errors.As(err, &tr) {
		return tr.Trace()
	}
	var st stackTracer
	if errors.As(err, &st) {
		return framesFromPCs(st.StackTrace())
	}
	return nil
}

// codeOf returns the first non-nil Code() on err's chain, or the type name of
// the outermost error that is not a stack annotation.
func codeOf(err error) any {
	var class string
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch c := e.(type) {
		case anyCoder:
			if v := c.Code(); v != nil {
				return v
			}
		case intCoder:
			return c.Code()
		case stringCoder:
			return c.Code()
		}
		if _, annotation := e.(*StackError); !annotation && class == "" {
			class = fmt.Sprintf("%T", e)
		}
	}
	if class == "" {
		class = fmt.Sprintf("%T", err)
	}
	return class
}

// argTypeNames reduces call arguments to their runtime type names.
func argTypeNames(args []any) []string {
	if len(args) == 0 {
		return nil
	}
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = fmt.Sprintf("%T", a)
	}
	return names
}

// withCapturedStack annotates an error stored under ExceptionKey with the
// caller's stack when it has none, so deferred events keep the stack of the
// log call rather than of the flush.
func withCapturedStack(context map[string]any) map[string]any {
	err, ok := context[ExceptionKey].(error)
	if !ok || err == nil || hasOwnTrace(err) {
		return context
	}
	out := maps.Clone(context)
	out[ExceptionKey] = &StackError{err: err, pcs: callers()}
	return out
}
