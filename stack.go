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
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// Constants defining the maximum stack frames to capture.
const (
	maxStackFrames = 64
)

var stackPCPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, maxStackFrames)
		return &buf
	},
}

// stackTracer defines an interface errors can implement to provide their own stack trace
// in the form of program counters. Compatible with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() []uintptr
}

// Frame is one entry of an error's call trace. Args holds the call arguments
// when the producer knows them; they are reduced to type names before they
// are serialized.
type Frame struct {
	Function string
	File     string
	Line     int
	Args     []any
}

// Tracer is implemented by errors that carry a call trace richer than
// program counters, for example traces decoded from another runtime.
type Tracer interface {
	Trace() []Frame
}

// StackError annotates an error with the stack of the goroutine that created
// it and an optional code.
type StackError struct {
	err  error
	code any
	pcs  []uintptr
}

// WithStack returns err annotated with the caller's stack. It returns nil
// when err is nil and err itself when err already carries a stack.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if hasOwnTrace(err) {
		return err
	}
	return &StackError{err: err, pcs: callers()}
}

// NewError returns an error with message and code that records the caller's
// stack.
func NewError(message string, code any) error {
	return &StackError{err: errors.New(message), code: code, pcs: callers()}
}

// Error implements error.
func (e *StackError) Error() string {
	if e == nil || e.err == nil {
		return "<nil>"
	}
	return e.err.Error()
}

// Unwrap returns the annotated error.
func (e *StackError) Unwrap() error { return e.err }

// StackTrace returns the captured program counters.
func (e *StackError) StackTrace() []uintptr { return e.pcs }

// Code returns the code supplied to [NewError], or nil.
func (e *StackError) Code() any { return e.code }

// Format supports %+v, which appends the Go formatted stack to the message.
func (e *StackError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			if stack := formatPCsToStackString(e.pcs); stack != "" {
				_, _ = io.WriteString(s, "\n")
				_, _ = io.WriteString(s, stack)
			}
			return
		}
		_, _ = io.WriteString(s, e.Error())
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// hasOwnTrace reports whether err, or an error it wraps, supplies a trace.
func hasOwnTrace(err error) bool {
	var tr Tracer
	if errors.As(err, &tr) {
		return true
	}
	var st stackTracer
	return errors.As(err, &st) && len(st.StackTrace()) > 0
}

// callers captures the current stack with sloggly's own frames trimmed.
func callers() []uintptr {
	bufPtr := stackPCPool.Get().(*[]uintptr)
	defer stackPCPool.Put(bufPtr)
	pcs := (*bufPtr)[:cap(*bufPtr)]

	n := runtime.Callers(1, pcs)
	if n == 0 {
		return nil
	}
	trimmed := trimStackPCs(pcs[:n], skipInternalStackFrame)
	if len(trimmed) == 0 {
		trimmed = pcs[:n]
	}
	return append([]uintptr(nil), trimmed...)
}

// framesFromPCs resolves program counters into frames, skipping runtime exit
// frames, anonymous entries and leading sloggly frames that were inlined
// into the caller.
func framesFromPCs(pcs []uintptr) []Frame {
	if len(pcs) == 0 {
		return nil
	}
	if len(pcs) > maxStackFrames {
		pcs = pcs[:maxStackFrames]
	}

	out := make([]Frame, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	leading := true
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if leading && skipInternalStackFrame(frame.Function) {
			if !more {
				break
			}
			continue
		}
		leading = false
		if frame.Function != "" && frame.Function != "runtime.goexit" {
			out = append(out, Frame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if !more {
			break
		}
	}
	return out
}

// formatPCsToStackString formats program counters (pcs) into a standard Go stack trace string.
// It skips runtime exit frames and leading sloggly frames.
func formatPCsToStackString(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}

	header := currentGoroutineHeader()

	var sb strings.Builder
	sb.Grow(len(header) + 1 + len(pcs)*64)
	sb.WriteString(header)
	sb.WriteByte('\n')

	var intBuf [20]byte
	frames := runtime.CallersFrames(pcs)
	frameCount := 0

	for {
		frame, more := frames.Next()

		if frame.PC == 0 {
			break
		}

		if frame.Function == "runtime.goexit" || frame.Function == "" || (frameCount == 0 && skipInternalStackFrame(frame.Function)) {
			if !more {
				break
			}
			continue
		}

		sb.WriteString(frame.Function)
		sb.WriteByte('\n')
		sb.WriteByte('\t')
		sb.WriteString(frame.File)
		sb.WriteByte(':')
		sb.Write(strconv.AppendInt(intBuf[:0], int64(frame.Line), 10))

		if frame.Entry != 0 && frame.PC > frame.Entry {
			sb.WriteString(" +0x")
			sb.Write(strconv.AppendUint(intBuf[:0], uint64(frame.PC-frame.Entry), 16))
		}

		sb.WriteByte('\n')

		frameCount++
		if !more || frameCount >= maxStackFrames {
			break
		}
	}

	return sb.String()
}

// trimStackPCs removes leading program counters whose frames all match
// skipFn. A single PC covers several frames when calls were inlined.
func trimStackPCs(pcs []uintptr, skipFn func(string) bool) []uintptr {
	if len(pcs) == 0 || skipFn == nil {
		return pcs
	}
	skip := 0
	for _, pc := range pcs {
		if !allFramesMatch(pc, skipFn) {
			break
		}
		skip++
	}
	if skip == len(pcs) {
		return nil
	}
	return pcs[skip:]
}

// allFramesMatch reports whether every frame expanded from pc matches fn.
func allFramesMatch(pc uintptr, fn func(string) bool) bool {
	frames := runtime.CallersFrames([]uintptr{pc})
	for {
		frame, more := frames.Next()
		if !fn(frame.Function) {
			return false
		}
		if !more {
			return true
		}
	}
}

const modulePrefix = "github.com/pjscruggs/sloggly."

// internalFramePrefixes lists the sloggly entry points that sit between the
// application and the stack capture.
var internalFramePrefixes = []string{
	modulePrefix + "callers",
	modulePrefix + "WithStack",
	modulePrefix + "NewError",
	modulePrefix + "withCapturedStack",
	modulePrefix + "(*Client).",
	modulePrefix + "(*Handler).",
	modulePrefix + "Handler.",
	"log/slog.",
}

// skipInternalStackFrame reports whether a stack frame belongs to sloggly or
// runtime internals.
func skipInternalStackFrame(funcName string) bool {
	if funcName == "" {
		return false
	}
	if strings.HasPrefix(funcName, "runtime.") {
		return true
	}
	for _, prefix := range internalFramePrefixes {
		if strings.HasPrefix(funcName, prefix) {
			return true
		}
	}
	return false
}

// currentGoroutineHeader returns the goroutine header emitted by runtime.Stack.
func currentGoroutineHeader() string {
	const fallbackHeader = "goroutine 0 [running]:"

	var buf [128]byte
	n := runtime.Stack(buf[:], false)
	if n <= 0 {
		return fallbackHeader
	}

	header := string(buf[:n])
	if idx := strings.IndexByte(header, '\n'); idx >= 0 {
		header = header[:idx]
	}
	header = strings.TrimSpace(strings.TrimSuffix(header, "\r"))
	if header == "" {
		return fallbackHeader
	}
	return header
}
