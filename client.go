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
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/pjscruggs/sloggly/logglyhttp"
)

// Client ships log events to a Loggly ingestion endpoint. In buffering mode
// (the default) events queue in memory and are delivered in log order by
// [Client.Flush] or [Client.Close]; in direct mode each Log call sends
// synchronously. Delivery failures never reach the caller: they are counted
// in [Stats], logged to the internal logger and passed to the error handler.
//
// A Client is safe for concurrent use.
type Client struct {
	cfg              Config
	url              string
	header           http.Header
	builder          payloadBuilder
	sender           Sender
	internalLogger   *slog.Logger
	errorHandler     func(error)
	traceCorrelation bool
	now              func() time.Time

	mu     sync.Mutex
	queue  []Event
	closed bool

	// deliverMu serialises sends so queued events leave in order even when
	// Flush runs concurrently with direct deliveries.
	deliverMu sync.Mutex
	closeOnce sync.Once
	closeErr  error

	// reporting is set while a failure is handed to the internal logger and
	// the error handler. Failures raised meanwhile are only counted.
	reporting atomic.Bool

	queued                atomic.Uint64
	sent                  atomic.Uint64
	transportFailures     atomic.Uint64
	serializationFailures atomic.Uint64
	encodingFailures      atomic.Uint64
	internalFailures      atomic.Uint64
}

// New constructs a Client. The token argument wins over LOGGLY_TOKEN; other
// environment variables are read first and then overridden by opts. New
// returns ErrMissingToken when no token is available.
func New(token string, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	internalLogger := o.internalLogger
	if internalLogger == nil {
		internalLogger = discardLogger()
	}

	cfg := loadConfigFromEnv(internalLogger)
	if t := strings.TrimSpace(token); t != "" {
		cfg.Token = t
	}
	applyOptions(&cfg, o, internalLogger)
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	if o.runtimeFields {
		static := DetectRuntimeInfo().Fields()
		maps.Copy(static, cfg.StaticFields)
		cfg.StaticFields = static
	}

	sender := o.sender
	if sender == nil {
		channelOpts := append([]logglyhttp.Option{
			logglyhttp.WithTLSVerify(cfg.TLSVerify),
			logglyhttp.WithUserAgent(UserAgent),
		}, o.channelOpts...)
		sender = logglyhttp.NewChannel(channelOpts...)
	}

	c := &Client{
		cfg:              cfg,
		url:              cfg.URL(),
		header:           cfg.Header(),
		builder:          payloadBuilder{policy: cfg.EncodingPolicy, static: cfg.StaticFields},
		sender:           sender,
		internalLogger:   internalLogger,
		errorHandler:     o.errorHandler,
		traceCorrelation: o.traceCorrelation == nil || *o.traceCorrelation,
		now:              time.Now,
	}
	internalLogger.Debug("loggly client initialised",
		slog.String("host", cfg.Host),
		slog.String("end_point", cfg.EndPoint),
		slog.Bool("defer_delivery", cfg.DeferDelivery),
		slog.Bool("tls_verify", cfg.TLSVerify),
		slog.Int("tags", len(cfg.Tags)),
	)
	return c, nil
}

// Config returns a copy of the resolved configuration.
func (c *Client) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg.clone()
}

// Stats returns a snapshot of the delivery counters.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Queued:                c.queued.Load(),
		Sent:                  c.sent.Load(),
		TransportFailures:     c.transportFailures.Load(),
		SerializationFailures: c.serializationFailures.Load(),
		EncodingFailures:      c.encodingFailures.Load(),
		InternalFailures:      c.internalFailures.Load(),
	}
}

// Pending returns the number of queued events awaiting Flush.
func (c *Client) Pending() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Log records one event. The level string is sent verbatim; the context map
// is copied, so callers may reuse it. An error under [ExceptionKey] is
// unpacked into its serializable form. Log never panics and never reports
// delivery failures to the caller.
func (c *Client) Log(ctx context.Context, level, message string, fields map[string]any) {
	if c == nil {
		return
	}
	defer c.recoverPanic(level, message)

	if ctx == nil {
		ctx = context.Background()
	}
	if !c.enabled(level) {
		return
	}

	ev := Event{Level: level, Message: message, Context: c.eventContext(ctx, fields)}

	c.mu.Lock()
	if c.cfg.DeferDelivery && !c.closed {
		c.queue = append(c.queue, ev)
		c.mu.Unlock()
		c.queued.Add(1)
		return
	}
	c.mu.Unlock()

	c.deliverMu.Lock()
	failed := c.deliver(context.WithoutCancel(ctx), ev)
	c.deliverMu.Unlock()
	if failed != nil {
		c.report(failed)
	}
}

// Emergency logs at the "emergency" level.
func (c *Client) Emergency(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelEmergency.String(), message, fields)
}

// Alert logs at the "alert" level.
func (c *Client) Alert(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelAlert.String(), message, fields)
}

// Critical logs at the "critical" level.
func (c *Client) Critical(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelCritical.String(), message, fields)
}

// Error logs at the "error" level.
func (c *Client) Error(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelError.String(), message, fields)
}

// Warning logs at the "warning" level.
func (c *Client) Warning(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelWarning.String(), message, fields)
}

// Notice logs at the "notice" level.
func (c *Client) Notice(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelNotice.String(), message, fields)
}

// Info logs at the "info" level.
func (c *Client) Info(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelInfo.String(), message, fields)
}

// Debug logs at the "debug" level.
func (c *Client) Debug(ctx context.Context, message string, fields map[string]any) {
	c.Log(ctx, LevelDebug.String(), message, fields)
}

// Flush delivers every queued event in log order, one request per event,
// and empties the queue. Failed events are dropped. Flush on an empty queue
// sends nothing. A cancelled ctx fails the remaining sends.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.flush(ctx)
}

// flush drains the queue and reports failures once deliverMu is released,
// so the error handler may log to c again. It returns the failures.
func (c *Client) flush(ctx context.Context) []*DeliveryError {
	c.deliverMu.Lock()
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	var failures []*DeliveryError
	for _, ev := range pending {
		if failed := c.deliver(ctx, ev); failed != nil {
			failures = append(failures, failed)
		}
	}
	c.deliverMu.Unlock()

	for _, failed := range failures {
		c.report(failed)
	}
	return failures
}

// Close flushes the queue once. Events logged afterwards are delivered
// directly. Close always returns nil; it satisfies io.Closer.
func (c *Client) Close() error {
	return c.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. It returns ctx's error when a queued
// event could not be sent because ctx ended; the undelivered events are
// counted as transport failures. Only the first Close or Shutdown call
// drains the queue.
func (c *Client) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		failures := c.flush(ctx)
		if err := ctx.Err(); err != nil {
			for _, failed := range failures {
				if errors.Is(failed, err) {
					c.closeErr = err
					break
				}
			}
		}
	})
	return c.closeErr
}

// enabled reports whether level passes the minimum level. Level names that
// do not parse are always delivered.
func (c *Client) enabled(level string) bool {
	lv, ok := ParseLevel(level)
	return !ok || lv >= c.cfg.MinLevel
}

// eventContext copies fields over the request-scoped fields of ctx and adds
// trace correlation and the captured stack of an exception.
func (c *Client) eventContext(ctx context.Context, fields map[string]any) map[string]any {
	out := withContextFields(ctx, maps.Clone(fields))
	if c.traceCorrelation {
		out = withTraceFields(ctx, out)
	}
	return withCapturedStack(out)
}

// deliver builds, encodes and sends ev, returning the failure for the
// caller to report. The caller holds deliverMu.
func (c *Client) deliver(ctx context.Context, ev Event) (failed *DeliveryError) {
	defer func() {
		if r := recover(); r != nil {
			failed = panicFailure(ev.Level, ev.Message, r)
		}
	}()

	body, err := c.builder.encode(c.builder.build(ev, c.now()))
	if err != nil {
		return failure(FailureSerialization, ev, err)
	}
	if !utf8.Valid(body) {
		return failure(FailureEncoding, ev, errors.New("payload is not valid UTF-8"))
	}
	if err := c.sender.Send(ctx, c.url, c.header.Clone(), body); err != nil {
		return failure(FailureTransport, ev, err)
	}
	c.sent.Add(1)
	return nil
}

// failure wraps err as a DeliveryError for ev, keeping an existing
// classification.
func failure(kind FailureKind, ev Event, err error) *DeliveryError {
	var de *DeliveryError
	if errors.As(err, &de) {
		return &DeliveryError{Kind: de.Kind, Level: ev.Level, Message: ev.Message, Err: de.Err}
	}
	return &DeliveryError{Kind: kind, Level: ev.Level, Message: ev.Message, Err: err}
}

// recoverPanic absorbs a panic raised while logging or delivering.
func (c *Client) recoverPanic(level, message string) {
	if r := recover(); r != nil {
		c.report(panicFailure(level, message, r))
	}
}

// panicFailure describes a recovered panic.
func panicFailure(level, message string, r any) *DeliveryError {
	return &DeliveryError{
		Kind:    FailureInternal,
		Level:   level,
		Message: message,
		Err:     fmt.Errorf("recovered panic: %v", r),
	}
}

// report counts err and forwards it to the internal logger and the error
// handler. A failure raised while another one is being reported, such as
// one from an error handler that logs to this client, is only counted.
func (c *Client) report(err *DeliveryError) {
	switch err.Kind {
	case FailureTransport:
		c.transportFailures.Add(1)
	case FailureSerialization:
		c.serializationFailures.Add(1)
	case FailureEncoding:
		c.encodingFailures.Add(1)
	default:
		c.internalFailures.Add(1)
	}

	if !c.reporting.CompareAndSwap(false, true) {
		return
	}
	defer c.reporting.Store(false)

	c.internalLogger.LogAttrs(context.Background(), slog.LevelWarn, "loggly event dropped",
		slog.String("kind", err.Kind.String()),
		slog.String("level", err.Level),
		slog.Any("error", err.Err),
	)

	if c.errorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.internalLogger.LogAttrs(context.Background(), slog.LevelError, "loggly error handler panicked",
				slog.Any("panic", r),
			)
		}
	}()
	c.errorHandler(err)
}
