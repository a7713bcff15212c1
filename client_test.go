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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pjscruggs/sloggly/logglyhttp"
	"go.opentelemetry.io/otel/trace"
)

// sentRequest is one delivery captured by recordingSender.
type sentRequest struct {
	url    string
	header http.Header
	body   []byte
}

// recordingSender captures deliveries and optionally fails them.
type recordingSender struct {
	mu       sync.Mutex
	requests []sentRequest
	fail     func(n int) error
	attempts int
}

func (s *recordingSender) Send(_ context.Context, url string, header http.Header, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.fail != nil {
		if err := s.fail(s.attempts); err != nil {
			return err
		}
	}
	s.requests = append(s.requests, sentRequest{url: url, header: header, body: append([]byte(nil), body...)})
	return nil
}

func (s *recordingSender) sent() []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentRequest(nil), s.requests...)
}

// messages decodes the message field of every delivered payload.
func (s *recordingSender) messages(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, req := range s.sent() {
		out = append(out, decodePayload(t, req.body)["message"].(string))
	}
	return out
}

// newTestClient builds a client that delivers to a recordingSender.
func newTestClient(t *testing.T, opts ...Option) (*Client, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	client, err := New("test-token", append([]Option{WithSender(sender)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, sender
}

// TestNewRequiresToken verifies the token argument, the environment fallback
// and the missing token error.
func TestNewRequiresToken(t *testing.T) {
	t.Setenv(envToken, "")
	if _, err := New("  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("New without token error = %v, want ErrMissingToken", err)
	}

	t.Setenv(envToken, "from-env")
	client, err := New("", WithSender(&recordingSender{}))
	if err != nil {
		t.Fatalf("New with env token: %v", err)
	}
	if got := client.Config().Token; got != "from-env" {
		t.Fatalf("token = %q, want from-env", got)
	}

	client, err = New("explicit", WithSender(&recordingSender{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := client.Config().Token; got != "explicit" {
		t.Fatalf("token = %q, want explicit", got)
	}
}

// TestClientBuffersUntilFlush verifies nothing is sent before Flush and that
// Flush delivers every event in order, one request each.
func TestClientBuffersUntilFlush(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t)
	ctx := context.Background()

	client.Info(ctx, "first", nil)
	client.Warning(ctx, "second", map[string]any{"n": 2})
	client.Log(ctx, "custom", "third", nil)

	if got := len(sender.sent()); got != 0 {
		t.Fatalf("sent %d events before Flush, want 0", got)
	}
	if got := client.Pending(); got != 3 {
		t.Fatalf("Pending() = %d, want 3", got)
	}

	client.Flush(ctx)

	if diff := cmp.Diff([]string{"first", "second", "third"}, sender.messages(t)); diff != "" {
		t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
	}
	if got := client.Pending(); got != 0 {
		t.Fatalf("Pending() after Flush = %d, want 0", got)
	}

	client.Flush(ctx)
	if got := len(sender.sent()); got != 3 {
		t.Fatalf("second Flush sent more events: total %d", got)
	}

	want := Stats{Queued: 3, Sent: 3}
	if diff := cmp.Diff(want, client.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

// TestClientDirectDelivery verifies events are sent during Log when
// buffering is disabled.
func TestClientDirectDelivery(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t, WithDeferDelivery(false))
	client.Error(context.Background(), "now", nil)

	if diff := cmp.Diff([]string{"now"}, sender.messages(t)); diff != "" {
		t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
	}
	if got := client.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

// TestClientRequestTarget verifies the URL and headers of each delivery.
func TestClientRequestTarget(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t,
		WithHost("logs.example.test"),
		WithEndPoint("bulk"),
		WithTags("api", " ", "prod"),
		WithDeferDelivery(false),
	)
	client.Notice(context.Background(), "hello", nil)

	reqs := sender.sent()
	if len(reqs) != 1 {
		t.Fatalf("sent %d requests, want 1", len(reqs))
	}
	if reqs[0].url != "https://logs.example.test/bulk/test-token/" {
		t.Fatalf("url = %q", reqs[0].url)
	}
	if got := reqs[0].header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := reqs[0].header.Get(TagHeader); got != "api,prod" {
		t.Fatalf("%s = %q, want api,prod", TagHeader, got)
	}

	untagged, untaggedSender := newTestClient(t, WithDeferDelivery(false))
	untagged.Info(context.Background(), "no tags", nil)
	if _, ok := untaggedSender.sent()[0].header[TagHeader]; ok {
		t.Fatalf("tag header present without tags")
	}
}

// TestClientAbsorbsTransportFailures verifies failed deliveries are reported
// through stats and the error handler while later events still go out.
func TestClientAbsorbsTransportFailures(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		reported []error
	)
	client, sender := newTestClient(t, WithErrorHandler(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}))
	sender.fail = func(n int) error {
		if n == 2 {
			return errors.New("connection refused")
		}
		return nil
	}

	ctx := context.Background()
	for i := range 3 {
		client.Info(ctx, fmt.Sprintf("event-%d", i), nil)
	}
	client.Flush(ctx)

	if diff := cmp.Diff([]string{"event-0", "event-2"}, sender.messages(t)); diff != "" {
		t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
	}

	stats := client.Stats()
	if stats.Sent != 2 || stats.TransportFailures != 1 || stats.Failures() != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("error handler called %d times, want 1", len(reported))
	}
	var de *DeliveryError
	if !errors.As(reported[0], &de) {
		t.Fatalf("reported error %T is not a *DeliveryError", reported[0])
	}
	if de.Kind != FailureTransport || de.Message != "event-1" || de.Level != "info" {
		t.Fatalf("delivery error = %+v", de)
	}
	if !strings.Contains(de.Error(), "connection refused") {
		t.Fatalf("Error() = %q", de.Error())
	}
}

// TestClientRecoversPanics verifies panics in the sender and in the error
// handler never reach the caller.
func TestClientRecoversPanics(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t,
		WithDeferDelivery(false),
		WithErrorHandler(func(error) { panic("handler panic") }),
	)
	sender.fail = func(n int) error {
		if n == 1 {
			panic("sender panic")
		}
		return nil
	}

	client.Critical(context.Background(), "explodes", nil)
	client.Critical(context.Background(), "survives", nil)

	if got := client.Stats().InternalFailures; got != 1 {
		t.Fatalf("InternalFailures = %d, want 1", got)
	}
	if diff := cmp.Diff([]string{"survives"}, sender.messages(t)); diff != "" {
		t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
	}
}

// TestClientCloseFlushesOnce verifies Close drains the queue a single time
// and that later events are delivered directly.
func TestClientCloseFlushesOnce(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t)
	ctx := context.Background()
	client.Info(ctx, "queued", nil)

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	client.Info(ctx, "after close", nil)

	if diff := cmp.Diff([]string{"queued", "after close"}, sender.messages(t)); diff != "" {
		t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
	}
}

// TestClientShutdownHonoursContext verifies Shutdown reports the context
// error only when it cost an event.
func TestClientShutdownHonoursContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fail     func(n int) error
		wantErr  error
		wantSent int
	}{
		{
			name:    "send cut short",
			fail:    func(int) error { return fmt.Errorf("post: %w", context.Canceled) },
			wantErr: context.Canceled,
		},
		{
			name:     "drained before cancel",
			wantSent: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, sender := newTestClient(t)
			sender.fail = tt.fail
			client.Info(context.Background(), "queued", nil)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := client.Shutdown(ctx)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Shutdown error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Shutdown error = %v, want %v", err, tt.wantErr)
			}
			if got := len(sender.sent()); got != tt.wantSent {
				t.Fatalf("sent %d events, want %d", got, tt.wantSent)
			}
		})
	}
}

// TestClientErrorHandlerMayLog verifies an error handler can log to the
// client that reported the failure, both for direct sends and during Close.
func TestClientErrorHandlerMayLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		opts          []Option
		fail          func(n int) error
		run           func(*Client)
		wantDelivered []string
		wantFailures  uint64
	}{
		{
			name: "direct",
			opts: []Option{WithDeferDelivery(false)},
			fail: func(int) error { return errors.New("connection refused") },
			run: func(c *Client) {
				c.Error(context.Background(), "payment failed", nil)
			},
			wantFailures: 2,
		},
		{
			name: "close",
			fail: func(n int) error {
				if n == 1 {
					return errors.New("connection refused")
				}
				return nil
			},
			run: func(c *Client) {
				c.Error(context.Background(), "payment failed", nil)
				if err := c.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
			},
			wantDelivered: []string{"delivery failed"},
			wantFailures:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				client *Client
				calls  atomic.Int32
			)
			handler := WithErrorHandler(func(err error) {
				calls.Add(1)
				client.Warning(context.Background(), "delivery failed", map[string]any{"error": err.Error()})
			})
			client, sender := newTestClient(t, append([]Option{handler}, tt.opts...)...)
			sender.fail = tt.fail

			done := make(chan struct{})
			go func() {
				defer close(done)
				tt.run(client)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("logging from the error handler did not return")
			}

			if got := calls.Load(); got != 1 {
				t.Fatalf("error handler called %d times, want 1", got)
			}
			if got := client.Stats().TransportFailures; got != tt.wantFailures {
				t.Fatalf("TransportFailures = %d, want %d", got, tt.wantFailures)
			}
			if diff := cmp.Diff(tt.wantDelivered, sender.messages(t)); diff != "" {
				t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestClientCopiesContext verifies that mutating the caller's map after Log
// does not change the queued event.
func TestClientCopiesContext(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t)
	fields := map[string]any{"user": "alice"}
	client.Info(context.Background(), "login", fields)
	fields["user"] = "mallory"
	client.Flush(context.Background())

	ctxField := decodePayload(t, sender.sent()[0].body)["context"].(map[string]any)
	if ctxField["user"] != "alice" {
		t.Fatalf("context user = %v, want alice", ctxField["user"])
	}
}

// TestClientTimestampAtDelivery documents that deferred events are stamped
// when they are flushed.
func TestClientTimestampAtDelivery(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t)
	logged := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	flushed := logged.Add(time.Hour)

	client.now = func() time.Time { return logged }
	client.Info(context.Background(), "late", nil)
	client.now = func() time.Time { return flushed }
	client.Flush(context.Background())

	doc := decodePayload(t, sender.sent()[0].body)
	if got := int64(doc["timestamp"].(float64)); got != flushed.Unix() {
		t.Fatalf("timestamp = %d, want flush time %d", got, flushed.Unix())
	}
	if doc["datetime"] != "2024-01-01T01:00:00+00:00" {
		t.Fatalf("datetime = %v", doc["datetime"])
	}
}

// TestClientMinLevel verifies events below the minimum are dropped while
// unknown level names pass.
func TestClientMinLevel(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t, WithMinLevel(LevelWarning), WithDeferDelivery(false))
	ctx := context.Background()
	client.Debug(ctx, "debug", nil)
	client.Info(ctx, "info", nil)
	client.Warning(ctx, "warning", nil)
	client.Log(ctx, "audit", "custom", nil)
	client.Emergency(ctx, "emergency", nil)

	if diff := cmp.Diff([]string{"warning", "custom", "emergency"}, sender.messages(t)); diff != "" {
		t.Fatalf("delivered messages mismatch (-want +got):\n%s", diff)
	}
}

// TestClientLeveledHelpers checks the level names each helper sends.
func TestClientLeveledHelpers(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t)
	ctx := context.Background()
	client.Emergency(ctx, "m", nil)
	client.Alert(ctx, "m", nil)
	client.Critical(ctx, "m", nil)
	client.Error(ctx, "m", nil)
	client.Warning(ctx, "m", nil)
	client.Notice(ctx, "m", nil)
	client.Info(ctx, "m", nil)
	client.Debug(ctx, "m", nil)
	client.Flush(ctx)

	var levels []string
	for _, req := range sender.sent() {
		levels = append(levels, decodePayload(t, req.body)["level"].(string))
	}
	want := []string{"emergency", "alert", "critical", "error", "warning", "notice", "info", "debug"}
	if diff := cmp.Diff(want, levels); diff != "" {
		t.Fatalf("levels mismatch (-want +got):\n%s", diff)
	}
}

// TestClientCapturesStackAtLog verifies a deferred exception points at the
// log call rather than the flush.
func TestClientCapturesStackAtLog(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t)
	client.Error(context.Background(), "failed", map[string]any{ExceptionKey: errors.New("disk full")})
	client.Flush(context.Background())

	ctxField := decodePayload(t, sender.sent()[0].body)["context"].(map[string]any)
	exc := ctxField[ExceptionKey].(map[string]any)
	if exc["message"] != "disk full" || exc["code"] != "*errors.errorString" {
		t.Fatalf("exception = %v", exc)
	}
	first := exc["trace"].([]any)[0].(map[string]any)
	if !strings.HasSuffix(first["function"].(string), "TestClientCapturesStackAtLog") {
		t.Fatalf("first frame = %v, want the logging test", first["function"])
	}
}

// TestClientTraceCorrelation verifies span identifiers from the context are
// added to the event context.
func TestClientTraceCorrelation(t *testing.T) {
	t.Parallel()

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	client, sender := newTestClient(t)
	client.Info(ctx, "traced", map[string]any{SpanIDKey: "caller-wins"})
	client.Flush(context.Background())

	got := decodePayload(t, sender.sent()[0].body)["context"].(map[string]any)
	want := map[string]any{
		TraceIDKey:      "0af7651916cd43dd8448eb211c80319c",
		SpanIDKey:       "caller-wins",
		TraceSampledKey: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("context mismatch (-want +got):\n%s", diff)
	}

	off, offSender := newTestClient(t, WithTraceCorrelation(false))
	off.Info(ctx, "untraced", nil)
	off.Flush(context.Background())
	if got := decodePayload(t, offSender.sent()[0].body)["context"].(map[string]any); len(got) != 0 {
		t.Fatalf("context = %v, want empty", got)
	}
}

// TestClientContextFields verifies request-scoped fields sit beneath the
// fields passed to Log.
func TestClientContextFields(t *testing.T) {
	t.Parallel()

	ctx := ContextWithFields(context.Background(), map[string]any{"request_id": "r-1", "user": "scoped"})
	ctx = ContextWithFields(ctx, map[string]any{"tenant": "acme"})

	client, sender := newTestClient(t)
	client.Info(ctx, "scoped", map[string]any{"user": "explicit"})
	client.Flush(ctx)

	got := decodePayload(t, sender.sent()[0].body)["context"].(map[string]any)
	want := map[string]any{"request_id": "r-1", "tenant": "acme", "user": "explicit"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("context mismatch (-want +got):\n%s", diff)
	}
}

// TestClientStaticFields verifies static fields are merged beneath event keys.
func TestClientStaticFields(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t,
		WithStaticFields(map[string]any{"app": "billing", "message": "ignored"}),
		WithStaticFields(map[string]any{"region": "eu"}),
		WithDeferDelivery(false),
	)
	client.Info(context.Background(), "real", nil)

	doc := decodePayload(t, sender.sent()[0].body)
	if doc["app"] != "billing" || doc["region"] != "eu" || doc["message"] != "real" {
		t.Fatalf("payload = %v", doc)
	}
}

// TestClientConcurrentLogging verifies concurrent producers lose nothing and
// keep their own order.
func TestClientConcurrentLogging(t *testing.T) {
	t.Parallel()

	const (
		producers = 8
		perWorker = 50
	)
	client, sender := newTestClient(t)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				client.Info(context.Background(), "event", map[string]any{"producer": p, "seq": i})
			}
		}()
	}
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		client.Flush(context.Background())
	}()
	wg.Wait()
	<-flushDone
	client.Flush(context.Background())

	reqs := sender.sent()
	if len(reqs) != producers*perWorker {
		t.Fatalf("delivered %d events, want %d", len(reqs), producers*perWorker)
	}
	last := make(map[float64]float64)
	for _, req := range reqs {
		ctxField := decodePayload(t, req.body)["context"].(map[string]any)
		p, seq := ctxField["producer"].(float64), ctxField["seq"].(float64)
		if prev, ok := last[p]; ok && seq <= prev {
			t.Fatalf("producer %v delivered seq %v after %v", p, seq, prev)
		}
		last[p] = seq
	}
}

// TestClientConfigIsCopy verifies callers cannot mutate the client's
// configuration.
func TestClientConfigIsCopy(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, WithTags("a"), WithStaticFields(map[string]any{"k": "v"}))
	cfg := client.Config()
	cfg.Tags[0] = "changed"
	cfg.StaticFields["k"] = "changed"

	again := client.Config()
	if again.Tags[0] != "a" || again.StaticFields["k"] != "v" {
		t.Fatalf("configuration mutated through Config(): %+v", again)
	}
}

// TestNilClientIsSafe verifies a nil client absorbs every call.
func TestNilClientIsSafe(t *testing.T) {
	t.Parallel()

	var client *Client
	client.Info(context.Background(), "dropped", nil)
	client.Flush(context.Background())
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if diff := cmp.Diff(Stats{}, client.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

// TestPayloadBodiesAreValidJSON is a guard for every body the client sends.
func TestPayloadBodiesAreValidJSON(t *testing.T) {
	t.Parallel()

	client, sender := newTestClient(t, WithDeferDelivery(false))
	client.Info(context.Background(), "bad \xff text", map[string]any{"k\xfe": "v\xfd"})
	for _, req := range sender.sent() {
		if !json.Valid(req.body) {
			t.Fatalf("invalid JSON body: %q", req.body)
		}
	}
}

// TestClientTLSVerification verifies certificate checks through the default
// channel: an untrusted server is rejected unless verification is disabled.
func TestClientTLSVerification(t *testing.T) {
	t.Parallel()

	received := make(chan *http.Request, 4)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r
	}))
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "https://")
	base := func() http.RoundTripper { return http.DefaultTransport.(*http.Transport).Clone() }

	strict, err := New("tok",
		WithHost(host),
		WithDeferDelivery(false),
		WithChannelOptions(logglyhttp.WithBaseTransport(base())),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	strict.Info(context.Background(), "rejected", nil)
	if got := strict.Stats().TransportFailures; got != 1 {
		t.Fatalf("TransportFailures = %d, want 1", got)
	}

	lax, err := New("tok",
		WithHost(host),
		WithTags("tls"),
		WithTLSVerify(false),
		WithDeferDelivery(false),
		WithChannelOptions(logglyhttp.WithBaseTransport(base())),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lax.Info(context.Background(), "accepted", nil)
	if stats := lax.Stats(); stats.Sent != 1 || stats.Failures() != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	r := <-received
	if r.Method != http.MethodPost || r.URL.Path != "/inputs/tok/" {
		t.Fatalf("request = %s %s", r.Method, r.URL.Path)
	}
	if r.Header.Get(TagHeader) != "tls" || r.Header.Get("User-Agent") != UserAgent {
		t.Fatalf("headers = %v", r.Header)
	}
}
