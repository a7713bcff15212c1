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
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"

	"github.com/pjscruggs/sloggly/logglyhttp"
)

// Defaults for the ingestion endpoint.
const (
	DefaultHost     = "logs-01.loggly.com"
	DefaultEndPoint = "inputs"

	// TagHeader carries the comma-joined tag list.
	TagHeader = "X-LOGGLY-TAG"

	envToken          = "LOGGLY_TOKEN"
	envTags           = "LOGGLY_TAGS"
	envHost           = "LOGGLY_HOST"
	envEndPoint       = "LOGGLY_ENDPOINT"
	envLogOnShutdown  = "LOGGLY_LOG_ON_SHUTDOWN"
	envSSLVerify      = "LOGGLY_SSL_VERIFY"
	envEncodingPolicy = "LOGGLY_ENCODING_POLICY"
	envLevel          = "LOGGLY_LEVEL"

	// Keys recognised by WithOptionsMap.
	OptionLogOnShutdown = "log_on_shutdown"
	OptionSSLVerify     = "ssl_verify"
)

// Config is the resolved, immutable configuration of a [Client].
type Config struct {
	Token    string
	Host     string
	EndPoint string
	Tags     []string
	// StaticFields are merged beneath every payload document.
	StaticFields map[string]any
	// DeferDelivery queues events until Flush or Close instead of sending
	// each one during Log.
	DeferDelivery bool
	// TLSVerify enables certificate and host name verification.
	TLSVerify      bool
	EncodingPolicy EncodingPolicy
	// MinLevel drops events whose level name parses below it. Unknown level
	// names are always delivered.
	MinLevel Level
}

// URL returns the ingestion URL for the configuration.
func (c Config) URL() string {
	return EndpointURL(c.Host, c.EndPoint, c.Token)
}

// Header returns the request headers for the configuration.
func (c Config) Header() http.Header {
	return RequestHeader(c.Tags)
}

// clone returns a deep copy of the mutable parts of c.
func (c Config) clone() Config {
	c.Tags = append([]string(nil), c.Tags...)
	c.StaticFields = maps.Clone(c.StaticFields)
	return c
}

// EndpointURL builds https://{host}/{endPoint}/{token}/. The segments are
// used verbatim.
func EndpointURL(host, endPoint, token string) string {
	return fmt.Sprintf("https://%s/%s/%s/", host, endPoint, token)
}

// RequestHeader returns the headers sent with every payload. The tag header
// is present only when tags is non-empty.
func RequestHeader(tags []string) http.Header {
	h := make(http.Header, 2)
	h.Set("Content-Type", "application/json")
	if len(tags) > 0 {
		h.Set(TagHeader, strings.Join(tags, ","))
	}
	return h
}

// Sender delivers one encoded payload. [logglyhttp.Channel] is the default
// implementation.
type Sender interface {
	Send(ctx context.Context, url string, header http.Header, body []byte) error
}

// Option configures a Client during construction via [New]. Options are
// applied after environment overrides, so an explicit option always wins.
type Option func(*options)

// options holds the optional settings. Pointer fields distinguish an
// explicit zero value from an unset option.
type options struct {
	tags             *[]string
	host             *string
	endPoint         *string
	staticFields     map[string]any
	deferDelivery    *bool
	tlsVerify        *bool
	encodingPolicy   *EncodingPolicy
	minLevel         *Level
	optionsMaps      []map[string]any
	sender           Sender
	channelOpts      []logglyhttp.Option
	internalLogger   *slog.Logger
	errorHandler     func(error)
	runtimeFields    bool
	traceCorrelation *bool
}

// WithTags sets the tags sent with every event. Empty entries are dropped.
func WithTags(tags ...string) Option {
	cleaned := cleanTags(tags)
	return func(o *options) {
		o.tags = &cleaned
	}
}

// WithHost overrides the ingestion host (default logs-01.loggly.com).
func WithHost(host string) Option {
	trimmed := strings.TrimSpace(host)
	return func(o *options) {
		o.host = &trimmed
	}
}

// WithEndPoint overrides the first path segment (default "inputs").
func WithEndPoint(endPoint string) Option {
	trimmed := strings.TrimSpace(endPoint)
	return func(o *options) {
		o.endPoint = &trimmed
	}
}

// WithStaticFields adds fields merged beneath every payload document. Later
// calls add to, and override keys of, earlier ones.
func WithStaticFields(fields map[string]any) Option {
	dup := maps.Clone(fields)
	return func(o *options) {
		if len(dup) == 0 {
			return
		}
		if o.staticFields == nil {
			o.staticFields = make(map[string]any, len(dup))
		}
		maps.Copy(o.staticFields, dup)
	}
}

// WithDeferDelivery selects buffering (true, the default) or direct
// delivery (false).
func WithDeferDelivery(enabled bool) Option {
	return func(o *options) {
		o.deferDelivery = &enabled
	}
}

// WithTLSVerify toggles server certificate verification. Verification is on
// by default; turning it off disables both chain and host name checks.
func WithTLSVerify(enabled bool) Option {
	return func(o *options) {
		o.tlsVerify = &enabled
	}
}

// WithEncodingPolicy selects how invalid UTF-8 is repaired.
func WithEncodingPolicy(policy EncodingPolicy) Option {
	return func(o *options) {
		o.encodingPolicy = &policy
	}
}

// WithMinLevel drops events below level.
func WithMinLevel(level Level) Option {
	return func(o *options) {
		o.minLevel = &level
	}
}

// WithOptionsMap applies the loosely typed option map used by other Loggly
// clients. Recognised keys are "log_on_shutdown" and "ssl_verify"; values
// may be booleans or strings accepted by strconv.ParseBool. Unknown keys and
// invalid values are reported to the internal logger and ignored.
func WithOptionsMap(m map[string]any) Option {
	dup := maps.Clone(m)
	return func(o *options) {
		if len(dup) > 0 {
			o.optionsMaps = append(o.optionsMaps, dup)
		}
	}
}

// WithSender replaces the HTTP delivery channel.
func WithSender(s Sender) Option {
	return func(o *options) {
		o.sender = s
	}
}

// WithChannelOptions passes options to the default [logglyhttp.Channel].
// They are ignored when WithSender is used.
func WithChannelOptions(opts ...logglyhttp.Option) Option {
	return func(o *options) {
		o.channelOpts = append(o.channelOpts, opts...)
	}
}

// WithInternalLogger injects a logger for sloggly's own diagnostics, such as
// ignored configuration values and dropped events.
func WithInternalLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.internalLogger = logger
	}
}

// WithErrorHandler registers fn to observe every absorbed failure as a
// *DeliveryError. fn runs synchronously on the goroutine that logged or
// flushed; a panic inside fn is recovered.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithRuntimeFields adds the fields of [DetectRuntimeInfo] (host name,
// instance ID and, on Google Cloud, project, zone and instance) beneath the
// static fields.
func WithRuntimeFields() Option {
	return func(o *options) {
		o.runtimeFields = true
	}
}

// WithTraceCorrelation toggles the trace_id, span_id and trace_sampled
// context fields taken from the OpenTelemetry span in the Log context.
// Enabled by default.
func WithTraceCorrelation(enabled bool) Option {
	return func(o *options) {
		o.traceCorrelation = &enabled
	}
}

// loadConfigFromEnv returns the default configuration with environment
// overrides applied, reporting invalid values to logger.
func loadConfigFromEnv(logger *slog.Logger) Config {
	cfg := Config{
		Host:          DefaultHost,
		EndPoint:      DefaultEndPoint,
		DeferDelivery: true,
		TLSVerify:     true,
		MinLevel:      LevelDebug,
	}

	cfg.Token = trimmedEnv(envToken)
	if v := trimmedEnv(envTags); v != "" {
		cfg.Tags = cleanTags(strings.Split(v, ","))
	}
	if v := trimmedEnv(envHost); v != "" {
		cfg.Host = v
	}
	if v := trimmedEnv(envEndPoint); v != "" {
		cfg.EndPoint = v
	}
	cfg.DeferDelivery = parseBoolEnv(envLogOnShutdown, cfg.DeferDelivery, logger)
	cfg.TLSVerify = parseBoolEnv(envSSLVerify, cfg.TLSVerify, logger)

	if v := trimmedEnv(envEncodingPolicy); v != "" {
		if policy, ok := parseEncodingPolicy(v); ok {
			cfg.EncodingPolicy = policy
		} else {
			logDiagnostic(logger, slog.LevelWarn, "invalid encoding policy", slog.String("variable", envEncodingPolicy), slog.String("value", v))
		}
	}
	if v := trimmedEnv(envLevel); v != "" {
		if lv, ok := ParseLevel(v); ok {
			cfg.MinLevel = lv
		} else {
			logDiagnostic(logger, slog.LevelWarn, "invalid log level", slog.String("variable", envLevel), slog.String("value", v))
		}
	}
	return cfg
}

// applyOptions merges user-supplied options into the environment-derived
// configuration.
func applyOptions(cfg *Config, o *options, logger *slog.Logger) {
	for _, m := range o.optionsMaps {
		applyOptionsMap(cfg, m, logger)
	}
	if o.tags != nil {
		cfg.Tags = append([]string(nil), (*o.tags)...)
	}
	if o.host != nil && *o.host != "" {
		cfg.Host = *o.host
	}
	if o.endPoint != nil && *o.endPoint != "" {
		cfg.EndPoint = *o.endPoint
	}
	if len(o.staticFields) > 0 {
		cfg.StaticFields = maps.Clone(o.staticFields)
	}
	if o.deferDelivery != nil {
		cfg.DeferDelivery = *o.deferDelivery
	}
	if o.tlsVerify != nil {
		cfg.TLSVerify = *o.tlsVerify
	}
	if o.encodingPolicy != nil {
		cfg.EncodingPolicy = *o.encodingPolicy
	}
	if o.minLevel != nil {
		cfg.MinLevel = *o.minLevel
	}
}

// applyOptionsMap interprets the loosely typed option map.
func applyOptionsMap(cfg *Config, m map[string]any, logger *slog.Logger) {
	for key, raw := range m {
		switch key {
		case OptionLogOnShutdown:
			if b, ok := asBool(raw); ok {
				cfg.DeferDelivery = b
				continue
			}
		case OptionSSLVerify:
			if b, ok := asBool(raw); ok {
				cfg.TLSVerify = b
				if !b {
					logDiagnostic(logger, slog.LevelWarn, "TLS certificate verification disabled", slog.String("option", key))
				}
				continue
			}
		default:
			logDiagnostic(logger, slog.LevelWarn, "unknown option", slog.String("option", key))
			continue
		}
		logDiagnostic(logger, slog.LevelWarn, "invalid option value", slog.String("option", key), slog.Any("value", raw))
	}
}

// asBool accepts booleans and strconv.ParseBool strings.
func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	default:
		return false, false
	}
}

// parseBoolEnv reads a boolean environment variable, keeping current when
// the variable is unset or invalid.
func parseBoolEnv(key string, current bool, logger *slog.Logger) bool {
	value := trimmedEnv(key)
	if value == "" {
		return current
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		logDiagnostic(logger, slog.LevelWarn, "invalid boolean environment variable", slog.String("variable", key), slog.String("value", value), slog.Any("error", err))
		return current
	}
	return b
}

// cleanTags trims tags and drops empty ones.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// logDiagnostic emits internal diagnostic messages, guarding against nil
// loggers.
func logDiagnostic(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// discardLogger is the internal logger used when none is configured.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
