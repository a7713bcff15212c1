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
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EncodingPolicy selects how text that is not valid UTF-8 is repaired before
// it is embedded in a payload.
type EncodingPolicy int

const (
	// EncodingReplace re-encodes text through the UTF-8 codec, turning every
	// invalid sequence into U+FFFD. This is the default.
	EncodingReplace EncodingPolicy = iota
	// EncodingDrop removes every byte that does not start or continue a
	// well-formed UTF-8 sequence.
	EncodingDrop
)

// String returns the configuration name of the policy.
func (p EncodingPolicy) String() string {
	switch p {
	case EncodingReplace:
		return "replace"
	case EncodingDrop:
		return "drop"
	default:
		return fmt.Sprintf("EncodingPolicy(%d)", int(p))
	}
}

// parseEncodingPolicy maps configuration names onto policies.
func parseEncodingPolicy(value string) (EncodingPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "replace", "codec":
		return EncodingReplace, true
	case "drop", "filter", "strip":
		return EncodingDrop, true
	default:
		return EncodingReplace, false
	}
}

// Sanitize returns s as valid UTF-8 using the default [EncodingReplace] policy.
func Sanitize(s string) string {
	return EncodingReplace.Sanitize(s)
}

// SanitizeBytes returns b as a valid UTF-8 string using the default policy.
func SanitizeBytes(b []byte) string {
	return EncodingReplace.SanitizeBytes(b)
}

// Sanitize returns s as valid UTF-8 according to the policy. Valid input is
// returned without copying.
func (p EncodingPolicy) Sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	if p == EncodingDrop {
		return string(dropInvalidUTF8([]byte(s)))
	}
	out, _, err := transform.String(unicode.UTF8.NewDecoder(), s)
	if err != nil || !utf8.ValidString(out) {
		return string(dropInvalidUTF8([]byte(s)))
	}
	return out
}

// SanitizeBytes returns b as a valid UTF-8 string according to the policy.
func (p EncodingPolicy) SanitizeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if p == EncodingDrop {
		return string(dropInvalidUTF8(b))
	}
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil || !utf8.Valid(out) {
		return string(dropInvalidUTF8(b))
	}
	return string(out)
}

// dropInvalidUTF8 keeps only well-formed sequences of one to four bytes.
// Overlong forms, surrogate halves and code points above U+10FFFF are
// rejected by utf8.DecodeRune and dropped one byte at a time, so the scan
// resynchronises on the next lead byte.
func dropInvalidUTF8(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			i++
			continue
		}
		out = append(out, b[i:i+size]...)
		i += size
	}
	return out
}
