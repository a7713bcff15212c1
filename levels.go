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
	"log/slog"
	"strconv"
	"strings"
)

// Level represents the severity of a log event, extending slog.Level with
// the syslog-style names Loggly indexes (notice, critical, alert,
// emergency). It keeps the integer representation of slog.Level.
type Level slog.Level

// Constants for the supported severities, mapped onto slog.Level values with
// spacing that preserves slog's ordering.
const (
	LevelDebug     Level = Level(slog.LevelDebug) // -4
	LevelInfo      Level = Level(slog.LevelInfo)  // 0
	LevelNotice    Level = 2
	LevelWarning   Level = Level(slog.LevelWarn)  // 4
	LevelError     Level = Level(slog.LevelError) // 8
	LevelCritical  Level = 12
	LevelAlert     Level = 16
	LevelEmergency Level = 20
)

var levelNames = []struct {
	level Level
	name  string
}{
	{LevelDebug, "debug"},
	{LevelInfo, "info"},
	{LevelNotice, "notice"},
	{LevelWarning, "warning"},
	{LevelError, "error"},
	{LevelCritical, "critical"},
	{LevelAlert, "alert"},
	{LevelEmergency, "emergency"},
}

// String returns the lowercase level name sent in the payload's level field.
// Levels between the named constants are rendered as the nearest lower name
// plus the offset (e.g. "info+1"); levels below debug as "debug-N".
func (l Level) String() string {
	if l < LevelDebug {
		return fmt.Sprintf("debug%d", int(l-LevelDebug))
	}
	base := levelNames[0]
	for _, candidate := range levelNames {
		if candidate.level > l {
			break
		}
		base = candidate
	}
	if base.level == l {
		return base.name
	}
	return fmt.Sprintf("%s+%d", base.name, int(l-base.level))
}

// Level returns the underlying slog.Level value so Level satisfies
// slog.Leveler.
func (l Level) Level() slog.Level {
	return slog.Level(l)
}

// ParseLevel maps a level name, alias or integer onto a Level.
func ParseLevel(value string) (Level, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	switch trimmed {
	case "":
		return LevelInfo, false
	case "warn":
		return LevelWarning, true
	case "err":
		return LevelError, true
	case "crit":
		return LevelCritical, true
	case "emerg", "fatal", "panic":
		return LevelEmergency, true
	}
	for _, candidate := range levelNames {
		if candidate.name == trimmed {
			return candidate.level, true
		}
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return Level(n), true
	}
	return LevelInfo, false
}
