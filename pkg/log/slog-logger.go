// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package log

import (
	"context"
	"log/slog"
)

type slogger struct {
	l Logger
}

var _ slog.Handler = &slogger{}

// SetSlogLogger sets up the default logger for the slog package. An empty
// source uses Default(); otherwise the named source is used.
func SetSlogLogger(source string) {
	var l Logger
	if source == "" {
		l = Default()
	} else {
		l = Get(source)
	}
	slog.SetDefault(slog.New(&slogger{l: l}))
}

func (s *slogger) Enabled(_ context.Context, level slog.Level) bool {
	switch {
	case level < slog.LevelInfo:
		return GetLevel() <= LevelDebug
	case level < slog.LevelWarn:
		return GetLevel() <= LevelInfo
	case level < slog.LevelError:
		return GetLevel() <= LevelWarn
	default:
		return GetLevel() <= LevelCritical
	}
}

func (s *slogger) Handle(_ context.Context, r slog.Record) error {
	switch {
	case r.Level < slog.LevelInfo:
		s.l.Debug("%s", r.Message)
	case r.Level < slog.LevelWarn:
		s.l.Info("%s", r.Message)
	case r.Level < slog.LevelError:
		s.l.Warn("%s", r.Message)
	default:
		s.l.Error("%s", r.Message)
	}
	return nil
}

func (s *slogger) WithAttrs(_ []slog.Attr) slog.Handler { return s }
func (s *slogger) WithGroup(_ string) slog.Handler      { return s }
