// Copyright 2025 Edgeo SCADA
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

package eventlog

import (
	"context"
	"log/slog"

	opcua "github.com/edgeo-scada/uasub"
)

// Logger receives service events. Implementations must be safe for
// concurrent use and must not block the caller for long.
type Logger interface {
	Log(e Event)
}

// NoopLogger drops every event.
type NoopLogger struct{}

// Log implements Logger.
func (NoopLogger) Log(Event) {}

// MultiLogger fans an event out to several loggers.
type MultiLogger []Logger

// Log implements Logger.
func (m MultiLogger) Log(e Event) {
	for _, l := range m {
		l.Log(e)
	}
}

// SlogAdapter writes events to a slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Logger.
func (a *SlogAdapter) Log(e Event) {
	attrs := []slog.Attr{
		slog.String("session_id", e.SessionID),
		slog.String("service", e.Service.String()),
		slog.String("status", e.StatusCode.String()),
	}
	if e.SubscriptionID != 0 {
		attrs = append(attrs, slog.Uint64("subscription_id", uint64(e.SubscriptionID)))
	}
	if e.Service == opcua.ServicePublish {
		attrs = append(attrs,
			slog.Uint64("sequence_number", uint64(e.SequenceNumber)),
			slog.Bool("keepalive", e.KeepAlive),
		)
	}
	if e.Items > 0 {
		attrs = append(attrs, slog.Int("items", e.Items))
	}
	if failed := e.Failed(); failed > 0 {
		attrs = append(attrs, slog.Int("failed", failed))
	}
	if e.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", e.Duration))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "service", attrs...)
}

var (
	_ Logger = NoopLogger{}
	_ Logger = MultiLogger(nil)
	_ Logger = (*SlogAdapter)(nil)
)
