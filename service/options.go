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

package service

import (
	"log/slog"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/eventlog"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *opcua.ServerMetrics
	events  eventlog.Logger
	clock   opcua.Clock
}

func defaultOptions() *options {
	return &options{
		logger: slog.Default(),
		events: eventlog.NoopLogger{},
		clock:  opcua.SystemClock{},
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics shares a metrics set with the caller. A fresh one is created
// otherwise.
func WithMetrics(m *opcua.ServerMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithEventLogger records one event per handled request.
func WithEventLogger(l eventlog.Logger) Option {
	return func(o *options) {
		o.events = l
	}
}

// WithClock sets the time source for response timestamps and session expiry.
func WithClock(c opcua.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}
