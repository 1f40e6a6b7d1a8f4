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

// Package config loads the engine limits from YAML.
package config

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/session"
	"github.com/edgeo-scada/uasub/subscription"
)

// Range is an inclusive [Min, Max] interval.
type Range[T cmp.Ordered] struct {
	Min T `yaml:"min"`
	Max T `yaml:"max"`
}

// Validate implements validation.Validatable.
func (r Range[T]) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Max, validation.Required, validation.Min(r.Min)),
	)
}

func (r Range[T]) bounded() opcua.BoundedValue[T] {
	return opcua.NewBoundedValue(r.Min, r.Max)
}

// Subscription holds the clamp ranges applied to client requests.
type Subscription struct {
	PublishingInterval Range[float64] `yaml:"publishing_interval"`
	LifetimeCount      Range[uint32]  `yaml:"lifetime_count"`
	KeepAliveCount     Range[uint32]  `yaml:"keepalive_count"`
	SamplingInterval   Range[float64] `yaml:"sampling_interval"`
	QueueSize          Range[uint32]  `yaml:"queue_size"`
	MaxSubscriptions   int            `yaml:"max_subscriptions"`
	MaxMonitoredItems  int            `yaml:"max_monitored_items"`
}

// Validate implements validation.Validatable.
func (s Subscription) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.PublishingInterval),
		validation.Field(&s.LifetimeCount),
		validation.Field(&s.KeepAliveCount),
		validation.Field(&s.SamplingInterval),
		validation.Field(&s.QueueSize),
		validation.Field(&s.MaxSubscriptions, validation.Min(0)),
		validation.Field(&s.MaxMonitoredItems, validation.Min(0)),
	)
}

// Session holds session settings. Times are in milliseconds unless typed.
type Session struct {
	Timeout      float64        `yaml:"timeout"`
	TimeoutRange Range[float64] `yaml:"timeout_range"`
	MaxSessions  int            `yaml:"max_sessions"`
	ReapInterval time.Duration  `yaml:"reap_interval"`
}

// Validate implements validation.Validatable.
func (s Session) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TimeoutRange),
		validation.Field(&s.Timeout, validation.Required,
			validation.Min(s.TimeoutRange.Min), validation.Max(s.TimeoutRange.Max)),
		validation.Field(&s.MaxSessions, validation.Min(0)),
		validation.Field(&s.ReapInterval, validation.Required),
	)
}

// Config is the engine configuration.
type Config struct {
	Subscription Subscription `yaml:"subscription"`
	Session      Session      `yaml:"session"`
	// EventLog is the path of the CBOR event file. Empty disables it.
	EventLog string `yaml:"event_log"`
	LogLevel string `yaml:"log_level"`
}

// Validate implements validation.Validatable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Subscription),
		validation.Field(&c.Session),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Subscription: Subscription{
			PublishingInterval: Range[float64]{subscription.DefaultMinPublishingInterval, subscription.DefaultMaxPublishingInterval},
			LifetimeCount:      Range[uint32]{subscription.DefaultMinLifetimeCount, subscription.DefaultMaxLifetimeCount},
			KeepAliveCount:     Range[uint32]{subscription.DefaultMinKeepAliveCount, subscription.DefaultMaxKeepAliveCount},
			SamplingInterval:   Range[float64]{subscription.DefaultMinSamplingInterval, subscription.DefaultMaxSamplingInterval},
			QueueSize:          Range[uint32]{subscription.DefaultMinQueueSize, subscription.DefaultMaxQueueSize},
			MaxSubscriptions:   subscription.DefaultMaxSubscriptions,
		},
		Session: Session{
			Timeout:      session.DefaultTimeout,
			TimeoutRange: Range[float64]{session.MinTimeout, session.MaxTimeout},
			ReapInterval: session.DefaultReapInterval,
		},
		LogLevel: "info",
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Limits converts the subscription section into engine limits.
func (c *Config) Limits() subscription.Limits {
	s := c.Subscription
	return subscription.Limits{
		PublishingInterval: s.PublishingInterval.bounded(),
		LifetimeCount:      s.LifetimeCount.bounded(),
		KeepAliveCount:     s.KeepAliveCount.bounded(),
		SamplingInterval:   s.SamplingInterval.bounded(),
		QueueSize:          s.QueueSize.bounded(),
		MaxSubscriptions:   s.MaxSubscriptions,
		MaxMonitoredItems:  s.MaxMonitoredItems,
	}
}

// SessionOptions returns the registry options matching the session section.
// Subscription managers created by the registry get the configured limits.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithTimeoutLimits(c.Session.TimeoutRange.Min, c.Session.TimeoutRange.Max),
		session.WithDefaultTimeout(c.Session.Timeout),
		session.WithMaxSessions(c.Session.MaxSessions),
		session.WithSubscriptionOptions(subscription.WithLimits(c.Limits())),
	}
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
