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

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/nodestore"
	"github.com/edgeo-scada/uasub/scheduler"
	"github.com/edgeo-scada/uasub/subscription"
)

// Default session settings.
const (
	DefaultTimeout      = 60000.0
	MinTimeout          = 1000.0
	MaxTimeout          = 3600000.0
	DefaultReapInterval = time.Second
)

// Option configures a Registry.
type Option func(*registryOptions)

type registryOptions struct {
	clock          opcua.Clock
	logger         *slog.Logger
	timeout        opcua.BoundedValue[float64]
	defaultTimeout float64
	maxSessions    int
	subOpts        []subscription.Option
}

func defaultRegistryOptions() *registryOptions {
	return &registryOptions{
		clock:          opcua.SystemClock{},
		logger:         slog.Default(),
		timeout:        opcua.NewBoundedValue(MinTimeout, MaxTimeout),
		defaultTimeout: DefaultTimeout,
	}
}

// WithClock sets the time source for session expiry.
func WithClock(c opcua.Clock) Option {
	return func(o *registryOptions) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

// WithTimeoutLimits sets the range requested session timeouts are clamped to.
func WithTimeoutLimits(lo, hi float64) Option {
	return func(o *registryOptions) {
		o.timeout = opcua.NewBoundedValue(lo, hi)
	}
}

// WithDefaultTimeout sets the timeout in milliseconds used when a session
// is created without one.
func WithDefaultTimeout(ms float64) Option {
	return func(o *registryOptions) {
		o.defaultTimeout = ms
	}
}

// WithMaxSessions caps the number of live sessions. Zero means no cap.
func WithMaxSessions(n int) Option {
	return func(o *registryOptions) {
		o.maxSessions = n
	}
}

// WithSubscriptionOptions sets the options every session's subscription
// manager is created with.
func WithSubscriptionOptions(opts ...subscription.Option) Option {
	return func(o *registryOptions) {
		o.subOpts = append(o.subOpts, opts...)
	}
}

// Registry owns the live sessions of a server, keyed by authentication token.
type Registry struct {
	store     nodestore.Store
	scheduler scheduler.Scheduler
	opts      *registryOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Sessions resolve nodes in store and
// schedule their subscriptions on sched.
func NewRegistry(store nodestore.Store, sched scheduler.Scheduler, opts ...Option) *Registry {
	o := defaultRegistryOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Registry{
		store:     store,
		scheduler: sched,
		opts:      o,
		sessions:  make(map[string]*Session),
	}
}

// Create opens a session with the requested timeout in milliseconds. A
// timeout of zero selects the registry default.
func (r *Registry) Create(requestedTimeout float64) (*Session, error) {
	if requestedTimeout <= 0 {
		requestedTimeout = r.opts.defaultTimeout
	}
	timeout := r.opts.timeout.Clamp(requestedTimeout)

	subOpts := append([]subscription.Option{
		subscription.WithClock(r.opts.clock),
		subscription.WithLogger(r.opts.logger),
	}, r.opts.subOpts...)
	subs := subscription.NewManager(r.store, r.scheduler, subOpts...)
	s := newSession(timeout, subs, r.opts.clock.Now())

	r.mu.Lock()
	if r.opts.maxSessions > 0 && len(r.sessions) >= r.opts.maxSessions {
		r.mu.Unlock()
		return nil, opcua.NewOPCUAError(opcua.ServiceCreateSession, opcua.StatusBadTooManySessions, "")
	}
	r.sessions[opcua.FormatNodeID(s.AuthenticationToken)] = s
	r.mu.Unlock()

	r.opts.logger.Info("session created",
		slog.String("session_id", s.ID.String()),
		slog.Float64("timeout", timeout),
	)
	return s, nil
}

// Get returns the live session owning token.
func (r *Registry) Get(token opcua.NodeID) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[opcua.FormatNodeID(token)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", opcua.ErrSessionNotFound, opcua.FormatNodeID(token))
	}
	if s.Closed() {
		return nil, opcua.ErrSessionClosed
	}
	if s.Expired(r.opts.clock.Now()) {
		return nil, opcua.ErrSessionExpired
	}
	return s, nil
}

// Close removes the session owning token and deletes its subscriptions.
func (r *Registry) Close(token opcua.NodeID) error {
	key := opcua.FormatNodeID(token)

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", opcua.ErrSessionNotFound, key)
	}
	n := s.close()
	r.opts.logger.Info("session closed",
		slog.String("session_id", s.ID.String()),
		slog.Int("subscriptions", n),
	)
	return nil
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Run reaps expired sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Reap closes every expired session and returns how many were closed.
func (r *Registry) Reap() int {
	now := r.opts.clock.Now()

	r.mu.Lock()
	var expired []*Session
	for key, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, key)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		n := s.close()
		r.opts.logger.Info("session expired",
			slog.String("session_id", s.ID.String()),
			slog.Int("subscriptions", n),
		)
	}
	return len(expired)
}
