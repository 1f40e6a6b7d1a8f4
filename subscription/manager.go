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

// Package subscription implements the per-session subscription engine:
// bounded parameter negotiation, monitored item queues with overflow
// policy, notification sequencing and acknowledgement.
//
// Locking: a Manager guards its registry, each Subscription guards its items,
// message queue and sequence counter. The registry lock is never held while
// a subscription lock is taken.
package subscription

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/nodestore"
	"github.com/edgeo-scada/uasub/scheduler"
)

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	limits   Limits
	clock    opcua.Clock
	logger   *slog.Logger
	onExpire func(subscriptionID uint32)
}

func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		limits: DefaultLimits(),
		clock:  opcua.SystemClock{},
		logger: slog.Default(),
	}
}

// WithLimits sets the clamp ranges for requested parameters.
func WithLimits(l Limits) Option {
	return func(o *managerOptions) {
		o.limits = l
	}
}

// WithClock sets the time source for message publish times.
func WithClock(c opcua.Clock) Option {
	return func(o *managerOptions) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithExpireHandler sets a callback run after a subscription is removed
// because its lifetime count ran out.
func WithExpireHandler(fn func(subscriptionID uint32)) Option {
	return func(o *managerOptions) {
		o.onExpire = fn
	}
}

// Manager is the subscription registry of one session.
type Manager struct {
	store     nodestore.Store
	scheduler scheduler.Scheduler
	clock     opcua.Clock
	logger    *slog.Logger
	onExpire  func(uint32)
	limits    atomic.Pointer[Limits]

	mu    sync.RWMutex
	subs  map[uint32]*Subscription
	order []uint32

	lastSubscriptionID  atomic.Uint32
	lastMonitoredItemID atomic.Uint32
}

// NewManager creates an empty registry that resolves nodes in store and
// schedules periodic updates on sched.
func NewManager(store nodestore.Store, sched scheduler.Scheduler, opts ...Option) *Manager {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(o)
	}
	m := &Manager{
		store:     store,
		scheduler: sched,
		clock:     o.clock,
		logger:    o.logger,
		onExpire:  o.onExpire,
		subs:      make(map[uint32]*Subscription),
	}
	limits := o.limits
	m.limits.Store(&limits)
	return m
}

// Limits returns the current clamp ranges.
func (m *Manager) Limits() Limits {
	return *m.limits.Load()
}

// SetLimits replaces the clamp ranges. Existing subscriptions keep their
// revised values until they are modified.
func (m *Manager) SetLimits(l Limits) {
	m.limits.Store(&l)
}

// NextSubscriptionID returns a fresh subscription id. Ids start at 1 and
// are never reused.
func (m *Manager) NextSubscriptionID() uint32 {
	return m.lastSubscriptionID.Add(1)
}

// NextMonitoredItemID returns a fresh monitored item id, unique in the session.
func (m *Manager) NextMonitoredItemID() uint32 {
	return m.lastMonitoredItemID.Add(1)
}

// NextRequestGUID returns a time-ordered GUID used to key scheduler jobs.
func (m *Manager) NextRequestGUID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// CreateSubscription negotiates the requested parameters, registers the
// periodic job and adds the subscription to the registry.
func (m *Manager) CreateSubscription(req *opcua.CreateSubscriptionRequest) (*Subscription, opcua.StatusCode) {
	limit := m.Limits().MaxSubscriptions

	m.mu.Lock()
	if limit > 0 && len(m.subs) >= limit {
		m.mu.Unlock()
		return nil, opcua.StatusBadTooManySubscriptions
	}
	sub := newSubscription(m.NextSubscriptionID(), m, req)
	m.subs[sub.id] = sub
	m.order = append(m.order, sub.id)
	m.mu.Unlock()

	sub.mu.Lock()
	sub.registerJobLocked()
	interval := sub.params.PublishingInterval.Current
	sub.mu.Unlock()

	m.logger.Debug("subscription created",
		slog.Uint64("subscription_id", uint64(sub.id)),
		slog.Float64("publishing_interval", interval),
	)
	return sub, opcua.StatusGood
}

// Lookup returns the subscription registered under id, or nil.
func (m *Manager) Lookup(id uint32) *Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subs[id]
}

// Subscriptions returns the live subscriptions in registration order.
func (m *Manager) Subscriptions() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Subscription, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.subs[id])
	}
	return out
}

// Len returns the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// DeleteSubscription cancels the periodic job, releases every monitored item
// and removes the subscription from the registry.
func (m *Manager) DeleteSubscription(id uint32) opcua.StatusCode {
	sub := m.remove(id, nil)
	if sub == nil {
		return opcua.StatusBadSubscriptionIdInvalid
	}
	sub.close()
	m.logger.Debug("subscription deleted", slog.Uint64("subscription_id", uint64(id)))
	return opcua.StatusGood
}

// remove unlinks id from the registry. If match is set it must return true
// for the registered subscription, otherwise nothing is removed.
func (m *Manager) remove(id uint32, match func(*Subscription) bool) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok || (match != nil && !match(sub)) {
		return nil
	}
	delete(m.subs, id)
	for i, sid := range m.order {
		if sid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return sub
}

// DeleteMonitoredItem removes one item from its subscription.
func (m *Manager) DeleteMonitoredItem(subscriptionID, itemID uint32) opcua.StatusCode {
	sub := m.Lookup(subscriptionID)
	if sub == nil {
		return opcua.StatusBadSubscriptionIdInvalid
	}
	return sub.DeleteMonitoredItem(itemID)
}

// DeleteAll removes every subscription. Used on session teardown.
func (m *Manager) DeleteAll() int {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.order))
	for _, id := range m.order {
		subs = append(subs, m.subs[id])
	}
	m.subs = make(map[uint32]*Subscription)
	m.order = nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return len(subs)
}

// NextPublish scans subscriptions in registration order and returns the
// first queued message. If none has one, the first subscription produces a
// keepalive. It returns false only when the registry is empty.
func (m *Manager) NextPublish() (PublishResult, bool) {
	subs := m.Subscriptions()
	for _, sub := range subs {
		if res, ok := sub.nextPublish(); ok {
			return res, true
		}
	}
	for _, sub := range subs {
		if res, ok := sub.forceKeepAlive(); ok {
			return res, true
		}
	}
	return PublishResult{}, false
}

// ResetLifetimes restarts the lifetime countdown of every subscription.
func (m *Manager) ResetLifetimes() {
	for _, sub := range m.Subscriptions() {
		sub.ResetLifetime()
	}
}

// runTimedUpdate is the body of every periodic job. The job carries the
// subscription id and generation only, so a callback that fires after the
// subscription was deleted or re-registered finds nothing to update.
func (m *Manager) runTimedUpdate(id uint32, gen uint64) {
	sub := m.Lookup(id)
	if sub == nil {
		return
	}
	if !sub.timedUpdate(gen) {
		return
	}

	expired := m.remove(id, func(s *Subscription) bool { return s == sub })
	if expired == nil {
		return
	}
	expired.close()
	m.logger.Warn("subscription lifetime expired", slog.Uint64("subscription_id", uint64(id)))
	if m.onExpire != nil {
		m.onExpire(id)
	}
}
