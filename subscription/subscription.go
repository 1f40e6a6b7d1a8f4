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

package subscription

import (
	"log/slog"
	"math"
	"sync"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/scheduler"
)

// Parameters are the negotiated publishing parameters of a subscription.
type Parameters struct {
	PublishingInterval      opcua.BoundedValue[float64]
	LifetimeCount           opcua.BoundedValue[uint32]
	KeepAliveCount          opcua.BoundedValue[uint32]
	NotificationsPerPublish uint32
	PublishingEnabled       bool
	Priority                uint8
}

type message struct {
	opcua.NotificationMessage
	keepAlive bool
}

// Subscription groups monitored items and queues the notification messages
// built from their samples until the client acknowledges them.
type Subscription struct {
	id      uint32
	manager *Manager

	mu             sync.Mutex
	params         Parameters
	items          []*MonitoredItem
	itemIndex      map[uint32]*MonitoredItem
	unpublished    []message
	sequenceNumber uint32

	jobID                 scheduler.JobID
	generation            uint64
	timedUpdateRegistered bool
	timedUpdateFired      bool
	keepAliveCountdown    uint32
	lifetimeCountdown     uint32
	deleted               bool
}

func newSubscription(id uint32, m *Manager, req *opcua.CreateSubscriptionRequest) *Subscription {
	limits := m.Limits()
	s := &Subscription{
		id:      id,
		manager: m,
		params: Parameters{
			PublishingInterval:      limits.PublishingInterval.Revise(req.RequestedPublishingInterval),
			LifetimeCount:           limits.LifetimeCount.Revise(req.RequestedLifetimeCount),
			KeepAliveCount:          limits.KeepAliveCount.Revise(req.RequestedMaxKeepAliveCount),
			NotificationsPerPublish: req.MaxNotificationsPerPublish,
			PublishingEnabled:       req.PublishingEnabled,
			Priority:                req.Priority,
		},
		itemIndex: make(map[uint32]*MonitoredItem),
		jobID:     m.NextRequestGUID(),
	}
	s.resetCountdownsLocked()
	return s
}

// ID returns the subscription id.
func (s *Subscription) ID() uint32 { return s.id }

// JobID returns the id of the periodic update job.
func (s *Subscription) JobID() scheduler.JobID { return s.jobID }

// Parameters returns a snapshot of the negotiated parameters.
func (s *Subscription) Parameters() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SequenceNumber returns the last sequence number assigned to real data.
func (s *Subscription) SequenceNumber() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequenceNumber
}

// TimedUpdateRegistered reports whether a periodic job is scheduled.
func (s *Subscription) TimedUpdateRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedUpdateRegistered
}

// Modify re-clamps the publishing parameters against the current limits and
// replaces the periodic job. The publishing mode is left unchanged.
func (s *Subscription) Modify(req *opcua.ModifySubscriptionRequest) Parameters {
	limits := s.manager.Limits()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.params.PublishingInterval = limits.PublishingInterval.Revise(req.RequestedPublishingInterval)
	s.params.LifetimeCount = limits.LifetimeCount.Revise(req.RequestedLifetimeCount)
	s.params.KeepAliveCount = limits.KeepAliveCount.Revise(req.RequestedMaxKeepAliveCount)
	s.params.NotificationsPerPublish = req.MaxNotificationsPerPublish
	s.params.Priority = req.Priority
	s.resetCountdownsLocked()
	s.registerJobLocked()
	return s.params
}

// SetPublishingMode enables or disables folding samples into messages.
func (s *Subscription) SetPublishingMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.PublishingEnabled = enabled
}

// registerJobLocked schedules the periodic update under jobID. A new
// generation makes callbacks of any earlier registration no-ops.
func (s *Subscription) registerJobLocked() {
	if s.deleted {
		return
	}
	s.generation++
	gen, id := s.generation, s.id
	interval := scheduler.Milliseconds(s.params.PublishingInterval.Current)

	err := s.manager.scheduler.Register(s.jobID, interval, func() {
		s.manager.runTimedUpdate(id, gen)
	})
	s.timedUpdateRegistered = err == nil
	s.timedUpdateFired = false
	if err != nil {
		s.manager.logger.Warn("periodic update not registered, publish will sample on demand",
			slog.Uint64("subscription_id", uint64(s.id)),
			slog.Float64("publishing_interval", s.params.PublishingInterval.Current),
			slog.String("error", err.Error()),
		)
	}
}

// CreateMonitoredItems validates and adds each requested item. An empty
// batch or an undefined ts fails as a whole with no results; otherwise every
// element gets its own result.
func (s *Subscription) CreateMonitoredItems(ts opcua.TimestampsToReturn, reqs []opcua.MonitoredItemCreateRequest) ([]opcua.MonitoredItemCreateResult, opcua.StatusCode) {
	if len(reqs) == 0 {
		return nil, opcua.StatusBadNothingToDo
	}
	if !ts.Valid() {
		return nil, opcua.StatusBadTimestampsToReturnInvalid
	}

	limits := s.manager.Limits()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return nil, opcua.StatusBadSubscriptionIdInvalid
	}

	results := make([]opcua.MonitoredItemCreateResult, len(reqs))
	for i := range reqs {
		if limits.MaxMonitoredItems > 0 && len(s.items) >= limits.MaxMonitoredItems {
			results[i] = opcua.MonitoredItemCreateResult{StatusCode: opcua.StatusBadTooManyMonitoredItems}
			continue
		}
		item, status := newMonitoredItem(s.manager.store, &limits, s.manager.NextMonitoredItemID, ts, &reqs[i])
		if status.IsBad() {
			results[i] = opcua.MonitoredItemCreateResult{StatusCode: status}
			continue
		}
		s.items = append(s.items, item)
		s.itemIndex[item.ID] = item
		results[i] = item.Result()
	}
	return results, opcua.StatusGood
}

// DeleteMonitoredItem removes one item and releases its queue.
func (s *Subscription) DeleteMonitoredItem(itemID uint32) opcua.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemIndex[itemID]
	if !ok {
		return opcua.StatusBadMonitoredItemIdInvalid
	}
	delete(s.itemIndex, itemID)
	for i, it := range s.items {
		if it == item {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	item.release()
	return opcua.StatusGood
}

// MonitoredItem runs fn with the item registered under itemID while the
// subscription lock is held. It reports whether the item exists.
func (s *Subscription) MonitoredItem(itemID uint32, fn func(*MonitoredItem)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.itemIndex[itemID]
	if ok {
		fn(item)
	}
	return ok
}

// MonitoredItemIDs returns the ids of the owned items in creation order.
func (s *Subscription) MonitoredItemIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, len(s.items))
	for i, it := range s.items {
		ids[i] = it.ID
	}
	return ids
}

// Len returns the number of owned items.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sample reads every owned item from the node store.
func (s *Subscription) Sample() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleLocked()
}

func (s *Subscription) sampleLocked() int {
	n := 0
	for _, it := range s.items {
		if it.Sample(s.manager.store) {
			n++
		}
	}
	return n
}

// CollectDueNotifications drains every item queue into notification messages
// and reports whether any message was queued. Calling it again before new
// samples arrive queues nothing.
func (s *Subscription) CollectDueNotifications() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked()
}

func (s *Subscription) collectLocked() bool {
	if !s.params.PublishingEnabled {
		return false
	}

	var notifications []opcua.MonitoredItemNotification
	for _, it := range s.items {
		// Sampling items keep their queue until they report.
		if it.Mode != opcua.MonitoringModeReporting {
			continue
		}
		for _, dv := range it.Drain() {
			notifications = append(notifications, opcua.MonitoredItemNotification{
				ClientHandle: it.ClientHandle,
				Value:        it.Timestamps.Apply(dv),
			})
		}
	}
	if len(notifications) == 0 {
		return false
	}

	// Real data supersedes a keepalive that has not been published yet.
	s.discardKeepAliveLocked()

	per := int(s.params.NotificationsPerPublish)
	if per <= 0 {
		per = len(notifications)
	}
	now := s.manager.clock.Now()
	for len(notifications) > 0 {
		n := min(per, len(notifications))
		s.sequenceNumber = nextSequenceNumber(s.sequenceNumber)
		s.unpublished = append(s.unpublished, message{
			NotificationMessage: opcua.NotificationMessage{
				SequenceNumber: s.sequenceNumber,
				PublishTime:    now,
				NotificationData: []interface{}{
					&opcua.DataChangeNotification{MonitoredItems: notifications[:n:n]},
				},
			},
		})
		notifications = notifications[n:]
	}
	s.keepAliveCountdown = s.params.KeepAliveCount.Current
	return true
}

// nextSequenceNumber skips zero on wrap-around.
func nextSequenceNumber(n uint32) uint32 {
	if n == math.MaxUint32 {
		return 1
	}
	return n + 1
}

// GenerateKeepAlive queues an empty message numbered with the next unused
// sequence number without consuming it. It does nothing while other
// messages are pending.
func (s *Subscription) GenerateKeepAlive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateKeepAliveLocked()
}

func (s *Subscription) generateKeepAliveLocked() {
	if len(s.unpublished) > 0 {
		return
	}
	s.unpublished = append(s.unpublished, message{
		NotificationMessage: opcua.NotificationMessage{
			SequenceNumber: nextSequenceNumber(s.sequenceNumber),
			PublishTime:    s.manager.clock.Now(),
		},
		keepAlive: true,
	})
	s.keepAliveCountdown = s.params.KeepAliveCount.Current
}

func (s *Subscription) discardKeepAliveLocked() {
	kept := s.unpublished[:0]
	for _, m := range s.unpublished {
		if !m.keepAlive {
			kept = append(kept, m)
		}
	}
	s.unpublished = kept
}

// Acknowledge removes the message with exactly seq. It returns false if no
// such message is queued.
func (s *Subscription) Acknowledge(seq uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.unpublished {
		if !m.keepAlive && m.SequenceNumber == seq {
			s.unpublished = append(s.unpublished[:i], s.unpublished[i+1:]...)
			return true
		}
	}
	return false
}

// Top returns the oldest queued message without removing it.
func (s *Subscription) Top() (msg opcua.NotificationMessage, keepAlive bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.unpublished) == 0 {
		return opcua.NotificationMessage{}, false, false
	}
	top := s.unpublished[0]
	return top.NotificationMessage, top.keepAlive, true
}

// AvailableSequenceNumbers returns the sequence numbers of queued data messages.
func (s *Subscription) AvailableSequenceNumbers() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *Subscription) availableLocked() []uint32 {
	var seqs []uint32
	for _, m := range s.unpublished {
		if !m.keepAlive {
			seqs = append(seqs, m.SequenceNumber)
		}
	}
	return seqs
}

// Queued returns the number of queued messages, keepalives included.
func (s *Subscription) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unpublished)
}

// PublishResult is one subscription's contribution to a Publish response.
type PublishResult struct {
	SubscriptionID           uint32
	Message                  opcua.NotificationMessage
	KeepAlive                bool
	AvailableSequenceNumbers []uint32
	MoreNotifications        bool
}

// nextPublish returns the top queued message for a Publish call. If the
// periodic job has not fired since it was registered, the items are sampled
// and folded first. A keepalive is removed once reported.
func (s *Subscription) nextPublish() (PublishResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return PublishResult{}, false
	}
	if !s.timedUpdateRegistered || !s.timedUpdateFired {
		s.sampleLocked()
		s.collectLocked()
	}
	if len(s.unpublished) == 0 {
		return PublishResult{}, false
	}
	return s.takeTopLocked(), true
}

// forceKeepAlive builds a keepalive result used when no subscription of the
// session has anything to publish.
func (s *Subscription) forceKeepAlive() (PublishResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return PublishResult{}, false
	}
	s.keepAliveCountdown = s.params.KeepAliveCount.Min
	s.generateKeepAliveLocked()
	return s.takeTopLocked(), true
}

func (s *Subscription) takeTopLocked() PublishResult {
	top := s.unpublished[0]
	res := PublishResult{
		SubscriptionID: s.id,
		Message:        top.NotificationMessage,
		KeepAlive:      top.keepAlive,
	}
	if top.keepAlive {
		s.unpublished = s.unpublished[1:]
		return res
	}
	res.AvailableSequenceNumbers = s.availableLocked()
	res.MoreNotifications = len(res.AvailableSequenceNumbers) > 1
	return res
}

// ResetLifetime restarts the lifetime countdown after a Publish request.
func (s *Subscription) ResetLifetime() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifetimeCountdown = s.params.LifetimeCount.Current
}

func (s *Subscription) resetCountdownsLocked() {
	s.keepAliveCountdown = s.params.KeepAliveCount.Current
	s.lifetimeCountdown = s.params.LifetimeCount.Current
}

// timedUpdate is one publishing cycle. It samples, folds, counts down the
// keepalive and lifetime counters and reports whether the subscription
// outlived its lifetime. Callbacks from a stale generation do nothing.
func (s *Subscription) timedUpdate(gen uint64) (expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted || gen != s.generation {
		return false
	}
	s.timedUpdateFired = true

	s.sampleLocked()
	if !s.collectLocked() && len(s.unpublished) == 0 {
		if s.keepAliveCountdown > 0 {
			s.keepAliveCountdown--
		}
		if s.keepAliveCountdown == 0 {
			s.generateKeepAliveLocked()
		}
	}

	if s.lifetimeCountdown > 0 {
		s.lifetimeCountdown--
	}
	return s.lifetimeCountdown == 0
}

// close cancels the periodic job and then releases every owned item.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return
	}
	s.deleted = true
	s.generation++
	s.manager.scheduler.Cancel(s.jobID)
	s.timedUpdateRegistered = false

	for _, it := range s.items {
		it.release()
	}
	s.items = nil
	s.itemIndex = make(map[uint32]*MonitoredItem)
	s.unpublished = nil
}
