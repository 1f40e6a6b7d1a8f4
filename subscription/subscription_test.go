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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/scheduler"
)

func newTestSubscription(t *testing.T, m *Manager) *Subscription {
	t.Helper()
	sub, status := m.CreateSubscription(subscriptionRequest(100))
	require.Equal(t, opcua.StatusGood, status)
	return sub
}

func createItem(t *testing.T, sub *Subscription, req opcua.MonitoredItemCreateRequest) uint32 {
	t.Helper()
	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturnBoth, []opcua.MonitoredItemCreateRequest{req})
	require.Equal(t, opcua.StatusGood, status)
	require.Len(t, results, 1)
	require.Equal(t, opcua.StatusGood, results[0].StatusCode)
	return results[0].MonitoredItemID
}

func TestSubscriptionParametersClamped(t *testing.T) {
	m, _, sched := newTestManager(t)

	sub, status := m.CreateSubscription(&opcua.CreateSubscriptionRequest{
		RequestedPublishingInterval: 1,
		RequestedLifetimeCount:      1 << 30,
		RequestedMaxKeepAliveCount:  0,
		MaxNotificationsPerPublish:  7,
		PublishingEnabled:           true,
		Priority:                    200,
	})
	require.Equal(t, opcua.StatusGood, status)

	p := sub.Parameters()
	assert.Equal(t, DefaultMinPublishingInterval, p.PublishingInterval.Current)
	assert.Equal(t, uint32(DefaultMaxLifetimeCount), p.LifetimeCount.Current)
	assert.Equal(t, uint32(DefaultMinKeepAliveCount), p.KeepAliveCount.Current)
	assert.Equal(t, uint32(7), p.NotificationsPerPublish, "copied verbatim")
	assert.Equal(t, uint8(200), p.Priority)
	assert.True(t, p.PublishingEnabled)

	assert.True(t, sub.TimedUpdateRegistered())
	iv, ok := sched.Interval(sub.JobID())
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, iv)
}

func TestSubscriptionModifyReRegistersJob(t *testing.T) {
	m, _, sched := newTestManager(t)
	sub := newTestSubscription(t, m)
	sub.SetPublishingMode(false)

	p := sub.Modify(&opcua.ModifySubscriptionRequest{
		SubscriptionID:              sub.ID(),
		RequestedPublishingInterval: 500,
		RequestedLifetimeCount:      100,
		RequestedMaxKeepAliveCount:  5,
		MaxNotificationsPerPublish:  3,
		Priority:                    9,
	})
	assert.Equal(t, 500.0, p.PublishingInterval.Current)
	assert.Equal(t, uint32(100), p.LifetimeCount.Current)
	assert.Equal(t, uint32(5), p.KeepAliveCount.Current)
	assert.Equal(t, uint32(3), p.NotificationsPerPublish)
	assert.Equal(t, uint8(9), p.Priority)
	assert.False(t, p.PublishingEnabled, "modify leaves publishing mode alone")

	assert.Equal(t, 1, sched.Len(), "replaced, not duplicated")
	iv, _ := sched.Interval(sub.JobID())
	assert.Equal(t, 500*time.Millisecond, iv)
}

func TestSubscriptionModifyUsesCurrentLimits(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)

	limits := m.Limits()
	limits.PublishingInterval = opcua.NewBoundedValue(200.0, 300.0)
	m.SetLimits(limits)

	assert.Equal(t, 100.0, sub.Parameters().PublishingInterval.Current)
	p := sub.Modify(&opcua.ModifySubscriptionRequest{RequestedPublishingInterval: 100})
	assert.Equal(t, 200.0, p.PublishingInterval.Current)
}

func TestCreateMonitoredItemsEmptyBatch(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)

	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturnBoth, nil)
	assert.Equal(t, opcua.StatusBadNothingToDo, status)
	assert.Nil(t, results)
}

func TestCreateMonitoredItemsBatchIndependence(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)

	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturnBoth, []opcua.MonitoredItemCreateRequest{
		itemRequest(temperatureID, 1, 5, true),
		itemRequest(missingID, 2, 5, true),
		itemRequest(pressureID, 3, 5, true),
	})
	require.Equal(t, opcua.StatusGood, status)
	require.Len(t, results, 3)

	assert.Equal(t, opcua.StatusGood, results[0].StatusCode)
	assert.Equal(t, opcua.StatusBadNodeIdInvalid, results[1].StatusCode)
	assert.Zero(t, results[1].MonitoredItemID)
	assert.Equal(t, opcua.StatusGood, results[2].StatusCode)
	assert.NotEqual(t, results[0].MonitoredItemID, results[2].MonitoredItemID)
	assert.Equal(t, 2, sub.Len())
}

func TestCreateMonitoredItemsLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxMonitoredItems = 2
	m, _, _ := newTestManager(t, WithLimits(limits))
	sub := newTestSubscription(t, m)

	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturnBoth, []opcua.MonitoredItemCreateRequest{
		itemRequest(temperatureID, 1, 5, true),
		itemRequest(pressureID, 2, 5, true),
		itemRequest(levelID, 3, 5, true),
	})
	require.Equal(t, opcua.StatusGood, status)
	assert.Equal(t, opcua.StatusGood, results[1].StatusCode)
	assert.Equal(t, opcua.StatusBadTooManyMonitoredItems, results[2].StatusCode)
}

func TestDeleteMonitoredItem(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)
	a := createItem(t, sub, itemRequest(temperatureID, 1, 5, true))
	b := createItem(t, sub, itemRequest(pressureID, 2, 5, true))

	assert.Equal(t, opcua.StatusGood, sub.DeleteMonitoredItem(a))
	assert.Equal(t, opcua.StatusBadMonitoredItemIdInvalid, sub.DeleteMonitoredItem(a))
	assert.Equal(t, []uint32{b}, sub.MonitoredItemIDs())
}

func TestSequenceNumbersAndKeepAlive(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)
	item := createItem(t, sub, itemRequest(temperatureID, 1, 5, true))

	pushAll(t, sub, item, 1)
	require.True(t, sub.CollectDueNotifications())
	assert.False(t, sub.CollectDueNotifications(), "nothing new to fold")

	pushAll(t, sub, item, 2)
	require.True(t, sub.CollectDueNotifications())
	assert.Equal(t, []uint32{1, 2}, sub.AvailableSequenceNumbers())
	assert.Equal(t, uint32(2), sub.SequenceNumber())

	// Drain the queue so a keepalive can be generated.
	require.True(t, sub.Acknowledge(1))
	require.True(t, sub.Acknowledge(2))

	sub.GenerateKeepAlive()
	msg, keepAlive, ok := sub.Top()
	require.True(t, ok)
	assert.True(t, keepAlive)
	assert.Equal(t, uint32(3), msg.SequenceNumber)
	assert.True(t, msg.IsKeepAlive())
	assert.Equal(t, uint32(2), sub.SequenceNumber(), "keepalive does not consume a number")
	assert.Empty(t, sub.AvailableSequenceNumbers())

	// Real data replaces the pending keepalive and takes number 3.
	pushAll(t, sub, item, 3)
	require.True(t, sub.CollectDueNotifications())
	msg, keepAlive, _ = sub.Top()
	assert.False(t, keepAlive)
	assert.Equal(t, uint32(3), msg.SequenceNumber)
	assert.Equal(t, 1, sub.Queued())
}

func TestAcknowledge(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)
	item := createItem(t, sub, itemRequest(temperatureID, 1, 5, true))

	for v := 1.0; v <= 3; v++ {
		pushAll(t, sub, item, v)
		require.True(t, sub.CollectDueNotifications())
	}

	assert.False(t, sub.Acknowledge(99))
	assert.Equal(t, []uint32{1, 2, 3}, sub.AvailableSequenceNumbers())

	assert.True(t, sub.Acknowledge(2))
	assert.Equal(t, []uint32{1, 3}, sub.AvailableSequenceNumbers())
	assert.False(t, sub.Acknowledge(2))
}

func TestCollectFoldsAllItems(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)
	a := createItem(t, sub, itemRequest(temperatureID, 10, 5, true))
	b := createItem(t, sub, itemRequest(pressureID, 20, 5, true))

	pushAll(t, sub, a, 1, 2)
	pushAll(t, sub, b, 3)
	require.True(t, sub.CollectDueNotifications())

	msg, _, ok := sub.Top()
	require.True(t, ok)
	changes := msg.DataChanges()
	require.Len(t, changes, 3)
	assert.Equal(t, uint32(10), changes[0].ClientHandle)
	assert.Equal(t, uint32(10), changes[1].ClientHandle)
	assert.Equal(t, uint32(20), changes[2].ClientHandle)
	assert.Equal(t, opcua.DateTime(testClock), msg.PublishTime)
}

func TestCollectSplitsByNotificationsPerPublish(t *testing.T) {
	m, _, _ := newTestManager(t)
	req := subscriptionRequest(100)
	req.MaxNotificationsPerPublish = 2
	sub, _ := m.CreateSubscription(req)
	item := createItem(t, sub, itemRequest(temperatureID, 1, 10, true))

	pushAll(t, sub, item, 1, 2, 3, 4, 5)
	require.True(t, sub.CollectDueNotifications())
	assert.Equal(t, []uint32{1, 2, 3}, sub.AvailableSequenceNumbers())

	msg, _, _ := sub.Top()
	assert.Len(t, msg.DataChanges(), 2)
}

func TestCollectSkippedWhilePublishingDisabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)
	item := createItem(t, sub, itemRequest(temperatureID, 1, 5, true))

	sub.SetPublishingMode(false)
	pushAll(t, sub, item, 1)
	assert.False(t, sub.CollectDueNotifications())
	assert.Equal(t, 0, sub.Queued())

	sub.SetPublishingMode(true)
	assert.True(t, sub.CollectDueNotifications())
}

func TestTimedUpdateSamplesAndKeepsAlive(t *testing.T) {
	m, store, sched := newTestManager(t)
	req := subscriptionRequest(100)
	req.RequestedMaxKeepAliveCount = 2
	sub, _ := m.CreateSubscription(req)
	createItem(t, sub, itemRequest(temperatureID, 1, 5, true))

	require.True(t, sched.Fire(sub.JobID()))
	assert.Equal(t, []uint32{1}, sub.AvailableSequenceNumbers(), "first cycle reports the initial value")
	require.True(t, sub.Acknowledge(1))

	// Two idle cycles count the keepalive down to zero.
	sched.Fire(sub.JobID())
	assert.Equal(t, 0, sub.Queued())
	sched.Fire(sub.JobID())
	_, keepAlive, ok := sub.Top()
	require.True(t, ok)
	assert.True(t, keepAlive)

	require.NoError(t, store.SetValue(temperatureID, 30.0))
	sched.Fire(sub.JobID())
	msg, keepAlive, _ := sub.Top()
	assert.False(t, keepAlive)
	assert.Equal(t, uint32(2), msg.SequenceNumber)
}

func TestStaleJobCallbackIsIgnored(t *testing.T) {
	store := newTestStore(t)
	sched := &stubScheduler{}

	var callbacks []func()
	sched.On("Register", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			callbacks = append(callbacks, args.Get(2).(func()))
		}).
		Return(nil)

	m := NewManager(store, sched, WithClock(testClock), WithLogger(discardLogger()))
	sub, _ := m.CreateSubscription(subscriptionRequest(100))
	createItem(t, sub, itemRequest(temperatureID, 1, 5, true))

	sub.Modify(&opcua.ModifySubscriptionRequest{RequestedPublishingInterval: 200, RequestedLifetimeCount: 100})
	require.Len(t, callbacks, 2)

	callbacks[0]()
	assert.Equal(t, 0, sub.Queued(), "superseded registration does nothing")

	callbacks[1]()
	assert.Equal(t, 1, sub.Queued())

	sched.AssertNumberOfCalls(t, "Register", 2)
	sched.AssertCalled(t, "Register", sub.JobID(), scheduler.Milliseconds(200), mock.Anything)
}

func TestDeleteCancelsBeforeReleasing(t *testing.T) {
	store := newTestStore(t)
	sched := &stubScheduler{}
	sched.On("Register", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	m := NewManager(store, sched, WithClock(testClock), WithLogger(discardLogger()))
	sub, _ := m.CreateSubscription(subscriptionRequest(100))
	itemID := createItem(t, sub, itemRequest(temperatureID, 1, 5, true))

	var item *MonitoredItem
	sub.MonitoredItem(itemID, func(it *MonitoredItem) {
		item = it
		it.Push(sample(1))
	})

	sched.On("Cancel", sub.JobID()).Run(func(mock.Arguments) {
		assert.Equal(t, 1, item.Len(), "items still intact when the job is cancelled")
	}).Once()

	assert.Equal(t, opcua.StatusGood, m.DeleteSubscription(sub.ID()))
	assert.Equal(t, 0, item.Len())
	sched.AssertExpectations(t)
}

func TestRegisterFailureFallsBackToPublishSampling(t *testing.T) {
	store := newTestStore(t)
	sched := &stubScheduler{}
	sched.On("Register", mock.Anything, mock.Anything, mock.Anything).Return(scheduler.ErrInvalidInterval)

	m := NewManager(store, sched, WithClock(testClock), WithLogger(discardLogger()))
	sub, _ := m.CreateSubscription(subscriptionRequest(100))
	createItem(t, sub, itemRequest(temperatureID, 1, 5, true))
	assert.False(t, sub.TimedUpdateRegistered())

	res, ok := m.NextPublish()
	require.True(t, ok)
	assert.False(t, res.KeepAlive)
	assert.Equal(t, uint32(1), res.Message.SequenceNumber)
}

func TestSubscriptionNaNRequestsClamped(t *testing.T) {
	m, _, sched := newTestManager(t)
	req := subscriptionRequest(math.NaN())
	sub, status := m.CreateSubscription(req)
	require.Equal(t, opcua.StatusGood, status)

	p := sub.Parameters()
	assert.Equal(t, DefaultMinPublishingInterval, p.PublishingInterval.Current)
	assert.True(t, p.PublishingInterval.Contains(p.PublishingInterval.Current))
	assert.True(t, sub.TimedUpdateRegistered())
	iv, ok := sched.Interval(sub.JobID())
	require.True(t, ok)
	assert.Equal(t, scheduler.Milliseconds(DefaultMinPublishingInterval), iv)

	item := itemRequest(temperatureID, 1, 5, true)
	item.RequestedParameters.SamplingInterval = math.NaN()
	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturnBoth, []opcua.MonitoredItemCreateRequest{item})
	require.Equal(t, opcua.StatusGood, status)
	assert.Equal(t, DefaultMinSamplingInterval, results[0].RevisedSamplingInterval)
}

func TestCollectHonoursMonitoringMode(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)

	disabled := itemRequest(temperatureID, 1, 5, true)
	disabled.MonitoringMode = opcua.MonitoringModeDisabled
	sampling := itemRequest(pressureID, 2, 5, true)
	sampling.MonitoringMode = opcua.MonitoringModeSampling
	reporting := itemRequest(levelID, 3, 5, true)

	disabledID := createItem(t, sub, disabled)
	samplingID := createItem(t, sub, sampling)
	createItem(t, sub, reporting)

	assert.Equal(t, 2, sub.Sample(), "disabled item is not sampled")
	require.True(t, sub.CollectDueNotifications())

	msg, _, ok := sub.Top()
	require.True(t, ok)
	changes := msg.DataChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, uint32(3), changes[0].ClientHandle)

	sub.MonitoredItem(disabledID, func(it *MonitoredItem) { assert.Equal(t, 0, it.Len()) })
	sub.MonitoredItem(samplingID, func(it *MonitoredItem) { assert.Equal(t, 1, it.Len(), "sampling item keeps its queue") })
}

func TestCollectAppliesTimestampsToReturn(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)

	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturnSource,
		[]opcua.MonitoredItemCreateRequest{itemRequest(temperatureID, 1, 5, true)})
	require.Equal(t, opcua.StatusGood, status)

	src := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, sub.MonitoredItem(results[0].MonitoredItemID, func(it *MonitoredItem) {
		it.Push(opcua.DataValue{Value: opcua.NewVariant(1.0), SourceTimestamp: src, ServerTimestamp: src.Add(time.Second)})
	}))
	require.True(t, sub.CollectDueNotifications())

	msg, _, _ := sub.Top()
	changes := msg.DataChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, src, changes[0].Value.SourceTimestamp)
	assert.True(t, changes[0].Value.ServerTimestamp.IsZero())
}

func TestCreateMonitoredItemsInvalidTimestamps(t *testing.T) {
	m, _, _ := newTestManager(t)
	sub := newTestSubscription(t, m)

	results, status := sub.CreateMonitoredItems(opcua.TimestampsToReturn(9),
		[]opcua.MonitoredItemCreateRequest{itemRequest(temperatureID, 1, 5, true)})
	assert.Equal(t, opcua.StatusBadTimestampsToReturnInvalid, status)
	assert.Nil(t, results)
	assert.Equal(t, 0, sub.Len())
}
