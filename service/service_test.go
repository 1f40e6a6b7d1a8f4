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
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/eventlog"
	"github.com/edgeo-scada/uasub/nodestore"
	"github.com/edgeo-scada/uasub/scheduler"
	"github.com/edgeo-scada/uasub/session"
	"github.com/edgeo-scada/uasub/subscription"
)

var (
	temperatureID = opcua.NewStringNodeID(2, "Temperature")
	pressureID    = opcua.NewStringNodeID(2, "Pressure")
	levelID       = opcua.NewStringNodeID(2, "Level")
	missingID     = opcua.NewStringNodeID(2, "Missing")
)

type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() opcua.DateTime { return opcua.DateTime(c.now.Load()) }

func (c *testClock) advance(ms float64) { c.now.Store(int64(c.Now().Add(ms))) }

type recorder struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (r *recorder) Log(e eventlog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) services() []opcua.ServiceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]opcua.ServiceID, len(r.events))
	for i, e := range r.events {
		out[i] = e.Service
	}
	return out
}

type fixture struct {
	svc     *Service
	reg     *session.Registry
	sess    *session.Session
	store   *nodestore.Memory
	sched   *scheduler.Manual
	clock   *testClock
	events  *recorder
	handles uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{}
	clock.now.Store(int64(opcua.FromTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))

	store := nodestore.NewMemory()
	require.NoError(t, store.AddVariable(temperatureID, "Temperature", 20.0))
	require.NoError(t, store.AddVariable(pressureID, "Pressure", 1.0))
	require.NoError(t, store.AddVariable(levelID, "Level", 0.0))

	f := &fixture{store: store, sched: scheduler.NewManual(), clock: clock, events: &recorder{}}
	f.reg = session.NewRegistry(store, f.sched,
		session.WithClock(clock),
		session.WithLogger(logger),
		session.WithSubscriptionOptions(subscription.WithExpireHandler(func(id uint32) {
			f.svc.SubscriptionExpired(id)
		})),
	)
	f.svc = New(f.reg, WithClock(clock), WithLogger(logger), WithEventLogger(f.events))

	sess, err := f.reg.Create(10000)
	require.NoError(t, err)
	f.sess = sess
	return f
}

func (f *fixture) hdr() opcua.RequestHeader {
	f.handles++
	return opcua.RequestHeader{AuthenticationToken: f.sess.AuthenticationToken, RequestHandle: f.handles}
}

func (f *fixture) dispatch(t *testing.T, req opcua.Request) interface{} {
	t.Helper()
	resp, err := f.svc.Dispatch(req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) createSubscription(t *testing.T, interval float64) uint32 {
	t.Helper()
	resp := f.dispatch(t, &opcua.CreateSubscriptionRequest{
		RequestHeader:               f.hdr(),
		RequestedPublishingInterval: interval,
		RequestedLifetimeCount:      1000,
		RequestedMaxKeepAliveCount:  10,
		PublishingEnabled:           true,
	}).(*opcua.CreateSubscriptionResponse)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	return resp.SubscriptionID
}

func item(node opcua.NodeID, handle, queueSize uint32) opcua.MonitoredItemCreateRequest {
	return opcua.MonitoredItemCreateRequest{
		ItemToMonitor:  opcua.ReadValueID{NodeID: node, AttributeID: opcua.AttributeValue},
		MonitoringMode: opcua.MonitoringModeReporting,
		RequestedParameters: opcua.MonitoringParameters{
			ClientHandle:     handle,
			SamplingInterval: 100,
			QueueSize:        queueSize,
			DiscardOldest:    true,
		},
	}
}

func (f *fixture) createItems(t *testing.T, subID uint32, items ...opcua.MonitoredItemCreateRequest) *opcua.CreateMonitoredItemsResponse {
	t.Helper()
	return f.dispatch(t, &opcua.CreateMonitoredItemsRequest{
		RequestHeader:  f.hdr(),
		SubscriptionID: subID,
		ItemsToCreate:  items,
	}).(*opcua.CreateMonitoredItemsResponse)
}

func (f *fixture) publish(t *testing.T, acks ...opcua.SubscriptionAcknowledgement) *opcua.PublishResponse {
	t.Helper()
	return f.dispatch(t, &opcua.PublishRequest{
		RequestHeader:                f.hdr(),
		SubscriptionAcknowledgements: acks,
	}).(*opcua.PublishResponse)
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)

	sub := f.dispatch(t, &opcua.CreateSubscriptionRequest{
		RequestHeader:               f.hdr(),
		RequestedPublishingInterval: 100,
		RequestedLifetimeCount:      1000,
		RequestedMaxKeepAliveCount:  10,
		PublishingEnabled:           true,
	}).(*opcua.CreateSubscriptionResponse)
	require.Equal(t, opcua.StatusGood, sub.ResponseHeader.ServiceResult)
	assert.Equal(t, uint32(1), sub.SubscriptionID)
	assert.Equal(t, 100.0, sub.RevisedPublishingInterval)
	assert.Equal(t, uint32(1), sub.ResponseHeader.RequestHandle)
	assert.Equal(t, f.clock.Now(), sub.ResponseHeader.Timestamp)

	items := f.createItems(t, 1, item(temperatureID, 11, 5))
	require.Equal(t, opcua.StatusGood, items.ResponseHeader.ServiceResult)
	require.Len(t, items.Results, 1)
	assert.Equal(t, opcua.StatusGood, items.Results[0].StatusCode)
	assert.Equal(t, uint32(5), items.Results[0].RevisedQueueSize)

	s := f.sess.Subscriptions().Lookup(1)
	require.NotNil(t, s)
	require.True(t, s.MonitoredItem(items.Results[0].MonitoredItemID, func(it *subscription.MonitoredItem) {
		for v := 1.0; v <= 7; v++ {
			it.Push(opcua.DataValue{Value: opcua.NewVariant(v)})
		}
		assert.Equal(t, 6, it.Len())
	}))

	resp := f.publish(t)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	assert.Equal(t, uint32(1), resp.SubscriptionID)
	assert.Equal(t, uint32(1), resp.NotificationMessage.SequenceNumber)
	assert.Equal(t, []uint32{1}, resp.AvailableSequenceNumbers)
	assert.False(t, resp.MoreNotifications)
	assert.Nil(t, resp.Results)
	assert.NotEmpty(t, resp.NotificationMessage.DataChanges())

	resp = f.publish(t, opcua.SubscriptionAcknowledgement{SubscriptionID: 1, SequenceNumber: 1})
	assert.Equal(t, []opcua.StatusCode{opcua.StatusGood}, resp.Results)
	assert.True(t, resp.NotificationMessage.IsKeepAlive())
	assert.Equal(t, uint32(2), resp.NotificationMessage.SequenceNumber)
	assert.Empty(t, resp.AvailableSequenceNumbers)
}

func TestPublishWithoutSubscriptions(t *testing.T) {
	f := newFixture(t)

	resp := f.publish(t, opcua.SubscriptionAcknowledgement{SubscriptionID: 1, SequenceNumber: 1})
	assert.Equal(t, opcua.StatusBadNoSubscription, resp.ResponseHeader.ServiceResult)
	assert.Nil(t, resp.Results)
	assert.Zero(t, resp.SubscriptionID)
}

func TestPublishAcknowledgements(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)
	f.createItems(t, id, item(temperatureID, 1, 5))

	first := f.publish(t)
	require.Equal(t, uint32(1), first.NotificationMessage.SequenceNumber)

	resp := f.publish(t,
		opcua.SubscriptionAcknowledgement{SubscriptionID: 99, SequenceNumber: 1},
		opcua.SubscriptionAcknowledgement{SubscriptionID: id, SequenceNumber: 42},
		opcua.SubscriptionAcknowledgement{SubscriptionID: id, SequenceNumber: 1},
		opcua.SubscriptionAcknowledgement{SubscriptionID: id, SequenceNumber: 1},
	)
	assert.Equal(t, []opcua.StatusCode{
		opcua.StatusBadSubscriptionIdInvalid,
		opcua.StatusBadSequenceNumberInvalid,
		opcua.StatusGood,
		opcua.StatusBadSequenceNumberInvalid,
	}, resp.Results)

	m := f.svc.Metrics().Subscriptions
	assert.Equal(t, int64(1), m.Acknowledgements.Value())
	assert.Equal(t, int64(3), m.AcknowledgeErrors.Value())
}

func TestPublishExtendsSession(t *testing.T) {
	f := newFixture(t)
	f.createSubscription(t, 100)

	before := f.sess.ValidTill()
	f.clock.advance(5000)
	resp := f.publish(t)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	assert.Equal(t, f.clock.Now().Add(10000), f.sess.ValidTill())
	assert.Greater(t, int64(f.sess.ValidTill()), int64(before))
}

func TestPublishKeepsSubscriptionsAlive(t *testing.T) {
	f := newFixture(t)
	resp := f.dispatch(t, &opcua.CreateSubscriptionRequest{
		RequestHeader:               f.hdr(),
		RequestedPublishingInterval: 100,
		RequestedLifetimeCount:      3,
		RequestedMaxKeepAliveCount:  1,
	}).(*opcua.CreateSubscriptionResponse)
	require.Equal(t, uint32(3), resp.RevisedLifetimeCount)

	for range 4 {
		f.sched.FireAll()
		f.sched.FireAll()
		f.publish(t)
	}
	assert.NotNil(t, f.sess.Subscriptions().Lookup(resp.SubscriptionID))

	for range 3 {
		f.sched.FireAll()
	}
	assert.Nil(t, f.sess.Subscriptions().Lookup(resp.SubscriptionID))
	assert.Equal(t, int64(1), f.svc.Metrics().Subscriptions.Expired.Value())
}

func TestCreateMonitoredItemsWholeRequestFailures(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)

	resp := f.createItems(t, id+1, item(temperatureID, 1, 5))
	assert.Equal(t, opcua.StatusBadSubscriptionIdInvalid, resp.ResponseHeader.ServiceResult)
	assert.Nil(t, resp.Results)

	resp = f.createItems(t, id)
	assert.Equal(t, opcua.StatusBadNothingToDo, resp.ResponseHeader.ServiceResult)
	assert.Nil(t, resp.Results)

	// The unknown subscription wins over the empty batch.
	resp = f.createItems(t, id+1)
	assert.Equal(t, opcua.StatusBadSubscriptionIdInvalid, resp.ResponseHeader.ServiceResult)
}

func TestCreateMonitoredItemsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)

	resp := f.createItems(t, id,
		item(temperatureID, 1, 5),
		item(missingID, 2, 5),
		item(pressureID, 3, 5000),
	)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, opcua.StatusGood, resp.Results[0].StatusCode)
	assert.Equal(t, opcua.StatusBadNodeIdInvalid, resp.Results[1].StatusCode)
	assert.Equal(t, opcua.StatusGood, resp.Results[2].StatusCode)
	assert.Equal(t, uint32(subscription.DefaultMaxQueueSize), resp.Results[2].RevisedQueueSize)
	assert.Equal(t, int64(2), f.svc.Metrics().MonitoredItemsCreated.Value())
}

func TestDeleteMonitoredItems(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)
	created := f.createItems(t, id, item(temperatureID, 1, 5), item(pressureID, 2, 5))
	a, b := created.Results[0].MonitoredItemID, created.Results[1].MonitoredItemID

	resp := f.dispatch(t, &opcua.DeleteMonitoredItemsRequest{
		RequestHeader:    f.hdr(),
		SubscriptionID:   id + 1,
		MonitoredItemIDs: []uint32{a},
	}).(*opcua.DeleteMonitoredItemsResponse)
	assert.Equal(t, opcua.StatusBadSubscriptionIdInvalid, resp.ResponseHeader.ServiceResult)
	assert.Nil(t, resp.Results)

	resp = f.dispatch(t, &opcua.DeleteMonitoredItemsRequest{
		RequestHeader:    f.hdr(),
		SubscriptionID:   id,
		MonitoredItemIDs: []uint32{a, 999, a, b},
	}).(*opcua.DeleteMonitoredItemsResponse)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	assert.Equal(t, []opcua.StatusCode{
		opcua.StatusGood,
		opcua.StatusBadMonitoredItemIdInvalid,
		opcua.StatusBadMonitoredItemIdInvalid,
		opcua.StatusGood,
	}, resp.Results)
}

func TestDeleteSubscriptionsCascade(t *testing.T) {
	f := newFixture(t)
	doomed := f.createSubscription(t, 100)
	live := f.createSubscription(t, 100)
	created := f.createItems(t, doomed,
		item(temperatureID, 1, 5),
		item(pressureID, 2, 5),
		item(levelID, 3, 5),
	)
	require.Len(t, created.Results, 3)
	require.Equal(t, 2, f.sched.Len())

	del := f.dispatch(t, &opcua.DeleteSubscriptionsRequest{
		RequestHeader:   f.hdr(),
		SubscriptionIDs: []uint32{doomed, doomed, 77},
	}).(*opcua.DeleteSubscriptionsResponse)
	assert.Equal(t, []opcua.StatusCode{
		opcua.StatusGood,
		opcua.StatusBadSubscriptionIdInvalid,
		opcua.StatusBadSubscriptionIdInvalid,
	}, del.Results)
	assert.Equal(t, 1, f.sched.Len())

	ids := make([]uint32, len(created.Results))
	for i, r := range created.Results {
		ids[i] = r.MonitoredItemID
	}
	resp := f.dispatch(t, &opcua.DeleteMonitoredItemsRequest{
		RequestHeader:    f.hdr(),
		SubscriptionID:   live,
		MonitoredItemIDs: ids,
	}).(*opcua.DeleteMonitoredItemsResponse)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	for _, r := range resp.Results {
		assert.Equal(t, opcua.StatusBadMonitoredItemIdInvalid, r)
	}

	assert.Equal(t, int64(1), f.svc.Metrics().SubscriptionsDeleted.Value())
	assert.Equal(t, int64(3), f.svc.Metrics().MonitoredItemsDeleted.Value())
}

func TestDeleteEmptyBatches(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)

	subs := f.dispatch(t, &opcua.DeleteSubscriptionsRequest{RequestHeader: f.hdr()}).(*opcua.DeleteSubscriptionsResponse)
	assert.Equal(t, opcua.StatusGood, subs.ResponseHeader.ServiceResult)
	assert.NotNil(t, subs.Results)
	assert.Empty(t, subs.Results)

	items := f.dispatch(t, &opcua.DeleteMonitoredItemsRequest{
		RequestHeader:  f.hdr(),
		SubscriptionID: id,
	}).(*opcua.DeleteMonitoredItemsResponse)
	assert.Equal(t, opcua.StatusGood, items.ResponseHeader.ServiceResult)
	assert.NotNil(t, items.Results)
	assert.Empty(t, items.Results)

	assert.NotNil(t, f.sess.Subscriptions().Lookup(id))
}

func TestModifySubscription(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)

	resp := f.dispatch(t, &opcua.ModifySubscriptionRequest{
		RequestHeader:               f.hdr(),
		SubscriptionID:              id,
		RequestedPublishingInterval: 1e9,
		RequestedLifetimeCount:      50,
		RequestedMaxKeepAliveCount:  5,
	}).(*opcua.ModifySubscriptionResponse)
	require.Equal(t, opcua.StatusGood, resp.ResponseHeader.ServiceResult)
	assert.Equal(t, subscription.DefaultMaxPublishingInterval, resp.RevisedPublishingInterval)
	assert.Equal(t, uint32(50), resp.RevisedLifetimeCount)
	assert.Equal(t, uint32(5), resp.RevisedMaxKeepAliveCount)

	iv, ok := f.sched.Interval(f.sess.Subscriptions().Lookup(id).JobID())
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, iv)
	assert.Equal(t, 1, f.sched.Len())

	resp = f.dispatch(t, &opcua.ModifySubscriptionRequest{RequestHeader: f.hdr(), SubscriptionID: id + 1}).(*opcua.ModifySubscriptionResponse)
	assert.Equal(t, opcua.StatusBadSubscriptionIdInvalid, resp.ResponseHeader.ServiceResult)
	assert.Zero(t, resp.RevisedPublishingInterval)
}

func TestSetPublishingMode(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)

	resp := f.dispatch(t, &opcua.SetPublishingModeRequest{
		RequestHeader:     f.hdr(),
		PublishingEnabled: false,
		SubscriptionIDs:   []uint32{id, id + 1},
	}).(*opcua.SetPublishingModeResponse)
	assert.Equal(t, []opcua.StatusCode{opcua.StatusGood, opcua.StatusBadSubscriptionIdInvalid}, resp.Results)
	assert.False(t, f.sess.Subscriptions().Lookup(id).Parameters().PublishingEnabled)

	resp = f.dispatch(t, &opcua.SetPublishingModeRequest{RequestHeader: f.hdr()}).(*opcua.SetPublishingModeResponse)
	assert.Equal(t, opcua.StatusBadNothingToDo, resp.ResponseHeader.ServiceResult)
}

type readRequest struct {
	RequestHeader opcua.RequestHeader
}

func (r *readRequest) ServiceID() opcua.ServiceID   { return opcua.ServiceRead }
func (r *readRequest) Header() *opcua.RequestHeader { return &r.RequestHeader }

func TestDispatchRejections(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Dispatch(&opcua.PublishRequest{
		RequestHeader: opcua.RequestHeader{AuthenticationToken: opcua.NewNumericNodeID(0, 5), RequestHandle: 9},
	})
	require.NoError(t, err)
	fault, ok := resp.(*opcua.ServiceFault)
	require.True(t, ok)
	assert.Equal(t, opcua.StatusBadSessionIdInvalid, fault.ResponseHeader.ServiceResult)
	assert.Equal(t, uint32(9), fault.ResponseHeader.RequestHandle)

	_, err = f.svc.Dispatch(&readRequest{RequestHeader: f.hdr()})
	assert.True(t, opcua.IsStatusCode(err, opcua.StatusBadServiceUnsupported))

	token := f.sess.AuthenticationToken
	require.NoError(t, f.reg.Close(token))
	resp, err = f.svc.Dispatch(&opcua.PublishRequest{RequestHeader: opcua.RequestHeader{AuthenticationToken: token}})
	require.NoError(t, err)
	assert.Equal(t, opcua.StatusBadSessionIdInvalid, resp.(*opcua.ServiceFault).ResponseHeader.ServiceResult)
}

func TestDispatchExpiredSession(t *testing.T) {
	f := newFixture(t)
	f.clock.advance(20000)

	resp, err := f.svc.Dispatch(&opcua.PublishRequest{RequestHeader: f.hdr()})
	require.NoError(t, err)
	assert.Equal(t, opcua.StatusBadSessionIdInvalid, resp.(*opcua.ServiceFault).ResponseHeader.ServiceResult)
}

func TestEventsAndMetrics(t *testing.T) {
	f := newFixture(t)
	id := f.createSubscription(t, 100)
	f.createItems(t, id, item(temperatureID, 1, 5), item(missingID, 2, 5))
	f.publish(t)

	assert.Equal(t, []opcua.ServiceID{
		opcua.ServiceCreateSubscription,
		opcua.ServiceCreateMonitoredItems,
		opcua.ServicePublish,
	}, f.events.services())

	ev := f.events.events[1]
	assert.Equal(t, f.sess.ID.String(), ev.SessionID)
	assert.Equal(t, id, ev.SubscriptionID)
	assert.Equal(t, 2, ev.Items)
	assert.Equal(t, 1, ev.Failed())

	pub := f.events.events[2]
	assert.Equal(t, uint32(1), pub.SequenceNumber)
	assert.Equal(t, 1, pub.Items)
	assert.False(t, pub.KeepAlive)

	m := f.svc.Metrics()
	assert.Equal(t, int64(3), m.Requests.Value())
	assert.Equal(t, int64(1), m.ForService(opcua.ServicePublish).Requests.Value())
	assert.Equal(t, int64(1), m.Subscriptions.NotificationMessages.Value())
	assert.Equal(t, int64(1), m.Subscriptions.DataChangeNotifications.Value())

	collected := m.Collect()
	assert.Contains(t, collected, "services")
	assert.Equal(t, int64(1), collected["subscriptions_created"])
}
