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

// Package service implements the subscription service set on top of decoded
// requests. Results are reported as status codes in the response; a batch
// request reports one status per element, and a request that fails as a
// whole sets only the service result and leaves the results absent.
package service

import (
	"errors"
	"log/slog"
	"time"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/eventlog"
	"github.com/edgeo-scada/uasub/session"
)

// Service handles subscription requests for the sessions of a registry.
type Service struct {
	sessions *session.Registry
	opts     *options
}

// New creates a service bound to sessions.
func New(sessions *session.Registry, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = opcua.NewServerMetrics()
	}
	return &Service{sessions: sessions, opts: o}
}

// Metrics returns the service metrics.
func (s *Service) Metrics() *opcua.ServerMetrics {
	return s.opts.metrics
}

// SubscriptionExpired counts a subscription removed by its lifetime
// watchdog. It is meant to be installed with subscription.WithExpireHandler.
func (s *Service) SubscriptionExpired(uint32) {
	s.opts.metrics.Subscriptions.Expired.Add(1)
	s.opts.metrics.SubscriptionsDeleted.Add(1)
}

// Dispatch resolves the session named by the request's authentication token
// and runs the matching handler. Requests that cannot be attributed to a
// live session get an *opcua.ServiceFault. Unsupported request types return
// an error.
func (s *Service) Dispatch(req opcua.Request) (interface{}, error) {
	sess, err := s.sessions.Get(req.Header().AuthenticationToken)
	if err != nil {
		status := sessionStatus(err)
		s.opts.logger.Debug("request rejected",
			slog.String("service", req.ServiceID().String()),
			slog.String("status", status.String()),
			slog.String("error", err.Error()),
		)
		s.opts.metrics.Observe(req.ServiceID(), status, 0)
		return &opcua.ServiceFault{ResponseHeader: s.header(req, status)}, nil
	}

	switch r := req.(type) {
	case *opcua.CreateSubscriptionRequest:
		return s.CreateSubscription(sess, r), nil
	case *opcua.ModifySubscriptionRequest:
		return s.ModifySubscription(sess, r), nil
	case *opcua.SetPublishingModeRequest:
		return s.SetPublishingMode(sess, r), nil
	case *opcua.CreateMonitoredItemsRequest:
		return s.CreateMonitoredItems(sess, r), nil
	case *opcua.DeleteMonitoredItemsRequest:
		return s.DeleteMonitoredItems(sess, r), nil
	case *opcua.DeleteSubscriptionsRequest:
		return s.DeleteSubscriptions(sess, r), nil
	case *opcua.PublishRequest:
		return s.Publish(sess, r), nil
	default:
		return nil, opcua.NewOPCUAError(req.ServiceID(), opcua.StatusBadServiceUnsupported, "")
	}
}

func sessionStatus(err error) opcua.StatusCode {
	if errors.Is(err, opcua.ErrSessionClosed) {
		return opcua.StatusBadSessionClosed
	}
	return opcua.StatusBadSessionIdInvalid
}

func (s *Service) header(req opcua.Request, result opcua.StatusCode) opcua.ResponseHeader {
	return opcua.ResponseHeader{
		Timestamp:     s.opts.clock.Now(),
		RequestHandle: req.Header().RequestHandle,
		ServiceResult: result,
	}
}

// finish records metrics, the protocol event and a debug line for one
// handled request.
func (s *Service) finish(sess *session.Session, req opcua.Request, start time.Time, ev eventlog.Event) {
	d := time.Since(start)
	s.opts.metrics.Observe(req.ServiceID(), ev.StatusCode, d)

	ev.Timestamp = s.opts.clock.Now().Time()
	ev.SessionID = sess.ID.String()
	ev.Service = req.ServiceID()
	ev.RequestHandle = req.Header().RequestHandle
	ev.Duration = d
	s.opts.events.Log(ev)

	s.opts.logger.Debug("request handled",
		slog.String("service", ev.Service.String()),
		slog.String("status", ev.StatusCode.String()),
		slog.Uint64("request_handle", uint64(ev.RequestHandle)),
	)
}

// CreateSubscription negotiates and registers a new subscription.
func (s *Service) CreateSubscription(sess *session.Session, req *opcua.CreateSubscriptionRequest) *opcua.CreateSubscriptionResponse {
	start := time.Now()

	resp := &opcua.CreateSubscriptionResponse{}
	sub, status := sess.Subscriptions().CreateSubscription(req)
	resp.ResponseHeader = s.header(req, status)
	if status.IsGood() {
		p := sub.Parameters()
		resp.SubscriptionID = sub.ID()
		resp.RevisedPublishingInterval = p.PublishingInterval.Current
		resp.RevisedLifetimeCount = p.LifetimeCount.Current
		resp.RevisedMaxKeepAliveCount = p.KeepAliveCount.Current
		s.opts.metrics.SubscriptionsCreated.Add(1)
	}

	s.finish(sess, req, start, eventlog.Event{StatusCode: status, SubscriptionID: resp.SubscriptionID})
	return resp
}

// ModifySubscription re-negotiates the parameters of an existing subscription.
func (s *Service) ModifySubscription(sess *session.Session, req *opcua.ModifySubscriptionRequest) *opcua.ModifySubscriptionResponse {
	start := time.Now()

	resp := &opcua.ModifySubscriptionResponse{}
	status := opcua.StatusGood
	if sub := sess.Subscriptions().Lookup(req.SubscriptionID); sub == nil {
		status = opcua.StatusBadSubscriptionIdInvalid
	} else {
		p := sub.Modify(req)
		resp.RevisedPublishingInterval = p.PublishingInterval.Current
		resp.RevisedLifetimeCount = p.LifetimeCount.Current
		resp.RevisedMaxKeepAliveCount = p.KeepAliveCount.Current
	}
	resp.ResponseHeader = s.header(req, status)

	s.finish(sess, req, start, eventlog.Event{StatusCode: status, SubscriptionID: req.SubscriptionID})
	return resp
}

// SetPublishingMode enables or disables publishing on every listed subscription.
func (s *Service) SetPublishingMode(sess *session.Session, req *opcua.SetPublishingModeRequest) *opcua.SetPublishingModeResponse {
	start := time.Now()

	resp := &opcua.SetPublishingModeResponse{}
	status := opcua.StatusGood
	if len(req.SubscriptionIDs) == 0 {
		status = opcua.StatusBadNothingToDo
	} else {
		resp.Results = make([]opcua.StatusCode, len(req.SubscriptionIDs))
		for i, id := range req.SubscriptionIDs {
			sub := sess.Subscriptions().Lookup(id)
			if sub == nil {
				resp.Results[i] = opcua.StatusBadSubscriptionIdInvalid
				continue
			}
			sub.SetPublishingMode(req.PublishingEnabled)
			resp.Results[i] = opcua.StatusGood
		}
	}
	resp.ResponseHeader = s.header(req, status)

	s.finish(sess, req, start, eventlog.Event{
		StatusCode: status,
		Items:      len(req.SubscriptionIDs),
		Results:    resp.Results,
	})
	return resp
}

// CreateMonitoredItems adds items to a subscription. An unknown subscription
// or an empty batch fails the request as a whole.
func (s *Service) CreateMonitoredItems(sess *session.Session, req *opcua.CreateMonitoredItemsRequest) *opcua.CreateMonitoredItemsResponse {
	start := time.Now()

	resp := &opcua.CreateMonitoredItemsResponse{}
	var status opcua.StatusCode
	if sub := sess.Subscriptions().Lookup(req.SubscriptionID); sub == nil {
		status = opcua.StatusBadSubscriptionIdInvalid
	} else {
		resp.Results, status = sub.CreateMonitoredItems(req.TimestampsToReturn, req.ItemsToCreate)
	}
	resp.ResponseHeader = s.header(req, status)

	statuses := make([]opcua.StatusCode, len(resp.Results))
	for i, r := range resp.Results {
		statuses[i] = r.StatusCode
		if r.StatusCode.IsGood() {
			s.opts.metrics.MonitoredItemsCreated.Add(1)
		}
	}

	s.finish(sess, req, start, eventlog.Event{
		StatusCode:     status,
		SubscriptionID: req.SubscriptionID,
		Items:          len(req.ItemsToCreate),
		Results:        statuses,
	})
	return resp
}

// DeleteMonitoredItems removes items from a subscription.
func (s *Service) DeleteMonitoredItems(sess *session.Session, req *opcua.DeleteMonitoredItemsRequest) *opcua.DeleteMonitoredItemsResponse {
	start := time.Now()

	resp := &opcua.DeleteMonitoredItemsResponse{}
	status := opcua.StatusGood
	sub := sess.Subscriptions().Lookup(req.SubscriptionID)
	if sub == nil {
		status = opcua.StatusBadSubscriptionIdInvalid
	} else {
		resp.Results = make([]opcua.StatusCode, len(req.MonitoredItemIDs))
		for i, id := range req.MonitoredItemIDs {
			resp.Results[i] = sub.DeleteMonitoredItem(id)
			if resp.Results[i].IsGood() {
				s.opts.metrics.MonitoredItemsDeleted.Add(1)
			}
		}
	}
	resp.ResponseHeader = s.header(req, status)

	s.finish(sess, req, start, eventlog.Event{
		StatusCode:     status,
		SubscriptionID: req.SubscriptionID,
		Items:          len(req.MonitoredItemIDs),
		Results:        resp.Results,
	})
	return resp
}

// DeleteSubscriptions deletes every listed subscription with its items.
func (s *Service) DeleteSubscriptions(sess *session.Session, req *opcua.DeleteSubscriptionsRequest) *opcua.DeleteSubscriptionsResponse {
	start := time.Now()

	resp := &opcua.DeleteSubscriptionsResponse{}
	status := opcua.StatusGood
	m := sess.Subscriptions()
	resp.Results = make([]opcua.StatusCode, len(req.SubscriptionIDs))
	for i, id := range req.SubscriptionIDs {
		items := 0
		if sub := m.Lookup(id); sub != nil {
			items = sub.Len()
		}
		resp.Results[i] = m.DeleteSubscription(id)
		if resp.Results[i].IsGood() {
			s.opts.metrics.SubscriptionsDeleted.Add(1)
			s.opts.metrics.MonitoredItemsDeleted.Add(int64(items))
		}
	}
	resp.ResponseHeader = s.header(req, status)

	s.finish(sess, req, start, eventlog.Event{
		StatusCode: status,
		Items:      len(req.SubscriptionIDs),
		Results:    resp.Results,
	})
	return resp
}

// Publish acknowledges delivered messages and returns the oldest queued
// message of the first subscription that has one, or a keepalive. It fails
// with BadNoSubscription when the session has no subscription.
func (s *Service) Publish(sess *session.Session, req *opcua.PublishRequest) *opcua.PublishResponse {
	start := time.Now()
	sm := s.opts.metrics.Subscriptions
	sm.PublishRequests.Add(1)

	m := sess.Subscriptions()
	resp := &opcua.PublishResponse{}

	var acks []opcua.StatusCode
	if n := len(req.SubscriptionAcknowledgements); n > 0 {
		acks = make([]opcua.StatusCode, n)
		for i, ack := range req.SubscriptionAcknowledgements {
			sub := m.Lookup(ack.SubscriptionID)
			switch {
			case sub == nil:
				acks[i] = opcua.StatusBadSubscriptionIdInvalid
			case !sub.Acknowledge(ack.SequenceNumber):
				acks[i] = opcua.StatusBadSequenceNumberInvalid
			default:
				acks[i] = opcua.StatusGood
			}
			if acks[i].IsGood() {
				sm.Acknowledgements.Add(1)
			} else {
				sm.AcknowledgeErrors.Add(1)
			}
		}
	}

	res, ok := m.NextPublish()
	if !ok {
		resp.ResponseHeader = s.header(req, opcua.StatusBadNoSubscription)
		s.finish(sess, req, start, eventlog.Event{StatusCode: opcua.StatusBadNoSubscription, Results: acks})
		return resp
	}

	sess.Extend(s.opts.clock.Now())
	m.ResetLifetimes()

	resp.ResponseHeader = s.header(req, opcua.StatusGood)
	resp.Results = acks
	resp.SubscriptionID = res.SubscriptionID
	resp.NotificationMessage = res.Message
	resp.AvailableSequenceNumbers = res.AvailableSequenceNumbers
	resp.MoreNotifications = res.MoreNotifications

	changes := len(res.Message.DataChanges())
	if res.KeepAlive {
		sm.KeepAlives.Add(1)
	} else {
		sm.NotificationMessages.Add(1)
		sm.DataChangeNotifications.Add(int64(changes))
	}

	s.finish(sess, req, start, eventlog.Event{
		StatusCode:     opcua.StatusGood,
		SubscriptionID: res.SubscriptionID,
		SequenceNumber: res.Message.SequenceNumber,
		KeepAlive:      res.KeepAlive,
		Items:          changes,
		Results:        acks,
	})
	return resp
}
