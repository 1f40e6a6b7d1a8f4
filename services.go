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

package opcua

// RequestHeader contains the header for all OPC UA requests.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           DateTime
	RequestHandle       uint32
	TimeoutHint         uint32
}

// ResponseHeader contains the header for all OPC UA responses.
type ResponseHeader struct {
	Timestamp     DateTime
	RequestHandle uint32
	ServiceResult StatusCode
}

// ServiceFault is returned instead of a typed response when the request
// could not be attributed to a live session.
type ServiceFault struct {
	ResponseHeader ResponseHeader
}

// Request is a decoded service request.
type Request interface {
	ServiceID() ServiceID
	Header() *RequestHeader
}

// CreateSubscriptionRequest represents a CreateSubscription service request.
type CreateSubscriptionRequest struct {
	RequestHeader               RequestHeader
	RequestedPublishingInterval float64
	RequestedLifetimeCount      uint32
	RequestedMaxKeepAliveCount  uint32
	MaxNotificationsPerPublish  uint32
	PublishingEnabled           bool
	Priority                    uint8
}

func (r *CreateSubscriptionRequest) ServiceID() ServiceID   { return ServiceCreateSubscription }
func (r *CreateSubscriptionRequest) Header() *RequestHeader { return &r.RequestHeader }

// CreateSubscriptionResponse represents a CreateSubscription service response.
type CreateSubscriptionResponse struct {
	ResponseHeader            ResponseHeader
	SubscriptionID            uint32
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
}

// ModifySubscriptionRequest represents a ModifySubscription service request.
type ModifySubscriptionRequest struct {
	RequestHeader               RequestHeader
	SubscriptionID              uint32
	RequestedPublishingInterval float64
	RequestedLifetimeCount      uint32
	RequestedMaxKeepAliveCount  uint32
	MaxNotificationsPerPublish  uint32
	Priority                    uint8
}

func (r *ModifySubscriptionRequest) ServiceID() ServiceID   { return ServiceModifySubscription }
func (r *ModifySubscriptionRequest) Header() *RequestHeader { return &r.RequestHeader }

// ModifySubscriptionResponse represents a ModifySubscription service response.
type ModifySubscriptionResponse struct {
	ResponseHeader            ResponseHeader
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
}

// SetPublishingModeRequest enables or disables publishing on subscriptions.
type SetPublishingModeRequest struct {
	RequestHeader     RequestHeader
	PublishingEnabled bool
	SubscriptionIDs   []uint32
}

func (r *SetPublishingModeRequest) ServiceID() ServiceID   { return ServiceSetPublishingMode }
func (r *SetPublishingModeRequest) Header() *RequestHeader { return &r.RequestHeader }

// SetPublishingModeResponse carries one status per requested subscription.
type SetPublishingModeResponse struct {
	ResponseHeader ResponseHeader
	Results        []StatusCode
}

// DeleteSubscriptionsRequest represents a DeleteSubscriptions service request.
type DeleteSubscriptionsRequest struct {
	RequestHeader   RequestHeader
	SubscriptionIDs []uint32
}

func (r *DeleteSubscriptionsRequest) ServiceID() ServiceID   { return ServiceDeleteSubscriptions }
func (r *DeleteSubscriptionsRequest) Header() *RequestHeader { return &r.RequestHeader }

// DeleteSubscriptionsResponse represents a DeleteSubscriptions service response.
type DeleteSubscriptionsResponse struct {
	ResponseHeader ResponseHeader
	Results        []StatusCode
}

// CreateMonitoredItemsRequest represents a CreateMonitoredItems service request.
type CreateMonitoredItemsRequest struct {
	RequestHeader      RequestHeader
	SubscriptionID     uint32
	TimestampsToReturn TimestampsToReturn
	ItemsToCreate      []MonitoredItemCreateRequest
}

func (r *CreateMonitoredItemsRequest) ServiceID() ServiceID   { return ServiceCreateMonitoredItems }
func (r *CreateMonitoredItemsRequest) Header() *RequestHeader { return &r.RequestHeader }

// CreateMonitoredItemsResponse represents a CreateMonitoredItems service response.
// Results is nil whenever ResponseHeader.ServiceResult is bad.
type CreateMonitoredItemsResponse struct {
	ResponseHeader ResponseHeader
	Results        []MonitoredItemCreateResult
}

// DeleteMonitoredItemsRequest represents a DeleteMonitoredItems service request.
type DeleteMonitoredItemsRequest struct {
	RequestHeader    RequestHeader
	SubscriptionID   uint32
	MonitoredItemIDs []uint32
}

func (r *DeleteMonitoredItemsRequest) ServiceID() ServiceID   { return ServiceDeleteMonitoredItems }
func (r *DeleteMonitoredItemsRequest) Header() *RequestHeader { return &r.RequestHeader }

// DeleteMonitoredItemsResponse represents a DeleteMonitoredItems service response.
type DeleteMonitoredItemsResponse struct {
	ResponseHeader ResponseHeader
	Results        []StatusCode
}

// PublishRequest represents a Publish service request.
type PublishRequest struct {
	RequestHeader                RequestHeader
	SubscriptionAcknowledgements []SubscriptionAcknowledgement
}

func (r *PublishRequest) ServiceID() ServiceID   { return ServicePublish }
func (r *PublishRequest) Header() *RequestHeader { return &r.RequestHeader }

// SubscriptionAcknowledgement acknowledges a notification.
type SubscriptionAcknowledgement struct {
	SubscriptionID uint32
	SequenceNumber uint32
}

// PublishResponse represents a Publish service response.
type PublishResponse struct {
	ResponseHeader           ResponseHeader
	SubscriptionID           uint32
	AvailableSequenceNumbers []uint32
	MoreNotifications        bool
	NotificationMessage      NotificationMessage
	Results                  []StatusCode
}

// NotificationMessage contains notifications. A message without
// NotificationData is a keepalive.
type NotificationMessage struct {
	SequenceNumber   uint32
	PublishTime      DateTime
	NotificationData []interface{}
}

// IsKeepAlive reports whether m carries no notifications.
func (m *NotificationMessage) IsKeepAlive() bool {
	return len(m.NotificationData) == 0
}

// DataChanges flattens every data change notification carried by m.
func (m *NotificationMessage) DataChanges() []MonitoredItemNotification {
	var out []MonitoredItemNotification
	for _, n := range m.NotificationData {
		if dcn, ok := n.(*DataChangeNotification); ok {
			out = append(out, dcn.MonitoredItems...)
		}
	}
	return out
}

// DataChangeNotification carries data change notifications.
type DataChangeNotification struct {
	MonitoredItems []MonitoredItemNotification
}

// MonitoredItemNotification represents a single monitored item notification.
type MonitoredItemNotification struct {
	ClientHandle uint32
	Value        DataValue
}
