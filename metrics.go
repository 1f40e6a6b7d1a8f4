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

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is an atomic counter.
type Counter struct {
	v atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Value returns the current value.
func (c *Counter) Value() int64 { return c.v.Load() }

// Reset sets the counter to zero.
func (c *Counter) Reset() { c.v.Store(0) }

var (
	latencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}
	latencyLabels = []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}
)

// LatencyHistogram tracks a latency distribution in milliseconds.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets [10]int64
	sum     float64
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates an empty histogram.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{min: -1, max: -1}
}

// Observe records one latency.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range latencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// Stats returns a snapshot of the histogram.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(latencyLabels)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, n := range h.buckets {
		stats.Buckets[latencyLabels[i]] = n
	}
	return stats
}

// Reset clears the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets = [10]int64{}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats is a histogram snapshot.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// ServiceMetrics holds the metrics of one service.
type ServiceMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// ServerMetrics holds the metrics of the service layer.
type ServerMetrics struct {
	Requests              Counter
	Errors                Counter
	SubscriptionsCreated  Counter
	SubscriptionsDeleted  Counter
	MonitoredItemsCreated Counter
	MonitoredItemsDeleted Counter
	Latency               *LatencyHistogram

	Subscriptions *SubscriptionMetrics

	services sync.Map // ServiceID -> *ServiceMetrics
}

// NewServerMetrics creates an empty metrics set.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		Latency:       NewLatencyHistogram(),
		Subscriptions: &SubscriptionMetrics{},
	}
}

// ForService returns the metrics of svc, creating them on first use.
func (m *ServerMetrics) ForService(svc ServiceID) *ServiceMetrics {
	if v, ok := m.services.Load(svc); ok {
		return v.(*ServiceMetrics)
	}
	actual, _ := m.services.LoadOrStore(svc, &ServiceMetrics{Latency: NewLatencyHistogram()})
	return actual.(*ServiceMetrics)
}

// Observe records one handled request of svc.
func (m *ServerMetrics) Observe(svc ServiceID, result StatusCode, d time.Duration) {
	sm := m.ForService(svc)
	m.Requests.Add(1)
	sm.Requests.Add(1)
	if result.IsBad() {
		m.Errors.Add(1)
		sm.Errors.Add(1)
	}
	m.Latency.Observe(d)
	sm.Latency.Observe(d)
}

// Collect returns every metric as a map, suitable for expvar.
func (m *ServerMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests":                m.Requests.Value(),
		"errors":                  m.Errors.Value(),
		"subscriptions_created":   m.SubscriptionsCreated.Value(),
		"subscriptions_deleted":   m.SubscriptionsDeleted.Value(),
		"monitored_items_created": m.MonitoredItemsCreated.Value(),
		"monitored_items_deleted": m.MonitoredItemsDeleted.Value(),
		"latency":                 m.Latency.Stats(),
		"subscriptions":           m.Subscriptions.Collect(),
	}

	services := make(map[string]interface{})
	m.services.Range(func(key, value interface{}) bool {
		sm := value.(*ServiceMetrics)
		services[key.(ServiceID).String()] = map[string]interface{}{
			"requests": sm.Requests.Value(),
			"errors":   sm.Errors.Value(),
			"latency":  sm.Latency.Stats(),
		}
		return true
	})
	if len(services) > 0 {
		result["services"] = services
	}
	return result
}

// SubscriptionMetrics counts Publish traffic.
type SubscriptionMetrics struct {
	PublishRequests         Counter
	NotificationMessages    Counter
	KeepAlives              Counter
	DataChangeNotifications Counter
	Acknowledgements        Counter
	AcknowledgeErrors       Counter
	Expired                 Counter
}

// Collect returns the subscription metrics as a map.
func (m *SubscriptionMetrics) Collect() map[string]interface{} {
	return map[string]interface{}{
		"publish_requests":          m.PublishRequests.Value(),
		"notification_messages":     m.NotificationMessages.Value(),
		"keepalives":                m.KeepAlives.Value(),
		"data_change_notifications": m.DataChangeNotifications.Value(),
		"acknowledgements":          m.Acknowledgements.Value(),
		"acknowledge_errors":        m.AcknowledgeErrors.Value(),
		"expired":                   m.Expired.Value(),
	}
}
