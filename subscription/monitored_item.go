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
	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/nodestore"
)

// ItemType is the kind of notification a monitored item produces.
type ItemType uint8

// Monitored item types. Only change notifications are sampled.
const (
	ChangeNotification ItemType = iota
	EventNotification
)

// MonitoredItem samples one node attribute into a bounded queue.
//
// A MonitoredItem belongs to exactly one Subscription and is only touched
// while that subscription's lock is held.
type MonitoredItem struct {
	ID           uint32
	ClientHandle uint32
	NodeID       opcua.NodeID
	AttributeID  opcua.AttributeID
	Type         ItemType
	Mode         opcua.MonitoringMode
	Timestamps   opcua.TimestampsToReturn // kept in reported values

	SamplingInterval opcua.BoundedValue[float64]
	// QueueSize.Max is the revised queue size plus one overflow slot;
	// QueueSize.Current is the number of queued samples.
	QueueSize     opcua.BoundedValue[uint32]
	DiscardOldest bool

	queue     []opcua.DataValue
	last      *opcua.DataValue
	overflows uint64
}

// newMonitoredItem resolves the target node and builds an item clamped to
// limits. nextID is only consumed once validation has passed.
func newMonitoredItem(store nodestore.Store, limits *Limits, nextID func() uint32,
	ts opcua.TimestampsToReturn, req *opcua.MonitoredItemCreateRequest) (*MonitoredItem, opcua.StatusCode) {

	var target opcua.NodeID
	if !store.View(req.ItemToMonitor.NodeID, func(n *nodestore.Node) { target = n.ID }) {
		return nil, opcua.StatusBadNodeIdInvalid
	}
	if !req.ItemToMonitor.AttributeID.Valid() {
		return nil, opcua.StatusBadAttributeIdInvalid
	}
	if !req.MonitoringMode.Valid() {
		return nil, opcua.StatusBadMonitoringModeInvalid
	}

	params := req.RequestedParameters
	revisedQueue := limits.QueueSize.Clamp(params.QueueSize)

	return &MonitoredItem{
		ID:               nextID(),
		ClientHandle:     params.ClientHandle,
		NodeID:           target,
		AttributeID:      req.ItemToMonitor.AttributeID,
		Type:             ChangeNotification,
		Mode:             req.MonitoringMode,
		Timestamps:       ts,
		SamplingInterval: limits.SamplingInterval.Revise(params.SamplingInterval),
		QueueSize:        opcua.BoundedValue[uint32]{Min: 0, Max: revisedQueue + 1},
		DiscardOldest:    params.DiscardOldest,
	}, opcua.StatusGood
}

// Result reports the revised parameters of a freshly created item.
func (m *MonitoredItem) Result() opcua.MonitoredItemCreateResult {
	return opcua.MonitoredItemCreateResult{
		StatusCode:              opcua.StatusGood,
		MonitoredItemID:         m.ID,
		RevisedSamplingInterval: m.SamplingInterval.Current,
		RevisedQueueSize:        m.QueueSize.Max - 1,
	}
}

// Push appends one sample. When the queue is full the oldest sample is
// dropped if DiscardOldest is set, otherwise the new sample is dropped.
func (m *MonitoredItem) Push(dv opcua.DataValue) {
	if uint32(len(m.queue)) >= m.QueueSize.Max {
		m.overflows++
		if !m.DiscardOldest {
			return
		}
		m.queue = append(m.queue[:0], m.queue[1:]...)
	}
	m.queue = append(m.queue, dv)
	m.QueueSize.Current = uint32(len(m.queue))
}

// Sample reads the monitored attribute and pushes it if it changed since
// the previous sample. Disabled items are not sampled. It reports whether a
// sample was queued.
func (m *MonitoredItem) Sample(store nodestore.Store) bool {
	if m.Type != ChangeNotification || m.Mode == opcua.MonitoringModeDisabled {
		return false
	}
	dv := store.Read(m.NodeID, m.AttributeID)
	if m.last != nil && m.last.SameValue(dv) {
		return false
	}
	m.last = &dv
	m.Push(dv)
	return true
}

// Drain removes and returns every queued sample, oldest first.
func (m *MonitoredItem) Drain() []opcua.DataValue {
	out := m.queue
	m.queue = nil
	m.QueueSize.Current = 0
	return out
}

// Queued returns a copy of the queued samples.
func (m *MonitoredItem) Queued() []opcua.DataValue {
	return append([]opcua.DataValue(nil), m.queue...)
}

// Len returns the number of queued samples.
func (m *MonitoredItem) Len() int { return len(m.queue) }

// Overflows returns how many samples the overflow policy has dropped.
func (m *MonitoredItem) Overflows() uint64 { return m.overflows }

func (m *MonitoredItem) release() {
	m.queue = nil
	m.last = nil
	m.QueueSize.Current = 0
}
