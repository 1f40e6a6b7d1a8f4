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

package nodestore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	opcua "github.com/edgeo-scada/uasub"
)

// Memory is an in-memory Store.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	now   func() time.Time
}

// NewMemory creates a store holding the standard Root, Objects and Server nodes.
func NewMemory() *Memory {
	m := &Memory{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
	m.initDefaultNodes()
	return m
}

func (m *Memory) initDefaultNodes() {
	for _, n := range []Node{
		{ID: opcua.NewNumericNodeID(0, 84), Class: opcua.NodeClassObject, BrowseName: "Root"},
		{ID: opcua.NewNumericNodeID(0, 85), Class: opcua.NodeClassObject, BrowseName: "Objects"},
		{ID: opcua.NewNumericNodeID(0, 2253), Class: opcua.NodeClassObject, BrowseName: "Server"},
	} {
		n.DisplayName = n.BrowseName
		m.nodes[opcua.FormatNodeID(n.ID)] = &n
	}
}

// AddVariable adds a variable node with an initial value.
func (m *Memory) AddVariable(id opcua.NodeID, name string, value interface{}) error {
	ts := m.now()
	return m.AddNode(Node{
		ID:          id,
		Class:       opcua.NodeClassVariable,
		BrowseName:  name,
		DisplayName: name,
		Value: opcua.DataValue{
			Value:           opcua.NewVariant(value),
			SourceTimestamp: ts,
			ServerTimestamp: ts,
		},
	})
}

// AddNode adds n to the store. It fails if the id is taken.
func (m *Memory) AddNode(n Node) error {
	key := opcua.FormatNodeID(n.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[key]; ok {
		return fmt.Errorf("%w: %s", opcua.ErrNodeExists, key)
	}
	m.nodes[key] = &n
	return nil
}

// DeleteNode removes the node registered under id.
func (m *Memory) DeleteNode(id opcua.NodeID) error {
	key := opcua.FormatNodeID(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[key]; !ok {
		return fmt.Errorf("%w: %s", opcua.ErrNodeNotFound, key)
	}
	delete(m.nodes, key)
	return nil
}

// SetValue replaces the value of a node, stamping both timestamps.
func (m *Memory) SetValue(id opcua.NodeID, value interface{}) error {
	ts := m.now()
	return m.Write(id, opcua.DataValue{
		Value:           opcua.NewVariant(value),
		SourceTimestamp: ts,
		ServerTimestamp: ts,
	})
}

// Write stores a full data value on a node.
func (m *Memory) Write(id opcua.NodeID, dv opcua.DataValue) error {
	key := opcua.FormatNodeID(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[key]
	if !ok {
		return fmt.Errorf("%w: %s", opcua.ErrNodeNotFound, key)
	}
	n.Value = dv
	return nil
}

// View implements Store. fn runs under the read lock.
func (m *Memory) View(id opcua.NodeID, fn func(n *Node)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[opcua.FormatNodeID(id)]
	if !ok {
		return false
	}
	fn(n)
	return true
}

// Read implements Store.
func (m *Memory) Read(id opcua.NodeID, attr opcua.AttributeID) opcua.DataValue {
	var dv opcua.DataValue
	if !m.View(id, func(n *Node) { dv = readAttribute(n, attr) }) {
		return opcua.DataValue{StatusCode: opcua.StatusBadNodeIdUnknown, ServerTimestamp: m.now()}
	}
	return dv
}

// Len returns the number of stored nodes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// IDs returns every stored node id, sorted by text form.
func (m *Memory) IDs() []opcua.NodeID {
	m.mu.RLock()
	ids := make([]opcua.NodeID, 0, len(m.nodes))
	for _, n := range m.nodes {
		ids = append(ids, n.ID)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return opcua.FormatNodeID(ids[i]) < opcua.FormatNodeID(ids[j])
	})
	return ids
}
