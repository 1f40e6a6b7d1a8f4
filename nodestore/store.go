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

// Package nodestore provides the address space consulted by monitored items.
//
// Lookups are scoped borrows: a Store hands a Node to a callback and keeps
// it valid only for the duration of that call.
package nodestore

import (
	opcua "github.com/edgeo-scada/uasub"
)

// Node is a read-only view of a node in the store.
type Node struct {
	ID          opcua.NodeID
	Class       opcua.NodeClass
	BrowseName  string
	DisplayName string
	Value       opcua.DataValue
}

// Store is the node store contract consumed by the subscription engine.
type Store interface {
	// View calls fn with the node registered under id and returns true, or
	// returns false without calling fn if no such node exists. The node must
	// not be retained after fn returns.
	View(id opcua.NodeID, fn func(n *Node)) bool

	// Read returns one attribute of a node as a data value. A missing node or
	// unsupported attribute is reported through the data value status.
	Read(id opcua.NodeID, attr opcua.AttributeID) opcua.DataValue
}

// Exists reports whether id resolves in s.
func Exists(s Store, id opcua.NodeID) bool {
	return s.View(id, func(*Node) {})
}

// readAttribute projects one attribute out of a borrowed node.
func readAttribute(n *Node, attr opcua.AttributeID) opcua.DataValue {
	switch attr {
	case opcua.AttributeValue:
		return n.Value
	case opcua.AttributeNodeID:
		return opcua.DataValue{Value: opcua.NewVariant(n.ID)}
	case opcua.AttributeNodeClass:
		return opcua.DataValue{Value: opcua.NewVariant(int32(n.Class))}
	case opcua.AttributeBrowseName:
		return opcua.DataValue{Value: opcua.NewVariant(n.BrowseName)}
	case opcua.AttributeDisplayName:
		return opcua.DataValue{Value: opcua.NewVariant(n.DisplayName)}
	default:
		return opcua.DataValue{StatusCode: opcua.StatusBadAttributeIdInvalid}
	}
}
