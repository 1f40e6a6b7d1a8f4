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

// Package opcua holds the types shared by the OPC UA subscription engine:
// node identifiers, data values, status codes, bounded parameters and the
// decoded request and response structures of the subscription services.
package opcua

import (
	"reflect"
	"time"
)

// NodeIDType represents the type of a NodeID.
type NodeIDType uint8

// NodeID types.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// NodeID represents an OPC UA NodeID.
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	String    string
	GUID      [16]byte
	Opaque    []byte
}

// NewNumericNodeID creates a new numeric NodeID.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{
		Type:      NodeIDTypeNumeric,
		Namespace: namespace,
		Numeric:   id,
	}
}

// NewStringNodeID creates a new string NodeID.
func NewStringNodeID(namespace uint16, id string) NodeID {
	return NodeID{
		Type:      NodeIDTypeString,
		Namespace: namespace,
		String:    id,
	}
}

// NewGUIDNodeID creates a new GUID NodeID.
func NewGUIDNodeID(namespace uint16, id [16]byte) NodeID {
	return NodeID{
		Type:      NodeIDTypeGUID,
		Namespace: namespace,
		GUID:      id,
	}
}

// IsNull reports whether n is the null node id (ns=0;i=0).
func (n NodeID) IsNull() bool {
	return n.Type == NodeIDTypeNumeric && n.Namespace == 0 && n.Numeric == 0
}

// Equal reports whether two node ids identify the same node.
func (n NodeID) Equal(o NodeID) bool {
	return FormatNodeID(n) == FormatNodeID(o)
}

// ServiceID represents an OPC UA service identifier.
type ServiceID uint32

// Subscription and session related service IDs.
const (
	ServiceCreateSession        ServiceID = 461
	ServiceActivateSession      ServiceID = 467
	ServiceCloseSession         ServiceID = 473
	ServiceRead                 ServiceID = 631
	ServiceWrite                ServiceID = 673
	ServiceCreateMonitoredItems ServiceID = 751
	ServiceDeleteMonitoredItems ServiceID = 781
	ServiceCreateSubscription   ServiceID = 787
	ServiceModifySubscription   ServiceID = 793
	ServiceSetPublishingMode    ServiceID = 799
	ServicePublish              ServiceID = 826
	ServiceDeleteSubscriptions  ServiceID = 847
)

// String returns the string representation of a ServiceID.
func (s ServiceID) String() string {
	switch s {
	case ServiceCreateSession:
		return "CreateSession"
	case ServiceActivateSession:
		return "ActivateSession"
	case ServiceCloseSession:
		return "CloseSession"
	case ServiceRead:
		return "Read"
	case ServiceWrite:
		return "Write"
	case ServiceCreateMonitoredItems:
		return "CreateMonitoredItems"
	case ServiceDeleteMonitoredItems:
		return "DeleteMonitoredItems"
	case ServiceCreateSubscription:
		return "CreateSubscription"
	case ServiceModifySubscription:
		return "ModifySubscription"
	case ServiceSetPublishingMode:
		return "SetPublishingMode"
	case ServicePublish:
		return "Publish"
	case ServiceDeleteSubscriptions:
		return "DeleteSubscriptions"
	default:
		return "Unknown"
	}
}

// AttributeID represents an OPC UA attribute identifier.
type AttributeID uint32

// OPC UA Attribute IDs.
const (
	AttributeNodeID                  AttributeID = 1
	AttributeNodeClass               AttributeID = 2
	AttributeBrowseName              AttributeID = 3
	AttributeDisplayName             AttributeID = 4
	AttributeDescription             AttributeID = 5
	AttributeWriteMask               AttributeID = 6
	AttributeUserWriteMask           AttributeID = 7
	AttributeIsAbstract              AttributeID = 8
	AttributeSymmetric               AttributeID = 9
	AttributeInverseName             AttributeID = 10
	AttributeContainsNoLoops         AttributeID = 11
	AttributeEventNotifier           AttributeID = 12
	AttributeValue                   AttributeID = 13
	AttributeDataType                AttributeID = 14
	AttributeValueRank               AttributeID = 15
	AttributeArrayDimensions         AttributeID = 16
	AttributeAccessLevel             AttributeID = 17
	AttributeUserAccessLevel         AttributeID = 18
	AttributeMinimumSamplingInterval AttributeID = 19
	AttributeHistorizing             AttributeID = 20
	AttributeExecutable              AttributeID = 21
	AttributeUserExecutable          AttributeID = 22
)

var attributeNames = map[AttributeID]string{
	AttributeNodeID:                  "NodeId",
	AttributeNodeClass:               "NodeClass",
	AttributeBrowseName:              "BrowseName",
	AttributeDisplayName:             "DisplayName",
	AttributeDescription:             "Description",
	AttributeWriteMask:               "WriteMask",
	AttributeUserWriteMask:           "UserWriteMask",
	AttributeIsAbstract:              "IsAbstract",
	AttributeSymmetric:               "Symmetric",
	AttributeInverseName:             "InverseName",
	AttributeContainsNoLoops:         "ContainsNoLoops",
	AttributeEventNotifier:           "EventNotifier",
	AttributeValue:                   "Value",
	AttributeDataType:                "DataType",
	AttributeValueRank:               "ValueRank",
	AttributeArrayDimensions:         "ArrayDimensions",
	AttributeAccessLevel:             "AccessLevel",
	AttributeUserAccessLevel:         "UserAccessLevel",
	AttributeMinimumSamplingInterval: "MinimumSamplingInterval",
	AttributeHistorizing:             "Historizing",
	AttributeExecutable:              "Executable",
	AttributeUserExecutable:          "UserExecutable",
}

// String returns the string representation of an AttributeID.
func (a AttributeID) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return "Unknown"
}

// Valid reports whether a is a defined attribute id.
func (a AttributeID) Valid() bool {
	_, ok := attributeNames[a]
	return ok
}

// NodeClass represents the class of an OPC UA node.
type NodeClass uint32

// OPC UA Node Classes.
const (
	NodeClassUnspecified NodeClass = 0
	NodeClassObject      NodeClass = 1
	NodeClassVariable    NodeClass = 2
	NodeClassMethod      NodeClass = 4
)

// String returns the string representation of a NodeClass.
func (n NodeClass) String() string {
	switch n {
	case NodeClassUnspecified:
		return "Unspecified"
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	case NodeClassMethod:
		return "Method"
	default:
		return "Unknown"
	}
}

// TimestampsToReturn specifies which timestamps to return.
type TimestampsToReturn uint32

// Timestamps to return options.
const (
	TimestampsToReturnSource  TimestampsToReturn = 0
	TimestampsToReturnServer  TimestampsToReturn = 1
	TimestampsToReturnBoth    TimestampsToReturn = 2
	TimestampsToReturnNeither TimestampsToReturn = 3
)

// Valid reports whether t is a defined option.
func (t TimestampsToReturn) Valid() bool {
	return t <= TimestampsToReturnNeither
}

// Apply clears the timestamps of dv that t does not select.
func (t TimestampsToReturn) Apply(dv DataValue) DataValue {
	if t != TimestampsToReturnSource && t != TimestampsToReturnBoth {
		dv.SourceTimestamp = time.Time{}
	}
	if t != TimestampsToReturnServer && t != TimestampsToReturnBoth {
		dv.ServerTimestamp = time.Time{}
	}
	return dv
}

// TypeID identifies the built-in type of a Variant.
type TypeID uint8

// Built-in type IDs.
const (
	TypeNull       TypeID = 0
	TypeBoolean    TypeID = 1
	TypeSByte      TypeID = 2
	TypeByte       TypeID = 3
	TypeInt16      TypeID = 4
	TypeUInt16     TypeID = 5
	TypeInt32      TypeID = 6
	TypeUInt32     TypeID = 7
	TypeInt64      TypeID = 8
	TypeUInt64     TypeID = 9
	TypeFloat      TypeID = 10
	TypeDouble     TypeID = 11
	TypeString     TypeID = 12
	TypeDateTime   TypeID = 13
	TypeGUID       TypeID = 14
	TypeByteString TypeID = 15
	TypeNodeID     TypeID = 17
	TypeStatusCode TypeID = 19
)

// Variant is a typed value.
type Variant struct {
	Type  TypeID
	Value interface{}
}

// NewVariant wraps a Go value, inferring its built-in type.
func NewVariant(v interface{}) *Variant {
	var t TypeID
	switch v.(type) {
	case nil:
		t = TypeNull
	case bool:
		t = TypeBoolean
	case int8:
		t = TypeSByte
	case uint8:
		t = TypeByte
	case int16:
		t = TypeInt16
	case uint16:
		t = TypeUInt16
	case int32:
		t = TypeInt32
	case uint32:
		t = TypeUInt32
	case int64, int:
		t = TypeInt64
	case uint64:
		t = TypeUInt64
	case float32:
		t = TypeFloat
	case float64:
		t = TypeDouble
	case string:
		t = TypeString
	case time.Time:
		t = TypeDateTime
	case []byte:
		t = TypeByteString
	case NodeID:
		t = TypeNodeID
	case StatusCode:
		t = TypeStatusCode
	}
	return &Variant{Type: t, Value: v}
}

// DataValue is a value with status and timestamps.
type DataValue struct {
	Value           *Variant
	StatusCode      StatusCode
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// SameValue reports whether d and o carry the same value and status.
// Timestamps are ignored; this is the change-notification trigger.
func (d DataValue) SameValue(o DataValue) bool {
	if d.StatusCode != o.StatusCode {
		return false
	}
	if d.Value == nil || o.Value == nil {
		return d.Value == nil && o.Value == nil
	}
	return d.Value.Type == o.Value.Type && reflect.DeepEqual(d.Value.Value, o.Value.Value)
}

// ReadValueID identifies a node attribute to read or monitor.
type ReadValueID struct {
	NodeID      NodeID
	AttributeID AttributeID
	IndexRange  string
}

// MonitoringMode represents the monitoring mode for a monitored item.
type MonitoringMode uint32

// Monitoring modes.
const (
	MonitoringModeDisabled  MonitoringMode = 0
	MonitoringModeSampling  MonitoringMode = 1
	MonitoringModeReporting MonitoringMode = 2
)

// Valid reports whether m is a defined monitoring mode.
func (m MonitoringMode) Valid() bool {
	return m <= MonitoringModeReporting
}

// MonitoringParameters contains monitoring parameters.
type MonitoringParameters struct {
	ClientHandle     uint32
	SamplingInterval float64
	QueueSize        uint32
	DiscardOldest    bool
}

// MonitoredItemCreateRequest describes a monitored item to create.
type MonitoredItemCreateRequest struct {
	ItemToMonitor       ReadValueID
	MonitoringMode      MonitoringMode
	RequestedParameters MonitoringParameters
}

// MonitoredItemCreateResult contains the result of creating a monitored item.
type MonitoredItemCreateResult struct {
	StatusCode              StatusCode
	MonitoredItemID         uint32
	RevisedSamplingInterval float64
	RevisedQueueSize        uint32
}
