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
	"errors"
	"fmt"
)

// StatusCode is an OPC UA status code. The two high bits carry the severity.
type StatusCode uint32

// StatusCode severity levels.
const (
	StatusSeverityGood      uint32 = 0x00000000
	StatusSeverityUncertain uint32 = 0x40000000
	StatusSeverityBad       uint32 = 0x80000000
	StatusSeverityMask      uint32 = 0xC0000000
)

// Status codes produced by the subscription services.
const (
	StatusGood                         StatusCode = 0x00000000
	StatusBadUnexpectedError           StatusCode = 0x80010000
	StatusBadInternalError             StatusCode = 0x80020000
	StatusBadOutOfMemory               StatusCode = 0x80030000
	StatusBadTimeout                   StatusCode = 0x800A0000
	StatusBadServiceUnsupported        StatusCode = 0x800B0000
	StatusBadShutdown                  StatusCode = 0x800C0000
	StatusBadNothingToDo               StatusCode = 0x800F0000
	StatusBadTooManyOperations         StatusCode = 0x80100000
	StatusBadSessionIdInvalid          StatusCode = 0x80250000
	StatusBadSessionClosed             StatusCode = 0x80260000
	StatusBadSubscriptionIdInvalid     StatusCode = 0x80280000
	StatusBadTimestampsToReturnInvalid StatusCode = 0x802B0000
	StatusBadNodeIdInvalid             StatusCode = 0x80330000
	StatusBadNodeIdUnknown             StatusCode = 0x80340000
	StatusBadAttributeIdInvalid        StatusCode = 0x80350000
	StatusBadMonitoringModeInvalid     StatusCode = 0x80410000
	StatusBadMonitoredItemIdInvalid    StatusCode = 0x80420000
	StatusBadTooManySessions           StatusCode = 0x80560000
	StatusBadTypeMismatch              StatusCode = 0x80740000
	StatusBadTooManySubscriptions      StatusCode = 0x80770000
	StatusBadTooManyPublishRequests    StatusCode = 0x80780000
	StatusBadNoSubscription            StatusCode = 0x80790000
	StatusBadSequenceNumberUnknown     StatusCode = 0x807A0000
	StatusBadSequenceNumberInvalid     StatusCode = 0x80880000
	StatusBadTooManyMonitoredItems     StatusCode = 0x80DB0000
)

type statusCodeInfo struct {
	name        string
	description string
}

var statusCodeMap = map[StatusCode]statusCodeInfo{
	StatusGood:                         {"Good", "The operation completed successfully"},
	StatusBadUnexpectedError:           {"BadUnexpectedError", "An unexpected error occurred"},
	StatusBadInternalError:             {"BadInternalError", "An internal error occurred"},
	StatusBadOutOfMemory:               {"BadOutOfMemory", "Not enough memory to complete the operation"},
	StatusBadTimeout:                   {"BadTimeout", "The operation timed out"},
	StatusBadServiceUnsupported:        {"BadServiceUnsupported", "The server does not support the requested service"},
	StatusBadShutdown:                  {"BadShutdown", "The operation was cancelled because the application is shutting down"},
	StatusBadNothingToDo:               {"BadNothingToDo", "No processing could be done because there was nothing to do"},
	StatusBadTooManyOperations:         {"BadTooManyOperations", "The request could not be processed because it specified too many operations"},
	StatusBadSessionIdInvalid:          {"BadSessionIdInvalid", "The session ID is not valid"},
	StatusBadSessionClosed:             {"BadSessionClosed", "The session was closed by the client"},
	StatusBadSubscriptionIdInvalid:     {"BadSubscriptionIdInvalid", "The subscription ID is not valid"},
	StatusBadTimestampsToReturnInvalid: {"BadTimestampsToReturnInvalid", "The timestamps to return parameter is invalid"},
	StatusBadNodeIdInvalid:             {"BadNodeIdInvalid", "The node ID format is not valid"},
	StatusBadNodeIdUnknown:             {"BadNodeIdUnknown", "The node ID refers to a node that does not exist"},
	StatusBadAttributeIdInvalid:        {"BadAttributeIdInvalid", "The attribute ID is not valid for this node"},
	StatusBadMonitoringModeInvalid:     {"BadMonitoringModeInvalid", "The monitoring mode is invalid"},
	StatusBadMonitoredItemIdInvalid:    {"BadMonitoredItemIdInvalid", "The monitored item ID is not valid"},
	StatusBadTooManySessions:           {"BadTooManySessions", "The server has reached its maximum number of sessions"},
	StatusBadTypeMismatch:              {"BadTypeMismatch", "The value provided does not match the expected data type"},
	StatusBadTooManySubscriptions:      {"BadTooManySubscriptions", "Too many subscriptions"},
	StatusBadTooManyPublishRequests:    {"BadTooManyPublishRequests", "Too many publish requests have been queued"},
	StatusBadNoSubscription:            {"BadNoSubscription", "There is no subscription available for this session"},
	StatusBadSequenceNumberUnknown:     {"BadSequenceNumberUnknown", "The sequence number is unknown to the server"},
	StatusBadSequenceNumberInvalid:     {"BadSequenceNumberInvalid", "The sequence number is not valid"},
	StatusBadTooManyMonitoredItems:     {"BadTooManyMonitoredItems", "The request could not be processed because there are too many monitored items"},
}

// String returns the string representation of the status code.
func (s StatusCode) String() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// Description returns a human-readable description of the status code.
func (s StatusCode) Description() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.description
	}
	switch {
	case s.IsGood():
		return "The operation completed successfully"
	case s.IsUncertain():
		return "The operation completed with uncertain result"
	default:
		return "The operation failed"
	}
}

// Error returns a formatted error string with code, name, and description.
func (s StatusCode) Error() string {
	if info, ok := statusCodeMap[s]; ok {
		return fmt.Sprintf("%s (0x%08X): %s", info.name, uint32(s), info.description)
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(s))
}

// IsGood returns true if the status code indicates success.
func (s StatusCode) IsGood() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityGood
}

// IsUncertain returns true if the status code indicates uncertainty.
func (s StatusCode) IsUncertain() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityUncertain
}

// IsBad returns true if the status code indicates failure.
func (s StatusCode) IsBad() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityBad
}

// OPCUAError wraps a status code returned by a service with its context.
type OPCUAError struct {
	ServiceID  ServiceID
	StatusCode StatusCode
	Message    string
}

// Error implements the error interface.
func (e *OPCUAError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("opcua: %s (%s): %s", e.StatusCode, e.ServiceID, e.Message)
	}
	return fmt.Sprintf("opcua: %s (%s)", e.StatusCode, e.ServiceID)
}

// Is reports whether target is an OPCUAError with the same status code.
func (e *OPCUAError) Is(target error) bool {
	t, ok := target.(*OPCUAError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode
}

// Unwrap exposes the status code so errors.Is(err, StatusBadXxx) works.
func (e *OPCUAError) Unwrap() error {
	return e.StatusCode
}

// Common errors.
var (
	// ErrInvalidNodeID indicates a node ID string could not be parsed.
	ErrInvalidNodeID = errors.New("opcua: invalid node ID")

	// ErrNodeNotFound indicates the node does not exist in the node store.
	ErrNodeNotFound = errors.New("opcua: node not found")

	// ErrNodeExists indicates a node with the same ID is already stored.
	ErrNodeExists = errors.New("opcua: node already exists")

	// ErrSubscriptionNotFound indicates the subscription was not found.
	ErrSubscriptionNotFound = errors.New("opcua: subscription not found")

	// ErrMonitoredItemNotFound indicates the monitored item was not found.
	ErrMonitoredItemNotFound = errors.New("opcua: monitored item not found")

	// ErrSessionNotFound indicates no session is registered under the ID.
	ErrSessionNotFound = errors.New("opcua: session not found")

	// ErrSessionExpired indicates the session outlived its timeout.
	ErrSessionExpired = errors.New("opcua: session expired")

	// ErrSessionClosed indicates the session was closed.
	ErrSessionClosed = errors.New("opcua: session closed")
)

// NewOPCUAError creates a new OPC UA error.
func NewOPCUAError(svc ServiceID, sc StatusCode, msg string) *OPCUAError {
	return &OPCUAError{
		ServiceID:  svc,
		StatusCode: sc,
		Message:    msg,
	}
}

// IsStatusCode checks if an error has a specific status code.
func IsStatusCode(err error, code StatusCode) bool {
	var opcuaErr *OPCUAError
	if errors.As(err, &opcuaErr) {
		return opcuaErr.StatusCode == code
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc == code
	}
	return false
}
