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

// Package eventlog records one event per handled service request, either to
// slog or to an append-only CBOR file that can be read back later.
package eventlog

import (
	"time"

	opcua "github.com/edgeo-scada/uasub"
)

// Event is one handled service request. CBOR encoding uses integer keys.
type Event struct {
	Timestamp     time.Time        `cbor:"1,keyasint"`
	SessionID     string           `cbor:"2,keyasint"`
	Service       opcua.ServiceID  `cbor:"3,keyasint"`
	RequestHandle uint32           `cbor:"4,keyasint,omitempty"`
	StatusCode    opcua.StatusCode `cbor:"5,keyasint"`

	// Set for requests that target or return a single subscription.
	SubscriptionID uint32 `cbor:"6,keyasint,omitempty"`
	// Publish only.
	SequenceNumber uint32 `cbor:"7,keyasint,omitempty"`
	KeepAlive      bool   `cbor:"8,keyasint,omitempty"`

	// Items counts the operations of a batch request, or the notifications
	// carried by a Publish response.
	Items   int                `cbor:"9,keyasint,omitempty"`
	Results []opcua.StatusCode `cbor:"10,keyasint,omitempty"`

	Duration time.Duration `cbor:"11,keyasint,omitempty"`
}

// Failed returns the number of bad per-operation results.
func (e Event) Failed() int {
	n := 0
	for _, r := range e.Results {
		if r.IsBad() {
			n++
		}
	}
	return n
}
