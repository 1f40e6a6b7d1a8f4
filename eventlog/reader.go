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

package eventlog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	opcua "github.com/edgeo-scada/uasub"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	SessionID      string
	Service        opcua.ServiceID
	SubscriptionID uint32
	// BadOnly keeps events whose service result or any per-operation
	// result is bad.
	BadOnly bool
}

func (f *Filter) matches(e Event) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Service != 0 && e.Service != f.Service {
		return false
	}
	if f.SubscriptionID != 0 && e.SubscriptionID != f.SubscriptionID {
		return false
	}
	if f.BadOnly && !e.StatusCode.IsBad() && e.Failed() == 0 {
		return false
	}
	return true
}

// Reader decodes events written by a FileLogger.
type Reader struct {
	r       io.ReadCloser
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the event file at path.
func NewReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return NewStreamReader(f, filter), nil
}

// NewStreamReader decodes events from r. Close closes r.
func NewStreamReader(r io.ReadCloser, filter Filter) *Reader {
	return &Reader{r: r, decoder: newDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF at the end of the stream.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("eventlog: decode: %w", err)
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// All reads every remaining matching event.
func (r *Reader) All() ([]Event, error) {
	var events []Event
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	return r.r.Close()
}
