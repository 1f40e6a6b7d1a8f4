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

// Package session tracks client sessions and the subscriptions they own.
package session

import (
	"sync/atomic"

	"github.com/google/uuid"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/subscription"
)

// Session is one client session. Its subscriptions live and die with it.
type Session struct {
	ID                  uuid.UUID
	AuthenticationToken opcua.NodeID
	// Timeout is the revised session timeout in milliseconds.
	Timeout float64

	subscriptions *subscription.Manager
	validTill     atomic.Int64
	closed        atomic.Bool
}

func newSession(timeout float64, subs *subscription.Manager, now opcua.DateTime) *Session {
	id := uuid.New()
	s := &Session{
		ID:                  id,
		AuthenticationToken: opcua.NewGUIDNodeID(0, uuid.New()),
		Timeout:             timeout,
		subscriptions:       subs,
	}
	s.Extend(now)
	return s
}

// Subscriptions returns the subscription registry of the session.
func (s *Session) Subscriptions() *subscription.Manager {
	return s.subscriptions
}

// Extend pushes the expiry to now plus the session timeout.
func (s *Session) Extend(now opcua.DateTime) {
	s.validTill.Store(int64(now.Add(s.Timeout)))
}

// ValidTill returns the time after which the session is expired.
func (s *Session) ValidTill() opcua.DateTime {
	return opcua.DateTime(s.validTill.Load())
}

// Expired reports whether the session timed out at now.
func (s *Session) Expired(now opcua.DateTime) bool {
	return now > s.ValidTill()
}

// Closed reports whether the session was closed or reaped.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) close() int {
	if !s.closed.CompareAndSwap(false, true) {
		return 0
	}
	return s.subscriptions.DeleteAll()
}
