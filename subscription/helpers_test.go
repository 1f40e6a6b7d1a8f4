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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/uasub"
	"github.com/edgeo-scada/uasub/nodestore"
	"github.com/edgeo-scada/uasub/scheduler"
)

var (
	temperatureID = opcua.NewStringNodeID(2, "Temperature")
	pressureID    = opcua.NewStringNodeID(2, "Pressure")
	levelID       = opcua.NewStringNodeID(2, "Level")
	missingID     = opcua.NewStringNodeID(2, "Missing")
)

type fixedClock opcua.DateTime

func (c fixedClock) Now() opcua.DateTime { return opcua.DateTime(c) }

var testClock = fixedClock(opcua.FromTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *nodestore.Memory {
	t.Helper()
	store := nodestore.NewMemory()
	require.NoError(t, store.AddVariable(temperatureID, "Temperature", 20.0))
	require.NoError(t, store.AddVariable(pressureID, "Pressure", 1.0))
	require.NoError(t, store.AddVariable(levelID, "Level", int32(0)))
	return store
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *nodestore.Memory, *scheduler.Manual) {
	t.Helper()
	store := newTestStore(t)
	sched := scheduler.NewManual()
	base := []Option{WithClock(testClock), WithLogger(discardLogger())}
	return NewManager(store, sched, append(base, opts...)...), store, sched
}

func subscriptionRequest(interval float64) *opcua.CreateSubscriptionRequest {
	return &opcua.CreateSubscriptionRequest{
		RequestedPublishingInterval: interval,
		RequestedLifetimeCount:      1000,
		RequestedMaxKeepAliveCount:  10,
		PublishingEnabled:           true,
	}
}

func itemRequest(node opcua.NodeID, handle, queueSize uint32, discardOldest bool) opcua.MonitoredItemCreateRequest {
	return opcua.MonitoredItemCreateRequest{
		ItemToMonitor:  opcua.ReadValueID{NodeID: node, AttributeID: opcua.AttributeValue},
		MonitoringMode: opcua.MonitoringModeReporting,
		RequestedParameters: opcua.MonitoringParameters{
			ClientHandle:     handle,
			SamplingInterval: 100,
			QueueSize:        queueSize,
			DiscardOldest:    discardOldest,
		},
	}
}

func sample(v float64) opcua.DataValue {
	return opcua.DataValue{Value: opcua.NewVariant(v)}
}

// pushAll pushes values straight into one item of sub.
func pushAll(t *testing.T, sub *Subscription, itemID uint32, values ...float64) {
	t.Helper()
	require.True(t, sub.MonitoredItem(itemID, func(it *MonitoredItem) {
		for _, v := range values {
			it.Push(sample(v))
		}
	}))
}

type stubScheduler struct {
	mock.Mock
}

func (s *stubScheduler) Register(id scheduler.JobID, interval time.Duration, fn func()) error {
	args := s.Called(id, interval, fn)
	return args.Error(0)
}

func (s *stubScheduler) Cancel(id scheduler.JobID) {
	s.Called(id)
}
