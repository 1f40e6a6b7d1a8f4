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
)

// Default limits.
const (
	DefaultMinPublishingInterval = 10.0
	DefaultMaxPublishingInterval = 10000.0
	DefaultMinLifetimeCount      = 3
	DefaultMaxLifetimeCount      = 15000
	DefaultMinKeepAliveCount     = 1
	DefaultMaxKeepAliveCount     = 100
	DefaultMinSamplingInterval   = 5.0
	DefaultMaxSamplingInterval   = 1000.0
	DefaultMinQueueSize          = 1
	DefaultMaxQueueSize          = 100
	DefaultMaxSubscriptions      = 100
)

// Limits are the per-session clamp ranges applied to every requested value.
// The Current field of each template is ignored.
type Limits struct {
	PublishingInterval opcua.BoundedValue[float64]
	LifetimeCount      opcua.BoundedValue[uint32]
	KeepAliveCount     opcua.BoundedValue[uint32]
	SamplingInterval   opcua.BoundedValue[float64]
	QueueSize          opcua.BoundedValue[uint32]

	// MaxSubscriptions caps live subscriptions per session. Zero means no cap.
	MaxSubscriptions int
	// MaxMonitoredItems caps items per subscription. Zero means no cap.
	MaxMonitoredItems int
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		PublishingInterval: opcua.NewBoundedValue(DefaultMinPublishingInterval, DefaultMaxPublishingInterval),
		LifetimeCount:      opcua.NewBoundedValue[uint32](DefaultMinLifetimeCount, DefaultMaxLifetimeCount),
		KeepAliveCount:     opcua.NewBoundedValue[uint32](DefaultMinKeepAliveCount, DefaultMaxKeepAliveCount),
		SamplingInterval:   opcua.NewBoundedValue(DefaultMinSamplingInterval, DefaultMaxSamplingInterval),
		QueueSize:          opcua.NewBoundedValue[uint32](DefaultMinQueueSize, DefaultMaxQueueSize),
		MaxSubscriptions:   DefaultMaxSubscriptions,
	}
}
