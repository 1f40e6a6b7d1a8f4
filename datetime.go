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

import "time"

// DateTime is an OPC UA timestamp: 100 nanosecond ticks since 1601-01-01 UTC.
type DateTime int64

// epochOffset is the number of ticks between 1601-01-01 and 1970-01-01.
const epochOffset = 116444736000000000

// TicksPerMillisecond converts a millisecond timeout into DateTime ticks.
const TicksPerMillisecond = 10000

// FromTime converts t to a DateTime.
func FromTime(t time.Time) DateTime {
	return DateTime(t.UnixNano()/100 + epochOffset)
}

// Now returns the current wall clock as a DateTime.
func Now() DateTime {
	return FromTime(time.Now())
}

// Time converts d back to a time.Time.
func (d DateTime) Time() time.Time {
	return time.Unix(0, (int64(d)-epochOffset)*100).UTC()
}

// Add returns d shifted by ms milliseconds.
func (d DateTime) Add(ms float64) DateTime {
	return d + DateTime(ms*TicksPerMillisecond)
}

// Clock is the time source used for session expiry and timestamps.
type Clock interface {
	Now() DateTime
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() DateTime { return Now() }
