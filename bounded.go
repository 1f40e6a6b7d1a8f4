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

import "cmp"

// BoundedValue is a negotiable parameter kept inside [Min, Max].
// Requested values outside the range are clamped, never rejected.
type BoundedValue[T cmp.Ordered] struct {
	Min     T
	Max     T
	Current T
}

// NewBoundedValue returns a bounded value with Current set to min.
func NewBoundedValue[T cmp.Ordered](min, max T) BoundedValue[T] {
	return BoundedValue[T]{Min: min, Max: max, Current: min}
}

// Clamp returns requested revised into [Min, Max]. NaN revises to Min.
func (b BoundedValue[T]) Clamp(requested T) T {
	if requested != requested {
		return b.Min
	}
	return max(b.Min, min(requested, b.Max))
}

// Set clamps requested, stores it as Current and returns the revised value.
func (b *BoundedValue[T]) Set(requested T) T {
	b.Current = b.Clamp(requested)
	return b.Current
}

// Revise returns a copy with the same range and Current set to the clamped
// request. Used to derive per-subscription values from session templates.
func (b BoundedValue[T]) Revise(requested T) BoundedValue[T] {
	b.Current = b.Clamp(requested)
	return b
}

// Contains reports whether v lies inside the range.
func (b BoundedValue[T]) Contains(v T) bool {
	return v >= b.Min && v <= b.Max
}
