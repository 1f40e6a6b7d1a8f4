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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in   string
		want NodeID
	}{
		{"i=85", NewNumericNodeID(0, 85)},
		{"85", NewNumericNodeID(0, 85)},
		{"ns=2;i=1", NewNumericNodeID(2, 1)},
		{"ns=2;s=Temperature", NewStringNodeID(2, "Temperature")},
		{"s=Pressure", NewStringNodeID(0, "Pressure")},
		{"ns=1;b=cafe", NodeID{Type: NodeIDTypeOpaque, Namespace: 1, Opaque: []byte{0xca, 0xfe}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNodeID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseNodeIDGUID(t *testing.T) {
	n, err := ParseNodeID("ns=3;g=72962b91-fa75-4ae6-8d28-b404dc7daf63")
	require.NoError(t, err)
	assert.Equal(t, NodeIDTypeGUID, n.Type)
	assert.Equal(t, uint16(3), n.Namespace)
	assert.Equal(t, "ns=3;g=72962b91-fa75-4ae6-8d28-b404dc7daf63", FormatNodeID(n))
}

func TestParseNodeIDErrors(t *testing.T) {
	for _, in := range []string{"", "ns=2", "ns=x;i=1", "i=abc", "s=", "g=nope", "b=zz", "foo"} {
		_, err := ParseNodeID(in)
		assert.ErrorIs(t, err, ErrInvalidNodeID, in)
	}
}

func TestFormatNodeID(t *testing.T) {
	assert.Equal(t, "i=2253", FormatNodeID(NewNumericNodeID(0, 2253)))
	assert.Equal(t, "ns=2;i=1", FormatNodeID(NewNumericNodeID(2, 1)))
	assert.Equal(t, "ns=2;s=Temperature", FormatNodeID(NewStringNodeID(2, "Temperature")))
	assert.True(t, NewNumericNodeID(0, 0).IsNull())
	assert.True(t, MustParseNodeID("ns=2;i=1").Equal(NewNumericNodeID(2, 1)))
}
