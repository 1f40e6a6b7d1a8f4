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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParseNodeID parses the text form of a node id: "i=85", "ns=2;i=1",
// "ns=2;s=Temperature", "ns=1;g=<uuid>", "ns=1;b=<hex>". A bare number is
// taken as a numeric identifier.
func ParseNodeID(s string) (NodeID, error) {
	ns := uint16(0)
	identifier := s

	if strings.HasPrefix(s, "ns=") {
		parts := strings.SplitN(s, ";", 2)
		if len(parts) != 2 {
			return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
		}

		nsStr := strings.TrimPrefix(parts[0], "ns=")
		nsVal, err := strconv.ParseUint(nsStr, 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: namespace %q", ErrInvalidNodeID, nsStr)
		}
		ns = uint16(nsVal)
		identifier = parts[1]
	}

	switch {
	case strings.HasPrefix(identifier, "i="):
		idStr := strings.TrimPrefix(identifier, "i=")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: numeric id %q", ErrInvalidNodeID, idStr)
		}
		return NewNumericNodeID(ns, uint32(id)), nil

	case strings.HasPrefix(identifier, "s="):
		idStr := strings.TrimPrefix(identifier, "s=")
		if idStr == "" {
			return NodeID{}, fmt.Errorf("%w: empty string id", ErrInvalidNodeID)
		}
		return NewStringNodeID(ns, idStr), nil

	case strings.HasPrefix(identifier, "g="):
		g, err := uuid.Parse(strings.TrimPrefix(identifier, "g="))
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
		}
		return NewGUIDNodeID(ns, g), nil

	case strings.HasPrefix(identifier, "b="):
		b, err := hex.DecodeString(strings.TrimPrefix(identifier, "b="))
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
		}
		return NodeID{Type: NodeIDTypeOpaque, Namespace: ns, Opaque: b}, nil
	}

	if id, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		return NewNumericNodeID(ns, uint32(id)), nil
	}
	return NodeID{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
}

// MustParseNodeID is like ParseNodeID but panics on error.
func MustParseNodeID(s string) NodeID {
	n, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// FormatNodeID returns the text form accepted by ParseNodeID.
func FormatNodeID(n NodeID) string {
	var id string
	switch n.Type {
	case NodeIDTypeNumeric:
		id = fmt.Sprintf("i=%d", n.Numeric)
	case NodeIDTypeString:
		id = "s=" + n.String
	case NodeIDTypeGUID:
		id = "g=" + uuid.UUID(n.GUID).String()
	case NodeIDTypeOpaque:
		id = "b=" + hex.EncodeToString(n.Opaque)
	default:
		return fmt.Sprintf("<unknown type %d>", n.Type)
	}
	if n.Namespace == 0 {
		return id
	}
	return fmt.Sprintf("ns=%d;%s", n.Namespace, id)
}
