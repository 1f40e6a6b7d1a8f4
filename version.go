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
	"fmt"
	"runtime/debug"
)

// Version of the subscription engine.
const (
	Version      = "0.3.0"
	VersionMajor = 0
	VersionMinor = 3
	VersionPatch = 0
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string
	Major     int
	Minor     int
	Patch     int
	GoVersion string
	Revision  string
}

// GetVersion returns the version of the engine and, when available, the VCS
// revision it was built from.
func GetVersion() VersionInfo {
	info := VersionInfo{
		Version: Version,
		Major:   VersionMajor,
		Minor:   VersionMinor,
		Patch:   VersionPatch,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	return info
}

func (v VersionInfo) String() string {
	s := "v" + v.Version
	if v.Revision != "" {
		rev := v.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		s += fmt.Sprintf(" (%s)", rev)
	}
	if v.GoVersion != "" {
		s += " " + v.GoVersion
	}
	return s
}
