// Copyright 2025 UMH Systems GmbH
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

package modbus_plugin

import (
	"maps"
	"slices"
	"strings"
)

// connectionKeys are baked into the transport when it is dialed.
var connectionKeys = []string{KeyAddress, KeyPort, KeySlaveID, KeyTimeout}

// ConfigurationDiff is the set of keys whose value differs between two snapshots.
type ConfigurationDiff map[string]struct{}

// Has reports whether key changed.
func (d ConfigurationDiff) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Keys returns the changed keys in sorted order.
func (d ConfigurationDiff) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

func (d ConfigurationDiff) String() string {
	return "[" + strings.Join(d.Keys(), ", ") + "]"
}

// DiffConfig compares two snapshots field by field.
func DiffConfig(old, next Config) ConfigurationDiff {
	diff := ConfigurationDiff{}
	if old.AssetName != next.AssetName {
		diff[KeyAssetName] = struct{}{}
	}
	if strings.TrimSpace(old.Address) != strings.TrimSpace(next.Address) {
		diff[KeyAddress] = struct{}{}
	}
	if strings.TrimSpace(old.Port) != strings.TrimSpace(next.Port) {
		diff[KeyPort] = struct{}{}
	}
	if !old.Map.Equal(next.Map) {
		diff[KeyMap] = struct{}{}
	}
	if old.SlaveID != next.SlaveID {
		diff[KeySlaveID] = struct{}{}
	}
	if old.Timeout != next.Timeout {
		diff[KeyTimeout] = struct{}{}
	}
	return diff
}

// Reconfiguration is the outcome of comparing two configurations. Config
// takes effect entirely; it is never merged with the old snapshot.
type Reconfiguration struct {
	RequiresReconnect bool
	Config            Config
	Changed           ConfigurationDiff
}

// ApplyReconfiguration decides whether moving from old to next requires the
// current connection to be discarded. It performs no I/O; the next poll
// connects lazily with the new coordinates.
func ApplyReconfiguration(old, next Config) Reconfiguration {
	diff := DiffConfig(old, next)
	return Reconfiguration{
		RequiresReconnect: slices.ContainsFunc(connectionKeys, diff.Has),
		Config:            next,
		Changed:           diff,
	}
}
