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
	"bytes"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonschema"
)

// Group is one of the four Modbus entity spaces.
type Group int

const (
	Coils Group = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

// Groups lists the entity spaces in poll order.
var Groups = [...]Group{Coils, DiscreteInputs, HoldingRegisters, InputRegisters}

func (g Group) String() string {
	switch g {
	case Coils:
		return "coil"
	case DiscreteInputs:
		return "discrete input"
	case HoldingRegisters:
		return "holding register"
	case InputRegisters:
		return "input register"
	}
	return "group(" + strconv.Itoa(int(g)) + ")"
}

// Key returns the canonical configuration key of the group.
func (g Group) Key() string {
	switch g {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discreteInputs"
	case HoldingRegisters:
		return "holdingRegisters"
	case InputRegisters:
		return "inputRegisters"
	}
	return ""
}

// groupKeys maps every accepted configuration key, including the short
// aliases used by older configurations, to its group.
var groupKeys = map[string]Group{
	"coils":            Coils,
	"inputs":           DiscreteInputs,
	"discreteInputs":   DiscreteInputs,
	"registers":        HoldingRegisters,
	"holdingRegisters": HoldingRegisters,
	"inputRegisters":   InputRegisters,
}

const registerMapSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "coils":            { "$ref": "#/$defs/group" },
    "inputs":           { "$ref": "#/$defs/group" },
    "discreteInputs":   { "$ref": "#/$defs/group" },
    "registers":        { "$ref": "#/$defs/group" },
    "holdingRegisters": { "$ref": "#/$defs/group" },
    "inputRegisters":   { "$ref": "#/$defs/group" }
  },
  "additionalProperties": false,
  "required": ["coils", "inputRegisters"],
  "allOf": [
    { "oneOf": [ { "required": ["inputs"] }, { "required": ["discreteInputs"] } ] },
    { "oneOf": [ { "required": ["registers"] }, { "required": ["holdingRegisters"] } ] }
  ],
  "$defs": {
    "group": {
      "type": "object",
      "propertyNames": { "minLength": 1 },
      "additionalProperties": { "type": "integer", "minimum": 0, "maximum": 65535 }
    }
  }
}`

var compileRegisterMapSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.NewCompiler().Compile([]byte(registerMapSchema))
})

// RegisterMap associates point names with addresses in each of the four
// entity spaces. It is immutable once parsed.
type RegisterMap struct {
	points      [len(Groups)]map[string]uint16
	names       [len(Groups)][]string
	fingerprint uint64
}

// ParseRegisterMap parses a register map from JSON text ([]byte or string) or
// from an already decoded object such as the one produced by a YAML config.
func ParseRegisterMap(raw any) (*RegisterMap, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, &MalformedMapError{Reason: "register map is missing"}
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &MalformedMapError{Reason: "register map is not representable as JSON", Err: err}
		}
		data = b
	}

	if !json.Valid(data) {
		return nil, &MalformedMapError{Reason: "register map is not valid JSON"}
	}

	schema, err := compileRegisterMapSchema()
	if err != nil {
		return nil, &MalformedMapError{Reason: "register map schema does not compile", Err: err}
	}
	result := schema.ValidateJSON(data)
	if result == nil {
		return nil, &MalformedMapError{Reason: "register map validation returned no result"}
	}
	if !result.Valid {
		var details []string
		for _, validationErr := range result.Errors {
			if validationErr != nil {
				details = append(details, validationErr.Error())
			}
		}
		sort.Strings(details)
		return nil, &MalformedMapError{Reason: "schema validation failed", Err: errors.New(strings.Join(details, "; "))}
	}

	if err := checkUniqueNames(data); err != nil {
		return nil, err
	}

	var groups map[string]map[string]json.Number
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, &MalformedMapError{Reason: "register map must be an object of objects", Err: err}
	}

	m := &RegisterMap{}
	seen := [len(Groups)]string{}
	for key, entries := range groups {
		g, ok := groupKeys[key]
		if !ok {
			return nil, &MalformedMapError{Group: key, Reason: "unknown group"}
		}
		if seen[g] != "" {
			return nil, &MalformedMapError{Group: key, Reason: "group is also configured as " + strconv.Quote(seen[g])}
		}
		seen[g] = key

		m.points[g] = make(map[string]uint16, len(entries))
		for name, n := range entries {
			addr, err := parseAddress(n)
			if err != nil {
				return nil, &MalformedMapError{Group: key, Point: name, Err: err}
			}
			m.points[g][name] = addr
		}
	}

	// Readings are keyed by point name alone, so names span all groups.
	owner := make(map[string]Group)
	for _, g := range Groups {
		if seen[g] == "" {
			return nil, &MalformedMapError{Group: g.Key(), Reason: "group is missing"}
		}
		m.names[g] = slices.Sorted(maps.Keys(m.points[g]))
		for _, name := range m.names[g] {
			if prev, ok := owner[name]; ok {
				return nil, &MalformedMapError{Group: seen[g], Point: name, Reason: "name already used in group " + strconv.Quote(seen[prev])}
			}
			owner[name] = g
		}
	}
	m.fingerprint = m.computeFingerprint()

	return m, nil
}

// checkUniqueNames rejects a point name repeated inside one group object,
// which decoding into a map would silently collapse. data must already have
// passed schema validation.
func checkUniqueNames(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		group, err := nextKey(dec)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		names := make(map[string]struct{})
		for dec.More() {
			name, err := nextKey(dec)
			if err != nil {
				return err
			}
			if _, dup := names[name]; dup {
				return &MalformedMapError{Group: group, Point: name, Reason: "point name is repeated"}
			}
			names[name] = struct{}{}
			if _, err := dec.Token(); err != nil {
				return &MalformedMapError{Group: group, Point: name, Err: err}
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return &MalformedMapError{Reason: "register map is not valid JSON", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return &MalformedMapError{Reason: fmt.Sprintf("expected %q, got %v", want, tok)}
	}
	return nil
}

func nextKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", &MalformedMapError{Reason: "register map is not valid JSON", Err: err}
	}
	key, ok := tok.(string)
	if !ok {
		return "", &MalformedMapError{Reason: fmt.Sprintf("expected an object key, got %v", tok)}
	}
	return key, nil
}

func parseAddress(n json.Number) (uint16, error) {
	if u, err := strconv.ParseUint(n.String(), 10, 16); err == nil {
		return uint16(u), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, errors.New("address is not a number")
	}
	if f != math.Trunc(f) || f < 0 || f > math.MaxUint16 {
		return 0, errors.New("address must be an integer between 0 and 65535")
	}
	return uint16(f), nil
}

// IsEmpty reports whether no group contains a point.
func (m *RegisterMap) IsEmpty() bool {
	return m.Len() == 0
}

// Len returns the number of configured points across all groups.
func (m *RegisterMap) Len() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, g := range Groups {
		n += len(m.names[g])
	}
	return n
}

// Points enumerates the (name, address) pairs of a group in ascending name order.
// Every call starts a fresh enumeration.
func (m *RegisterMap) Points(g Group) iter.Seq2[string, uint16] {
	return func(yield func(string, uint16) bool) {
		if m == nil || g < Coils || g > InputRegisters {
			return
		}
		for _, name := range m.names[g] {
			if !yield(name, m.points[g][name]) {
				return
			}
		}
	}
}

// Fingerprint is a hash over all groups, stable across parses of equal maps.
func (m *RegisterMap) Fingerprint() uint64 {
	if m == nil {
		return 0
	}
	return m.fingerprint
}

func (m *RegisterMap) computeFingerprint() uint64 {
	hasher := xxhash.New()
	for _, g := range Groups {
		_, _ = hasher.WriteString(g.Key())
		_, _ = hasher.Write([]byte{0})
		for name, addr := range m.Points(g) {
			_, _ = hasher.WriteString(name)
			_, _ = hasher.Write([]byte{0, byte(addr >> 8), byte(addr)})
		}
	}
	return hasher.Sum64()
}

// Equal reports whether both maps configure the same points.
func (m *RegisterMap) Equal(other *RegisterMap) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.fingerprint != other.fingerprint {
		return false
	}
	for _, g := range Groups {
		if !maps.Equal(m.points[g], other.points[g]) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the map with the canonical group keys.
func (m *RegisterMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]uint16, len(Groups))
	for _, g := range Groups {
		group := make(map[string]uint16)
		if m != nil {
			maps.Copy(group, m.points[g])
		}
		out[g.Key()] = group
	}
	return json.Marshal(out)
}
