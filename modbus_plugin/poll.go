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
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TimestampLayout is how a Reading timestamp is rendered in the ingestion document.
const TimestampLayout = "2006-01-02 15:04:05.000000-07:00"

// Reading is the result of one successful poll cycle.
type Reading struct {
	Asset     string
	Timestamp time.Time
	Key       string
	// Readings holds uint16 values for registers and bool values for coils
	// and discrete inputs.
	Readings map[string]any
}

// Document returns the reading as the ingestion document
// {"asset", "timestamp", "key", "readings"}. The readings map is copied.
func (r *Reading) Document() map[string]any {
	return map[string]any{
		"asset":     r.Asset,
		"timestamp": r.Timestamp.UTC().Format(TimestampLayout),
		"key":       r.Key,
		"readings":  maps.Clone(r.Readings),
	}
}

func (r *Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

// PollCycle reads every configured point once and assembles a Reading.
// The zero value uses the wall clock and random UUIDs.
type PollCycle struct {
	Now    func() time.Time
	NewKey func() string
}

// Run reads each point with quantity 1, walking coils, discrete inputs,
// holding registers and input registers in that order. The first failure
// aborts the cycle without a Reading. An empty map returns (nil, nil) without
// touching the transport.
func (p *PollCycle) Run(ctx context.Context, m *RegisterMap, t Transport, assetID string) (*Reading, error) {
	if m.IsEmpty() {
		return nil, nil
	}

	readings := make(map[string]any, m.Len())
	for _, g := range Groups {
		for name, addr := range m.Points(g) {
			value, err := readPoint(ctx, t, g, addr)
			if err != nil {
				return nil, &DataRetrievalError{Group: g, Point: name, Address: addr, Err: err}
			}
			readings[name] = value
		}
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	key := uuid.NewString
	if p.NewKey != nil {
		key = p.NewKey
	}

	return &Reading{
		Asset:     assetID,
		Timestamp: now().UTC(),
		Key:       key(),
		Readings:  readings,
	}, nil
}

func readPoint(ctx context.Context, t Transport, g Group, addr uint16) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch g {
	case Coils, DiscreteInputs:
		read := t.ReadCoils
		if g == DiscreteInputs {
			read = t.ReadDiscreteInputs
		}
		b, err := read(ctx, addr, 1)
		if err != nil {
			return nil, err
		}
		if len(b) < 1 {
			return nil, fmt.Errorf("short response: got %d bytes, want 1", len(b))
		}
		return b[0]&0x01 != 0, nil
	case HoldingRegisters, InputRegisters:
		read := t.ReadHoldingRegisters
		if g == InputRegisters {
			read = t.ReadInputRegisters
		}
		b, err := read(ctx, addr, 1)
		if err != nil {
			return nil, err
		}
		if len(b) < 2 {
			return nil, fmt.Errorf("short response: got %d bytes, want 2", len(b))
		}
		return binary.BigEndian.Uint16(b[:2]), nil
	}
	return nil, fmt.Errorf("unknown group %d", int(g))
}
