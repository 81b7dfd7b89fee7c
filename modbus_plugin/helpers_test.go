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

package modbus_plugin_test

import (
	"context"
	"fmt"
	"sync"

	. "github.com/united-manufacturing-hub/benthos-umh-modbustcp/modbus_plugin"
)

// fakeTransport serves reads from in-memory tables and records every call.
type fakeTransport struct {
	mu sync.Mutex

	coils    map[uint16]bool
	discrete map[uint16]bool
	holding  map[uint16]uint16
	input    map[uint16]uint16

	// failOn maps "<function>:<address>" to the error that read returns.
	failOn   map[string]error
	closeErr error

	calls  []string
	closed int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		coils:    map[uint16]bool{},
		discrete: map[uint16]bool{},
		holding:  map[uint16]uint16{},
		input:    map[uint16]uint16{},
		failOn:   map[string]error{},
	}
}

func (t *fakeTransport) record(fn string, address, quantity uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := fmt.Sprintf("%s:%d", fn, address)
	t.calls = append(t.calls, fmt.Sprintf("%s/%d", key, quantity))
	return t.failOn[key]
}

func bitResponse(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

func wordResponse(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func (t *fakeTransport) ReadCoils(_ context.Context, address, quantity uint16) ([]byte, error) {
	if err := t.record("coils", address, quantity); err != nil {
		return nil, err
	}
	return bitResponse(t.coils[address]), nil
}

func (t *fakeTransport) ReadDiscreteInputs(_ context.Context, address, quantity uint16) ([]byte, error) {
	if err := t.record("discrete", address, quantity); err != nil {
		return nil, err
	}
	return bitResponse(t.discrete[address]), nil
}

func (t *fakeTransport) ReadHoldingRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	if err := t.record("holding", address, quantity); err != nil {
		return nil, err
	}
	return wordResponse(t.holding[address]), nil
}

func (t *fakeTransport) ReadInputRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	if err := t.record("input", address, quantity); err != nil {
		return nil, err
	}
	return wordResponse(t.input[address]), nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return t.closeErr
}

func (t *fakeTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *fakeTransport) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeDialer hands out fake transports and counts connects.
type fakeDialer struct {
	mu sync.Mutex

	err        error
	prepare    func(*fakeTransport)
	endpoints  []Endpoint
	options    []TransportOptions
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, endpoint Endpoint, opts TransportOptions) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endpoints = append(d.endpoints, endpoint)
	d.options = append(d.options, opts)
	if d.err != nil {
		return nil, d.err
	}

	t := newFakeTransport()
	if d.prepare != nil {
		d.prepare(t)
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) Endpoints() []Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Endpoint(nil), d.endpoints...)
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) Transports() []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTransport(nil), d.transports...)
}

func mustParseMap(raw string) *RegisterMap {
	m, err := ParseRegisterMap(raw)
	if err != nil {
		panic(err)
	}
	return m
}
