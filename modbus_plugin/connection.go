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
	"errors"
	"fmt"

	"github.com/redpanda-data/benthos/v4/public/service"
)

// ConnectionManager owns at most one Transport. It is not safe for concurrent
// use; Plugin serialises every call behind its own mutex.
type ConnectionManager struct {
	dial Dialer
	opts TransportOptions
	log  *service.Logger

	transport Transport
	endpoint  Endpoint
}

// NewConnectionManager returns a disconnected manager. A nil dialer selects DialTCP.
func NewConnectionManager(dial Dialer, opts TransportOptions, log *service.Logger) *ConnectionManager {
	if dial == nil {
		dial = DialTCP
	}
	return &ConnectionManager{dial: dial, opts: opts, log: log}
}

// EnsureConnected returns the open transport for address:port, dialing it if
// the manager is disconnected. An open transport for other coordinates yields
// ErrEndpointMismatch; callers have to Close first.
func (c *ConnectionManager) EnsureConnected(ctx context.Context, address, port string) (Transport, error) {
	endpoint, err := ParseEndpoint(address, port)
	if err != nil {
		return nil, &ConnectionError{Address: address, Port: port, Err: err}
	}

	if c.transport != nil {
		if c.endpoint != endpoint {
			return nil, fmt.Errorf("%w: open for %s, requested %s", ErrEndpointMismatch, c.endpoint, endpoint)
		}
		return c.transport, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Address: address, Port: port, Err: err}
	}

	t, err := c.dial(ctx, endpoint, c.opts)
	if err != nil {
		if c.log != nil {
			c.log.Errorf("Failed to connect to Modbus device at %s: %v", endpoint, err)
		}
		return nil, &ConnectionError{Address: address, Port: port, Err: err}
	}
	if t == nil {
		return nil, &ConnectionError{Address: address, Port: port, Err: errors.New("dialer returned no transport")}
	}

	c.transport = t
	c.endpoint = endpoint
	if c.log != nil {
		c.log.Infof("Successfully connected to Modbus device at %s", endpoint)
	}
	return t, nil
}

// Close releases the transport. It is a no-op when already disconnected and
// always leaves the manager disconnected.
func (c *ConnectionManager) Close() error {
	if c.transport == nil {
		return nil
	}

	t, endpoint := c.transport, c.endpoint
	c.transport = nil
	c.endpoint = Endpoint{}

	if err := t.Close(); err != nil {
		if c.log != nil {
			c.log.Warnf("Failed to close connection to Modbus device at %s: %v", endpoint, err)
		}
		return &ShutdownError{Err: err}
	}
	if c.log != nil {
		c.log.Infof("Closed connection to Modbus device at %s", endpoint)
	}
	return nil
}

// Connected reports whether a transport is open.
func (c *ConnectionManager) Connected() bool {
	return c.transport != nil
}

// Endpoint returns the coordinates of the open transport.
func (c *ConnectionManager) Endpoint() (Endpoint, bool) {
	return c.endpoint, c.transport != nil
}
