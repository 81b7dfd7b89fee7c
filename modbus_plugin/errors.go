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
	"errors"
	"fmt"
)

var (
	// ErrEndpointMismatch is returned by EnsureConnected when a handle is open
	// for different coordinates. The manager never migrates a connection on its own.
	ErrEndpointMismatch = errors.New("connection is bound to a different endpoint")

	// ErrPluginShutdown is returned by every Plugin hook after Shutdown.
	ErrPluginShutdown = errors.New("plugin has been shut down")
)

// MalformedMapError reports a register map that failed structural validation.
type MalformedMapError struct {
	Group  string // empty when the problem is not tied to one group
	Point  string
	Reason string
	Err    error
}

func (e *MalformedMapError) Error() string {
	msg := "malformed register map"
	if e.Group != "" {
		msg += fmt.Sprintf(" (group %q", e.Group)
		if e.Point != "" {
			msg += fmt.Sprintf(", point %q", e.Point)
		}
		msg += ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedMapError) Unwrap() error { return e.Err }

// ConnectionError reports that no transport could be opened for an endpoint,
// either because the coordinates are invalid or because the dial failed.
type ConnectionError struct {
	Address string
	Port    string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to Modbus device at %s:%s: %v", e.Address, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DataRetrievalError wraps a failed single-point read.
type DataRetrievalError struct {
	Group   Group
	Point   string
	Address uint16
	Err     error
}

func (e *DataRetrievalError) Error() string {
	return fmt.Sprintf("failed to read %s %q at address %d: %v", e.Group, e.Point, e.Address, e.Err)
}

func (e *DataRetrievalError) Unwrap() error { return e.Err }

// ShutdownError reports a failure while closing the transport. The handle is
// considered released regardless.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("failed to close Modbus connection: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }
