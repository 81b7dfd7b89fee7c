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
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/grid-x/modbus"
)

// Transport is an open Modbus TCP session able to read each entity kind.
type Transport interface {
	ReadCoils(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	Close() error
}

// TransportOptions are the connection parameters baked into a transport when it is opened.
type TransportOptions struct {
	SlaveID byte
	Timeout time.Duration
}

// Dialer opens a transport to an endpoint. It must not return a non-nil
// Transport together with an error.
type Dialer func(ctx context.Context, endpoint Endpoint, opts TransportOptions) (Transport, error)

// Endpoint is a validated host:port pair.
type Endpoint struct {
	Host string `validate:"required,hostname_rfc1123|ip"`
	Port int    `validate:"min=1,max=65535"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseEndpoint validates the configured address and port.
func ParseEndpoint(address, port string) (Endpoint, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return Endpoint{}, fmt.Errorf("port %q is not numeric", port)
	}

	e := Endpoint{Host: strings.TrimSpace(address), Port: p}
	if err := validate.Struct(e); err != nil {
		var details []string
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				details = append(details, fmt.Sprintf("%s failed on %q", strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			details = append(details, err.Error())
		}
		return Endpoint{}, fmt.Errorf("invalid endpoint %s:%s: %s", address, port, strings.Join(details, ", "))
	}
	return e, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// gridxTransport is the production Transport backed by github.com/grid-x/modbus.
type gridxTransport struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// DialTCP opens a Modbus TCP session. The unit identifier is always the
// configured slave ID. ctx is only checked before dialing; opts.Timeout
// bounds the dial itself.
func DialTCP(ctx context.Context, endpoint Endpoint, opts TransportOptions) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handler := modbus.NewTCPClientHandler(endpoint.String())
	handler.SlaveID = opts.SlaveID
	if opts.Timeout > 0 {
		handler.Timeout = opts.Timeout
	}

	if err := handler.Connect(); err != nil {
		_ = handler.Close()
		return nil, err
	}

	return &gridxTransport{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

func (t *gridxTransport) ReadCoils(_ context.Context, address, quantity uint16) ([]byte, error) {
	return t.client.ReadCoils(address, quantity)
}

func (t *gridxTransport) ReadDiscreteInputs(_ context.Context, address, quantity uint16) ([]byte, error) {
	return t.client.ReadDiscreteInputs(address, quantity)
}

func (t *gridxTransport) ReadHoldingRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	return t.client.ReadHoldingRegisters(address, quantity)
}

func (t *gridxTransport) ReadInputRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	return t.client.ReadInputRegisters(address, quantity)
}

func (t *gridxTransport) Close() error {
	return t.handler.Close()
}
