// Copyright 2024 UMH Systems GmbH
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
	"strconv"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"
	"golang.org/x/time/rate"
)

// ModbusInput is the Benthos input wrapping a Plugin. Benthos acts as the
// host: Connect opens the session, ReadBatch runs one poll cycle paced by
// PollInterval, Close shuts the plugin down.
type ModbusInput struct {
	PollInterval time.Duration

	plugin  *Plugin
	limiter *rate.Limiter
}

// ModbusConfigSpec defines the configuration options available for the ModbusInput plugin.
// It outlines the required information to establish a connection with the Modbus device and the data to be read.
var ModbusConfigSpec = service.NewConfigSpec().
	Summary("Creates an input that polls coils and registers from a Modbus TCP device. Created & maintained by the United Manufacturing Hub. About us: www.umh.app").
	Description("This input keeps one Modbus TCP connection per device, reads every point of the register map once per poll " +
		"and emits a single reading document {asset, timestamp, key, readings}. A failed read aborts the whole poll; " +
		"no partial readings are emitted.").
	Field(service.NewStringField("assetName").
		Description("Asset or stream identifier attached to every reading.").
		Default(defaultAssetName)).
	Field(service.NewStringField("address").
		Description("IPv4 address or hostname of the Modbus TCP server.").
		Default(defaultAddress).
		Examples("127.0.0.1", "plc.local")).
	Field(service.NewIntField("port").
		Description("TCP port of the Modbus TCP server.").
		Default(502)).
	Field(service.NewIntField("slaveID").
		Description("Unit identifier sent with every request.").
		Default(defaultSlaveID).
		Advanced()).
	Field(service.NewDurationField("timeout").
		Description("Timeout for connecting and for every single read.").
		Default(defaultTimeout.String()).
		Advanced()).
	Field(service.NewDurationField("pollInterval").
		Description("Minimum time between two polls.").
		Default("1s")).
	Field(service.NewAnyField("map").
		Description("Register map: an object with the groups 'coils', 'inputs' (or 'discreteInputs'), "+
			"'registers' (or 'holdingRegisters') and 'inputRegisters', each mapping a point name to its zero-based address. "+
			"JSON text is accepted as well.").
		Optional().
		Example(map[string]any{
			"coils":          map[string]any{},
			"inputs":         map[string]any{},
			"registers":      map[string]any{"temperature": 7, "humidity": 8},
			"inputRegisters": map[string]any{},
		}))

// ParseModbusConfig converts a parsed Benthos config into a Config and the poll interval.
func ParseModbusConfig(conf *service.ParsedConfig) (Config, time.Duration, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.AssetName, err = conf.FieldString("assetName"); err != nil {
		return Config{}, 0, err
	}
	if cfg.Address, err = conf.FieldString("address"); err != nil {
		return Config{}, 0, err
	}
	port, err := conf.FieldInt("port")
	if err != nil {
		return Config{}, 0, err
	}
	cfg.Port = strconv.Itoa(port)

	slaveID, err := conf.FieldInt("slaveID")
	if err != nil {
		return Config{}, 0, err
	}
	if slaveID < 0 || slaveID > 255 {
		return Config{}, 0, fmt.Errorf("slaveID %d out of range 0-255", slaveID)
	}
	cfg.SlaveID = byte(slaveID)

	if cfg.Timeout, err = conf.FieldDuration("timeout"); err != nil {
		return Config{}, 0, err
	}
	pollInterval, err := conf.FieldDuration("pollInterval")
	if err != nil {
		return Config{}, 0, err
	}

	if conf.Contains("map") {
		raw, err := conf.FieldAny("map")
		if err != nil {
			return Config{}, 0, err
		}
		if cfg.Map, err = ParseRegisterMap(raw); err != nil {
			return Config{}, 0, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, 0, err
	}
	return cfg, pollInterval, nil
}

// NewModbusInput builds the input from a parsed config. It performs no network I/O.
func NewModbusInput(conf *service.ParsedConfig, mgr *service.Resources, opts ...Option) (*ModbusInput, error) {
	cfg, pollInterval, err := ParseModbusConfig(conf)
	if err != nil {
		return nil, err
	}

	plugin, err := Init(cfg, mgr, opts...)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if pollInterval > 0 {
		limit = rate.Every(pollInterval)
	}

	return &ModbusInput{
		PollInterval: pollInterval,
		plugin:       plugin,
		limiter:      rate.NewLimiter(limit, 1),
	}, nil
}

// Plugin exposes the runtime handle, e.g. to reconfigure a running input.
func (m *ModbusInput) Plugin() *Plugin {
	return m.plugin
}

func (m *ModbusInput) Connect(ctx context.Context) error {
	return m.plugin.Connect(ctx)
}

func (m *ModbusInput) ReadBatch(ctx context.Context) (service.MessageBatch, service.AckFunc, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	reading, err := m.plugin.Poll(ctx)
	if err != nil {
		var connErr *ConnectionError
		switch {
		case errors.Is(err, ErrPluginShutdown):
			return nil, nil, service.ErrEndOfInput
		case errors.As(err, &connErr):
			// Benthos calls Connect again, which dials a fresh session.
			return nil, nil, service.ErrNotConnected
		}
		return nil, nil, err
	}

	msgs := make(service.MessageBatch, 0, 1)
	if reading != nil {
		msg := service.NewMessage(nil)
		msg.SetStructured(reading.Document())
		msg.MetaSet("modbus_asset", reading.Asset)
		msg.MetaSet("modbus_key", reading.Key)
		msg.MetaSet("modbus_timestamp", reading.Timestamp.Format(TimestampLayout))
		msg.MetaSet("modbus_timestamp_ms", strconv.FormatInt(reading.Timestamp.UnixMilli(), 10))
		msgs = append(msgs, msg)
	}

	return msgs, func(ctx context.Context, err error) error {
		// Nacks are retried automatically when we use service.AutoRetryNacks
		return nil
	}, nil
}

func (m *ModbusInput) Close(ctx context.Context) error {
	return m.plugin.Shutdown(ctx)
}

func init() {
	err := service.RegisterBatchInput(
		"modbus_tcp", ModbusConfigSpec,
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.BatchInput, error) {
			input, err := NewModbusInput(conf, mgr)
			if err != nil {
				return nil, err
			}
			return service.AutoRetryNacksBatched(input), nil
		})
	if err != nil {
		panic(err)
	}
}
