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
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Configuration keys.
const (
	KeyAssetName = "assetName"
	KeyAddress   = "address"
	KeyPort      = "port"
	KeyMap       = "map"
	KeySlaveID   = "slaveID"
	KeyTimeout   = "timeout"
)

const (
	defaultAssetName = "Modbus TCP Source"
	defaultAddress   = "127.0.0.1"
	defaultPort      = "502"
	defaultSlaveID   = 1
	defaultTimeout   = 5 * time.Second
	defaultMap       = `{"coils": {}, "inputs": {}, "registers": {"Register Value": 0}, "inputRegisters": {}}`
)

// Config is an immutable snapshot of the plugin configuration.
//
// Address and Port are kept as configured; they are validated when the
// connection is opened so that a bad endpoint surfaces as a ConnectionError
// on poll rather than failing init.
type Config struct {
	AssetName string        `validate:"required"`
	Address   string
	Port      string
	Map       *RegisterMap  `validate:"required"`
	SlaveID   byte
	Timeout   time.Duration `validate:"min=0"`
}

// DefaultConfig returns the configuration used when no value is supplied.
func DefaultConfig() Config {
	m, err := ParseRegisterMap(defaultMap)
	if err != nil {
		panic(err)
	}
	return Config{
		AssetName: defaultAssetName,
		Address:   defaultAddress,
		Port:      defaultPort,
		Map:       m,
		SlaveID:   defaultSlaveID,
		Timeout:   defaultTimeout,
	}
}

// Validate checks the fields that must be correct at init time.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				details = append(details, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(details, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TransportOptions returns the connection parameters derived from the config.
func (c Config) TransportOptions() TransportOptions {
	return TransportOptions{SlaveID: c.SlaveID, Timeout: c.Timeout}
}

// ParseConfig decodes a JSON configuration. Both a flat object
// ({"address": "10.0.0.1", ...}) and a configuration category whose entries
// carry their value under "value" are accepted. Missing keys take their default.
func ParseConfig(raw []byte) (Config, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Config{}, fmt.Errorf("configuration must be a JSON object: %w", err)
	}

	cfg := DefaultConfig()
	for key, value := range entries {
		value = unwrapCategoryValue(value)
		switch key {
		case KeyAssetName:
			if err := json.Unmarshal(value, &cfg.AssetName); err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
		case KeyAddress:
			if err := json.Unmarshal(value, &cfg.Address); err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
		case KeyPort:
			port, err := scalarString(value)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			cfg.Port = port
		case KeyMap:
			// Configuration categories store the map as JSON text.
			var text string
			var mapRaw any = []byte(value)
			if json.Unmarshal(value, &text) == nil {
				mapRaw = text
			}
			m, err := ParseRegisterMap(mapRaw)
			if err != nil {
				return Config{}, err
			}
			cfg.Map = m
		case KeySlaveID:
			s, err := scalarString(value)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			id, err := strconv.ParseUint(s, 10, 8)
			if err != nil {
				return Config{}, fmt.Errorf("%s: must be between 0 and 255: %w", key, err)
			}
			cfg.SlaveID = byte(id)
		case KeyTimeout:
			s, err := scalarString(value)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			cfg.Timeout = d
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unwrapCategoryValue(value json.RawMessage) json.RawMessage {
	var item struct {
		Value json.RawMessage `json:"value"`
	}
	if json.Unmarshal(value, &item) == nil && len(item.Value) > 0 {
		return item.Value
	}
	return value
}

// scalarString renders a JSON string or number as a string.
func scalarString(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return "", errors.New("expected a string or a number")
	}
	return n.String(), nil
}
