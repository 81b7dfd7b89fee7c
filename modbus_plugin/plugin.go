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
	"sync"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"
)

// PluginInfo describes the plugin to its host.
type PluginInfo struct {
	Name      string
	Version   string
	Mode      string
	Type      string
	Interface string
	Config    Config
}

// Info returns the static plugin description together with the default configuration.
func Info() PluginInfo {
	return PluginInfo{
		Name:      "Modbus TCP",
		Version:   "1.5.0",
		Mode:      "poll",
		Type:      "south",
		Interface: "1.0",
		Config:    DefaultConfig(),
	}
}

// Option customises a Plugin.
type Option func(*Plugin)

// WithDialer replaces the transport factory, DialTCP by default.
func WithDialer(dial Dialer) Option {
	return func(p *Plugin) { p.dial = dial }
}

// WithPollCycle replaces the poll cycle, mainly to pin clock and keys in tests.
func WithPollCycle(cycle *PollCycle) Option {
	return func(p *Plugin) { p.cycle = cycle }
}

// Plugin is the runtime handle of one device instance. One mutex serialises
// polls, reconfigurations and shutdown so that a poll never reads through a
// transport that is being closed.
type Plugin struct {
	mu      sync.Mutex
	cfg     Config
	conn    *ConnectionManager
	cycle   *PollCycle
	dial    Dialer
	closed  bool
	log     *service.Logger
	metrics *PollMetrics
}

// Init validates cfg and returns a disconnected Plugin. No network I/O is performed.
func Init(cfg Config, res *service.Resources, opts ...Option) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Plugin{cfg: cfg, cycle: &PollCycle{}}
	if res != nil {
		p.log = res.Logger()
		p.metrics = NewPollMetrics(res.Metrics())
	} else {
		p.metrics = NewPollMetrics(nil)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.conn = NewConnectionManager(p.dial, cfg.TransportOptions(), p.log)

	if p.log != nil {
		p.log.Infof("Initialised Modbus TCP poller for asset %q at %s:%s with %d points",
			cfg.AssetName, cfg.Address, cfg.Port, cfg.Map.Len())
	}
	return p, nil
}

// Config returns the configuration currently in effect.
func (p *Plugin) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Connected reports whether the plugin holds an open transport.
func (p *Plugin) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Connected()
}

// Connect opens the transport ahead of the first poll.
func (p *Plugin) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPluginShutdown
	}
	_, err := p.ensureConnected(ctx)
	return err
}

// Poll runs one poll cycle. A nil Reading with a nil error means the
// register map is empty.
func (p *Plugin) Poll(ctx context.Context) (*Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPluginShutdown
	}

	start := time.Now()
	t, err := p.ensureConnected(ctx)
	if err != nil {
		p.metrics.ObservePoll(nil, err, time.Since(start))
		return nil, err
	}

	reading, err := p.cycle.Run(ctx, p.cfg.Map, t, p.cfg.AssetName)
	p.metrics.ObservePoll(reading, err, time.Since(start))
	if err != nil {
		// A failed read does not mean the session is broken; the next
		// poll reuses it.
		if p.log != nil {
			p.log.Warnf("Poll cycle for asset %q failed: %v", p.cfg.AssetName, err)
		}
		return nil, err
	}
	if reading == nil && p.log != nil {
		p.log.Debugf("Register map for asset %q is empty, no reading produced", p.cfg.AssetName)
	}
	return reading, nil
}

func (p *Plugin) ensureConnected(ctx context.Context) (Transport, error) {
	wasConnected := p.conn.Connected()
	t, err := p.conn.EnsureConnected(ctx, p.cfg.Address, p.cfg.Port)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			p.metrics.IncrementConnectionErrors()
		}
		return nil, err
	}
	if !wasConnected {
		p.metrics.IncrementConnects()
	}
	return t, nil
}

// Reconfigure swaps in cfg. When a connection key changed the current
// transport is closed and the next poll reconnects lazily; otherwise the
// transport is kept and only the snapshot is replaced. cfg takes effect even
// when closing the old transport fails, in which case the *ShutdownError is
// returned alongside the result.
func (p *Plugin) Reconfigure(_ context.Context, cfg Config) (Reconfiguration, error) {
	if err := cfg.Validate(); err != nil {
		return Reconfiguration{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Reconfiguration{}, ErrPluginShutdown
	}

	result := ApplyReconfiguration(p.cfg, cfg)
	if len(result.Changed) == 0 {
		return result, nil
	}

	var closeErr error
	if result.RequiresReconnect {
		closeErr = p.conn.Close()
		p.conn = NewConnectionManager(p.dial, result.Config.TransportOptions(), p.log)
	}
	p.cfg = result.Config
	p.metrics.IncrementReconfigurations(result.RequiresReconnect)

	if p.log != nil {
		p.log.Infof("Reconfigured Modbus TCP poller for asset %q, changed keys %s, reconnect required: %t",
			p.cfg.AssetName, result.Changed, result.RequiresReconnect)
	}
	return result, closeErr
}

// Shutdown closes the transport. It is idempotent and always leaves the
// plugin disconnected; a close failure is logged and returned.
func (p *Plugin) Shutdown(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.conn.Close(); err != nil {
		if p.log != nil {
			p.log.Errorf("Shutdown of Modbus TCP poller for asset %q: %v", p.cfg.AssetName, err)
		}
		return err
	}
	return nil
}
