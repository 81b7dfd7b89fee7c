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
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"
)

// PollMetrics provides metrics collection for the Modbus TCP poller
type PollMetrics struct {
	PollsSucceeded   *service.MetricCounter
	PollsFailed      *service.MetricCounter
	PollsEmpty       *service.MetricCounter
	PointsRead       *service.MetricCounter
	Connects         *service.MetricCounter
	ConnectionErrors *service.MetricCounter
	Reconfigurations *service.MetricCounter
	PollDuration     *service.MetricTimer
}

// NewPollMetrics creates the metrics collection. A nil registry yields a
// collection whose methods do nothing.
func NewPollMetrics(metrics *service.Metrics) *PollMetrics {
	if metrics == nil {
		return &PollMetrics{}
	}
	return &PollMetrics{
		PollsSucceeded:   metrics.NewCounter("modbus_polls_succeeded"),
		PollsFailed:      metrics.NewCounter("modbus_polls_failed"),
		PollsEmpty:       metrics.NewCounter("modbus_polls_empty"),
		PointsRead:       metrics.NewCounter("modbus_points_read"),
		Connects:         metrics.NewCounter("modbus_connects"),
		ConnectionErrors: metrics.NewCounter("modbus_connection_errors"),
		Reconfigurations: metrics.NewCounter("modbus_reconfigurations", "reconnect"),
		PollDuration:     metrics.NewTimer("modbus_poll_duration"),
	}
}

// ObservePoll records the outcome of one poll cycle.
func (m *PollMetrics) ObservePoll(r *Reading, err error, took time.Duration) {
	if m.PollDuration != nil {
		m.PollDuration.Timing(took.Nanoseconds())
	}
	switch {
	case err != nil:
		if m.PollsFailed != nil {
			m.PollsFailed.Incr(1)
		}
	case r == nil:
		if m.PollsEmpty != nil {
			m.PollsEmpty.Incr(1)
		}
	default:
		if m.PollsSucceeded != nil {
			m.PollsSucceeded.Incr(1)
		}
		if m.PointsRead != nil {
			m.PointsRead.Incr(int64(len(r.Readings)))
		}
	}
}

// IncrementConnects increments the successful connects counter
func (m *PollMetrics) IncrementConnects() {
	if m.Connects != nil {
		m.Connects.Incr(1)
	}
}

// IncrementConnectionErrors increments the failed connects counter
func (m *PollMetrics) IncrementConnectionErrors() {
	if m.ConnectionErrors != nil {
		m.ConnectionErrors.Incr(1)
	}
}

// IncrementReconfigurations counts an applied reconfiguration, labelled by
// whether it dropped the connection.
func (m *PollMetrics) IncrementReconfigurations(reconnect bool) {
	if m.Reconfigurations == nil {
		return
	}
	label := "false"
	if reconnect {
		label = "true"
	}
	m.Reconfigurations.Incr(1, label)
}
