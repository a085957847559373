/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sdb

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts link activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Commands *prometheus.CounterVec
	Retries  prometheus.Counter
	Timeouts prometheus.Counter
	Bytes    prometheus.Counter
}

// NewMetrics creates the link counters and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nnf_diag",
			Subsystem: "sdb",
			Name:      "commands_total",
			Help:      "Commands sent over the serial debug bridge, by opcode.",
		}, []string{"opcode"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nnf_diag",
			Subsystem: "sdb",
			Name:      "read_retries_total",
			Help:      "Read attempts repeated after a failed attempt.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nnf_diag",
			Subsystem: "sdb",
			Name:      "read_timeouts_total",
			Help:      "Reads that failed after exhausting every attempt.",
		}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nnf_diag",
			Subsystem: "sdb",
			Name:      "reply_bytes_total",
			Help:      "Reply data bytes consumed from the link.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Commands, m.Retries, m.Timeouts, m.Bytes)
	}

	return m
}

func (m *Metrics) command(op Opcode) {
	if m != nil {
		m.Commands.WithLabelValues(op.String()).Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) timeout() {
	if m != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) bytes(n int) {
	if m != nil {
		m.Bytes.Add(float64(n))
	}
}
