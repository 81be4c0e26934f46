// Copyright 2026 The riofab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the prometheus metrics of the fabric manager.
package metrics

import (
	"errors"
	"strconv"

	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/prom"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
	"github.com/openrio/riofab/private/periodic"
)

// Namespace is the prometheus namespace of all fabric metrics.
const Namespace = "riofab"

// Metrics are the fabric metrics. Counters and gauges are labelled with
// the master port; counters additionally with the result.
type Metrics struct {
	Walks           metrics.Counter
	LockAcquired    metrics.Counter
	LockTimeouts    metrics.Counter
	LockFaults      metrics.Counter
	RouteWrites     metrics.Counter
	ReconcileFaults metrics.Counter
	PortWrites      metrics.Counter
	Jobs            metrics.Counter
	Devices         metrics.Gauge
	Periodic        PeriodicMetrics
}

// PeriodicMetrics are the metrics of periodic tasks, labelled by task name.
type PeriodicMetrics struct {
	Events    metrics.Counter
	Period    metrics.Gauge
	Runtime   metrics.Gauge
	StartTime metrics.Gauge
}

// New creates the metrics registered with the default prometheus registry.
func New() *Metrics {
	mport := []string{prom.LabelMPort}
	result := []string{prom.LabelMPort, prom.LabelResult}
	return &Metrics{
		Walks: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "walk", "runs_total",
			"Number of topology walks.", result)),
		LockAcquired: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "lock",
			"acquired_total", "Number of acquired device locks.", mport)),
		LockTimeouts: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "lock",
			"timeouts_total", "Number of device lock timeouts.", mport)),
		LockFaults: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "lock",
			"faults_total", "Number of device lock faults.", mport)),
		RouteWrites: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "route",
			"writes_total", "Number of routing table writes.", result)),
		ReconcileFaults: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "route",
			"reconcile_faults_total", "Number of switches failing reconciliation.", mport)),
		PortWrites: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "hotplug",
			"port_writes_total", "Number of received port-writes.", result)),
		Jobs: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "hotplug", "jobs_total",
			"Number of dispatched jobs.", []string{prom.LabelMPort, prom.LabelEvent,
				prom.LabelResult})),
		Devices: metrics.NewPromGauge(prom.NewGaugeVec(Namespace, "registry", "devices",
			"Number of registered devices.", mport)),
		Periodic: PeriodicMetrics{
			Events: metrics.NewPromCounter(prom.NewCounterVec(Namespace, "periodic",
				"events_total", "Number of periodic task events.",
				[]string{"task", prom.LabelEvent})),
			Period: metrics.NewPromGauge(prom.NewGaugeVec(Namespace, "periodic",
				"period_seconds", "Period of the task.", []string{"task"})),
			Runtime: metrics.NewPromGauge(prom.NewGaugeVec(Namespace, "periodic",
				"runtime_seconds", "Duration of the last run.", []string{"task"})),
			StartTime: metrics.NewPromGauge(prom.NewGaugeVec(Namespace, "periodic",
				"start_time_seconds", "Start of the last run.", []string{"task"})),
		},
	}
}

// ForMPort returns the metrics labelled with the master port index. It is
// nil-safe.
func (m *Metrics) ForMPort(index int) *Metrics {
	if m == nil {
		return &Metrics{}
	}
	idx := strconv.Itoa(index)
	with := func(c metrics.Counter) metrics.Counter {
		return metrics.CounterWith(c, prom.LabelMPort, idx)
	}
	var devices metrics.Gauge
	if m.Devices != nil {
		devices = m.Devices.With(prom.LabelMPort, idx)
	}
	return &Metrics{
		Walks:           with(m.Walks),
		LockAcquired:    with(m.LockAcquired),
		LockTimeouts:    with(m.LockTimeouts),
		LockFaults:      with(m.LockFaults),
		RouteWrites:     with(m.RouteWrites),
		ReconcileFaults: with(m.ReconcileFaults),
		PortWrites:      with(m.PortWrites),
		Jobs:            with(m.Jobs),
		Devices:         devices,
		Periodic:        m.Periodic,
	}
}

// Task returns the periodic runner metrics of the named task.
func (m PeriodicMetrics) Task(name string) *periodic.Metrics {
	pm := &periodic.Metrics{
		Events: func(event string) metrics.Counter {
			return metrics.CounterWith(m.Events, "task", name, prom.LabelEvent, event)
		},
	}
	if m.Period != nil {
		pm.Period = m.Period.With("task", name)
	}
	if m.Runtime != nil {
		pm.Runtime = m.Runtime.With("task", name)
	}
	if m.StartTime != nil {
		pm.StartTime = m.StartTime.With("task", name)
	}
	return pm
}

// Result classifies err into a result label value.
func Result(err error) string {
	switch {
	case err == nil:
		return prom.Success
	case errors.Is(err, lock.ErrTimeout), serrors.IsTimeout(err):
		return prom.ErrTimeout
	case errors.Is(err, rio.ErrAccess):
		return prom.ErrAccess
	default:
		return prom.ErrNotClassified
	}
}
