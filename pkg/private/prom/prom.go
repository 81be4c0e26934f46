// Copyright 2017 ETH Zurich
// Copyright 2018 ETH Zurich, Anapaya Systems
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

// Package prom contains utility functions for creating prometheus metrics
// registered with the default registry.
package prom

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Common label names.
const (
	// LabelResult is the label for result classifications.
	LabelResult = "result"
	// LabelMPort is the label for the master port index.
	LabelMPort = "mport"
	// LabelEvent is the label for event types.
	LabelEvent = "event"
)

// Common result values.
const (
	// Success is no error.
	Success = "ok_success"
	// ErrTimeout is a timeout error.
	ErrTimeout = "err_timeout"
	// ErrAccess is a register access failure.
	ErrAccess = "err_access"
	// ErrDuplicate is used for dropped duplicates.
	ErrDuplicate = "err_duplicate"
	// ErrOverflow is used when a bounded queue is full.
	ErrOverflow = "err_overflow"
	// ErrNotFound is used when the subject of an operation is unknown.
	ErrNotFound = "err_not_found"
	// ErrNotClassified is an error that is not further classified.
	ErrNotClassified = "err_not_classified"
)

// DefaultLatencyBuckets 10ms, 20ms, 40ms, ... 5.12s, 10.24s.
var DefaultLatencyBuckets = []float64{0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64,
	1.28, 2.56, 5.12, 10.24}

// SafeRegister registers c and returns the registered collector. If c was
// already registered the already registered collector is returned. In case of
// any other error this method panics (as MustRegister).
func SafeRegister(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// NewCounterVec creates a counter vec that is registered with the default
// registry.
func NewCounterVec(namespace, subsystem, name, help string,
	labelNames []string) *prometheus.CounterVec {

	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
	return SafeRegister(c).(*prometheus.CounterVec)
}

// NewGaugeVec creates a gauge vec that is registered with the default
// registry.
func NewGaugeVec(namespace, subsystem, name, help string,
	labelNames []string) *prometheus.GaugeVec {

	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labelNames)
	return SafeRegister(g).(*prometheus.GaugeVec)
}

// NewHistogramVec creates a histogram vec that is registered with the default
// registry.
func NewHistogramVec(namespace, subsystem, name, help string,
	labelNames []string, buckets []float64) *prometheus.HistogramVec {

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	return SafeRegister(h).(*prometheus.HistogramVec)
}
