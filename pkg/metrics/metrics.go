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

// Package metrics provides label-aware metric interfaces backed by
// Prometheus, plus fakes for tests. All helper functions accept nil metrics,
// so components can be built without instrumentation.
package metrics

// Counter describes a metric that accumulates values monotonically.
type Counter interface {
	With(labelValues ...string) Counter
	Add(delta float64)
}

// Gauge describes a metric that takes specific values over time.
type Gauge interface {
	With(labelValues ...string) Gauge
	Set(value float64)
	Add(delta float64)
}

// Histogram describes a metric that takes repeated observations of the same
// kind of thing, and produces a statistical summary of those observations.
type Histogram interface {
	With(labelValues ...string) Histogram
	Observe(value float64)
}

// CounterInc increases the passed in counter by 1, if it is not nil.
func CounterInc(c Counter) {
	CounterAdd(c, 1)
}

// CounterAdd increases the passed in counter by the amount specified, if it is
// not nil.
func CounterAdd(c Counter, v float64) {
	if c != nil {
		c.Add(v)
	}
}

// CounterWith returns c.With(labels...) or nil if c is nil.
func CounterWith(c Counter, labelValues ...string) Counter {
	if c == nil {
		return nil
	}
	return c.With(labelValues...)
}

// GaugeSet sets the passed in gauge to the value specified, if it is not nil.
func GaugeSet(g Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// GaugeAdd increases the passed in gauge by the amount specified, if it is
// not nil.
func GaugeAdd(g Gauge, v float64) {
	if g != nil {
		g.Add(v)
	}
}

// HistogramObserve adds an observation to the histogram, if it is not nil.
func HistogramObserve(h Histogram, v float64) {
	if h != nil {
		h.Observe(v)
	}
}
