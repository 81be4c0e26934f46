// Copyright 2020 Anapaya Systems
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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NewPromGauge wraps a prometheus gauge vector as a gauge.
// Returns nil, if gv is nil.
func NewPromGauge(gv *prometheus.GaugeVec) Gauge {
	if gv == nil {
		return nil
	}
	return &gauge{gv: gv}
}

// NewPromCounter wraps a prometheus counter vector as a counter.
// Returns nil if cv is nil.
func NewPromCounter(cv *prometheus.CounterVec) Counter {
	if cv == nil {
		return nil
	}
	return &counter{cv: cv}
}

// NewPromHistogram wraps a prometheus histogram vector as a histogram.
// Returns nil if hv is nil.
func NewPromHistogram(hv *prometheus.HistogramVec) Histogram {
	if hv == nil {
		return nil
	}
	return &histogram{hv: hv}
}

// The types are taken from the metrics interfaces in the go-kit/kit project
// under the prometheus package. The code was slightly adapted to no longer
// expose the types. The code has the following license
//
// The MIT License (MIT)
//
// Copyright (c) 2015 Peter Bourgon
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// labelValues is a flat list of alternating label names and values.
type labelValues []string

func (lvs labelValues) with(more ...string) labelValues {
	if len(more)%2 != 0 {
		more = append(more, "unknown")
	}
	res := make(labelValues, 0, len(lvs)+len(more))
	res = append(res, lvs...)
	return append(res, more...)
}

func (lvs labelValues) labels() prometheus.Labels {
	labels := prometheus.Labels{}
	for i := 0; i+1 < len(lvs); i += 2 {
		labels[lvs[i]] = lvs[i+1]
	}
	return labels
}

type gauge struct {
	gv  *prometheus.GaugeVec
	lvs labelValues
}

func (g *gauge) With(lvs ...string) Gauge {
	return &gauge{gv: g.gv, lvs: g.lvs.with(lvs...)}
}

func (g *gauge) Set(value float64) {
	g.gv.With(g.lvs.labels()).Set(value)
}

func (g *gauge) Add(delta float64) {
	g.gv.With(g.lvs.labels()).Add(delta)
}

type counter struct {
	cv  *prometheus.CounterVec
	lvs labelValues
}

func (c *counter) With(lvs ...string) Counter {
	return &counter{cv: c.cv, lvs: c.lvs.with(lvs...)}
}

func (c *counter) Add(delta float64) {
	c.cv.With(c.lvs.labels()).Add(delta)
}

type histogram struct {
	hv  *prometheus.HistogramVec
	lvs labelValues
}

func (h *histogram) With(lvs ...string) Histogram {
	return &histogram{hv: h.hv, lvs: h.lvs.with(lvs...)}
}

func (h *histogram) Observe(value float64) {
	h.hv.With(h.lvs.labels()).Observe(value)
}
