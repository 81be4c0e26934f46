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

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/openrio/riofab/pkg/metrics"
)

func TestTestCounterLabels(t *testing.T) {
	c := metrics.NewTestCounter()
	a := c.With("result", "ok", "mport", "0")
	b := c.With("mport", "0").With("result", "ok")
	metrics.CounterInc(a)
	metrics.CounterAdd(b, 2)
	metrics.CounterInc(c.With("result", "err"))

	assert.Equal(t, float64(3), metrics.CounterValue(a))
	assert.Equal(t, float64(1), metrics.CounterValue(c.With("result", "err")))
	assert.Equal(t, float64(0), metrics.CounterValue(c))
	assert.Panics(t, func() { c.Add(-1) })
}

func TestTestGauge(t *testing.T) {
	g := metrics.NewTestGauge()
	metrics.GaugeSet(g, 4)
	metrics.GaugeAdd(g, -1)
	assert.Equal(t, float64(3), metrics.GaugeValue(g))
}

func TestNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.CounterInc(nil)
		metrics.GaugeSet(nil, 1)
		metrics.HistogramObserve(nil, 1)
		assert.Nil(t, metrics.CounterWith(nil, "a", "b"))
	})
}

func TestPromCounter(t *testing.T) {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_total"},
		[]string{"result"})
	c := metrics.NewPromCounter(cv)
	c.With("result", "ok").Add(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(cv.WithLabelValues("ok")))
	assert.Nil(t, metrics.NewPromCounter(nil))
}
