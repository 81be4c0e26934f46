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
	"sort"
	"strings"
	"sync"
)

// store keeps one value per label set. It is shared between a fake metric and
// all the children created with With.
type store struct {
	mtx    sync.Mutex
	values map[string]float64
}

func newStore() *store {
	return &store{values: make(map[string]float64)}
}

func (s *store) add(key string, delta float64, canBeNegative bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !canBeNegative && delta < 0 {
		panic("counter increment value is < 0")
	}
	s.values[key] += delta
}

func (s *store) set(key string, v float64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.values[key] = v
}

func (s *store) value(key string) float64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.values[key]
}

// key canonicalizes label pairs so that the order of With calls does not
// matter.
func key(lvs labelValues) string {
	pairs := make([]string, 0, len(lvs)/2)
	for i := 0; i+1 < len(lvs); i += 2 {
		pairs = append(pairs, lvs[i]+"="+lvs[i+1])
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// TestCounter implements a counter for use in tests.
type TestCounter struct {
	s   *store
	lvs labelValues
}

// NewTestCounter creates a new counter for use in tests.
func NewTestCounter() *TestCounter {
	return &TestCounter{s: newStore()}
}

// With returns a child counter with the additional labels.
func (c *TestCounter) With(lvs ...string) Counter {
	return &TestCounter{s: c.s, lvs: c.lvs.with(lvs...)}
}

// Add increases the value of the counter by delta. Delta must not be negative.
func (c *TestCounter) Add(delta float64) {
	c.s.add(key(c.lvs), delta, false)
}

// CounterValue extracts the value out of a TestCounter. If the argument is not
// a *TestCounter, CounterValue will panic.
func CounterValue(c Counter) float64 {
	tc := c.(*TestCounter)
	return tc.s.value(key(tc.lvs))
}

// TestGauge implements a gauge for use in tests.
type TestGauge struct {
	s   *store
	lvs labelValues
}

// NewTestGauge creates a new gauge for use in tests.
func NewTestGauge() *TestGauge {
	return &TestGauge{s: newStore()}
}

// With returns a child gauge with the additional labels.
func (g *TestGauge) With(lvs ...string) Gauge {
	return &TestGauge{s: g.s, lvs: g.lvs.with(lvs...)}
}

// Set sets the value of the gauge.
func (g *TestGauge) Set(v float64) {
	g.s.set(key(g.lvs), v)
}

// Add changes the value of the gauge by delta.
func (g *TestGauge) Add(delta float64) {
	g.s.add(key(g.lvs), delta, true)
}

// GaugeValue extracts the value out of a TestGauge. If the argument is not a
// *TestGauge, GaugeValue will panic.
func GaugeValue(g Gauge) float64 {
	tg := g.(*TestGauge)
	return tg.s.value(key(tg.lvs))
}
