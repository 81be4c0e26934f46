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

// Package periodic runs tasks at a fixed interval. The reconcile sweep of the
// fabric controller is driven by a Runner.
package periodic

import (
	"context"
	"time"

	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
)

// Event types reported through Metrics.Events.
const (
	EventStop    = "stop"
	EventKill    = "kill"
	EventTrigger = "trigger"
)

// A Task that has to be periodically executed.
type Task interface {
	// Run executes the task once, it should return within the context's timeout.
	Run(context.Context)
	// Name returns the task name, used for logging.
	Name() string
}

// Metrics contains the metrics a Runner reports. All fields are optional.
type Metrics struct {
	// Events returns the counter for the given event type.
	Events func(string) metrics.Counter
	// Period is set to the period in seconds.
	Period metrics.Gauge
	// Runtime is set to the duration of the last run in seconds.
	Runtime metrics.Gauge
	// StartTime is set to the unix time of the last run start.
	StartTime metrics.Gauge
}

func (m *Metrics) event(name string) {
	if m == nil || m.Events == nil {
		return
	}
	metrics.CounterInc(m.Events(name))
}

func (m *Metrics) period() metrics.Gauge {
	if m == nil {
		return nil
	}
	return m.Period
}

func (m *Metrics) runtime() metrics.Gauge {
	if m == nil {
		return nil
	}
	return m.Runtime
}

func (m *Metrics) startTime() metrics.Gauge {
	if m == nil {
		return nil
	}
	return m.StartTime
}

// Runner runs a task periodically.
type Runner struct {
	task         Task
	ticker       *time.Ticker
	timeout      time.Duration
	stop         chan struct{}
	loopFinished chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
	trigger      chan struct{}
	metrics      *Metrics
}

// Start creates and starts a new Runner to run the given task periodically.
// The timeout is used for the context timeout of the task. The timeout can be
// larger than the period. That means if a task takes a long time it will be
// immediately retriggered.
func Start(task Task, period, timeout time.Duration) *Runner {
	return StartWithMetrics(task, nil, period, timeout)
}

// StartWithMetrics is like Start but reports to the given metrics.
func StartWithMetrics(task Task, m *Metrics, period, timeout time.Duration) *Runner {
	logger := log.New("task", task.Name())
	ctx, cancelF := context.WithCancel(log.CtxWith(context.Background(), logger))
	r := &Runner{
		task:         task,
		ticker:       time.NewTicker(period),
		timeout:      timeout,
		stop:         make(chan struct{}),
		loopFinished: make(chan struct{}),
		ctx:          ctx,
		cancelF:      cancelF,
		trigger:      make(chan struct{}),
		metrics:      m,
	}
	metrics.GaugeSet(m.period(), period.Seconds())
	logger.Info("Starting periodic task", "period", period, "timeout", timeout)
	go func() {
		defer log.HandlePanic()
		r.runLoop()
	}()
	return r
}

// Stop stops the periodic execution of the Runner.
// If the task is currently running this method will block until it is done.
func (r *Runner) Stop() {
	r.ticker.Stop()
	close(r.stop)
	<-r.loopFinished
	r.metrics.event(EventStop)
}

// Kill is like stop but it also cancels the context of the current running method.
func (r *Runner) Kill() {
	r.ticker.Stop()
	close(r.stop)
	r.cancelF()
	<-r.loopFinished
	r.metrics.event(EventKill)
}

// TriggerRun triggers the periodic task to run now. This does not impact the
// normal periodicity of the task.
//
// The method blocks until either the triggered run was started or the runner
// was stopped, in which case the triggered run will not be executed.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
		r.metrics.event(EventTrigger)
	}
}

func (r *Runner) runLoop() {
	defer close(r.loopFinished)
	defer r.cancelF()
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.C:
			r.onTick()
		case <-r.trigger:
			r.onTick()
		}
	}
}

func (r *Runner) onTick() {
	// The stop case must win if both channels are ready.
	select {
	case <-r.stop:
		return
	default:
	}
	start := time.Now()
	metrics.GaugeSet(r.metrics.startTime(), float64(start.UnixNano()/1e9))
	ctx, cancelF := context.WithTimeout(r.ctx, r.timeout)
	r.task.Run(ctx)
	cancelF()
	metrics.GaugeSet(r.metrics.runtime(), time.Since(start).Seconds())
}
