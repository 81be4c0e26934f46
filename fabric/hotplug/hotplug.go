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

// Package hotplug dispatches the jobs that change the set of devices known
// in a network: the initial bring-up of a master port, the insertion of the
// subtree behind a port that came up and the removal of the subtree behind a
// port that went down. Jobs are triggered at start-up and by port-writes
// received from the switches.
//
// Jobs against the same master port are serialized. Jobs against different
// master ports run concurrently.
package hotplug

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	fabricmetrics "github.com/openrio/riofab/fabric/internal/metrics"
	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/network"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/fabric/route"
	"github.com/openrio/riofab/fabric/walk"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/prom"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// Defaults used for unset Config fields.
const (
	DefaultDedupeWindow = time.Second
	DefaultQueueSize    = 64
	DefaultAckIDTimeout = 10 * time.Millisecond
)

var (
	// ErrNoAnchor is returned by remove jobs without a device.
	ErrNoAnchor = errors.New("job without anchor")
	// ErrUnknownSource is returned for port-writes from an unknown device.
	ErrUnknownSource = errors.New("port-write from unknown device")
)

// Event is the kind of a job.
type Event int

const (
	// EventInsert adds the devices behind the anchor port.
	EventInsert Event = iota
	// EventRemove removes the anchor device and everything behind it.
	EventRemove
)

func (e Event) String() string {
	switch e {
	case EventInsert:
		return "insert"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Flags modify the behavior of a job.
type Flags uint8

const (
	// HWAccessible is set if the anchor of a remove job can still be
	// accessed.
	HWAccessible Flags = 1 << iota
	// KeepRoutes leaves the routing tables untouched when devices are
	// removed.
	KeepRoutes
)

// Job is a unit of work against one network.
type Job struct {
	Net   *Net
	Event Event
	// Anchor is the device the job starts at. An insert job without anchor
	// brings up the master port.
	Anchor *registry.Device
	// Port is the anchor port of insert jobs.
	Port  rio.Port
	Flags Flags
}

// Metrics are the per master port metrics of the handler.
type Metrics struct {
	// Jobs is labelled with the event and the result.
	Jobs metrics.Counter
	// PortWrites is labelled with the result.
	PortWrites metrics.Counter
	Devices    metrics.Gauge
}

// Net is the state of the network behind one master port.
type Net struct {
	MPort    *rio.MPort
	Registry *registry.Registry
	Routes   *route.Manager
	Locks    *lock.Manager
	Walker   *walk.Walker
	Metrics  Metrics
}

// Host returns the record of the master port, if it was brought up.
func (n *Net) Host() (*registry.Device, bool) {
	devs, _ := n.Registry.Snapshot()
	for _, d := range devs {
		if d.IsHost() {
			return d, true
		}
	}
	return nil, false
}

// Config configures a Handler.
type Config struct {
	// Model is notified of added and removed devices. Defaults to
	// LogDeviceModel.
	Model DeviceModel
	// Networks releases the network identifier of networks that become
	// empty. It may be nil.
	Networks     *network.Allocator
	DedupeWindow time.Duration
	QueueSize    int
	AckIDTimeout time.Duration
}

// Handler dispatches jobs and handles port-writes.
type Handler struct {
	model        DeviceModel
	networks     *network.Allocator
	ackIDTimeout time.Duration
	queue        chan queued

	// mu protects the last reported port status and the callbacks.
	mu        sync.Mutex
	dedupe    *cache.Cache
	callbacks map[*registry.Device]func(rio.PortWrite)
}

// New creates a handler.
func New(cfg Config) *Handler {
	if cfg.Model == nil {
		cfg.Model = LogDeviceModel{}
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.AckIDTimeout <= 0 {
		cfg.AckIDTimeout = DefaultAckIDTimeout
	}
	return &Handler{
		model:        cfg.Model,
		networks:     cfg.Networks,
		ackIDTimeout: cfg.AckIDTimeout,
		dedupe:       cache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow),
		queue:        make(chan queued, cfg.QueueSize),
		callbacks:    make(map[*registry.Device]func(rio.PortWrite)),
	}
}

// jobLocks serializes jobs per master port across all handlers of the
// process.
var jobLocks = struct {
	sync.Mutex
	m map[int]*sync.Mutex
}{m: make(map[int]*sync.Mutex)}

func jobLock(mport int) *sync.Mutex {
	jobLocks.Lock()
	defer jobLocks.Unlock()
	mu, ok := jobLocks.m[mport]
	if !ok {
		mu = &sync.Mutex{}
		jobLocks.m[mport] = mu
	}
	return mu
}

// Dispatch runs job. It blocks until all jobs against the same master port
// that were dispatched before are done.
func (h *Handler) Dispatch(ctx context.Context, job Job) error {
	n := job.Net
	mu := jobLock(n.MPort.Index)
	mu.Lock()
	defer mu.Unlock()

	ctx, logger := log.WithLabels(ctx, "mport", n.MPort.Index, "event", job.Event)
	var err error
	switch job.Event {
	case EventInsert:
		err = h.insert(ctx, job)
	case EventRemove:
		err = h.remove(ctx, job)
	default:
		err = serrors.New("unknown event", "event", job.Event)
	}
	metrics.CounterInc(metrics.CounterWith(n.Metrics.Jobs, prom.LabelEvent,
		job.Event.String(), prom.LabelResult, fabricmetrics.Result(err)))
	metrics.GaugeSet(n.Metrics.Devices, float64(n.Registry.Len()))
	if err != nil {
		logger.Error("Job failed", "anchor", job.Anchor, "port", job.Port, "err", err)
	}
	return err
}

// Reconcile verifies the routes of the network of n. It is serialized with
// the jobs against the master port.
func (h *Handler) Reconcile(ctx context.Context, n *Net) error {
	mu := jobLock(n.MPort.Index)
	mu.Lock()
	defer mu.Unlock()
	return n.Routes.Reconcile(ctx)
}

// insert walks the fabric, verifies the routes, releases the device locks
// and makes the new devices visible.
func (h *Handler) insert(ctx context.Context, job Job) error {
	n := job.Net
	var res walk.Result
	var err error
	switch {
	case job.Anchor != nil:
		err = n.Walker.Explore(ctx, job.Anchor, job.Port, &res)
	case n.MPort.Enumerator:
		err = n.Walker.Enumerate(ctx, &res)
	default:
		err = n.Walker.Discover(ctx, &res)
	}
	if res.Enumerated && err == nil {
		if rerr := n.Routes.Reconcile(ctx); rerr != nil {
			log.FromCtx(ctx).Error("Route reconciliation failed", "err", rerr)
		}
	}
	n.Walker.Release(ctx, &res)
	h.promote(ctx, n, res.Added)
	return err
}

func (h *Handler) promote(ctx context.Context, n *Net, devs []*registry.Device) {
	for _, d := range devs {
		if !n.Registry.HasTag(d.DestID, registry.TagNotAdded) {
			continue
		}
		if err := h.model.Register(ctx, n.MPort.Index, d); err != nil {
			log.FromCtx(ctx).Error("Device registration failed", "destid", d.DestID,
				"err", err)
			n.Registry.SetTag(d.DestID, registry.TagDisabled)
		}
		n.Registry.Promote(d)
	}
}

func (h *Handler) remove(ctx context.Context, job Job) error {
	if job.Anchor == nil {
		return ErrNoAnchor
	}
	if _, ok := job.Net.Registry.Lookup(job.Anchor.DestID); !ok {
		return serrors.JoinNoStack(registry.ErrNotFound, nil, "destid", job.Anchor.DestID)
	}
	return h.removeTree(ctx, job.Net, job.Anchor, job.Flags)
}

// removeTree removes the devices behind dev depth-first and then dev.
// Descendants are never accessible if dev is not.
func (h *Handler) removeTree(ctx context.Context, n *Net, dev *registry.Device,
	flags Flags) error {

	logger := log.FromCtx(ctx)
	table := n.Registry.Table()
	var errs serrors.List
	for _, e := range table.Snapshot() {
		if e.Key.ParentDestID != dev.DestID || e.Key.Hop != dev.ChildHop() {
			continue
		}
		if e.Flags&(destid.Redundant|destid.Blocked) != 0 {
			if err := table.Release(e.Key); err != nil {
				logger.Error("Failed to release redundant edge", "edge", e.Key, "err", err)
			}
			continue
		}
		child, ok := n.Registry.Lookup(e.DestID)
		if !ok || child.Key != e.Key {
			continue
		}
		if err := h.removeTree(ctx, n, child, flags); err != nil {
			errs = append(errs, err)
		}
	}

	if dev.HWLocked.Load() && flags&HWAccessible != 0 {
		if err := n.Locks.Unlock(ctx, dev.DestID, dev.Hop); err != nil {
			logger.Error("Failed to release lock", "destid", dev.DestID, "err", err)
		}
		dev.HWLocked.Store(false)
	}
	if flags&KeepRoutes == 0 && !dev.IsHost() {
		n.Routes.RemoveDevice(ctx, dev)
	}
	visible := !n.Registry.HasTag(dev.DestID, registry.TagNotAdded) &&
		!n.Registry.HasTag(dev.DestID, registry.TagDisabled)
	h.RemovePortWriteCallback(dev)
	net := n.Registry.Network()
	empty, err := n.Registry.Remove(dev)
	if err != nil {
		errs = append(errs, err)
	}
	if !dev.IsHost() {
		if err := table.Release(dev.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if visible {
		h.model.Unregister(ctx, n.MPort.Index, dev)
	}
	logger.Debug("Device removed", "destid", dev.DestID, "hop", dev.Hop)
	if empty && h.networks != nil {
		if err := h.networks.Release(net); err != nil {
			errs = append(errs, err)
		} else {
			logger.Info("Network released", "network", net)
		}
	}
	return errs.ToError()
}
