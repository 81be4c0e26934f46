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

// Package fabric is the RapidIO fabric manager. A Controller owns the state
// of the networks behind the configured master ports. On start it brings up
// every master port concurrently, then reacts to port-writes and verifies
// the routing tables periodically.
package fabric

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openrio/riofab/fabric/config"
	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/hotplug"
	fabricmetrics "github.com/openrio/riofab/fabric/internal/metrics"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/network"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/fabric/route"
	"github.com/openrio/riofab/fabric/switches"
	"github.com/openrio/riofab/fabric/walk"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
	"github.com/openrio/riofab/pkg/rio/riosim"
	"github.com/openrio/riofab/private/periodic"
)

// ErrUnknownMPort is returned for master port indices that are not
// configured.
var ErrUnknownMPort = errors.New("unknown master port")

// Deps are the collaborators of a Controller. All fields are optional.
type Deps struct {
	// Transports maps master port indices to their transport. Master ports
	// without a transport are simulated from their topology file.
	Transports map[int]rio.Transport
	Model      hotplug.DeviceModel
	Metrics    *fabricmetrics.Metrics
	Switches   *switches.Registry
}

// Controller manages the networks of all configured master ports.
type Controller struct {
	cfg      *config.Config
	handler  *hotplug.Handler
	networks *network.Allocator
	metrics  *fabricmetrics.Metrics
	switches *switches.Registry
	nets     []*hotplug.Net
	sims     map[string]*riosim.Fabric

	mu         sync.Mutex
	cancel     context.CancelFunc
	worker     chan struct{}
	reconciler *periodic.Runner
}

// New creates a controller for cfg. The configuration must be initialized
// and validated.
func New(cfg *config.Config, deps Deps) (*Controller, error) {
	if deps.Metrics == nil {
		deps.Metrics = &fabricmetrics.Metrics{}
	}
	if deps.Switches == nil {
		deps.Switches = switches.Default()
	}
	networks := network.NewAllocator()
	c := &Controller{
		cfg: cfg,
		handler: hotplug.New(hotplug.Config{
			Model:        deps.Model,
			Networks:     networks,
			DedupeWindow: cfg.Hotplug.DedupeWindow.Duration,
			QueueSize:    cfg.Hotplug.QueueSize,
			AckIDTimeout: cfg.Hotplug.AckIDTimeout.Duration,
		}),
		networks: networks,
		metrics:  deps.Metrics,
		switches: deps.Switches,
		sims:     make(map[string]*riosim.Fabric),
	}
	for i := range cfg.MPorts {
		mc := &cfg.MPorts[i]
		tr, ok := deps.Transports[mc.Index]
		if !ok {
			var err error
			if tr, err = c.simulated(mc); err != nil {
				return nil, err
			}
		}
		n, err := c.newNet(mc, tr)
		if err != nil {
			return nil, serrors.Wrap("creating network", err, "mport", mc.Index)
		}
		c.nets = append(c.nets, n)
	}
	return c, nil
}

// simulated returns the simulated transport of mc. Master ports sharing a
// topology file share the simulated fabric.
func (c *Controller) simulated(mc *config.MPort) (rio.Transport, error) {
	if mc.Topology == "" {
		return nil, serrors.New("no transport for master port", "mport", mc.Index)
	}
	f, ok := c.sims[mc.Topology]
	if !ok {
		topo, err := riosim.LoadTopology(mc.Topology)
		if err != nil {
			return nil, err
		}
		if f, err = riosim.New(topo); err != nil {
			return nil, serrors.Wrap("building simulated fabric", err, "file", mc.Topology)
		}
		c.sims[mc.Topology] = f
	}
	mp, err := f.MPort(mc.SimHost)
	if err != nil {
		return nil, err
	}
	return mp, nil
}

func (c *Controller) newNet(mc *config.MPort, tr rio.Transport) (*hotplug.Net, error) {
	m := c.metrics.ForMPort(mc.Index)
	mp := &rio.MPort{
		Index:      mc.Index,
		HostDestID: rio.DestID(mc.HostDestID),
		Transport:  tr,
		Large:      mc.Large,
		Enumerator: mc.Enumerator,
	}
	table, err := destid.NewFromConfig(c.cfg.DestID, mc.Large, mp.HostDestID)
	if err != nil {
		return nil, err
	}
	locks := &lock.Manager{
		Transport: tr,
		HostID:    mp.HostDestID,
		Timeout:   c.cfg.Lock.Timeout.Duration,
		Metrics: lock.Metrics{
			Acquired: m.LockAcquired,
			Timeouts: m.LockTimeouts,
			Faults:   m.LockFaults,
		},
	}
	reg := registry.New(c.networks.Allocate(mc.Index), table, func(d *registry.Device) {
		log.Debug("Device record released", "mport", mc.Index, "destid", d.DestID)
	})
	routes := &route.Manager{
		Transport:  tr,
		Registry:   reg,
		Locks:      locks,
		Large:      mc.Large,
		FaultLimit: c.cfg.Route.FaultLimit,
		Metrics:    route.Metrics{Writes: m.RouteWrites, Faults: m.ReconcileFaults},
	}
	return &hotplug.Net{
		MPort:    mp,
		Registry: reg,
		Routes:   routes,
		Locks:    locks,
		Walker: &walk.Walker{
			MPort:    mp,
			Registry: reg,
			Routes:   routes,
			Locks:    locks,
			Switches: c.switches,
			Config: walk.Config{
				MaxHops: c.cfg.Walk.MaxHops,
				Boundary: func(sw rio.DestID, port rio.Port) bool {
					return mc.IsBoundary(uint16(sw), int(port))
				},
				DiscoveryTimeout: c.cfg.Discovery.Timeout.Duration,
				ScanLimit:        c.cfg.Discovery.ScanLimit,
			},
			Metrics: walk.Metrics{Walks: m.Walks},
		},
		Metrics: hotplug.Metrics{
			Jobs:       m.Jobs,
			PortWrites: m.PortWrites,
			Devices:    m.Devices,
		},
	}, nil
}

// Start brings up all master ports concurrently and starts the port-write
// worker and the reconcile sweep. It returns after the bring-up finished.
// The controller must be closed even if Start fails.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return serrors.New("controller already started")
	}
	wctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.worker = make(chan struct{})
	c.mu.Unlock()

	for _, n := range c.nets {
		n := n
		if pn, ok := n.MPort.Transport.(rio.PortWriteNotifier); ok {
			pn.NotifyPortWrites(func(pw rio.PortWrite) { c.handler.Enqueue(n, pw) })
		}
	}
	go func() {
		defer log.HandlePanic()
		defer close(c.worker)
		c.handler.Run(wctx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range c.nets {
		n := n
		g.Go(func() error {
			defer log.HandlePanic()
			return c.handler.Dispatch(gctx, hotplug.Job{Net: n, Event: hotplug.EventInsert})
		})
	}
	if err := g.Wait(); err != nil {
		return serrors.Wrap("bringing up master ports", err)
	}

	interval := c.cfg.Route.ReconcileInterval.Duration
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciler = periodic.StartWithMetrics(&reconcileTask{c: c},
		c.metrics.Periodic.Task(reconcileTaskName), interval, interval)
	return nil
}

// Close stops the background work and removes the local records of all
// master ports. The routing tables and the hardware state of the fabric are
// left untouched.
func (c *Controller) Close() error {
	c.mu.Lock()
	reconciler, cancel, worker := c.reconciler, c.cancel, c.worker
	c.reconciler, c.cancel = nil, nil
	c.mu.Unlock()

	if reconciler != nil {
		reconciler.Stop()
	}
	for _, n := range c.nets {
		if pn, ok := n.MPort.Transport.(rio.PortWriteNotifier); ok {
			pn.NotifyPortWrites(nil)
		}
	}
	if cancel != nil {
		cancel()
		<-worker
	}
	var errs serrors.List
	for _, n := range c.nets {
		host, ok := n.Host()
		if !ok {
			continue
		}
		err := c.handler.Dispatch(context.Background(), hotplug.Job{
			Net:    n,
			Event:  hotplug.EventRemove,
			Anchor: host,
			Flags:  hotplug.KeepRoutes,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ToError()
}

// Net returns the network state of the master port.
func (c *Controller) Net(mport int) (*hotplug.Net, error) {
	for _, n := range c.nets {
		if n.MPort.Index == mport {
			return n, nil
		}
	}
	return nil, serrors.JoinNoStack(ErrUnknownMPort, nil, "mport", mport)
}

// Devices returns the devices registered behind the master port sorted by
// destid.
func (c *Controller) Devices(mport int) ([]*registry.Device, error) {
	n, err := c.Net(mport)
	if err != nil {
		return nil, err
	}
	devs, _ := n.Registry.Snapshot()
	return devs, nil
}

// Handler returns the hotplug handler, e.g. to register port-write
// callbacks.
func (c *Controller) Handler() *hotplug.Handler {
	return c.handler
}

const reconcileTaskName = "route_reconcile"

type reconcileTask struct {
	c *Controller
}

func (t *reconcileTask) Name() string {
	return reconcileTaskName
}

func (t *reconcileTask) Run(ctx context.Context) {
	start := time.Now()
	for _, n := range t.c.nets {
		if !n.MPort.Enumerator {
			continue
		}
		if err := t.c.handler.Reconcile(ctx, n); err != nil {
			log.FromCtx(ctx).Error("Route reconciliation failed", "mport", n.MPort.Index,
				"err", err)
		}
	}
	log.FromCtx(ctx).Debug("Route reconciliation done", "duration", time.Since(start))
}
