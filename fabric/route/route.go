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

// Package route manages the routing tables of the switches of a network.
// Routes are written when devices are registered and verified by a periodic
// reconcile sweep.
package route

import (
	"context"
	"errors"
	"sort"

	fabricmetrics "github.com/openrio/riofab/fabric/internal/metrics"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/prom"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// DefaultFaultLimit is used if the Manager has no fault limit configured.
const DefaultFaultLimit = 8

// maxDepth bounds the walk toward the root.
const maxDepth = 256

// ErrTooManyFaults aborts a reconcile sweep.
var ErrTooManyFaults = errors.New("too many switch faults")

// Metrics are the metrics reported by the Manager.
type Metrics struct {
	// Writes is labelled with the result.
	Writes metrics.Counter
	Faults metrics.Counter
}

// Manager programs the routing tables of one network.
type Manager struct {
	Transport rio.Transport
	Registry  *registry.Registry
	Locks     *lock.Manager
	Large     bool
	// FaultLimit is the number of faulty switches Reconcile tolerates. One
	// more aborts the sweep.
	FaultLimit int
	Metrics    Metrics
}

// AddRoute routes destid to port on the switch sw. It is a no-op if the
// routing table of sw must not be updated. If lock is set and sw uses the
// hardware lock, the write is wrapped in lock and unlock unless this host
// already holds the lock.
func (m *Manager) AddRoute(ctx context.Context, sw *registry.Device, destid rio.DestID,
	port rio.Port, lock bool) error {

	if !sw.UpdateLUT.Load() || sw.Ops == nil {
		return nil
	}
	err := m.withLock(ctx, sw, lock, func() error {
		return sw.Ops.AddRoute(ctx, sw.Maint(m.Transport), destid, port)
	})
	metrics.CounterInc(metrics.CounterWith(m.Metrics.Writes,
		prom.LabelResult, fabricmetrics.Result(err)))
	if err != nil {
		return serrors.WrapNoStack("adding route", err, "switch", sw.DestID,
			"destid", destid, "port", port)
	}
	return nil
}

// RemoveRoute sets the route of destid on sw to the invalid route.
func (m *Manager) RemoveRoute(ctx context.Context, sw *registry.Device, destid rio.DestID,
	lock bool) error {

	return m.AddRoute(ctx, sw, destid, rio.InvalidRoute, lock)
}

func (m *Manager) withLock(ctx context.Context, sw *registry.Device, lock bool,
	fn func() error) error {

	if !lock || !sw.UseHWLock || sw.HWLocked.Load() || m.Locks == nil {
		return fn()
	}
	if err := m.Locks.Lock(ctx, sw.DestID, sw.Hop); err != nil {
		return err
	}
	ferr := fn()
	if err := m.Locks.Unlock(ctx, sw.DestID, sw.Hop); err != nil && ferr == nil {
		return err
	}
	return ferr
}

// parent returns the parent switch of d, or nil if d is attached to the host.
func (m *Manager) parent(d *registry.Device) *registry.Device {
	if d.IsHost() || d.Hop == 0 {
		return nil
	}
	p, ok := m.Registry.Lookup(d.PrevDestID)
	if !ok || p.IsHost() {
		return nil
	}
	return p
}

// Propagate routes the destid of dev on every local switch on the path from
// the parent of dev to the root.
func (m *Manager) Propagate(ctx context.Context, dev *registry.Device) error {
	return m.towardRoot(ctx, m.parent(dev), dev.PrevPort, dev.DestID)
}

// PropagateAny routes the any-destid toward port of anchor on anchor and all
// its ancestors. It prepares the access to a device that has no destid yet.
func (m *Manager) PropagateAny(ctx context.Context, anchor *registry.Device,
	port rio.Port) error {

	if anchor.IsHost() {
		return nil
	}
	return m.towardRoot(ctx, anchor, port, rio.AnyDestID(m.Large))
}

func (m *Manager) towardRoot(ctx context.Context, sw *registry.Device, port rio.Port,
	destid rio.DestID) error {

	for i := 0; sw != nil && i < maxDepth; i++ {
		if sw.LocalDomain && sw.IsSwitch() {
			if err := m.AddRoute(ctx, sw, destid, port, true); err != nil {
				return err
			}
		}
		port = sw.PrevPort
		sw = m.parent(sw)
	}
	return nil
}

// SeedSwitch routes every registered device except sw itself to the return
// port of sw.
func (m *Manager) SeedSwitch(ctx context.Context, sw *registry.Device) error {
	return m.Registry.Sweep(registry.DefaultSweepRetries, func(d *registry.Device) error {
		if d == sw {
			return nil
		}
		return m.AddRoute(ctx, sw, d.DestID, sw.ReturnPort, true)
	})
}

// ExpectedPort returns the port destid should be routed to on sw: a static
// override if configured, the port toward the device if sw is one of its
// ancestors and the return port otherwise.
func (m *Manager) ExpectedPort(sw, dev *registry.Device) rio.Port {
	if p, ok := m.Registry.Table().StaticRoute(sw.DestID, dev.DestID); ok {
		return p
	}
	child := dev
	cur := m.parent(dev)
	for i := 0; cur != nil && i < maxDepth; i++ {
		if cur == sw {
			return child.PrevPort
		}
		child, cur = cur, m.parent(cur)
	}
	return sw.ReturnPort
}

// Reconcile verifies the routes of every local updatable switch and rewrites
// the entries that are invalid or differ from the expected port. Switches
// that fail are excluded from further updates. The sweep aborts once more
// than FaultLimit switches failed. If the registry changes during the sweep,
// it is repeated.
func (m *Manager) Reconcile(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	limit := m.FaultLimit
	if limit <= 0 {
		limit = DefaultFaultLimit
	}
	faults := 0
	return m.Registry.Sweep(registry.DefaultSweepRetries, func(sw *registry.Device) error {
		if !sw.IsSwitch() || !sw.LocalDomain || !sw.UpdateLUT.Load() || sw.Ops == nil {
			return nil
		}
		if cur, ok := m.Registry.Lookup(sw.DestID); !ok || cur != sw {
			return nil
		}
		devs, _ := m.Registry.Snapshot()
		fixed := 0
		err := m.withLock(ctx, sw, true, func() error {
			var err error
			fixed, err = m.reconcileSwitch(ctx, sw, devs)
			return err
		})
		if fixed > 0 {
			logger.Debug("Repaired routes", "switch", sw.DestID, "entries", fixed)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		sw.UpdateLUT.Store(false)
		faults++
		metrics.CounterInc(m.Metrics.Faults)
		logger.Error("Switch failed route reconciliation", "switch", sw.DestID,
			"hop", sw.Hop, "err", err)
		if faults > limit {
			return serrors.JoinNoStack(ErrTooManyFaults, err, "faults", faults)
		}
		return nil
	})
}

func (m *Manager) reconcileSwitch(ctx context.Context, sw *registry.Device,
	devs []*registry.Device) (int, error) {

	mt := sw.Maint(m.Transport)
	fixed := 0
	for _, d := range devs {
		if d == sw {
			continue
		}
		want := m.ExpectedPort(sw, d)
		got, err := sw.Ops.GetRoute(ctx, mt, d.DestID)
		if err != nil {
			return fixed, err
		}
		if got == want {
			continue
		}
		if err := m.AddRoute(ctx, sw, d.DestID, want, false); err != nil {
			return fixed, err
		}
		fixed++
	}
	return fixed, nil
}

// RemoveDevice removes the destid of dev from every local updatable switch,
// closest to the root first. The pass is repeated if the registry changed
// meanwhile. Failures are logged.
func (m *Manager) RemoveDevice(ctx context.Context, dev *registry.Device) {
	logger := log.FromCtx(ctx)
	for pass := 0; pass <= registry.DefaultSweepRetries; pass++ {
		devs, gen := m.Registry.Snapshot()
		sort.SliceStable(devs, func(i, j int) bool { return devs[i].Hop < devs[j].Hop })
		for _, sw := range devs {
			if sw == dev || sw.IsHost() || !sw.IsSwitch() || !sw.LocalDomain {
				continue
			}
			if err := m.RemoveRoute(ctx, sw, dev.DestID, true); err != nil {
				logger.Error("Failed to remove route", "switch", sw.DestID,
					"destid", dev.DestID, "err", err)
			}
		}
		if m.Registry.Generation() == gen {
			return
		}
	}
	logger.Error("Registry kept changing while removing routes", "destid", dev.DestID)
}
