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

package route_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/internal/fabrictest"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/network"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/fabric/route"
	"github.com/openrio/riofab/fabric/switches"
	"github.com/openrio/riofab/pkg/log/testlog"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/rio"
	"github.com/openrio/riofab/pkg/rio/riosim"
)

type chain struct {
	f   *riosim.Fabric
	reg *registry.Registry
	mgr *route.Manager

	host, swA, swB, ep *registry.Device
}

// newChain registers host0 - swA - swB - ep1 by hand and programs the routes
// in the order a walk would.
func newChain(t *testing.T, static ...destid.Entry) *chain {
	ctx := testlog.Context(t)
	f := fabrictest.Fabric(t, fabrictest.Chain)
	mp := fabrictest.MPort(t, f, "host0")
	table, err := destid.New(destid.Config{Static: static})
	require.NoError(t, err)
	c := &chain{f: f, reg: registry.New(network.NewAllocator().Allocate(0), table, nil)}
	c.mgr = &route.Manager{
		Transport:  mp,
		Registry:   c.reg,
		Locks:      &lock.Manager{Transport: mp, Timeout: 50 * time.Millisecond},
		FaultLimit: 1,
		Metrics:    route.Metrics{Writes: metrics.NewTestCounter(), Faults: metrics.NewTestCounter()},
	}
	ops := switches.Default()

	c.host = registry.NewDevice()
	c.host.Hop = rio.HopLocal
	require.NoError(t, c.reg.Insert(c.host))

	add := func(key destid.Key, vendor, device uint16, pef uint32) *registry.Device {
		e, err := table.GetOrAssign(key)
		require.NoError(t, err)
		d := registry.NewDevice()
		d.DestID, d.Hop, d.Key = e.DestID, key.Hop, key
		d.PrevDestID, d.PrevPort = key.ParentDestID, key.ParentPort
		d.VendorID, d.DeviceID, d.PEF = vendor, device, pef
		d.LocalDomain, d.UseHWLock = true, true
		d.UpdateLUT.Store(true)
		if d.IsSwitch() {
			d.Ops, err = ops.Lookup(vendor, device, pef)
			require.NoError(t, err)
		}
		require.NoError(t, c.reg.Insert(d))
		require.NoError(t, c.mgr.Propagate(ctx, d))
		if d.IsSwitch() {
			require.NoError(t, c.mgr.SeedSwitch(ctx, d))
		}
		return d
	}
	sw := rio.PEFSwitch | rio.PEFStdRoute
	c.swA = add(destid.Key{Hop: 0}, rio.VendorIDT, 0x0374, sw)
	c.swB = add(destid.Key{Hop: 1, ParentPort: 2, ParentDestID: 1}, 0x0074, 0x0200, sw)
	c.ep = add(destid.Key{Hop: 2, ParentPort: 1, ParentDestID: 2}, 0x0074, 0x0002, 0)
	return c
}

func (c *chain) routes(t *testing.T, name string) map[rio.DestID]rio.Port {
	routes, err := c.f.Routes(name)
	require.NoError(t, err)
	return routes
}

func TestPropagateAndSeed(t *testing.T) {
	c := newChain(t)
	require.Equal(t, rio.DestID(1), c.swA.DestID)
	require.Equal(t, rio.DestID(2), c.swB.DestID)
	require.Equal(t, rio.DestID(3), c.ep.DestID)

	wantA := map[rio.DestID]rio.Port{0: 0, 2: 2, 3: 2}
	wantB := map[rio.DestID]rio.Port{0: 0, 1: 0, 3: 1}
	assert.Empty(t, cmp.Diff(wantA, c.routes(t, "swA")))
	assert.Empty(t, cmp.Diff(wantB, c.routes(t, "swB")))

	// Writes happen under the device lock which is released afterwards.
	v, err := c.f.Register("swB", rio.HostDIDLockCSR)
	require.NoError(t, err)
	assert.Equal(t, rio.LockFree, v)
}

func TestPropagateAny(t *testing.T) {
	c := newChain(t)
	ctx := testlog.Context(t)
	require.NoError(t, c.mgr.PropagateAny(ctx, c.swB, 3))
	anyID := rio.AnyDestID8
	assert.Equal(t, rio.Port(3), c.routes(t, "swB")[anyID])
	assert.Equal(t, rio.Port(2), c.routes(t, "swA")[anyID])
	require.NoError(t, c.mgr.PropagateAny(ctx, c.host, 0))
}

func TestAddRouteNotUpdatable(t *testing.T) {
	c := newChain(t)
	ctx := testlog.Context(t)
	c.swA.UpdateLUT.Store(false)
	before := c.f.Accesses()
	require.NoError(t, c.mgr.AddRoute(ctx, c.swA, 9, 1, true))
	assert.Equal(t, before, c.f.Accesses())
}

func TestExpectedPort(t *testing.T) {
	c := newChain(t, destid.Entry{
		Key:    destid.Key{Hop: 0},
		DestID: 1,
		Routes: map[rio.DestID]rio.Port{3: 1},
	})
	assert.Equal(t, rio.Port(1), c.mgr.ExpectedPort(c.swA, c.ep))
	assert.Equal(t, rio.Port(2), c.mgr.ExpectedPort(c.swA, c.swB))
	assert.Equal(t, rio.Port(1), c.mgr.ExpectedPort(c.swB, c.ep))
	assert.Equal(t, rio.Port(0), c.mgr.ExpectedPort(c.swB, c.swA))
	assert.Equal(t, rio.Port(0), c.mgr.ExpectedPort(c.swB, c.host))
}

func TestReconcile(t *testing.T) {
	ctx := testlog.Context(t)
	t.Run("repairs", func(t *testing.T) {
		c := newChain(t)
		m := rio.Maint{T: c.mgr.Transport, DestID: rio.AnyDestID8, Hop: 0}
		require.NoError(t, switches.Standard{}.AddRoute(ctx, m, 3, 1))
		require.NoError(t, switches.Standard{}.AddRoute(ctx, m, 0, rio.InvalidRoute))

		require.NoError(t, c.mgr.Reconcile(ctx))
		assert.Empty(t, cmp.Diff(map[rio.DestID]rio.Port{0: 0, 2: 2, 3: 2},
			c.routes(t, "swA")))
		assert.True(t, c.swA.UpdateLUT.Load())
	})
	t.Run("faulty switch", func(t *testing.T) {
		c := newChain(t)
		require.NoError(t, c.f.SetFailing("swB", true))
		require.NoError(t, c.mgr.Reconcile(ctx))
		assert.False(t, c.swB.UpdateLUT.Load())
		assert.True(t, c.swA.UpdateLUT.Load())
		assert.Equal(t, float64(1), metrics.CounterValue(c.mgr.Metrics.Faults))

		// The faulty switch is skipped from now on.
		require.NoError(t, c.f.SetFailing("swB", false))
		assert.NoError(t, c.mgr.Reconcile(ctx))
		assert.Equal(t, float64(1), metrics.CounterValue(c.mgr.Metrics.Faults))
	})
	t.Run("fault limit exceeded", func(t *testing.T) {
		c := newChain(t)
		// swB is only reachable through swA, so both fail.
		require.NoError(t, c.f.SetFailing("swA", true))
		err := c.mgr.Reconcile(ctx)
		assert.ErrorIs(t, err, route.ErrTooManyFaults)
		assert.False(t, c.swA.UpdateLUT.Load())
		assert.False(t, c.swB.UpdateLUT.Load())
		assert.Equal(t, float64(2), metrics.CounterValue(c.mgr.Metrics.Faults))
	})
	t.Run("device registered during sweep", func(t *testing.T) {
		c := newChain(t)
		key := destid.Key{Hop: 1, ParentPort: 3, ParentDestID: c.swA.DestID}
		var added *registry.Device
		c.mgr.Transport = &hookTransport{
			Transport: c.mgr.Transport,
			hook: func() {
				e, err := c.reg.Table().GetOrAssign(key)
				require.NoError(t, err)
				added = registry.NewDevice()
				added.DestID, added.Hop, added.Key = e.DestID, key.Hop, key
				added.PrevDestID, added.PrevPort = key.ParentDestID, key.ParentPort
				require.NoError(t, c.reg.Insert(added))
			},
		}
		require.NoError(t, c.mgr.Reconcile(ctx))
		require.NotNil(t, added)
		assert.Equal(t, rio.Port(3), c.routes(t, "swA")[added.DestID])
		assert.Equal(t, rio.Port(0), c.routes(t, "swB")[added.DestID])
	})
}

// hookTransport runs hook before the first register read.
type hookTransport struct {
	rio.Transport
	once sync.Once
	hook func()
}

func (h *hookTransport) ReadConfig(ctx context.Context, id rio.DestID, hop rio.Hop,
	offset uint32) (uint32, error) {

	h.once.Do(h.hook)
	return h.Transport.ReadConfig(ctx, id, hop, offset)
}

func TestRemoveDevice(t *testing.T) {
	c := newChain(t)
	ctx := context.Background()
	c.mgr.RemoveDevice(ctx, c.ep)
	assert.Empty(t, cmp.Diff(map[rio.DestID]rio.Port{0: 0, 2: 2}, c.routes(t, "swA")))
	assert.Empty(t, cmp.Diff(map[rio.DestID]rio.Port{0: 0, 1: 0}, c.routes(t, "swB")))
}
