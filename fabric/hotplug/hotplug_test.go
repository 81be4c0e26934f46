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

package hotplug_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/hotplug"
	"github.com/openrio/riofab/fabric/internal/fabrictest"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/network"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/fabric/route"
	"github.com/openrio/riofab/fabric/switches"
	"github.com/openrio/riofab/fabric/walk"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/log/testlog"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/prom"
	"github.com/openrio/riofab/pkg/private/xtest"
	"github.com/openrio/riofab/pkg/rio"
	"github.com/openrio/riofab/pkg/rio/riosim"
)

type recordingModel struct {
	mu           sync.Mutex
	registered   []rio.DestID
	unregistered []rio.DestID
	fail         map[rio.DestID]bool
}

func (m *recordingModel) Register(_ context.Context, _ int, d *registry.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[d.DestID] {
		return assert.AnError
	}
	m.registered = append(m.registered, d.DestID)
	return nil
}

func (m *recordingModel) Unregister(_ context.Context, _ int, d *registry.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregistered = append(m.unregistered, d.DestID)
}

func (m *recordingModel) snapshot() ([]rio.DestID, []rio.DestID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rio.DestID(nil), m.registered...),
		append([]rio.DestID(nil), m.unregistered...)
}

type env struct {
	f         *riosim.Fabric
	alloc     *network.Allocator
	model     *recordingModel
	h         *hotplug.Handler
	destroyed atomic.Int32
	pws       chan rio.PortWrite
}

func newEnv(t *testing.T, topo string) *env {
	f := fabrictest.Fabric(t, topo)
	e := &env{
		f:     f,
		alloc: network.NewAllocator(),
		model: &recordingModel{},
		pws:   make(chan rio.PortWrite, 16),
	}
	e.h = hotplug.New(hotplug.Config{
		Model:        e.model,
		Networks:     e.alloc,
		DedupeWindow: time.Minute,
		AckIDTimeout: 50 * time.Millisecond,
	})
	return e
}

func (e *env) net(t *testing.T, host string, index int, hostID rio.DestID,
	enumerator bool) *hotplug.Net {

	tr := fabrictest.MPort(t, e.f, host)
	tr.NotifyPortWrites(func(pw rio.PortWrite) {
		select {
		case e.pws <- pw:
		default:
		}
	})
	table, err := destid.New(destid.Config{
		HostID:   hostID,
		Defaults: destid.LockHW | destid.LUTUpdate,
	})
	require.NoError(t, err)
	mp := &rio.MPort{Index: index, HostDestID: hostID, Transport: tr, Enumerator: enumerator}
	reg := registry.New(e.alloc.Allocate(index), table, func(*registry.Device) {
		e.destroyed.Add(1)
	})
	locks := &lock.Manager{Transport: tr, HostID: hostID, Timeout: 200 * time.Millisecond}
	routes := &route.Manager{Transport: tr, Registry: reg, Locks: locks}
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
			Switches: switches.Default(),
			Config:   walk.Config{DiscoveryTimeout: 5 * time.Second},
		},
		Metrics: hotplug.Metrics{
			Jobs:       metrics.NewTestCounter(),
			PortWrites: metrics.NewTestCounter(),
			Devices:    metrics.NewTestGauge(),
		},
	}
}

func (e *env) nextPortWrite(t *testing.T) rio.PortWrite {
	t.Helper()
	select {
	case pw := <-e.pws:
		return pw
	case <-time.After(time.Second):
		require.FailNow(t, "no port-write")
		return rio.PortWrite{}
	}
}

func bringUp(t *testing.T, e *env, n *hotplug.Net) {
	t.Helper()
	require.NoError(t, e.h.Dispatch(testlog.Context(t),
		hotplug.Job{Net: n, Event: hotplug.EventInsert}))
}

func routesWithoutAny(t *testing.T, f *riosim.Fabric, sw string) map[rio.DestID]rio.Port {
	t.Helper()
	r, err := f.Routes(sw)
	require.NoError(t, err)
	delete(r, rio.AnyDestID8)
	return r
}

func TestDispatchBringUp(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)

	registered, _ := e.model.snapshot()
	assert.ElementsMatch(t, []rio.DestID{0, 1, 2, 3}, registered)
	assert.Equal(t, 4, n.Registry.Len())
	assert.Empty(t, n.Registry.Tagged(registry.TagNotAdded))
	devs, _ := n.Registry.Snapshot()
	for _, d := range devs {
		assert.Equal(t, 1, d.Refs(), "device %s", d)
		assert.False(t, d.HWLocked.Load(), "device %s", d)
	}
	host, ok := n.Host()
	require.True(t, ok)
	assert.Equal(t, rio.DestID(0), host.DestID)
	assert.Equal(t, float64(4), metrics.GaugeValue(n.Metrics.Devices))
	assert.Equal(t, float64(1), metrics.CounterValue(n.Metrics.Jobs.With(
		prom.LabelEvent, "insert", prom.LabelResult, prom.Success)))

	// A second bring-up changes nothing.
	before := n.Registry.Table().Snapshot()
	bringUp(t, e, n)
	registered, _ = e.model.snapshot()
	assert.Len(t, registered, 4)
	assert.Equal(t, before, n.Registry.Table().Snapshot())
}

func TestDispatchModelFailure(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	e.model.fail = map[rio.DestID]bool{3: true}
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)

	assert.True(t, n.Registry.HasTag(3, registry.TagDisabled))
	ep, ok := n.Registry.Lookup(3)
	require.True(t, ok)
	require.NoError(t, e.h.Dispatch(testlog.Context(t), hotplug.Job{
		Net: n, Event: hotplug.EventRemove, Anchor: ep, Flags: hotplug.HWAccessible,
	}))
	_, unregistered := e.model.snapshot()
	assert.Empty(t, unregistered)
}

func TestDispatchLogLabels(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	n := e.net(t, "host0", 0, 0, true)
	core, logs := observer.New(zap.DebugLevel)
	logger := testlog.NewLogger(t, zaptest.WrapOptions(zap.WrapCore(
		func(c zapcore.Core) zapcore.Core { return zapcore.NewTee(c, core) })))
	ctx := log.CtxWith(context.Background(), logger)
	require.NoError(t, e.h.Dispatch(ctx, hotplug.Job{Net: n, Event: hotplug.EventInsert}))

	entries := logs.FilterMessage("Walk finished").All()
	require.Len(t, entries, 1)
	mport := 0
	for _, f := range entries[0].Context {
		if f.Key == "mport" {
			mport++
		}
	}
	assert.Equal(t, 1, mport)
}

func TestHotplugLeaf(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	require.NoError(t, e.f.Disconnect("swB", 1))
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)
	require.Equal(t, 3, n.Registry.Len())

	table := n.Registry.Table().Snapshot()
	swA, swB := routesWithoutAny(t, e.f, "swA"), routesWithoutAny(t, e.f, "swB")

	ctx := testlog.Context(t)
	require.NoError(t, e.f.Connect("swB", 1, "ep1", 0))
	pw := e.nextPortWrite(t)
	assert.Equal(t, rio.Port(1), pw.Port())
	require.NoError(t, e.h.HandlePortWrite(ctx, n, pw))

	assert.Equal(t, 4, n.Registry.Len())
	id, err := e.f.DestID("ep1")
	require.NoError(t, err)
	ep, ok := n.Registry.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, destid.Key{Hop: 2, ParentPort: 1, ParentDestID: 2}, ep.Key)
	p, err := e.f.Route("swB", id)
	require.NoError(t, err)
	assert.Equal(t, rio.Port(1), p)
	st, err := e.f.PortRegister("swB", 1, rio.PortErrStat)
	require.NoError(t, err)
	assert.Zero(t, st&rio.PortErrPWPend)

	require.NoError(t, e.f.Disconnect("swB", 1))
	require.NoError(t, e.h.HandlePortWrite(ctx, n, e.nextPortWrite(t)))

	assert.Equal(t, 3, n.Registry.Len())
	assert.Equal(t, table, n.Registry.Table().Snapshot())
	assert.Empty(t, cmp.Diff(swA, routesWithoutAny(t, e.f, "swA")))
	assert.Empty(t, cmp.Diff(swB, routesWithoutAny(t, e.f, "swB")))
	_, unregistered := e.model.snapshot()
	assert.Equal(t, []rio.DestID{id}, unregistered)
	assert.Equal(t, int32(1), e.destroyed.Load())
}

func TestHotplugSubtree(t *testing.T) {
	e := newEnv(t, fabrictest.Tree)
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)
	require.Equal(t, 7, n.Registry.Len())

	require.NoError(t, e.f.Disconnect("swA", 1))
	require.NoError(t, e.h.HandlePortWrite(testlog.Context(t), n, e.nextPortWrite(t)))

	// swB, ep1 and ep2 are gone.
	assert.Equal(t, 4, n.Registry.Len())
	_, unregistered := e.model.snapshot()
	assert.Equal(t, []rio.DestID{3, 4, 2}, unregistered)
	assert.Equal(t, 3, n.Registry.Table().Len())
}

func TestPortWriteFiltering(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	require.NoError(t, e.f.Disconnect("swB", 1))
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)
	ctx := testlog.Context(t)

	t.Run("unknown source", func(t *testing.T) {
		pw := rio.NewPortWrite(0x4242, 0, 1, rio.PortErrOK)
		err := e.h.HandlePortWrite(ctx, n, pw)
		assert.ErrorIs(t, err, hotplug.ErrUnknownSource)
		assert.Equal(t, float64(1), metrics.CounterValue(
			n.Metrics.PortWrites.With(prom.LabelResult, prom.ErrNotFound)))
	})
	t.Run("duplicate", func(t *testing.T) {
		swB, ok := n.Registry.Lookup(2)
		require.True(t, ok)
		var calls atomic.Int32
		require.NoError(t, e.h.AddPortWriteCallback(swB, func(rio.PortWrite) {
			calls.Add(1)
		}))
		err := e.h.AddPortWriteCallback(swB, func(rio.PortWrite) {})
		assert.ErrorIs(t, err, hotplug.ErrCallbackExists)

		require.NoError(t, e.f.Connect("swB", 1, "ep1", 0))
		pw := e.nextPortWrite(t)
		require.NoError(t, e.h.HandlePortWrite(ctx, n, pw))
		require.NoError(t, e.h.HandlePortWrite(ctx, n, pw))
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, float64(1), metrics.CounterValue(
			n.Metrics.PortWrites.With(prom.LabelResult, prom.ErrDuplicate)))
		assert.Equal(t, 4, n.Registry.Len())
	})
}

func TestPortFlap(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)
	require.Equal(t, 4, n.Registry.Len())
	ctx := testlog.Context(t)

	// Every transition is handled even though the status words repeat
	// within the dedupe window.
	for i := 0; i < 2; i++ {
		require.NoError(t, e.f.Disconnect("swB", 1))
		require.NoError(t, e.h.HandlePortWrite(ctx, n, e.nextPortWrite(t)))
		require.Equal(t, 3, n.Registry.Len(), "round %d", i)

		require.NoError(t, e.f.Connect("swB", 1, "ep1", 0))
		require.NoError(t, e.h.HandlePortWrite(ctx, n, e.nextPortWrite(t)))
		require.Equal(t, 4, n.Registry.Len(), "round %d", i)
	}
	assert.Zero(t, metrics.CounterValue(
		n.Metrics.PortWrites.With(prom.LabelResult, prom.ErrDuplicate)))
}

func TestPortUpAlignsAckIDs(t *testing.T) {
	testCases := map[string]struct {
		Partner uint32
		Want    uint32
	}{
		"stale outbound": {
			Partner: 0,
			Want:    0,
		},
		"partner ahead": {
			Partner: 5 << rio.AckIDInboundShift,
			Want:    5<<rio.AckIDOutstandShift | 5,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, fabrictest.Chain)
			require.NoError(t, e.f.Disconnect("swB", 1))
			n := e.net(t, "host0", 0, 0, true)
			bringUp(t, e, n)

			require.NoError(t, e.f.Connect("swB", 1, "ep1", 0))
			pw := e.nextPortWrite(t)
			require.NoError(t, e.f.SetAckID("swB", 1, 3<<rio.AckIDOutstandShift|3))
			require.NoError(t, e.f.SetAckID("ep1", 0, tc.Partner))
			require.NoError(t, e.h.HandlePortWrite(testlog.Context(t), n, pw))

			assert.Equal(t, 4, n.Registry.Len())
			near, err := e.f.PortRegister("swB", 1, rio.PortAckIDStat)
			require.NoError(t, err)
			assert.Equal(t, tc.Want, near)
		})
	}
}

func TestRecoverPort(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)
	ctx := testlog.Context(t)
	swA, ok := n.Registry.Lookup(1)
	require.True(t, ok)

	require.NoError(t, e.f.SetAckID("swA", 2, 4<<rio.AckIDInboundShift|1<<rio.AckIDOutstandShift|1))
	require.NoError(t, e.f.SetAckID("swB", 0, 7<<rio.AckIDInboundShift))
	require.NoError(t, e.f.InjectErrorStop("swA", 2))

	require.NoError(t, e.h.RecoverPort(ctx, n, swA, 2))
	near, err := e.f.PortRegister("swA", 2, rio.PortAckIDStat)
	require.NoError(t, err)
	assert.Equal(t, uint32(4<<rio.AckIDInboundShift|7<<rio.AckIDOutstandShift|7), near)
	far, err := e.f.PortRegister("swB", 0, rio.PortAckIDStat)
	require.NoError(t, err)
	assert.Equal(t, uint32(8<<rio.AckIDInboundShift|4<<rio.AckIDOutstandShift|4), far)
	st, err := e.f.PortRegister("swA", 2, rio.PortErrStat)
	require.NoError(t, err)
	assert.Zero(t, st&rio.PortErrStopped)

	// Aligned ports are left alone.
	require.NoError(t, e.f.SetAckID("swB", 0, 7<<rio.AckIDInboundShift))
	require.NoError(t, e.h.SyncAckIDs(ctx, n, swA, 2))
	far, err = e.f.PortRegister("swB", 0, rio.PortAckIDStat)
	require.NoError(t, err)
	assert.Equal(t, uint32(7<<rio.AckIDInboundShift), far)
}

func TestRemoveHost(t *testing.T) {
	e := newEnv(t, fabrictest.Chain)
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)
	swA, err := e.f.Routes("swA")
	require.NoError(t, err)

	host, ok := n.Host()
	require.True(t, ok)
	require.NoError(t, e.h.Dispatch(testlog.Context(t), hotplug.Job{
		Net: n, Event: hotplug.EventRemove, Anchor: host, Flags: hotplug.KeepRoutes,
	}))
	assert.Zero(t, n.Registry.Len())
	assert.Zero(t, n.Registry.Table().Len())
	assert.Empty(t, e.alloc.Networks())
	assert.Equal(t, int32(4), e.destroyed.Load())
	_, unregistered := e.model.snapshot()
	assert.Equal(t, []rio.DestID{3, 2, 1, 0}, unregistered)
	after, err := e.f.Routes("swA")
	require.NoError(t, err)
	assert.Equal(t, swA, after)

	err = e.h.Dispatch(testlog.Context(t), hotplug.Job{Net: n, Event: hotplug.EventRemove})
	assert.ErrorIs(t, err, hotplug.ErrNoAnchor)
}

func TestDispatchDiscover(t *testing.T) {
	e := newEnv(t, fabrictest.Dual)
	n0 := e.net(t, "host0", 0, 0, true)
	n1 := e.net(t, "host1", 1, 1, false)

	errs := make(chan error, 1)
	go func() {
		errs <- e.h.Dispatch(context.Background(), hotplug.Job{Net: n1, Event: hotplug.EventInsert})
	}()
	bringUp(t, e, n0)
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "discovery did not finish")
	}
	assert.Equal(t, 4, n0.Registry.Len())
	assert.Equal(t, 4, n1.Registry.Len())
	host, ok := n1.Host()
	require.True(t, ok)
	assert.Equal(t, rio.DestID(2), host.DestID)
}

func TestQueue(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))

	e := newEnv(t, fabrictest.Chain)
	require.NoError(t, e.f.Disconnect("swB", 1))
	n := e.net(t, "host0", 0, 0, true)
	bringUp(t, e, n)

	require.NoError(t, e.f.Connect("swB", 1, "ep1", 0))
	pw := e.nextPortWrite(t)
	for i := 0; i < hotplug.DefaultQueueSize+1; i++ {
		e.h.Enqueue(n, pw)
	}
	assert.Equal(t, float64(1), metrics.CounterValue(
		n.Metrics.PortWrites.With(prom.LabelResult, prom.ErrOverflow)))

	ctx, cancel := context.WithCancel(testlog.Context(t))
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.h.Run(ctx)
	}()
	assert.Eventually(t, func() bool { return n.Registry.Len() == 4 },
		2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return metrics.CounterValue(n.Metrics.PortWrites.With(
			prom.LabelResult, prom.ErrDuplicate)) == hotplug.DefaultQueueSize-1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	xtest.AssertReadReturnsBefore(t, done, time.Second)
}
