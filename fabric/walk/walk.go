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

// Package walk implements the topology walker. The enumerating host assigns
// destids and component tags to every device it reaches and programs the
// routes toward them. Other hosts wait until the enumeration is complete and
// discover the assigned destids.
//
// Device locks taken during an enumeration are held until the job calls
// Release, so that a device reached a second time through a redundant path
// is detected by its lock.
package walk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openrio/riofab/fabric/destid"
	fabricmetrics "github.com/openrio/riofab/fabric/internal/metrics"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/fabric/route"
	"github.com/openrio/riofab/fabric/switches"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/prom"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// Defaults used for unset Config fields.
const (
	DefaultMaxHops          = 255
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultScanLimit        = 256
)

var (
	// ErrAbort unwinds the whole walk.
	ErrAbort = errors.New("walk aborted")
	// ErrPortInactive is returned if the anchor port of a walk has no link.
	ErrPortInactive = errors.New("port inactive")
)

// Config configures a Walker.
type Config struct {
	// MaxHops bounds the depth of the walk.
	MaxHops int
	// Boundary reports whether the port of a switch is an enumeration
	// boundary. It may be nil.
	Boundary func(sw rio.DestID, port rio.Port) bool
	// DiscoveryTimeout bounds the wait for the enumerator.
	DiscoveryTimeout time.Duration
	// ScanLimit is the number of LUT entries scanned for a probe destid.
	ScanLimit int
}

// Metrics are the metrics of the walker.
type Metrics struct {
	// Walks is labelled with the result.
	Walks metrics.Counter
}

// Result collects what a walk did. The caller owns the provisional
// references of Added.
type Result struct {
	Host *registry.Device
	// Added are the newly registered devices in walk order.
	Added []*registry.Device
	// Locked are the devices whose lock this host holds.
	Locked []*registry.Device
	// Blocked are the redundant edges found.
	Blocked []destid.Key
	// Enumerated is set if the walk assigned destids.
	Enumerated bool
}

// Walker walks the fabric behind one master port.
type Walker struct {
	MPort    *rio.MPort
	Registry *registry.Registry
	Routes   *route.Manager
	Locks    *lock.Manager
	Switches *switches.Registry
	Config   Config
	Metrics  Metrics

	mu      sync.Mutex
	lastTag rio.CompTag
}

type probeFunc func(ctx context.Context, parent *registry.Device, port rio.Port,
	res *Result) error

func (w *Walker) maxHops() int {
	if w.Config.MaxHops > 0 {
		return w.Config.MaxHops
	}
	return DefaultMaxHops
}

func (w *Walker) table() *destid.Table {
	return w.Registry.Table()
}

func (w *Walker) trace(ctx context.Context, key destid.Key, s State, errCtx ...any) {
	logger := log.FromCtx(ctx)
	if !logger.Enabled(log.DebugLevel) {
		return
	}
	logger.Debug("Walk state", append([]any{"edge", key, "state", s}, errCtx...)...)
}

// nextCompTag returns a component tag not used by any registered device.
func (w *Walker) nextCompTag() rio.CompTag {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		w.lastTag++
		if w.lastTag == 0 {
			continue
		}
		if d, ok := w.Registry.ByCompTag(w.lastTag); ok {
			w.Registry.Put(d)
			continue
		}
		return w.lastTag
	}
}

// BringUp registers the record of the local master port. The enumerator
// writes its destid and component tag to the local port. Other hosts first
// wait until an enumerator set the discovered flag on their port and read
// the destid it assigned. BringUp is idempotent.
func (w *Walker) BringUp(ctx context.Context, res *Result) (*registry.Device, error) {
	mt := w.MPort.Local()
	var host rio.DestID
	if w.MPort.Enumerator {
		host = w.MPort.HostDestID
	} else {
		var err error
		if host, err = w.waitDiscovered(ctx); err != nil {
			return nil, err
		}
	}
	if d, ok := w.Registry.Lookup(host); ok && d.IsHost() {
		res.Host = d
		return d, nil
	}
	if w.MPort.Enumerator {
		if err := mt.Write(ctx, rio.DIDCSR, rio.EncodeDestID(host, w.MPort.Large)); err != nil {
			return nil, err
		}
	}
	d := registry.NewDevice()
	d.DestID = host
	d.Hop = rio.HopLocal
	d.LocalDomain = true
	d.ReturnPort = rio.InvalidRoute
	d.PortCount = 1
	if err := w.identify(ctx, mt, d); err != nil {
		return nil, err
	}
	if w.MPort.Enumerator {
		tag, err := mt.Read(ctx, rio.CompTagCSR)
		if err != nil {
			return nil, err
		}
		d.CompTag = rio.CompTag(tag)
		if d.CompTag == 0 {
			d.CompTag = w.nextCompTag()
			if err := mt.Write(ctx, rio.CompTagCSR, uint32(d.CompTag)); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Registry.Insert(d); err != nil {
		return nil, err
	}
	res.Host = d
	res.Added = append(res.Added, d)
	log.FromCtx(ctx).Info("Registered master port", "destid", host,
		"enumerator", w.MPort.Enumerator, "network", w.Registry.Network())
	return d, nil
}

// waitDiscovered waits for the discovered flag under the local lock and
// returns the assigned host destid.
func (w *Walker) waitDiscovered(ctx context.Context) (rio.DestID, error) {
	mt := w.MPort.Local()
	efb, err := mt.SerialEFB(ctx)
	if err != nil {
		return 0, err
	}
	timeout := w.Config.DiscoveryTimeout
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	err = w.Locks.WaitCond(ctx, w.MPort.HostDestID, rio.HopLocal, timeout,
		func(ctx context.Context) (bool, error) {
			v, err := mt.Read(ctx, efb+rio.PortGenCtl)
			if err != nil {
				return false, err
			}
			return v&rio.PortGenDiscovered != 0, nil
		})
	if err != nil {
		return 0, serrors.WrapNoStack("waiting for enumeration", err)
	}
	defer func() {
		if err := w.Locks.Unlock(ctx, w.MPort.HostDestID, rio.HopLocal); err != nil {
			log.FromCtx(ctx).Error("Failed to release local lock", "err", err)
		}
	}()
	return w.MPort.ReadDestID(ctx)
}

// identify reads the identity registers of the device behind mt into d.
func (w *Walker) identify(ctx context.Context, mt rio.Maint, d *registry.Device) error {
	car, err := mt.Read(ctx, rio.DevIDCAR)
	if err != nil {
		return err
	}
	d.VendorID, d.DeviceID = rio.DevID(car)
	if d.PEF, err = mt.Read(ctx, rio.PEFCAR); err != nil {
		return err
	}
	efb, err := mt.SerialEFB(ctx)
	switch {
	case err == nil:
		d.EFB = efb
	case errors.Is(err, rio.ErrNoExtFeature):
	default:
		return err
	}
	if !d.IsSwitch() {
		if d.PortCount == 0 {
			d.PortCount = 1
		}
		return nil
	}
	spc, err := mt.Read(ctx, rio.SwitchPortCAR)
	if err != nil {
		return err
	}
	d.PortCount, d.InPort = rio.SwitchPorts(spc)
	ops, err := w.Switches.Lookup(d.VendorID, d.DeviceID, d.PEF)
	if err != nil {
		log.FromCtx(ctx).Info("Switch without routing operations", "destid", d.DestID,
			"vendor", d.VendorID, "device", d.DeviceID)
		return nil
	}
	d.Ops = ops
	return nil
}

// Enumerate enumerates the fabric behind the local master port.
func (w *Walker) Enumerate(ctx context.Context, res *Result) error {
	return w.run(ctx, res, func(ctx context.Context) error {
		host, err := w.BringUp(ctx, res)
		if err != nil {
			return err
		}
		res.Enumerated = true
		return w.enumerate(ctx, host, 0, res)
	})
}

// Discover discovers the fabric behind the local master port after an
// enumerator finished.
func (w *Walker) Discover(ctx context.Context, res *Result) error {
	return w.run(ctx, res, func(ctx context.Context) error {
		host, err := w.BringUp(ctx, res)
		if err != nil {
			return err
		}
		return w.discover(ctx, host, 0, res)
	})
}

// Explore walks the subtree behind port of anchor. It enumerates if the
// master port is an enumerator and discovers otherwise.
func (w *Walker) Explore(ctx context.Context, anchor *registry.Device, port rio.Port,
	res *Result) error {

	return w.run(ctx, res, func(ctx context.Context) error {
		if !anchor.IsHost() && anchor.EFB != 0 {
			active, err := anchor.Maint(w.MPort.Transport).PortActive(ctx, anchor.EFB, port)
			if err != nil {
				return err
			}
			if !active {
				return serrors.JoinNoStack(ErrPortInactive, nil, "destid", anchor.DestID,
					"port", port)
			}
		}
		if w.MPort.Enumerator {
			res.Enumerated = true
			return w.enumerate(ctx, anchor, port, res)
		}
		return w.discover(ctx, anchor, port, res)
	})
}

// run walks with fn. The caller labels ctx with the master port.
func (w *Walker) run(ctx context.Context, res *Result, fn func(context.Context) error) error {
	logger := log.FromCtx(ctx)
	start := time.Now()
	err := fn(ctx)
	metrics.CounterInc(metrics.CounterWith(w.Metrics.Walks,
		prom.LabelResult, fabricmetrics.Result(err)))
	logger.Debug("Walk finished", "added", len(res.Added), "blocked", len(res.Blocked),
		"duration", time.Since(start), "err", err)
	return err
}

// edge checks the common preconditions of probing the device behind port of
// parent. It returns the table key and whether the edge is already known.
func (w *Walker) edge(ctx context.Context, parent *registry.Device, port rio.Port,
	explore probeFunc, res *Result) (destid.Key, bool, error) {

	hop := parent.ChildHop()
	key := destid.Key{Hop: hop, ParentPort: port, ParentDestID: parent.DestID}
	if err := ctx.Err(); err != nil {
		return key, true, serrors.JoinNoStack(ErrAbort, err)
	}
	if int(hop) >= w.maxHops() {
		return key, true, serrors.JoinNoStack(ErrAbort, nil, "reason", "depth limit",
			"hop", hop)
	}
	e, ok := w.table().Lookup(key)
	if !ok {
		return key, false, nil
	}
	if e.Flags&(destid.Redundant|destid.Blocked) != 0 {
		w.trace(ctx, key, StateBlocked)
		return key, true, nil
	}
	d, ok := w.Registry.Lookup(e.DestID)
	if !ok || d.Key != key {
		return key, false, nil
	}
	w.trace(ctx, key, StateRegistered, "destid", d.DestID)
	if d.IsSwitch() {
		return key, true, w.scanPorts(ctx, d, explore, res)
	}
	return key, true, nil
}

// enumerate probes the device behind port of parent and assigns it a destid.
func (w *Walker) enumerate(ctx context.Context, parent *registry.Device, port rio.Port,
	res *Result) error {

	key, done, err := w.edge(ctx, parent, port, w.enumerate, res)
	if done || err != nil {
		return err
	}
	hop := key.Hop
	anyID := w.MPort.AnyDestID()
	probe := rio.Maint{T: w.MPort.Transport, DestID: anyID, Hop: hop}
	if err := w.Routes.PropagateAny(ctx, parent, port); err != nil {
		return err
	}

	w.trace(ctx, key, StateLockPending)
	err = w.Locks.Lock(ctx, anyID, hop)
	switch {
	case errors.Is(err, lock.ErrOwned):
		return w.redundant(ctx, key, probe, res)
	case err != nil:
		w.trace(ctx, key, StateError, "err", err)
		return err
	}
	unlock := func() {
		if err := w.Locks.Unlock(ctx, anyID, hop); err != nil {
			log.FromCtx(ctx).Error("Failed to release lock", "edge", key, "err", err)
		}
	}

	tag, err := probe.Read(ctx, rio.CompTagCSR)
	if err != nil {
		unlock()
		return err
	}
	if existing := w.knownTag(rio.CompTag(tag)); existing != nil {
		unlock()
		return w.block(ctx, key, existing.DestID, existing.CompTag, res)
	}

	entry, err := w.table().GetOrAssign(key)
	if err != nil {
		unlock()
		if errors.Is(err, destid.ErrNoMem) {
			return serrors.JoinNoStack(ErrAbort, err)
		}
		return err
	}
	d, err := w.assign(ctx, probe, key, entry)
	if err != nil {
		unlock()
		if rerr := w.table().Release(key); rerr != nil {
			log.FromCtx(ctx).Error("Failed to release destid", "edge", key, "err", rerr)
		}
		w.trace(ctx, key, StateError, "err", err)
		return err
	}
	w.trace(ctx, key, StateIdentified, "destid", d.DestID, "comptag", d.CompTag)

	if err := w.Registry.Insert(d); err != nil {
		unlock()
		if errors.Is(err, registry.ErrBusy) {
			return nil
		}
		return err
	}
	res.Added = append(res.Added, d)
	if d.UseHWLock {
		d.HWLocked.Store(true)
		res.Locked = append(res.Locked, d)
	} else {
		unlock()
	}
	if err := w.Routes.Propagate(ctx, d); err != nil {
		return err
	}
	if !d.IsSwitch() {
		w.trace(ctx, key, StateRegistered, "destid", d.DestID)
		return nil
	}
	if err := w.initSwitch(ctx, d); err != nil {
		return err
	}
	return w.scanPorts(ctx, d, w.enumerate, res)
}

// assign writes the destid and the component tag to the device behind probe
// and returns its record.
func (w *Walker) assign(ctx context.Context, probe rio.Maint, key destid.Key,
	entry destid.Entry) (*registry.Device, error) {

	d := registry.NewDevice()
	if err := w.identify(ctx, probe, d); err != nil {
		return nil, err
	}
	if err := probe.Write(ctx, rio.DIDCSR,
		rio.EncodeDestID(entry.DestID, w.MPort.Large)); err != nil {
		return nil, err
	}
	tag := entry.CompTag
	if tag == 0 {
		tag = w.nextCompTag()
	}
	if err := probe.Write(ctx, rio.CompTagCSR, uint32(tag)); err != nil {
		return nil, err
	}
	if err := w.table().SetCompTag(key, tag); err != nil {
		return nil, err
	}
	d.DestID = entry.DestID
	d.Hop = key.Hop
	d.PrevDestID = key.ParentDestID
	d.PrevPort = key.ParentPort
	d.Key = key
	d.CompTag = tag
	d.LocalDomain = true
	d.UseHWLock = entry.Flags.Has(destid.LockHW)
	d.Legacy = entry.Flags.Has(destid.Legacy)
	d.UpdateLUT.Store(entry.Flags.Has(destid.LUTUpdate) && d.Ops != nil)
	d.ReturnPort = rio.InvalidRoute
	if d.IsSwitch() {
		d.ReturnPort = d.InPort
		if entry.Flags.Has(destid.OneWay) && entry.ReturnPort != rio.InvalidRoute {
			d.ReturnPort = entry.ReturnPort
		}
	}
	return d, nil
}

// initSwitch prepares a newly enumerated switch: it clears the routing table,
// directs port-writes to this host and routes all known devices back to the
// root.
func (w *Walker) initSwitch(ctx context.Context, sw *registry.Device) error {
	if sw.Ops == nil {
		return nil
	}
	mt := sw.Maint(w.MPort.Transport)
	if sw.UpdateLUT.Load() {
		if err := sw.Ops.ClearTable(ctx, mt, w.MPort.Large); err != nil {
			return err
		}
	}
	if sw.Legacy {
		log.FromCtx(ctx).Debug("Skipping port-write setup of legacy switch",
			"destid", sw.DestID)
	} else if err := sw.Ops.EMInit(ctx, mt, w.MPort.HostDestID); err != nil {
		log.FromCtx(ctx).Info("Port-write setup failed", "destid", sw.DestID, "err", err)
	}
	return w.Routes.SeedSwitch(ctx, sw)
}

// redundant handles a device whose lock this host already holds.
func (w *Walker) redundant(ctx context.Context, key destid.Key, probe rio.Maint,
	res *Result) error {

	w.trace(ctx, key, StateRedundant)
	did, err := probe.Read(ctx, rio.DIDCSR)
	if err != nil {
		return err
	}
	tag, err := probe.Read(ctx, rio.CompTagCSR)
	if err != nil {
		return err
	}
	return w.block(ctx, key, rio.DecodeDestID(did, w.MPort.Large), rio.CompTag(tag), res)
}

// block records key as a redundant edge to the device with destid.
func (w *Walker) block(ctx context.Context, key destid.Key, id rio.DestID,
	tag rio.CompTag, res *Result) error {

	err := w.table().Add(key, id, tag, destid.Redundant|destid.Blocked, rio.InvalidRoute)
	if err != nil && !errors.Is(err, destid.ErrBusy) {
		return err
	}
	res.Blocked = append(res.Blocked, key)
	w.trace(ctx, key, StateBlocked, "destid", id)
	log.FromCtx(ctx).Debug("Redundant path", "edge", key, "destid", id)
	return nil
}

// knownTag returns the registered device with the component tag, if any.
func (w *Walker) knownTag(tag rio.CompTag) *registry.Device {
	if tag == 0 {
		return nil
	}
	d, ok := w.Registry.ByCompTag(tag)
	if !ok {
		return nil
	}
	w.Registry.Put(d)
	return d
}

// scanPorts explores every active port of sw except the one it was entered
// through. Ports are explored sequentially. Errors abort only the branch of
// the port unless they are ErrAbort. A port whose status cannot be read is
// skipped.
func (w *Walker) scanPorts(ctx context.Context, sw *registry.Device, explore probeFunc,
	res *Result) error {

	logger := log.FromCtx(ctx)
	w.trace(ctx, sw.Key, StatePortScan, "destid", sw.DestID, "ports", sw.PortCount)
	mt := sw.Maint(w.MPort.Transport)
	for i := 0; i < sw.PortCount; i++ {
		p := rio.Port(i)
		if p == sw.InPort {
			continue
		}
		if w.Config.Boundary != nil && w.Config.Boundary(sw.DestID, p) {
			logger.Debug("Enumeration boundary", "switch", sw.DestID, "port", p)
			continue
		}
		active, err := w.portUsable(ctx, mt, sw.EFB, p)
		if err != nil {
			if ctx.Err() != nil {
				return serrors.JoinNoStack(ErrAbort, err)
			}
			logger.Error("Port status read failed", "switch", sw.DestID, "port", p, "err", err)
			continue
		}
		if !active {
			continue
		}
		w.trace(ctx, destid.Key{Hop: sw.Hop + 1, ParentPort: p, ParentDestID: sw.DestID},
			StateChildRecurse)
		if err := explore(ctx, sw, p, res); err != nil {
			if errors.Is(err, ErrAbort) {
				return err
			}
			logger.Error("Walk branch failed", "switch", sw.DestID, "port", p, "err", err)
		}
	}
	return nil
}

// portUsable reports whether port is neither locked out nor down.
func (w *Walker) portUsable(ctx context.Context, mt rio.Maint, efb uint32,
	port rio.Port) (bool, error) {

	ctl, err := mt.PortCtl(ctx, efb, port)
	if err != nil {
		return false, err
	}
	if ctl&rio.PortCtlLockout != 0 {
		return false, nil
	}
	return mt.PortActive(ctx, efb, port)
}

// discover reads the identity of the device behind port of parent.
func (w *Walker) discover(ctx context.Context, parent *registry.Device, port rio.Port,
	res *Result) error {

	key, done, err := w.edge(ctx, parent, port, w.discover, res)
	if done || err != nil {
		return err
	}
	probeID, ok, err := w.probeDestID(ctx, parent, port)
	if err != nil || !ok {
		return err
	}
	probe := rio.Maint{T: w.MPort.Transport, DestID: probeID, Hop: key.Hop}
	did, err := probe.Read(ctx, rio.DIDCSR)
	if err != nil {
		return err
	}
	tag, err := probe.Read(ctx, rio.CompTagCSR)
	if err != nil {
		return err
	}
	id := rio.DecodeDestID(did, w.MPort.Large)
	if existing := w.knownTag(rio.CompTag(tag)); existing != nil {
		return w.block(ctx, key, existing.DestID, existing.CompTag, res)
	}
	if _, ok := w.Registry.Lookup(id); ok {
		return w.block(ctx, key, id, rio.CompTag(tag), res)
	}

	d := registry.NewDevice()
	if err := w.identify(ctx, probe, d); err != nil {
		return err
	}
	d.DestID = id
	d.Hop = key.Hop
	d.PrevDestID = key.ParentDestID
	d.PrevPort = key.ParentPort
	d.Key = key
	d.CompTag = rio.CompTag(tag)
	d.ReturnPort = rio.InvalidRoute
	if d.IsSwitch() {
		d.ReturnPort = d.InPort
	}
	w.trace(ctx, key, StateIdentified, "destid", id, "comptag", d.CompTag)
	if err := w.table().Add(key, id, d.CompTag, 0, d.ReturnPort); err != nil {
		if errors.Is(err, destid.ErrBusy) {
			return nil
		}
		return err
	}
	if err := w.Registry.Insert(d); err != nil {
		if rerr := w.table().Release(key); rerr != nil {
			log.FromCtx(ctx).Error("Failed to release destid", "edge", key, "err", rerr)
		}
		if errors.Is(err, registry.ErrBusy) {
			return nil
		}
		return err
	}
	res.Added = append(res.Added, d)
	if !d.IsSwitch() {
		w.trace(ctx, key, StateRegistered, "destid", id)
		return nil
	}
	return w.scanPorts(ctx, d, w.discover, res)
}

// probeDestID finds a destid that is routed out of port of parent. Devices
// attached to the host are reached with the any-destid.
func (w *Walker) probeDestID(ctx context.Context, parent *registry.Device,
	port rio.Port) (rio.DestID, bool, error) {

	if parent.IsHost() {
		return w.MPort.AnyDestID(), true, nil
	}
	if parent.Ops == nil {
		return 0, false, nil
	}
	limit := w.Config.ScanLimit
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if n := rio.MaxDestIDs(w.MPort.Large); limit > n {
		limit = n
	}
	mt := parent.Maint(w.MPort.Transport)
	for i := 0; i < limit; i++ {
		id := rio.DestID(i)
		if id == parent.DestID || id == w.MPort.AnyDestID() {
			continue
		}
		p, err := parent.Ops.GetRoute(ctx, mt, id)
		if err != nil {
			return 0, false, err
		}
		if p == port {
			return id, true, nil
		}
	}
	log.FromCtx(ctx).Debug("No destid routed to port", "switch", parent.DestID, "port", port)
	return 0, false, nil
}

// Release finishes a walk. The enumerator sets the discovered flag on every
// new endpoint and on its own port, then all locks held by this host are
// released in reverse order.
func (w *Walker) Release(ctx context.Context, res *Result) {
	logger := log.FromCtx(ctx)
	if res.Enumerated {
		for _, d := range res.Added {
			if d.IsSwitch() || d.EFB == 0 {
				continue
			}
			set := rio.PortGenDiscovered
			if d.IsHost() {
				set |= rio.PortGenHost | rio.PortGenMaster
			}
			mt := d.Maint(w.MPort.Transport)
			if err := mt.Modify(ctx, d.EFB+rio.PortGenCtl, set, 0); err != nil {
				logger.Error("Failed to set discovered flag", "destid", d.DestID, "err", err)
			}
		}
	}
	for i := len(res.Locked) - 1; i >= 0; i-- {
		d := res.Locked[i]
		if !d.HWLocked.Load() {
			continue
		}
		if err := w.Locks.Unlock(ctx, d.DestID, d.Hop); err != nil {
			logger.Error("Failed to release lock", "destid", d.DestID, "err", err)
			continue
		}
		d.HWLocked.Store(false)
	}
	res.Locked = nil
}
