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

// Package riosim simulates a RapidIO fabric at register level. It implements
// rio.Transport for every host in the topology, routes maintenance
// transactions through the switch lookup tables by destid and hop count and
// emits port-writes when links change state.
//
// The simulator stands in for the hardware in tests and in the riofab binary
// when no hardware transport is configured.
package riosim

import (
	"context"
	"sort"
	"sync"

	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// Fabric is a simulated fabric. It is safe for concurrent use.
type Fabric struct {
	mu       sync.Mutex
	large    bool
	devices  map[string]*device
	handlers map[*device]func(rio.PortWrite)
	accesses int
}

// New builds the fabric described by topo.
func New(topo *Topology) (*Fabric, error) {
	f := &Fabric{
		large:    topo.Large,
		devices:  make(map[string]*device),
		handlers: make(map[*device]func(rio.PortWrite)),
	}
	for _, spec := range topo.Devices {
		if err := f.AddDevice(spec); err != nil {
			return nil, err
		}
	}
	for _, l := range topo.Links {
		a, ap, err := parseEnd(l.A)
		if err != nil {
			return nil, err
		}
		b, bp, err := parseEnd(l.B)
		if err != nil {
			return nil, err
		}
		if err := f.connect(a, ap, b, bp, false); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// AddDevice adds an unconnected device.
func (f *Fabric) AddDevice(spec DeviceSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[spec.Name]; ok {
		return serrors.New("duplicate device", "name", spec.Name)
	}
	f.devices[spec.Name] = newDevice(spec, f.large)
	return nil
}

// Connect links port ap of device a with port bp of device b. Switches on
// either end with a configured port-write target report the new link.
func (f *Fabric) Connect(a string, ap int, b string, bp int) error {
	return f.connect(a, ap, b, bp, true)
}

func (f *Fabric) connect(a string, ap int, b string, bp int, notify bool) error {
	f.mu.Lock()
	da, err := f.portLocked(a, ap)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	db, err := f.portLocked(b, bp)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if da.ports[ap].peer != nil || db.ports[bp].peer != nil {
		f.mu.Unlock()
		return serrors.New("port already connected", "a", a, "a_port", ap, "b", b, "b_port", bp)
	}
	da.ports[ap] = port{peer: db, peerPort: bp}
	db.ports[bp] = port{peer: da, peerPort: ap}
	var pws []delivery
	if notify {
		pws = f.linkEventLocked(da, ap, db, bp)
	}
	f.mu.Unlock()
	deliver(pws)
	return nil
}

// Disconnect removes the link on port p of device name.
func (f *Fabric) Disconnect(name string, p int) error {
	f.mu.Lock()
	d, err := f.portLocked(name, p)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	peer, pp := d.ports[p].peer, d.ports[p].peerPort
	if peer == nil {
		f.mu.Unlock()
		return serrors.New("port not connected", "name", name, "port", p)
	}
	d.ports[p] = port{ctl: d.ports[p].ctl}
	peer.ports[pp] = port{ctl: peer.ports[pp].ctl}
	pws := f.linkEventLocked(d, p, peer, pp)
	f.mu.Unlock()
	deliver(pws)
	return nil
}

// SetFailing makes every access to the device fail.
func (f *Fabric) SetFailing(name string, failing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	if !ok {
		return serrors.New("unknown device", "name", name)
	}
	d.failing = failing
	return nil
}

// InjectErrorStop sets the input and output error-stopped bits on a port and
// reports it with a port-write.
func (f *Fabric) InjectErrorStop(name string, p int) error {
	f.mu.Lock()
	d, err := f.portLocked(name, p)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	d.ports[p].sticky |= rio.PortErrStopped
	pws := f.portWriteLocked(nil, d, p)
	f.mu.Unlock()
	deliver(pws)
	return nil
}

// SetAckID sets the ackid status register of a port.
func (f *Fabric) SetAckID(name string, p int, val uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.portLocked(name, p)
	if err != nil {
		return err
	}
	d.ports[p].ackID = val
	return nil
}

// Register returns the value of a register of the device as seen through
// ingress port 0.
func (f *Fabric) Register(name string, offset uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	if !ok {
		return 0, serrors.New("unknown device", "name", name)
	}
	return d.read(offset, 0), nil
}

// PortRegister returns the value of a per-port register of the device.
func (f *Fabric) PortRegister(name string, p int, reg uint32) (uint32, error) {
	return f.Register(name, rio.PortReg(serialEFB, rio.Port(p), reg))
}

// Route returns the LUT entry of a switch for destid.
func (f *Fabric) Route(name string, destid rio.DestID) (rio.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	if !ok || !d.isSwitch() {
		return 0, serrors.New("unknown switch", "name", name)
	}
	return d.route(destid), nil
}

// Routes returns all programmed LUT entries of a switch.
func (f *Fabric) Routes(name string) (map[rio.DestID]rio.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	if !ok || !d.isSwitch() {
		return nil, serrors.New("unknown switch", "name", name)
	}
	routes := make(map[rio.DestID]rio.Port, len(d.lut))
	for k, v := range d.lut {
		routes[k] = v
	}
	return routes, nil
}

// DestID returns the base device ID of a device.
func (f *Fabric) DestID(name string) (rio.DestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	if !ok {
		return 0, serrors.New("unknown device", "name", name)
	}
	return d.destID(), nil
}

// Names returns the sorted names of all devices.
func (f *Fabric) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.devices))
	for n := range f.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Accesses returns the number of maintenance accesses served so far.
func (f *Fabric) Accesses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accesses
}

// MPort returns the transport of the master port of a host.
func (f *Fabric) MPort(name string) (*MPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	if !ok || d.spec.Kind != KindHost {
		return nil, serrors.New("unknown host", "name", name)
	}
	return &MPort{f: f, host: d}, nil
}

func (f *Fabric) portLocked(name string, p int) (*device, error) {
	d, ok := f.devices[name]
	if !ok {
		return nil, serrors.New("unknown device", "name", name)
	}
	if p < 0 || p >= len(d.ports) {
		return nil, serrors.New("invalid port", "name", name, "port", p)
	}
	return d, nil
}

// resolve follows a maintenance transaction from the host to its target.
func (f *Fabric) resolve(host *device, destid rio.DestID, hop rio.Hop) (*device, int, error) {
	if !host.linkUp(0) {
		return nil, 0, serrors.New("master port link down")
	}
	cur, in := host.ports[0].peer, host.ports[0].peerPort
	for h := int(hop); ; h-- {
		if cur.failing {
			return nil, 0, serrors.New("device not responding", "device", cur.spec.Name)
		}
		if h == 0 {
			return cur, in, nil
		}
		if !cur.isSwitch() {
			return nil, 0, serrors.New("hop count exceeds path", "device", cur.spec.Name,
				"remaining", h)
		}
		eg := cur.route(destid)
		if eg == rio.InvalidRoute || !cur.linkUp(int(eg)) {
			return nil, 0, serrors.New("no route", "device", cur.spec.Name,
				"destid", destid, "port", eg)
		}
		next := cur.ports[eg]
		cur, in = next.peer, next.peerPort
	}
}

type delivery struct {
	handler func(rio.PortWrite)
	pw      rio.PortWrite
}

func deliver(pws []delivery) {
	for _, d := range pws {
		d.handler(d.pw)
	}
}

func (f *Fabric) linkEventLocked(a *device, ap int, b *device, bp int) []delivery {
	pws := f.portWriteLocked(nil, a, ap)
	return f.portWriteLocked(pws, b, bp)
}

// portWriteLocked records a port event on a switch and queues the port-write
// for the host owning the configured target destid.
func (f *Fabric) portWriteLocked(pws []delivery, d *device, p int) []delivery {
	if !d.isSwitch() {
		return pws
	}
	target, ok := d.portWriteTarget()
	if !ok {
		return pws
	}
	d.ports[p].sticky |= rio.PortErrPWPend
	for host, h := range f.handlers {
		if host.destID() != target {
			continue
		}
		st := d.read(rio.PortReg(serialEFB, rio.Port(p), rio.PortErrStat), 0)
		pw := rio.NewPortWrite(rio.CompTag(d.regs[rio.CompTagCSR]), 0, rio.Port(p), st)
		pws = append(pws, delivery{handler: h, pw: pw})
	}
	return pws
}

// MPort is the master port of a simulated host. It implements rio.Transport
// and rio.PortWriteNotifier.
type MPort struct {
	f    *Fabric
	host *device
}

// ReadConfig implements rio.Transport.
func (m *MPort) ReadConfig(ctx context.Context, destid rio.DestID, hop rio.Hop,
	offset uint32) (uint32, error) {

	if err := ctx.Err(); err != nil {
		return 0, serrors.JoinNoStack(rio.ErrAccess, err)
	}
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	m.f.accesses++
	d, in, err := m.f.resolve(m.host, destid, hop)
	if err != nil {
		return 0, serrors.JoinNoStack(rio.ErrAccess, err)
	}
	return d.read(offset, in), nil
}

// WriteConfig implements rio.Transport.
func (m *MPort) WriteConfig(ctx context.Context, destid rio.DestID, hop rio.Hop,
	offset, val uint32) error {

	if err := ctx.Err(); err != nil {
		return serrors.JoinNoStack(rio.ErrAccess, err)
	}
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	m.f.accesses++
	d, _, err := m.f.resolve(m.host, destid, hop)
	if err != nil {
		return serrors.JoinNoStack(rio.ErrAccess, err)
	}
	d.write(offset, val)
	return nil
}

// LocalReadConfig implements rio.Transport.
func (m *MPort) LocalReadConfig(ctx context.Context, offset uint32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, serrors.JoinNoStack(rio.ErrAccess, err)
	}
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	return m.host.read(offset, 0), nil
}

// LocalWriteConfig implements rio.Transport.
func (m *MPort) LocalWriteConfig(ctx context.Context, offset, val uint32) error {
	if err := ctx.Err(); err != nil {
		return serrors.JoinNoStack(rio.ErrAccess, err)
	}
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	m.host.write(offset, val)
	return nil
}

// NotifyPortWrites implements rio.PortWriteNotifier. Port-writes targeted at
// this host's destid are passed to handler.
func (m *MPort) NotifyPortWrites(handler func(rio.PortWrite)) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if handler == nil {
		delete(m.f.handlers, m.host)
		return
	}
	m.f.handlers[m.host] = handler
}
