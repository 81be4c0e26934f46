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

// Package registry contains the device registry of a network. It indexes the
// device records by destid and component tag and counts their references.
//
// Readers iterate over snapshots. Every mutation increments the generation so
// that Sweep can detect changes that happened during a pass.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/network"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// DefaultSweepRetries bounds the number of passes of Sweep.
const DefaultSweepRetries = 3

var (
	// ErrBusy is returned if a device with the same destid is registered.
	ErrBusy = errors.New("destid already registered")
	// ErrNotFound is returned if the device is not registered.
	ErrNotFound = errors.New("device not registered")
	// ErrChanged is returned by Sweep if the registry kept changing.
	ErrChanged = errors.New("registry changed during sweep")
)

// Tags are the per-record tags.
type Tags uint8

const (
	// TagNotAdded is set until the device is promoted.
	TagNotAdded Tags = 1 << iota
	// TagSwitch is set for switches.
	TagSwitch
	// TagDisabled is set for devices that must not be used.
	TagDisabled
)

// Registry is the device registry of one network.
type Registry struct {
	net       *network.Network
	table     *destid.Table
	onDestroy func(*Device)

	mu    sync.RWMutex
	devs  map[rio.DestID]*Device
	byTag map[rio.CompTag]*Device
	tags  map[rio.DestID]Tags
	gen   uint64
}

// New creates a registry. onDestroy is called once the last reference to a
// device is dropped; it may be nil.
func New(net *network.Network, table *destid.Table, onDestroy func(*Device)) *Registry {
	return &Registry{
		net:       net,
		table:     table,
		onDestroy: onDestroy,
		devs:      make(map[rio.DestID]*Device),
		byTag:     make(map[rio.CompTag]*Device),
		tags:      make(map[rio.DestID]Tags),
	}
}

// Network returns the network of the registry.
func (r *Registry) Network() *network.Network {
	return r.net
}

// Table returns the destid table of the network.
func (r *Registry) Table() *destid.Table {
	return r.table
}

// Insert registers d tagged as not added. It pins the destid table entry of
// the parent edge, the entry of the registered parent switch and the
// network, and takes the registry reference. Pinned entries cannot be
// released, so a parent's entry outlives the records of its children.
func (r *Registry) Insert(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devs[d.DestID]; ok {
		return serrors.JoinNoStack(ErrBusy, nil, "destid", d.DestID)
	}
	if !d.IsHost() {
		if err := r.table.Pin(d.Key); err != nil {
			return err
		}
		if p, ok := r.devs[d.Key.ParentDestID]; ok && d.Hop > 0 && !p.IsHost() {
			if err := r.table.Pin(p.Key); err != nil {
				_ = r.table.Unpin(d.Key)
				return err
			}
			key := p.Key
			d.pinned = &key
		}
	}
	r.net.Pin()
	d.refs.Add(1)
	r.devs[d.DestID] = d
	if d.CompTag != 0 {
		r.byTag[d.CompTag] = d
	}
	tags := TagNotAdded
	if d.IsSwitch() {
		tags |= TagSwitch
	}
	r.tags[d.DestID] = tags
	r.gen++
	return nil
}

// Remove unregisters d, unpins the table entries pinned by Insert and the
// network, and drops the registry reference. It reports whether the network is no longer pinned.
func (r *Registry) Remove(d *Device) (bool, error) {
	r.mu.Lock()
	if cur, ok := r.devs[d.DestID]; !ok || cur != d {
		r.mu.Unlock()
		return false, serrors.JoinNoStack(ErrNotFound, nil, "destid", d.DestID)
	}
	delete(r.devs, d.DestID)
	delete(r.tags, d.DestID)
	if r.byTag[d.CompTag] == d {
		delete(r.byTag, d.CompTag)
	}
	r.gen++
	r.mu.Unlock()

	var errs serrors.List
	if !d.IsHost() {
		if err := r.table.Unpin(d.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if d.pinned != nil {
		if err := r.table.Unpin(*d.pinned); err != nil {
			errs = append(errs, err)
		}
		d.pinned = nil
	}
	empty := r.net.Unpin()
	r.Put(d)
	return empty, errs.ToError()
}

// Get returns the device with destid and takes a reference. The caller must
// call Put.
func (r *Registry) Get(id rio.DestID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devs[id]
	if ok {
		d.refs.Add(1)
	}
	return d, ok
}

// Lookup returns the device with destid without taking a reference.
func (r *Registry) Lookup(id rio.DestID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devs[id]
	return d, ok
}

// ByCompTag returns the device with the component tag and takes a
// reference. The caller must call Put.
func (r *Registry) ByCompTag(tag rio.CompTag) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byTag[tag]
	if ok {
		d.refs.Add(1)
	}
	return d, ok
}

// Put drops a reference. The destruction callback runs when the last
// reference is dropped.
func (r *Registry) Put(d *Device) {
	switch n := d.refs.Add(-1); {
	case n == 0:
		if r.onDestroy != nil {
			r.onDestroy(d)
		}
	case n < 0:
		panic("registry: negative device reference count")
	}
}

// Promote clears the not-added tag of d and drops the provisional reference.
// It reports false if d was already promoted.
func (r *Registry) Promote(d *Device) bool {
	r.mu.Lock()
	tags, ok := r.tags[d.DestID]
	if !ok || r.devs[d.DestID] != d || tags&TagNotAdded == 0 {
		r.mu.Unlock()
		return false
	}
	r.tags[d.DestID] = tags &^ TagNotAdded
	r.gen++
	r.mu.Unlock()
	r.Put(d)
	return true
}

// SetTag sets tags on the record of destid.
func (r *Registry) SetTag(id rio.DestID, t Tags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devs[id]; ok {
		r.tags[id] |= t
		r.gen++
	}
}

// ClearTag clears tags on the record of destid.
func (r *Registry) ClearTag(id rio.DestID, t Tags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devs[id]; ok {
		r.tags[id] &^= t
		r.gen++
	}
}

// HasTag reports whether all of t are set on the record of destid.
func (r *Registry) HasTag(id rio.DestID, t Tags) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tags[id]&t == t && r.devs[id] != nil
}

// Tagged returns the devices carrying all of t sorted by destid.
func (r *Registry) Tagged(t Tags) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var devs []*Device
	for id, d := range r.devs {
		if r.tags[id]&t == t {
			devs = append(devs, d)
		}
	}
	sortDevices(devs)
	return devs
}

// Snapshot returns the registered devices sorted by destid and the
// generation the snapshot was taken at.
func (r *Registry) Snapshot() ([]*Device, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devs := make([]*Device, 0, len(r.devs))
	for _, d := range r.devs {
		devs = append(devs, d)
	}
	sortDevices(devs)
	return devs, r.gen
}

// Generation returns the current generation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devs)
}

// Sweep calls visit for every registered device. If the registry changed
// during the pass, the pass is repeated up to retries times. An error of
// visit aborts the sweep.
func (r *Registry) Sweep(retries int, visit func(*Device) error) error {
	for i := 0; i <= retries; i++ {
		devs, gen := r.Snapshot()
		for _, d := range devs {
			if err := visit(d); err != nil {
				return err
			}
		}
		if r.Generation() == gen {
			return nil
		}
	}
	return serrors.JoinNoStack(ErrChanged, nil, "retries", retries)
}

func sortDevices(devs []*Device) {
	sort.Slice(devs, func(i, j int) bool { return devs[i].DestID < devs[j].DestID })
}
