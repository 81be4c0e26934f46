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

package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/switches"
	"github.com/openrio/riofab/pkg/rio"
)

// Device is the record of a device in the fabric.
type Device struct {
	// DestID is the assigned destid.
	DestID rio.DestID
	// Hop is the hop count from the host. The host itself has rio.HopLocal.
	Hop rio.Hop
	// PrevDestID and PrevPort identify the parent edge.
	PrevDestID rio.DestID
	PrevPort   rio.Port
	// Key is the destid table key of the parent edge.
	Key      destid.Key
	CompTag  rio.CompTag
	VendorID uint16
	DeviceID uint16
	// PEF is the processing element features CAR.
	PEF uint32
	// EFB is the offset of the LP-serial port maintenance block.
	EFB uint32
	// LocalDomain is set if this host owns the device.
	LocalDomain bool
	UseHWLock   bool
	// Legacy devices are not set up for port-writes and their ackIDs are
	// never written.
	Legacy bool
	// ReturnPort is the egress port back toward the root.
	ReturnPort rio.Port
	// InPort is the port through which the device was entered.
	InPort    rio.Port
	PortCount int
	// Ops are the switch operations. Nil for endpoints.
	Ops switches.Ops

	// HWLocked is set while this host holds the device lock.
	HWLocked atomic.Bool
	// UpdateLUT is cleared if the routing table must not be changed.
	UpdateLUT atomic.Bool

	refs atomic.Int32
	// pinned is the parent's table key pinned by Insert, if any.
	pinned *destid.Key
}

// NewDevice returns a device holding the provisional reference of its
// creator.
func NewDevice() *Device {
	d := &Device{}
	d.refs.Store(1)
	return d
}

// IsSwitch reports whether the device is a switch.
func (d *Device) IsSwitch() bool {
	return d.PEF&rio.PEFSwitch != 0
}

// IsHost reports whether d is the local master port.
func (d *Device) IsHost() bool {
	return d.Hop == rio.HopLocal
}

// Maint returns the register accessor of the device.
func (d *Device) Maint(t rio.Transport) rio.Maint {
	if d.IsHost() {
		return rio.Local(t)
	}
	return rio.Maint{T: t, DestID: d.DestID, Hop: d.Hop}
}

// ChildHop is the hop count of the devices attached to d.
func (d *Device) ChildHop() rio.Hop {
	if d.IsHost() {
		return 0
	}
	return d.Hop + 1
}

// Refs returns the reference count.
func (d *Device) Refs() int {
	return int(d.refs.Load())
}

func (d *Device) String() string {
	kind := "ep"
	switch {
	case d.IsHost():
		kind = "host"
	case d.IsSwitch():
		kind = "sw"
	}
	return fmt.Sprintf("%s(%d@%s)", kind, d.DestID, d.Hop)
}
