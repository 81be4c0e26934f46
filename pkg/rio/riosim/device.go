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

package riosim

import (
	"github.com/openrio/riofab/pkg/rio"
)

// Offsets of the extended feature blocks of every simulated device.
const (
	serialEFB uint32 = 0x100
	emEFB     uint32 = 0x400
)

type port struct {
	peer     *device
	peerPort int
	ctl      uint32
	sticky   uint32
	ackID    uint32
	linkResp uint32
}

type device struct {
	spec    DeviceSpec
	large   bool
	regs    map[uint32]uint32
	ports   []port
	lut     map[rio.DestID]rio.Port
	lutFill rio.Port
	rteSel  uint32
	lock    uint32
	failing bool
}

func newDevice(spec DeviceSpec, large bool) *device {
	if spec.Ports == 0 {
		spec.Ports = 1
	}
	d := &device{
		spec:    spec,
		large:   large,
		regs:    make(map[uint32]uint32),
		ports:   make([]port, spec.Ports),
		lut:     make(map[rio.DestID]rio.Port),
		lutFill: rio.InvalidRoute,
		lock:    rio.LockFree,
	}
	// Reset value of the base device ID is the any-destid.
	d.regs[rio.DIDCSR] = rio.EncodeDestID(rio.AnyDestID(large), large)
	return d
}

func (d *device) isSwitch() bool {
	return d.spec.Kind == KindSwitch
}

func (d *device) destID() rio.DestID {
	return rio.DecodeDestID(d.regs[rio.DIDCSR], d.large)
}

func (d *device) linkUp(n int) bool {
	if n < 0 || n >= len(d.ports) {
		return false
	}
	p := &d.ports[n]
	if p.peer == nil || p.ctl&rio.PortCtlDisable != 0 {
		return false
	}
	return p.peer.ports[p.peerPort].ctl&rio.PortCtlDisable == 0
}

func (d *device) route(destid rio.DestID) rio.Port {
	if p, ok := d.lut[destid]; ok {
		return p
	}
	return d.lutFill
}

// portReg decodes offset into a per-port register of the serial block.
func (d *device) portReg(offset uint32) (int, uint32, bool) {
	base := serialEFB + rio.PortBase
	if offset < base {
		return 0, 0, false
	}
	n := int((offset - base) / rio.PortStride)
	if n >= len(d.ports) {
		return 0, 0, false
	}
	return n, (offset - base) % rio.PortStride, true
}

func (d *device) read(offset uint32, ingress int) uint32 {
	switch offset {
	case rio.DevIDCAR, rio.AsmIDCAR:
		return uint32(d.spec.DeviceID)<<16 | uint32(d.spec.VendorID)
	case rio.AsmInfoCAR:
		return serialEFB
	case rio.PEFCAR:
		pef := rio.PEFExtFeatures
		switch d.spec.Kind {
		case KindSwitch:
			pef |= rio.PEFSwitch | rio.PEFStdRoute
		case KindHost:
			pef |= rio.PEFProcessor
		default:
			pef |= rio.PEFProcessor | rio.PEFMemory
		}
		if d.large {
			pef |= rio.PEFCTLS
		}
		return pef
	case rio.SwitchPortCAR:
		if !d.isSwitch() {
			return 0
		}
		return uint32(len(d.ports))<<8 | uint32(ingress)
	case rio.HostDIDLockCSR:
		return d.lock
	case rio.StdRteDestIDSel:
		return d.rteSel
	case rio.StdRtePortSel:
		if !d.isSwitch() {
			return 0
		}
		return uint32(d.route(rio.DestID(d.rteSel)))
	case serialEFB:
		id := rio.EFBSerialEP
		if d.isSwitch() {
			id = rio.EFBSerialSwitch
		}
		return emEFB<<16 | uint32(id)
	case emEFB:
		return uint32(rio.EFBErrMgmt)
	}
	if n, reg, ok := d.portReg(offset); ok {
		p := &d.ports[n]
		switch reg {
		case rio.PortErrStat:
			st := rio.PortErrUninit
			if d.linkUp(n) {
				st = rio.PortErrOK
			}
			return st | p.sticky
		case rio.PortCtl:
			return p.ctl
		case rio.PortAckIDStat:
			return p.ackID
		case rio.PortLinkResp:
			return p.linkResp
		case rio.PortLinkReq:
			return 0
		}
	}
	return d.regs[offset]
}

func (d *device) write(offset, val uint32) {
	switch offset {
	case rio.DevIDCAR, rio.DevInfoCAR, rio.AsmIDCAR, rio.AsmInfoCAR, rio.PEFCAR,
		rio.SwitchPortCAR, serialEFB, emEFB:
		return
	case rio.HostDIDLockCSR:
		val &= 0xffff
		switch d.lock {
		case rio.LockFree:
			d.lock = val
		case val:
			d.lock = rio.LockFree
		}
		return
	case rio.StdRteDestIDSel:
		d.rteSel = val
		return
	case rio.StdRtePortSel:
		if !d.isSwitch() {
			return
		}
		p := rio.Port(val)
		if d.spec.VendorID == rio.VendorIDT && d.rteSel&rio.IDTRouteBroadcast != 0 {
			d.lut = make(map[rio.DestID]rio.Port)
			d.lutFill = p
			return
		}
		destid := rio.DestID(d.rteSel)
		if p == d.lutFill {
			delete(d.lut, destid)
			return
		}
		d.lut[destid] = p
		return
	}
	if n, reg, ok := d.portReg(offset); ok {
		p := &d.ports[n]
		switch reg {
		case rio.PortErrStat:
			p.sticky &^= val & rio.PortErrSticky
		case rio.PortCtl:
			p.ctl = val
		case rio.PortAckIDStat:
			if val&rio.AckIDClear != 0 {
				p.ackID = 0
				return
			}
			p.ackID = val &^ rio.AckIDClear
		case rio.PortLinkReq:
			if val&0x7 != rio.LinkCmdInputStatus {
				return
			}
			resp := rio.LinkRespValid
			if d.linkUp(n) {
				peer := &p.peer.ports[p.peerPort]
				inbound := (peer.ackID >> rio.AckIDInboundShift) & rio.LinkRespAckIDMask
				resp |= inbound<<rio.LinkRespAckIDShift | 0x10
			}
			p.linkResp = resp
		}
		return
	}
	d.regs[offset] = val
}

// portWriteTarget returns the destid port-writes of the device are sent to.
func (d *device) portWriteTarget() (rio.DestID, bool) {
	t := d.regs[emEFB+rio.EMPortWriteTarget]
	if d.spec.VendorID == rio.VendorIDT && d.regs[rio.IDTPortWriteTarget] != 0 {
		t = d.regs[rio.IDTPortWriteTarget]
	}
	if t&rio.PWTargetEnable == 0 {
		return 0, false
	}
	return rio.DestID(t), true
}
