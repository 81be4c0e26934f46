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

package rio

// Capability registers (CARs).
const (
	DevIDCAR      uint32 = 0x00
	DevInfoCAR    uint32 = 0x04
	AsmIDCAR      uint32 = 0x08
	AsmInfoCAR    uint32 = 0x0c
	PEFCAR        uint32 = 0x10
	SwitchPortCAR uint32 = 0x14
)

// Command and status registers (CSRs).
const (
	DIDCSR          uint32 = 0x60
	HostDIDLockCSR  uint32 = 0x68
	CompTagCSR      uint32 = 0x6c
	StdRteDestIDSel uint32 = 0x70
	StdRtePortSel   uint32 = 0x74
	StdRteDefPort   uint32 = 0x78
)

// Processing element feature bits.
const (
	PEFBridge      uint32 = 0x80000000
	PEFMemory      uint32 = 0x40000000
	PEFProcessor   uint32 = 0x20000000
	PEFSwitch      uint32 = 0x10000000
	PEFStdRoute    uint32 = 0x00000100
	PEFCTLS        uint32 = 0x00000010
	PEFExtFeatures uint32 = 0x00000008
)

// Extended feature block IDs.
const (
	EFBSerialEP     uint16 = 0x0001
	EFBSerialEPRec  uint16 = 0x0002
	EFBSerialEPFree uint16 = 0x0003
	EFBErrMgmt      uint16 = 0x0007
	EFBSerialSwitch uint16 = 0x0009
)

// LP-serial port maintenance block. Offsets are relative to the extended
// feature block; per-port registers are at PortBase + n*PortStride.
const (
	PortGenCtl    uint32 = 0x3c
	PortBase      uint32 = 0x40
	PortStride    uint32 = 0x20
	PortLinkReq   uint32 = 0x00
	PortLinkResp  uint32 = 0x04
	PortAckIDStat uint32 = 0x08
	PortErrStat   uint32 = 0x18
	PortCtl       uint32 = 0x1c
)

// Port general control bits.
const (
	PortGenHost       uint32 = 0x80000000
	PortGenMaster     uint32 = 0x40000000
	PortGenDiscovered uint32 = 0x20000000
)

// Port error and status bits.
const (
	PortErrUninit  uint32 = 0x00000001
	PortErrOK      uint32 = 0x00000002
	PortErrErr     uint32 = 0x00000004
	PortErrPWPend  uint32 = 0x00000010
	PortErrInpES   uint32 = 0x00000100
	PortErrOutES   uint32 = 0x00010000
	PortErrSticky         = PortErrPWPend | PortErrInpES | PortErrOutES
	PortErrStopped        = PortErrInpES | PortErrOutES
)

// Port control bits.
const (
	PortCtlDisable uint32 = 0x00800000
	PortCtlLockout uint32 = 0x00000002
)

// Link maintenance request and response.
const (
	LinkCmdInputStatus uint32 = 0x4
	LinkRespValid      uint32 = 0x80000000
	LinkRespAckIDShift        = 5
	LinkRespAckIDMask  uint32 = 0x1f
	LinkRespStatusMask uint32 = 0x1f
)

// Ack ID status fields.
const (
	AckIDClear          uint32 = 0x80000000
	AckIDInboundShift          = 24
	AckIDOutstandShift         = 8
	AckIDMask           uint32 = 0x3f
)

// Error management block. The port-write target holds the destid that
// receives port-writes from the device.
const (
	EMPortWriteTarget uint32 = 0x28
	PWTargetEnable    uint32 = 0x80000000
)

// IDT CPS family vendor specific registers. The route select broadcast bit
// makes the next port select write apply to every LUT entry.
const (
	VendorIDT          uint16 = 0x0038
	IDTRouteBroadcast  uint32 = 0x80000000
	IDTPortWriteTarget uint32 = 0x00f00028
)

// maxEFBChain bounds the walk along the extended feature chain.
const maxEFBChain = 32

// PortReg returns the offset of a per-port register relative to the
// extended feature block.
func PortReg(efb uint32, port Port, reg uint32) uint32 {
	return efb + PortBase + uint32(port)*PortStride + reg
}

// DevID returns the vendor and device identity from the device-id CAR.
func DevID(car uint32) (vendor, device uint16) {
	return uint16(car), uint16(car >> 16)
}

// EFBHeader splits an extended feature block header into the pointer to the
// next block and the block ID.
func EFBHeader(h uint32) (next uint32, id uint16) {
	return h >> 16, uint16(h)
}

// SwitchPorts returns the port total and the entry port of a switch-port CAR.
func SwitchPorts(car uint32) (total int, entry Port) {
	return int((car >> 8) & 0xff), Port(car)
}

// EncodeDestID returns the base-device-id CSR value for destid.
func EncodeDestID(destid DestID, large bool) uint32 {
	if large {
		return uint32(destid)
	}
	return uint32(destid&0xff) << 16
}

// DecodeDestID extracts the destid from a base-device-id CSR value.
func DecodeDestID(csr uint32, large bool) DestID {
	if large {
		return DestID(csr & 0xffff)
	}
	return DestID((csr >> 16) & 0xff)
}

// IsSerialEFB reports whether id is one of the LP-serial port maintenance
// blocks.
func IsSerialEFB(id uint16) bool {
	switch id {
	case EFBSerialEP, EFBSerialEPRec, EFBSerialEPFree, EFBSerialSwitch:
		return true
	}
	return false
}
