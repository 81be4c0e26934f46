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

// Package rio models the RapidIO register space the fabric manager works on.
// It defines the addressing types, the standard CAR/CSR layout, the register
// transport used to reach remote devices through maintenance transactions and
// the port-write message format.
//
// Remote registers are addressed by a destination ID and a hop count: a
// maintenance packet is routed by the switch lookup tables using the
// destination ID and is consumed by the device at which the hop count reaches
// zero.
package rio

import "fmt"

// DestID is a RapidIO destination ID. Small systems use 8-bit IDs, large
// systems 16-bit IDs.
type DestID uint16

// CompTag is the component tag a host writes to identify a device.
type CompTag uint32

// Port is a switch or endpoint port number.
type Port uint8

// Hop is a maintenance hop count.
type Hop uint8

const (
	// AnyDestID8 is the any-destid sentinel of small systems. Devices whose
	// ID has not been assigned yet are reached through it.
	AnyDestID8 DestID = 0xff
	// AnyDestID16 is the any-destid sentinel of large systems.
	AnyDestID16 DestID = 0xffff
	// InvalidRoute is the port value of an unprogrammed LUT entry.
	InvalidRoute Port = 0xff
	// LockFree is the value of an unlocked host-device-id lock CSR.
	LockFree uint32 = 0xffff
	// HopLocal marks the local master port's own register space. It is not a
	// real hop count; accesses with it go through the local config path.
	HopLocal Hop = 0xff
)

// AnyDestID returns the any-destid sentinel for the system size.
func AnyDestID(large bool) DestID {
	if large {
		return AnyDestID16
	}
	return AnyDestID8
}

// MaxDestIDs returns the size of the destid space for the system size.
func MaxDestIDs(large bool) int {
	if large {
		return 1 << 16
	}
	return 1 << 8
}

func (d DestID) String() string {
	return fmt.Sprintf("0x%02x", uint16(d))
}

func (c CompTag) String() string {
	return fmt.Sprintf("0x%08x", uint32(c))
}

func (h Hop) String() string {
	if h == HopLocal {
		return "local"
	}
	return fmt.Sprint(uint8(h))
}
