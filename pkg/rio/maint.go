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

import (
	"context"
	"errors"
	"fmt"

	"github.com/openrio/riofab/pkg/private/serrors"
)

// ErrNoExtFeature is returned by FindExtFeature if the device does not
// implement the requested extended feature block.
var ErrNoExtFeature = errors.New("extended feature not found")

// Maint binds a transport to one device. A Maint with Hop equal to HopLocal
// accesses the local master port.
type Maint struct {
	T      Transport
	DestID DestID
	Hop    Hop
}

// Local returns the accessor for the local master port registers.
func Local(t Transport) Maint {
	return Maint{T: t, Hop: HopLocal}
}

// IsLocal reports whether m addresses the local master port.
func (m Maint) IsLocal() bool {
	return m.Hop == HopLocal
}

// Read reads the register at offset.
func (m Maint) Read(ctx context.Context, offset uint32) (uint32, error) {
	var v uint32
	var err error
	if m.IsLocal() {
		v, err = m.T.LocalReadConfig(ctx, offset)
	} else {
		v, err = m.T.ReadConfig(ctx, m.DestID, m.Hop, offset)
	}
	if err != nil {
		return 0, m.wrap("reading register", err, offset)
	}
	return v, nil
}

// Write writes val to the register at offset.
func (m Maint) Write(ctx context.Context, offset, val uint32) error {
	var err error
	if m.IsLocal() {
		err = m.T.LocalWriteConfig(ctx, offset, val)
	} else {
		err = m.T.WriteConfig(ctx, m.DestID, m.Hop, offset, val)
	}
	if err != nil {
		return m.wrap("writing register", err, offset)
	}
	return nil
}

// Modify sets the bits in set and clears the bits in clear with a
// read-modify-write cycle.
func (m Maint) Modify(ctx context.Context, offset, set, clear uint32) error {
	v, err := m.Read(ctx, offset)
	if err != nil {
		return err
	}
	return m.Write(ctx, offset, (v&^clear)|set)
}

func (m Maint) wrap(msg string, err error, offset uint32) error {
	if !errors.Is(err, ErrAccess) {
		err = serrors.JoinNoStack(ErrAccess, err)
	}
	return serrors.WrapNoStack(msg, err, "destid", m.DestID, "hop", m.Hop,
		"offset", fmt.Sprintf("0x%x", offset))
}

// FindExtFeature walks the extended feature chain and returns the offset of
// the first block for which match returns true. The walk is bounded so that a
// corrupt chain cannot loop.
func (m Maint) FindExtFeature(ctx context.Context, match func(id uint16) bool) (uint32, error) {
	pef, err := m.Read(ctx, PEFCAR)
	if err != nil {
		return 0, err
	}
	if pef&PEFExtFeatures == 0 {
		return 0, serrors.JoinNoStack(ErrNoExtFeature, nil, "destid", m.DestID, "hop", m.Hop)
	}
	asm, err := m.Read(ctx, AsmInfoCAR)
	if err != nil {
		return 0, err
	}
	ptr := asm & 0xffff
	for i := 0; ptr != 0 && i < maxEFBChain; i++ {
		h, err := m.Read(ctx, ptr)
		if err != nil {
			return 0, err
		}
		next, id := EFBHeader(h)
		if match(id) {
			return ptr, nil
		}
		ptr = next
	}
	return 0, serrors.JoinNoStack(ErrNoExtFeature, nil, "destid", m.DestID, "hop", m.Hop)
}

// SerialEFB returns the offset of the LP-serial port maintenance block.
func (m Maint) SerialEFB(ctx context.Context) (uint32, error) {
	return m.FindExtFeature(ctx, IsSerialEFB)
}

// PortErrStat reads the error and status CSR of port.
func (m Maint) PortErrStat(ctx context.Context, efb uint32, port Port) (uint32, error) {
	return m.Read(ctx, PortReg(efb, port, PortErrStat))
}

// PortCtl reads the control CSR of port.
func (m Maint) PortCtl(ctx context.Context, efb uint32, port Port) (uint32, error) {
	return m.Read(ctx, PortReg(efb, port, PortCtl))
}

// PortActive reports whether the link on port is initialized and OK.
func (m Maint) PortActive(ctx context.Context, efb uint32, port Port) (bool, error) {
	st, err := m.PortErrStat(ctx, efb, port)
	if err != nil {
		return false, err
	}
	return st&PortErrOK != 0, nil
}
