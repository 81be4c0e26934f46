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

package switches

import (
	"context"

	"github.com/openrio/riofab/pkg/rio"
)

// Standard programs switches through the standard route configuration
// registers.
type Standard struct{}

// AddRoute implements Ops.
func (Standard) AddRoute(ctx context.Context, m rio.Maint, destid rio.DestID,
	port rio.Port) error {

	if err := m.Write(ctx, rio.StdRteDestIDSel, uint32(destid)); err != nil {
		return err
	}
	return m.Write(ctx, rio.StdRtePortSel, uint32(port))
}

// GetRoute implements Ops.
func (Standard) GetRoute(ctx context.Context, m rio.Maint, destid rio.DestID) (rio.Port, error) {
	if err := m.Write(ctx, rio.StdRteDestIDSel, uint32(destid)); err != nil {
		return 0, err
	}
	v, err := m.Read(ctx, rio.StdRtePortSel)
	if err != nil {
		return 0, err
	}
	return rio.Port(v), nil
}

// ClearTable implements Ops. Every entry is written individually.
func (s Standard) ClearTable(ctx context.Context, m rio.Maint, large bool) error {
	for id := 0; id < rio.MaxDestIDs(large); id++ {
		if err := s.AddRoute(ctx, m, rio.DestID(id), rio.InvalidRoute); err != nil {
			return err
		}
	}
	return nil
}

// EMInit implements Ops. It programs the port-write target of the error
// management block.
func (Standard) EMInit(ctx context.Context, m rio.Maint, host rio.DestID) error {
	em, err := m.FindExtFeature(ctx, func(id uint16) bool { return id == rio.EFBErrMgmt })
	if err != nil {
		return err
	}
	return m.Write(ctx, em+rio.EMPortWriteTarget, rio.PWTargetEnable|uint32(host))
}

// EMHandle implements Ops. It clears the port-write pending bit of port.
func (Standard) EMHandle(ctx context.Context, m rio.Maint, port rio.Port) error {
	efb, err := m.SerialEFB(ctx)
	if err != nil {
		return err
	}
	return m.Write(ctx, rio.PortReg(efb, port, rio.PortErrStat), rio.PortErrPWPend)
}
