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

package hotplug

import (
	"context"
	"time"

	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// linkRespInterval is the poll interval for link maintenance responses.
const linkRespInterval = time.Millisecond

// partner returns the registered device attached to port of sw and the port
// it is attached with.
func partner(n *Net, sw *registry.Device, port rio.Port) (*registry.Device, rio.Port, bool) {
	key := destid.Key{Hop: sw.ChildHop(), ParentPort: port, ParentDestID: sw.DestID}
	e, ok := n.Registry.Table().Lookup(key)
	if !ok || e.Flags.Has(destid.Blocked) {
		return nil, 0, false
	}
	d, ok := n.Registry.Lookup(e.DestID)
	if !ok || d.Key != key || d.EFB == 0 || d.Legacy {
		return nil, 0, false
	}
	return d, d.InPort, true
}

// SyncAckIDs aligns the ackIDs of port of sw with its link partner. It
// issues an input-status link request, waits for the response and writes
// the partner's expected ackID to the outstanding and outbound fields of
// the port. If the partner is a registered device that is not legacy, its
// ackIDs are aligned as well.
func (h *Handler) SyncAckIDs(ctx context.Context, n *Net, sw *registry.Device,
	port rio.Port) error {

	mt := sw.Maint(n.MPort.Transport)
	resp, err := inputStatus(ctx, mt, sw.EFB, port, h.ackIDTimeout)
	if err != nil {
		return err
	}
	far := (resp >> rio.LinkRespAckIDShift) & rio.LinkRespAckIDMask
	ackReg := rio.PortReg(sw.EFB, port, rio.PortAckIDStat)
	st, err := mt.Read(ctx, ackReg)
	if err != nil {
		return err
	}
	near := (st >> rio.AckIDInboundShift) & rio.AckIDMask
	outstanding := (st >> rio.AckIDOutstandShift) & rio.AckIDMask
	outbound := st & rio.AckIDMask
	if outstanding == far && outbound == far {
		return nil
	}
	log.FromCtx(ctx).Debug("Aligning ackIDs", "switch", sw.DestID, "port", port,
		"near", near, "far", far)
	err = mt.Write(ctx, ackReg, near<<rio.AckIDInboundShift|far<<rio.AckIDOutstandShift|far)
	if err != nil {
		return err
	}
	peer, peerPort, ok := partner(n, sw, port)
	if !ok {
		return nil
	}
	far = (far + 1) & rio.AckIDMask
	return peer.Maint(n.MPort.Transport).Write(ctx,
		rio.PortReg(peer.EFB, peerPort, rio.PortAckIDStat),
		far<<rio.AckIDInboundShift|near<<rio.AckIDOutstandShift|near)
}

// inputStatus sends an input-status link request on port and returns the
// valid response.
func inputStatus(ctx context.Context, mt rio.Maint, efb uint32, port rio.Port,
	timeout time.Duration) (uint32, error) {

	if err := mt.Write(ctx, rio.PortReg(efb, port, rio.PortLinkReq),
		rio.LinkCmdInputStatus); err != nil {
		return 0, err
	}
	var resp uint32
	err := lock.Poll(ctx, timeout, linkRespInterval, func() (bool, error) {
		var err error
		resp, err = mt.Read(ctx, rio.PortReg(efb, port, rio.PortLinkResp))
		return resp&rio.LinkRespValid != 0, err
	})
	if err != nil {
		return 0, serrors.Wrap("waiting for link response", err, "port", port)
	}
	return resp, nil
}

// RecoverPort clears the error-stopped state of port of sw. The ackIDs are
// resynchronized first if the output side is stopped; the sticky error bits
// are cleared afterwards. It returns an error if the port is still stopped.
func (h *Handler) RecoverPort(ctx context.Context, n *Net, sw *registry.Device,
	port rio.Port) error {

	mt := sw.Maint(n.MPort.Transport)
	st, err := mt.PortErrStat(ctx, sw.EFB, port)
	if err != nil {
		return err
	}
	if st&rio.PortErrStopped == 0 {
		return nil
	}
	logger := log.FromCtx(ctx)
	if st&rio.PortErrOutES != 0 {
		if err := h.SyncAckIDs(ctx, n, sw, port); err != nil {
			logger.Error("AckID synchronization failed", "switch", sw.DestID,
				"port", port, "err", err)
		}
	}
	if st&rio.PortErrInpES != 0 {
		if peer, peerPort, ok := partner(n, sw, port); ok {
			_, err := inputStatus(ctx, peer.Maint(n.MPort.Transport), peer.EFB, peerPort,
				h.ackIDTimeout)
			if err != nil {
				logger.Debug("Partner input-status failed", "destid", peer.DestID, "err", err)
			}
		}
	}
	errStat := rio.PortReg(sw.EFB, port, rio.PortErrStat)
	if err := mt.Write(ctx, errStat, st&rio.PortErrStopped); err != nil {
		return err
	}
	if st, err = mt.Read(ctx, errStat); err != nil {
		return err
	}
	if st&rio.PortErrStopped != 0 {
		return serrors.New("port still error-stopped", "switch", sw.DestID, "port", port,
			"status", st)
	}
	logger.Info("Recovered error-stopped port", "switch", sw.DestID, "port", port)
	return nil
}
