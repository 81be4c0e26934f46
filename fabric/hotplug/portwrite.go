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
	"errors"
	"fmt"

	"github.com/patrickmn/go-cache"

	fabricmetrics "github.com/openrio/riofab/fabric/internal/metrics"
	"github.com/openrio/riofab/fabric/destid"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/prom"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// ErrCallbackExists is returned if a device already has a port-write
// callback.
var ErrCallbackExists = errors.New("port-write callback exists")

type queued struct {
	net *Net
	pw  rio.PortWrite
}

// Enqueue queues a port-write received on the master port of n. It never
// blocks; port-writes exceeding the queue size are dropped.
func (h *Handler) Enqueue(n *Net, pw rio.PortWrite) {
	select {
	case h.queue <- queued{net: n, pw: pw}:
	default:
		metrics.CounterInc(metrics.CounterWith(n.Metrics.PortWrites,
			prom.LabelResult, prom.ErrOverflow))
		log.Error("Port-write queue full, dropping", "mport", n.MPort.Index, "pw", pw)
	}
}

// Run handles queued port-writes until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	defer log.HandlePanic()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-h.queue:
			if err := h.HandlePortWrite(ctx, q.net, q.pw); err != nil {
				log.FromCtx(ctx).Error("Port-write handling failed", "mport",
					q.net.MPort.Index, "pw", q.pw, "err", err)
			}
		}
	}
}

// HandlePortWrite handles a port-write received on the master port of n.
// The reporting switch is looked up by its component tag. A port in OK
// state triggers an insert job behind the port, any other state removes the
// device attached to the port.
func (h *Handler) HandlePortWrite(ctx context.Context, n *Net, pw rio.PortWrite) error {
	err := h.handlePortWrite(ctx, n, pw)
	result := fabricmetrics.Result(err)
	if errors.Is(err, errDuplicate) {
		result, err = prom.ErrDuplicate, nil
	}
	if errors.Is(err, ErrUnknownSource) {
		result = prom.ErrNotFound
	}
	metrics.CounterInc(metrics.CounterWith(n.Metrics.PortWrites, prom.LabelResult, result))
	return err
}

var errDuplicate = errors.New("duplicate port-write")

func (h *Handler) handlePortWrite(ctx context.Context, n *Net, pw rio.PortWrite) error {
	if h.duplicate(n, pw) {
		log.FromCtx(ctx).Debug("Dropping duplicate port-write", "pw", pw)
		return errDuplicate
	}
	sw, ok := n.Registry.ByCompTag(pw.CompTag())
	if !ok {
		return serrors.JoinNoStack(ErrUnknownSource, nil, "comptag", pw.CompTag())
	}
	defer n.Registry.Put(sw)
	logger := log.FromCtx(ctx).New("switch", sw.DestID, "port", pw.Port())
	logger.Debug("Port-write received", "pw", pw)

	mt := sw.Maint(n.MPort.Transport)
	if _, err := mt.Read(ctx, rio.DevIDCAR); err != nil {
		return serrors.Wrap("port-write source not accessible", err, "destid", sw.DestID)
	}
	if sw.IsSwitch() {
		if err := h.handlePortEvent(log.CtxWith(ctx, logger), n, sw, pw.Port()); err != nil {
			return err
		}
	}
	h.mu.Lock()
	cb := h.callbacks[sw]
	h.mu.Unlock()
	if cb != nil {
		cb(pw)
	}
	return nil
}

// duplicate reports whether pw repeats the last status reported for its
// port within the dedupe window. A different status replaces the cached one,
// so a port flapping back to a previous state is handled again.
func (h *Handler) duplicate(n *Net, pw rio.PortWrite) bool {
	key := fmt.Sprintf("%d/%d/%d", n.MPort.Index, pw.CompTag(), pw.Port())
	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.dedupe.Get(key); ok && last.(uint32) == pw.ErrStat() {
		return true
	}
	h.dedupe.Set(key, pw.ErrStat(), cache.DefaultExpiration)
	return false
}

func (h *Handler) handlePortEvent(ctx context.Context, n *Net, sw *registry.Device,
	port rio.Port) error {

	logger := log.FromCtx(ctx)
	mt := sw.Maint(n.MPort.Transport)
	st, err := mt.PortErrStat(ctx, sw.EFB, port)
	if err != nil {
		return err
	}
	recovered := st&rio.PortErrStopped != 0
	if recovered {
		if err := h.RecoverPort(ctx, n, sw, port); err != nil {
			logger.Error("Port recovery failed", "err", err)
		}
	}
	if sw.Ops != nil {
		if err := sw.Ops.EMHandle(ctx, mt, port); err != nil {
			logger.Error("Error management hook failed", "err", err)
		}
	}
	if st&rio.PortErrOK != 0 {
		logger.Info("Port up")
		// RecoverPort already realigned the ackIDs of a stopped port.
		if !recovered {
			if err := h.SyncAckIDs(ctx, n, sw, port); err != nil {
				logger.Error("AckID synchronization failed", "err", err)
			}
		}
		return h.Dispatch(ctx, Job{Net: n, Event: EventInsert, Anchor: sw, Port: port})
	}
	logger.Info("Port down", "status", fmt.Sprintf("%#08x", st))
	key := destid.Key{Hop: sw.ChildHop(), ParentPort: port, ParentDestID: sw.DestID}
	e, ok := n.Registry.Table().Lookup(key)
	if !ok {
		return nil
	}
	if e.Flags&(destid.Redundant|destid.Blocked) != 0 {
		return n.Registry.Table().Release(key)
	}
	child, ok := n.Registry.Lookup(e.DestID)
	if !ok || child.Key != key {
		return nil
	}
	return h.Dispatch(ctx, Job{Net: n, Event: EventRemove, Anchor: child})
}

// AddPortWriteCallback registers fn to receive the port-writes sent by d.
// The callback runs after the port-write was handled and is removed with
// the device.
func (h *Handler) AddPortWriteCallback(d *registry.Device, fn func(rio.PortWrite)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.callbacks[d]; ok {
		return serrors.JoinNoStack(ErrCallbackExists, nil, "destid", d.DestID)
	}
	h.callbacks[d] = fn
	return nil
}

// RemovePortWriteCallback removes the callback of d, if any.
func (h *Handler) RemovePortWriteCallback(d *registry.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.callbacks, d)
}
