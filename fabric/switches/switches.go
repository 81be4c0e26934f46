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

// Package switches contains the switch capability registry. It maps the
// vendor and device identity of a switch to the operations used to program
// its routing table and error management.
package switches

import (
	"context"
	"errors"
	"sync"

	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// AnyDevice matches every device of a vendor.
const AnyDevice uint16 = 0xffff

// ErrNoOps is returned if no operations are registered for a switch.
var ErrNoOps = errors.New("no switch operations")

// Ops are the switch specific operations. All operations access the switch
// through m.
type Ops interface {
	// AddRoute routes destid to port.
	AddRoute(ctx context.Context, m rio.Maint, destid rio.DestID, port rio.Port) error
	// GetRoute returns the port destid is routed to.
	GetRoute(ctx context.Context, m rio.Maint, destid rio.DestID) (rio.Port, error)
	// ClearTable sets every route to rio.InvalidRoute.
	ClearTable(ctx context.Context, m rio.Maint, large bool) error
	// EMInit directs the port-writes of the switch to host.
	EMInit(ctx context.Context, m rio.Maint, host rio.DestID) error
	// EMHandle acknowledges a port event on port.
	EMHandle(ctx context.Context, m rio.Maint, port rio.Port) error
}

type ident struct {
	vendor, device uint16
}

// Registry maps switch identities to operations.
type Registry struct {
	mu  sync.RWMutex
	ops map[ident]Ops
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[ident]Ops)}
}

// Default returns a registry with the vendor specific operations of all
// supported switches.
func Default() *Registry {
	r := NewRegistry()
	r.Register(rio.VendorIDT, AnyDevice, IDTCPS{})
	return r
}

// Register registers ops for the switch identity. Use AnyDevice to match all
// devices of the vendor.
func (r *Registry) Register(vendor, device uint16, ops Ops) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[ident{vendor: vendor, device: device}] = ops
}

// Lookup returns the operations of a switch. Exact matches take precedence
// over vendor matches. Switches without a vendor entry that support standard
// routing use Standard.
func (r *Registry) Lookup(vendor, device uint16, pef uint32) (Ops, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ops, ok := r.ops[ident{vendor: vendor, device: device}]; ok {
		return ops, nil
	}
	if ops, ok := r.ops[ident{vendor: vendor, device: AnyDevice}]; ok {
		return ops, nil
	}
	if pef&rio.PEFStdRoute != 0 {
		return Standard{}, nil
	}
	return nil, serrors.JoinNoStack(ErrNoOps, nil, "vendor", vendor, "device", device)
}
