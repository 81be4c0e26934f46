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

// Package network allocates network identifiers. Every master port that
// brings up a fabric gets a network with a small index and a UUID. The network
// is pinned by every registered device and released once it is empty.
package network

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/openrio/riofab/pkg/private/serrors"
)

var (
	// ErrBusy is returned when releasing a network that is still pinned.
	ErrBusy = errors.New("network busy")
	// ErrUnknown is returned for networks not handed out by the allocator.
	ErrUnknown = errors.New("unknown network")
)

// Network identifies one fabric instance.
type Network struct {
	Index int
	ID    uuid.UUID
	MPort int

	alloc *Allocator
	pins  int
}

func (n *Network) String() string {
	return fmt.Sprintf("rio%d(%s)", n.Index, n.ID)
}

// Pin increments the pin count.
func (n *Network) Pin() {
	n.alloc.mu.Lock()
	defer n.alloc.mu.Unlock()
	n.pins++
}

// Unpin decrements the pin count and reports whether the network is no
// longer pinned.
func (n *Network) Unpin() bool {
	n.alloc.mu.Lock()
	defer n.alloc.mu.Unlock()
	if n.pins > 0 {
		n.pins--
	}
	return n.pins == 0
}

// Pins returns the pin count.
func (n *Network) Pins() int {
	n.alloc.mu.Lock()
	defer n.alloc.mu.Unlock()
	return n.pins
}

// Allocator hands out networks. The zero value is not usable; use
// NewAllocator.
type Allocator struct {
	mu   sync.Mutex
	nets map[int]*Network
}

// NewAllocator creates an allocator.
func NewAllocator() *Allocator {
	return &Allocator{nets: make(map[int]*Network)}
}

// Allocate returns a new network for the master port with the lowest free
// index.
func (a *Allocator) Allocate(mport int) *Network {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := 0
	for ; ; idx++ {
		if _, ok := a.nets[idx]; !ok {
			break
		}
	}
	n := &Network{Index: idx, ID: uuid.New(), MPort: mport, alloc: a}
	a.nets[idx] = n
	return n
}

// Release frees the index of n. It fails while n is pinned.
func (a *Allocator) Release(n *Network) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.nets[n.Index]; !ok || cur != n {
		return serrors.JoinNoStack(ErrUnknown, nil, "network", n.Index)
	}
	if n.pins > 0 {
		return serrors.JoinNoStack(ErrBusy, nil, "network", n.Index, "pins", n.pins)
	}
	delete(a.nets, n.Index)
	return nil
}

// Networks returns the allocated networks sorted by index.
func (a *Allocator) Networks() []*Network {
	a.mu.Lock()
	defer a.mu.Unlock()
	nets := make([]*Network, 0, len(a.nets))
	for _, n := range a.nets {
		nets = append(nets, n)
	}
	sort.Slice(nets, func(i, j int) bool { return nets[i].Index < nets[j].Index })
	return nets
}
