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

// Package destid implements the destid table. The table maps the edge through
// which a device is reached, i.e. the parent destid, the parent port and the
// hop count, to the destid assigned to the device.
//
// In dynamic mode destids are allocated on demand from a monotonic counter
// that wraps around and reuses released IDs. In static mode only the
// preconfigured entries can be used. Preconfigured entries reserve their
// destids in both modes.
package destid

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openrio/riofab/fabric/config"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

var (
	// ErrNoMem indicates that the destid space is exhausted.
	ErrNoMem = errors.New("destid space exhausted")
	// ErrBusy indicates a duplicate entry or an entry that is still pinned.
	ErrBusy = errors.New("destid entry busy")
	// ErrNoDev indicates that no entry exists for the key.
	ErrNoDev = errors.New("no destid entry")
)

// Mode is the allocation mode.
type Mode int

const (
	// Dynamic allocates destids on demand.
	Dynamic Mode = iota
	// Static only hands out preconfigured destids.
	Static
)

// Flags are the per-entry flags.
type Flags uint8

const (
	// LockHW requires the hardware lock before the device is modified.
	LockHW Flags = 1 << iota
	// LUTUpdate allows programming the routing table of the device.
	LUTUpdate
	// OneWay routes traffic to the root through the return port.
	OneWay
	// Legacy marks devices without error management or writable ackIDs.
	Legacy
	// Redundant marks an additional edge to an already known device.
	Redundant
	// Blocked marks an edge that must not be used for routing.
	Blocked
)

var flagNames = []string{"lock_hw", "lut_update", "one_way", "legacy", "redundant", "blocked"}

// Has reports whether all flags in x are set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

func (f Flags) String() string {
	var names []string
	for i, n := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, "|")
}

// Key identifies the edge through which a device is reached.
type Key struct {
	Hop          rio.Hop
	ParentPort   rio.Port
	ParentDestID rio.DestID
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.ParentDestID, k.ParentPort, k.Hop)
}

func (k Key) less(o Key) bool {
	if k.Hop != o.Hop {
		return k.Hop < o.Hop
	}
	if k.ParentDestID != o.ParentDestID {
		return k.ParentDestID < o.ParentDestID
	}
	return k.ParentPort < o.ParentPort
}

// Entry is a destid table entry.
type Entry struct {
	Key        Key
	DestID     rio.DestID
	CompTag    rio.CompTag
	Flags      Flags
	ReturnPort rio.Port
	// Pinned counts the users of the entry. A pinned entry cannot be released.
	Pinned int
	// Routes are static LUT overrides of the device.
	Routes map[rio.DestID]rio.Port
	// Configured marks preconfigured entries.
	Configured bool

	inUse  bool
	config *Entry
}

// Config configures a Table.
type Config struct {
	Mode Mode
	// Large selects the 16-bit destid space.
	Large bool
	// HostID is never handed out.
	HostID rio.DestID
	// Defaults are the flags of dynamically allocated entries.
	Defaults Flags
	// Static are the preconfigured entries.
	Static []Entry
}

// Table is the destid table of one network. It is safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	mode     Mode
	large    bool
	host     rio.DestID
	defaults Flags
	entries  map[Key]*Entry
	byID     map[rio.DestID]*Entry
	reserved map[rio.DestID]bool
	next     rio.DestID
}

// New creates a table. Preconfigured entries are validated for duplicate
// keys and destids.
func New(cfg Config) (*Table, error) {
	t := &Table{
		mode:     cfg.Mode,
		large:    cfg.Large,
		host:     cfg.HostID,
		defaults: cfg.Defaults,
		entries:  make(map[Key]*Entry),
		byID:     make(map[rio.DestID]*Entry),
		reserved: make(map[rio.DestID]bool),
	}
	for _, s := range cfg.Static {
		if _, ok := t.entries[s.Key]; ok {
			return nil, serrors.JoinNoStack(ErrBusy, nil, "key", s.Key)
		}
		if t.reserved[s.DestID] || !t.valid(s.DestID) {
			return nil, serrors.New("invalid static destid", "key", s.Key, "destid", s.DestID)
		}
		c := s
		c.Configured = true
		c.Pinned = 0
		e := c
		e.config = &c
		t.entries[s.Key] = &e
		t.reserved[s.DestID] = true
	}
	return t, nil
}

// NewFromConfig creates a table from the destid section of the configuration.
func NewFromConfig(cfg config.DestID, large bool, host rio.DestID) (*Table, error) {
	c := Config{Large: large, HostID: host}
	if cfg.Mode == config.ModeStatic {
		c.Mode = Static
	}
	if cfg.LockHW == nil || *cfg.LockHW {
		c.Defaults |= LockHW
	}
	if cfg.LUTUpdate == nil || *cfg.LUTUpdate {
		c.Defaults |= LUTUpdate
	}
	for _, s := range cfg.Static {
		e := Entry{
			Key: Key{
				Hop:          rio.Hop(s.Hop),
				ParentPort:   rio.Port(s.ParentPort),
				ParentDestID: rio.DestID(s.ParentDestID),
			},
			DestID:     rio.DestID(s.DestID),
			CompTag:    rio.CompTag(s.CompTag),
			ReturnPort: rio.InvalidRoute,
		}
		if s.LockHW {
			e.Flags |= LockHW
		}
		if s.LUTUpdate {
			e.Flags |= LUTUpdate
		}
		if s.OneWay {
			e.Flags |= OneWay
		}
		if s.Legacy {
			e.Flags |= Legacy
		}
		if s.ReturnPort != nil {
			e.ReturnPort = rio.Port(*s.ReturnPort)
		}
		if len(s.Routes) > 0 {
			e.Routes = make(map[rio.DestID]rio.Port, len(s.Routes))
			for _, r := range s.Routes {
				e.Routes[rio.DestID(r.DestID)] = rio.Port(r.Port)
			}
		}
		c.Static = append(c.Static, e)
	}
	return New(c)
}

func (t *Table) valid(id rio.DestID) bool {
	return id != t.host && id != rio.AnyDestID(t.large) && int(id) < rio.MaxDestIDs(t.large)
}

// GetOrAssign returns the entry for key. If no entry is in use for key, a
// preconfigured entry is activated or, in dynamic mode, a new destid is
// allocated.
func (t *Table) GetOrAssign(key Key) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		if !e.inUse {
			e.inUse = true
			t.byID[e.DestID] = e
		}
		return e.copy(), nil
	}
	if t.mode == Static {
		return Entry{}, serrors.JoinNoStack(ErrNoDev, nil, "key", key)
	}
	id, err := t.allocLocked()
	if err != nil {
		return Entry{}, serrors.JoinNoStack(err, nil, "key", key)
	}
	e := &Entry{
		Key:        key,
		DestID:     id,
		Flags:      t.defaults,
		ReturnPort: rio.InvalidRoute,
		inUse:      true,
	}
	t.entries[key] = e
	t.byID[id] = e
	return e.copy(), nil
}

func (t *Table) allocLocked() (rio.DestID, error) {
	n := rio.MaxDestIDs(t.large)
	for i := 0; i < n; i++ {
		id := t.next
		t.next = rio.DestID((int(t.next) + 1) % n)
		if !t.valid(id) || t.reserved[id] {
			continue
		}
		if _, ok := t.byID[id]; ok {
			continue
		}
		return id, nil
	}
	return 0, ErrNoMem
}

// Add inserts an entry for key. Entries flagged Redundant or Blocked may
// share the destid of another entry; all others must be unique.
func (t *Table) Add(key Key, id rio.DestID, tag rio.CompTag, flags Flags,
	returnPort rio.Port) error {

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if ok && (e.inUse || e.DestID != id) {
		return serrors.JoinNoStack(ErrBusy, nil, "key", key, "destid", id)
	}
	shared := flags&(Redundant|Blocked) != 0
	if !shared {
		if _, ok := t.byID[id]; ok {
			return serrors.JoinNoStack(ErrBusy, nil, "key", key, "destid", id)
		}
	}
	if !ok {
		e = &Entry{Key: key, DestID: id}
		t.entries[key] = e
	}
	e.CompTag = tag
	e.Flags = flags
	e.ReturnPort = returnPort
	e.inUse = true
	if !shared {
		t.byID[id] = e
	}
	return nil
}

// SetCompTag records the component tag assigned to the device of key.
func (t *Table) SetCompTag(key Key, tag rio.CompTag) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || !e.inUse {
		return serrors.JoinNoStack(ErrNoDev, nil, "key", key)
	}
	e.CompTag = tag
	return nil
}

// Lookup returns the entry in use for key.
func (t *Table) Lookup(key Key) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok || !e.inUse {
		return Entry{}, false
	}
	return e.copy(), true
}

// ByDestID returns the primary entry of id. Redundant edges are not indexed.
func (t *Table) ByDestID(id rio.DestID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

// Pin increments the pin count of the entry of key.
func (t *Table) Pin(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || !e.inUse {
		return serrors.JoinNoStack(ErrNoDev, nil, "key", key)
	}
	e.Pinned++
	return nil
}

// Unpin decrements the pin count of the entry of key.
func (t *Table) Unpin(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || !e.inUse {
		return serrors.JoinNoStack(ErrNoDev, nil, "key", key)
	}
	if e.Pinned == 0 {
		return serrors.New("unpinning unpinned entry", "key", key)
	}
	e.Pinned--
	return nil
}

// Release frees the entry of key. Preconfigured entries return to their
// configured state instead of being deleted.
func (t *Table) Release(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || !e.inUse {
		return serrors.JoinNoStack(ErrNoDev, nil, "key", key)
	}
	if e.Pinned > 0 {
		return serrors.JoinNoStack(ErrBusy, nil, "key", key, "pinned", e.Pinned)
	}
	if t.byID[e.DestID] == e {
		delete(t.byID, e.DestID)
	}
	if e.config != nil {
		c := *e.config
		c.config = e.config
		*e = c
		return nil
	}
	delete(t.entries, key)
	return nil
}

// StaticRoute returns the configured egress port for id on the switch sw.
func (t *Table) StaticRoute(sw, id rio.DestID) (rio.Port, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.DestID != sw || e.Flags&(Redundant|Blocked) != 0 {
			continue
		}
		p, ok := e.Routes[id]
		return p, ok
	}
	return 0, false
}

// Snapshot returns a copy of all entries in use sorted by key.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.inUse {
			entries = append(entries, e.copy())
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key.less(entries[j].Key) })
	return entries
}

// Len returns the number of entries in use.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.inUse {
			n++
		}
	}
	return n
}

func (e *Entry) copy() Entry {
	c := *e
	c.inUse = false
	c.config = nil
	return c
}
