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

// Package lock implements the host-device-id lock protocol. Every RapidIO
// device has a lock CSR that holds 0xffff while free. A host acquires the lock
// by writing its host ID and reading it back; it releases the lock by writing
// its ID again. Hosts use the lock to keep concurrent enumerators from
// modifying the same device.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/rio"
)

// Retry intervals of the different wait flavors. The backoff starts at the
// interval and grows up to four times the interval.
const (
	WaitRetryInterval = 10 * time.Millisecond
	BusyWaitInterval  = 50 * time.Millisecond
	CondRetryInterval = 100 * time.Millisecond
)

// DefaultTimeout is used by Lock if the Manager has no timeout configured.
const DefaultTimeout = time.Second

var (
	// ErrTimeout is returned if the lock could not be acquired before the
	// deadline.
	ErrTimeout = errors.New("lock timeout")
	// ErrFault is returned if the lock register does not behave as expected,
	// e.g. it does not read back as free after a release.
	ErrFault = errors.New("lock fault")
	// ErrOwned is returned by Lock if this host already holds the lock.
	ErrOwned = fmt.Errorf("lock already owned: %w", ErrFault)

	errDeadline = errors.New("deadline exceeded")
)

// Metrics are the metrics reported by the Manager. Nil fields are ignored.
type Metrics struct {
	Acquired metrics.Counter
	Timeouts metrics.Counter
	Faults   metrics.Counter
}

// Manager runs the lock protocol for one master port. All protocol attempts
// of a Manager are serialized.
type Manager struct {
	// Transport reaches the devices.
	Transport rio.Transport
	// HostID is the value written to the lock registers.
	HostID rio.DestID
	// Timeout is the deadline used by Lock.
	Timeout time.Duration
	Metrics Metrics

	mu sync.Mutex
}

type state int

const (
	stateAcquired state = iota
	stateOwned
	stateForeign
	stateLost
)

func (m *Manager) maint(destid rio.DestID, hop rio.Hop) rio.Maint {
	return rio.Maint{T: m.Transport, DestID: destid, Hop: hop}
}

func (m *Manager) timeout() time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	return DefaultTimeout
}

// attempt runs one round of the protocol. It never writes to a lock held by
// another host.
func (m *Manager) attempt(ctx context.Context, mt rio.Maint) (state, rio.DestID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := mt.Read(ctx, rio.HostDIDLockCSR)
	if err != nil {
		return 0, 0, err
	}
	holder := rio.DestID(v & 0xffff)
	switch {
	case holder == m.HostID:
		return stateOwned, holder, nil
	case uint32(holder) != rio.LockFree:
		return stateForeign, holder, nil
	}
	if err := mt.Write(ctx, rio.HostDIDLockCSR, uint32(m.HostID)); err != nil {
		return 0, 0, err
	}
	if v, err = mt.Read(ctx, rio.HostDIDLockCSR); err != nil {
		return 0, 0, err
	}
	holder = rio.DestID(v & 0xffff)
	if holder != m.HostID {
		return stateLost, holder, nil
	}
	return stateAcquired, holder, nil
}

// Lock acquires the lock of the device reached with destid and hop. It waits
// for a lock held by another host until the Manager's timeout expires. If this
// host already holds the lock, ErrOwned is returned so that callers can detect
// that they reached an already visited device.
func (m *Manager) Lock(ctx context.Context, destid rio.DestID, hop rio.Hop) error {
	return m.acquire(ctx, destid, hop, m.timeout(), WaitRetryInterval, false)
}

// Wait is like Lock with an explicit timeout, but succeeds if this host
// already holds the lock.
func (m *Manager) Wait(ctx context.Context, destid rio.DestID, hop rio.Hop,
	timeout time.Duration) error {

	return m.acquire(ctx, destid, hop, timeout, WaitRetryInterval, true)
}

// BusyWait is like Wait but polls at the slower busy-wait interval. It is
// used for locks that are expected to be held for a long time.
func (m *Manager) BusyWait(ctx context.Context, destid rio.DestID, hop rio.Hop,
	timeout time.Duration) error {

	return m.acquire(ctx, destid, hop, timeout, BusyWaitInterval, true)
}

func (m *Manager) acquire(ctx context.Context, destid rio.DestID, hop rio.Hop,
	timeout, interval time.Duration, reentrant bool) error {

	mt := m.maint(destid, hop)
	var lastHolder rio.DestID
	var lost bool
	err := poll(ctx, timeout, interval, func() (bool, error) {
		st, holder, err := m.attempt(ctx, mt)
		if err != nil {
			return false, err
		}
		lastHolder = holder
		switch st {
		case stateAcquired:
			return true, nil
		case stateOwned:
			if reentrant {
				return true, nil
			}
			return false, serrors.JoinNoStack(ErrOwned, nil, "destid", destid, "hop", hop)
		case stateLost:
			lost = true
		}
		return false, nil
	})
	switch {
	case err == nil:
		metrics.CounterInc(m.Metrics.Acquired)
		log.FromCtx(ctx).Debug("Acquired device lock", "destid", destid, "hop", hop)
		return nil
	case errors.Is(err, errDeadline) && lost:
		metrics.CounterInc(m.Metrics.Faults)
		return serrors.JoinNoStack(ErrFault, nil, "destid", destid, "hop", hop,
			"holder", lastHolder)
	case errors.Is(err, errDeadline):
		metrics.CounterInc(m.Metrics.Timeouts)
		return serrors.JoinNoStack(ErrTimeout, nil, "destid", destid, "hop", hop,
			"holder", lastHolder, "timeout", timeout)
	default:
		return err
	}
}

// Unlock releases the lock of the device reached with destid and hop. It
// fails with ErrFault if the register does not read back as free.
func (m *Manager) Unlock(ctx context.Context, destid rio.DestID, hop rio.Hop) error {
	mt := m.maint(destid, hop)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := mt.Write(ctx, rio.HostDIDLockCSR, uint32(m.HostID)); err != nil {
		return err
	}
	v, err := mt.Read(ctx, rio.HostDIDLockCSR)
	if err != nil {
		return err
	}
	if v&0xffff != rio.LockFree {
		metrics.CounterInc(m.Metrics.Faults)
		return serrors.JoinNoStack(ErrFault, nil, "destid", destid, "hop", hop,
			"holder", rio.DestID(v&0xffff))
	}
	log.FromCtx(ctx).Debug("Released device lock", "destid", destid, "hop", hop)
	return nil
}

// WaitCond repeatedly acquires the lock and evaluates pred while holding it.
// If pred returns true, WaitCond returns with the lock held. Otherwise the
// lock is released and the attempt is repeated until timeout. A lock already
// held by this host is used without being released.
func (m *Manager) WaitCond(ctx context.Context, destid rio.DestID, hop rio.Hop,
	timeout time.Duration, pred func(context.Context) (bool, error)) error {

	mt := m.maint(destid, hop)
	err := poll(ctx, timeout, CondRetryInterval, func() (bool, error) {
		st, _, err := m.attempt(ctx, mt)
		if err != nil {
			return false, err
		}
		if st != stateAcquired && st != stateOwned {
			return false, nil
		}
		ok, err := pred(ctx)
		if err == nil && ok {
			return true, nil
		}
		if st == stateAcquired {
			if uerr := m.Unlock(ctx, destid, hop); uerr != nil {
				if err != nil {
					return false, serrors.List{err, uerr}
				}
				return false, uerr
			}
		}
		return false, err
	})
	if errors.Is(err, errDeadline) {
		metrics.CounterInc(m.Metrics.Timeouts)
		return serrors.JoinNoStack(ErrTimeout, nil, "destid", destid, "hop", hop,
			"timeout", timeout)
	}
	return err
}

// Poll calls fn until it reports done or fails. Between calls it sleeps with
// exponential backoff starting at interval. It returns ErrTimeout if the
// timeout expires or ctx is done first.
func Poll(ctx context.Context, timeout, interval time.Duration,
	fn func() (bool, error)) error {

	err := poll(ctx, timeout, interval, fn)
	if errors.Is(err, errDeadline) {
		return serrors.JoinNoStack(ErrTimeout, nil, "timeout", timeout)
	}
	return err
}

// poll calls fn until it reports done, fails, the timeout expires or ctx is
// done. Between calls it sleeps with exponential backoff starting at interval.
func poll(ctx context.Context, timeout, interval time.Duration,
	fn func() (bool, error)) error {

	deadline := time.Now().Add(timeout)
	b := &backoff.Backoff{
		Min:    interval,
		Max:    4 * interval,
		Factor: 2,
		Jitter: true,
	}
	for {
		if err := ctx.Err(); err != nil {
			return serrors.JoinNoStack(ErrTimeout, err)
		}
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errDeadline
		}
		d := b.Duration()
		if d > remaining {
			d = remaining
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return serrors.JoinNoStack(ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}
}
