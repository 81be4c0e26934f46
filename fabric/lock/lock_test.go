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

package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrio/riofab/fabric/internal/fabrictest"
	"github.com/openrio/riofab/fabric/lock"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/xtest"
	"github.com/openrio/riofab/pkg/rio"
	"github.com/openrio/riofab/pkg/rio/mock_rio"
	"github.com/openrio/riofab/pkg/rio/riosim"
)

const anyID = rio.AnyDestID8

func lockValue(t *testing.T, f *riosim.Fabric, name string) uint32 {
	t.Helper()
	v, err := f.Register(name, rio.HostDIDLockCSR)
	require.NoError(t, err)
	return v
}

func managers(t *testing.T) (*riosim.Fabric, *lock.Manager, *lock.Manager) {
	f := fabrictest.Fabric(t, fabrictest.Dual)
	m0 := &lock.Manager{
		Transport: fabrictest.MPort(t, f, "host0"),
		HostID:    0,
		Timeout:   100 * time.Millisecond,
	}
	m1 := &lock.Manager{
		Transport: fabrictest.MPort(t, f, "host1"),
		HostID:    1,
		Timeout:   100 * time.Millisecond,
	}
	return f, m0, m1
}

func TestLockUnlock(t *testing.T) {
	ctx := context.Background()
	f, m0, _ := managers(t)
	acquired := metrics.NewTestCounter()
	m0.Metrics.Acquired = acquired

	require.NoError(t, m0.Lock(ctx, anyID, 0))
	assert.Equal(t, uint32(0), lockValue(t, f, "swA"))
	assert.Equal(t, float64(1), metrics.CounterValue(acquired))

	require.NoError(t, m0.Unlock(ctx, anyID, 0))
	assert.Equal(t, rio.LockFree, lockValue(t, f, "swA"))
}

func TestLockOwned(t *testing.T) {
	ctx := context.Background()
	_, m0, _ := managers(t)
	require.NoError(t, m0.Lock(ctx, anyID, 0))

	err := m0.Lock(ctx, anyID, 0)
	assert.ErrorIs(t, err, lock.ErrOwned)
	assert.ErrorIs(t, err, lock.ErrFault)
	// Wait treats a lock held by this host as success.
	assert.NoError(t, m0.Wait(ctx, anyID, 0, 10*time.Millisecond))
	assert.NoError(t, m0.BusyWait(ctx, anyID, 0, 10*time.Millisecond))
}

func TestLockContention(t *testing.T) {
	ctx := context.Background()
	f, m0, m1 := managers(t)
	timeouts := metrics.NewTestCounter()
	m1.Metrics.Timeouts = timeouts
	require.NoError(t, m0.Lock(ctx, anyID, 0))

	start := time.Now()
	err := m1.Wait(ctx, anyID, 0, 50*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	// The foreign lock must not be touched by the loser.
	assert.Equal(t, uint32(0), lockValue(t, f, "swA"))
	assert.Equal(t, float64(1), metrics.CounterValue(timeouts))

	// Releasing a lock held by another host is a fault.
	assert.ErrorIs(t, m1.Unlock(ctx, anyID, 0), lock.ErrFault)
	assert.Equal(t, uint32(0), lockValue(t, f, "swA"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m1.Wait(ctx, anyID, 0, time.Second))
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, m0.Unlock(ctx, anyID, 0))
	xtest.AssertReadReturnsBefore(t, done, time.Second)
	assert.Equal(t, uint32(1), lockValue(t, f, "swA"))
}

func TestLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	_, m0, m1 := managers(t)
	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for _, m := range []*lock.Manager{m0, m1} {
		wg.Add(1)
		go func(m *lock.Manager) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if !assert.NoError(t, m.Wait(ctx, anyID, 0, 2*time.Second)) {
					return
				}
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				holders--
				mu.Unlock()
				if !assert.NoError(t, m.Unlock(ctx, anyID, 0)) {
					return
				}
			}
		}(m)
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestWaitCond(t *testing.T) {
	ctx := context.Background()
	t.Run("holds lock on success", func(t *testing.T) {
		f, m0, _ := managers(t)
		calls := 0
		err := m0.WaitCond(ctx, anyID, 0, time.Second, func(context.Context) (bool, error) {
			calls++
			// The predicate runs with the lock held.
			assert.Equal(t, uint32(0), lockValue(t, f, "swA"))
			return calls == 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, uint32(0), lockValue(t, f, "swA"))
	})
	t.Run("timeout releases lock", func(t *testing.T) {
		f, m0, _ := managers(t)
		err := m0.WaitCond(ctx, anyID, 0, 50*time.Millisecond,
			func(context.Context) (bool, error) { return false, nil })
		assert.ErrorIs(t, err, lock.ErrTimeout)
		assert.Equal(t, rio.LockFree, lockValue(t, f, "swA"))
	})
	t.Run("predicate error", func(t *testing.T) {
		f, m0, _ := managers(t)
		boom := errors.New("boom")
		err := m0.WaitCond(ctx, anyID, 0, time.Second,
			func(context.Context) (bool, error) { return false, boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, rio.LockFree, lockValue(t, f, "swA"))
	})
	t.Run("local lock", func(t *testing.T) {
		_, m0, _ := managers(t)
		err := m0.WaitCond(ctx, 0, rio.HopLocal, time.Second,
			func(context.Context) (bool, error) { return true, nil })
		assert.NoError(t, err)
	})
}

func TestLockAccessError(t *testing.T) {
	ctx := context.Background()
	f, m0, _ := managers(t)
	require.NoError(t, f.SetFailing("swA", true))
	start := time.Now()
	err := m0.Lock(ctx, anyID, 0)
	assert.ErrorIs(t, err, rio.ErrAccess)
	// Access errors are not retried.
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLockCanceled(t *testing.T) {
	_, m0, m1 := managers(t)
	require.NoError(t, m0.Lock(context.Background(), anyID, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m1.Wait(ctx, anyID, 0, time.Minute)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockLostRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// The register reads free, but another host wins the write.
	tr := mock_rio.NewMockTransport(ctrl)
	tr.EXPECT().ReadConfig(gomock.Any(), anyID, rio.Hop(0), rio.HostDIDLockCSR).
		DoAndReturn(func(context.Context, rio.DestID, rio.Hop, uint32) (uint32, error) {
			return rio.LockFree, nil
		}).AnyTimes()
	tr.EXPECT().WriteConfig(gomock.Any(), anyID, rio.Hop(0), rio.HostDIDLockCSR,
		uint32(3)).AnyTimes()

	m := &lock.Manager{Transport: tr, HostID: 3, Timeout: 30 * time.Millisecond}
	err := m.Lock(context.Background(), anyID, 0)
	assert.ErrorIs(t, err, lock.ErrFault)
	assert.NotErrorIs(t, err, lock.ErrTimeout)
}

func TestPoll(t *testing.T) {
	testCases := map[string]struct {
		Fn        func(calls int) (bool, error)
		AssertErr assert.ErrorAssertionFunc
	}{
		"done": {
			Fn:        func(calls int) (bool, error) { return calls == 3, nil },
			AssertErr: assert.NoError,
		},
		"error": {
			Fn: func(int) (bool, error) { return false, rio.ErrAccess },
			AssertErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, rio.ErrAccess)
			},
		},
		"deadline": {
			Fn: func(int) (bool, error) { return false, nil },
			AssertErr: func(t assert.TestingT, err error, _ ...any) bool {
				return assert.ErrorIs(t, err, lock.ErrTimeout)
			},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			calls := 0
			err := lock.Poll(context.Background(), 50*time.Millisecond, time.Millisecond,
				func() (bool, error) {
					calls++
					return tc.Fn(calls)
				})
			tc.AssertErr(t, err)
		})
	}
}
